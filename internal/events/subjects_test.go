package events

import (
	"strings"
	"testing"
)

func TestRunSubjects(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"created", SubjectRunCreated("abc"), "survey.run.abc.created"},
		{"started", SubjectRunStarted("abc"), "survey.run.abc.started"},
		{"completed", SubjectRunCompleted("abc"), "survey.run.abc.completed"},
		{"failed", SubjectRunFailed("abc"), "survey.run.abc.failed"},
		{"cancelled", SubjectRunCancelled("abc"), "survey.run.abc.cancelled"},
		{"stale", SubjectRunStale("abc"), "survey.run.abc.stale"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s subject = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestStreamCoversAllSubjects(t *testing.T) {
	subjects := []string{
		SubjectRunRequest,
		SubjectStats,
		SubjectRunCreated("abc"),
		SubjectRunCompleted("abc"),
	}
	for _, s := range subjects {
		covered := false
		for _, pattern := range StreamSubjects() {
			if strings.HasPrefix(s, strings.TrimSuffix(pattern, ">")) {
				covered = true
				break
			}
		}
		if !covered {
			t.Errorf("subject %q is outside the stream's subject space %v", s, StreamSubjects())
		}
	}
}
