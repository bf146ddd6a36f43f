package events

import "time"

// Every raker subject lives under one root so a single stream captures the
// whole event space.
const (
	subjectRoot = "survey"

	SubjectRunRequest = subjectRoot + ".run.request"
	SubjectStats      = subjectRoot + ".raker.stats"

	StreamName   = "RAKER_EVENTS"
	StreamMaxAge = 30 * 24 * time.Hour
)

// StreamSubjects returns the subject space the events stream retains.
func StreamSubjects() []string {
	return []string{subjectRoot + ".run.>", subjectRoot + ".raker.>"}
}

// runSubject builds the per-run lifecycle subject for one event kind.
func runSubject(runID, event string) string {
	return subjectRoot + ".run." + runID + "." + event
}

func SubjectRunCreated(runID string) string   { return runSubject(runID, "created") }
func SubjectRunStarted(runID string) string   { return runSubject(runID, "started") }
func SubjectRunCompleted(runID string) string { return runSubject(runID, "completed") }
func SubjectRunFailed(runID string) string    { return runSubject(runID, "failed") }
func SubjectRunCancelled(runID string) string { return runSubject(runID, "cancelled") }
func SubjectRunStale(runID string) string     { return runSubject(runID, "stale") }
