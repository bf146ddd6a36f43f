package ingest

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// targetsFile is the on-disk shape of a targets document.
type targetsFile struct {
	Variables map[string]map[string]float64 `yaml:"variables"`
}

// ReadTargetsYAML parses a targets document of the form
//
//	variables:
//	  gender:
//	    male: 0.49
//	    female: 0.51
func ReadTargetsYAML(r io.Reader) (map[string]map[string]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc targetsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	if len(doc.Variables) == 0 {
		return nil, fmt.Errorf("targets document has no variables")
	}
	return doc.Variables, nil
}

// LoadTargetsFile reads a targets YAML document from disk.
func LoadTargetsFile(path string) (map[string]map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTargetsYAML(f)
}

// WriteTargetsYAML writes targets in the same shape ReadTargetsYAML accepts.
func WriteTargetsYAML(w io.Writer, targets map[string]map[string]float64) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(targetsFile{Variables: targets})
}
