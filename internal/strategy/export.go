package strategy

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExportYAML renders a strategy for download.
func ExportYAML(s *AnalysisStrategy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode strategy yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode strategy yaml: %w", err)
	}
	return buf.Bytes(), nil
}
