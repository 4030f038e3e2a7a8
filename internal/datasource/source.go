// Package datasource resolves trust-material bytes from either inline
// configuration or a file path.
package datasource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrEmpty indicates a source with no origin configured.
var ErrEmpty = errors.New("data source has no inline bytes, inline string, or filename")

// Source selects exactly one origin for a blob of configuration data.
// At most one field may be set.
type Source struct {
	Filename     string `yaml:"filename,omitempty"`
	InlineBytes  []byte `yaml:"inline_bytes,omitempty"`
	InlineString string `yaml:"inline_string,omitempty"`
}

// Read resolves the source into its bytes.
func (s Source) Read() ([]byte, error) {
	switch {
	case s.Filename != "":
		data, err := os.ReadFile(filepath.Clean(s.Filename))
		if err != nil {
			return nil, fmt.Errorf("reading data source file: %w", err)
		}
		return data, nil
	case len(s.InlineBytes) > 0:
		return s.InlineBytes, nil
	case s.InlineString != "":
		return []byte(s.InlineString), nil
	default:
		return nil, ErrEmpty
	}
}

// Describe returns a human-readable provenance string: the filename for
// file-backed sources, "<inline>" otherwise.
func (s Source) Describe() string {
	if s.Filename != "" {
		return s.Filename
	}
	return "<inline>"
}
