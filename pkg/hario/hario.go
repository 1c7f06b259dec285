// Package hario persists HAR documents: whole-document save/load plus
// an incremental stream writer that appends entries as they complete.
package hario

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"

	"github.com/kmllr/harcap/pkg/har"
)

// SerializationError wraps a failed read or write against a HAR file.
type SerializationError struct {
	Op   string
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("har %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Save serializes the whole document to path in one pass.
func Save(fs afero.Fs, path string, doc *har.HAR) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &SerializationError{Op: "save", Path: path, Err: err}
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return &SerializationError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Load reads a document back. Load(Save(doc)) is structurally
// equivalent to doc, timezone offsets included.
func Load(fs afero.Fs, path string) (*har.HAR, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, &SerializationError{Op: "load", Path: path, Err: err}
	}
	var doc har.HAR
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &SerializationError{Op: "load", Path: path, Err: err}
	}
	return &doc, nil
}
