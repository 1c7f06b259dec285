package hario

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/spf13/afero"

	"github.com/kmllr/harcap/pkg/har"
)

// StreamWriter writes a HAR document incrementally: the static header
// and the opening of the entries array at open time, one entry per
// WriteEntry, pages and the closing structure at Close. The destination
// file handle is owned exclusively by the writer until Close returns.
type StreamWriter struct {
	mu      sync.Mutex
	file    afero.File
	path    string
	entries int
	closed  bool
}

// OpenStream creates (or truncates) path and writes the document header
// up to the opening bracket of the entries array.
func OpenStream(fs afero.Fs, path string, creator har.Creator) (*StreamWriter, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, &SerializationError{Op: "stream open", Path: path, Err: err}
	}
	w := &StreamWriter{file: f, path: path}
	header, err := json.Marshal(creator)
	if err == nil {
		_, err = f.WriteString(`{"log":{"version":"` + har.Version + `","creator":` + string(header) + `,"entries":[`)
	}
	if err != nil {
		_ = f.Close()
		return nil, &SerializationError{Op: "stream open", Path: path, Err: err}
	}
	return w, nil
}

// Path returns the destination the writer was opened on.
func (w *StreamWriter) Path() string { return w.path }

// WriteEntry appends one completed entry to the entries array.
func (w *StreamWriter) WriteEntry(e *har.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return &SerializationError{Op: "stream write", Path: w.path, Err: errors.New("writer already closed")}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return &SerializationError{Op: "stream write", Path: w.path, Err: err}
	}
	if w.entries > 0 {
		data = append([]byte{','}, data...)
	}
	if _, err := w.file.Write(data); err != nil {
		return &SerializationError{Op: "stream write", Path: w.path, Err: err}
	}
	w.entries++
	return nil
}

// Close terminates the entries array, writes the pages array and any
// custom extension data, and closes the document and the file. Closing
// an already-closed writer is a no-op.
func (w *StreamWriter) Close(pages []har.Page, custom map[string]json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if pages == nil {
		pages = make([]har.Page, 0)
	}
	pageData, err := json.Marshal(pages)
	if err == nil {
		_, err = w.file.WriteString(`],"pages":` + string(pageData))
	}
	if err == nil && len(custom) > 0 {
		var customData []byte
		customData, err = json.Marshal(custom)
		if err == nil {
			_, err = w.file.WriteString(`,"_custom":` + string(customData))
		}
	}
	if err == nil {
		_, err = w.file.WriteString(`}}`)
	}

	closeErr := w.file.Close()
	if err != nil {
		return &SerializationError{Op: "stream close", Path: w.path, Err: err}
	}
	if closeErr != nil {
		return &SerializationError{Op: "stream close", Path: w.path, Err: closeErr}
	}
	return nil
}
