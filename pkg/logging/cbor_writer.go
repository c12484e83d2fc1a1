package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// CBORWriter writes structured events as length-delimited CBOR records
// to a file. It implements Sink and is safe for concurrent use. CBOR is
// offered alongside JSONLWriter for callers that replay event logs
// through tooling that prefers a compact binary framing over text.
type CBORWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *cbor.Encoder
}

// NewCBORWriter creates a CBOR writer that appends to the given file
// path. The parent directory must already exist; the file is created
// if it does not exist.
func NewCBORWriter(path string) (*CBORWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateLogFile, err)
	}
	return &CBORWriter{
		file: f,
		enc:  cbor.NewEncoder(f),
	}, nil
}

// Write encodes the event as a single CBOR item. cbor.Encoder frames
// each call so a reader can Decode events back one at a time.
func (w *CBORWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(event); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteEvent, err)
	}
	return nil
}

// Close syncs and closes the underlying file.
func (w *CBORWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.file.Sync()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrCloseWriter, err)
	}
	return nil
}
