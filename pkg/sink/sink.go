// Package sink persists the match of a search session.
package sink

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/screa/keysearch/pkg/types"
)

// Sink persists a match. The coordinator calls Persist at most once per session.
type Sink interface {
	Persist(m *types.MatchResult) error
}

// IOFailure reports that a match could not be written to durable storage
type IOFailure struct {
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("failed to persist match to %s: %v", e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}

// FileSink appends a human readable record to a checkpoint file.
// The file is replaced atomically, so a crash mid-write leaves either the
// previous content or the complete new content.
type FileSink struct {
	Path string
}

// NewFileSink creates a sink writing to path
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

// Persist implements Sink
func (s *FileSink) Persist(m *types.MatchResult) error {
	existing, err := os.ReadFile(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOFailure{Path: s.Path, Err: err}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n\n")) {
		buf.WriteString("\n")
	}
	buf.WriteString(FormatRecord(m))

	if err := writeAtomic(s.Path, buf.Bytes()); err != nil {
		return &IOFailure{Path: s.Path, Err: err}
	}
	return nil
}

// FormatRecord renders a match as a checkpoint record
func FormatRecord(m *types.MatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found at: %s\n", m.Found.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Private Key (hex): 0x%064x\n", m.Candidate.ToBig())
	fmt.Fprintf(&b, "Private Key (decimal): %s\n", m.Candidate.Dec())
	if m.WIF != "" {
		fmt.Fprintf(&b, "WIF: %s\n", m.WIF)
	}
	fmt.Fprintf(&b, "Compressed Address: %s\n", m.Compressed)
	fmt.Fprintf(&b, "Uncompressed Address: %s\n", m.Uncompressed)
	fmt.Fprintf(&b, "Matched Target: %s\n", m.Target)
	b.WriteString("\n")
	return b.String()
}

// CountRecords returns the number of records in checkpoint content
func CountRecords(content []byte) int {
	return bytes.Count(content, []byte("Found at: "))
}

// Multi fans a match out to several sinks. Every sink is tried; the
// failures are joined.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (ms multiSink) Persist(m *types.MatchResult) error {
	var errs []error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Persist(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
