package migration

import (
	"bytes"
	"testing"
	"time"

	"github.com/tis24dev/confmigrate/internal/crypt"
)

func TestClosedEntryRejectsWrites(t *testing.T) {
	var buf bytes.Buffer
	a, err := newArchiveWriter(&buf, crypt.None())
	if err != nil {
		t.Fatalf("newArchiveWriter: %v", err)
	}
	first, err := a.open("c/first", 0o644, time.Now())
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := a.open("c/second", 0o644, time.Now()); err != nil {
		t.Fatalf("open second: %v", err)
	}
	_, err = first.Write([]byte("late"))
	if err == nil || IsStreamError(err) {
		t.Fatalf("write to closed entry = %v, want an entry error", err)
	}
	if a.failed() != nil {
		t.Fatalf("archive marked failed: %v", a.failed())
	}
	if err := a.close(&Metadata{}); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSinkFailureIsSticky(t *testing.T) {
	a, err := newArchiveWriter(&brokenSink{}, crypt.None())
	if err != nil {
		t.Fatalf("newArchiveWriter: %v", err)
	}
	w, err := a.open("c/data", 0o644, time.Now())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatalf("buffered write: %v", err)
	}
	if err := a.close(&Metadata{}); !IsStreamError(err) {
		t.Fatalf("close = %v, want a stream failure", err)
	}
	if !IsStreamError(a.failed()) {
		t.Fatalf("failure not kept: %v", a.failed())
	}
	if _, err := a.open("c/next", 0o644, time.Now()); !IsStreamError(err) {
		t.Fatalf("open after failure = %v", err)
	}
}
