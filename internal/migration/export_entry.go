package migration

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/tis24dev/confmigrate/internal/crypt"
)

// exportEntry stores one file or directory of a component.
type exportEntry struct {
	ctx      *exportContext
	name     string
	path     string
	absolute bool
	outcome  Outcome
	writer   *lazyWriter
}

func (e *exportEntry) ID() string   { return e.ctx.id }
func (e *exportEntry) Name() string { return e.name }
func (e *exportEntry) Path() string { return e.path }

func (e *exportEntry) Store(required bool) bool {
	return e.StoreFiltered(required, nil)
}

func (e *exportEntry) StoreFiltered(required bool, filter Filter) bool {
	return once(&e.outcome, func() bool {
		if e.ctx.aborted() {
			return false
		}
		return e.store(required, filter)
	})
}

func (e *exportEntry) store(required bool, filter Filter) bool {
	r := e.ctx.report
	info, err := os.Lstat(e.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.RecordError(NewError(e.name, err, "cannot access [%s]", e.name))
			return false
		}
		if required {
			r.RecordError(NewError(e.name, nil, "file [%s] does not exist", e.name))
			return false
		}
		e.ctx.logger.Debug("Optional file [%s] does not exist; recorded as external", e.name)
		e.ctx.addExternal(ExternalMetadata{Name: e.name, Optional: true})
		return true
	}
	if reason := e.externalReason(info); reason != "" {
		return e.storeExternal(info, required, reason)
	}
	if info.IsDir() {
		return e.storeDirectory(info, filter)
	}
	if !info.Mode().IsRegular() {
		r.RecordError(NewError(e.name, nil, "[%s] is not a regular file", e.name))
		return false
	}
	return e.storeFile(info)
}

// externalReason explains why the entry cannot be embedded, or returns "".
func (e *exportEntry) externalReason(info fs.FileInfo) string {
	switch {
	case e.absolute:
		return "is outside [" + e.ctx.paths.Home() + "]"
	case info.Mode()&os.ModeSymlink != 0:
		return "is a symbolic link"
	case !e.ctx.paths.IsUnderHome(e.path):
		return "resolves outside [" + e.ctx.paths.Home() + "]"
	}
	return ""
}

func (e *exportEntry) storeExternal(info fs.FileInfo, required bool, reason string) bool {
	r := e.ctx.report
	ext := ExternalMetadata{
		Name:     e.name,
		Softlink: info.Mode()&os.ModeSymlink != 0,
		Optional: !required,
	}
	target, err := os.Stat(e.path)
	if err != nil {
		r.RecordError(NewError(e.name, err, "cannot access the target of [%s]", e.name))
		return false
	}
	if target.Mode().IsRegular() {
		sum, err := crypt.Checksum(e.path)
		if err != nil {
			r.RecordError(NewError(e.name, err, "failed to compute the checksum of [%s]", e.name))
			return false
		}
		ext.Checksum = sum
		ext.Size = target.Size()
	}
	e.ctx.addExternal(ext)
	r.RecordWarning("path [%s] %s; it is not included in the export and must be copied manually to the destination system", e.name, reason)
	return true
}

func (e *exportEntry) storeFile(info fs.FileInfo) bool {
	r := e.ctx.report
	f, err := os.Open(e.path)
	if err != nil {
		r.RecordError(NewError(e.name, err, "failed to read [%s]", e.name))
		return false
	}
	defer f.Close()

	sp, err := spool(func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	})
	if err != nil {
		r.RecordError(NewError(e.name, err, "failed to read [%s]", e.name))
		return false
	}
	defer sp.discard()

	w, err := e.ctx.openEntry(e.name, info.Mode().Perm(), info.ModTime())
	if err != nil {
		e.ctx.abort(e.name, err)
		return false
	}
	if err := sp.copyTo(w); err != nil {
		e.fail(err)
		return false
	}
	e.ctx.files++
	return true
}

// fail records err against the entry, or aborts the export when the
// archive stream itself broke.
func (e *exportEntry) fail(err error) {
	if IsStreamError(err) {
		e.ctx.abort(e.name, err)
		return
	}
	e.ctx.report.RecordError(NewError(e.name, err, "failed to export [%s]", e.name))
}

func (e *exportEntry) storeDirectory(info fs.FileInfo, filter Filter) bool {
	children := e.ctx.walk(e.name, e.path, filter)
	ok := true
	files := make([]string, 0, len(children))
	for _, child := range children {
		if !child.Store(true) {
			ok = false
		}
		if e.ctx.aborted() {
			return false
		}
		files = append(files, child.name)
	}
	e.ctx.addFolder(FolderMetadata{
		Name:         e.name,
		Filtered:     filter != nil,
		Files:        files,
		LastModified: info.ModTime().UnixMilli(),
	})
	return ok
}

// StoreWith runs fn against a spool file and adds the entry only when fn
// succeeds, so a failing fn never leaves partial content in the archive.
func (e *exportEntry) StoreWith(fn func(r *Report, w io.Writer) error) bool {
	return once(&e.outcome, func() bool {
		if e.ctx.aborted() {
			return false
		}
		r := e.ctx.report
		if e.absolute {
			r.RecordError(NewError(e.name, nil, "cannot store [%s] outside [%s]", e.name, e.ctx.paths.Home()))
			return false
		}
		sp, err := spool(func(w io.Writer) error { return fn(r, w) })
		if err != nil {
			r.RecordError(NewError(e.name, err, "failed to export [%s]", e.name))
			return false
		}
		defer sp.discard()

		w, err := e.ctx.openEntry(e.name, 0o644, time.Now())
		if err != nil {
			e.ctx.abort(e.name, err)
			return false
		}
		if err := sp.copyTo(w); err != nil {
			e.fail(err)
			return false
		}
		e.ctx.files++
		return true
	})
}

// Writer streams straight into the archive entry, which is created on the
// first write or when the component finishes.
func (e *exportEntry) Writer() (io.Writer, error) {
	if e.absolute {
		return nil, NewError(e.name, nil, "cannot store [%s] outside [%s]", e.name, e.ctx.paths.Home())
	}
	if e.outcome == OutcomeFailed {
		return nil, NewError(e.name, nil, "[%s] already failed to export", e.name)
	}
	if e.writer == nil {
		e.outcome = OutcomeSucceeded
		e.ctx.files++
		e.ctx.writers = append(e.ctx.writers, e.lazy())
	}
	return e.writer, nil
}

func (e *exportEntry) lazy() *lazyWriter {
	if e.writer == nil {
		e.writer = &lazyWriter{
			open: func() (io.Writer, error) {
				return e.ctx.openEntry(e.name, 0o644, time.Now())
			},
			onError: func(err error) {
				e.outcome = OutcomeFailed
				e.fail(err)
			},
		}
	}
	return e.writer
}

// spoolFile holds entry content until it is known to be complete.
type spoolFile struct {
	f *os.File
}

func spool(fill func(io.Writer) error) (*spoolFile, error) {
	f, err := os.CreateTemp("", "confmigrate-entry-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	sp := &spoolFile{f: f}
	if err := fill(f); err != nil {
		sp.discard()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		sp.discard()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return sp, nil
}

// copyTo copies the spooled content into w. Write failures come back as
// returned by w.
func (s *spoolFile) copyTo(w io.Writer) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := s.f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read spool file: %w", rerr)
		}
	}
}

func (s *spoolFile) discard() {
	s.f.Close()
	os.Remove(s.f.Name())
}

func (e *exportEntry) PropertyReferencedEntry(name string, validator Validator) (ExportEntry, bool) {
	return e.ctx.JavaPropertyReferencedEntry(e.name, name, validator)
}
