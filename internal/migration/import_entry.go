package migration

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/safefs"
)

// importFileEntry restores a file embedded in the archive.
type importFileEntry struct {
	ctx     *importContext
	name    string
	path    string
	file    *zip.File
	outcome Outcome
}

func (e *importFileEntry) ID() string   { return e.ctx.id }
func (e *importFileEntry) Name() string { return e.name }
func (e *importFileEntry) Path() string { return e.path }

func (e *importFileEntry) Restore(required bool) bool {
	return once(&e.outcome, func() bool {
		r := e.ctx.report
		rc, err := e.ctx.archive.openFile(e.file)
		if err != nil {
			r.RecordError(NewError(e.name, err, "failed to read [%s] from the archive", e.name))
			return false
		}
		defer rc.Close()
		perm := e.file.Mode().Perm()
		if perm == 0 {
			perm = 0o644
		}
		if err := safefs.WriteAtomic(e.path, rc, perm, e.file.Modified); err != nil {
			r.RecordError(NewError(e.name, err, "failed to restore [%s]", e.name))
			return false
		}
		e.ctx.restored++
		return true
	})
}

func (e *importFileEntry) RestoreWith(fn func(r *Report, rd io.Reader) error) bool {
	return once(&e.outcome, func() bool {
		r := e.ctx.report
		rc, err := e.ctx.archive.openFile(e.file)
		if err != nil {
			r.RecordError(NewError(e.name, err, "failed to read [%s] from the archive", e.name))
			return false
		}
		defer rc.Close()
		if err := fn(r, rc); err != nil {
			r.RecordError(NewError(e.name, err, "failed to import [%s]", e.name))
			return false
		}
		e.ctx.restored++
		return true
	})
}

func (e *importFileEntry) PropertyReferencedEntry(name string) (ImportEntry, bool) {
	return e.ctx.JavaPropertyReferencedEntry(e.name, name)
}

// importDirEntry restores the files listed for a directory. Unless the
// directory was exported through a filter, files that were not exported
// are removed so the tree matches the original.
type importDirEntry struct {
	ctx     *importContext
	name    string
	path    string
	meta    FolderMetadata
	outcome Outcome
}

func (e *importDirEntry) ID() string   { return e.ctx.id }
func (e *importDirEntry) Name() string { return e.name }
func (e *importDirEntry) Path() string { return e.path }

func (e *importDirEntry) Restore(required bool) bool {
	return once(&e.outcome, func() bool {
		r := e.ctx.report
		if err := safefs.EnsureDir(e.path); err != nil {
			r.RecordError(NewError(e.name, err, "failed to create directory [%s]", e.name))
			return false
		}
		ok := true
		keep := make(map[string]struct{}, len(e.meta.Files))
		for _, name := range e.meta.Files {
			keep[name] = struct{}{}
			if !e.ctx.entry(name).Restore(true) {
				ok = false
			}
		}
		if !e.meta.Filtered && !e.prune(keep) {
			ok = false
		}
		return ok
	})
}

func (e *importDirEntry) prune(keep map[string]struct{}) bool {
	r := e.ctx.report
	ok := true
	// Directories on the way to an exported file stay.
	parents := make(map[string]struct{})
	for name := range keep {
		for dir := path.Dir(name); dir != "." && dir != "/" && dir != e.name; dir = path.Dir(dir) {
			parents[dir] = struct{}{}
		}
	}
	err := filepath.WalkDir(e.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			r.RecordError(NewError(e.name, err, "cannot list [%s]", p))
			ok = false
			return nil
		}
		if p == e.path {
			return nil
		}
		name := pathutil.ToName(e.ctx.paths.RelativizeFromHome(p))
		if _, exported := keep[name]; exported {
			return nil
		}
		remove := os.Remove
		if d.IsDir() {
			if _, needed := parents[name]; needed {
				return nil
			}
			remove = os.RemoveAll
		}
		if err := remove(p); err != nil {
			r.RecordError(NewError(name, err, "failed to remove [%s]", name))
			ok = false
			return nil
		}
		e.ctx.logger.Debug("Removed [%s] which is not part of the exported [%s]", name, e.name)
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		r.RecordError(NewError(e.name, err, "cannot list [%s]", e.name))
		return false
	}
	return ok
}

func (e *importDirEntry) RestoreWith(fn func(r *Report, rd io.Reader) error) bool {
	return once(&e.outcome, func() bool {
		e.ctx.report.RecordError(NewError(e.name, nil, "[%s] is a directory and cannot be restored from a stream", e.name))
		return false
	})
}

func (e *importDirEntry) PropertyReferencedEntry(name string) (ImportEntry, bool) {
	return e.ctx.JavaPropertyReferencedEntry(e.name, name)
}

// importExternalEntry verifies a file that had to be copied manually. The
// file itself is never modified.
type importExternalEntry struct {
	ctx     *importContext
	name    string
	path    string
	meta    ExternalMetadata
	outcome Outcome
}

func (e *importExternalEntry) ID() string   { return e.ctx.id }
func (e *importExternalEntry) Name() string { return e.name }
func (e *importExternalEntry) Path() string { return e.path }

func (e *importExternalEntry) Restore(required bool) bool {
	return once(&e.outcome, func() bool {
		return e.verify(required && !e.meta.Optional)
	})
}

func (e *importExternalEntry) verify(required bool) bool {
	r := e.ctx.report
	info, err := os.Lstat(e.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.RecordError(NewError(e.name, err, "cannot access [%s]", e.name))
			return false
		}
		if required {
			r.RecordError(NewError(e.name, nil, "file [%s] does not exist; it must be copied manually from the original system", e.name))
			return false
		}
		return true
	}
	isLink := info.Mode()&os.ModeSymlink != 0
	switch {
	case e.meta.Softlink && !isLink:
		r.RecordWarning("path [%s] is no longer a symbolic link as it was on the original system", e.name)
	case !e.meta.Softlink && isLink:
		r.RecordWarning("path [%s] is now a symbolic link; it was not one on the original system", e.name)
	}
	if e.meta.Checksum == "" {
		return true
	}
	sum, err := crypt.Checksum(e.path)
	if err != nil {
		r.RecordError(NewError(e.name, err, "failed to compute the checksum of [%s]", e.name))
		return false
	}
	if sum != e.meta.Checksum {
		r.RecordWarning("checksum for [%s] does not match the original system; verify the file was copied correctly", e.name)
	}
	return true
}

func (e *importExternalEntry) RestoreWith(fn func(r *Report, rd io.Reader) error) bool {
	return once(&e.outcome, func() bool {
		if !e.verify(!e.meta.Optional) {
			return false
		}
		r := e.ctx.report
		f, err := os.Open(e.path)
		if err != nil {
			r.RecordError(NewError(e.name, err, "failed to read [%s]", e.name))
			return false
		}
		defer f.Close()
		if err := fn(r, f); err != nil {
			r.RecordError(NewError(e.name, err, "failed to import [%s]", e.name))
			return false
		}
		return true
	})
}

func (e *importExternalEntry) PropertyReferencedEntry(name string) (ImportEntry, bool) {
	return e.ctx.JavaPropertyReferencedEntry(e.name, name)
}

// importEmptyEntry stands for a path the archive knows nothing about.
type importEmptyEntry struct {
	ctx     *importContext
	name    string
	path    string
	outcome Outcome
}

func (e *importEmptyEntry) ID() string   { return e.ctx.id }
func (e *importEmptyEntry) Name() string { return e.name }
func (e *importEmptyEntry) Path() string { return e.path }

func (e *importEmptyEntry) Restore(required bool) bool {
	return once(&e.outcome, e.missing)
}

func (e *importEmptyEntry) RestoreWith(fn func(r *Report, rd io.Reader) error) bool {
	return once(&e.outcome, e.missing)
}

func (e *importEmptyEntry) missing() bool {
	e.ctx.report.RecordError(NewError(e.name, nil, "[%s] was not exported", e.name))
	return false
}

func (e *importEmptyEntry) PropertyReferencedEntry(name string) (ImportEntry, bool) {
	return e.ctx.JavaPropertyReferencedEntry(e.name, name)
}

// importPropertyEntry delegates to the entry named by the exported property
// value and checks after the import that the property still resolves to it.
type importPropertyEntry struct {
	ctx       *importContext
	prop      propertyRef
	reference string
	scheduled bool
}

func (e *importPropertyEntry) ID() string   { return e.ctx.id }
func (e *importPropertyEntry) Name() string { return e.reference }
func (e *importPropertyEntry) Path() string {
	return e.ctx.paths.ResolveAgainstHome(pathutil.FromName(e.reference))
}

// target is resolved on use so entries replayed later, or owned by another
// component, are found.
func (e *importPropertyEntry) target() ImportEntry {
	return e.ctx.referenced(e.reference)
}

func (e *importPropertyEntry) Restore(required bool) bool {
	defer e.schedule()
	return e.target().Restore(required)
}

func (e *importPropertyEntry) RestoreWith(fn func(r *Report, rd io.Reader) error) bool {
	defer e.schedule()
	return e.target().RestoreWith(fn)
}

func (e *importPropertyEntry) PropertyReferencedEntry(name string) (ImportEntry, bool) {
	return e.target().PropertyReferencedEntry(name)
}

func (e *importPropertyEntry) schedule() {
	if e.scheduled {
		return
	}
	e.scheduled = true
	e.ctx.report.DoAfterCompletion(func(r *Report) {
		e.prop.verify(r, e.reference)
	})
}
