// Package safefs provides filesystem writes that never leave a partially
// written destination behind.
package safefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var (
	osStat  = os.Stat
	nowFunc = time.Now
)

type uidGid struct {
	uid int
	gid int
	ok  bool
}

func uidGidFromFileInfo(info os.FileInfo) uidGid {
	if info == nil {
		return uidGid{}
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return uidGid{}
	}
	return uidGid{uid: int(st.Uid), gid: int(st.Gid), ok: true}
}

func modeBits(mode os.FileMode) os.FileMode {
	return mode & 0o7777
}

func findNearestExistingDirMeta(dir string) (uidGid, os.FileMode) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return uidGid{}, 0o755
	}

	candidate := dir
	for {
		info, err := osStat(candidate)
		if err == nil && info != nil && info.IsDir() {
			inheritMode := modeBits(info.Mode())
			if inheritMode == 0 {
				inheritMode = 0o755
			}
			return uidGidFromFileInfo(info), inheritMode
		}

		parent := filepath.Dir(candidate)
		if parent == candidate || parent == "." || parent == "" {
			break
		}
		candidate = parent
	}

	return uidGid{}, 0o755
}

// EnsureDir creates dir (and missing parents) inheriting mode and group
// from the nearest existing ancestor.
func EnsureDir(dir string) error {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." || dir == string(os.PathSeparator) {
		return nil
	}

	if info, err := osStat(dir); err == nil {
		if info != nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	owner, perm := findNearestExistingDirMeta(filepath.Dir(dir))
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	if os.Geteuid() == 0 && owner.ok {
		if err := os.Chown(dir, owner.uid, owner.gid); err != nil {
			return fmt.Errorf("chown dir %s: %w", dir, err)
		}
	}
	return nil
}

func desiredOwnership(destPath string) uidGid {
	if info, err := osStat(destPath); err == nil && info != nil && !info.IsDir() {
		return uidGidFromFileInfo(info)
	}

	if info, err := osStat(filepath.Dir(destPath)); err == nil && info != nil && info.IsDir() {
		parentOwner := uidGidFromFileInfo(info)
		if parentOwner.ok {
			return uidGid{uid: 0, gid: parentOwner.gid, ok: true}
		}
	}

	return uidGid{}
}

// WriteAtomic streams r into a temporary sibling of path and renames it
// into place. An existing destination keeps its owner. A non-zero modTime
// is applied to the result.
func WriteAtomic(path string, r io.Reader, perm os.FileMode, modTime time.Time) error {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return fmt.Errorf("invalid path")
	}
	perm = modeBits(perm)
	if perm == 0 {
		perm = 0o644
	}

	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	owner := desiredOwnership(path)

	tmpPath := fmt.Sprintf("%s.confmigrate.tmp.%d", path, nowFunc().UnixNano())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	_, writeErr := io.Copy(f, r)
	if writeErr == nil && os.Geteuid() == 0 && owner.ok {
		writeErr = f.Chown(owner.uid, owner.gid)
	}
	if writeErr == nil {
		writeErr = f.Chmod(perm)
	}

	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return writeErr
	}

	if !modTime.IsZero() {
		if err := os.Chtimes(tmpPath, modTime, modTime); err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
