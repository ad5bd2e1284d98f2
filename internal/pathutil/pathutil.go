// Package pathutil resolves and relativizes paths against a fixed home
// directory and a working directory.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver holds the home and working directories used to resolve paths.
// Both are absolute and the home directory is canonical.
type Resolver struct {
	home string
	work string
}

// New returns a resolver for the given home directory. An empty working
// directory defaults to the process working directory.
func New(home, work string) (*Resolver, error) {
	if strings.TrimSpace(home) == "" {
		return nil, fmt.Errorf("home directory is not set")
	}
	absHome, err := filepath.Abs(home)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve home directory %s: %w", home, err)
	}
	if work == "" {
		if work, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("cannot determine working directory: %w", err)
		}
	}
	absWork, err := filepath.Abs(work)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve working directory %s: %w", work, err)
	}
	return &Resolver{home: Canonical(absHome), work: absWork}, nil
}

// Home returns the canonical home directory.
func (r *Resolver) Home() string { return r.home }

// WorkDir returns the absolute working directory.
func (r *Resolver) WorkDir() string { return r.work }

// ResolveAgainstHome returns p unchanged when absolute, otherwise p joined
// to the home directory.
func (r *Resolver) ResolveAgainstHome(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.home, p)
}

// ResolveAgainstWork returns p unchanged when absolute, otherwise p joined
// to the working directory.
func (r *Resolver) ResolveAgainstWork(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.work, p)
}

// RelativizeFromHome returns the path of p relative to home when p lies
// under home. Otherwise the cleaned p is returned as is.
func (r *Resolver) RelativizeFromHome(p string) string {
	p = filepath.Clean(p)
	if !filepath.IsAbs(p) {
		return p
	}
	if rel, ok := relUnder(r.home, p); ok {
		return rel
	}
	if rel, ok := relUnder(r.home, Canonical(p)); ok {
		return rel
	}
	return p
}

// IsUnderHome reports whether the canonical form of p (resolved against
// home when relative) lies within the home tree.
func (r *Resolver) IsUnderHome(p string) bool {
	_, ok := relUnder(r.home, Canonical(r.ResolveAgainstHome(p)))
	return ok
}

// Canonical resolves symbolic links in p. Missing trailing components are
// kept verbatim on top of the deepest existing ancestor.
func Canonical(p string) string {
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p
	}
	return filepath.Join(Canonical(parent), filepath.Base(p))
}

// IsSymlink reports whether p itself is a symbolic link.
func IsSymlink(p string) bool {
	info, err := os.Lstat(p)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// ToName converts a relative filesystem path to the slash separated form
// used for entry names and archive paths.
func ToName(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// FromName converts an entry name back to a filesystem path.
func FromName(name string) string {
	return filepath.FromSlash(name)
}

func relUnder(base, p string) (string, bool) {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
