// Package crypt computes archive and file digests, manages the key file
// stored next to an archive and wraps archive entry streams with the
// configured cipher.
package crypt

import "fmt"

// Error reports a key, cipher or checksum failure for a specific path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
