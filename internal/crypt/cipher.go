package crypt

import (
	"fmt"
	"io"
	"strings"
)

// Algorithm identifies the cipher applied to archive entries.
type Algorithm string

const (
	// AlgorithmAES - AES/CBC with PKCS#5 padding, 128 bit key, fixed IV.
	AlgorithmAES Algorithm = "aes-cbc"

	// AlgorithmAge - age X25519 encryption, one age stream per entry.
	AlgorithmAge Algorithm = "age"

	// AlgorithmNone - entries are stored in clear.
	AlgorithmNone Algorithm = "none"
)

// ParseAlgorithm maps a configuration value to an Algorithm. An empty value
// selects AES.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "aes", "aes-cbc":
		return AlgorithmAES, nil
	case "age":
		return AlgorithmAge, nil
	case "none", "plain":
		return AlgorithmNone, nil
	default:
		return "", fmt.Errorf("unsupported cipher %q (want aes-cbc, age or none)", value)
	}
}

// Cipher wraps archive entry streams. Encrypt's writer must be closed to
// flush the final block; closing it does not close the underlying writer.
type Cipher interface {
	Algorithm() Algorithm
	Encrypt(w io.Writer) (io.WriteCloser, error)
	Decrypt(r io.Reader) (io.Reader, error)
}

type noneCipher struct{}

// None returns the pass-through cipher used for unencrypted archives.
func None() Cipher { return noneCipher{} }

func (noneCipher) Algorithm() Algorithm { return AlgorithmNone }

func (noneCipher) Encrypt(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }

func (noneCipher) Decrypt(r io.Reader) (io.Reader, error) { return r, nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
