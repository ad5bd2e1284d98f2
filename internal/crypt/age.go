package crypt

import (
	"io"

	"filippo.io/age"
)

// ageCipher encrypts every entry as an independent age stream addressed to
// the identity stored in the key file.
type ageCipher struct {
	identity *age.X25519Identity
}

func (c *ageCipher) Algorithm() Algorithm { return AlgorithmAge }

func (c *ageCipher) Encrypt(w io.Writer) (io.WriteCloser, error) {
	return age.Encrypt(w, c.identity.Recipient())
}

func (c *ageCipher) Decrypt(r io.Reader) (io.Reader, error) {
	return age.Decrypt(r, c.identity)
}
