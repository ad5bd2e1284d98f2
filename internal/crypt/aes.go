package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// aesKeySize is 128 bits.
const aesKeySize = 16

// fixedIV is shared by every entry of every archive; the key file is what
// keeps archives apart.
var fixedIV = []byte{
	0x63, 0x6f, 0x6e, 0x66, 0x6d, 0x69, 0x67, 0x72,
	0x61, 0x74, 0x65, 0x2d, 0x69, 0x76, 0x30, 0x31,
}

var errInvalidPadding = errors.New("invalid padding (wrong key or corrupted entry)")

type aesCipher struct {
	block cipher.Block
}

func newAESCipher(key []byte) (*aesCipher, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("invalid AES key length %d, want %d", len(key), aesKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &aesCipher{block: block}, nil
}

func (c *aesCipher) Algorithm() Algorithm { return AlgorithmAES }

func (c *aesCipher) Encrypt(w io.Writer) (io.WriteCloser, error) {
	return &cbcWriter{w: w, mode: cipher.NewCBCEncrypter(c.block, fixedIV)}, nil
}

func (c *aesCipher) Decrypt(r io.Reader) (io.Reader, error) {
	return &cbcReader{r: r, mode: cipher.NewCBCDecrypter(c.block, fixedIV)}, nil
}

// cbcWriter encrypts complete blocks as they arrive and pads the remainder on Close.
type cbcWriter struct {
	w       io.Writer
	mode    cipher.BlockMode
	pending []byte
	closed  bool
	err     error
}

func (cw *cbcWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, errors.New("write to closed cipher stream")
	}
	if cw.err != nil {
		return 0, cw.err
	}
	bs := cw.mode.BlockSize()
	cw.pending = append(cw.pending, p...)
	full := len(cw.pending) / bs * bs
	if full > 0 {
		out := make([]byte, full)
		cw.mode.CryptBlocks(out, cw.pending[:full])
		if _, err := cw.w.Write(out); err != nil {
			cw.err = err
			return 0, err
		}
		cw.pending = append(cw.pending[:0], cw.pending[full:]...)
	}
	return len(p), nil
}

func (cw *cbcWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	if cw.err != nil {
		return cw.err
	}
	bs := cw.mode.BlockSize()
	pad := bs - len(cw.pending)
	block := append(cw.pending, make([]byte, pad)...)
	for i := len(cw.pending); i < bs; i++ {
		block[i] = byte(pad)
	}
	cw.mode.CryptBlocks(block, block)
	_, err := cw.w.Write(block)
	return err
}

// cbcReader decrypts lazily, always holding back the last block until EOF
// so the padding can be stripped.
type cbcReader struct {
	r       io.Reader
	mode    cipher.BlockMode
	pending []byte
	out     []byte
	done    bool
	err     error
}

func (cr *cbcReader) Read(p []byte) (int, error) {
	for len(cr.out) == 0 {
		if cr.err != nil {
			return 0, cr.err
		}
		if cr.done {
			return 0, io.EOF
		}
		cr.fill()
	}
	n := copy(p, cr.out)
	cr.out = cr.out[n:]
	return n, nil
}

func (cr *cbcReader) fill() {
	bs := cr.mode.BlockSize()
	buf := make([]byte, 32*1024)
	n, err := cr.r.Read(buf)
	cr.pending = append(cr.pending, buf[:n]...)

	switch {
	case err == io.EOF:
		cr.done = true
		if len(cr.pending) == 0 || len(cr.pending)%bs != 0 {
			cr.err = fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(cr.pending))
			return
		}
		plain := make([]byte, len(cr.pending))
		cr.mode.CryptBlocks(plain, cr.pending)
		cr.pending = nil
		pad := int(plain[len(plain)-1])
		if pad == 0 || pad > bs {
			cr.err = errInvalidPadding
			return
		}
		for _, b := range plain[len(plain)-pad:] {
			if int(b) != pad {
				cr.err = errInvalidPadding
				return
			}
		}
		cr.out = plain[:len(plain)-pad]
	case err != nil:
		cr.err = err
	default:
		keep := len(cr.pending)/bs*bs - bs
		if keep <= 0 {
			return
		}
		plain := make([]byte, keep)
		cr.mode.CryptBlocks(plain, cr.pending[:keep])
		cr.pending = append(cr.pending[:0], cr.pending[keep:]...)
		cr.out = plain
	}
}
