package migration

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/tis24dev/confmigrate/internal/crypt"
)

const commentPrefix = "confmigrate cipher="

func archiveComment(alg crypt.Algorithm) string {
	return commentPrefix + string(alg)
}

func parseArchiveComment(comment string) (crypt.Algorithm, error) {
	if !strings.HasPrefix(comment, commentPrefix) {
		return "", fmt.Errorf("not a configuration export archive")
	}
	return crypt.ParseAlgorithm(strings.TrimPrefix(comment, commentPrefix))
}

// archiveWriter owns the zip stream shared by every export context. Only
// one entry is open at a time; opening the next one closes the current one.
// The first container failure is sticky.
type archiveWriter struct {
	zw      *zip.Writer
	cipher  crypt.Cipher
	method  uint16
	current *entryWriter
	err     error
	entries int
	bytes   int64
}

func newArchiveWriter(w io.Writer, c crypt.Cipher) (*archiveWriter, error) {
	zw := zip.NewWriter(w)
	if err := zw.SetComment(archiveComment(c.Algorithm())); err != nil {
		return nil, err
	}
	method := zip.Store
	if c.Algorithm() == crypt.AlgorithmNone {
		method = zip.Deflate
	}
	return &archiveWriter{zw: zw, cipher: c, method: method}, nil
}

func (a *archiveWriter) failed() error { return a.err }

func (a *archiveWriter) fail(err error) error {
	if a.err == nil {
		a.err = asStreamError(err)
	}
	return a.err
}

// open starts a new entry and returns the writer for its plaintext.
func (a *archiveWriter) open(name string, mode os.FileMode, modified time.Time) (io.Writer, error) {
	if a.err != nil {
		return nil, a.err
	}
	if err := a.closeCurrent(); err != nil {
		return nil, err
	}
	hdr := &zip.FileHeader{Name: name, Method: a.method, Modified: modified}
	hdr.SetMode(mode)
	w, err := a.zw.CreateHeader(hdr)
	if err != nil {
		return nil, a.fail(fmt.Errorf("create entry %s: %w", name, err))
	}
	cw, err := a.cipher.Encrypt(w)
	if err != nil {
		return nil, a.fail(fmt.Errorf("encrypt entry %s: %w", name, err))
	}
	a.current = &entryWriter{a: a, name: name, w: cw}
	a.entries++
	return a.current, nil
}

func (a *archiveWriter) closeCurrent() error {
	if a.current == nil {
		return a.err
	}
	ew := a.current
	a.current = nil
	ew.closed = true
	if err := ew.w.Close(); err != nil {
		return a.fail(err)
	}
	return a.err
}

// close writes the metadata entry and finishes the zip stream.
func (a *archiveWriter) close(md *Metadata) error {
	if a.err == nil {
		w, err := a.open(MetadataEntryName, 0o644, time.Now())
		if err == nil {
			err = encodeMetadata(w, md)
		}
		if err == nil {
			err = a.closeCurrent()
		}
		if err != nil {
			a.fail(err)
		}
	}
	if err := a.zw.Close(); err != nil {
		a.fail(err)
	}
	return a.err
}

// entryWriter writes the plaintext of one entry. Write failures of the
// open entry are stream failures; writes after the entry was closed are
// rejected without touching the container.
type entryWriter struct {
	a      *archiveWriter
	name   string
	w      io.WriteCloser
	closed bool
}

func (e *entryWriter) Write(p []byte) (int, error) {
	if e.a.err != nil {
		return 0, e.a.err
	}
	if e.closed {
		return 0, NewError(e.name, nil, "archive entry [%s] is already closed", e.name)
	}
	n, err := e.w.Write(p)
	e.a.bytes += int64(n)
	if err != nil {
		return n, e.a.fail(err)
	}
	return n, nil
}

// lazyWriter creates its archive entry on the first write. onError, when
// set, sees every write failure that is not a stream failure.
type lazyWriter struct {
	open    func() (io.Writer, error)
	w       io.Writer
	onError func(error)
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	if err := l.ensure(); err != nil {
		return 0, err
	}
	n, err := l.w.Write(p)
	if err != nil && !IsStreamError(err) && l.onError != nil {
		l.onError(err)
	}
	return n, err
}

func (l *lazyWriter) ensure() error {
	if l.w != nil {
		return nil
	}
	w, err := l.open()
	if err != nil {
		return err
	}
	l.w = w
	return nil
}

// archiveReader opens the zip written by archiveWriter.
type archiveReader struct {
	zr     *zip.ReadCloser
	cipher crypt.Cipher
}

// openArchive opens path and loads the key matching the recorded cipher.
func openArchive(path string) (*archiveReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	alg, err := parseArchiveComment(zr.Comment)
	if err != nil {
		zr.Close()
		return nil, err
	}
	c := crypt.None()
	if alg != crypt.AlgorithmNone {
		if c, err = crypt.Load(path, alg); err != nil {
			zr.Close()
			return nil, err
		}
	}
	return &archiveReader{zr: zr, cipher: c}, nil
}

func (a *archiveReader) files() []*zip.File { return a.zr.File }

// openFile returns the plaintext of f.
func (a *archiveReader) openFile(f *zip.File) (io.ReadCloser, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	r, err := a.cipher.Decrypt(rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{r, rc}, nil
}

func (a *archiveReader) metadata() (*Metadata, error) {
	for _, f := range a.zr.File {
		if f.Name != MetadataEntryName {
			continue
		}
		rc, err := a.openFile(f)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", MetadataEntryName, err)
		}
		defer rc.Close()
		return decodeMetadata(rc)
	}
	return nil, fmt.Errorf("archive has no %s entry", MetadataEntryName)
}

func (a *archiveReader) close() error { return a.zr.Close() }
