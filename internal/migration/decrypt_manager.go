package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/tis24dev/confmigrate/internal/crypt"
	"github.com/tis24dev/confmigrate/internal/logging"
)

// DecryptManager rewrites an encrypted archive as a plain zip, entry by
// entry. An entry that cannot be decrypted is recorded and skipped.
type DecryptManager struct {
	report  *Report
	logger  *logging.Logger
	path    string
	output  string
	archive *archiveReader
	file    *os.File
	zw      *zip.Writer
	entries int
	closed  bool
	failed  error
}

// NewDecryptManager opens archivePath with its key and creates outputPath.
func NewDecryptManager(r *Report, archivePath, outputPath string, logger *logging.Logger) (*DecryptManager, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	archive, err := openArchive(archivePath)
	if err != nil {
		return nil, NewError(archivePath, err, "failed to open export archive [%s]", archivePath)
	}
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		archive.close()
		return nil, NewError(outputPath, err, "failed to create decrypted archive [%s]", outputPath)
	}
	zw := zip.NewWriter(f)
	if err := zw.SetComment(archiveComment(crypt.AlgorithmNone)); err != nil {
		f.Close()
		archive.close()
		return nil, NewError(outputPath, err, "failed to initialize decrypted archive [%s]", outputPath)
	}
	return &DecryptManager{
		report:  r,
		logger:  logger,
		path:    archivePath,
		output:  outputPath,
		archive: archive,
		file:    f,
		zw:      zw,
	}, nil
}

// Output returns the decrypted archive location.
func (m *DecryptManager) Output() string { return m.output }

// DoDecrypt copies every entry. It stops only when the output stream
// fails or ctx is cancelled.
func (m *DecryptManager) DoDecrypt(ctx context.Context) error {
	m.logger.Step("Decrypting %s", m.path)
	for _, f := range m.archive.files() {
		if err := ctx.Err(); err != nil {
			m.report.RecordError(NewError("", err, "decrypt interrupted before [%s]", f.Name))
			m.failed = err
			return err
		}
		if err := m.copyEntry(f); err != nil {
			if IsStreamError(err) {
				m.report.RecordError(NewError(m.output, err, "failed to write [%s] to the decrypted archive", f.Name))
				m.failed = err
				return err
			}
			m.report.RecordError(NewError(f.Name, err, "failed to decrypt entry [%s]", f.Name))
			continue
		}
		m.entries++
	}
	return nil
}

// copyEntry spools the plaintext to a temporary file first so a corrupted
// entry never reaches the output.
func (m *DecryptManager) copyEntry(f *zip.File) error {
	rc, err := m.archive.openFile(f)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(m.output), ".decrypt-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, rc); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool file: %w", err)
	}

	hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified}
	hdr.SetMode(f.Mode())
	w, err := m.zw.CreateHeader(hdr)
	if err != nil {
		return asStreamError(err)
	}
	if _, err := io.Copy(w, tmp); err != nil {
		return asStreamError(err)
	}
	return nil
}

// Close finishes the output archive; an incomplete one is removed.
func (m *DecryptManager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.zw.Close()
	if cerr := m.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	m.archive.close()
	if err == nil && m.failed == nil {
		m.logger.Info("Decrypted %d entries into %s", m.entries, m.output)
		return nil
	}
	if err != nil {
		m.report.RecordError(NewError(m.output, err, "failed to complete decrypted archive [%s]", m.output))
	}
	if rmErr := os.Remove(m.output); rmErr != nil && !os.IsNotExist(rmErr) {
		m.logger.Warning("Failed to remove incomplete archive %s: %v", m.output, rmErr)
	}
	if err != nil {
		return asStreamError(err)
	}
	return nil
}
