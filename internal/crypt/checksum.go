package crypt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChecksumSuffix is appended to an archive path to name its checksum file.
const ChecksumSuffix = ".sha256"

// ErrChecksumMismatch is returned when an archive no longer matches its
// recorded checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Checksum returns the hex encoded SHA-256 digest of the file at path.
func Checksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &Error{Op: "checksum", Path: path, Err: err}
	}
	defer file.Close()

	sum, err := ChecksumReader(file)
	if err != nil {
		return "", &Error{Op: "checksum", Path: path, Err: err}
	}
	return sum, nil
}

// ChecksumReader returns the hex encoded SHA-256 digest of everything read from r.
func ChecksumReader(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ChecksumPath returns the checksum file path for an archive.
func ChecksumPath(archivePath string) string {
	return archivePath + ChecksumSuffix
}

// WriteChecksumFile computes the archive digest and stores it in the
// sibling checksum file using the "<hex>  <name>" layout of sha256sum.
func WriteChecksumFile(archivePath string) (string, error) {
	sum, err := Checksum(archivePath)
	if err != nil {
		return "", err
	}
	content := fmt.Sprintf("%s  %s\n", sum, filepath.Base(archivePath))
	if err := os.WriteFile(ChecksumPath(archivePath), []byte(content), 0o644); err != nil {
		return "", &Error{Op: "write checksum", Path: ChecksumPath(archivePath), Err: err}
	}
	return sum, nil
}

// ReadChecksumFile returns the digest recorded for an archive.
func ReadChecksumFile(archivePath string) (string, error) {
	path := ChecksumPath(archivePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{Op: "read checksum", Path: path, Err: err}
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", &Error{Op: "read checksum", Path: path, Err: errors.New("file is empty")}
	}
	if _, err := hex.DecodeString(fields[0]); err != nil || len(fields[0]) != sha256.Size*2 {
		return "", &Error{Op: "read checksum", Path: path, Err: fmt.Errorf("invalid digest %q", fields[0])}
	}
	return strings.ToLower(fields[0]), nil
}

// VerifyChecksumFile checks the archive against its checksum file.
func VerifyChecksumFile(archivePath string) error {
	expected, err := ReadChecksumFile(archivePath)
	if err != nil {
		return err
	}
	actual, err := Checksum(archivePath)
	if err != nil {
		return err
	}
	if actual != expected {
		return &Error{
			Op:   "verify checksum",
			Path: archivePath,
			Err:  fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual),
		}
	}
	return nil
}
