package crypt

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, c Cipher, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := c.Encrypt(&buf)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	// Uneven writes exercise the block buffering.
	for i := 0; i < len(plain); i += 7 {
		end := i + 7
		if end > len(plain) {
			end = len(plain)
		}
		if _, err := w.Write(plain[i:end]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}

	r, err := c.Decrypt(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return got
}

func TestAESRoundTripSizes(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "exported.dar")
	c, err := LoadOrCreate(archive, AlgorithmAES, "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	for _, size := range []int{0, 1, 15, 16, 17, 100, 64 * 1024} {
		plain := bytes.Repeat([]byte{'x'}, size)
		if got := roundTrip(t, c, plain); !bytes.Equal(got, plain) {
			t.Fatalf("size %d: round trip mismatch (got %d bytes)", size, len(got))
		}
	}
}

func TestAESKeyIsPersistedAndReloaded(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "exported.dar")
	first, err := LoadOrCreate(archive, AlgorithmAES, "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	data, err := os.ReadFile(KeyPath(archive))
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if len(strings.TrimSpace(string(data))) != aesKeySize*2 {
		t.Fatalf("key file should hold a hex encoded 128 bit key, got %q", data)
	}

	var buf bytes.Buffer
	w, _ := first.Encrypt(&buf)
	w.Write([]byte("secret configuration"))
	w.Close()

	second, err := Load(archive, AlgorithmAES)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, _ := second.Decrypt(bytes.NewReader(buf.Bytes()))
	got, err := io.ReadAll(r)
	if err != nil || string(got) != "secret configuration" {
		t.Fatalf("reloaded key cannot decrypt: %q, %v", got, err)
	}
}

func TestAESWrongKeyFailsPadding(t *testing.T) {
	dir := t.TempDir()
	a, _ := LoadOrCreate(filepath.Join(dir, "a.dar"), AlgorithmAES, "")
	b, _ := LoadOrCreate(filepath.Join(dir, "b.dar"), AlgorithmAES, "")

	var buf bytes.Buffer
	w, _ := a.Encrypt(&buf)
	w.Write([]byte("0123456789"))
	w.Close()

	r, _ := b.Decrypt(bytes.NewReader(buf.Bytes()))
	got, err := io.ReadAll(r)
	if err == nil && string(got) == "0123456789" {
		t.Fatal("a different key must not recover the plaintext")
	}
}

func TestAESPassphraseDerivation(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadOrCreate(filepath.Join(dir, "a.dar"), AlgorithmAES, "correct horse battery")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	b, err := LoadOrCreate(filepath.Join(dir, "b.dar"), AlgorithmAES, "correct horse battery")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	ka, _ := os.ReadFile(KeyPath(filepath.Join(dir, "a.dar")))
	kb, _ := os.ReadFile(KeyPath(filepath.Join(dir, "b.dar")))
	if !bytes.Equal(ka, kb) {
		t.Fatal("same passphrase should derive the same key")
	}
	var buf bytes.Buffer
	w, _ := a.Encrypt(&buf)
	w.Write([]byte("payload"))
	w.Close()
	r, _ := b.Decrypt(bytes.NewReader(buf.Bytes()))
	if got, err := io.ReadAll(r); err != nil || string(got) != "payload" {
		t.Fatalf("keys derived from one passphrase should interoperate: %q, %v", got, err)
	}

	if _, err := LoadOrCreate(filepath.Join(dir, "a.dar"), AlgorithmAES, "another passphrase"); err == nil {
		t.Fatal("expected mismatch error for a different passphrase")
	}
}

func TestAgeRoundTrip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "exported.dar")
	c, err := LoadOrCreate(archive, AlgorithmAge, "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	data, _ := os.ReadFile(KeyPath(archive))
	if !strings.HasPrefix(string(data), "AGE-SECRET-KEY-") {
		t.Fatalf("age key file should hold an identity, got %q", data)
	}

	reloaded, err := Load(archive, AlgorithmAge)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var buf bytes.Buffer
	w, _ := c.Encrypt(&buf)
	w.Write([]byte("age payload"))
	w.Close()
	r, err := reloaded.Decrypt(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "age payload" {
		t.Fatalf("got %q", got)
	}
}

func TestLoadErrorsCarryPath(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "exported.dar")

	_, err := Load(archive, AlgorithmAES)
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Path != KeyPath(archive) {
		t.Fatalf("missing key error = %v", err)
	}

	os.WriteFile(KeyPath(archive), []byte("not-hex"), 0o600)
	if _, err := Load(archive, AlgorithmAES); !errors.As(err, &cerr) {
		t.Fatalf("undecodable key error = %v", err)
	}

	if c, err := Load(archive, AlgorithmNone); err != nil || c.Algorithm() != AlgorithmNone {
		t.Fatalf("none cipher should not need a key: %v", err)
	}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{"": AlgorithmAES, "AES": AlgorithmAES, "age": AlgorithmAge, "none": AlgorithmNone} {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAlgorithm("des"); err == nil {
		t.Error("expected error for unsupported cipher")
	}
}

func TestChecksumFile(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "exported.dar")
	if err := os.WriteFile(archive, []byte("archive bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := VerifyChecksumFile(archive); err == nil {
		t.Fatal("expected error when checksum file is missing")
	}

	sum, err := WriteChecksumFile(archive)
	if err != nil {
		t.Fatalf("WriteChecksumFile: %v", err)
	}
	data, _ := os.ReadFile(ChecksumPath(archive))
	if string(data) != sum+"  exported.dar\n" {
		t.Fatalf("checksum file content = %q", data)
	}
	if err := VerifyChecksumFile(archive); err != nil {
		t.Fatalf("VerifyChecksumFile: %v", err)
	}

	os.WriteFile(archive, []byte("tampered"), 0o644)
	if err := VerifyChecksumFile(archive); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
