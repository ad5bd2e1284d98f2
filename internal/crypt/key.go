package crypt

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/scrypt"
)

// KeySuffix is appended to an archive path to name its key file.
const KeySuffix = ".key"

const (
	passphraseKeySalt = "confmigrate/aes-key/v1"
	passphraseScryptN = 1 << 15
	passphraseScryptR = 8
	passphraseScryptP = 1
)

var randReader io.Reader = rand.Reader

// KeyPath returns the key file path for an archive.
func KeyPath(archivePath string) string {
	return archivePath + KeySuffix
}

// LoadOrCreate returns the cipher for archivePath, reading the key file
// when present and generating and persisting a new key otherwise. For AES
// a non-empty passphrase derives the key instead of drawing it at random.
func LoadOrCreate(archivePath string, alg Algorithm, passphrase string) (Cipher, error) {
	if alg == AlgorithmNone {
		return None(), nil
	}
	keyPath := KeyPath(archivePath)
	if _, err := os.Stat(keyPath); err == nil {
		c, err := Load(archivePath, alg)
		if err != nil {
			return nil, err
		}
		if alg == AlgorithmAES && passphrase != "" {
			derived, err := deriveAESKey(passphrase)
			if err != nil {
				return nil, &Error{Op: "derive key", Path: keyPath, Err: err}
			}
			existing, _ := readKeyFile(keyPath)
			if hexKey, _ := hex.DecodeString(existing); !bytes.Equal(hexKey, derived) {
				return nil, &Error{Op: "load key", Path: keyPath, Err: errors.New("existing key does not match the configured passphrase")}
			}
		}
		return c, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, &Error{Op: "stat key", Path: keyPath, Err: err}
	}

	var (
		material string
		c        Cipher
	)
	switch alg {
	case AlgorithmAES:
		key := make([]byte, aesKeySize)
		if passphrase != "" {
			derived, err := deriveAESKey(passphrase)
			if err != nil {
				return nil, &Error{Op: "derive key", Path: keyPath, Err: err}
			}
			key = derived
		} else if _, err := io.ReadFull(randReader, key); err != nil {
			return nil, &Error{Op: "generate key", Path: keyPath, Err: err}
		}
		aesC, err := newAESCipher(key)
		if err != nil {
			return nil, &Error{Op: "generate key", Path: keyPath, Err: err}
		}
		material, c = hex.EncodeToString(key), aesC
	case AlgorithmAge:
		if passphrase != "" {
			return nil, &Error{Op: "generate key", Path: keyPath, Err: errors.New("passphrase-derived keys are only supported with aes-cbc")}
		}
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, &Error{Op: "generate key", Path: keyPath, Err: err}
		}
		material, c = identity.String(), &ageCipher{identity: identity}
	default:
		return nil, &Error{Op: "generate key", Path: keyPath, Err: fmt.Errorf("unsupported cipher %q", alg)}
	}

	if err := os.WriteFile(keyPath, []byte(material+"\n"), 0o600); err != nil {
		return nil, &Error{Op: "write key", Path: keyPath, Err: err}
	}
	return c, nil
}

// Load returns the cipher for archivePath from its existing key file.
func Load(archivePath string, alg Algorithm) (Cipher, error) {
	if alg == AlgorithmNone {
		return None(), nil
	}
	keyPath := KeyPath(archivePath)
	material, err := readKeyFile(keyPath)
	if err != nil {
		return nil, &Error{Op: "read key", Path: keyPath, Err: err}
	}

	switch alg {
	case AlgorithmAES:
		key, err := hex.DecodeString(material)
		if err != nil {
			return nil, &Error{Op: "decode key", Path: keyPath, Err: err}
		}
		c, err := newAESCipher(key)
		if err != nil {
			return nil, &Error{Op: "decode key", Path: keyPath, Err: err}
		}
		return c, nil
	case AlgorithmAge:
		identity, err := age.ParseX25519Identity(material)
		if err != nil {
			return nil, &Error{Op: "decode key", Path: keyPath, Err: err}
		}
		return &ageCipher{identity: identity}, nil
	default:
		return nil, &Error{Op: "load key", Path: keyPath, Err: fmt.Errorf("unsupported cipher %q", alg)}
	}
}

func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	material := strings.TrimSpace(string(data))
	if material == "" {
		return "", errors.New("key file is empty")
	}
	return material, nil
}

func deriveAESKey(passphrase string) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), []byte(passphraseKeySalt), passphraseScryptN, passphraseScryptR, passphraseScryptP, aesKeySize)
}
