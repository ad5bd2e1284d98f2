// Package properties gives access to system properties and to values held
// in Java style .properties files.
package properties

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mprops "github.com/magiconair/properties"
)

// Source resolves system property values by name.
type Source interface {
	Lookup(name string) (string, bool)
}

// Map is an in-memory Source.
type Map map[string]string

// Lookup implements Source.
func (m Map) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// File is a Source backed by a .properties file. The file is read on every
// lookup so values restored during an import are observed afterwards.
type File struct {
	Path string
}

// Lookup implements Source. A missing or unreadable file defines nothing.
func (f File) Lookup(name string) (string, bool) {
	v, ok, err := Lookup(f.Path, name)
	if err != nil {
		return "", false
	}
	return v, ok
}

// Chain consults each Source in order and returns the first hit.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(name string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}

// Load parses the .properties file at path without expanding ${} references.
func Load(path string) (map[string]string, error) {
	p, err := load(path)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

// Lookup returns the value of name in the .properties file at path.
// A missing file is reported as an error wrapping os.ErrNotExist.
func Lookup(path, name string) (string, bool, error) {
	p, err := load(path)
	if err != nil {
		return "", false, err
	}
	v, ok := p.Get(name)
	return v, ok, nil
}

// IsBlank reports whether a property value carries no usable content.
func IsBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}

func load(path string) (*mprops.Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("properties file %s: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("read properties file %s: %w", path, err)
	}
	loader := &mprops.Loader{Encoding: mprops.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse properties file %s: %w", path, err)
	}
	return p, nil
}
