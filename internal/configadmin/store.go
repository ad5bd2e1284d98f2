// Package configadmin keeps service configuration objects, each identified
// by a persistent id (PID), and carries them through configuration exports.
package configadmin

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tis24dev/confmigrate/internal/safefs"
	"gopkg.in/yaml.v3"
)

const fileSuffix = ".yaml"

// Configuration is one configuration object.
type Configuration struct {
	PID        string         `yaml:"pid"`
	FactoryPID string         `yaml:"factory_pid,omitempty"`
	Properties map[string]any `yaml:"properties"`
}

// Admin is the configuration store seen by the exporter and the migratable.
type Admin interface {
	List() ([]Configuration, error)
	Get(pid string) (Configuration, bool, error)
	Update(cfg Configuration) error
	Delete(pid string) error
}

// DirStore persists configurations as <pid>.yaml files in one directory.
type DirStore struct {
	dir string
}

// NewDirStore returns a store rooted at dir. The directory is created on
// first update.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the store directory.
func (s *DirStore) Dir() string { return s.dir }

// ValidatePID rejects ids that cannot be used as a file name.
func ValidatePID(pid string) error {
	switch {
	case strings.TrimSpace(pid) == "":
		return errors.New("pid is empty")
	case pid == "." || pid == "..":
		return fmt.Errorf("invalid pid %q", pid)
	case strings.ContainsAny(pid, `/\`):
		return fmt.Errorf("pid %q contains a path separator", pid)
	}
	return nil
}

func (s *DirStore) path(pid string) string {
	return filepath.Join(s.dir, pid+fileSuffix)
}

// List returns every configuration ordered by PID.
func (s *DirStore) List() ([]Configuration, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list configurations in %s: %w", s.dir, err)
	}
	var out []Configuration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		cfg, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// Get returns the configuration for pid.
func (s *DirStore) Get(pid string) (Configuration, bool, error) {
	if err := ValidatePID(pid); err != nil {
		return Configuration{}, false, err
	}
	cfg, err := s.read(s.path(pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Configuration{}, false, nil
		}
		return Configuration{}, false, err
	}
	return cfg, true, nil
}

func (s *DirStore) read(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("read configuration %s: %w", path, err)
	}
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("parse configuration %s: %w", path, err)
	}
	want := strings.TrimSuffix(filepath.Base(path), fileSuffix)
	if cfg.PID == "" {
		cfg.PID = want
	} else if cfg.PID != want {
		return Configuration{}, fmt.Errorf("configuration %s declares pid %q", path, cfg.PID)
	}
	return cfg, nil
}

// Update creates or replaces the configuration.
func (s *DirStore) Update(cfg Configuration) error {
	if err := ValidatePID(cfg.PID); err != nil {
		return err
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := safefs.WriteAtomic(s.path(cfg.PID), bytes.NewReader(data), 0o640, time.Time{}); err != nil {
		return fmt.Errorf("write configuration %s: %w", cfg.PID, err)
	}
	return nil
}

// Delete removes the configuration. Deleting an unknown PID is not an error.
func (s *DirStore) Delete(pid string) error {
	if err := ValidatePID(pid); err != nil {
		return err
	}
	if err := os.Remove(s.path(pid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete configuration %s: %w", pid, err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Configuration) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode configuration %s: %w", cfg.PID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode configuration %s: %w", cfg.PID, err)
	}
	return buf.Bytes(), nil
}
