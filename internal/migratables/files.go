// Package migratables provides declarative components that migrate plain
// configuration files.
package migratables

import (
	"fmt"
	"strings"

	"github.com/tis24dev/confmigrate/internal/migration"
)

// FileSpec is a single file. Optional files may be missing.
type FileSpec struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Optional bool   `mapstructure:"optional" yaml:"optional,omitempty"`
}

// DirSpec is a directory tree, optionally limited to names matching Include.
type DirSpec struct {
	Path    string   `mapstructure:"path" yaml:"path"`
	Include []string `mapstructure:"include" yaml:"include,omitempty"`
}

// JavaPropertySpec is a file referenced by a property of a .properties file.
type JavaPropertySpec struct {
	File     string `mapstructure:"file" yaml:"file"`
	Property string `mapstructure:"property" yaml:"property"`
}

// Spec declares what a Files component migrates.
type Spec struct {
	ID               string             `mapstructure:"id" yaml:"id"`
	Version          string             `mapstructure:"version" yaml:"version"`
	Title            string             `mapstructure:"title" yaml:"title"`
	Description      string             `mapstructure:"description" yaml:"description,omitempty"`
	Organization     string             `mapstructure:"organization" yaml:"organization,omitempty"`
	Files            []FileSpec         `mapstructure:"files" yaml:"files,omitempty"`
	Directories      []DirSpec          `mapstructure:"directories" yaml:"directories,omitempty"`
	SystemProperties []string           `mapstructure:"system_properties" yaml:"system_properties,omitempty"`
	JavaProperties   []JavaPropertySpec `mapstructure:"java_properties" yaml:"java_properties,omitempty"`
}

// Validate checks the spec and fills defaults.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("migratable id is empty")
	}
	if s.Version == "" {
		s.Version = "1.0"
	}
	if s.Title == "" {
		s.Title = s.ID
	}
	for i, f := range s.Files {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("migratable %s: files[%d] has an empty path", s.ID, i)
		}
	}
	for i, d := range s.Directories {
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("migratable %s: directories[%d] has an empty path", s.ID, i)
		}
	}
	for i, p := range s.JavaProperties {
		if p.File == "" || p.Property == "" {
			return fmt.Errorf("migratable %s: java_properties[%d] needs file and property", s.ID, i)
		}
	}
	return nil
}

// Files migrates the files, directories and property referenced files
// listed in its Spec.
type Files struct {
	spec Spec
}

// New validates spec and returns the component.
func New(spec Spec) (*Files, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Files{spec: spec}, nil
}

// Spec returns a copy of the component declaration.
func (f *Files) Spec() Spec { return f.spec }

func (f *Files) ID() string           { return f.spec.ID }
func (f *Files) Version() string      { return f.spec.Version }
func (f *Files) Title() string        { return f.spec.Title }
func (f *Files) Description() string  { return f.spec.Description }
func (f *Files) Organization() string { return f.spec.Organization }

func (f *Files) Export(ctx migration.ExportContext) error {
	for _, file := range f.spec.Files {
		ctx.Entry(file.Path).Store(!file.Optional)
	}
	for _, dir := range f.spec.Directories {
		entry := ctx.Entry(dir.Path)
		if len(dir.Include) > 0 {
			entry.StoreFiltered(true, migration.GlobFilter(dir.Include...))
		} else {
			entry.Store(true)
		}
	}
	for _, name := range f.spec.SystemProperties {
		if entry, ok := ctx.SystemPropertyReferencedEntry(name, nil); ok {
			entry.Store(true)
		}
	}
	for _, p := range f.spec.JavaProperties {
		if entry, ok := ctx.JavaPropertyReferencedEntry(p.File, p.Property, nil); ok {
			entry.Store(true)
		}
	}
	return nil
}

func (f *Files) Import(ctx migration.ImportContext) error {
	for _, file := range f.spec.Files {
		ctx.Entry(file.Path).Restore(!file.Optional)
	}
	for _, dir := range f.spec.Directories {
		ctx.Entry(dir.Path).Restore(true)
	}
	for _, name := range f.spec.SystemProperties {
		if entry, ok := ctx.SystemPropertyReferencedEntry(name); ok {
			entry.Restore(true)
		}
	}
	for _, p := range f.spec.JavaProperties {
		if entry, ok := ctx.JavaPropertyReferencedEntry(p.File, p.Property); ok {
			entry.Restore(true)
		}
	}
	return nil
}

func (f *Files) IncompatibleImport(ctx migration.ImportContext, exportedVersion string) error {
	ctx.Report().RecordWarning("[%s] was exported by version [%s] and cannot be imported by version [%s]; its files must be migrated manually", f.spec.ID, exportedVersion, f.spec.Version)
	return nil
}
