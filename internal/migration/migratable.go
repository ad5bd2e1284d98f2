package migration

import "path"

// Migratable is a component that exports its configuration into the archive
// and restores it on another installation.
//
// Errors returned by Export, Import or IncompatibleImport are recorded in the
// report and the next component still runs.
type Migratable interface {
	ID() string
	Version() string
	Title() string
	Description() string
	Organization() string

	Export(ctx ExportContext) error
	Import(ctx ImportContext) error
	// IncompatibleImport is called instead of Import when the archive was
	// produced by a different version of the component.
	IncompatibleImport(ctx ImportContext, exportedVersion string) error
}

// MissingImporter is implemented by components that want to be told when
// the archive holds nothing for them.
type MissingImporter interface {
	MissingImport(ctx ImportContext) error
}

// Filter selects entries by slash separated name.
type Filter func(name string) bool

// Validator checks the raw value of a property before the referenced
// entry is created. Returning false vetoes the entry; the validator is
// expected to record why.
type Validator func(r *Report, value string) bool

// GlobFilter matches a name, or its base name, against any of patterns.
func GlobFilter(patterns ...string) Filter {
	return func(name string) bool {
		base := path.Base(name)
		for _, p := range patterns {
			if ok, _ := path.Match(p, name); ok {
				return true
			}
			if ok, _ := path.Match(p, base); ok {
				return true
			}
		}
		return false
	}
}
