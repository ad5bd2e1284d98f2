package migration

import "io"

// Outcome memoizes the result of storing or restoring an entry.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a file or directory owned by one component. Name is slash
// separated and relative to the home directory unless the file lives
// outside of it.
type Entry interface {
	ID() string
	Name() string
	Path() string
}

// SameEntry reports whether a and b designate the same component file.
func SameEntry(a, b Entry) bool {
	return a.ID() == b.ID() && a.Name() == b.Name()
}

// ExportEntry is an entry being written to an archive. Every store method
// runs at most once; later calls return the memoized outcome.
type ExportEntry interface {
	Entry
	// Store copies the file or directory into the archive. A missing file is
	// an error when required.
	Store(required bool) bool
	// StoreFiltered stores a directory keeping only the children accepted by
	// filter.
	StoreFiltered(required bool, filter Filter) bool
	// StoreWith lets fn produce the entry content. Nothing is archived when
	// fn fails before writing.
	StoreWith(fn func(r *Report, w io.Writer) error) bool
	// Writer returns a writer for the entry content.
	Writer() (io.Writer, error)
	// PropertyReferencedEntry treats this entry as a Java properties file
	// and returns the entry referenced by property name.
	PropertyReferencedEntry(name string, validator Validator) (ExportEntry, bool)
}

// ImportEntry is an entry replayed from an archive.
type ImportEntry interface {
	Entry
	// Restore writes the entry back to disk. Externals are only verified.
	Restore(required bool) bool
	// RestoreWith hands the archived content to fn instead of writing it.
	RestoreWith(fn func(r *Report, rd io.Reader) error) bool
	// PropertyReferencedEntry treats this entry as a Java properties file
	// and returns the entry referenced by property name.
	PropertyReferencedEntry(name string) (ImportEntry, bool)
}

// once runs fn the first time and replays its result afterwards.
func once(outcome *Outcome, fn func() bool) bool {
	if *outcome != OutcomePending {
		return *outcome == OutcomeSucceeded
	}
	*outcome = OutcomeFailed
	if fn() {
		*outcome = OutcomeSucceeded
	}
	return *outcome == OutcomeSucceeded
}
