package migration

import (
	"fmt"
	"strings"

	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
)

// Options carries the environment shared by the migration managers.
type Options struct {
	Paths            *pathutil.Resolver
	ProductVersion   string
	SystemProperties properties.Source
	Logger           *logging.Logger
}

func (o Options) logger() *logging.Logger {
	if o.Logger == nil {
		return logging.NewDiscard()
	}
	return o.Logger
}

func (o Options) validate() error {
	if o.Paths == nil {
		return fmt.Errorf("home directory resolver is required")
	}
	if strings.TrimSpace(o.ProductVersion) == "" {
		return fmt.Errorf("product version is required")
	}
	return nil
}

// uniqueMigratables drops components with an empty or repeated id, keeping
// the first registration.
func uniqueMigratables(r *Report, migratables []Migratable) []Migratable {
	seen := make(map[string]struct{}, len(migratables))
	out := make([]Migratable, 0, len(migratables))
	for _, m := range migratables {
		if m == nil {
			continue
		}
		id := m.ID()
		if strings.TrimSpace(id) == "" {
			r.RecordError(NewError("", nil, "migratable [%s] has an empty id", m.Title()))
			continue
		}
		if _, dup := seen[id]; dup {
			r.RecordWarning("migratable [%s] is registered more than once; ignoring the duplicate", id)
			continue
		}
		seen[id] = struct{}{}
		out = append(out, m)
	}
	return out
}
