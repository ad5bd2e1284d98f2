package configadmin

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/tis24dev/confmigrate/internal/migration"
	"gopkg.in/yaml.v3"
)

const (
	MigratableID      = "config.admin"
	MigratableVersion = "1.0"

	// entryDir holds one virtual entry per configuration.
	entryDir = "etc/configurations"
)

// Migratable exports configurations as generated archive entries and
// replaces the destination configurations on import.
type Migratable struct {
	admin Admin
}

func NewMigratable(admin Admin) *Migratable {
	return &Migratable{admin: admin}
}

func (m *Migratable) ID() string           { return MigratableID }
func (m *Migratable) Version() string      { return MigratableVersion }
func (m *Migratable) Title() string        { return "Configuration Admin" }
func (m *Migratable) Organization() string { return "confmigrate" }
func (m *Migratable) Description() string {
	return "Service configuration objects managed by the configuration admin"
}

func (m *Migratable) Export(ctx migration.ExportContext) error {
	cfgs, err := m.admin.List()
	if err != nil {
		return fmt.Errorf("list configurations: %w", err)
	}
	for _, cfg := range cfgs {
		ctx.Entry(path.Join(entryDir, cfg.PID+fileSuffix)).StoreWith(func(r *migration.Report, w io.Writer) error {
			data, err := Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		})
	}
	ctx.Report().RecordInfo("exported %d configuration(s)", len(cfgs))
	return nil
}

func (m *Migratable) Import(ctx migration.ImportContext) error {
	// PIDs present in the archive survive even when their import fails.
	archived := make(map[string]struct{})
	for _, entry := range ctx.Entries(entryDir, nil) {
		pid := strings.TrimSuffix(path.Base(entry.Name()), fileSuffix)
		archived[pid] = struct{}{}
		entry.RestoreWith(func(r *migration.Report, rd io.Reader) error {
			var cfg Configuration
			if err := yaml.NewDecoder(rd).Decode(&cfg); err != nil {
				return fmt.Errorf("decode configuration: %w", err)
			}
			if cfg.PID != pid {
				return fmt.Errorf("entry declares pid %q", cfg.PID)
			}
			return m.admin.Update(cfg)
		})
	}

	existing, err := m.admin.List()
	if err != nil {
		return fmt.Errorf("list configurations: %w", err)
	}
	for _, cfg := range existing {
		if _, ok := archived[cfg.PID]; ok {
			continue
		}
		if err := m.admin.Delete(cfg.PID); err != nil {
			ctx.Report().RecordError(migration.NewError(cfg.PID, err, "failed to delete configuration [%s]", cfg.PID))
			continue
		}
		ctx.Report().RecordInfo("deleted configuration [%s] which was not exported", cfg.PID)
	}
	return nil
}

func (m *Migratable) IncompatibleImport(ctx migration.ImportContext, exportedVersion string) error {
	ctx.Report().RecordWarning("configurations were exported by configuration admin version [%s]; version [%s] cannot import them and they must be recreated manually", exportedVersion, MigratableVersion)
	return nil
}
