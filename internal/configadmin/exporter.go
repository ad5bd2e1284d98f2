package configadmin

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/safefs"
)

// DumpDirName is the directory, inside the export directory, receiving the
// readable configuration dump.
const DumpDirName = "configurations"

// Exporter dumps every configuration to plain YAML files so an operator can
// review them next to the archive.
type Exporter struct {
	admin  Admin
	logger *logging.Logger
}

func NewExporter(admin Admin, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Exporter{admin: admin, logger: logger}
}

// Dump writes <exportDir>/configurations/<pid>.yaml for each configuration
// and returns how many were written.
func (e *Exporter) Dump(ctx context.Context, exportDir string) (int, error) {
	cfgs, err := e.admin.List()
	if err != nil {
		return 0, err
	}
	dir := filepath.Join(exportDir, DumpDirName)
	if err := safefs.EnsureDir(dir); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	for i, cfg := range cfgs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		data, err := Marshal(cfg)
		if err != nil {
			return i, err
		}
		path := filepath.Join(dir, cfg.PID+fileSuffix)
		if err := safefs.WriteAtomic(path, bytes.NewReader(data), 0o600, time.Time{}); err != nil {
			return i, fmt.Errorf("write %s: %w", path, err)
		}
	}
	e.logger.Info("Dumped %d configuration(s) to %s", len(cfgs), dir)
	return len(cfgs), nil
}
