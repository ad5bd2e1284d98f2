package orchestrator

import (
	"time"

	"github.com/tis24dev/confmigrate/internal/metrics"
	"github.com/tis24dev/confmigrate/internal/migration"
	"github.com/tis24dev/confmigrate/internal/types"
)

// RunStats summarizes one export, import or decrypt run.
type RunStats struct {
	Operation      migration.Operation
	Report         *migration.Report
	ProductVersion string
	ToolVersion    string

	ArchivePath string
	// OutputPath is the decrypted archive, for decrypt runs.
	OutputPath  string
	Checksum    string
	ArchiveSize int64
	Migratables int

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode     types.ExitCode
	ErrorCount   int
	WarningCount int
}

func (s *RunStats) toPrometheusMetrics() *metrics.RunMetrics {
	if s == nil {
		return nil
	}

	reportID := ""
	if s.Report != nil {
		reportID = s.Report.ID()
	}
	return &metrics.RunMetrics{
		Operation:      s.Operation.String(),
		ReportID:       reportID,
		ProductVersion: s.ProductVersion,
		ToolVersion:    s.ToolVersion,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Duration:       s.Duration,
		ExitCode:       s.ExitCode.Int(),
		ErrorCount:     s.ErrorCount,
		WarningCount:   s.WarningCount,
		Migratables:    s.Migratables,
		ArchiveSize:    s.ArchiveSize,
	}
}
