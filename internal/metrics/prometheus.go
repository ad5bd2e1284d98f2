package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/confmigrate/internal/logging"
)

// RunMetrics represents the statistics of one export, import or decrypt run.
type RunMetrics struct {
	Operation      string
	ReportID       string
	ProductVersion string
	ToolVersion    string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode     int
	ErrorCount   int
	WarningCount int
	Migratables  int
	ArchiveSize  int64
}

// PrometheusExporter writes run metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// FileName returns the textfile name used for an operation.
func FileName(operation string) string {
	return "confmigrate_" + operation + ".prom"
}

// Export writes the given metrics snapshot to confmigrate_<operation>.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}

	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if m.Operation == "" {
		return fmt.Errorf("metrics operation is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	finalPath := filepath.Join(pe.textfileDir, FileName(m.Operation))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", tmpPath, err)
	}
	defer f.Close()

	labels := fmt.Sprintf("{operation=%q}", m.Operation)
	writeMetric := func(name, help string, value string) {
		fmt.Fprintf(f, "# HELP %s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE %s gauge\n", name)
		fmt.Fprintf(f, "%s%s %s\n", name, labels, value)
	}

	startTs := float64(m.StartTime.Unix())
	endTs := float64(m.EndTime.Unix())
	if m.EndTime.IsZero() && !m.StartTime.IsZero() {
		endTs = float64(m.StartTime.Unix() + int64(m.Duration.Seconds()))
	}

	// 0=success, 1=warning, 2=error
	status := 0
	if m.ExitCode != 0 || m.ErrorCount > 0 {
		status = 2
	} else if m.WarningCount > 0 {
		status = 1
	}

	writeMetric("confmigrate_start_time_seconds", "Unix timestamp of the run start", fmt.Sprintf("%.0f", startTs))
	writeMetric("confmigrate_end_time_seconds", "Unix timestamp of the run end", fmt.Sprintf("%.0f", endTs))
	writeMetric("confmigrate_duration_seconds", "Duration of the last run in seconds", fmt.Sprintf("%.2f", m.Duration.Seconds()))
	writeMetric("confmigrate_exit_code", "Exit code of the last run", fmt.Sprintf("%d", m.ExitCode))
	writeMetric("confmigrate_status", "Status of the last run (0=success,1=warning,2=error)", fmt.Sprintf("%d", status))
	writeMetric("confmigrate_errors_total", "Errors recorded by the last run", fmt.Sprintf("%d", m.ErrorCount))
	writeMetric("confmigrate_warnings_total", "Warnings recorded by the last run", fmt.Sprintf("%d", m.WarningCount))
	writeMetric("confmigrate_migratables_total", "Components processed by the last run", fmt.Sprintf("%d", m.Migratables))
	writeMetric("confmigrate_archive_size_bytes", "Size of the archive produced or read", fmt.Sprintf("%d", m.ArchiveSize))

	fmt.Fprintf(f, "# HELP confmigrate_info Static information about the last run\n")
	fmt.Fprintf(f, "# TYPE confmigrate_info gauge\n")
	fmt.Fprintf(
		f,
		"confmigrate_info{operation=%q,report_id=%q,product_version=%q,tool_version=%q} 1\n",
		m.Operation,
		m.ReportID,
		m.ProductVersion,
		m.ToolVersion,
	)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metrics file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename metrics file to %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}

	return nil
}
