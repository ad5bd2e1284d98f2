package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tis24dev/confmigrate/internal/orchestrator"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func printSummary(w io.Writer, stats *orchestrator.RunStats) {
	if stats == nil || stats.Report == nil {
		return
	}
	title := cases.Title(language.English).String(stats.Operation.String())

	status := "completed successfully"
	switch {
	case stats.ErrorCount > 0:
		status = "failed"
	case stats.WarningCount > 0:
		status = "completed with warnings"
	}

	fmt.Fprintf(w, "\n===== %s summary =====\n", title)
	fmt.Fprintf(w, "Status:      %s\n", status)
	fmt.Fprintf(w, "Report ID:   %s\n", stats.Report.ID())
	fmt.Fprintf(w, "Archive:     %s\n", stats.ArchivePath)
	if stats.OutputPath != "" {
		fmt.Fprintf(w, "Output:      %s\n", stats.OutputPath)
	}
	if stats.ArchiveSize > 0 {
		fmt.Fprintf(w, "Size:        %s\n", humanize.Bytes(uint64(stats.ArchiveSize)))
	}
	if stats.Checksum != "" {
		fmt.Fprintf(w, "SHA256:      %s\n", stats.Checksum)
	}
	fmt.Fprintf(w, "Components:  %d\n", stats.Migratables)
	fmt.Fprintf(w, "Duration:    %s\n", stats.Duration.Round(time.Millisecond))

	if warnings := stats.Report.Warnings(); len(warnings) > 0 {
		fmt.Fprintf(w, "Warnings (%d):\n", len(warnings))
		for _, msg := range warnings {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
	if errs := stats.Report.Errors(); len(errs) > 0 {
		fmt.Fprintf(w, "Errors (%d):\n", len(errs))
		for _, err := range errs {
			fmt.Fprintf(w, "  - %v\n", err)
		}
	}
}
