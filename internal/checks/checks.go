// Package checks runs the preflight checks guarding a migration run: the
// export directory must be writable, hold enough free space and not be in
// use by another run.
package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tis24dev/confmigrate/internal/logging"
)

// LockFileName is created inside the export directory while a run holds it.
const LockFileName = ".confmigrate.lock"

var (
	osStat     = os.Stat
	osRemove   = os.Remove
	osOpenFile = os.OpenFile
	syncFile   = func(f *os.File) error { return f.Sync() }
	freeSpace  = diskFreeBytes
)

// CheckerConfig holds the preflight settings.
type CheckerConfig struct {
	ExportDir string
	// MinFreeBytes is the space required in ExportDir; zero disables the check.
	MinFreeBytes uint64
	LockFilePath string
	MaxLockAge   time.Duration
	// Operation is written into the lock file.
	Operation string
}

// Validate checks the configuration and fills defaults.
func (c *CheckerConfig) Validate() error {
	if c.ExportDir == "" {
		return fmt.Errorf("export directory cannot be empty")
	}
	if c.LockFilePath == "" {
		c.LockFilePath = filepath.Join(c.ExportDir, LockFileName)
	}
	if c.MaxLockAge <= 0 {
		return fmt.Errorf("max lock age must be positive")
	}
	return nil
}

// CheckResult holds the result of a validation check
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// Checker performs the preflight checks of one run.
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
	locked bool
}

func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Checker{logger: logger, config: config}
}

// RunAllChecks runs the directory, disk space and lock checks in that
// order and stops at the first failure. A successful run holds the lock
// until ReleaseLock.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	c.logger.Debug("Running preflight checks on %s", c.config.ExportDir)

	var results []CheckResult
	for _, check := range []func() CheckResult{c.CheckDirectory, c.CheckDiskSpace, c.CheckLockFile} {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := check()
		results = append(results, result)
		if !result.Passed {
			if result.Error != nil {
				return results, fmt.Errorf("%s check failed: %w", strings.ToLower(result.Name), result.Error)
			}
			return results, fmt.Errorf("%s check failed: %s", strings.ToLower(result.Name), result.Message)
		}
	}
	return results, nil
}

// CheckDirectory verifies the export directory exists and accepts new files.
func (c *Checker) CheckDirectory() CheckResult {
	result := CheckResult{Name: "Directory"}
	dir := c.config.ExportDir

	info, err := osStat(dir)
	if err != nil {
		result.Error = fmt.Errorf("export directory %s is not accessible: %w", dir, err)
		result.Message = result.Error.Error()
		return result
	}
	if !info.IsDir() {
		result.Message = fmt.Sprintf("export path %s is not a directory", dir)
		return result
	}

	probe, err := os.CreateTemp(dir, ".confmigrate-probe-*")
	if err != nil {
		result.Error = fmt.Errorf("export directory %s is not writable: %w", dir, err)
		result.Message = result.Error.Error()
		return result
	}
	probe.Close()
	if err := osRemove(probe.Name()); err != nil {
		c.logger.Warning("Failed to remove probe file %s: %v", probe.Name(), err)
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%s is writable", dir)
	c.logger.Debug("%s", result.Message)
	return result
}

// CheckDiskSpace verifies the export directory has MinFreeBytes available.
func (c *Checker) CheckDiskSpace() CheckResult {
	result := CheckResult{Name: "Disk Space"}
	if c.config.MinFreeBytes == 0 {
		result.Passed = true
		result.Message = "Disk space check disabled"
		return result
	}

	available, err := freeSpace(c.config.ExportDir)
	if err != nil {
		result.Error = fmt.Errorf("disk space check failed (%s): %w", c.config.ExportDir, err)
		result.Message = result.Error.Error()
		return result
	}
	c.logger.Debug("%s available on %s, %s required", humanize.Bytes(available), c.config.ExportDir, humanize.Bytes(c.config.MinFreeBytes))
	if available < c.config.MinFreeBytes {
		result.Message = fmt.Sprintf("disk space insufficient on %s: %s available, %s required",
			c.config.ExportDir, humanize.Bytes(available), humanize.Bytes(c.config.MinFreeBytes))
		c.logger.Error("%s", result.Message)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%s available", humanize.Bytes(available))
	return result
}

// CheckLockFile removes a stale lock and takes a new one.
func (c *Checker) CheckLockFile() CheckResult {
	result := CheckResult{Name: "Lock File"}
	lockPath := c.config.LockFilePath

	if info, err := osStat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		if age <= c.config.MaxLockAge {
			result.Message = fmt.Sprintf("another migration is using %s (lock age: %v, %s)",
				c.config.ExportDir, age.Round(time.Second), describeLock(lockPath))
			c.logger.Error("%s", result.Message)
			return result
		}
		c.logger.Warning("Removing stale lock file %s (age: %v)", lockPath, age.Round(time.Second))
		if err := osRemove(lockPath); err != nil && !os.IsNotExist(err) {
			result.Error = fmt.Errorf("failed to remove stale lock: %w", err)
			result.Message = result.Error.Error()
			return result
		}
	}

	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			result.Message = "another migration acquired the lock"
			c.logger.Error("%s", result.Message)
			return result
		}
		result.Error = fmt.Errorf("failed to create lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	content := fmt.Sprintf("pid=%d\nhost=%s\noperation=%s\ntime=%s\n",
		os.Getpid(), hostname, c.config.Operation, time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		osRemove(lockPath)
		result.Error = fmt.Errorf("failed to write lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	if err := syncFile(f); err != nil {
		c.logger.Warning("Failed to sync lock file %s: %v", lockPath, err)
	}

	c.locked = true
	result.Passed = true
	result.Message = "Lock file acquired"
	c.logger.Debug("Lock file acquired: %s", lockPath)
	return result
}

// ReleaseLock removes the lock taken by CheckLockFile. It is a no-op when
// no lock is held.
func (c *Checker) ReleaseLock() error {
	if !c.locked {
		return nil
	}
	c.locked = false
	if err := osRemove(c.config.LockFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	c.logger.Debug("Lock file released: %s", c.config.LockFilePath)
	return nil
}

// describeLock summarizes the holder recorded in a lock file.
func describeLock(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "holder unknown"
	}
	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			fields[k] = v
		}
	}
	pid, err := strconv.Atoi(fields["pid"])
	if err != nil {
		return "holder unknown"
	}
	desc := fmt.Sprintf("pid %d", pid)
	if host := fields["host"]; host != "" {
		desc += " on " + host
	}
	if op := fields["operation"]; op != "" {
		desc += " running " + op
	}
	return desc
}

func diskFreeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
