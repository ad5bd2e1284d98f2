package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tis24dev/confmigrate/internal/types"
)

// MigrationError represents a failed run with the phase that failed and
// the exit code to report.
type MigrationError struct {
	Phase string // "prepare", "encryption", "archive", "verification", "migration"
	Err   error
	Code  types.ExitCode
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// ExitCodeFor returns the exit code carried by err, or ExitGenericError.
func ExitCodeFor(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var merr *MigrationError
	if errors.As(err, &merr) {
		return merr.Code
	}
	return types.ExitGenericError
}
