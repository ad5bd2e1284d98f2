package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error.
	ExitConfigError ExitCode = 2

	// ExitExportError - The export completed with errors or aborted.
	ExitExportError ExitCode = 3

	// ExitImportError - The import completed with errors or aborted.
	ExitImportError ExitCode = 4

	// ExitDecryptError - The decrypt operation completed with errors or aborted.
	ExitDecryptError ExitCode = 5

	// ExitPreflightError - Export directory unusable, out of space or locked by another run.
	ExitPreflightError ExitCode = 6

	// ExitVerificationError - Archive companion files missing or checksum mismatch.
	ExitVerificationError ExitCode = 8

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitExportError:
		return "export error"
	case ExitImportError:
		return "import error"
	case ExitDecryptError:
		return "decrypt error"
	case ExitPreflightError:
		return "preflight error"
	case ExitVerificationError:
		return "verification error"
	case ExitPanicError:
		return "panic error"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}
