package exitcode

import (
	"os"

	"github.com/trevorstenson/crowd-agent/internal/errors"
)

// Exit codes for the phase commands. The invoking workflow treats any
// non-zero code as an unrecoverable setup failure for that job.
const (
	// Success indicates the phase completed its own work
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// SetupError indicates missing preconditions, e.g. no prior
	// checkpoint on a continuation run or unusable configuration
	SetupError = 3

	// ProviderError indicates the model endpoint was permanently unreachable
	ProviderError = 4
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeCheckpointNotFound,
		errors.ErrCodeConfigInvalid,
		errors.ErrCodeConfigMissing,
		errors.ErrCodeExploreTaskMissing:
		return SetupError
	case errors.ErrCodeProviderPermanent:
		return ProviderError
	}

	return GeneralError
}
