package commands

import (
	"errors"

	"github.com/campusdesk/campusdesk/pkg/records"
)

// Exit codes returned by the desk binary.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitError covers backend failures and anything unclassified.
	ExitError = 1

	// ExitUsage indicates bad arguments or flags.
	ExitUsage = 2

	// ExitNotFound indicates the requested record does not exist.
	ExitNotFound = 3

	// ExitDataErr indicates a duplicate key or a cascade that stopped
	// half way.
	ExitDataErr = 4

	// ExitValidation indicates input that failed schema validation.
	ExitValidation = 5
)

// usageError marks an error caused by how the command was invoked.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func newUsageError(msg string) error { return &usageError{msg: msg} }

// ExitCode maps an error returned by Execute onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	switch records.ClassOf(err) {
	case records.ErrorClassNotFound:
		return ExitNotFound
	case records.ErrorClassValidation:
		return ExitValidation
	case records.ErrorClassDuplicateKey, records.ErrorClassPartialCascade:
		return ExitDataErr
	}
	return ExitError
}
