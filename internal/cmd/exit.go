package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
)

// exitFailure is the generic failure code: a job that failed, a rejected
// session.
const exitFailure = 1

const msgSessionExpired = "Session expired, run 'inventoryctl login'"

// cliError carries the process exit code for a failed command.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	return exitFailure
}

// apiFailure maps an API error onto an exit code with the server's
// explanation as the message.
func apiFailure(action string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, action+" cancelled", err)
	case apiclient.IsUnauthenticated(err):
		return exitError(exitFailure, msgSessionExpired, err)
	case apiclient.IsValidation(err):
		return exitError(foundry.ExitInvalidArgument, action+": "+apiclient.UserMessage(err), err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, action+": "+apiclient.UserMessage(err), err)
	}
}

// requestFailure is apiFailure for calls that validate their input before
// sending: an error that never reached the API is an invalid argument.
func requestFailure(action string, err error) error {
	if !errors.As(err, new(*apiclient.APIError)) {
		return exitError(foundry.ExitInvalidArgument, action, err)
	}
	return apiFailure(action, err)
}
