package cli

import (
	"errors"

	"github.com/aretw0/stageflow/pkg/domain"
)

// Exit codes by error category.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitNotFound          = 3
	ExitValidation        = 4
	ExitInvalidTransition = 5
	ExitConflict          = 6
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMalformedDefinition):
		return ExitValidation
	case errors.Is(err, domain.ErrInvalidTransition):
		return ExitInvalidTransition
	case errors.Is(err, domain.ErrConflict):
		return ExitConflict
	}
	return ExitFailure
}
