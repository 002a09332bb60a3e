package research

import (
	"errors"
	"fmt"
)

// ErrInsufficientBudget is returned by BudgetTracker.Charge when a charge
// would push a branch past its context window.
var ErrInsufficientBudget = errors.New("insufficient context budget")

// ErrUnknownBranch is returned for budget operations on an unregistered branch.
var ErrUnknownBranch = errors.New("unknown branch")

// TransientBackendError wraps a network or timeout failure talking to a
// scoring backend. It is retried with backoff before being surfaced.
type TransientBackendError struct {
	Backend string
	Err     error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient backend failure (%s): %v", e.Backend, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// ConfigError reports an unresolvable profile or backend at startup. No
// branch execution begins once one is raised.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err is (or wraps) a TransientBackendError.
func IsTransient(err error) bool {
	var t *TransientBackendError
	return errors.As(err, &t)
}
