package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations, checked with errors.Is.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotQueued    = errors.New("job is not queued")
	ErrJobNotTerminal  = errors.New("job is not in a terminal state")
	ErrValidation      = errors.New("invalid request")
	ErrRegistryClosed  = errors.New("registry is closed")
)

func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func jobNotQueuedError(id string, status Status) error {
	return fmt.Errorf("%w (status: %s): %s", ErrJobNotQueued, status, id)
}

func jobNotTerminalError(id string, status Status) error {
	return fmt.Errorf("%w (status: %s): %s", ErrJobNotTerminal, status, id)
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
