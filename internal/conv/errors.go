package conv

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks selections that cannot satisfy the requested
	// algorithm or workspace budget.
	ErrConfiguration = errors.New("convolution configuration error")
	// ErrCapability marks operators the device cannot run.
	ErrCapability = errors.New("convolution not supported on device")
	// ErrBackendQuery wraps failures of a whole backend query call.
	ErrBackendQuery = errors.New("backend query failed")
	// ErrStreamState is returned when stream handshakes are issued out of order.
	ErrStreamState = errors.New("stream coordinator out of order")
)

// ConfigurationError reports that no candidate survived ranking for Role.
type ConfigurationError struct {
	Role       Role
	Mode       TuneMode
	Budget     int64
	Preference AlgoID
	// Tried is the number of candidates the backend returned.
	Tried int
}

func (e *ConfigurationError) Error() string {
	verb := "find"
	if e.Mode == TuneOff {
		verb = "get"
	}
	if e.Preference != NoPreference {
		return fmt.Sprintf("failed to %s %s convolution algorithm %d with workspace size of %d bytes, please consider reducing batch/model size or increasing the workspace size",
			verb, e.Role, e.Preference, e.Budget)
	}
	return fmt.Sprintf("failed to %s any %s convolution algorithm with workspace size of %d bytes (%d tried), please consider reducing batch/model size or increasing the workspace size",
		verb, e.Role, e.Budget, e.Tried)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// CapabilityError is returned before selection when the device or backend
// cannot run the requested combination.
type CapabilityError struct {
	Reason string
}

func (e *CapabilityError) Error() string {
	return e.Reason
}

func (e *CapabilityError) Unwrap() error {
	return ErrCapability
}

func capabilityError(format string, args ...any) error {
	return &CapabilityError{Reason: fmt.Sprintf(format, args...)}
}

func backendQueryError(op string, role Role, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBackendQuery, op, role, err)
}
