package router

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by executor lookups before Connect has
	// succeeded or after Disconnect.
	ErrNotConnected = errors.New("router: not connected")
	// ErrConnectionFailure matches every *ConnectionError.
	ErrConnectionFailure = errors.New("router: connection failure")
	ErrUnknownDriver     = errors.New("router: unknown driver")
	ErrUnknownPolicy     = errors.New("router: unknown load balancing policy")
)

// ConnectionError reports a target that could not be opened or probed.
type ConnectionError struct {
	Target string
	Role   Role
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("router: %s target %q: %v", e.Role, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailure
}

// RollbackError is returned by RunInTransaction when the rollback that
// followed a failed transaction body also failed. It unwraps to the body's
// error.
type RollbackError struct {
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v (rollback failed: %v)", e.Err, e.RollbackErr)
}

func (e *RollbackError) Unwrap() error { return e.Err }
