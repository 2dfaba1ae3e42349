package core

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation is the panic value (wrapped) raised by Assert.
	ErrContractViolation = errors.New("contract violation")
	ErrDeviceRemoved     = errors.New("device removed")
	ErrUnknownQueue      = errors.New("unknown command queue type")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownBackend    = errors.New("unknown renderer backend")
	ErrUnknown           = errors.New("unknown")
)

// Assert aborts the current frame when cond is false. Every failure in this
// layer is a programming error, so the panic is not meant to be recovered
// outside of tests.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	err := fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
	LogError(err.Error())
	panic(err)
}
