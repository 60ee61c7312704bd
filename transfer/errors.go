package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by RequestWrite while a transfer is in progress.
	// The request is rejected, not queued.
	ErrBusy = errors.New("transfer: device busy")

	// ErrAttemptsExhausted reports that the printer never confirmed the print
	// start within the attempt budget.
	ErrAttemptsExhausted = errors.New("transfer: printer did not start the print, attempts exhausted")

	// ErrConnClosed is returned when sending on a connection that isn't open.
	ErrConnClosed = errors.New("transfer: connection closed")

	// ErrShutdown is returned by Conn methods after Shutdown.
	ErrShutdown = errors.New("transfer: connection shut down")

	// ErrInvalidFileName reports a printer side file name that can't be used.
	ErrInvalidFileName = errors.New("transfer: invalid file name")
)

// NetworkError is a connection level failure. It is reported once per occurrence.
type NetworkError struct {
	// Op is the failing operation: "dial", "read", "write" or "send".
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transfer: network error on %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
