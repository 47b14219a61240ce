// internal/transport/errors.go
package transport

import (
	"errors"
	"fmt"
)

// TimeoutError means no valid response arrived within the per-attempt
// deadline on any attempt.
type TimeoutError struct {
	Op       string
	Unit     uint8
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: %s unit %d: timeout after %d attempts: %v", e.Op, e.Unit, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// FrameError means the response was malformed: bad CRC, short payload,
// or otherwise unparseable.
type FrameError struct {
	Op   string
	Unit uint8
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("transport: %s unit %d: frame error: %v", e.Op, e.Unit, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ExceptionError is a protocol-level exception returned by the device.
type ExceptionError struct {
	Op   string
	Unit uint8
	Code byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("transport: %s unit %d: exception response code %d", e.Op, e.Unit, e.Code)
}

// WriteRejectedError means the device's echoed response did not match
// the write request.
type WriteRejectedError struct {
	Op      string
	Unit    uint8
	Address uint16
	Err     error
}

func (e *WriteRejectedError) Error() string {
	return fmt.Sprintf("transport: %s unit %d addr %d: write rejected: %v", e.Op, e.Unit, e.Address, e.Err)
}

func (e *WriteRejectedError) Unwrap() error { return e.Err }

// PortError means the serial port itself failed. Not recoverable here;
// the surrounding application restarts or reconnects.
type PortError struct {
	Op  string
	Err error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("transport: %s: serial port failure: %v", e.Op, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsFatal reports whether err is (or wraps) a PortError.
func IsFatal(err error) bool {
	var pe *PortError
	return errors.As(err, &pe)
}
