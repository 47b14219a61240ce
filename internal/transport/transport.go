// internal/transport/transport.go

// Package transport performs single request/response exchanges with one
// bus unit at a time and maps wire failures onto a typed taxonomy.
// Callers serialize access to the shared line; the client itself holds
// the line only for the duration of one call.
package transport

import (
	"errors"
	"os"
	"strings"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

// Wire is the raw exchange surface. Reads return the response payload
// with the byte count stripped; the real adapter lives in the modbus
// subpackage.
type Wire interface {
	ReadCoils(unit uint8, address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(unit uint8, address, quantity uint16) ([]byte, error)
	WriteSingleCoil(unit uint8, address, value uint16) error
	WriteMultipleRegisters(unit uint8, address, quantity uint16, payload []byte) error
}

const (
	// DefaultRetries is the number of re-attempts after a failed
	// exchange, so 3 attempts total.
	DefaultRetries = 2

	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Client wraps a Wire with retry and error classification.
type Client struct {
	wire    Wire
	retries int
}

// New builds a client. retries < 0 selects DefaultRetries.
func New(wire Wire, retries int) *Client {
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Client{wire: wire, retries: retries}
}

// ReadCoils reads quantity coils starting at address.
func (c *Client) ReadCoils(unit uint8, address, quantity uint16) ([]bool, error) {
	var payload []byte
	err := c.exchange("read coils", unit, address, false, func() error {
		var err error
		payload, err = c.wire.ReadCoils(unit, address, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return unpackBits(payload, int(quantity)), nil
}

// ReadHolding reads quantity holding registers starting at address.
func (c *Client) ReadHolding(unit uint8, address, quantity uint16) ([]uint16, error) {
	var payload []byte
	err := c.exchange("read holding", unit, address, false, func() error {
		var err error
		payload, err = c.wire.ReadHoldingRegisters(unit, address, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	regs := unpackRegisters(payload)
	if len(regs) != int(quantity) {
		return nil, &FrameError{Op: "read holding", Unit: unit, Err: errors.New("short register payload")}
	}
	return regs, nil
}

// WriteCoil writes a single coil.
func (c *Client) WriteCoil(unit uint8, address uint16, on bool) error {
	value := coilOff
	if on {
		value = coilOn
	}
	return c.exchange("write coil", unit, address, true, func() error {
		return c.wire.WriteSingleCoil(unit, address, value)
	})
}

// WriteRegisters writes consecutive holding registers starting at address.
func (c *Client) WriteRegisters(unit uint8, address uint16, regs []uint16) error {
	payload := packRegisters(regs)
	return c.exchange("write registers", unit, address, true, func() error {
		return c.wire.WriteMultipleRegisters(unit, address, uint16(len(regs)), payload)
	})
}

// exchange runs fn up to retries+1 times. Only timeouts and frame errors
// are retried: exception responses and write rejections are definitive
// device answers, and port loss is fatal. No backoff beyond the fixed
// per-attempt deadline.
func (c *Client) exchange(op string, unit uint8, address uint16, isWrite bool, fn func() error) error {
	attempts := c.retries + 1

	var last error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		terr := classify(op, unit, address, isWrite, err)
		if !retryable(terr) {
			return terr
		}
		last = terr
	}

	var te *TimeoutError
	if errors.As(last, &te) {
		te.Attempts = attempts
	}
	return last
}

func retryable(err error) bool {
	var te *TimeoutError
	var fe *FrameError
	return errors.As(err, &te) || errors.As(err, &fe)
}

// classify maps a wire error onto the typed taxonomy.
func classify(op string, unit uint8, address uint16, isWrite bool, err error) error {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &ExceptionError{Op: op, Unit: unit, Code: me.ExceptionCode}
	}
	if errors.Is(err, serial.ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) || os.IsTimeout(err) {
		return &TimeoutError{Op: op, Unit: unit, Attempts: 1, Err: err}
	}
	if portGone(err) {
		return &PortError{Op: op, Err: err}
	}
	// goburrow reports request/echo mismatches as formatted errors.
	if isWrite && strings.Contains(err.Error(), "does not match request") {
		return &WriteRejectedError{Op: op, Unit: unit, Address: address, Err: err}
	}
	return &FrameError{Op: op, Unit: unit, Err: err}
}

func portGone(err error) bool {
	if errors.Is(err, os.ErrClosed) {
		return true
	}
	var se *os.SyscallError
	if errors.As(err, &se) {
		return true
	}
	var pe *os.PathError
	return errors.As(err, &pe)
}

// ---- payload helpers ----

func unpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		if byteIdx >= len(data) {
			continue
		}
		out[i] = data[byteIdx]&(1<<bitIdx) != 0
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
