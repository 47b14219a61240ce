// internal/device/device.go

// Package device models one instrument on the bus: its identity, its
// register map, and the domain operations a session supports.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/ifluidics/pumpd/internal/regmap"
)

// Config identifies one instrument. Immutable for the process lifetime.
type Config struct {
	Label string
	Unit  uint8 // bus address 1..247
	Map   *regmap.Map
}

// Limits is the instrument's configured units and maximum settings,
// fetched once at session start and used for setpoint validation and
// output headers.
type Limits struct {
	Units       regmap.Units
	MaxPressure float64
	MaxFlow     float64
}

// TelemetrySample is one poll's readings. Immutable; owned by the sink
// after emission.
type TelemetrySample struct {
	Device   string
	At       time.Time
	Pressure float64
	FlowRate float64
	Running  bool
}

// PollError wraps a transport failure out of a poll attempt.
type PollError struct {
	Device string
	Err    error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("device %q: poll failed: %v", e.Device, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// OutOfRangeError is a setpoint rejected locally against cached limits.
// No bus traffic is issued for these.
type OutOfRangeError struct {
	Device string
	Field  string
	Value  float64
	Max    float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("device %q: %s %v exceeds maximum %v", e.Device, e.Field, e.Value, e.Max)
}

// ErrLimitsUnknown means a setpoint was attempted before FetchLimits
// succeeded.
var ErrLimitsUnknown = errors.New("device: limits not fetched")
