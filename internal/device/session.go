// internal/device/session.go
package device

import (
	"fmt"
	"time"

	"github.com/ifluidics/pumpd/internal/regmap"
)

// Bus is the transport surface a session needs. One call is one
// serialized exchange on the shared line.
type Bus interface {
	ReadCoils(unit uint8, address, quantity uint16) ([]bool, error)
	ReadHolding(unit uint8, address, quantity uint16) ([]uint16, error)
	WriteCoil(unit uint8, address uint16, on bool) error
	WriteRegisters(unit uint8, address uint16, regs []uint16) error
}

// Session translates domain operations into bus exchanges via the
// register map. It owns the per-instrument cached limits; health
// bookkeeping belongs to the scheduler.
type Session struct {
	cfg    Config
	bus    Bus
	limits *Limits

	// telemetry read plan: contiguous holding fields batched into
	// single reads, computed once at construction
	spans []regmap.Span
}

// NewSession validates the config and precomputes the poll plan.
func NewSession(cfg Config, bus Bus) (*Session, error) {
	if cfg.Label == "" {
		return nil, fmt.Errorf("device: label required")
	}
	if cfg.Unit < 1 || cfg.Unit > 247 {
		return nil, fmt.Errorf("device %q: bus address %d out of range 1..247", cfg.Label, cfg.Unit)
	}
	if cfg.Map == nil {
		return nil, fmt.Errorf("device %q: register map required", cfg.Label)
	}
	var holding []regmap.Field
	for _, name := range []string{regmap.FieldPressure, regmap.FieldFlowRate, regmap.FieldRunState} {
		f, ok := cfg.Map.Field(name)
		if !ok {
			return nil, fmt.Errorf("device %q: map %q missing field %q", cfg.Label, cfg.Map.Name(), name)
		}
		// Poll reads run state off the coil table; a register-valued
		// run_state would be batched into the holding spans and then
		// read from the wrong table.
		if name == regmap.FieldRunState {
			if f.Codec != regmap.CodecCoil {
				return nil, fmt.Errorf("device %q: map %q: %s must be a coil, got %s", cfg.Label, cfg.Map.Name(), name, f.Codec)
			}
			continue
		}
		if f.Table == regmap.TableHolding {
			holding = append(holding, f)
		}
	}
	return &Session{
		cfg:   cfg,
		bus:   bus,
		spans: regmap.Coalesce(holding),
	}, nil
}

// Label returns the instrument's human label.
func (s *Session) Label() string { return s.cfg.Label }

// Unit returns the instrument's bus address.
func (s *Session) Unit() uint8 { return s.cfg.Unit }

// Poll reads pressure, flow rate and run state in one bus turn per span
// and decodes them. Any underlying failure returns a PollError; health
// accounting is the caller's job.
func (s *Session) Poll() (TelemetrySample, error) {
	sample := TelemetrySample{Device: s.cfg.Label, At: time.Now()}

	words := make(map[regmap.Span][]uint16, len(s.spans))
	for _, span := range s.spans {
		regs, err := s.bus.ReadHolding(s.cfg.Unit, span.Address, span.Count)
		if err != nil {
			return TelemetrySample{}, &PollError{Device: s.cfg.Label, Err: err}
		}
		words[span] = regs
	}

	var err error
	if sample.Pressure, err = s.decodeFrom(words, regmap.FieldPressure); err != nil {
		return TelemetrySample{}, &PollError{Device: s.cfg.Label, Err: err}
	}
	if sample.FlowRate, err = s.decodeFrom(words, regmap.FieldFlowRate); err != nil {
		return TelemetrySample{}, &PollError{Device: s.cfg.Label, Err: err}
	}

	run, _ := s.cfg.Map.Field(regmap.FieldRunState)
	bits, err := s.bus.ReadCoils(s.cfg.Unit, run.Address, run.Count)
	if err != nil {
		return TelemetrySample{}, &PollError{Device: s.cfg.Label, Err: err}
	}
	if len(bits) < 1 {
		return TelemetrySample{}, &PollError{Device: s.cfg.Label, Err: fmt.Errorf("run state: empty coil response")}
	}
	sample.Running = bits[0]

	return sample, nil
}

// decodeFrom extracts one field's words out of the batched span reads.
func (s *Session) decodeFrom(words map[regmap.Span][]uint16, name string) (float64, error) {
	f, _ := s.cfg.Map.Field(name)
	for span, regs := range words {
		if !span.Contains(f) {
			continue
		}
		off := f.Address - span.Address
		return f.Decode(regs[off : off+f.Count])
	}
	return 0, fmt.Errorf("field %q not covered by poll plan", name)
}

// FetchLimits reads units and maximum settings, caching them for
// setpoint validation. Issued once at session start.
func (s *Session) FetchLimits() (Limits, error) {
	var lim Limits

	unitsField, ok := s.cfg.Map.Field(regmap.FieldUnits)
	if !ok {
		return Limits{}, fmt.Errorf("device %q: map %q missing field %q", s.cfg.Label, s.cfg.Map.Name(), regmap.FieldUnits)
	}
	bits, err := s.bus.ReadCoils(s.cfg.Unit, unitsField.Address, unitsField.Count)
	if err != nil {
		return Limits{}, err
	}
	if lim.Units, err = regmap.DecodeUnits(bits); err != nil {
		return Limits{}, err
	}

	if lim.MaxPressure, err = s.readScalar(regmap.FieldMaxPressure); err != nil {
		return Limits{}, err
	}
	if lim.MaxFlow, err = s.readScalar(regmap.FieldMaxFlow); err != nil {
		return Limits{}, err
	}

	s.limits = &lim
	return lim, nil
}

// Limits returns the cached limits, if fetched.
func (s *Session) Limits() (Limits, bool) {
	if s.limits == nil {
		return Limits{}, false
	}
	return *s.limits, true
}

// SetRunState writes the run/stop coil.
func (s *Session) SetRunState(on bool) error {
	f, ok := s.cfg.Map.Field(regmap.FieldRunState)
	if !ok {
		return fmt.Errorf("device %q: map %q missing field %q", s.cfg.Label, s.cfg.Map.Name(), regmap.FieldRunState)
	}
	return s.bus.WriteCoil(s.cfg.Unit, f.Address, on)
}

// SetSetpoint validates value against the cached maximum for the field
// and writes the setpoint registers. Values over the maximum fail
// locally without touching the bus.
func (s *Session) SetSetpoint(field string, value float64) error {
	var max float64
	switch field {
	case regmap.FieldFlowSetpoint:
		if s.limits == nil {
			return ErrLimitsUnknown
		}
		max = s.limits.MaxFlow
	case regmap.FieldPressureSetpoint:
		if s.limits == nil {
			return ErrLimitsUnknown
		}
		max = s.limits.MaxPressure
	default:
		return fmt.Errorf("device %q: %q is not a setpoint field", s.cfg.Label, field)
	}

	if value < 0 || value > max {
		return &OutOfRangeError{Device: s.cfg.Label, Field: field, Value: value, Max: max}
	}

	f, ok := s.cfg.Map.Field(field)
	if !ok {
		return fmt.Errorf("device %q: map %q missing field %q", s.cfg.Label, s.cfg.Map.Name(), field)
	}
	regs, err := f.Encode(value)
	if err != nil {
		return err
	}
	return s.bus.WriteRegisters(s.cfg.Unit, f.Address, regs)
}

func (s *Session) readScalar(name string) (float64, error) {
	f, ok := s.cfg.Map.Field(name)
	if !ok {
		return 0, fmt.Errorf("device %q: map %q missing field %q", s.cfg.Label, s.cfg.Map.Name(), name)
	}
	regs, err := s.bus.ReadHolding(s.cfg.Unit, f.Address, f.Count)
	if err != nil {
		return 0, err
	}
	return f.Decode(regs)
}
