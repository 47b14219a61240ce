// internal/device/session_test.go
package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifluidics/pumpd/internal/regmap"
)

// fakeBus backs sessions with in-memory register state.
type fakeBus struct {
	holding map[uint32]uint16
	coils   map[uint32]bool
	fail    map[uint8]error

	reads  int
	writes int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		holding: make(map[uint32]uint16),
		coils:   make(map[uint32]bool),
		fail:    make(map[uint8]error),
	}
}

func key(unit uint8, addr uint16) uint32 {
	return uint32(unit)<<16 | uint32(addr)
}

func (b *fakeBus) ReadHolding(unit uint8, address, quantity uint16) ([]uint16, error) {
	b.reads++
	if err := b.fail[unit]; err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	for i := uint16(0); i < quantity; i++ {
		out[i] = b.holding[key(unit, address+i)]
	}
	return out, nil
}

func (b *fakeBus) ReadCoils(unit uint8, address, quantity uint16) ([]bool, error) {
	b.reads++
	if err := b.fail[unit]; err != nil {
		return nil, err
	}
	out := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		out[i] = b.coils[key(unit, address+i)]
	}
	return out, nil
}

func (b *fakeBus) WriteCoil(unit uint8, address uint16, on bool) error {
	b.writes++
	if err := b.fail[unit]; err != nil {
		return err
	}
	b.coils[key(unit, address)] = on
	return nil
}

func (b *fakeBus) WriteRegisters(unit uint8, address uint16, regs []uint16) error {
	b.writes++
	if err := b.fail[unit]; err != nil {
		return err
	}
	for i, r := range regs {
		b.holding[key(unit, address+uint16(i))] = r
	}
	return nil
}

func (b *fakeBus) setFloat(t *testing.T, unit uint8, m *regmap.Map, field string, v float64) {
	t.Helper()
	f, ok := m.Field(field)
	require.True(t, ok, field)
	regs, err := f.Encode(v)
	require.NoError(t, err)
	for i, r := range regs {
		b.holding[key(unit, f.Address+uint16(i))] = r
	}
}

func pumpASession(t *testing.T, bus Bus) *Session {
	t.Helper()
	m, _ := regmap.Builtin(regmap.ISCODPumpA)
	s, err := NewSession(Config{Label: "Pump A", Unit: 1, Map: m}, bus)
	require.NoError(t, err)
	return s
}

func seedLimits(t *testing.T, b *fakeBus, unit uint8, m *regmap.Map, maxP, maxF float64) {
	t.Helper()
	b.setFloat(t, unit, m, regmap.FieldMaxPressure, maxP)
	b.setFloat(t, unit, m, regmap.FieldMaxFlow, maxF)
	units, _ := m.Field(regmap.FieldUnits)
	b.coils[key(unit, units.Address+3)] = true // PSI
	b.coils[key(unit, units.Address+4)] = true // ml/min
}

func TestNewSession_Validation(t *testing.T) {
	m, _ := regmap.Builtin(regmap.ISCODPumpA)
	bus := newFakeBus()

	_, err := NewSession(Config{Label: "", Unit: 1, Map: m}, bus)
	assert.Error(t, err)

	_, err = NewSession(Config{Label: "x", Unit: 0, Map: m}, bus)
	assert.Error(t, err)

	_, err = NewSession(Config{Label: "x", Unit: 248, Map: m}, bus)
	assert.Error(t, err)

	_, err = NewSession(Config{Label: "x", Unit: 1, Map: nil}, bus)
	assert.Error(t, err)

	bare, err := regmap.New("bare", []regmap.Field{
		{Name: regmap.FieldPressure, Table: regmap.TableHolding, Address: 0, Count: 2, Codec: regmap.CodecFloat32},
	})
	require.NoError(t, err)
	_, err = NewSession(Config{Label: "x", Unit: 1, Map: bare}, bus)
	assert.Error(t, err, "map without flow/run fields must be rejected")
}

func TestNewSession_RejectsRegisterValuedRunState(t *testing.T) {
	m, err := regmap.New("reg-run", []regmap.Field{
		{Name: regmap.FieldPressure, Table: regmap.TableHolding, Address: 0, Count: 2, Codec: regmap.CodecFloat32},
		{Name: regmap.FieldFlowRate, Table: regmap.TableHolding, Address: 2, Count: 2, Codec: regmap.CodecFloat32},
		{Name: regmap.FieldRunState, Table: regmap.TableHolding, Address: 4, Count: 1, Codec: regmap.CodecUint16},
	})
	require.NoError(t, err)

	_, err = NewSession(Config{Label: "x", Unit: 1, Map: m}, newFakeBus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a coil")
}

func TestPoll_DecodesBatchedReadings(t *testing.T) {
	bus := newFakeBus()
	m, _ := regmap.Builtin(regmap.ISCODPumpA)
	bus.setFloat(t, 1, m, regmap.FieldPressure, 120.5)
	bus.setFloat(t, 1, m, regmap.FieldFlowRate, 2.0)
	bus.coils[key(1, 0)] = true

	s := pumpASession(t, bus)
	sample, err := s.Poll()
	require.NoError(t, err)

	assert.Equal(t, "Pump A", sample.Device)
	assert.Equal(t, 120.5, sample.Pressure)
	assert.Equal(t, 2.0, sample.FlowRate)
	assert.True(t, sample.Running)
	assert.False(t, sample.At.IsZero())

	// pressure+flow are adjacent registers: one holding read plus the
	// run-state coil read, nothing more
	assert.Equal(t, 2, bus.reads)
}

func TestPoll_FailureWrapsPollError(t *testing.T) {
	bus := newFakeBus()
	cause := errors.New("boom")
	bus.fail[1] = cause

	s := pumpASession(t, bus)
	_, err := s.Poll()
	require.Error(t, err)

	var pe *PollError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Pump A", pe.Device)
	assert.ErrorIs(t, err, cause)
}

func TestFetchLimits(t *testing.T) {
	bus := newFakeBus()
	m, _ := regmap.Builtin(regmap.ISCODPumpA)
	seedLimits(t, bus, 1, m, 517.5, 25)

	s := pumpASession(t, bus)

	_, ok := s.Limits()
	assert.False(t, ok, "limits unknown before fetch")

	lim, err := s.FetchLimits()
	require.NoError(t, err)
	assert.Equal(t, "PSI", lim.Units.Pressure)
	assert.Equal(t, "ml/min", lim.Units.Flow)
	assert.Equal(t, 517.5, lim.MaxPressure)
	assert.Equal(t, 25.0, lim.MaxFlow)

	cached, ok := s.Limits()
	require.True(t, ok)
	assert.Equal(t, lim, cached)
}

func TestSetSetpoint_BeforeLimitsFetched(t *testing.T) {
	bus := newFakeBus()
	s := pumpASession(t, bus)

	err := s.SetSetpoint(regmap.FieldFlowSetpoint, 1.0)
	assert.ErrorIs(t, err, ErrLimitsUnknown)
	assert.Zero(t, bus.writes)
}

func TestSetSetpoint_OutOfRangeIssuesNoBusTraffic(t *testing.T) {
	bus := newFakeBus()
	m, _ := regmap.Builtin(regmap.ISCODPumpA)
	seedLimits(t, bus, 1, m, 517.5, 25)

	s := pumpASession(t, bus)
	_, err := s.FetchLimits()
	require.NoError(t, err)

	readsBefore, writesBefore := bus.reads, bus.writes

	err = s.SetSetpoint(regmap.FieldFlowSetpoint, 26)
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 25.0, oor.Max)

	err = s.SetSetpoint(regmap.FieldPressureSetpoint, 1000)
	require.ErrorAs(t, err, &oor)

	err = s.SetSetpoint(regmap.FieldFlowSetpoint, -1)
	require.ErrorAs(t, err, &oor)

	assert.Equal(t, readsBefore, bus.reads, "no bus reads for rejected setpoints")
	assert.Equal(t, writesBefore, bus.writes, "no bus writes for rejected setpoints")
}

func TestSetSetpoint_WritesEncodedRegisters(t *testing.T) {
	bus := newFakeBus()
	m, _ := regmap.Builtin(regmap.ISCODPumpA)
	seedLimits(t, bus, 1, m, 517.5, 25)

	s := pumpASession(t, bus)
	_, err := s.FetchLimits()
	require.NoError(t, err)

	require.NoError(t, s.SetSetpoint(regmap.FieldFlowSetpoint, 2.5))

	f, _ := m.Field(regmap.FieldFlowSetpoint)
	want, _ := f.Encode(2.5)
	assert.Equal(t, want[0], bus.holding[key(1, f.Address)])
	assert.Equal(t, want[1], bus.holding[key(1, f.Address+1)])
}

func TestSetSetpoint_UnknownField(t *testing.T) {
	bus := newFakeBus()
	s := pumpASession(t, bus)
	assert.Error(t, s.SetSetpoint("pressure", 1))
}

func TestSetRunState(t *testing.T) {
	bus := newFakeBus()
	s := pumpASession(t, bus)

	require.NoError(t, s.SetRunState(true))
	assert.True(t, bus.coils[key(1, 0)])

	require.NoError(t, s.SetRunState(false))
	assert.False(t, bus.coils[key(1, 0)])
}
