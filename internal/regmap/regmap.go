// internal/regmap/regmap.go

// Package regmap describes instrument register layouts.
// A map binds logical field names to register geometry and codecs.
// Maps are immutable after construction and shared read-only.
package regmap

import (
	"fmt"
	"sort"
)

// Table selects the Modbus address space a field lives in.
type Table string

const (
	TableCoil    Table = "coil"
	TableHolding Table = "holding"
)

// Codec selects how raw words or bits become a value.
type Codec string

const (
	CodecFloat32   Codec = "float32"   // two words, high word first, IEEE-754
	CodecUint16    Codec = "uint16"    // one word, fixed-point via scale
	CodecCoil      Codec = "coil"      // one bit
	CodecUnitFlags Codec = "unitflags" // eight one-hot unit selection coils
)

// Well-known field names. A map may carry any subset plus custom fields;
// sessions look these up by name.
const (
	FieldPressure         = "pressure"
	FieldFlowRate         = "flow_rate"
	FieldRunState         = "run_state"
	FieldUnits            = "units"
	FieldMaxPressure      = "max_pressure"
	FieldMaxFlow          = "max_flow"
	FieldFlowSetpoint     = "flow_setpoint"
	FieldPressureSetpoint = "pressure_setpoint"
)

// Field is one addressable value: geometry plus codec.
type Field struct {
	Name    string
	Table   Table
	Address uint16
	Count   uint16
	Codec   Codec
	Scale   float64 // multiplier applied on decode; 0 means 1
}

// Map is an immutable named set of fields.
type Map struct {
	name   string
	fields map[string]Field
}

// New builds a validated map. Field names must be unique and geometry
// must agree with the codec.
func New(name string, fields []Field) (*Map, error) {
	if name == "" {
		return nil, fmt.Errorf("regmap: map name required")
	}
	byName := make(map[string]Field, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("regmap %q: field name required", name)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("regmap %q: duplicate field %q", name, f.Name)
		}
		if err := checkGeometry(f); err != nil {
			return nil, fmt.Errorf("regmap %q: field %q: %w", name, f.Name, err)
		}
		byName[f.Name] = f
	}
	return &Map{name: name, fields: byName}, nil
}

func checkGeometry(f Field) error {
	switch f.Table {
	case TableCoil, TableHolding:
	default:
		return fmt.Errorf("unknown table %q", f.Table)
	}
	switch f.Codec {
	case CodecFloat32:
		if f.Table != TableHolding || f.Count != 2 {
			return fmt.Errorf("float32 needs 2 holding registers, got %s x%d", f.Table, f.Count)
		}
	case CodecUint16:
		if f.Table != TableHolding || f.Count != 1 {
			return fmt.Errorf("uint16 needs 1 holding register, got %s x%d", f.Table, f.Count)
		}
	case CodecCoil:
		if f.Table != TableCoil || f.Count != 1 {
			return fmt.Errorf("coil needs 1 coil, got %s x%d", f.Table, f.Count)
		}
	case CodecUnitFlags:
		if f.Table != TableCoil || f.Count != 8 {
			return fmt.Errorf("unitflags needs 8 coils, got %s x%d", f.Table, f.Count)
		}
	default:
		return fmt.Errorf("unknown codec %q", f.Codec)
	}
	return nil
}

// Name returns the map's registry name.
func (m *Map) Name() string { return m.name }

// Field looks up a field by logical name.
func (m *Map) Field(name string) (Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// Has reports whether the map defines the named field.
func (m *Map) Has(name string) bool {
	_, ok := m.fields[name]
	return ok
}

// Span is one contiguous read covering one or more fields.
type Span struct {
	Table   Table
	Address uint16
	Count   uint16
}

// Contains reports whether the field lies entirely inside the span.
func (s Span) Contains(f Field) bool {
	return s.Table == f.Table &&
		f.Address >= s.Address &&
		uint32(f.Address)+uint32(f.Count) <= uint32(s.Address)+uint32(s.Count)
}

// Coalesce merges fields of the same table into minimal contiguous spans
// so a poll can batch adjacent registers into one bus turn. Fields with
// gaps between them stay separate reads.
func Coalesce(fields []Field) []Span {
	if len(fields) == 0 {
		return nil
	}
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Table != sorted[j].Table {
			return sorted[i].Table < sorted[j].Table
		}
		return sorted[i].Address < sorted[j].Address
	})

	var spans []Span
	for _, f := range sorted {
		if n := len(spans); n > 0 {
			last := &spans[n-1]
			if last.Table == f.Table && uint32(f.Address) <= uint32(last.Address)+uint32(last.Count) {
				end := uint32(f.Address) + uint32(f.Count)
				if end > uint32(last.Address)+uint32(last.Count) {
					last.Count = uint16(end - uint32(last.Address))
				}
				continue
			}
		}
		spans = append(spans, Span{Table: f.Table, Address: f.Address, Count: f.Count})
	}
	return spans
}
