// internal/regmap/codec.go
package regmap

import (
	"fmt"
	"math"
)

func (f Field) scale() float64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

// Decode converts raw register words into an engineering value.
// Word order is high word first, matching the instrument.
func (f Field) Decode(words []uint16) (float64, error) {
	if int(f.Count) != len(words) {
		return 0, fmt.Errorf("regmap: field %q: want %d words, got %d", f.Name, f.Count, len(words))
	}
	switch f.Codec {
	case CodecFloat32:
		bits := uint32(words[0])<<16 | uint32(words[1])
		return float64(math.Float32frombits(bits)) * f.scale(), nil
	case CodecUint16:
		return float64(words[0]) * f.scale(), nil
	default:
		return 0, fmt.Errorf("regmap: field %q: codec %q is not register-valued", f.Name, f.Codec)
	}
}

// Encode converts an engineering value back into raw register words.
// Decode followed by Encode reproduces the original words.
func (f Field) Encode(v float64) ([]uint16, error) {
	switch f.Codec {
	case CodecFloat32:
		bits := math.Float32bits(float32(v / f.scale()))
		return []uint16{uint16(bits >> 16), uint16(bits)}, nil
	case CodecUint16:
		raw := math.Round(v / f.scale())
		if raw < 0 || raw > math.MaxUint16 {
			return nil, fmt.Errorf("regmap: field %q: value %v not representable", f.Name, v)
		}
		return []uint16{uint16(raw)}, nil
	default:
		return nil, fmt.Errorf("regmap: field %q: codec %q is not register-valued", f.Name, f.Codec)
	}
}

// Units is the instrument's configured measurement units.
type Units struct {
	Pressure string
	Flow     string
}

var (
	pressureUnits = []string{"ATM", "BAR", "kPa", "PSI"}
	flowUnits     = []string{"ml/min", "ml/hr", "ul/min", "ul/hr"}
)

// DecodeUnits interprets the eight one-hot unit selection coils:
// bits 0-3 select the pressure unit, bits 4-7 the flow unit.
func DecodeUnits(bits []bool) (Units, error) {
	if len(bits) != 8 {
		return Units{}, fmt.Errorf("regmap: units: want 8 coils, got %d", len(bits))
	}
	var u Units
	for i, name := range pressureUnits {
		if bits[i] {
			u.Pressure = name
			break
		}
	}
	for i, name := range flowUnits {
		if bits[4+i] {
			u.Flow = name
			break
		}
	}
	if u.Pressure == "" {
		return Units{}, fmt.Errorf("regmap: units: no pressure unit flag set")
	}
	if u.Flow == "" {
		return Units{}, fmt.Errorf("regmap: units: no flow unit flag set")
	}
	return u, nil
}
