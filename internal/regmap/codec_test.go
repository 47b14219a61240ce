// internal/regmap/codec_test.go
package regmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32_DecodeKnownWords(t *testing.T) {
	f := Field{Name: "p", Table: TableHolding, Address: 72, Count: 2, Codec: CodecFloat32}

	bits := math.Float32bits(120.5)
	words := []uint16{uint16(bits >> 16), uint16(bits)}

	v, err := f.Decode(words)
	require.NoError(t, err)
	assert.Equal(t, 120.5, v)
}

func TestFloat32_RoundTripLaw(t *testing.T) {
	f := Field{Name: "p", Table: TableHolding, Address: 0, Count: 2, Codec: CodecFloat32}

	for _, v := range []float32{0, 1, -6.3, 120.5, 2.0, 6894.76, -0.001, 65535} {
		bits := math.Float32bits(v)
		words := []uint16{uint16(bits >> 16), uint16(bits)}

		decoded, err := f.Decode(words)
		require.NoError(t, err)

		encoded, err := f.Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, words, encoded, "value %v", v)
	}
}

func TestUint16_ScaledRoundTripLaw(t *testing.T) {
	f := Field{Name: "t", Table: TableHolding, Address: 0, Count: 1, Codec: CodecUint16, Scale: 0.1}

	for _, raw := range []uint16{0, 1, 10, 1205, 65535} {
		decoded, err := f.Decode([]uint16{raw})
		require.NoError(t, err)

		encoded, err := f.Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, []uint16{raw}, encoded, "raw %d", raw)
	}
}

func TestUint16_EncodeRejectsUnrepresentable(t *testing.T) {
	f := Field{Name: "t", Table: TableHolding, Address: 0, Count: 1, Codec: CodecUint16}

	_, err := f.Encode(-1)
	assert.Error(t, err)
	_, err = f.Encode(70000)
	assert.Error(t, err)
}

func TestDecode_WordCountMismatch(t *testing.T) {
	f := Field{Name: "p", Table: TableHolding, Address: 0, Count: 2, Codec: CodecFloat32}
	_, err := f.Decode([]uint16{1})
	assert.Error(t, err)
}

func TestDecodeUnits(t *testing.T) {
	// BAR pressure, ml/hr flow: bits 1 and 5 set.
	bits := []bool{false, true, false, false, false, true, false, false}

	u, err := DecodeUnits(bits)
	require.NoError(t, err)
	assert.Equal(t, "BAR", u.Pressure)
	assert.Equal(t, "ml/hr", u.Flow)
}

func TestDecodeUnits_AllSelections(t *testing.T) {
	for i, want := range pressureUnits {
		bits := make([]bool, 8)
		bits[i] = true
		bits[4] = true
		u, err := DecodeUnits(bits)
		require.NoError(t, err)
		assert.Equal(t, want, u.Pressure)
	}
	for i, want := range flowUnits {
		bits := make([]bool, 8)
		bits[0] = true
		bits[4+i] = true
		u, err := DecodeUnits(bits)
		require.NoError(t, err)
		assert.Equal(t, want, u.Flow)
	}
}

func TestDecodeUnits_NoFlagSet(t *testing.T) {
	_, err := DecodeUnits(make([]bool, 8))
	assert.Error(t, err)

	// pressure set, flow missing
	bits := make([]bool, 8)
	bits[3] = true
	_, err = DecodeUnits(bits)
	assert.Error(t, err)

	_, err = DecodeUnits(make([]bool, 4))
	assert.Error(t, err)
}
