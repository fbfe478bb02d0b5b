package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegers(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		u    uint64
		i    int64
	}{
		{"u8 max", FromUint(255, 1), 255, -1},
		{"i16 negative", FromInt(-2, 2), 0xfffe, -2},
		{"i32 positive", FromInt(1000, 4), 1000, 1000},
		{"i128 negative keeps low word", FromInt(-1, 16), ^uint64(0), -1},
		{"u64 truncated from wider", FromUint(0x1_0000_0001, 4), 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.u, tt.v.Uint64())
			assert.Equal(t, tt.i, tt.v.Int64())
		})
	}

	wide := FromInt(-1, 16)
	for _, b := range wide.Raw() {
		assert.Equal(t, byte(0xff), b)
	}
}

func TestBoolAndFloat(t *testing.T) {
	b, err := FromBool(true).Bool()
	require.NoError(t, err)
	assert.True(t, b)

	_, err = New(2).Bool()
	assert.ErrorIs(t, err, ErrSize)

	f, err := FromFloat64(1.5).Float64()
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	g, err := FromFloat32(-0.25).Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(-0.25), g)
}

func TestPointers(t *testing.T) {
	w := FromWide(0x10010, 3)
	addr, err := w.Address()
	require.NoError(t, err)
	meta, err := w.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10010), addr)
	assert.Equal(t, uint64(3), meta)

	_, err = FromAddress(8).Metadata()
	assert.ErrorIs(t, err, ErrSize)
}

func TestSpliceDoesNotAlias(t *testing.T) {
	base := New(4)
	out, err := base.Splice(1, FromUint(0xabcd, 2))
	require.NoError(t, err)

	assert.Equal(t, []byte{0, 0xcd, 0xab, 0}, out.Raw())
	assert.Equal(t, []byte{0, 0, 0, 0}, base.Raw())

	_, err = base.Splice(3, FromUint(1, 2))
	assert.ErrorIs(t, err, ErrSize)

	part, err := out.Slice(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xabcd), part.Uint64())
	assert.Equal(t, "cdabcdab", part.Repeat(2).String())
}
