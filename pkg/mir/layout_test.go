package mir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumTagWidth(t *testing.T) {
	tests := []struct {
		name   string
		discrs []int64
		size   int
		signed bool
	}{
		{name: "small", discrs: []int64{0, 1, 2}, size: 1},
		{name: "u8 edge", discrs: []int64{0, 255}, size: 1},
		{name: "u16", discrs: []int64{0, 256}, size: 2},
		{name: "u32", discrs: []int64{0, 70000}, size: 4},
		{name: "wide", discrs: []int64{5_000_000_000, 5_000_000_001}, size: 8},
		{name: "negative", discrs: []int64{-1, 0, 1}, size: 1, signed: true},
		{name: "i8 edge", discrs: []int64{-128, 127}, size: 1, signed: true},
		{name: "i16", discrs: []int64{-1, 128}, size: 2, signed: true},
		{name: "i64", discrs: []int64{-1 << 40, 0}, size: 8, signed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types := NewTypeTable()
			id := types.Declare("E", KindEnum)
			e := types.Get(id)
			for i, d := range tt.discrs {
				e.Variants = append(e.Variants, Variant{Name: string(rune('A' + i)), Discr: d})
			}

			lay, err := types.Layout(id)
			require.NoError(t, err)
			assert.Equal(t, tt.size, lay.TagSize)
			assert.Equal(t, tt.signed, lay.TagSigned)
			assert.Equal(t, tt.size, lay.Size)
		})
	}
}

func TestDuplicateDiscriminant(t *testing.T) {
	prog := &Program{Types: NewTypeTable()}
	e := prog.Types.Get(prog.Types.Declare("E", KindEnum))
	e.Variants = []Variant{{Name: "A", Discr: 3}, {Name: "B", Discr: 3}}

	err := prog.Finalize()
	assert.ErrorIs(t, err, ErrInvalidProgram)
}
