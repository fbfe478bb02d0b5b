package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateZeroFilled(t *testing.T) {
	m := NewManager()
	id, err := m.Allocate(Heap, 32, 8, "buf")
	require.NoError(t, err)

	data, err := m.Read(id, 0, 32)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), data)

	a, ok := m.Get(id)
	require.True(t, ok)
	assert.NotZero(t, a.Base)
	assert.Zero(t, a.Base%MinAlign)
}

func TestAddressesAreNeverReused(t *testing.T) {
	m := NewManager()
	first, err := m.Allocate(Stack, 8, 8, "a")
	require.NoError(t, err)
	a, _ := m.Get(first)
	require.NoError(t, m.Deallocate(first))

	second, err := m.Allocate(Stack, 8, 8, "b")
	require.NoError(t, err)
	b, _ := m.Get(second)

	assert.GreaterOrEqual(t, b.Base, a.End()+GuardGap)

	_, err = m.ReadAt(a.Base, 4)
	assert.ErrorIs(t, err, ErrUseAfterFree)
}

func TestBoundsChecks(t *testing.T) {
	m := NewManager()
	id, err := m.Allocate(Heap, 8, 8, "x")
	require.NoError(t, err)
	a, _ := m.Get(id)

	tests := []struct {
		name string
		addr uint64
		size int
		err  error
	}{
		{"whole allocation", a.Base, 8, nil},
		{"last byte", a.Base + 7, 1, nil},
		{"straddles end", a.Base + 4, 8, ErrOutOfBounds},
		{"past the end", a.Base + 12, 4, ErrOutOfBounds},
		{"guard gap", a.End() + 4, 1, ErrOutOfBounds},
		{"null", 0, 1, ErrOutOfBounds},
		{"below base", BaseAddress - 1, 1, ErrOutOfBounds},
		{"length wraps", a.Base + 4, math.MaxInt, ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ReadAt(tt.addr, tt.size)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err = m.Resolve(a.End(), 0)
	assert.NoError(t, err, "zero-length access one past the end is valid")
}

func TestWriteIsAllOrNothing(t *testing.T) {
	m := NewManager()
	id, err := m.Allocate(Stack, 4, 4, "frame")
	require.NoError(t, err)
	a, _ := m.Get(id)

	err = m.WriteAt(a.Base+2, []byte{1, 2, 3, 4})
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "write", ae.Op)

	data, err := m.Read(id, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestFreeAndRealloc(t *testing.T) {
	m := NewManager()
	id, err := m.Allocate(Heap, 4, 4, "h")
	require.NoError(t, err)
	a, _ := m.Get(id)
	require.NoError(t, m.Write(id, 0, []byte{1, 2, 3, 4}))

	assert.ErrorIs(t, m.Free(a.Base+1), ErrInvalidFree)

	moved, err := m.Realloc(a.Base, 8, 4)
	require.NoError(t, err)
	assert.NotEqual(t, a.Base, moved)

	data, err := m.ReadAt(moved, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, data)

	assert.ErrorIs(t, m.Free(a.Base), ErrUseAfterFree)
	require.NoError(t, m.Free(moved))
	assert.ErrorIs(t, m.Free(moved), ErrUseAfterFree)

	stack, err := m.Allocate(Stack, 8, 8, "frame")
	require.NoError(t, err)
	s, _ := m.Get(stack)
	assert.ErrorIs(t, m.Free(s.Base), ErrInvalidFree)
}

func TestStatsAndBudget(t *testing.T) {
	m := NewManager(WithMaxBytes(16))
	a, err := m.Allocate(Heap, 12, 1, "a")
	require.NoError(t, err)

	_, err = m.Allocate(Heap, 8, 1, "b")
	assert.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, m.Deallocate(a))
	assert.ErrorIs(t, m.Deallocate(a), ErrUseAfterFree)
	assert.ErrorIs(t, m.Deallocate(99), ErrInvalidFree)

	st := m.Stats()
	assert.Equal(t, 1, st.Allocations)
	assert.Equal(t, 1, st.Frees)
	assert.Equal(t, 0, st.LiveBytes)
	assert.Equal(t, 12, st.PeakBytes)
	assert.Zero(t, m.Live())
}

func TestAllocationCeiling(t *testing.T) {
	m := NewManager()

	_, err := m.Allocate(Heap, MaxAllocation+1, 8, "huge")
	assert.ErrorIs(t, err, ErrOutOfMemory, "the ceiling applies without a budget")
	_, err = m.Allocate(Heap, 8, 3, "odd")
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = m.Allocate(Heap, 8, MaxAlign*2, "overaligned")
	assert.ErrorIs(t, err, ErrOutOfMemory)

	id, err := m.Allocate(Heap, 8, 8, "small")
	require.NoError(t, err)
	a, _ := m.Get(id)
	_, err = m.Realloc(a.Base, MaxAllocation+1, 8)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.True(t, a.Live(), "a failed realloc keeps the old region")
	assert.Equal(t, 0, m.Stats().Frees)
}

func TestFunctionPointerRange(t *testing.T) {
	addr := FnAddress(3)
	slot, ok := FnSlot(addr)
	require.True(t, ok)
	assert.Equal(t, 3, slot)

	_, ok = FnSlot(addr + 1)
	assert.False(t, ok)

	m := NewManager()
	_, err := m.Allocate(Heap, 8, 8, "x")
	require.NoError(t, err)
	_, err = m.ReadAt(addr, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}
