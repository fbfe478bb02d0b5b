package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

type testHost struct {
	mem *memory.Manager
	out bytes.Buffer
}

func (h *testHost) Memory() *memory.Manager { return h.mem }
func (h *testHost) Output() io.Writer       { return &h.out }

func newHost() *testHost {
	return &testHost{mem: memory.NewManager()}
}

func invoke(t *testing.T, b *Bridge, h *testHost, tt *mir.TypeTable, symbol string, ret mir.TypeID, args ...Arg) (value.Value, error) {
	t.Helper()
	e, err := b.Resolve(symbol)
	require.NoError(t, err)
	return e.Invoke(context.Background(), &Call{Symbol: symbol, Host: h, Types: tt, Args: args, Ret: ret, Fixed: -1})
}

func TestHeapIntrinsics(t *testing.T) {
	tt := mir.NewTypeTable()
	usize := tt.Usize()
	ptr := tt.Ptr(tt.Uint(8), true)
	h := newHost()
	b := New(NewIntrinsics())

	p, err := invoke(t, b, h, tt, "__rust_alloc", ptr,
		Arg{usize, value.FromUint(16, 8)}, Arg{usize, value.FromUint(8, 8)})
	require.NoError(t, err)
	addr, err := p.Address()
	require.NoError(t, err)
	assert.Equal(t, 1, len(h.mem.LiveAllocations(memory.Heap)))

	require.NoError(t, h.mem.WriteAt(addr, []byte{7}))

	moved, err := invoke(t, b, h, tt, "__rust_realloc", ptr,
		Arg{ptr, p}, Arg{usize, value.FromUint(16, 8)}, Arg{usize, value.FromUint(8, 8)}, Arg{usize, value.FromUint(32, 8)})
	require.NoError(t, err)
	naddr, _ := moved.Address()
	data, err := h.mem.ReadAt(naddr, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, data)

	_, err = invoke(t, b, h, tt, "__rust_dealloc", tt.Unit(),
		Arg{ptr, moved}, Arg{usize, value.FromUint(8, 8)}, Arg{usize, value.FromUint(8, 8)})
	assert.ErrorIs(t, err, memory.ErrInvalidFree, "layout size must match")

	_, err = invoke(t, b, h, tt, "__rust_dealloc", tt.Unit(),
		Arg{ptr, moved}, Arg{usize, value.FromUint(32, 8)}, Arg{usize, value.FromUint(8, 8)})
	require.NoError(t, err)
	assert.Zero(t, h.mem.Live())
}

func TestOversizedRequests(t *testing.T) {
	tt := mir.NewTypeTable()
	usize := tt.Usize()
	bytePtr := tt.Ptr(tt.Uint(8), true)
	wordPtr := tt.Ptr(tt.Uint(64), true)
	h := newHost()
	b := New(NewIntrinsics())
	size := func(n uint64) Arg { return Arg{usize, value.FromUint(n, 8)} }

	_, err := invoke(t, b, h, tt, "malloc", bytePtr, size(1<<62))
	assert.ErrorIs(t, err, memory.ErrOutOfMemory)
	_, err = invoke(t, b, h, tt, "__rust_alloc", bytePtr, size(math.MaxUint64), size(8))
	assert.ErrorIs(t, err, memory.ErrOutOfMemory)
	_, err = invoke(t, b, h, tt, "calloc", bytePtr, size(1<<33), size(1<<33))
	assert.ErrorIs(t, err, memory.ErrOutOfMemory, "element count times size overflows")
	assert.Zero(t, h.mem.Live())

	id, err := h.mem.Allocate(memory.Heap, 8, 8, "buf")
	require.NoError(t, err)
	a, _ := h.mem.Get(id)

	dst := Arg{bytePtr, value.FromUint(a.Base, 8)}
	for _, n := range []uint64{9, 1 << 40, math.MaxUint64} {
		_, err = invoke(t, b, h, tt, "memset", bytePtr, dst, Arg{tt.Int(32), value.FromInt(0xff, 4)}, size(n))
		assert.ErrorIs(t, err, memory.ErrOutOfBounds, "memset of %d bytes", n)
	}

	words := Arg{wordPtr, value.FromUint(a.Base, 8)}
	_, err = invoke(t, b, h, tt, "core::intrinsics::write_bytes", tt.Unit(),
		words, Arg{tt.Uint(8), value.FromUint(0xff, 1)}, size(1<<61))
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)
	_, err = invoke(t, b, h, tt, "core::intrinsics::copy_nonoverlapping", tt.Unit(), words, words, size(1<<61+1))
	assert.ErrorIs(t, err, memory.ErrOutOfBounds, "byte length wraps to 8")

	data, err := h.mem.ReadAt(a.Base, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), data)
}

func TestPrintIntrinsics(t *testing.T) {
	tt := mir.NewTypeTable()
	strRef := tt.Ref(tt.Str(), false)
	h := newHost()
	b := New(NewIntrinsics())

	id, err := h.mem.Allocate(memory.Static, 5, 1, "str")
	require.NoError(t, err)
	require.NoError(t, h.mem.Write(id, 0, []byte("hello")))
	a, _ := h.mem.Get(id)

	_, err = invoke(t, b, h, tt, "snapmir::println", tt.Unit(), Arg{strRef, value.FromWide(a.Base, 5)})
	require.NoError(t, err)
	_, err = invoke(t, b, h, tt, "snapmir::print_int", tt.Unit(), Arg{tt.Int(128), value.FromInt(-42, 16)})
	require.NoError(t, err)
	_, err = invoke(t, b, h, tt, "snapmir::print_int", tt.Unit(), Arg{tt.Uint(8), value.FromUint(200, 1)})
	require.NoError(t, err)

	assert.Equal(t, "hello\n-42\n200\n", h.out.String())
}

func TestControlIntrinsics(t *testing.T) {
	tt := mir.NewTypeTable()
	h := newHost()
	b := New(NewIntrinsics())

	_, err := invoke(t, b, h, tt, "std::process::exit", tt.Never(), Arg{tt.Int(32), value.FromInt(3, 4)})
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.Code)

	_, err = invoke(t, b, h, tt, "core::panicking::panic_fmt", tt.Never())
	var p *PanicError
	require.ErrorAs(t, err, &p)

	_, err = invoke(t, b, h, tt, "core::panicking::panic_const::panic_const_div_by_zero", tt.Never())
	assert.ErrorIs(t, err, ErrArithmetic)

	_, err = invoke(t, b, h, tt, "core::panicking::panic_bounds_check", tt.Never(),
		Arg{tt.Usize(), value.FromUint(5, 8)}, Arg{tt.Usize(), value.FromUint(3, 8)})
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)

	v, err := invoke(t, b, h, tt, "core::hint::black_box", tt.Int(32), Arg{tt.Int(32), value.FromInt(9, 4)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int64())
}

func TestLayoutIntrinsics(t *testing.T) {
	tt := mir.NewTypeTable()
	h := newHost()
	b := New(NewIntrinsics())
	ref := tt.Ref(tt.Uint(32), false)

	v, err := invoke(t, b, h, tt, "core::mem::size_of_val", tt.Usize(), Arg{ref, value.FromUint(64, 8)})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v.Uint64())

	v, err = invoke(t, b, h, tt, "core::mem::align_of_val", tt.Usize(), Arg{ref, value.FromUint(64, 8)})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v.Uint64())

	_, err = invoke(t, b, h, tt, "core::mem::align_of_val", tt.Usize(), Arg{tt.Uint(32), value.FromUint(1, 4)})
	assert.Error(t, err)
}

type countingProvider struct {
	lookups int
}

func (c *countingProvider) Name() string { return "counting" }
func (c *countingProvider) Lookup(symbol string) (Entry, error) {
	c.lookups++
	if symbol != "answer" {
		return nil, ErrNotFound
	}
	return &intrinsic{name: symbol, fn: identity}, nil
}
func (c *countingProvider) Close(context.Context) error { return nil }

type unavailableProvider struct{}

func (unavailableProvider) Name() string { return "unavailable" }
func (unavailableProvider) Lookup(string) (Entry, error) {
	return nil, ErrUnavailable
}
func (unavailableProvider) Close(context.Context) error { return errors.New("boom") }

func TestResolveOrderAndCache(t *testing.T) {
	counting := &countingProvider{}
	b := New(NewIntrinsics(), unavailableProvider{}, counting)

	e, err := b.Resolve("answer")
	require.NoError(t, err)
	assert.Equal(t, "answer", e.Symbol())
	_, err = b.Resolve("answer")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.lookups)

	_, err = b.Resolve("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"intrinsics", "unavailable", "counting"}, b.Providers())
	assert.Error(t, b.Close(context.Background()))
}

// addWasm exports add(i32, i32) -> i32.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func TestWasmProvider(t *testing.T) {
	ctx := context.Background()
	mod, err := LoadWasm(ctx, "math", addWasm)
	require.NoError(t, err)
	b := New(mod)
	defer func() { require.NoError(t, b.Close(ctx)) }()

	tt := mir.NewTypeTable()
	i32 := tt.Int(32)
	v, err := invoke(t, b, newHost(), tt, "add", i32, Arg{i32, value.FromInt(-5, 4)}, Arg{i32, value.FromInt(12, 4)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int64())

	_, err = b.Resolve("sub")
	assert.ErrorIs(t, err, ErrNotFound)

	e, err := b.Resolve("add")
	require.NoError(t, err)
	_, err = e.Invoke(ctx, &Call{Symbol: "add", Host: newHost(), Types: tt, Args: []Arg{{i32, value.FromInt(1, 4)}}, Ret: i32})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSuggest(t *testing.T) {
	got, ok := Suggest("snapmir::prnt", []string{"snapmir::print", "malloc", "snapmir::println"})
	require.True(t, ok)
	assert.Equal(t, "snapmir::print", got)

	_, ok = Suggest("zzz", []string{"malloc"})
	assert.False(t, ok)
}
