package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"math/bits"
	"sort"
	"strconv"

	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// ErrArithmetic is reported by the panic_const family of intrinsics.
var ErrArithmetic = errors.New("arithmetic fault")

// heapAlign is the alignment C-style allocation functions guarantee.
const heapAlign = 16

type intrinsicFunc func(ctx context.Context, call *Call) (value.Value, error)

type intrinsic struct {
	name string
	fn   intrinsicFunc
}

func (i *intrinsic) Symbol() string {
	return i.name
}

func (i *intrinsic) Invoke(ctx context.Context, call *Call) (value.Value, error) {
	return i.fn(ctx, call)
}

// Intrinsics provides the runtime support functions implemented in Go.
type Intrinsics struct {
	table map[string]intrinsicFunc
}

func NewIntrinsics() *Intrinsics {
	in := &Intrinsics{table: map[string]intrinsicFunc{
		"__rust_alloc":        rustAlloc,
		"__rust_alloc_zeroed": rustAlloc,
		"__rust_dealloc":      rustDealloc,
		"__rust_realloc":      rustRealloc,

		"malloc":  cMalloc,
		"calloc":  cCalloc,
		"free":    cFree,
		"realloc": cRealloc,
		"memcpy":  memCopy,
		"memmove": memCopy,
		"memset":  memSet,
		"memcmp":  memCompare,
		"strlen":  cStrlen,
		"puts":    cPuts,
		"putchar": cPutchar,

		"snapmir::print":       printStr(false),
		"std::io::_print":      printStr(false),
		"std::io::_eprint":     printStr(false),
		"snapmir::println":     printStr(true),
		"snapmir::print_int":   printInt,
		"snapmir::print_float": printFloat,

		"core::hint::black_box":                 identity,
		"std::hint::black_box":                  identity,
		"core::intrinsics::assume":              unit,
		"core::mem::size_of_val":                sizeOfVal,
		"core::intrinsics::size_of_val":         sizeOfVal,
		"core::mem::align_of_val":               alignOfVal,
		"core::intrinsics::min_align_of_val":    alignOfVal,
		"core::intrinsics::copy_nonoverlapping": copyElems,
		"core::intrinsics::copy":                copyElems,
		"core::intrinsics::write_bytes":         writeBytes,

		"std::process::exit":        exit,
		"exit":                      exit,
		"std::process::abort":       abort,
		"core::intrinsics::abort":   abort,
		"abort":                     abort,
		"core::panicking::panic":    panicStr,
		"std::rt::begin_panic":      panicStr,
		"core::panicking::panic_fmt": func(context.Context, *Call) (value.Value, error) {
			return value.Unit, &PanicError{Msg: "explicit panic"}
		},
		"core::panicking::panic_bounds_check": boundsCheck,
	}}

	for op, msg := range map[string]string{
		"add_overflow": "attempt to add with overflow",
		"sub_overflow": "attempt to subtract with overflow",
		"mul_overflow": "attempt to multiply with overflow",
		"div_overflow": "attempt to divide with overflow",
		"rem_overflow": "attempt to calculate the remainder with overflow",
		"neg_overflow": "attempt to negate with overflow",
		"shl_overflow": "attempt to shift left with overflow",
		"shr_overflow": "attempt to shift right with overflow",
		"div_by_zero":  "attempt to divide by zero",
		"rem_by_zero":  "attempt to calculate the remainder with a divisor of zero",
	} {
		in.table["core::panicking::panic_const::panic_const_"+op] = func(context.Context, *Call) (value.Value, error) {
			return value.Unit, fmt.Errorf("%w: %s", ErrArithmetic, msg)
		}
	}
	return in
}

func (in *Intrinsics) Name() string {
	return "intrinsics"
}

func (in *Intrinsics) Lookup(symbol string) (Entry, error) {
	fn, ok := in.table[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return &intrinsic{name: symbol, fn: fn}, nil
}

func (in *Intrinsics) Close(context.Context) error {
	return nil
}

// Names lists every intrinsic symbol in sorted order.
func (in *Intrinsics) Names() []string {
	names := make([]string, 0, len(in.table))
	for n := range in.table {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func arg(call *Call, i int) (Arg, error) {
	if i >= len(call.Args) {
		return Arg{}, fmt.Errorf("%s expects at least %d arguments, got %d", call.Symbol, i+1, len(call.Args))
	}
	return call.Args[i], nil
}

func argUint(call *Call, i int) (uint64, error) {
	a, err := arg(call, i)
	if err != nil {
		return 0, err
	}
	return a.Value.Uint64(), nil
}

// argStr reads the bytes behind a &str or &[u8] argument.
func argStr(call *Call, i int) ([]byte, error) {
	a, err := arg(call, i)
	if err != nil {
		return nil, err
	}
	addr, err := a.Value.Address()
	if err != nil {
		return nil, err
	}
	n, err := a.Value.Metadata()
	if err != nil {
		return nil, fmt.Errorf("%s expects a string slice: %w", call.Symbol, err)
	}
	size, err := byteCount(n, 1)
	if err != nil {
		return nil, err
	}
	return call.Host.Memory().ReadAt(addr, size)
}

// cString reads a NUL-terminated string.
func cString(mem *memory.Manager, addr uint64) ([]byte, error) {
	var out []byte
	for {
		b, err := mem.ReadAt(addr+uint64(len(out)), 1)
		if err != nil {
			return nil, err
		}
		if b[0] == 0 {
			return out, nil
		}
		out = append(out, b[0])
	}
}

func ret(call *Call, x uint64) value.Value {
	if call.Types == nil || call.Types.Get(call.Ret) == nil {
		return value.FromUint(x, mir.PointerSize)
	}
	return value.FromUint(x, call.Types.SizeOf(call.Ret))
}

func pointee(call *Call, i int) int {
	a, err := arg(call, i)
	if err != nil || call.Types == nil {
		return 1
	}
	t := call.Types.Get(a.Type)
	if t == nil || (t.Kind != mir.KindRef && t.Kind != mir.KindPtr) {
		return 1
	}
	return call.Types.SizeOf(t.Elem)
}

// byteCount turns an element count into a byte length, failing when no
// allocation could be that large.
func byteCount(count uint64, elem int) (int, error) {
	hi, n := bits.Mul64(count, uint64(max(elem, 0)))
	if hi != 0 || n > memory.MaxAllocation {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", memory.ErrOutOfBounds, count, elem)
	}
	return int(n), nil
}

func allocate(call *Call, size, align uint64, label string) (value.Value, error) {
	if size > memory.MaxAllocation || align > memory.MaxAlign {
		return value.Unit, &memory.AccessError{Op: "allocate", Err: fmt.Errorf("%w: %d bytes aligned to %d", memory.ErrOutOfMemory, size, align)}
	}
	mem := call.Host.Memory()
	id, err := mem.Allocate(memory.Heap, int(size), int(align), label)
	if err != nil {
		return value.Unit, err
	}
	a, _ := mem.Get(id)
	return ret(call, a.Base), nil
}

func rustAlloc(_ context.Context, call *Call) (value.Value, error) {
	size, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	align, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	return allocate(call, size, align, call.Symbol)
}

func rustDealloc(_ context.Context, call *Call) (value.Value, error) {
	addr, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	size, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	mem := call.Host.Memory()
	if p, err := mem.Resolve(addr, 0); err == nil {
		if a, _ := mem.Get(p.Alloc); uint64(a.Size) != size {
			return value.Unit, fmt.Errorf("%w: layout size %d does not match allocation of %d bytes", memory.ErrInvalidFree, size, a.Size)
		}
	}
	return value.Unit, mem.Free(addr)
}

func rustRealloc(_ context.Context, call *Call) (value.Value, error) {
	addr, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	align, err := argUint(call, 2)
	if err != nil {
		return value.Unit, err
	}
	size, err := argUint(call, 3)
	if err != nil {
		return value.Unit, err
	}
	if size > memory.MaxAllocation || align > memory.MaxAlign {
		return value.Unit, &memory.AccessError{Op: "realloc", Addr: addr, Err: memory.ErrOutOfMemory}
	}
	moved, err := call.Host.Memory().Realloc(addr, int(size), int(align))
	if err != nil {
		return value.Unit, err
	}
	return ret(call, moved), nil
}

func cMalloc(_ context.Context, call *Call) (value.Value, error) {
	size, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	return allocate(call, size, heapAlign, "malloc")
}

func cCalloc(_ context.Context, call *Call) (value.Value, error) {
	n, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	size, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	hi, total := bits.Mul64(n, size)
	if hi != 0 {
		return value.Unit, &memory.AccessError{Op: "allocate", Err: fmt.Errorf("%w: %d elements of %d bytes", memory.ErrOutOfMemory, n, size)}
	}
	return allocate(call, total, heapAlign, "calloc")
}

func cFree(_ context.Context, call *Call) (value.Value, error) {
	addr, err := argUint(call, 0)
	if err != nil || addr == 0 {
		return value.Unit, err
	}
	return value.Unit, call.Host.Memory().Free(addr)
}

func cRealloc(ctx context.Context, call *Call) (value.Value, error) {
	addr, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	size, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	if addr == 0 {
		return allocate(call, size, heapAlign, "realloc")
	}
	if size > memory.MaxAllocation {
		return value.Unit, &memory.AccessError{Op: "realloc", Addr: addr, Err: memory.ErrOutOfMemory}
	}
	moved, err := call.Host.Memory().Realloc(addr, int(size), heapAlign)
	if err != nil {
		return value.Unit, err
	}
	return ret(call, moved), nil
}

func memCopy(_ context.Context, call *Call) (value.Value, error) {
	dst, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	src, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	n, err := argUint(call, 2)
	if err != nil {
		return value.Unit, err
	}
	size, err := byteCount(n, 1)
	if err != nil {
		return value.Unit, err
	}
	if err := copyBytes(call.Host.Memory(), dst, src, size); err != nil {
		return value.Unit, err
	}
	return ret(call, dst), nil
}

func copyBytes(mem *memory.Manager, dst, src uint64, n int) error {
	data, err := mem.ReadAt(src, n)
	if err != nil {
		return err
	}
	return mem.WriteAt(dst, data)
}

func copyElems(_ context.Context, call *Call) (value.Value, error) {
	src, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	dst, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	count, err := argUint(call, 2)
	if err != nil {
		return value.Unit, err
	}
	size, err := byteCount(count, pointee(call, 0))
	if err != nil {
		return value.Unit, err
	}
	return value.Unit, copyBytes(call.Host.Memory(), dst, src, size)
}

func memSet(_ context.Context, call *Call) (value.Value, error) {
	dst, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	c, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	n, err := argUint(call, 2)
	if err != nil {
		return value.Unit, err
	}
	size, err := byteCount(n, 1)
	if err != nil {
		return value.Unit, err
	}
	if err := fill(call.Host.Memory(), dst, byte(c), size); err != nil {
		return value.Unit, err
	}
	return ret(call, dst), nil
}

func writeBytes(_ context.Context, call *Call) (value.Value, error) {
	dst, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	c, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	count, err := argUint(call, 2)
	if err != nil {
		return value.Unit, err
	}
	size, err := byteCount(count, pointee(call, 0))
	if err != nil {
		return value.Unit, err
	}
	return value.Unit, fill(call.Host.Memory(), dst, byte(c), size)
}

func fill(mem *memory.Manager, dst uint64, c byte, n int) error {
	if n == 0 {
		return nil
	}
	if _, err := mem.Resolve(dst, n); err != nil {
		return err
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = c
	}
	return mem.WriteAt(dst, buf)
}

func memCompare(_ context.Context, call *Call) (value.Value, error) {
	a, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	b, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	n, err := argUint(call, 2)
	if err != nil {
		return value.Unit, err
	}
	size, err := byteCount(n, 1)
	if err != nil {
		return value.Unit, err
	}
	mem := call.Host.Memory()
	x, err := mem.ReadAt(a, size)
	if err != nil {
		return value.Unit, err
	}
	y, err := mem.ReadAt(b, size)
	if err != nil {
		return value.Unit, err
	}
	for i := range x {
		if x[i] != y[i] {
			return value.FromInt(int64(x[i])-int64(y[i]), 4), nil
		}
	}
	return value.FromInt(0, 4), nil
}

func cStrlen(_ context.Context, call *Call) (value.Value, error) {
	addr, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	s, err := cString(call.Host.Memory(), addr)
	if err != nil {
		return value.Unit, err
	}
	return ret(call, uint64(len(s))), nil
}

func cPuts(_ context.Context, call *Call) (value.Value, error) {
	addr, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	s, err := cString(call.Host.Memory(), addr)
	if err != nil {
		return value.Unit, err
	}
	if _, err := call.Host.Output().Write(append(s, '\n')); err != nil {
		return value.Unit, &CallError{Symbol: call.Symbol, Err: err}
	}
	return value.FromInt(0, 4), nil
}

func cPutchar(_ context.Context, call *Call) (value.Value, error) {
	c, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	if _, err := call.Host.Output().Write([]byte{byte(c)}); err != nil {
		return value.Unit, &CallError{Symbol: call.Symbol, Err: err}
	}
	return value.FromInt(int64(byte(c)), 4), nil
}

func printStr(newline bool) intrinsicFunc {
	return func(_ context.Context, call *Call) (value.Value, error) {
		s, err := argStr(call, 0)
		if err != nil {
			return value.Unit, err
		}
		if newline {
			s = append(s, '\n')
		}
		if _, err := call.Host.Output().Write(s); err != nil {
			return value.Unit, &CallError{Symbol: call.Symbol, Err: err}
		}
		return value.Unit, nil
	}
}

func printInt(_ context.Context, call *Call) (value.Value, error) {
	a, err := arg(call, 0)
	if err != nil {
		return value.Unit, err
	}
	signed := false
	if call.Types != nil {
		if t := call.Types.Get(a.Type); t != nil {
			signed = t.IsSigned()
		}
	}
	return value.Unit, writeLine(call, decimal(a.Value.Raw(), signed))
}

func printFloat(_ context.Context, call *Call) (value.Value, error) {
	a, err := arg(call, 0)
	if err != nil {
		return value.Unit, err
	}
	var s string
	if f, err := a.Value.Float32(); err == nil {
		s = strconv.FormatFloat(float64(f), 'g', -1, 32)
	} else if f, err := a.Value.Float64(); err == nil {
		s = strconv.FormatFloat(f, 'g', -1, 64)
	} else {
		return value.Unit, unsupported(call.Types, a.Type)
	}
	return value.Unit, writeLine(call, s)
}

func writeLine(call *Call, s string) error {
	if _, err := io.WriteString(call.Host.Output(), s+"\n"); err != nil {
		return &CallError{Symbol: call.Symbol, Err: err}
	}
	return nil
}

// decimal renders little-endian integer bytes of any width.
func decimal(b []byte, signed bool) string {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	v := new(big.Int).SetBytes(be)
	if signed && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return v.String()
}

func identity(_ context.Context, call *Call) (value.Value, error) {
	a, err := arg(call, 0)
	if err != nil {
		return value.Unit, err
	}
	return a.Value, nil
}

func unit(context.Context, *Call) (value.Value, error) {
	return value.Unit, nil
}

func sizeOfVal(_ context.Context, call *Call) (value.Value, error) {
	a, err := arg(call, 0)
	if err != nil {
		return value.Unit, err
	}
	t := call.Types.Get(a.Type)
	if t == nil || (t.Kind != mir.KindRef && t.Kind != mir.KindPtr) {
		return value.Unit, unsupported(call.Types, a.Type)
	}
	if call.Types.IsWidePointer(a.Type) {
		n, err := a.Value.Metadata()
		if err != nil {
			return value.Unit, err
		}
		elem := call.Types.Get(t.Elem)
		size := 1
		if elem.Kind == mir.KindSlice {
			size = call.Types.SizeOf(elem.Elem)
		}
		return ret(call, n*uint64(size)), nil
	}
	return ret(call, uint64(call.Types.SizeOf(t.Elem))), nil
}

func alignOfVal(_ context.Context, call *Call) (value.Value, error) {
	a, err := arg(call, 0)
	if err != nil {
		return value.Unit, err
	}
	t := call.Types.Get(a.Type)
	if t == nil || (t.Kind != mir.KindRef && t.Kind != mir.KindPtr) {
		return value.Unit, unsupported(call.Types, a.Type)
	}
	return ret(call, uint64(call.Types.AlignOf(t.Elem))), nil
}

func exit(_ context.Context, call *Call) (value.Value, error) {
	a, err := arg(call, 0)
	if err != nil {
		return value.Unit, err
	}
	return value.Unit, &ExitError{Code: int(a.Value.Int64())}
}

func abort(context.Context, *Call) (value.Value, error) {
	return value.Unit, &PanicError{Msg: "process aborted"}
}

func panicStr(_ context.Context, call *Call) (value.Value, error) {
	msg := "explicit panic"
	if s, err := argStr(call, 0); err == nil {
		msg = string(s)
	}
	return value.Unit, &PanicError{Msg: msg}
}

func boundsCheck(_ context.Context, call *Call) (value.Value, error) {
	index, err := argUint(call, 0)
	if err != nil {
		return value.Unit, err
	}
	n, err := argUint(call, 1)
	if err != nil {
		return value.Unit, err
	}
	return value.Unit, fmt.Errorf("%w: index out of bounds: the len is %d but the index is %d", memory.ErrOutOfBounds, n, index)
}
