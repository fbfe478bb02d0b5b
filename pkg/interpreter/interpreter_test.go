package interpreter_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"snapmir/pkg/interpreter"
	"snapmir/pkg/memory"
	"snapmir/pkg/parser"
	"snapmir/pkg/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func load(t *testing.T, src string, opts ...interpreter.Option) *interpreter.Interpreter {
	t.Helper()
	prog, err := parser.ParseProgram(src)
	require.NoError(t, err)
	it, err := interpreter.NewInterpreter(prog, opts...)
	require.NoError(t, err)
	return it
}

func run(t *testing.T, src string, opts ...interpreter.Option) (*interpreter.Result, error) {
	t.Helper()
	return load(t, src, opts...).Run(context.Background(), "main")
}

func TestReturnLocal(t *testing.T) {
	res, err := run(t, `
fn main() -> i32 {
    let _1: i32;

    bb0: {
        _1 = const 5_i32;
        _0 = copy _1;
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Value.Int64())
	assert.Equal(t, [3]int{}, res.Stats.Live, "every frame and static is released")
	assert.Equal(t, 1, res.MaxDepth)
}

const recursiveSum = `
fn sum(_1: u64) -> u64 {
    let _2: bool;
    let _3: u64;
    let _4: u64;

    bb0: {
        _2 = Eq(copy _1, const 0);
        switchInt(move _2) -> [0: bb1, otherwise: bb3];
    }

    bb1: {
        _3 = Sub(copy _1, const 1);
        _4 = sum(move _3) -> bb2;
    }

    bb2: {
        _0 = Add(copy _1, copy _4);
        return;
    }

    bb3: {
        _0 = const 0;
        return;
    }
}
`

func TestRecursion(t *testing.T) {
	it := load(t, recursiveSum)

	res, err := it.Run(context.Background(), "sum", value.FromUint(100, 8))
	require.NoError(t, err)
	assert.Equal(t, uint64(5050), res.Value.Uint64())
	assert.Equal(t, 101, res.MaxDepth)
	assert.Zero(t, it.Depth())
	assert.Equal(t, interpreter.Terminated, it.State())
}

func TestStackOverflow(t *testing.T) {
	it := load(t, recursiveSum, interpreter.WithMaxDepth(10))

	_, err := it.Run(context.Background(), "sum", value.FromUint(100, 8))
	require.ErrorIs(t, err, interpreter.ErrStackOverflow)
	assert.Zero(t, it.Depth())
}

func TestStepByStep(t *testing.T) {
	it := load(t, recursiveSum)
	require.NoError(t, it.Start("sum", value.FromUint(1, 8)))

	seen := map[interpreter.State]bool{}
	for {
		done, err := it.Step(context.Background())
		require.NoError(t, err)
		if done {
			break
		}
		seen[it.State()] = true
	}
	assert.True(t, seen[interpreter.Calling])
	assert.True(t, seen[interpreter.Returning])
	assert.Equal(t, uint64(1), it.Result().Value.Uint64())
}

const counters = `
static mut COUNTER: u32 = zeroed;
static BASE: u32 = const 100_u32;

fn bump() -> () {
    let _1: *mut u32;

    bb0: {
        _1 = const &COUNTER;
        (*_1) = Add(copy (*_1), const 1);
        return;
    }
}

fn main() -> u32 {
    let _1: &u32;
    let _2: *mut u32;

    bb0: {
        bump() -> bb1;
    }

    bb1: {
        bump() -> bb2;
    }

    bb2: {
        _1 = const &BASE;
        _2 = const &COUNTER;
        _0 = Add(copy (*_1), copy (*_2));
        return;
    }
}
`

func TestRerunStartsFresh(t *testing.T) {
	it := load(t, counters)

	first, err := it.Run(context.Background(), "main")
	require.NoError(t, err)
	second, err := it.Run(context.Background(), "main")
	require.NoError(t, err)

	assert.Equal(t, uint64(102), first.Value.Uint64())
	assert.Equal(t, first.Value, second.Value, "statics are rebuilt for every run")
	assert.Equal(t, first.Steps, second.Steps)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestZeroedLocals(t *testing.T) {
	res, err := run(t, `
fn main() -> u64 {
    let _1: u64;
    let _2: (u8, u64);

    bb0: {
        _0 = Add(copy _1, copy (_2.1: u64));
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Zero(t, res.Value.Uint64())
}

func TestDerefPastAllocation(t *testing.T) {
	res, err := run(t, `
fn main() -> u64 {
    let _1: *mut u8;
    let _2: *mut u64;
    let _3: *mut u64;

    bb0: {
        _1 = __rust_alloc(const 8_usize, const 8_usize) -> bb1;
    }

    bb1: {
        _2 = copy _1 as *mut u64 (PtrToPtr);
        _3 = Offset(copy _2, const 1_isize);
        _0 = copy (*_3);
        return;
    }
}
`)
	require.ErrorIs(t, err, interpreter.ErrOutOfBounds)
	require.ErrorIs(t, err, memory.ErrOutOfBounds)

	var f *interpreter.Fault
	require.ErrorAs(t, err, &f)
	require.NotEmpty(t, f.Trace)
	assert.Equal(t, "main", f.Trace[0].Func)
	assert.Equal(t, 2, f.Trace[0].Statement)
	assert.Contains(t, f.Trace[0].Text, "(*_3)")
	assert.Equal(t, 1, res.Calls)
}

func TestHeap(t *testing.T) {
	res, err := run(t, `
fn main() -> u64 {
    let _1: *mut u8;
    let _2: *mut u64;

    bb0: {
        _1 = __rust_alloc(const 8_usize, const 8_usize) -> bb1;
    }

    bb1: {
        _2 = copy _1 as *mut u64 (PtrToPtr);
        (*_2) = const 99_u64;
        _0 = copy (*_2);
        __rust_dealloc(move _1, const 8_usize, const 8_usize) -> bb2;
    }

    bb2: {
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), res.Value.Uint64())
	assert.Zero(t, res.Stats.Live[memory.Heap])
	assert.Equal(t, 2, res.Calls)
}

func TestHeapFaults(t *testing.T) {
	tests := []struct {
		name string
		tail string
		want error
	}{
		{
			name: "use after free",
			tail: `__rust_dealloc(copy _1, const 8_usize, const 8_usize) -> bb2;
    }

    bb2: {
        _0 = copy (*_2);
        return;`,
			want: interpreter.ErrUseAfterFree,
		},
		{
			name: "double free",
			tail: `__rust_dealloc(copy _1, const 8_usize, const 8_usize) -> bb2;
    }

    bb2: {
        __rust_dealloc(copy _1, const 8_usize, const 8_usize) -> bb3;
    }

    bb3: {
        return;`,
			want: interpreter.ErrUseAfterFree,
		},
		{
			name: "layout mismatch",
			tail: `__rust_dealloc(copy _1, const 16_usize, const 8_usize) -> bb2;
    }

    bb2: {
        return;`,
			want: interpreter.ErrInvalidFree,
		},
		{
			name: "memset past the allocation",
			tail: `memset(copy _1, const 0_i32, const 18446744073709551615_usize) -> bb2;
    }

    bb2: {
        return;`,
			want: interpreter.ErrOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `
fn main() -> u64 {
    let _1: *mut u8;
    let _2: *mut u64;

    bb0: {
        _1 = __rust_alloc(const 8_usize, const 8_usize) -> bb1;
    }

    bb1: {
        _2 = copy _1 as *mut u64 (PtrToPtr);
        ` + tt.tail + `
    }
}
`
			_, err := run(t, src)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDanglingStackPointer(t *testing.T) {
	res, err := run(t, `
fn leak() -> *const u32 {
    let _1: u32;

    bb0: {
        _1 = const 7_u32;
        _0 = &raw const _1;
        return;
    }
}

fn main() -> u32 {
    let _1: *const u32;

    bb0: {
        _1 = leak() -> bb1;
    }

    bb1: {
        _0 = copy (*_1);
        return;
    }
}
`)
	require.ErrorIs(t, err, interpreter.ErrUseAfterFree)
	require.ErrorIs(t, err, memory.ErrUseAfterFree)
	assert.Equal(t, [3]int{}, res.Stats.Live)
}

func TestOversizedAllocation(t *testing.T) {
	_, err := run(t, `
fn main() -> () {
    let _1: *mut u8;

    bb0: {
        _1 = malloc(const 4611686018427387904_usize) -> bb1;
    }

    bb1: {
        return;
    }
}
`)
	assert.ErrorIs(t, err, interpreter.ErrOutOfMemory)
}

func TestMemoryLimit(t *testing.T) {
	_, err := run(t, `
fn main() -> () {
    let _1: *mut u8;

    bb0: {
        _1 = __rust_alloc(const 4096_usize, const 8_usize) -> bb1;
    }

    bb1: {
        return;
    }
}
`, interpreter.WithMemoryLimit(1024))
	assert.ErrorIs(t, err, interpreter.ErrOutOfMemory)
}

func TestUnresolvedSymbol(t *testing.T) {
	_, err := run(t, `
fn main() -> () {
    bb0: {
        snapmir::print_in(const 1_i32) -> bb1;
    }

    bb1: {
        return;
    }
}
`)
	require.ErrorIs(t, err, interpreter.ErrUnresolvedSymbol)
	assert.Contains(t, err.Error(), "did you mean snapmir::print_int?")
}

func TestUnknownEntry(t *testing.T) {
	it := load(t, recursiveSum)
	_, err := it.Run(context.Background(), "summ")
	require.ErrorIs(t, err, interpreter.ErrUnresolvedSymbol)
	assert.Contains(t, err.Error(), "did you mean sum?")
}

func TestCheckedOverflow(t *testing.T) {
	res, err := run(t, `
fn main() -> u8 {
    let _1: (u8, bool);

    bb0: {
        _1 = AddWithOverflow(const 250_u8, const 5_u8);
        assert(!move (_1.1: bool), "attempt to add with overflow") -> bb1;
    }

    bb1: {
        _0 = move (_1.0: u8);
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, uint64(255), res.Value.Uint64())

	_, err = run(t, `
fn main() -> u8 {
    let _1: (u8, bool);

    bb0: {
        _1 = AddWithOverflow(const 250_u8, const 10_u8);
        assert(!move (_1.1: bool), "attempt to add with overflow") -> bb1;
    }

    bb1: {
        _0 = move (_1.0: u8);
        return;
    }
}
`)
	require.ErrorIs(t, err, interpreter.ErrArithmeticFault)
	assert.Contains(t, err.Error(), "attempt to add with overflow")
}

const faultingWrite = `
fn try_add(_1: *mut u8) -> () {
    bb0: {
        (*_1) = Add(const 250_u8, const 10_u8);
        return;
    }
}

fn main() -> u8 {
    let _1: u8;
    let _2: *mut u8;
    let _3: i32;

    bb0: {
        _1 = const 7_u8;
        _2 = &raw mut _1;
        _3 = std::intrinsics::catch_unwind(const try_add, move _2, const 0_usize) -> bb1;
    }

    bb1: {
        switchInt(copy _3) -> [1: bb2, otherwise: bb3];
    }

    bb2: {
        _0 = copy _1;
        return;
    }

    bb3: {
        unreachable;
    }
}
`

func TestFaultLeavesDestinationUntouched(t *testing.T) {
	res, err := run(t, faultingWrite)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.Value.Uint64())
}

func TestCatchUnwindNormalReturn(t *testing.T) {
	res, err := run(t, `
fn ok(_1: *mut u8) -> () {
    bb0: {
        (*_1) = const 9_u8;
        return;
    }
}

fn main() -> u8 {
    let _1: u8;
    let _2: *mut u8;
    let _3: i32;

    bb0: {
        _2 = &raw mut _1;
        _3 = catch_unwind(const ok, move _2, const 0_usize) -> bb1;
    }

    bb1: {
        switchInt(copy _3) -> [0: bb2, otherwise: bb3];
    }

    bb2: {
        _0 = copy _1;
        return;
    }

    bb3: {
        unreachable;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), res.Value.Uint64())
}

func TestCleanupRunsOnPanic(t *testing.T) {
	var out bytes.Buffer
	_, err := run(t, `
fn boom() -> () {
    bb0: {
        core::panicking::panic(const "boom") -> unwind continue;
    }
}

fn main() -> () {
    bb0: {
        boom() -> [return: bb1, unwind: bb2];
    }

    bb1: {
        return;
    }

    bb2 (cleanup): {
        snapmir::print_int(const 42_i32) -> [return: bb3, unwind terminate(cleanup)];
    }

    bb3 (cleanup): {
        resume;
    }
}
`, interpreter.WithWriter(&out))
	require.ErrorIs(t, err, interpreter.ErrPanic)

	var f *interpreter.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "boom", f.Msg)
	assert.Equal(t, "boom", f.Trace[0].Func)
	assert.Equal(t, "42\n", out.String())
}

func TestCancelledIsNotCaught(t *testing.T) {
	var out bytes.Buffer
	res, err := run(t, `
fn spin(_1: *mut u8) -> () {
    bb0: {
        goto -> bb0;
    }
}

fn main() -> () {
    let _1: u8;
    let _2: *mut u8;
    let _3: i32;

    bb0: {
        _2 = &raw mut _1;
        _3 = catch_unwind(const spin, move _2, const 0_usize) -> [return: bb1, unwind: bb2];
    }

    bb1: {
        return;
    }

    bb2 (cleanup): {
        snapmir::print_int(const 1_i32) -> [return: bb3, unwind terminate(cleanup)];
    }

    bb3 (cleanup): {
        resume;
    }
}
`, interpreter.WithMaxSteps(50), interpreter.WithWriter(&out))
	require.ErrorIs(t, err, interpreter.ErrCancelled)
	require.ErrorIs(t, err, interpreter.ErrMaxStepsExceeded)
	assert.Contains(t, err.Error(), "step limit exceeded")
	assert.Empty(t, out.String(), "cleanup does not run for a cancelled run")
	assert.Equal(t, [3]int{}, res.Stats.Live)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := load(t, recursiveSum)
	_, err := it.Run(ctx, "sum", value.FromUint(3, 8))
	require.ErrorIs(t, err, interpreter.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExit(t *testing.T) {
	var out bytes.Buffer
	res, err := run(t, `
fn main() -> () {
    bb0: {
        std::process::exit(const 3_i32) -> [return: bb1, unwind: bb2];
    }

    bb1: {
        return;
    }

    bb2 (cleanup): {
        snapmir::print_int(const 1_i32) -> [return: bb3, unwind terminate(cleanup)];
    }

    bb3 (cleanup): {
        resume;
    }
}
`, interpreter.WithWriter(&out))
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.Equal(t, 3, res.ExitCode)
	assert.Empty(t, out.String())
}

func TestCasts(t *testing.T) {
	var out bytes.Buffer
	_, err := run(t, `
fn main() -> () {
    let _1: i8;
    let _2: u8;
    let _3: u8;
    let _4: u8;
    let _5: i32;
    let _6: u32;

    bb0: {
        _1 = const -1000_i32 as i8 (IntToInt);
        snapmir::print_int(copy _1) -> bb1;
    }

    bb1: {
        _2 = const 1000_i32 as u8 (IntToInt);
        snapmir::print_int(copy _2) -> bb2;
    }

    bb2: {
        _3 = const 300.5_f64 as u8 (FloatToInt);
        snapmir::print_int(copy _3) -> bb3;
    }

    bb3: {
        _4 = const -5.7_f32 as u8 (FloatToInt);
        snapmir::print_int(copy _4) -> bb4;
    }

    bb4: {
        _5 = const 0x7ff8000000000000_f64 as i32 (FloatToInt);
        snapmir::print_int(copy _5) -> bb5;
    }

    bb5: {
        _6 = const -1_i32 as u32 (IntToInt);
        snapmir::print_int(copy _6) -> bb6;
    }

    bb6: {
        return;
    }
}
`, interpreter.WithWriter(&out))
	require.NoError(t, err)
	assert.Equal(t, "24\n232\n255\n0\n0\n4294967295\n", out.String())
}

func TestUnion(t *testing.T) {
	res, err := run(t, `
union Bits { f: f32, u: u32 }

fn main() -> u32 {
    let _1: Bits;

    bb0: {
        _1 = Bits { f: const 1_f32 };
        _0 = copy _1.u;
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3f800000), res.Value.Uint64())
}

func TestEnums(t *testing.T) {
	res, err := run(t, `
enum Op { Add(i64, i64), Neg(i64), Nop }

fn eval(_1: Op) -> i64 {
    let _2: isize;
    let _3: i64;
    let _4: i64;

    bb0: {
        _2 = discriminant(_1);
        switchInt(move _2) -> [0: bb1, 1: bb2, otherwise: bb3];
    }

    bb1: {
        _3 = copy ((_1 as Add).0: i64);
        _4 = copy ((_1 as Add).1: i64);
        _0 = Add(move _3, move _4);
        return;
    }

    bb2: {
        _3 = copy ((_1 as Neg).0: i64);
        _0 = Neg(move _3);
        return;
    }

    bb3: {
        _0 = const 0;
        return;
    }
}

fn main() -> i64 {
    let _1: Op;
    let _2: i64;
    let _3: Op;
    let _4: i64;
    let _5: Op;
    let _6: i64;

    bb0: {
        _1 = Op::Add(const 40, const 2);
        _2 = eval(move _1) -> bb1;
    }

    bb1: {
        _3 = Op::Neg(const 5);
        _4 = eval(move _3) -> bb2;
    }

    bb2: {
        _5 = Op::Nop;
        _6 = eval(move _5) -> bb3;
    }

    bb3: {
        _0 = Add(move _2, move _4);
        _0 = Add(copy _0, move _6);
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, int64(37), res.Value.Int64())
}

func TestEnumDiscriminantRange(t *testing.T) {
	res, err := run(t, `
enum Big { A = 5000000000, B }
enum Sign { Minus = -2, Zero, Plus }

fn main() -> i64 {
    let _1: Big;
    let _2: Sign;
    let _3: i64;
    let _4: i64;
    let _5: Sign;

    bb0: {
        _1 = Big::B;
        _2 = Sign::Minus;
        _5 = Sign::Plus;
        _3 = discriminant(_1);
        _4 = discriminant(_2);
        _0 = Add(move _3, move _4);
        _4 = discriminant(_5);
        _0 = Add(copy _0, move _4);
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000_001-2+0), res.Value.Int64())
}

func TestSlices(t *testing.T) {
	res, err := run(t, `
fn total(_1: &[u32]) -> u32 {
    let _2: usize;
    let _3: usize;
    let _4: bool;
    let _5: u32;

    bb0: {
        _3 = Len((*_1));
        goto -> bb1;
    }

    bb1: {
        _4 = Lt(copy _2, copy _3);
        switchInt(move _4) -> [0: bb3, otherwise: bb2];
    }

    bb2: {
        _5 = copy (*_1)[_2];
        _0 = Add(copy _0, move _5);
        _2 = Add(copy _2, const 1);
        goto -> bb1;
    }

    bb3: {
        return;
    }
}

fn main() -> u32 {
    let _1: [u32; 4];
    let _2: &[u32; 4];
    let _3: &[u32];

    bb0: {
        _1 = [const 1, const 2, const 3, const 4];
        _2 = &_1;
        _3 = move _2 as &[u32] (PointerCoercion(Unsize, Implicit));
        _0 = total(move _3) -> bb1;
    }

    bb1: {
        return;
    }
}
`)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.Value.Uint64())
}

func TestDropGlue(t *testing.T) {
	var out bytes.Buffer
	_, err := run(t, `
struct Guard { id: i32 }
impl Drop for Guard => drop_guard;

fn drop_guard(_1: *mut Guard) -> () {
    let _2: i32;

    bb0: {
        _2 = copy (*_1).id;
        snapmir::print_int(move _2) -> bb1;
    }

    bb1: {
        return;
    }
}

fn main() -> () {
    let _1: Guard;
    let _2: u8;

    bb0: {
        _1 = Guard { id: const 7 };
        drop(_1) -> bb1;
    }

    bb1: {
        drop(_2) -> bb2;
    }

    bb2: {
        return;
    }
}
`, interpreter.WithWriter(&out))
	require.NoError(t, err)
	assert.Equal(t, "7\n", out.String())
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "unreachable",
			body: `unreachable;`,
			want: interpreter.ErrUnreachable,
		},
		{
			name: "abort",
			body: `abort;`,
			want: interpreter.ErrPanic,
		},
		{
			name: "divide by zero",
			body: `_1 = Div(const 1_i32, const 0_i32);
        return;`,
			want: interpreter.ErrArithmeticFault,
		},
		{
			name: "checked add",
			body: `_1 = Add(const 2147483647_i32, const 1_i32);
        return;`,
			want: interpreter.ErrArithmeticFault,
		},
		{
			name: "index out of bounds",
			body: `_2 = [const 1_i32, const 2_i32];
        _3 = const 5_usize;
        _1 = copy _2[_3];
        return;`,
			want: interpreter.ErrOutOfBounds,
		},
		{
			name: "resume outside cleanup",
			body: `resume;`,
			want: interpreter.ErrInvalidProgram,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `
fn main() -> () {
    let _1: i32;
    let _2: [i32; 2];
    let _3: usize;

    bb0: {
        ` + tt.body + `
    }
}
`
			res, err := run(t, src)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, [3]int{}, res.Stats.Live)
		})
	}
}
