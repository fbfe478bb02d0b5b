package parser_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapmir/pkg/lexer"
	"snapmir/pkg/mir"
	"snapmir/pkg/parser"
)

const shapes = `
struct Point { x: i32, y: i32 }
enum Shape { Dot, Circle(Point, u32) = 4, Square { side: u32 } }
static COUNT: u64 = const 7_u64;
extern "libc" fn puts(*const u8) -> i32;

fn area(_1: Shape) -> u32 {
    debug s => _1;
    let mut _2: u32;
    let _3: isize;

    bb0: {
        _3 = discriminant(_1);
        switchInt(move _3) -> [4: bb1, otherwise: bb2];
    }

    bb1: {
        _2 = copy ((_1 as Circle).1: u32);
        _0 = Mul(copy _2, copy _2);
        return;
    }

    bb2: {
        _0 = const 0;
        return;
    }
}
`

func TestParseProgram(t *testing.T) {
	prog, err := parser.ParseProgram(shapes)
	require.NoError(t, err)
	tt := prog.Types

	shape, ok := tt.Named("Shape")
	require.True(t, ok)
	variants := tt.Get(shape).Variants
	require.Len(t, variants, 3)
	assert.Equal(t, []int64{0, 4, 5}, []int64{variants[0].Discr, variants[1].Discr, variants[2].Discr})
	assert.Equal(t, "side", variants[2].Fields[0].Name)

	require.Len(t, prog.Statics, 1)
	assert.Equal(t, []byte{7, 0, 0, 0, 0, 0, 0, 0}, prog.Statics[0].Init)

	require.Len(t, prog.Externs, 1)
	ext := prog.Externs[0]
	assert.Equal(t, "libc", ext.Library)
	assert.Equal(t, []mir.TypeID{tt.Ptr(tt.Uint(8), false)}, ext.Params)
	assert.Equal(t, tt.Int(32), ext.Ret)

	fn, ok := prog.Func("area")
	require.True(t, ok)
	assert.Equal(t, 1, fn.ArgCount)
	require.Len(t, fn.Locals, 4)
	assert.Equal(t, "s", fn.Locals[1].Name)
	assert.True(t, fn.Locals[2].Mut)
	require.Len(t, fn.Blocks, 3)

	sw := fn.Blocks[0].Terminator
	assert.Equal(t, mir.TermSwitchInt, sw.Kind)
	assert.Equal(t, []mir.SwitchCase{{Value: 4, Target: 1}}, sw.Cases)
	assert.Equal(t, mir.BlockID(2), sw.Otherwise)

	read := fn.Blocks[1].Statements[0].Rvalue.Operands[0]
	assert.Equal(t, []mir.Projection{
		{Kind: mir.ProjDowncast, Variant: 1},
		{Kind: mir.ProjField, Field: 1},
	}, read.Place.Projection)

	zero := fn.Blocks[2].Statements[0].Rvalue.Operands[0].Const
	assert.Equal(t, tt.Uint(32), zero.Type)
	assert.Equal(t, []byte{0, 0, 0, 0}, zero.Bytes)
}

func TestDumpRoundTrip(t *testing.T) {
	prog, err := parser.ParseProgram(shapes)
	require.NoError(t, err)

	var first bytes.Buffer
	require.NoError(t, prog.Dump(&first))

	again, err := parser.ParseProgram(first.String())
	require.NoError(t, err, first.String())

	var second bytes.Buffer
	require.NoError(t, again.Dump(&second))
	assert.Equal(t, first.String(), second.String())
}

func TestLiteralTyping(t *testing.T) {
	src := `
fn f(_1: u8) -> u8 {
    let _2: bool;

    bb0: {
        _2 = Lt(const 3, copy _1);
        _0 = Add(copy _1, const 1);
        _0 = const -1_i8 as u8 (IntToInt);
        _0 = const 0xff;
        return;
    }
}
`
	prog, err := parser.ParseProgram(src)
	require.NoError(t, err)
	tt := prog.Types
	stmts := prog.Funcs[0].Blocks[0].Statements

	lt := stmts[0].Rvalue.Operands[0].Const
	assert.Equal(t, tt.Uint(8), lt.Type, "literal takes the type of the other operand")
	assert.Equal(t, []byte{3}, lt.Bytes)

	add := stmts[1].Rvalue.Operands[1].Const
	assert.Equal(t, tt.Uint(8), add.Type)

	neg := stmts[2].Rvalue.Operands[0].Const
	assert.Equal(t, tt.Int(8), neg.Type)
	assert.Equal(t, []byte{0xff}, neg.Bytes)
	assert.Equal(t, mir.CastIntToInt, stmts[2].Rvalue.Cast)

	assert.Equal(t, []byte{0xff}, stmts[3].Rvalue.Operands[0].Const.Bytes)
}

func TestLiteralOutOfRange(t *testing.T) {
	src := `
fn f() -> u8 {
    bb0: {
        _0 = const 300_u8;
        return;
    }
}
`
	_, err := parser.ParseProgram(src)
	require.ErrorIs(t, err, parser.ErrSyntax)
	assert.Contains(t, err.Error(), "out of range for u8")
}

func TestAggregates(t *testing.T) {
	src := `
struct P { x: i32, y: i32 }
union U { i: u32, f: f32 }
enum E { A, B(i64) }

fn f() -> P {
    let _1: U;
    let _2: E;
    let _3: [u16; 4];
    let _4: (bool, char);

    bb0: {
        _0 = P { y: const 2, x: const 1 };
        _1 = U { f: const 1.5 };
        _2 = E::B(const 9);
        _2 = E::A;
        _3 = [const 7; 4];
        _4 = (const true, const 'x');
        return;
    }
}
`
	prog, err := parser.ParseProgram(src)
	require.NoError(t, err)
	tt := prog.Types
	stmts := prog.Funcs[0].Blocks[0].Statements

	p := stmts[0].Rvalue
	require.Len(t, p.Operands, 2)
	assert.Equal(t, []byte{1, 0, 0, 0}, p.Operands[0].Const.Bytes, "operands follow field order")
	assert.Equal(t, []byte{2, 0, 0, 0}, p.Operands[1].Const.Bytes)

	u := stmts[1].Rvalue
	assert.Equal(t, 1, u.Field)
	assert.Equal(t, binary.LittleEndian.AppendUint32(nil, math.Float32bits(1.5)), u.Operands[0].Const.Bytes)

	b := stmts[2].Rvalue
	assert.Equal(t, 1, b.Variant)
	assert.Equal(t, tt.Int(64), b.Operands[0].Const.Type)
	assert.Equal(t, 0, stmts[3].Rvalue.Variant)
	assert.Empty(t, stmts[3].Rvalue.Operands)

	rep := stmts[4].Rvalue
	assert.Equal(t, mir.RvRepeat, rep.Kind)
	assert.Equal(t, 4, rep.Count)
	assert.Equal(t, tt.Uint(16), rep.Operands[0].Const.Type)

	tup := stmts[5].Rvalue
	assert.Equal(t, tt.Tuple(tt.Bool(), tt.Char()), tup.Type)
	assert.Equal(t, []byte{'x', 0, 0, 0}, tup.Operands[1].Const.Bytes)
}

func TestCalls(t *testing.T) {
	src := `
extern fn g(i32) -> i32;

fn f(_1: i32) -> i32 {
    let _2: fn(i32) -> i32;

    bb0: {
        _2 = const fn g as fn(i32) -> i32 (PointerCoercion(ReifyFnPointer, Implicit));
        _0 = move _2(const 5) -> [return: bb1, unwind: bb2];
    }

    bb1: {
        _0 = g(copy _0) -> bb3;
    }

    bb2 (cleanup): {
        resume;
    }

    bb3: {
        core::panicking::panic(const "boom") -> unwind continue;
    }
}
`
	prog, err := parser.ParseProgram(src)
	require.NoError(t, err)
	tt := prog.Types
	fn := prog.Funcs[0]

	cast := fn.Blocks[0].Statements[0].Rvalue
	assert.Equal(t, mir.RvCast, cast.Kind)
	assert.Equal(t, mir.CastReifyFnPointer, cast.Cast)

	call := fn.Blocks[0].Terminator
	assert.Equal(t, mir.TermCall, call.Kind)
	assert.Equal(t, mir.OperandMove, call.Func.Kind)
	assert.Equal(t, tt.Int(32), call.Args[0].Const.Type)
	assert.Equal(t, mir.BlockID(1), call.Target)
	assert.Equal(t, mir.UnwindAction{Kind: mir.UnwindCleanup, Block: 2}, call.Unwind)

	assert.True(t, fn.Blocks[2].Cleanup)
	assert.Equal(t, mir.TermResume, fn.Blocks[2].Terminator.Kind)

	panicCall := fn.Blocks[3].Terminator
	assert.True(t, panicCall.Diverging)
	assert.Equal(t, mir.NoLocal, panicCall.Dest.Local)
	assert.Equal(t, "core::panicking::panic", panicCall.Func.Const.Symbol)

	// unknown callees become implicit externs
	assert.Len(t, prog.Externs, 2)
}

func TestCompilerDumpForms(t *testing.T) {
	src := `
fn main() -> () {
    let mut _0: ();
    let _1: [i32; 3];
    let _2: &[i32];
    let _3: &[i32; 3];
    scope 1 {
        debug xs => _1;
        scope 2 {
            debug s => _2;
        }
    }

    bb0: {
        StorageLive(_1);
        _1 = [const 1_i32, const 2_i32, const 3_i32];
        FakeRead(ForLet(None), _1);
        StorageLive(_3);
        _3 = &_1;
        _2 = move _3 as &[i32] (PointerCoercion(Unsize, Implicit));
        StorageDead(_3);
        return;
    }
}
`
	prog, err := parser.ParseProgram(src)
	require.NoError(t, err)
	fn := prog.Funcs[0]

	assert.True(t, fn.Locals[0].Mut)
	assert.Equal(t, "xs", fn.Locals[1].Name)
	assert.Equal(t, "s", fn.Locals[2].Name)

	stmts := fn.Blocks[0].Statements
	require.Len(t, stmts, 7)
	assert.Equal(t, mir.StmtStorageLive, stmts[0].Kind)
	assert.Equal(t, mir.StmtNop, stmts[2].Kind)
	assert.Equal(t, mir.RvRef, stmts[4].Rvalue.Kind)
	assert.Equal(t, mir.CastUnsize, stmts[5].Rvalue.Cast)
	assert.Equal(t, mir.StmtStorageDead, stmts[6].Kind)
}

func TestSyntaxErrorsRecover(t *testing.T) {
	src := `fn a() {
    bb0: {
        return
    }
}

fn b() {
    bb0: {
        goto -> bb0
    }
}

fn c() {
    bb0: {
        return;
    }
}
`
	p := parser.NewParser(lexer.NewLexer(src))
	prog := p.Parse()

	errs := p.Errors()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Missing semicolon")
	assert.Contains(t, errs[0], "Line: 4, Column 5")
	assert.Contains(t, errs[1], "Missing semicolon")

	require.Len(t, prog.Funcs, 1, "parsing resumes at the next item")
	assert.Equal(t, "c", prog.Funcs[0].Name)
}

func TestUndeclaredType(t *testing.T) {
	src := `
fn f(_1: Missing) {
    bb0: { return; }
}
`
	_, err := parser.ParseProgram(src)
	require.ErrorIs(t, err, mir.ErrInvalidProgram)
	assert.Contains(t, err.Error(), "Missing")
}
