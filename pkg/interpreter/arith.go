package interpreter

import (
	"math"

	"github.com/holiman/uint256"

	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// Integers of up to 128 bits are widened into 256-bit two's complement
// words, so no add, sub or mul of two operands can overflow the word.

// widen sign- or zero-extends little-endian bytes to 256 bits.
func widen(b []byte, signed bool) uint256.Int {
	var z uint256.Int
	fill := byte(0)
	if signed && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		fill = 0xff
	}
	for limb := range 4 {
		var w uint64
		for j := 7; j >= 0; j-- {
			c := fill
			if idx := limb*8 + j; idx < len(b) {
				c = b[idx]
			}
			w = w<<8 | uint64(c)
		}
		z[limb] = w
	}
	return z
}

// narrow truncates z to size bytes.
func narrow(z *uint256.Int, size int) value.Value {
	out := make([]byte, size)
	for n := range out {
		out[n] = byte(z[n/8] >> (8 * (n % 8)))
	}
	return value.Wrap(out)
}

// fits reports whether z survives truncation to size bytes unchanged.
func fits(z *uint256.Int, size int, signed bool) bool {
	back := widen(narrow(z, size).Raw(), signed)
	return back.Eq(z)
}

func (i *Interpreter) binary(op mir.BinOp, lty mir.TypeID, l value.Value, rty mir.TypeID, r value.Value, dest mir.TypeID) (value.Value, error) {
	t := i.types.Get(lty)
	if t == nil {
		return value.Unit, faultf(InvalidProgram, "binary operand without a type")
	}
	switch {
	case t.IsInteger(), t.Kind == mir.KindChar:
		return i.intBinary(op, t, l, rty, r, dest)
	case t.Kind == mir.KindBool:
		return boolBinary(op, l, r)
	case t.Kind == mir.KindFloat:
		if t.Bits == 32 {
			a, _ := l.Float32()
			b, _ := r.Float32()
			return floatBinary(op, a, b, value.FromFloat32)
		}
		a, _ := l.Float64()
		b, _ := r.Float64()
		return floatBinary(op, a, b, value.FromFloat64)
	case t.IsPointer():
		return i.ptrBinary(op, t, l, r)
	}
	return value.Unit, faultf(UnsupportedConstruct, "%s on %s", op, i.types.String(lty))
}

type arithVariant int

const (
	checked arithVariant = iota
	wrapping
	withOverflow
	unchecked
)

func splitOp(op mir.BinOp) (mir.BinOp, arithVariant) {
	switch op {
	case mir.OpAddWrapping:
		return mir.OpAdd, wrapping
	case mir.OpSubWrapping:
		return mir.OpSub, wrapping
	case mir.OpMulWrapping:
		return mir.OpMul, wrapping
	case mir.OpAddWithOverflow:
		return mir.OpAdd, withOverflow
	case mir.OpSubWithOverflow:
		return mir.OpSub, withOverflow
	case mir.OpMulWithOverflow:
		return mir.OpMul, withOverflow
	case mir.OpAddUnchecked:
		return mir.OpAdd, unchecked
	case mir.OpSubUnchecked:
		return mir.OpSub, unchecked
	case mir.OpMulUnchecked:
		return mir.OpMul, unchecked
	case mir.OpShlUnchecked:
		return mir.OpShl, unchecked
	case mir.OpShrUnchecked:
		return mir.OpShr, unchecked
	}
	return op, checked
}

var overflowVerb = map[mir.BinOp]string{
	mir.OpAdd: "add",
	mir.OpSub: "subtract",
	mir.OpMul: "multiply",
	mir.OpShl: "shift left",
	mir.OpShr: "shift right",
}

func (i *Interpreter) intBinary(op mir.BinOp, t *mir.Type, l value.Value, rty mir.TypeID, r value.Value, dest mir.TypeID) (value.Value, error) {
	size, signed := l.Len(), t.IsSigned()
	x := widen(l.Raw(), signed)
	base, variant := splitOp(op)

	switch base {
	case mir.OpAdd, mir.OpSub, mir.OpMul:
		if r.Len() != size {
			return value.Unit, faultf(InvalidProgram, "%s of %d and %d byte operands", op, size, r.Len())
		}
		y := widen(r.Raw(), signed)
		var z uint256.Int
		switch base {
		case mir.OpAdd:
			z.Add(&x, &y)
		case mir.OpSub:
			z.Sub(&x, &y)
		default:
			z.Mul(&x, &y)
		}
		ok := fits(&z, size, signed)
		res := narrow(&z, size)

		switch variant {
		case wrapping:
			return res, nil
		case withOverflow:
			return i.overflowPair(dest, res, !ok)
		case unchecked:
			if !ok {
				return value.Unit, faultf(ArithmeticFault, "unchecked %s overflowed", overflowVerb[base])
			}
			return res, nil
		}
		if !ok {
			return value.Unit, faultf(ArithmeticFault, "attempt to %s with overflow", overflowVerb[base])
		}
		return res, nil

	case mir.OpDiv, mir.OpRem:
		y := widen(r.Raw(), signed)
		if y.IsZero() {
			if base == mir.OpDiv {
				return value.Unit, faultf(ArithmeticFault, "attempt to divide by zero")
			}
			return value.Unit, faultf(ArithmeticFault, "attempt to calculate the remainder with a divisor of zero")
		}
		var q, m uint256.Int
		if signed {
			q.SDiv(&x, &y)
			m.SMod(&x, &y)
		} else {
			q.Div(&x, &y)
			m.Mod(&x, &y)
		}
		if !fits(&q, size, signed) {
			if base == mir.OpDiv {
				return value.Unit, faultf(ArithmeticFault, "attempt to divide with overflow")
			}
			return value.Unit, faultf(ArithmeticFault, "attempt to calculate the remainder with overflow")
		}
		if base == mir.OpDiv {
			return narrow(&q, size), nil
		}
		return narrow(&m, size), nil

	case mir.OpBitAnd, mir.OpBitOr, mir.OpBitXor:
		y := widen(r.Raw(), signed)
		var z uint256.Int
		switch base {
		case mir.OpBitAnd:
			z.And(&x, &y)
		case mir.OpBitOr:
			z.Or(&x, &y)
		default:
			z.Xor(&x, &y)
		}
		return narrow(&z, size), nil

	case mir.OpShl, mir.OpShr:
		bits := uint64(size * 8)
		rt := i.types.Get(rty)
		amount := widen(r.Raw(), rt != nil && rt.IsSigned())
		var n uint64
		if variant == unchecked {
			if amount.Sign() < 0 || !amount.IsUint64() || amount.Uint64() >= bits {
				return value.Unit, faultf(ArithmeticFault, "attempt to %s with overflow", overflowVerb[base])
			}
			n = amount.Uint64()
		} else {
			n = amount[0] & (bits - 1)
		}
		var z uint256.Int
		switch {
		case base == mir.OpShl:
			z.Lsh(&x, uint(n))
		case signed:
			z.SRsh(&x, uint(n))
		default:
			z.Rsh(&x, uint(n))
		}
		return narrow(&z, size), nil

	case mir.OpEq, mir.OpNe, mir.OpLt, mir.OpLe, mir.OpGt, mir.OpGe, mir.OpCmp:
		y := widen(r.Raw(), signed)
		c := compare(&x, &y, signed)
		if base == mir.OpCmp {
			return value.FromInt(int64(c), max(1, i.types.SizeOf(dest))), nil
		}
		return value.FromBool(ordered(base, c)), nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "%s on integers", op)
}

func compare(x, y *uint256.Int, signed bool) int {
	switch {
	case x.Eq(y):
		return 0
	case signed && x.Slt(y), !signed && x.Lt(y):
		return -1
	}
	return 1
}

func ordered(op mir.BinOp, c int) bool {
	switch op {
	case mir.OpEq:
		return c == 0
	case mir.OpNe:
		return c != 0
	case mir.OpLt:
		return c < 0
	case mir.OpLe:
		return c <= 0
	case mir.OpGt:
		return c > 0
	}
	return c >= 0
}

// overflowPair builds the (result, overflowed) tuple of the WithOverflow ops.
func (i *Interpreter) overflowPair(dest mir.TypeID, res value.Value, overflowed bool) (value.Value, error) {
	lay, err := i.types.Layout(dest)
	if err != nil || len(lay.Offsets) != 2 {
		return value.Unit, faultf(InvalidProgram, "overflow result must be a pair, got %s", i.types.String(dest))
	}
	out, err := value.New(lay.Size).Splice(lay.Offsets[0], res)
	if err != nil {
		return value.Unit, wrapFault(InvalidProgram, err)
	}
	out, err = out.Splice(lay.Offsets[1], value.FromBool(overflowed))
	if err != nil {
		return value.Unit, wrapFault(InvalidProgram, err)
	}
	return out, nil
}

func boolBinary(op mir.BinOp, l, r value.Value) (value.Value, error) {
	a, err := l.Bool()
	if err != nil {
		return value.Unit, wrapFault(InvalidProgram, err)
	}
	b, err := r.Bool()
	if err != nil {
		return value.Unit, wrapFault(InvalidProgram, err)
	}
	ai, bi := btoi(a), btoi(b)
	switch op {
	case mir.OpBitAnd:
		return value.FromBool(a && b), nil
	case mir.OpBitOr:
		return value.FromBool(a || b), nil
	case mir.OpBitXor:
		return value.FromBool(a != b), nil
	case mir.OpCmp:
		return value.FromInt(int64(ai-bi), 1), nil
	case mir.OpEq, mir.OpNe, mir.OpLt, mir.OpLe, mir.OpGt, mir.OpGe:
		return value.FromBool(ordered(op, ai-bi)), nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "%s on bool", op)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// floatBinary follows IEEE 754: comparisons with NaN are false except Ne.
func floatBinary[F float32 | float64](op mir.BinOp, a, b F, enc func(F) value.Value) (value.Value, error) {
	switch op {
	case mir.OpAdd:
		return enc(a + b), nil
	case mir.OpSub:
		return enc(a - b), nil
	case mir.OpMul:
		return enc(a * b), nil
	case mir.OpDiv:
		return enc(a / b), nil
	case mir.OpRem:
		return enc(F(math.Mod(float64(a), float64(b)))), nil
	case mir.OpEq:
		return value.FromBool(a == b), nil
	case mir.OpNe:
		return value.FromBool(a != b), nil
	case mir.OpLt:
		return value.FromBool(a < b), nil
	case mir.OpLe:
		return value.FromBool(a <= b), nil
	case mir.OpGt:
		return value.FromBool(a > b), nil
	case mir.OpGe:
		return value.FromBool(a >= b), nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "%s on floats", op)
}

func (i *Interpreter) ptrBinary(op mir.BinOp, t *mir.Type, l, r value.Value) (value.Value, error) {
	a, err := l.Address()
	if err != nil {
		return value.Unit, wrapFault(InvalidProgram, err)
	}

	if op == mir.OpOffset {
		n := r.Int64()
		size := i.types.SizeOf(t.Elem)
		addr := a + uint64(n*int64(size))
		if l.Len() == 16 {
			meta, _ := l.Metadata()
			return value.FromWide(addr, meta), nil
		}
		return value.FromAddress(addr), nil
	}

	b, err := r.Address()
	if err != nil {
		return value.Unit, wrapFault(InvalidProgram, err)
	}
	c := 0
	switch {
	case a < b:
		c = -1
	case a > b:
		c = 1
	}
	switch op {
	case mir.OpEq, mir.OpNe:
		same := l.Equal(r)
		if op == mir.OpEq {
			return value.FromBool(same), nil
		}
		return value.FromBool(!same), nil
	case mir.OpLt, mir.OpLe, mir.OpGt, mir.OpGe:
		return value.FromBool(ordered(op, c)), nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "%s on pointers", op)
}

func (i *Interpreter) unary(op mir.UnOp, ty mir.TypeID, v value.Value) (value.Value, error) {
	t := i.types.Get(ty)
	if t == nil {
		return value.Unit, faultf(InvalidProgram, "unary operand without a type")
	}
	switch op {
	case mir.OpNot:
		if t.Kind == mir.KindBool {
			b, err := v.Bool()
			if err != nil {
				return value.Unit, wrapFault(InvalidProgram, err)
			}
			return value.FromBool(!b), nil
		}
		if t.IsInteger() {
			out := v.Bytes()
			for n := range out {
				out[n] = ^out[n]
			}
			return value.Wrap(out), nil
		}
	case mir.OpNeg:
		if t.Kind == mir.KindFloat {
			if t.Bits == 32 {
				f, _ := v.Float32()
				return value.FromFloat32(-f), nil
			}
			f, _ := v.Float64()
			return value.FromFloat64(-f), nil
		}
		if t.IsInteger() && t.IsSigned() {
			x := widen(v.Raw(), true)
			var z uint256.Int
			z.Neg(&x)
			if !fits(&z, v.Len(), true) {
				return value.Unit, faultf(ArithmeticFault, "attempt to negate with overflow")
			}
			return narrow(&z, v.Len()), nil
		}
	case mir.OpPtrMetadata:
		if v.Len() == 16 {
			meta, _ := v.Metadata()
			return value.FromUint(meta, mir.PointerSize), nil
		}
		return value.Unit, nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "%s on %s", op, i.types.String(ty))
}
