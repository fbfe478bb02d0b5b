package interpreter

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// cast converts v of type from to type to.
func (i *Interpreter) cast(kind mir.CastKind, v value.Value, from, to mir.TypeID) (value.Value, error) {
	ft, tt := i.types.Get(from), i.types.Get(to)
	if ft == nil || tt == nil {
		return value.Unit, faultf(InvalidProgram, "cast between untyped values")
	}
	size := i.types.SizeOf(to)

	switch kind {
	case mir.CastIntToInt:
		x := widen(v.Raw(), ft.IsSigned())
		return narrow(&x, size), nil

	case mir.CastIntToFloat:
		x := widen(v.Raw(), ft.IsSigned())
		f := new(big.Float).SetInt(toBig(&x, ft.IsSigned()))
		if tt.Bits == 32 {
			r, _ := f.Float32()
			return value.FromFloat32(r), nil
		}
		r, _ := f.Float64()
		return value.FromFloat64(r), nil

	case mir.CastFloatToInt:
		var f float64
		if ft.Bits == 32 {
			f32, _ := v.Float32()
			f = float64(f32)
		} else {
			f, _ = v.Float64()
		}
		return saturate(f, size, tt.IsSigned()), nil

	case mir.CastFloatToFloat:
		if ft.Bits == tt.Bits {
			return v, nil
		}
		if tt.Bits == 32 {
			f, _ := v.Float64()
			return value.FromFloat32(float32(f)), nil
		}
		f, _ := v.Float32()
		return value.FromFloat64(float64(f)), nil

	case mir.CastPtrToPtr, mir.CastFnPtrToPtr, mir.CastReifyFnPointer:
		switch {
		case v.Len() == size:
			return v, nil
		case v.Len() == 2*mir.PointerSize && size == mir.PointerSize:
			return v.Slice(0, mir.PointerSize)
		}
		return value.Unit, faultf(UnsupportedConstruct, "%s cast from %s to %s", kind, i.types.String(from), i.types.String(to))

	case mir.CastUnsize:
		src := i.types.Get(ft.Elem)
		if !ft.IsPointer() || src == nil || src.Kind != mir.KindArray || !i.types.IsWidePointer(to) {
			return value.Unit, faultf(UnsupportedConstruct, "unsize cast from %s to %s", i.types.String(from), i.types.String(to))
		}
		addr, err := v.Address()
		if err != nil {
			return value.Unit, wrapFault(InvalidProgram, err)
		}
		return value.FromWide(addr, uint64(src.Len)), nil

	case mir.CastPointerExposeProvenance:
		addr, err := v.Address()
		if err != nil {
			return value.Unit, wrapFault(InvalidProgram, err)
		}
		return value.FromUint(addr, size), nil

	case mir.CastPointerWithExposedProvenance:
		return value.FromUint(v.Uint64(), size), nil

	case mir.CastTransmute:
		if v.Len() != size {
			return value.Unit, faultf(UnsupportedConstruct, "transmute from %s (%d bytes) to %s (%d bytes)",
				i.types.String(from), v.Len(), i.types.String(to), size)
		}
		return v, nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "cast kind %q", kind)
}

func toBig(x *uint256.Int, signed bool) *big.Int {
	if signed && x.Sign() < 0 {
		var abs uint256.Int
		abs.Neg(x)
		b := abs.ToBig()
		return b.Neg(b)
	}
	return x.ToBig()
}

// saturate converts f to an integer of size bytes: truncated toward zero,
// clamped to the target range, NaN to 0.
func saturate(f float64, size int, signed bool) value.Value {
	bits := uint(size * 8)
	lo, hi := new(big.Int), new(big.Int).Lsh(big.NewInt(1), bits)
	if signed {
		hi.Rsh(hi, 1)
		lo.Neg(hi)
	}
	hi.Sub(hi, big.NewInt(1))

	var n *big.Int
	switch {
	case math.IsNaN(f):
		n = new(big.Int)
	case math.IsInf(f, 1):
		n = hi
	case math.IsInf(f, -1):
		n = lo
	default:
		n, _ = new(big.Float).SetFloat64(f).Int(nil)
		if n.Cmp(hi) > 0 {
			n = hi
		} else if n.Cmp(lo) < 0 {
			n = lo
		}
	}

	if n.Sign() < 0 {
		n = new(big.Int).Add(n, new(big.Int).Lsh(big.NewInt(1), bits))
	}
	be := n.FillBytes(make([]byte, size))
	out := make([]byte, size)
	for k := range be {
		out[k] = be[size-1-k]
	}
	return value.Wrap(out)
}
