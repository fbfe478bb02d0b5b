package interpreter

import (
	"snapmir/pkg/memory"
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// evalOperand reads an operand and returns it with its type. Moves are
// copies: the source keeps its bytes.
func (i *Interpreter) evalOperand(f *Frame, op *mir.Operand) (value.Value, mir.TypeID, error) {
	switch op.Kind {
	case mir.OperandCopy, mir.OperandMove:
		ref, err := i.resolvePlace(f, op.Place)
		if err != nil {
			return value.Unit, mir.NoType, err
		}
		v, err := i.readPlace(ref)
		return v, ref.ty, err
	case mir.OperandConst:
		if op.Const == nil {
			return value.Unit, mir.NoType, faultf(InvalidProgram, "constant operand without value")
		}
		v, err := i.evalConst(op.Const)
		return v, op.Const.Type, err
	}
	return value.Unit, mir.NoType, faultf(InvalidProgram, "operand kind %q", op.Kind)
}

func (i *Interpreter) evalConst(c *mir.Const) (value.Value, error) {
	switch c.Kind {
	case mir.ConstBytes:
		size := i.types.SizeOf(c.Type)
		if len(c.Bytes) > size {
			return value.Unit, faultf(InvalidProgram, "constant of type %s has %d bytes", i.types.String(c.Type), len(c.Bytes))
		}
		v := value.New(size)
		return v.Splice(0, value.FromBytes(c.Bytes))
	case mir.ConstStr:
		addr, err := i.literal(c.Str)
		if err != nil {
			return value.Unit, err
		}
		return value.FromWide(addr, uint64(len(c.Str))), nil
	case mir.ConstFn:
		if t := i.types.Get(c.Type); t != nil && t.Kind == mir.KindFnPtr {
			return i.fnAddress(c.Symbol)
		}
		return value.Unit, nil
	case mir.ConstStatic:
		idx, ok := i.syms.Static(c.Symbol)
		if !ok {
			return value.Unit, faultf(UnresolvedSymbol, "static %s is not defined", c.Symbol)
		}
		return value.FromAddress(i.statics[idx]), nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "constant kind %q", c.Kind)
}

func (i *Interpreter) fnAddress(symbol string) (value.Value, error) {
	sym, ok := i.syms.Lookup(symbol)
	if !ok {
		return value.Unit, faultf(UnresolvedSymbol, "function %s is not defined", symbol)
	}
	return value.FromAddress(memory.FnAddress(sym.Slot)), nil
}

// evalRvalue computes rv. dest is the type of the assigned place and types
// aggregates and overflow tuples that do not name their own.
func (i *Interpreter) evalRvalue(f *Frame, rv *mir.Rvalue, dest mir.TypeID) (value.Value, error) {
	switch rv.Kind {
	case mir.RvUse:
		v, _, err := i.operand(f, rv, 0)
		return v, err

	case mir.RvCopyForDeref:
		ref, err := i.resolvePlace(f, rv.Place)
		if err != nil {
			return value.Unit, err
		}
		return i.readPlace(ref)

	case mir.RvBinary:
		l, lty, err := i.operand(f, rv, 0)
		if err != nil {
			return value.Unit, err
		}
		r, rty, err := i.operand(f, rv, 1)
		if err != nil {
			return value.Unit, err
		}
		return i.binary(rv.BinOp, lty, l, rty, r, dest)

	case mir.RvUnary:
		v, ty, err := i.operand(f, rv, 0)
		if err != nil {
			return value.Unit, err
		}
		return i.unary(rv.UnOp, ty, v)

	case mir.RvRef, mir.RvRawPtr:
		ref, err := i.resolvePlace(f, rv.Place)
		if err != nil {
			return value.Unit, err
		}
		if i.types.IsUnsized(ref.ty) {
			return value.FromWide(ref.addr, ref.meta), nil
		}
		return value.FromAddress(ref.addr), nil

	case mir.RvCast:
		if len(rv.Operands) == 1 && rv.Cast == mir.CastReifyFnPointer {
			op := &rv.Operands[0]
			if op.Kind == mir.OperandConst && op.Const != nil && op.Const.Kind == mir.ConstFn {
				return i.fnAddress(op.Const.Symbol)
			}
		}
		v, ty, err := i.operand(f, rv, 0)
		if err != nil {
			return value.Unit, err
		}
		target := rv.Type
		if target == mir.NoType {
			target = dest
		}
		return i.cast(rv.Cast, v, ty, target)

	case mir.RvAggregate:
		ty := rv.Type
		if ty == mir.NoType {
			ty = dest
		}
		return i.aggregate(f, rv, ty)

	case mir.RvRepeat:
		v, _, err := i.operand(f, rv, 0)
		if err != nil {
			return value.Unit, err
		}
		return v.Repeat(rv.Count), nil

	case mir.RvLen:
		ref, err := i.resolvePlace(f, rv.Place)
		if err != nil {
			return value.Unit, err
		}
		n, err := i.placeLen(ref)
		if err != nil {
			return value.Unit, err
		}
		return value.FromUint(n, mir.PointerSize), nil

	case mir.RvDiscriminant:
		ref, err := i.resolvePlace(f, rv.Place)
		if err != nil {
			return value.Unit, err
		}
		size := i.types.SizeOf(dest)
		t := i.types.Get(ref.ty)
		if t == nil || t.Kind != mir.KindEnum {
			return value.New(size), nil
		}
		idx, err := i.readTag(ref)
		if err != nil {
			return value.Unit, err
		}
		return value.FromInt(t.Variants[idx].Discr, size), nil

	case mir.RvSizeOf, mir.RvAlignOf:
		lay, err := i.types.Layout(rv.Type)
		if err != nil {
			return value.Unit, err
		}
		n := lay.Size
		if rv.Kind == mir.RvAlignOf {
			n = lay.Align
		}
		return value.FromUint(uint64(n), mir.PointerSize), nil
	}
	return value.Unit, faultf(UnsupportedConstruct, "rvalue kind %q", rv.Kind)
}

func (i *Interpreter) operand(f *Frame, rv *mir.Rvalue, n int) (value.Value, mir.TypeID, error) {
	if n >= len(rv.Operands) {
		return value.Unit, mir.NoType, faultf(InvalidProgram, "%s rvalue needs %d operands, has %d", rv.Kind, n+1, len(rv.Operands))
	}
	return i.evalOperand(f, &rv.Operands[n])
}

// aggregate builds a tuple, array, struct, union or enum value. Padding and
// the bytes of inactive fields are zero.
func (i *Interpreter) aggregate(f *Frame, rv *mir.Rvalue, ty mir.TypeID) (value.Value, error) {
	t := i.types.Get(ty)
	if t == nil {
		return value.Unit, faultf(InvalidProgram, "aggregate without a type")
	}
	lay, err := i.types.Layout(ty)
	if err != nil {
		return value.Unit, err
	}

	var offsets []int
	switch t.Kind {
	case mir.KindTuple, mir.KindStruct:
		if len(rv.Operands) != len(t.Fields) {
			return value.Unit, faultf(InvalidProgram, "%s has %d fields, aggregate gives %d", i.types.String(ty), len(t.Fields), len(rv.Operands))
		}
		offsets = lay.Offsets
	case mir.KindArray:
		if len(rv.Operands) != t.Len {
			return value.Unit, faultf(InvalidProgram, "%s has %d elements, aggregate gives %d", i.types.String(ty), t.Len, len(rv.Operands))
		}
		size := i.types.SizeOf(t.Elem)
		offsets = make([]int, t.Len)
		for n := range offsets {
			offsets[n] = n * size
		}
	case mir.KindUnion:
		if len(rv.Operands) != 1 || rv.Field < 0 || rv.Field >= len(t.Fields) {
			return value.Unit, faultf(InvalidProgram, "union %s aggregate must set exactly one field", t.Name)
		}
		offsets = []int{0}
	case mir.KindEnum:
		if rv.Variant < 0 || rv.Variant >= len(t.Variants) {
			return value.Unit, faultf(InvalidProgram, "enum %s has no variant %d", t.Name, rv.Variant)
		}
		if len(rv.Operands) != len(t.Variants[rv.Variant].Fields) {
			return value.Unit, faultf(InvalidProgram, "variant %s::%s takes %d fields, aggregate gives %d",
				t.Name, t.Variants[rv.Variant].Name, len(t.Variants[rv.Variant].Fields), len(rv.Operands))
		}
		offsets = lay.VariantOffsets[rv.Variant]
	default:
		return value.Unit, faultf(UnsupportedConstruct, "aggregate of %s", i.types.String(ty))
	}

	out := value.New(lay.Size)
	if t.Kind == mir.KindEnum && lay.TagSize > 0 {
		if out, err = out.Splice(lay.TagOffset, value.FromInt(t.Variants[rv.Variant].Discr, lay.TagSize)); err != nil {
			return value.Unit, wrapFault(InvalidProgram, err)
		}
	}
	for n := range rv.Operands {
		v, _, err := i.evalOperand(f, &rv.Operands[n])
		if err != nil {
			return value.Unit, err
		}
		if out, err = out.Splice(offsets[n], v); err != nil {
			return value.Unit, wrapFault(InvalidProgram, err)
		}
	}
	return out, nil
}
