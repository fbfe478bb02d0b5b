package parser

import "snapmir/pkg/mir"

// binOps maps the printed operator names to binary operations
var binOps = func() map[string]mir.BinOp {
	ops := []mir.BinOp{
		mir.OpAdd, mir.OpSub, mir.OpMul,
		mir.OpAddWrapping, mir.OpSubWrapping, mir.OpMulWrapping,
		mir.OpAddWithOverflow, mir.OpSubWithOverflow, mir.OpMulWithOverflow,
		mir.OpAddUnchecked, mir.OpSubUnchecked, mir.OpMulUnchecked,
		mir.OpDiv, mir.OpRem,
		mir.OpBitAnd, mir.OpBitOr, mir.OpBitXor,
		mir.OpShl, mir.OpShr, mir.OpShlUnchecked, mir.OpShrUnchecked,
		mir.OpEq, mir.OpNe, mir.OpLt, mir.OpLe, mir.OpGt, mir.OpGe, mir.OpCmp,
		mir.OpOffset,
	}
	m := make(map[string]mir.BinOp, len(ops))
	for _, op := range ops {
		m[string(op)] = op
	}
	return m
}()

var unOps = map[string]mir.UnOp{
	"Not":         mir.OpNot,
	"Neg":         mir.OpNeg,
	"PtrMetadata": mir.OpPtrMetadata,
}

var castKinds = func() map[string]mir.CastKind {
	kinds := []mir.CastKind{
		mir.CastIntToInt, mir.CastIntToFloat, mir.CastFloatToInt, mir.CastFloatToFloat,
		mir.CastPtrToPtr, mir.CastTransmute, mir.CastUnsize, mir.CastReifyFnPointer,
		mir.CastPointerExposeProvenance, mir.CastPointerWithExposedProvenance, mir.CastFnPtrToPtr,
	}
	m := make(map[string]mir.CastKind, len(kinds))
	for _, k := range kinds {
		m[string(k)] = k
	}
	return m
}()

// placeRvalues take a single place argument
var placeRvalues = map[string]mir.RvalueKind{
	"Len":          mir.RvLen,
	"discriminant": mir.RvDiscriminant,
	"CopyForDeref": mir.RvCopyForDeref,
}

// typeRvalues take a single type argument
var typeRvalues = map[string]mir.RvalueKind{
	"SizeOf":  mir.RvSizeOf,
	"AlignOf": mir.RvAlignOf,
}

// ignoredStatements carry no runtime effect and are read as nop
var ignoredStatements = map[string]bool{
	"FakeRead":         true,
	"Retag":            true,
	"AscribeUserType":  true,
	"Coverage":         true,
	"PlaceMention":     true,
	"ConstEvalCounter": true,
	"Deinit":           true,
}

// unwindActions are the bare forms of an unwind target
var unwindActions = map[string]mir.UnwindKind{
	"continue":    mir.UnwindContinue,
	"terminate":   mir.UnwindTerminate,
	"unreachable": mir.UnwindUnreachable,
}
