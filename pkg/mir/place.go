package mir

import "fmt"

// PlaceType computes the static type of a place inside fn. The returned
// variant is the active downcast, or -1.
func PlaceType(tt *TypeTable, fn *Function, place Place) (TypeID, int, error) {
	if place.Local < 0 || int(place.Local) >= len(fn.Locals) {
		return NoType, -1, fmt.Errorf("unknown local _%d", place.Local)
	}
	ty := fn.Locals[place.Local].Type
	variant := -1

	for _, proj := range place.Projection {
		t := tt.Get(ty)
		if t == nil {
			return NoType, -1, fmt.Errorf("projection on untyped place _%d", place.Local)
		}
		switch proj.Kind {
		case ProjDeref:
			if t.Kind != KindRef && t.Kind != KindPtr {
				return NoType, -1, fmt.Errorf("deref of non-pointer type %s", tt.String(ty))
			}
			ty, variant = t.Elem, -1
		case ProjField:
			fields := t.Fields
			if t.Kind == KindEnum {
				if variant < 0 || variant >= len(t.Variants) {
					return NoType, -1, fmt.Errorf("field of enum %s without downcast", t.Name)
				}
				fields = t.Variants[variant].Fields
			}
			if proj.Field < 0 || proj.Field >= len(fields) {
				return NoType, -1, fmt.Errorf("type %s has no field %d", tt.String(ty), proj.Field)
			}
			ty, variant = fields[proj.Field].Type, -1
		case ProjIndex, ProjConstIndex:
			if t.Kind != KindArray && t.Kind != KindSlice {
				return NoType, -1, fmt.Errorf("index into non-array type %s", tt.String(ty))
			}
			ty, variant = t.Elem, -1
		case ProjDowncast:
			if t.Kind != KindEnum || proj.Variant < 0 || proj.Variant >= len(t.Variants) {
				return NoType, -1, fmt.Errorf("invalid downcast of %s to variant %d", tt.String(ty), proj.Variant)
			}
			variant = proj.Variant
		default:
			return NoType, -1, fmt.Errorf("unknown projection %q", proj.Kind)
		}
	}
	return ty, variant, nil
}

// OperandType returns the static type of an operand.
func OperandType(tt *TypeTable, fn *Function, op *Operand) (TypeID, error) {
	if op.Kind == OperandConst {
		if op.Const == nil {
			return NoType, fmt.Errorf("constant operand without value")
		}
		return op.Const.Type, nil
	}
	ty, _, err := PlaceType(tt, fn, op.Place)
	return ty, err
}
