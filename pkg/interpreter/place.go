package interpreter

import (
	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// placeRef is a resolved place: where it lives and what it holds. meta is
// the element count of an unsized place reached through a wide pointer.
type placeRef struct {
	addr    uint64
	ty      mir.TypeID
	meta    uint64
	variant int
}

func (i *Interpreter) resolvePlace(f *Frame, p mir.Place) (placeRef, error) {
	if p.Local < 0 || int(p.Local) >= len(f.Fn.Locals) {
		return placeRef{}, faultf(InvalidProgram, "%s has no local _%d", f.Fn.Name, p.Local)
	}
	ref := placeRef{addr: f.localAddr(p.Local), ty: f.Fn.Locals[p.Local].Type, variant: -1}

	for _, proj := range p.Projection {
		t := i.types.Get(ref.ty)
		if t == nil {
			return placeRef{}, faultf(InvalidProgram, "projection on untyped place")
		}

		switch proj.Kind {
		case mir.ProjDeref:
			if !t.IsPointer() || t.Kind == mir.KindFnPtr {
				return placeRef{}, faultf(InvalidProgram, "deref of %s", i.types.String(ref.ty))
			}
			n := mir.PointerSize
			wide := i.types.IsWidePointer(ref.ty)
			if wide {
				n *= 2
			}
			raw, err := i.mem.ReadAt(ref.addr, n)
			if err != nil {
				return placeRef{}, err
			}
			v := value.Wrap(raw)
			addr, _ := v.Address()
			ref = placeRef{addr: addr, ty: t.Elem, variant: -1}
			if wide {
				ref.meta, _ = v.Metadata()
			}

		case mir.ProjField:
			lay, err := i.types.Layout(ref.ty)
			if err != nil {
				return placeRef{}, err
			}
			fields, offsets := t.Fields, lay.Offsets
			if t.Kind == mir.KindEnum {
				if ref.variant < 0 || ref.variant >= len(t.Variants) {
					return placeRef{}, faultf(InvalidProgram, "field of enum %s without downcast", t.Name)
				}
				fields, offsets = t.Variants[ref.variant].Fields, lay.VariantOffsets[ref.variant]
			}
			if proj.Field < 0 || proj.Field >= len(fields) {
				return placeRef{}, faultf(InvalidProgram, "%s has no field %d", i.types.String(ref.ty), proj.Field)
			}
			ref = placeRef{addr: ref.addr + uint64(offsets[proj.Field]), ty: fields[proj.Field].Type, variant: -1}

		case mir.ProjIndex, mir.ProjConstIndex:
			length, err := i.placeLen(ref)
			if err != nil {
				return placeRef{}, err
			}
			var idx uint64
			if proj.Kind == mir.ProjIndex {
				v, err := i.readLocal(f, proj.Index)
				if err != nil {
					return placeRef{}, err
				}
				idx = v.Uint64()
			} else {
				idx = uint64(proj.Offset)
				if proj.FromEnd {
					if uint64(proj.Offset) > length {
						return placeRef{}, faultf(OutOfBounds, "index out of bounds: the len is %d but the index is -%d", length, proj.Offset)
					}
					idx = length - uint64(proj.Offset)
				}
			}
			if idx >= length {
				return placeRef{}, faultf(OutOfBounds, "index out of bounds: the len is %d but the index is %d", length, idx)
			}
			size := i.types.SizeOf(t.Elem)
			ref = placeRef{addr: ref.addr + idx*uint64(size), ty: t.Elem, variant: -1}

		case mir.ProjDowncast:
			if t.Kind != mir.KindEnum || proj.Variant < 0 || proj.Variant >= len(t.Variants) {
				return placeRef{}, faultf(InvalidProgram, "invalid downcast of %s to variant %d", i.types.String(ref.ty), proj.Variant)
			}
			ref.variant = proj.Variant

		default:
			return placeRef{}, faultf(UnsupportedConstruct, "projection %q", proj.Kind)
		}
	}
	return ref, nil
}

// placeLen is the element count of an array or slice place.
func (i *Interpreter) placeLen(ref placeRef) (uint64, error) {
	t := i.types.Get(ref.ty)
	switch {
	case t == nil:
	case t.Kind == mir.KindArray:
		return uint64(t.Len), nil
	case t.Kind == mir.KindSlice || t.Kind == mir.KindStr:
		return ref.meta, nil
	}
	return 0, faultf(InvalidProgram, "length of non-array type %s", i.types.String(ref.ty))
}

func (i *Interpreter) readPlace(ref placeRef) (value.Value, error) {
	if i.types.IsUnsized(ref.ty) {
		return value.Unit, faultf(UnsupportedConstruct, "read of unsized place of type %s", i.types.String(ref.ty))
	}
	raw, err := i.mem.ReadAt(ref.addr, i.types.SizeOf(ref.ty))
	if err != nil {
		return value.Unit, err
	}
	return value.Wrap(raw), nil
}

// writePlace stores v, which must have exactly the size of the place.
func (i *Interpreter) writePlace(ref placeRef, v value.Value) error {
	if i.types.IsUnsized(ref.ty) {
		return faultf(UnsupportedConstruct, "write to unsized place of type %s", i.types.String(ref.ty))
	}
	if want := i.types.SizeOf(ref.ty); v.Len() != want {
		return faultf(InvalidProgram, "writing %d bytes to a place of type %s (%d bytes)", v.Len(), i.types.String(ref.ty), want)
	}
	return i.mem.WriteAt(ref.addr, v.Raw())
}

func (i *Interpreter) readLocal(f *Frame, l mir.Local) (value.Value, error) {
	if l < 0 || int(l) >= len(f.Fn.Locals) {
		return value.Unit, faultf(InvalidProgram, "%s has no local _%d", f.Fn.Name, l)
	}
	return i.readPlace(placeRef{addr: f.localAddr(l), ty: f.Fn.Locals[l].Type, variant: -1})
}

// writeTag sets the discriminant of the enum at ref to its variant's value.
func (i *Interpreter) writeTag(ref placeRef, variant int) error {
	t := i.types.Get(ref.ty)
	if t == nil || t.Kind != mir.KindEnum {
		return faultf(InvalidProgram, "set discriminant of non-enum type %s", i.types.String(ref.ty))
	}
	if variant < 0 || variant >= len(t.Variants) {
		return faultf(InvalidProgram, "enum %s has no variant %d", t.Name, variant)
	}
	lay, err := i.types.Layout(ref.ty)
	if err != nil {
		return err
	}
	if lay.TagSize == 0 {
		return nil
	}
	tag := value.FromInt(t.Variants[variant].Discr, lay.TagSize)
	return i.mem.WriteAt(ref.addr+uint64(lay.TagOffset), tag.Raw())
}

// tagValue decodes a raw tag, sign-extending when the enum has negative
// discriminants.
func tagValue(lay *mir.Layout, tag value.Value) int64 {
	if lay.TagSigned {
		return tag.Int64()
	}
	return int64(tag.Uint64())
}

// readTag returns the active variant index of the enum at ref.
func (i *Interpreter) readTag(ref placeRef) (int, error) {
	t := i.types.Get(ref.ty)
	lay, err := i.types.Layout(ref.ty)
	if err != nil {
		return 0, err
	}
	if len(t.Variants) == 0 {
		return 0, faultf(Unreachable, "value of uninhabited enum %s", t.Name)
	}
	if lay.TagSize == 0 {
		return 0, nil
	}
	raw, err := i.mem.ReadAt(ref.addr+uint64(lay.TagOffset), lay.TagSize)
	if err != nil {
		return 0, err
	}
	discr := tagValue(lay, value.Wrap(raw))
	idx, ok := t.VariantIndex(discr)
	if !ok {
		return 0, faultf(InvalidProgram, "enum %s holds invalid tag %d", t.Name, discr)
	}
	return idx, nil
}
