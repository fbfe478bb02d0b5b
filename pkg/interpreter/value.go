package interpreter

import (
	"fmt"
	"strconv"
	"strings"

	"snapmir/pkg/mir"
	"snapmir/pkg/value"
)

// Render formats v as a value of type ty, the way the result of a run is
// shown to users.
func Render(tt *mir.TypeTable, ty mir.TypeID, v value.Value) string {
	t := tt.Get(ty)
	if t == nil {
		return "0x" + v.String()
	}

	switch t.Kind {
	case mir.KindBool:
		if b, err := v.Bool(); err == nil {
			return strconv.FormatBool(b)
		}
	case mir.KindChar:
		return strconv.QuoteRune(rune(v.Uint64()))
	case mir.KindInt, mir.KindUint:
		x := widen(v.Raw(), t.IsSigned())
		return toBig(&x, t.IsSigned()).String()
	case mir.KindFloat:
		if t.Bits == 32 {
			f, _ := v.Float32()
			return strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		f, _ := v.Float64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case mir.KindRef, mir.KindPtr, mir.KindFnPtr:
		addr, err := v.Address()
		if err != nil {
			break
		}
		if meta, err := v.Metadata(); err == nil {
			return fmt.Sprintf("0x%x[%d]", addr, meta)
		}
		return fmt.Sprintf("0x%x", addr)
	case mir.KindFnDef:
		return "fn " + t.Name
	case mir.KindTuple:
		return renderFields(tt, ty, v, "(", ")", false)
	case mir.KindStruct:
		return renderFields(tt, ty, v, t.Name+" { ", " }", true)
	case mir.KindArray:
		size := tt.SizeOf(t.Elem)
		parts := make([]string, t.Len)
		for n := range parts {
			part, err := v.Slice(n*size, size)
			if err != nil {
				return "0x" + v.String()
			}
			parts[n] = Render(tt, t.Elem, part)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case mir.KindEnum:
		return renderEnum(tt, ty, v)
	}
	return "0x" + v.String()
}

func renderFields(tt *mir.TypeTable, ty mir.TypeID, v value.Value, open, end string, named bool) string {
	t := tt.Get(ty)
	lay, err := tt.Layout(ty)
	if err != nil {
		return "0x" + v.String()
	}
	if t.Kind == mir.KindTuple && len(t.Fields) == 0 {
		return "()"
	}
	return open + renderList(tt, t.Fields, lay.Offsets, v, named) + end
}

func renderList(tt *mir.TypeTable, fields []mir.Field, offsets []int, v value.Value, named bool) string {
	parts := make([]string, len(fields))
	for n, f := range fields {
		part, err := v.Slice(offsets[n], tt.SizeOf(f.Type))
		if err != nil {
			return "0x" + v.String()
		}
		parts[n] = Render(tt, f.Type, part)
		if named && f.Name != "" {
			parts[n] = f.Name + ": " + parts[n]
		}
	}
	return strings.Join(parts, ", ")
}

func renderEnum(tt *mir.TypeTable, ty mir.TypeID, v value.Value) string {
	t := tt.Get(ty)
	lay, err := tt.Layout(ty)
	if err != nil || len(t.Variants) == 0 {
		return "0x" + v.String()
	}
	tag, err := v.Slice(lay.TagOffset, lay.TagSize)
	if err != nil {
		return "0x" + v.String()
	}
	discr := tagValue(lay, tag)
	idx, ok := t.VariantIndex(discr)
	if !ok {
		return fmt.Sprintf("%s::<invalid tag %d>", t.Name, discr)
	}
	vr := t.Variants[idx]
	name := t.Name + "::" + vr.Name
	if len(vr.Fields) == 0 {
		return name
	}
	named := vr.Fields[0].Name != ""
	body := renderList(tt, vr.Fields, lay.VariantOffsets[idx], v, named)
	if named {
		return name + " { " + body + " }"
	}
	return name + "(" + body + ")"
}
