package mir

import (
	"errors"
	"fmt"
)

var (
	ErrRecursiveType = errors.New("type contains itself by value")
	ErrUnsizedLayout = errors.New("unsized type has no static layout")
)

// Layout is the memory shape of a sized type.
type Layout struct {
	Size    int
	Align   int
	Offsets []int // field offsets for tuples, structs and unions

	// enums only
	TagOffset      int
	TagSize        int
	TagSigned      bool // some discriminant is negative
	VariantOffsets [][]int
}

// ComputeLayouts fills in the layout of every entry that does not carry one.
func (tt *TypeTable) ComputeLayouts() error {
	state := make([]uint8, len(tt.Entries))
	for i := 1; i < len(tt.Entries); i++ {
		if tt.IsUnsized(TypeID(i)) {
			continue
		}
		if _, err := tt.layoutOf(TypeID(i), state); err != nil {
			return fmt.Errorf("layout of %s: %w", tt.String(TypeID(i)), err)
		}
	}
	return nil
}

// Layout returns the layout of a sized type, computing it if needed.
func (tt *TypeTable) Layout(id TypeID) (*Layout, error) {
	t := tt.Get(id)
	if t == nil {
		return nil, fmt.Errorf("unknown type id %d", int(id))
	}
	if t.Layout != nil {
		return t.Layout, nil
	}
	state := make([]uint8, len(tt.Entries))
	return tt.layoutOf(id, state)
}

// SizeOf returns the size of id, or 0 if it has none.
func (tt *TypeTable) SizeOf(id TypeID) int {
	l, err := tt.Layout(id)
	if err != nil {
		return 0
	}
	return l.Size
}

// AlignOf returns the alignment of id. Unsized types report their element's.
func (tt *TypeTable) AlignOf(id TypeID) int {
	if t := tt.Get(id); t != nil && tt.IsUnsized(id) {
		if t.Kind == KindStr {
			return 1
		}
		return tt.AlignOf(t.Elem)
	}
	l, err := tt.Layout(id)
	if err != nil {
		return 1
	}
	return l.Align
}

const (
	layoutPending uint8 = 1
	layoutDone    uint8 = 2
)

func (tt *TypeTable) layoutOf(id TypeID, state []uint8) (*Layout, error) {
	t := tt.Get(id)
	if t == nil {
		return nil, fmt.Errorf("unknown type id %d", int(id))
	}
	if t.Layout != nil {
		return t.Layout, nil
	}
	if int(id) < len(state) {
		if state[id] == layoutPending {
			return nil, fmt.Errorf("%s: %w", tt.String(id), ErrRecursiveType)
		}
		state[id] = layoutPending
	}

	l, err := tt.computeLayout(t, state)
	if err != nil {
		return nil, err
	}
	t.Layout = l
	if int(id) < len(state) {
		state[id] = layoutDone
	}
	return l, nil
}

func (tt *TypeTable) computeLayout(t *Type, state []uint8) (*Layout, error) {
	switch t.Kind {
	case KindBool:
		return scalar(1), nil
	case KindChar:
		return scalar(4), nil
	case KindInt, KindUint, KindFloat:
		if t.Bits%8 != 0 || t.Bits == 0 || t.Bits > 128 {
			return nil, fmt.Errorf("unsupported width %d", t.Bits)
		}
		return scalar(t.Bits / 8), nil
	case KindRef, KindPtr:
		if tt.IsUnsized(t.Elem) {
			return &Layout{Size: 2 * PointerSize, Align: PointerSize}, nil
		}
		return scalar(PointerSize), nil
	case KindFnPtr:
		return scalar(PointerSize), nil
	case KindFnDef, KindNever:
		return &Layout{Size: 0, Align: 1}, nil
	case KindSlice, KindStr:
		return nil, ErrUnsizedLayout
	case KindArray:
		el, err := tt.layoutOf(t.Elem, state)
		if err != nil {
			return nil, err
		}
		return &Layout{Size: el.Size * t.Len, Align: el.Align}, nil
	case KindTuple, KindStruct:
		offsets, size, align, err := tt.sequential(t.Fields, 0, 1, state)
		if err != nil {
			return nil, err
		}
		return &Layout{Size: alignUp(size, align), Align: align, Offsets: offsets}, nil
	case KindUnion:
		l := &Layout{Align: 1, Offsets: make([]int, len(t.Fields))}
		for _, f := range t.Fields {
			fl, err := tt.layoutOf(f.Type, state)
			if err != nil {
				return nil, err
			}
			l.Size = max(l.Size, fl.Size)
			l.Align = max(l.Align, fl.Align)
		}
		l.Size = alignUp(l.Size, l.Align)
		return l, nil
	case KindEnum:
		return tt.enumLayout(t, state)
	}
	return nil, fmt.Errorf("no layout for kind %q", t.Kind)
}

func (tt *TypeTable) sequential(fields []Field, start, align int, state []uint8) ([]int, int, int, error) {
	offsets := make([]int, len(fields))
	off := start
	for i, f := range fields {
		fl, err := tt.layoutOf(f.Type, state)
		if err != nil {
			return nil, 0, 0, err
		}
		off = alignUp(off, fl.Align)
		offsets[i] = off
		off += fl.Size
		align = max(align, fl.Align)
	}
	return offsets, off, align, nil
}

func (tt *TypeTable) enumLayout(t *Type, state []uint8) (*Layout, error) {
	if len(t.Variants) == 0 {
		return &Layout{Size: 0, Align: 1}, nil
	}

	lo, hi := t.Variants[0].Discr, t.Variants[0].Discr
	for _, v := range t.Variants[1:] {
		lo, hi = min(lo, v.Discr), max(hi, v.Discr)
	}
	signed := lo < 0
	tag := tagSize(lo, hi, signed)

	l := &Layout{TagSize: tag, TagSigned: signed, Align: tag, VariantOffsets: make([][]int, len(t.Variants))}
	size := tag
	for i, v := range t.Variants {
		offsets, end, align, err := tt.sequential(v.Fields, tag, tag, state)
		if err != nil {
			return nil, err
		}
		l.VariantOffsets[i] = offsets
		l.Align = max(l.Align, align)
		size = max(size, end)
	}
	l.Size = alignUp(size, l.Align)
	return l, nil
}

// tagSize picks the narrowest integer holding every discriminant in lo..hi.
func tagSize(lo, hi int64, signed bool) int {
	for _, size := range []int{1, 2, 4} {
		bits := uint(8 * size)
		if signed && lo >= -1<<(bits-1) && hi < 1<<(bits-1) {
			return size
		}
		if !signed && uint64(hi) < 1<<bits {
			return size
		}
	}
	return 8
}

func scalar(size int) *Layout {
	return &Layout{Size: size, Align: size}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// VariantIndex finds the variant whose discriminant equals discr.
func (t *Type) VariantIndex(discr int64) (int, bool) {
	for i, v := range t.Variants {
		if v.Discr == discr {
			return i, true
		}
	}
	return 0, false
}
