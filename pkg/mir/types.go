package mir

import (
	"fmt"
	"strings"
)

type TypeKind string

// List of type kinds
const (
	KindInvalid TypeKind = ""
	KindBool    TypeKind = "bool"
	KindChar    TypeKind = "char"
	KindInt     TypeKind = "int"
	KindUint    TypeKind = "uint"
	KindFloat   TypeKind = "float"
	KindTuple   TypeKind = "tuple"
	KindArray   TypeKind = "array"
	KindSlice   TypeKind = "slice"
	KindStr     TypeKind = "str"
	KindRef     TypeKind = "ref"
	KindPtr     TypeKind = "ptr"
	KindFnPtr   TypeKind = "fnptr"
	KindFnDef   TypeKind = "fndef"
	KindNever   TypeKind = "never"
	KindStruct  TypeKind = "struct"
	KindUnion   TypeKind = "union"
	KindEnum    TypeKind = "enum"
)

// PointerSize is the width of thin pointers and usize on the only supported target.
const PointerSize = 8

// TypeID indexes a TypeTable. The zero value means "no type".
type TypeID int

const NoType TypeID = 0

type Field struct {
	Name string
	Type TypeID
}

type Variant struct {
	Name   string
	Discr  int64
	Fields []Field
}

// Type describes one entry of the type table.
type Type struct {
	Kind     TypeKind
	Bits     int    // int/uint/float width
	PtrSized bool   // isize/usize
	Elem     TypeID // array/slice element, ref/ptr pointee
	Len      int    // array length
	Mut      bool   // ref/ptr mutability
	Fields   []Field
	Variants []Variant
	Params   []TypeID // fn pointer parameters
	Ret      TypeID   // fn pointer return
	Name     string   // ADT name, fn item symbol
	Drop     string   // drop function symbol, if any
	Layout   *Layout  // supplied by the program source or computed by ComputeLayouts
}

// IsInteger reports whether the type is a signed or unsigned integer.
func (t *Type) IsInteger() bool {
	return t.Kind == KindInt || t.Kind == KindUint
}

// IsSigned reports whether integer arithmetic on the type is signed.
func (t *Type) IsSigned() bool {
	return t.Kind == KindInt
}

// IsPointer reports whether values of the type hold an address.
func (t *Type) IsPointer() bool {
	return t.Kind == KindRef || t.Kind == KindPtr || t.Kind == KindFnPtr
}

// IsADT reports whether the type is a named struct, union or enum.
func (t *Type) IsADT() bool {
	return t.Kind == KindStruct || t.Kind == KindUnion || t.Kind == KindEnum
}

// TypeTable interns types. Entry 0 is reserved for NoType.
type TypeTable struct {
	Entries []*Type

	index map[string]TypeID
	named map[string]TypeID
}

// NewTypeTable creates an empty table
func NewTypeTable() *TypeTable {
	t := &TypeTable{Entries: []*Type{{Kind: KindInvalid}}}
	t.Reindex()
	return t
}

// Reindex rebuilds the lookup maps, e.g. after the table was decoded.
func (tt *TypeTable) Reindex() {
	if len(tt.Entries) == 0 {
		tt.Entries = []*Type{{Kind: KindInvalid}}
	}
	tt.index = make(map[string]TypeID, len(tt.Entries))
	tt.named = make(map[string]TypeID)
	for i, t := range tt.Entries {
		if i == 0 || t == nil {
			continue
		}
		id := TypeID(i)
		if t.IsADT() || (t.Kind == KindInvalid && t.Name != "") {
			tt.named[t.Name] = id
			continue
		}
		tt.index[tt.key(t)] = id
	}
}

// Len returns the number of entries, including the reserved one.
func (tt *TypeTable) Len() int {
	return len(tt.Entries)
}

// Get returns the type for id, or nil if the id is out of range
func (tt *TypeTable) Get(id TypeID) *Type {
	if id <= 0 || int(id) >= len(tt.Entries) {
		return nil
	}
	return tt.Entries[id]
}

// Intern returns the id of a structurally equal type, adding it if needed.
// ADTs are identified by name and must go through Declare.
func (tt *TypeTable) Intern(t Type) TypeID {
	if t.IsADT() {
		id := tt.Declare(t.Name, t.Kind)
		entry := tt.Entries[id]
		entry.Fields, entry.Variants, entry.Drop = t.Fields, t.Variants, t.Drop
		return id
	}
	key := tt.key(&t)
	if id, ok := tt.index[key]; ok {
		return id
	}
	id := TypeID(len(tt.Entries))
	entry := t
	tt.Entries = append(tt.Entries, &entry)
	tt.index[key] = id
	return id
}

// Declare returns the id of the named ADT, creating an empty one on first use.
func (tt *TypeTable) Declare(name string, kind TypeKind) TypeID {
	if id, ok := tt.named[name]; ok {
		if kind != KindInvalid && tt.Entries[id].Kind == KindInvalid {
			tt.Entries[id].Kind = kind
		}
		return id
	}
	id := TypeID(len(tt.Entries))
	tt.Entries = append(tt.Entries, &Type{Kind: kind, Name: name})
	tt.named[name] = id
	return id
}

// Named looks up an ADT by name.
func (tt *TypeTable) Named(name string) (TypeID, bool) {
	id, ok := tt.named[name]
	return id, ok
}

func (tt *TypeTable) Bool() TypeID  { return tt.Intern(Type{Kind: KindBool}) }
func (tt *TypeTable) Char() TypeID  { return tt.Intern(Type{Kind: KindChar}) }
func (tt *TypeTable) Str() TypeID   { return tt.Intern(Type{Kind: KindStr}) }
func (tt *TypeTable) Unit() TypeID  { return tt.Intern(Type{Kind: KindTuple}) }
func (tt *TypeTable) Never() TypeID { return tt.Intern(Type{Kind: KindNever}) }
func (tt *TypeTable) Usize() TypeID { return tt.Intern(Type{Kind: KindUint, Bits: 64, PtrSized: true}) }
func (tt *TypeTable) Isize() TypeID { return tt.Intern(Type{Kind: KindInt, Bits: 64, PtrSized: true}) }

func (tt *TypeTable) Int(bits int) TypeID   { return tt.Intern(Type{Kind: KindInt, Bits: bits}) }
func (tt *TypeTable) Uint(bits int) TypeID  { return tt.Intern(Type{Kind: KindUint, Bits: bits}) }
func (tt *TypeTable) Float(bits int) TypeID { return tt.Intern(Type{Kind: KindFloat, Bits: bits}) }

func (tt *TypeTable) Array(elem TypeID, n int) TypeID {
	return tt.Intern(Type{Kind: KindArray, Elem: elem, Len: n})
}

func (tt *TypeTable) Slice(elem TypeID) TypeID {
	return tt.Intern(Type{Kind: KindSlice, Elem: elem})
}

func (tt *TypeTable) Ref(elem TypeID, mut bool) TypeID {
	return tt.Intern(Type{Kind: KindRef, Elem: elem, Mut: mut})
}

func (tt *TypeTable) Ptr(elem TypeID, mut bool) TypeID {
	return tt.Intern(Type{Kind: KindPtr, Elem: elem, Mut: mut})
}

func (tt *TypeTable) FnPtr(params []TypeID, ret TypeID) TypeID {
	return tt.Intern(Type{Kind: KindFnPtr, Params: params, Ret: ret})
}

func (tt *TypeTable) FnDef(symbol string) TypeID {
	return tt.Intern(Type{Kind: KindFnDef, Name: symbol})
}

// Tuple interns an anonymous tuple of the given element types.
func (tt *TypeTable) Tuple(elems ...TypeID) TypeID {
	fields := make([]Field, len(elems))
	for i, e := range elems {
		fields[i] = Field{Type: e}
	}
	return tt.Intern(Type{Kind: KindTuple, Fields: fields})
}

// Primitive resolves the textual name of a primitive type.
func (tt *TypeTable) Primitive(name string) (TypeID, bool) {
	switch name {
	case "bool":
		return tt.Bool(), true
	case "char":
		return tt.Char(), true
	case "str":
		return tt.Str(), true
	case "isize":
		return tt.Isize(), true
	case "usize":
		return tt.Usize(), true
	case "f32":
		return tt.Float(32), true
	case "f64":
		return tt.Float(64), true
	case "i8", "i16", "i32", "i64", "i128":
		return tt.Int(intBits(name[1:])), true
	case "u8", "u16", "u32", "u64", "u128":
		return tt.Uint(intBits(name[1:])), true
	}
	return NoType, false
}

func intBits(s string) int {
	switch s {
	case "8":
		return 8
	case "16":
		return 16
	case "32":
		return 32
	case "64":
		return 64
	default:
		return 128
	}
}

// String renders a type in textual MIR syntax.
func (tt *TypeTable) String(id TypeID) string {
	t := tt.Get(id)
	if t == nil {
		return fmt.Sprintf("<invalid type %d>", int(id))
	}

	switch t.Kind {
	case KindBool, KindChar, KindStr:
		return string(t.Kind)
	case KindNever:
		return "!"
	case KindInt, KindUint:
		prefix := "i"
		if t.Kind == KindUint {
			prefix = "u"
		}
		if t.PtrSized {
			return prefix + "size"
		}
		return fmt.Sprintf("%s%d", prefix, t.Bits)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Bits)
	case KindTuple:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = tt.String(f.Type)
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindArray:
		return fmt.Sprintf("[%s; %d]", tt.String(t.Elem), t.Len)
	case KindSlice:
		return "[" + tt.String(t.Elem) + "]"
	case KindRef:
		if t.Mut {
			return "&mut " + tt.String(t.Elem)
		}
		return "&" + tt.String(t.Elem)
	case KindPtr:
		if t.Mut {
			return "*mut " + tt.String(t.Elem)
		}
		return "*const " + tt.String(t.Elem)
	case KindFnPtr:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = tt.String(p)
		}
		s := "fn(" + strings.Join(parts, ", ") + ")"
		if r := tt.Get(t.Ret); r != nil && !(r.Kind == KindTuple && len(r.Fields) == 0) {
			s += " -> " + tt.String(t.Ret)
		}
		return s
	case KindFnDef:
		return "fn " + t.Name
	case KindStruct, KindUnion, KindEnum, KindInvalid:
		return t.Name
	}

	return string(t.Kind)
}

// key builds the structural identity used for interning
func (tt *TypeTable) key(t *Type) string {
	var b strings.Builder
	b.WriteString(string(t.Kind))
	fmt.Fprintf(&b, "|%d|%t|%d|%d|%t|%s|", t.Bits, t.PtrSized, t.Elem, t.Len, t.Mut, t.Name)
	for _, f := range t.Fields {
		fmt.Fprintf(&b, "%s:%d,", f.Name, f.Type)
	}
	b.WriteString("|")
	for _, p := range t.Params {
		fmt.Fprintf(&b, "%d,", p)
	}
	fmt.Fprintf(&b, "->%d", t.Ret)
	return b.String()
}

// IsUnsized reports whether the type has no statically known size.
func (tt *TypeTable) IsUnsized(id TypeID) bool {
	t := tt.Get(id)
	return t != nil && (t.Kind == KindSlice || t.Kind == KindStr)
}

// IsWidePointer reports whether a pointer type carries length metadata.
func (tt *TypeTable) IsWidePointer(id TypeID) bool {
	t := tt.Get(id)
	if t == nil || (t.Kind != KindRef && t.Kind != KindPtr) {
		return false
	}
	return tt.IsUnsized(t.Elem)
}

// IsUnit reports whether id is the empty tuple.
func (tt *TypeTable) IsUnit(id TypeID) bool {
	t := tt.Get(id)
	return t != nil && t.Kind == KindTuple && len(t.Fields) == 0
}
