package mir

// Local indexes a function's locals. Local 0 holds the return value and
// locals 1..=ArgCount hold the arguments.
type Local int

// NoLocal marks a call whose result is discarded.
const NoLocal Local = -1

type BlockID int

type Program struct {
	Name    string
	Types   *TypeTable
	Funcs   []*Function
	Statics []*Static
	Externs []*Extern

	symbols *SymbolTable
}

type Function struct {
	Name     string
	ArgCount int
	Locals   []LocalDecl
	Blocks   []*Block
}

type LocalDecl struct {
	Name string
	Type TypeID
	Mut  bool
}

type Block struct {
	Statements []Statement
	Terminator Terminator
	Cleanup    bool
}

// Static is a global with a fixed address for the whole run.
type Static struct {
	Name string
	Type TypeID
	Init []byte
	Mut  bool
}

// Extern declares a symbol that is expected to come from the bridge.
type Extern struct {
	Name     string
	Params   []TypeID
	Ret      TypeID
	Variadic bool
	Library  string
}

type StatementKind string

const (
	StmtAssign          StatementKind = "assign"
	StmtStorageLive     StatementKind = "storage_live"
	StmtStorageDead     StatementKind = "storage_dead"
	StmtSetDiscriminant StatementKind = "set_discriminant"
	StmtNop             StatementKind = "nop"
)

type Statement struct {
	Kind    StatementKind
	Place   Place
	Rvalue  *Rvalue
	Local   Local // storage markers
	Variant int   // set_discriminant
}

type RvalueKind string

const (
	RvUse          RvalueKind = "use"
	RvBinary       RvalueKind = "binary"
	RvUnary        RvalueKind = "unary"
	RvRef          RvalueKind = "ref"
	RvRawPtr       RvalueKind = "raw_ptr"
	RvCast         RvalueKind = "cast"
	RvAggregate    RvalueKind = "aggregate"
	RvRepeat       RvalueKind = "repeat"
	RvLen          RvalueKind = "len"
	RvDiscriminant RvalueKind = "discriminant"
	RvSizeOf       RvalueKind = "size_of"
	RvAlignOf      RvalueKind = "align_of"
	RvCopyForDeref RvalueKind = "copy_for_deref"
)

type BinOp string

const (
	OpAdd             BinOp = "Add"
	OpSub             BinOp = "Sub"
	OpMul             BinOp = "Mul"
	OpAddWrapping     BinOp = "AddWrapping"
	OpSubWrapping     BinOp = "SubWrapping"
	OpMulWrapping     BinOp = "MulWrapping"
	OpAddWithOverflow BinOp = "AddWithOverflow"
	OpSubWithOverflow BinOp = "SubWithOverflow"
	OpMulWithOverflow BinOp = "MulWithOverflow"
	OpAddUnchecked    BinOp = "AddUnchecked"
	OpSubUnchecked    BinOp = "SubUnchecked"
	OpMulUnchecked    BinOp = "MulUnchecked"
	OpDiv             BinOp = "Div"
	OpRem             BinOp = "Rem"
	OpBitAnd          BinOp = "BitAnd"
	OpBitOr           BinOp = "BitOr"
	OpBitXor          BinOp = "BitXor"
	OpShl             BinOp = "Shl"
	OpShr             BinOp = "Shr"
	OpShlUnchecked    BinOp = "ShlUnchecked"
	OpShrUnchecked    BinOp = "ShrUnchecked"
	OpEq              BinOp = "Eq"
	OpNe              BinOp = "Ne"
	OpLt              BinOp = "Lt"
	OpLe              BinOp = "Le"
	OpGt              BinOp = "Gt"
	OpGe              BinOp = "Ge"
	OpCmp             BinOp = "Cmp"
	OpOffset          BinOp = "Offset"
)

type UnOp string

const (
	OpNot         UnOp = "Not"
	OpNeg         UnOp = "Neg"
	OpPtrMetadata UnOp = "PtrMetadata"
)

type CastKind string

const (
	CastIntToInt                     CastKind = "IntToInt"
	CastIntToFloat                   CastKind = "IntToFloat"
	CastFloatToInt                   CastKind = "FloatToInt"
	CastFloatToFloat                 CastKind = "FloatToFloat"
	CastPtrToPtr                     CastKind = "PtrToPtr"
	CastTransmute                    CastKind = "Transmute"
	CastUnsize                       CastKind = "PointerCoercion(Unsize)"
	CastReifyFnPointer               CastKind = "PointerCoercion(ReifyFnPointer)"
	CastPointerExposeProvenance      CastKind = "PointerExposeProvenance"
	CastPointerWithExposedProvenance CastKind = "PointerWithExposedProvenance"
	CastFnPtrToPtr                   CastKind = "FnPtrToPtr"
)

type Rvalue struct {
	Kind     RvalueKind
	BinOp    BinOp
	UnOp     UnOp
	Cast     CastKind
	Operands []Operand
	Place    Place  // ref, raw_ptr, len, discriminant, copy_for_deref
	Mut      bool   // ref, raw_ptr
	Type     TypeID // cast target, aggregate type, size_of/align_of operand
	Count    int    // repeat
	Variant  int    // enum aggregate
	Field    int    // union aggregate
}

type OperandKind string

const (
	OperandCopy  OperandKind = "copy"
	OperandMove  OperandKind = "move"
	OperandConst OperandKind = "const"
)

type Operand struct {
	Kind  OperandKind
	Place Place
	Const *Const
}

type ConstKind string

const (
	ConstBytes  ConstKind = "bytes"
	ConstStr    ConstKind = "str"
	ConstFn     ConstKind = "fn"
	ConstStatic ConstKind = "static"
)

// Const is a literal operand. Scalars and aggregates carry their raw
// little-endian bytes; string, function and static constants carry a name.
type Const struct {
	Kind   ConstKind
	Type   TypeID
	Bytes  []byte
	Str    string
	Symbol string
}

type ProjectionKind string

const (
	ProjDeref      ProjectionKind = "deref"
	ProjField      ProjectionKind = "field"
	ProjIndex      ProjectionKind = "index"
	ProjConstIndex ProjectionKind = "const_index"
	ProjDowncast   ProjectionKind = "downcast"
)

type Projection struct {
	Kind      ProjectionKind
	Field     int
	Index     Local
	Offset    int
	MinLength int
	FromEnd   bool
	Variant   int
}

type Place struct {
	Local      Local
	Projection []Projection
}

// LocalPlace is a place without projections.
func LocalPlace(l Local) Place {
	return Place{Local: l}
}

// Project returns a copy of p extended with proj.
func (p Place) Project(proj ...Projection) Place {
	out := Place{Local: p.Local, Projection: make([]Projection, 0, len(p.Projection)+len(proj))}
	out.Projection = append(out.Projection, p.Projection...)
	out.Projection = append(out.Projection, proj...)
	return out
}

type TerminatorKind string

const (
	TermGoto        TerminatorKind = "goto"
	TermSwitchInt   TerminatorKind = "switch_int"
	TermCall        TerminatorKind = "call"
	TermReturn      TerminatorKind = "return"
	TermResume      TerminatorKind = "resume"
	TermUnreachable TerminatorKind = "unreachable"
	TermAbort       TerminatorKind = "abort"
	TermDrop        TerminatorKind = "drop"
	TermAssert      TerminatorKind = "assert"
)

type UnwindKind string

const (
	UnwindContinue    UnwindKind = ""
	UnwindCleanup     UnwindKind = "cleanup"
	UnwindTerminate   UnwindKind = "terminate"
	UnwindUnreachable UnwindKind = "unreachable"
)

type UnwindAction struct {
	Kind  UnwindKind
	Block BlockID
}

// SwitchCase holds a 128-bit value as two words, already truncated to the
// width of the switch discriminant.
type SwitchCase struct {
	Value  uint64
	High   uint64
	Target BlockID
}

type Terminator struct {
	Kind      TerminatorKind
	Target    BlockID
	Diverging bool // call without a return target

	// switch_int
	Discr     Operand
	Cases     []SwitchCase
	Otherwise BlockID

	// call
	Func Operand
	Args []Operand
	Dest Place

	// drop
	Place Place

	// assert
	Cond     Operand
	Expected bool
	Msg      string

	Unwind UnwindAction
}

// Successors lists every block the terminator may transfer control to.
func (t *Terminator) Successors() []BlockID {
	var out []BlockID
	switch t.Kind {
	case TermGoto:
		out = append(out, t.Target)
	case TermSwitchInt:
		for _, c := range t.Cases {
			out = append(out, c.Target)
		}
		out = append(out, t.Otherwise)
	case TermCall:
		if !t.Diverging {
			out = append(out, t.Target)
		}
	case TermDrop, TermAssert:
		out = append(out, t.Target)
	}
	if t.Unwind.Kind == UnwindCleanup {
		out = append(out, t.Unwind.Block)
	}
	return out
}
