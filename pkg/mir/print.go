package mir

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
)

type printer struct {
	tt *TypeTable
	fn *Function
}

// Dump writes the program in textual MIR form.
func (p *Program) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	pr := &printer{tt: p.Types}

	for i := 1; i < p.Types.Len(); i++ {
		t := p.Types.Get(TypeID(i))
		if !t.IsADT() {
			continue
		}
		fmt.Fprintln(bw, pr.adt(t))
		if t.Drop != "" {
			fmt.Fprintf(bw, "impl Drop for %s => %s;\n", t.Name, t.Drop)
		}
	}
	for _, s := range p.Statics {
		fmt.Fprintln(bw, pr.static(s))
	}
	for _, e := range p.Externs {
		fmt.Fprintln(bw, pr.extern(e))
	}
	for _, fn := range p.Funcs {
		fmt.Fprintln(bw)
		pr.fn = fn
		pr.function(bw, fn)
	}
	return bw.Flush()
}

// FormatStatement renders one statement of fn.
func (p *Program) FormatStatement(fn *Function, s *Statement) string {
	return (&printer{tt: p.Types, fn: fn}).statement(s)
}

// FormatTerminator renders the terminator of one block of fn.
func (p *Program) FormatTerminator(fn *Function, t *Terminator) string {
	return (&printer{tt: p.Types, fn: fn}).terminator(t)
}

// FormatPlace renders a place of fn.
func (p *Program) FormatPlace(fn *Function, place Place) string {
	return (&printer{tt: p.Types, fn: fn}).place(place)
}

func (pr *printer) adt(t *Type) string {
	switch t.Kind {
	case KindEnum:
		parts := make([]string, len(t.Variants))
		for i, v := range t.Variants {
			s := v.Name + pr.fieldList(v.Fields)
			if v.Discr != int64(i) {
				s += fmt.Sprintf(" = %d", v.Discr)
			}
			parts[i] = s
		}
		return fmt.Sprintf("enum %s { %s }", t.Name, strings.Join(parts, ", "))
	case KindUnion:
		return fmt.Sprintf("union %s%s", t.Name, pr.fieldList(t.Fields))
	}
	if isTupleLike(t.Fields) {
		return fmt.Sprintf("struct %s%s;", t.Name, pr.fieldList(t.Fields))
	}
	return fmt.Sprintf("struct %s%s", t.Name, pr.fieldList(t.Fields))
}

func (pr *printer) fieldList(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	if isTupleLike(fields) {
		for i, f := range fields {
			parts[i] = pr.tt.String(f.Type)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	for i, f := range fields {
		parts[i] = f.Name + ": " + pr.tt.String(f.Type)
	}
	return " { " + strings.Join(parts, ", ") + " }"
}

func isTupleLike(fields []Field) bool {
	for i, f := range fields {
		if f.Name != "" && f.Name != strconv.Itoa(i) {
			return false
		}
	}
	return len(fields) > 0
}

func (pr *printer) static(s *Static) string {
	head := "static "
	if s.Mut {
		head += "mut "
	}
	head += s.Name + ": " + pr.tt.String(s.Type) + " = "

	zero := true
	for _, b := range s.Init {
		if b != 0 {
			zero = false
			break
		}
	}
	switch {
	case zero:
		return head + "zeroed;"
	case pr.isScalar(s.Type) && len(s.Init) == pr.tt.SizeOf(s.Type):
		return head + "const " + pr.scalar(s.Type, s.Init) + ";"
	}
	return head + "bytes " + strconv.Quote(hex.EncodeToString(s.Init)) + ";"
}

func (pr *printer) extern(e *Extern) string {
	var b strings.Builder
	b.WriteString("extern ")
	if e.Library != "" {
		b.WriteString(strconv.Quote(e.Library) + " ")
	}
	params := make([]string, 0, len(e.Params)+1)
	for _, p := range e.Params {
		params = append(params, pr.tt.String(p))
	}
	if e.Variadic {
		params = append(params, "...")
	}
	fmt.Fprintf(&b, "fn %s(%s)", e.Name, strings.Join(params, ", "))
	if e.Ret != NoType && !pr.tt.IsUnit(e.Ret) {
		b.WriteString(" -> " + pr.tt.String(e.Ret))
	}
	b.WriteString(";")
	return b.String()
}

func (pr *printer) function(w io.Writer, fn *Function) {
	params := make([]string, fn.ArgCount)
	for i := range params {
		params[i] = fmt.Sprintf("_%d: %s", i+1, pr.tt.String(fn.Locals[i+1].Type))
	}
	fmt.Fprintf(w, "fn %s(%s)", fn.Name, strings.Join(params, ", "))
	if !pr.tt.IsUnit(fn.Locals[0].Type) {
		fmt.Fprintf(w, " -> %s", pr.tt.String(fn.Locals[0].Type))
	}
	fmt.Fprintln(w, " {")

	for i, l := range fn.Locals {
		if l.Name != "" {
			fmt.Fprintf(w, "    debug %s => _%d;\n", l.Name, i)
		}
	}
	for i := fn.ArgCount + 1; i < len(fn.Locals); i++ {
		mut := ""
		if fn.Locals[i].Mut {
			mut = "mut "
		}
		fmt.Fprintf(w, "    let %s_%d: %s;\n", mut, i, pr.tt.String(fn.Locals[i].Type))
	}

	for id, b := range fn.Blocks {
		fmt.Fprintln(w)
		if b.Cleanup {
			fmt.Fprintf(w, "    bb%d (cleanup): {\n", id)
		} else {
			fmt.Fprintf(w, "    bb%d: {\n", id)
		}
		for i := range b.Statements {
			fmt.Fprintf(w, "        %s;\n", pr.statement(&b.Statements[i]))
		}
		fmt.Fprintf(w, "        %s;\n", pr.terminator(&b.Terminator))
		fmt.Fprintln(w, "    }")
	}
	fmt.Fprintln(w, "}")
}

func (pr *printer) statement(s *Statement) string {
	switch s.Kind {
	case StmtAssign:
		return pr.place(s.Place) + " = " + pr.rvalue(s.Rvalue)
	case StmtStorageLive:
		return fmt.Sprintf("StorageLive(_%d)", s.Local)
	case StmtStorageDead:
		return fmt.Sprintf("StorageDead(_%d)", s.Local)
	case StmtSetDiscriminant:
		return fmt.Sprintf("discriminant(%s) = %d", pr.place(s.Place), s.Variant)
	case StmtNop:
		return "nop"
	}
	return fmt.Sprintf("<%s>", s.Kind)
}

func (pr *printer) terminator(t *Terminator) string {
	switch t.Kind {
	case TermGoto:
		return fmt.Sprintf("goto -> bb%d", t.Target)
	case TermSwitchInt:
		arms := make([]string, 0, len(t.Cases)+1)
		for _, c := range t.Cases {
			arms = append(arms, fmt.Sprintf("%s: bb%d", caseValue(c), c.Target))
		}
		arms = append(arms, fmt.Sprintf("otherwise: bb%d", t.Otherwise))
		return fmt.Sprintf("switchInt(%s) -> [%s]", pr.operand(&t.Discr), strings.Join(arms, ", "))
	case TermCall:
		args := make([]string, len(t.Args))
		for i := range t.Args {
			args[i] = pr.operand(&t.Args[i])
		}
		callee := pr.operand(&t.Func)
		if c := t.Func.Const; t.Func.Kind == OperandConst && c != nil && c.Kind == ConstFn {
			callee = c.Symbol
		}
		s := fmt.Sprintf("%s(%s)", callee, strings.Join(args, ", "))
		if t.Dest.Local != NoLocal {
			s = pr.place(t.Dest) + " = " + s
		}
		return s + " -> " + pr.targets("return", t)
	case TermReturn:
		return "return"
	case TermResume:
		return "resume"
	case TermUnreachable:
		return "unreachable"
	case TermAbort:
		return "abort"
	case TermDrop:
		return fmt.Sprintf("drop(%s) -> %s", pr.place(t.Place), pr.targets("return", t))
	case TermAssert:
		cond := pr.operand(&t.Cond)
		if !t.Expected {
			cond = "!" + cond
		}
		return fmt.Sprintf("assert(%s, %s) -> %s", cond, strconv.Quote(t.Msg), pr.targets("success", t))
	}
	return fmt.Sprintf("<%s>", t.Kind)
}

func (pr *printer) targets(label string, t *Terminator) string {
	unwind := "unwind continue"
	switch t.Unwind.Kind {
	case UnwindCleanup:
		unwind = fmt.Sprintf("unwind: bb%d", t.Unwind.Block)
	case UnwindTerminate:
		unwind = "unwind terminate"
	case UnwindUnreachable:
		unwind = "unwind unreachable"
	}
	if t.Diverging {
		return unwind
	}
	if t.Unwind.Kind == UnwindContinue {
		return fmt.Sprintf("bb%d", t.Target)
	}
	return fmt.Sprintf("[%s: bb%d, %s]", label, t.Target, unwind)
}

func caseValue(c SwitchCase) string {
	if c.High == 0 {
		return strconv.FormatUint(c.Value, 10)
	}
	v := new(big.Int).SetUint64(c.High)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(c.Value))
	return v.String()
}

func (pr *printer) place(p Place) string {
	s := fmt.Sprintf("_%d", p.Local)
	ty := NoType
	if pr.fn != nil && p.Local >= 0 && int(p.Local) < len(pr.fn.Locals) {
		ty = pr.fn.Locals[p.Local].Type
	}
	variant := -1

	for _, proj := range p.Projection {
		t := pr.tt.Get(ty)
		switch proj.Kind {
		case ProjDeref:
			s = "(*" + s + ")"
			ty, variant = NoType, -1
			if t != nil {
				ty = t.Elem
			}
		case ProjField:
			s = fmt.Sprintf("%s.%d", s, proj.Field)
			next := NoType
			if t != nil {
				fields := t.Fields
				if t.Kind == KindEnum && variant >= 0 && variant < len(t.Variants) {
					fields = t.Variants[variant].Fields
				}
				if proj.Field < len(fields) {
					next = fields[proj.Field].Type
				}
			}
			ty, variant = next, -1
		case ProjIndex:
			s = fmt.Sprintf("%s[_%d]", s, proj.Index)
			ty, variant = elemOf(t), -1
		case ProjConstIndex:
			sign := ""
			if proj.FromEnd {
				sign = "-"
			}
			s = fmt.Sprintf("%s[%s%d of %d]", s, sign, proj.Offset, proj.MinLength)
			ty, variant = elemOf(t), -1
		case ProjDowncast:
			name := strconv.Itoa(proj.Variant)
			if t != nil && t.Kind == KindEnum && proj.Variant < len(t.Variants) {
				name = t.Variants[proj.Variant].Name
			}
			s = "(" + s + " as " + name + ")"
			variant = proj.Variant
		}
	}
	return s
}

func elemOf(t *Type) TypeID {
	if t == nil {
		return NoType
	}
	return t.Elem
}

func (pr *printer) operand(op *Operand) string {
	switch op.Kind {
	case OperandCopy:
		return "copy " + pr.place(op.Place)
	case OperandMove:
		return "move " + pr.place(op.Place)
	}
	if op.Const == nil {
		return "const <missing>"
	}
	return "const " + pr.constant(op.Const)
}

func (pr *printer) constant(c *Const) string {
	switch c.Kind {
	case ConstStr:
		return strconv.Quote(c.Str)
	case ConstFn:
		return "fn " + c.Symbol
	case ConstStatic:
		return "&" + c.Symbol
	}
	if pr.tt.IsUnit(c.Type) {
		return "()"
	}
	if pr.isScalar(c.Type) && len(c.Bytes) == pr.tt.SizeOf(c.Type) {
		return pr.scalar(c.Type, c.Bytes)
	}
	return fmt.Sprintf("{bytes %q: %s}", hex.EncodeToString(c.Bytes), pr.tt.String(c.Type))
}

func (pr *printer) isScalar(id TypeID) bool {
	t := pr.tt.Get(id)
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindBool, KindChar, KindInt, KindUint, KindFloat:
		return true
	}
	return false
}

// scalar renders little-endian bytes of a primitive type as a literal.
func (pr *printer) scalar(id TypeID, b []byte) string {
	t := pr.tt.Get(id)
	suffix := "_" + pr.tt.String(id)
	switch t.Kind {
	case KindBool:
		return strconv.FormatBool(b[0] != 0)
	case KindChar:
		return strconv.QuoteRune(rune(binary.LittleEndian.Uint32(b)))
	case KindFloat:
		var f float64
		if t.Bits == 32 {
			f = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		} else {
			f = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprintf("0x%x%s", leUint(b), suffix)
		}
		s := strconv.FormatFloat(f, 'g', -1, t.Bits)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s + suffix
	}
	return leInt(b, t.IsSigned()).String() + suffix
}

func leUint(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(big.Int).SetBytes(be)
}

func leInt(b []byte, signed bool) *big.Int {
	v := leUint(b)
	if signed && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return v
}

func (pr *printer) rvalue(rv *Rvalue) string {
	if rv == nil {
		return "<missing>"
	}
	ops := func() []string {
		out := make([]string, len(rv.Operands))
		for i := range rv.Operands {
			out[i] = pr.operand(&rv.Operands[i])
		}
		return out
	}

	switch rv.Kind {
	case RvUse:
		if len(rv.Operands) == 1 {
			return pr.operand(&rv.Operands[0])
		}
	case RvBinary:
		return fmt.Sprintf("%s(%s)", rv.BinOp, strings.Join(ops(), ", "))
	case RvUnary:
		return fmt.Sprintf("%s(%s)", rv.UnOp, strings.Join(ops(), ", "))
	case RvRef:
		if rv.Mut {
			return "&mut " + pr.place(rv.Place)
		}
		return "&" + pr.place(rv.Place)
	case RvRawPtr:
		if rv.Mut {
			return "&raw mut " + pr.place(rv.Place)
		}
		return "&raw const " + pr.place(rv.Place)
	case RvCast:
		if len(rv.Operands) == 1 {
			return fmt.Sprintf("%s as %s (%s)", pr.operand(&rv.Operands[0]), pr.tt.String(rv.Type), rv.Cast)
		}
	case RvAggregate:
		return pr.aggregate(rv, ops())
	case RvRepeat:
		if len(rv.Operands) == 1 {
			return fmt.Sprintf("[%s; %d]", pr.operand(&rv.Operands[0]), rv.Count)
		}
	case RvLen:
		return "Len(" + pr.place(rv.Place) + ")"
	case RvDiscriminant:
		return "discriminant(" + pr.place(rv.Place) + ")"
	case RvSizeOf:
		return "SizeOf(" + pr.tt.String(rv.Type) + ")"
	case RvAlignOf:
		return "AlignOf(" + pr.tt.String(rv.Type) + ")"
	case RvCopyForDeref:
		return "CopyForDeref(" + pr.place(rv.Place) + ")"
	}
	return fmt.Sprintf("<%s>", rv.Kind)
}

func (pr *printer) aggregate(rv *Rvalue, ops []string) string {
	t := pr.tt.Get(rv.Type)
	if t == nil || t.Kind == KindTuple {
		if len(ops) == 1 {
			return "(" + ops[0] + ",)"
		}
		return "(" + strings.Join(ops, ", ") + ")"
	}

	named := func(name string, fields []Field) string {
		if len(fields) == 0 {
			return name
		}
		if isTupleLike(fields) {
			return name + "(" + strings.Join(ops, ", ") + ")"
		}
		parts := make([]string, 0, len(ops))
		for i, op := range ops {
			if i < len(fields) {
				parts = append(parts, fields[i].Name+": "+op)
			}
		}
		return name + " { " + strings.Join(parts, ", ") + " }"
	}

	switch t.Kind {
	case KindArray:
		return "[" + strings.Join(ops, ", ") + "]"
	case KindStruct:
		return named(t.Name, t.Fields)
	case KindUnion:
		if rv.Field >= 0 && rv.Field < len(t.Fields) && len(ops) == 1 {
			return fmt.Sprintf("%s { %s: %s }", t.Name, t.Fields[rv.Field].Name, ops[0])
		}
	case KindEnum:
		if rv.Variant >= 0 && rv.Variant < len(t.Variants) {
			v := t.Variants[rv.Variant]
			return named(t.Name+"::"+v.Name, v.Fields)
		}
	}
	return fmt.Sprintf("<aggregate %s>", pr.tt.String(rv.Type))
}
