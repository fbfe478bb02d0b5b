package parser

import (
	"strings"

	"snapmir/pkg/lexer"
	"snapmir/pkg/mir"
)

// rvalue reads the right-hand side of an assignment to a place of type dest
func (p *Parser) rvalue(dest mir.TypeID) *mir.Rvalue {
	tok := p.currentToken
	switch tok.Type {
	case lexer.COPY, lexer.MOVE, lexer.CONST:
		op := p.operand(dest)
		if !p.accept(lexer.AS) {
			return &mir.Rvalue{Kind: mir.RvUse, Operands: []mir.Operand{op}}
		}
		ty := p.typ()
		return &mir.Rvalue{Kind: mir.RvCast, Cast: p.castKind(), Type: ty, Operands: []mir.Operand{op}}

	case lexer.AMP:
		p.advance()
		if p.acceptID("raw") {
			mut := p.accept(lexer.MUT)
			if !mut {
				p.expect(lexer.CONST)
			}
			return &mir.Rvalue{Kind: mir.RvRawPtr, Mut: mut, Place: p.place()}
		}
		mut := p.accept(lexer.MUT)
		return &mir.Rvalue{Kind: mir.RvRef, Mut: mut, Place: p.place()}

	case lexer.LPAREN:
		return p.tuple(dest)

	case lexer.LSBRACE:
		return p.array(dest)

	case lexer.ID:
		if p.peek(1).Type == lexer.LPAREN {
			if rv := p.builtin(dest); rv != nil {
				return rv
			}
		}
		return p.adt(dest)
	}
	p.fail("Expected rvalue but found '%s'", tok.Lexeme)
	return nil
}

// castKind reads the parenthesized kind after a cast target, e.g. (IntToInt)
// or (PointerCoercion(Unsize, Implicit)).
func (p *Parser) castKind() mir.CastKind {
	p.expect(lexer.LPAREN)
	tok := p.currentToken
	name := p.expect(lexer.ID).Lexeme
	if p.accept(lexer.LPAREN) {
		name += "(" + p.expect(lexer.ID).Lexeme + ")"
		for p.accept(lexer.COMMA) {
			p.expect(lexer.ID)
		}
		p.expect(lexer.RPAREN)
	}
	p.expect(lexer.RPAREN)
	kind, ok := castKinds[name]
	if !ok {
		p.failAt(tok, "Unknown cast kind %s", name)
	}
	return kind
}

// builtin reads the operator forms Name(...). It returns nil when the name
// is not an operator, leaving the input untouched.
func (p *Parser) builtin(dest mir.TypeID) *mir.Rvalue {
	name := p.currentToken.Lexeme

	if op, ok := binOps[name]; ok {
		p.advance()
		p.expect(lexer.LPAREN)
		a, b := p.operandPair(p.binaryHint(op, dest))
		p.expect(lexer.RPAREN)
		return &mir.Rvalue{Kind: mir.RvBinary, BinOp: op, Operands: []mir.Operand{a, b}}
	}
	if op, ok := unOps[name]; ok {
		p.advance()
		p.expect(lexer.LPAREN)
		a := p.operand(dest)
		p.expect(lexer.RPAREN)
		return &mir.Rvalue{Kind: mir.RvUnary, UnOp: op, Operands: []mir.Operand{a}}
	}
	if kind, ok := placeRvalues[name]; ok {
		p.advance()
		p.expect(lexer.LPAREN)
		pl := p.place()
		p.expect(lexer.RPAREN)
		return &mir.Rvalue{Kind: kind, Place: pl}
	}
	if kind, ok := typeRvalues[name]; ok {
		p.advance()
		p.expect(lexer.LPAREN)
		ty := p.typ()
		p.expect(lexer.RPAREN)
		return &mir.Rvalue{Kind: kind, Type: ty}
	}
	return nil
}

// binaryHint is the operand type implied by the destination
func (p *Parser) binaryHint(op mir.BinOp, dest mir.TypeID) mir.TypeID {
	t := p.tt.Get(dest)
	if t == nil {
		return mir.NoType
	}
	switch op {
	case mir.OpEq, mir.OpNe, mir.OpLt, mir.OpLe, mir.OpGt, mir.OpGe, mir.OpCmp, mir.OpOffset:
		return mir.NoType
	}
	if strings.HasSuffix(string(op), "WithOverflow") && t.Kind == mir.KindTuple && len(t.Fields) == 2 {
		return t.Fields[0].Type
	}
	return dest
}

// operandPair reads two comma separated operands. An unsuffixed literal
// takes the type of the other operand when the destination gives no hint.
func (p *Parser) operandPair(hint mir.TypeID) (mir.Operand, mir.Operand) {
	start := p.pos
	a := p.operand(hint)
	aDefaulted := a.Kind == mir.OperandConst && p.defaulted
	p.expect(lexer.COMMA)
	b := p.operand(p.operandType(&a))

	if aDefaulted && b.Kind != mir.OperandConst {
		if bt := p.operandType(&b); bt != mir.NoType && bt != a.Const.Type {
			p.seek(start)
			a = p.operand(bt)
			p.expect(lexer.COMMA)
			b = p.operand(bt)
		}
	}
	return a, b
}

// tuple reads (), (a,) or (a, b, ...)
func (p *Parser) tuple(dest mir.TypeID) *mir.Rvalue {
	p.expect(lexer.LPAREN)
	var fields []mir.Field
	if t := p.tt.Get(dest); t != nil && t.Kind == mir.KindTuple {
		fields = t.Fields
	}

	var ops []mir.Operand
	var types []mir.TypeID
	for !p.at(lexer.RPAREN) {
		hint := mir.NoType
		if len(ops) < len(fields) {
			hint = fields[len(ops)].Type
		}
		op := p.operand(hint)
		ops = append(ops, op)
		types = append(types, p.operandType(&op))
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)

	ty := dest
	if fields == nil || len(fields) != len(ops) {
		ty = p.tt.Tuple(types...)
	}
	return &mir.Rvalue{Kind: mir.RvAggregate, Type: ty, Operands: ops}
}

// array reads [a; N] or [a, b, ...]
func (p *Parser) array(dest mir.TypeID) *mir.Rvalue {
	p.expect(lexer.LSBRACE)
	elem := mir.NoType
	if t := p.tt.Get(dest); t != nil && t.Kind == mir.KindArray {
		elem = t.Elem
	}

	if p.accept(lexer.RSBRACE) {
		return &mir.Rvalue{Kind: mir.RvAggregate, Type: p.tt.Array(elem, 0)}
	}
	first := p.operand(elem)
	if elem == mir.NoType {
		elem = p.operandType(&first)
	}
	if p.accept(lexer.SEMICOLON) {
		n := p.expectInt()
		p.expect(lexer.RSBRACE)
		return &mir.Rvalue{Kind: mir.RvRepeat, Count: n, Type: p.tt.Array(elem, n), Operands: []mir.Operand{first}}
	}

	ops := []mir.Operand{first}
	for p.accept(lexer.COMMA) {
		if p.at(lexer.RSBRACE) {
			break
		}
		ops = append(ops, p.operand(elem))
	}
	p.expect(lexer.RSBRACE)
	return &mir.Rvalue{Kind: mir.RvAggregate, Type: p.tt.Array(elem, len(ops)), Operands: ops}
}

// adt reads a struct, union or enum aggregate:
// Name, Name(a, b), Name { f: a } or Enum::Variant in the same forms.
func (p *Parser) adt(dest mir.TypeID) *mir.Rvalue {
	tok := p.currentToken
	name := p.path()
	rv := &mir.Rvalue{Kind: mir.RvAggregate}

	var fields []mir.Field
	var t *mir.Type
	if id, ok := p.tt.Named(name); ok && p.defined[name] && p.tt.Get(id).Kind != mir.KindEnum {
		rv.Type, t = id, p.tt.Get(id)
		fields = t.Fields
	} else if i := strings.LastIndex(name, "::"); i > 0 {
		enum, variant := name[:i], name[i+2:]
		id, ok := p.tt.Named(enum)
		if !ok || !p.defined[enum] || p.tt.Get(id).Kind != mir.KindEnum {
			p.failAt(tok, "Unknown type %s", enum)
		}
		rv.Type, t = id, p.tt.Get(id)
		rv.Variant = -1
		for vi, v := range t.Variants {
			if v.Name == variant {
				rv.Variant, fields = vi, v.Fields
			}
		}
		if rv.Variant < 0 {
			p.failAt(tok, "Enum %s has no variant %s", enum, variant)
		}
	} else {
		p.failAt(tok, "Unknown type %s", name)
	}

	switch {
	case p.at(lexer.LPAREN):
		p.advance()
		for !p.at(lexer.RPAREN) {
			hint := mir.NoType
			if len(rv.Operands) < len(fields) {
				hint = fields[len(rv.Operands)].Type
			}
			rv.Operands = append(rv.Operands, p.operand(hint))
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		p.expect(lexer.RPAREN)
	case p.at(lexer.LBRACE):
		p.namedOperands(rv, t, fields)
		return rv
	}

	if len(rv.Operands) != len(fields) {
		p.failAt(tok, "%s takes %d fields, got %d", name, len(fields), len(rv.Operands))
	}
	return rv
}

// namedOperands reads { f: a, ... } in any order. Unions take exactly one
// field; structs and variants take all of theirs.
func (p *Parser) namedOperands(rv *mir.Rvalue, t *mir.Type, fields []mir.Field) {
	open := p.expect(lexer.LBRACE)
	byIndex := make(map[int]mir.Operand)
	for !p.at(lexer.RBRACE) {
		ftok := p.expect(lexer.ID)
		idx := -1
		for i, f := range fields {
			if f.Name == ftok.Lexeme {
				idx = i
			}
		}
		if idx < 0 {
			p.failAt(ftok, "%s has no field %s", t.Name, ftok.Lexeme)
		}
		if _, dup := byIndex[idx]; dup {
			p.failAt(ftok, "Field %s is given twice", ftok.Lexeme)
		}
		p.expect(lexer.COLON)
		byIndex[idx] = p.operand(fields[idx].Type)
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACE)

	if t.Kind == mir.KindUnion {
		if len(byIndex) != 1 {
			p.failAt(open, "Union %s takes exactly one field", t.Name)
		}
		for idx, op := range byIndex {
			rv.Field = idx
			rv.Operands = []mir.Operand{op}
		}
		return
	}
	for i, f := range fields {
		op, ok := byIndex[i]
		if !ok {
			p.failAt(open, "Missing field %s", f.Name)
		}
		rv.Operands = append(rv.Operands, op)
	}
}
