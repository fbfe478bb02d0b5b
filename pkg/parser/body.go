package parser

import (
	"math/big"
	"strconv"

	"snapmir/pkg/lexer"
	"snapmir/pkg/mir"
)

// function reads fn path(_1: T, ...) -> R { decls blocks }
func (p *Parser) function() {
	p.expect(lexer.FN)
	p.fn = &mir.Function{Name: p.path()}
	p.locals = make(map[int]mir.LocalDecl)
	p.debug = make(map[int]string)
	p.blocks = make(map[int]*mir.Block)

	p.expect(lexer.LPAREN)
	var params []mir.TypeID
	for !p.at(lexer.RPAREN) {
		tok := p.currentToken
		l := int(p.local())
		if l != len(params)+1 {
			p.failAt(tok, "Expected parameter _%d but found '%s'", len(params)+1, tok.Lexeme)
		}
		p.expect(lexer.COLON)
		ty := p.typ()
		params = append(params, ty)
		p.locals[l] = mir.LocalDecl{Type: ty}
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	ret := p.tt.Unit()
	if p.accept(lexer.ARROW) {
		ret = p.typ()
	}
	p.locals[0] = mir.LocalDecl{Type: ret}
	p.fn.ArgCount = len(params)
	p.sigs[p.fn.Name] = params

	p.expect(lexer.LBRACE)
	p.declarations()
	for !p.at(lexer.RBRACE) {
		p.block()
	}
	p.expect(lexer.RBRACE)

	if p.fn.Locals == nil {
		p.freezeLocals()
	}
	p.fn.Blocks = make([]*mir.Block, len(p.blocks))
	for id, b := range p.blocks {
		if id >= len(p.blocks) {
			p.fail("Block bb%d is out of sequence in %s", id, p.fn.Name)
		}
		p.fn.Blocks[id] = b
	}
	p.prog.Funcs = append(p.prog.Funcs, p.fn)
	p.fn = nil
}

// declarations reads debug, let and scope entries up to the first block
func (p *Parser) declarations() {
	for {
		switch {
		case p.atID("debug"):
			p.advance()
			name := p.expect(lexer.ID).Lexeme
			p.expect(lexer.FATARROW)
			if isLocal(p.currentToken) && p.peek(1).Type == lexer.SEMICOLON {
				p.debug[int(p.local())] = name
			} else {
				p.skipStatement()
			}
			p.expect(lexer.SEMICOLON)
		case p.at(lexer.LET):
			p.advance()
			mut := p.accept(lexer.MUT)
			tok := p.currentToken
			l := int(p.local())
			p.expect(lexer.COLON)
			ty := p.typ()
			p.expect(lexer.SEMICOLON)
			if prev, ok := p.locals[l]; ok {
				if l > p.fn.ArgCount || prev.Type != ty {
					p.failAt(tok, "Local %s is declared twice", tok.Lexeme)
				}
			}
			p.locals[l] = mir.LocalDecl{Type: ty, Mut: mut}
		case p.atID("scope") && p.peek(1).Type == lexer.NUM:
			p.advance()
			p.advance()
			p.expect(lexer.LBRACE)
			p.declarations()
			p.expect(lexer.RBRACE)
		default:
			return
		}
	}
}

// freezeLocals turns the declared locals into the function's local table
func (p *Parser) freezeLocals() {
	n := 0
	for l := range p.locals {
		n = max(n, l+1)
	}
	locals := make([]mir.LocalDecl, n)
	for l := range locals {
		decl, ok := p.locals[l]
		if !ok {
			p.fail("Local _%d of %s is not declared", l, p.fn.Name)
		}
		decl.Name = p.debug[l]
		locals[l] = decl
	}
	p.fn.Locals = locals
}

// block reads bbN [(cleanup)]: { statements terminator }
func (p *Parser) block() {
	tok := p.currentToken
	if !isBlock(tok) {
		p.fail("Expected block but found '%s'", tok.Lexeme)
	}
	if p.fn.Locals == nil {
		p.freezeLocals()
	}
	p.advance()
	id, _ := strconv.Atoi(tok.Lexeme[2:])
	if _, dup := p.blocks[id]; dup {
		p.failAt(tok, "Block %s is defined twice", tok.Lexeme)
	}

	b := &mir.Block{}
	if p.accept(lexer.LPAREN) {
		p.expectID("cleanup")
		p.expect(lexer.RPAREN)
		b.Cleanup = true
	}
	p.expect(lexer.COLON)
	p.expect(lexer.LBRACE)
	for {
		if p.at(lexer.RBRACE) {
			p.fail("Block %s has no terminator", tok.Lexeme)
		}
		if p.atTerminator() {
			b.Terminator = p.terminator()
			p.expect(lexer.SEMICOLON)
			break
		}
		b.Statements = append(b.Statements, p.statement())
		p.expect(lexer.SEMICOLON)
	}
	p.expect(lexer.RBRACE)
	p.blocks[id] = b
}

// skipStatement moves to the ';' that ends the current statement
func (p *Parser) skipStatement() {
	depth := 0
	for !p.at(lexer.EOF) {
		switch p.currentToken.Type {
		case lexer.LPAREN, lexer.LSBRACE, lexer.LBRACE:
			depth++
		case lexer.RPAREN, lexer.RSBRACE, lexer.RBRACE:
			if depth == 0 {
				return
			}
			depth--
		case lexer.SEMICOLON:
			if depth == 0 {
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) statement() mir.Statement {
	tok := p.currentToken
	next := p.peek(1)

	switch {
	case (tok.Lexeme == "StorageLive" || tok.Lexeme == "StorageDead") && tok.Type == lexer.ID && next.Type == lexer.LPAREN:
		p.advance()
		p.advance()
		s := mir.Statement{Kind: mir.StmtStorageLive, Local: p.local()}
		if tok.Lexeme == "StorageDead" {
			s.Kind = mir.StmtStorageDead
		}
		p.expect(lexer.RPAREN)
		return s
	case p.atID("nop") && next.Type == lexer.SEMICOLON:
		p.advance()
		return mir.Statement{Kind: mir.StmtNop}
	case p.atID("discriminant") && next.Type == lexer.LPAREN:
		p.advance()
		p.advance()
		s := mir.Statement{Kind: mir.StmtSetDiscriminant, Place: p.place()}
		p.expect(lexer.RPAREN)
		p.expect(lexer.ASSIGN)
		s.Variant = p.expectInt()
		return s
	case tok.Type == lexer.ID && ignoredStatements[tok.Lexeme] && next.Type == lexer.LPAREN:
		p.skipStatement()
		return mir.Statement{Kind: mir.StmtNop}
	}

	pl := p.place()
	p.expect(lexer.ASSIGN)
	ty, _ := p.placeType(pl)
	return mir.Statement{Kind: mir.StmtAssign, Place: pl, Rvalue: p.rvalue(ty)}
}

// atTerminator decides whether the current line ends the block
func (p *Parser) atTerminator() bool {
	tok := p.currentToken
	next := p.peek(1).Type
	if tok.Type == lexer.ID {
		switch tok.Lexeme {
		case "goto":
			return next == lexer.ARROW
		case "switchInt", "drop", "assert":
			if next == lexer.LPAREN {
				return true
			}
		case "return", "resume", "abort", "unreachable", "UnwindResume":
			return bareEnd(next)
		case "UnwindTerminate":
			return next == lexer.SEMICOLON || next == lexer.LPAREN
		}
	}
	return p.isCall()
}

// bareEnd checks the token after a terminator without operands; a missing
// ';' is reported by the caller
func bareEnd(t lexer.TokenType) bool {
	return t == lexer.SEMICOLON || t == lexer.RBRACE
}

// isCall looks for ") ->" followed by a call target before the next ';'
func (p *Parser) isCall() bool {
	for i := p.pos; i+2 < len(p.tokens); i++ {
		tok := p.tokens[i]
		switch tok.Type {
		case lexer.SEMICOLON, lexer.EOF:
			return false
		case lexer.RPAREN:
			if p.tokens[i+1].Type != lexer.ARROW {
				continue
			}
			after := p.tokens[i+2]
			if isBlock(after) || (after.Type == lexer.ID && after.Lexeme == "unwind") {
				return true
			}
			if after.Type == lexer.LSBRACE && i+3 < len(p.tokens) && p.tokens[i+3].Lexeme == "return" {
				return true
			}
		}
	}
	return false
}

func (p *Parser) terminator() mir.Terminator {
	tok := p.currentToken
	next := p.peek(1).Type
	t := mir.Terminator{Dest: mir.Place{Local: mir.NoLocal}}

	keyword := ""
	if tok.Type == lexer.ID {
		keyword = tok.Lexeme
	}
	switch {
	case keyword == "goto" && next == lexer.ARROW:
		p.advance()
		p.advance()
		t.Kind = mir.TermGoto
		t.Target = p.blockRef()
	case keyword == "return" && bareEnd(next):
		p.advance()
		t.Kind = mir.TermReturn
	case (keyword == "resume" || keyword == "UnwindResume") && bareEnd(next):
		p.advance()
		t.Kind = mir.TermResume
	case keyword == "unreachable" && bareEnd(next):
		p.advance()
		t.Kind = mir.TermUnreachable
	case keyword == "abort" && bareEnd(next):
		p.advance()
		t.Kind = mir.TermAbort
	case keyword == "UnwindTerminate" && (next == lexer.SEMICOLON || next == lexer.LPAREN):
		p.advance()
		t.Kind = mir.TermAbort
		if p.at(lexer.LPAREN) {
			p.skipParens()
		}
	case keyword == "switchInt" && next == lexer.LPAREN:
		p.switchInt(&t)
	case keyword == "drop" && next == lexer.LPAREN:
		p.advance()
		p.advance()
		t.Kind = mir.TermDrop
		t.Place = p.place()
		p.expect(lexer.RPAREN)
		p.expect(lexer.ARROW)
		p.targets(&t)
	case keyword == "assert" && next == lexer.LPAREN:
		p.assert(&t)
	default:
		p.call(&t)
	}
	return t
}

func (p *Parser) blockRef() mir.BlockID {
	tok := p.currentToken
	if !isBlock(tok) {
		p.fail("Expected block but found '%s'", tok.Lexeme)
	}
	p.advance()
	n, _ := strconv.Atoi(tok.Lexeme[2:])
	return mir.BlockID(n)
}

func (p *Parser) skipParens() {
	p.expect(lexer.LPAREN)
	p.skipStatement()
	p.expect(lexer.RPAREN)
}

// targets reads bbN, [label: bbN, unwind...] or a bare unwind action
func (p *Parser) targets(t *mir.Terminator) {
	switch {
	case p.accept(lexer.LSBRACE):
		if !p.acceptID("return") {
			p.expectID("success")
		}
		p.expect(lexer.COLON)
		t.Target = p.blockRef()
		p.expect(lexer.COMMA)
		p.unwind(t)
		p.expect(lexer.RSBRACE)
	case p.atID("unwind"):
		t.Diverging = true
		p.unwind(t)
	default:
		t.Target = p.blockRef()
	}
}

func (p *Parser) unwind(t *mir.Terminator) {
	p.expectID("unwind")
	if p.accept(lexer.COLON) {
		t.Unwind = mir.UnwindAction{Kind: mir.UnwindCleanup, Block: p.blockRef()}
		return
	}
	tok := p.expect(lexer.ID)
	kind, ok := unwindActions[tok.Lexeme]
	if !ok {
		p.failAt(tok, "Unknown unwind action %s", tok.Lexeme)
	}
	t.Unwind = mir.UnwindAction{Kind: kind}
	if kind == mir.UnwindTerminate && p.at(lexer.LPAREN) {
		p.skipParens()
	}
}

// switchInt reads switchInt(op) -> [v: bbN, ..., otherwise: bbM]
func (p *Parser) switchInt(t *mir.Terminator) {
	p.advance()
	t.Kind = mir.TermSwitchInt
	p.expect(lexer.LPAREN)
	t.Discr = p.operand(mir.NoType)
	p.expect(lexer.RPAREN)
	p.expect(lexer.ARROW)
	p.expect(lexer.LSBRACE)

	bits := 128
	if dt := p.tt.Get(p.operandType(&t.Discr)); dt != nil {
		switch {
		case dt.Kind == mir.KindBool:
			bits = 8
		case dt.Kind == mir.KindChar:
			bits = 32
		case dt.IsInteger():
			bits = dt.Bits
		}
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	mask64 := new(big.Int).SetUint64(^uint64(0))

	for {
		if p.acceptID("otherwise") {
			p.expect(lexer.COLON)
			t.Otherwise = p.blockRef()
			break
		}
		tok := p.currentToken
		var v *big.Int
		switch tok.Type {
		case lexer.TRUE:
			v = big.NewInt(1)
		case lexer.FALSE:
			v = big.NewInt(0)
		case lexer.NUM:
			v = p.integer(tok)
		default:
			p.fail("Expected case value but found '%s'", tok.Lexeme)
		}
		p.advance()
		v.Mod(v, mod)
		p.expect(lexer.COLON)
		c := mir.SwitchCase{
			Value:  new(big.Int).And(v, mask64).Uint64(),
			High:   new(big.Int).Rsh(v, 64).Uint64(),
			Target: p.blockRef(),
		}
		t.Cases = append(t.Cases, c)
		p.expect(lexer.COMMA)
	}
	p.expect(lexer.RSBRACE)
}

// assert reads assert([!]cond, "msg", args...) -> targets
func (p *Parser) assert(t *mir.Terminator) {
	p.advance()
	t.Kind = mir.TermAssert
	p.expect(lexer.LPAREN)
	t.Expected = !p.accept(lexer.BANG)
	t.Cond = p.operand(p.tt.Bool())
	p.expect(lexer.COMMA)
	t.Msg = p.expect(lexer.STRING).Literal
	for p.accept(lexer.COMMA) {
		p.operand(mir.NoType)
	}
	p.expect(lexer.RPAREN)
	p.expect(lexer.ARROW)
	p.targets(t)
}

// call reads [place =] callee(args) -> targets
func (p *Parser) call(t *mir.Terminator) {
	t.Kind = mir.TermCall
	if isLocal(p.currentToken) || p.at(lexer.LPAREN) {
		t.Dest = p.place()
		p.expect(lexer.ASSIGN)
	}

	var params []mir.TypeID
	switch p.currentToken.Type {
	case lexer.COPY, lexer.MOVE, lexer.CONST:
		t.Func = p.operand(mir.NoType)
		if c := t.Func.Const; c != nil && c.Kind == mir.ConstFn {
			params = p.sigs[c.Symbol]
		} else if ft := p.tt.Get(p.operandType(&t.Func)); ft != nil && ft.Kind == mir.KindFnPtr {
			params = ft.Params
		}
	case lexer.ID:
		name := p.path()
		t.Func = mir.Operand{Kind: mir.OperandConst, Const: &mir.Const{Kind: mir.ConstFn, Type: p.tt.FnDef(name), Symbol: name}}
		params = p.sigs[name]
	default:
		p.fail("Expected callee but found '%s'", p.currentToken.Lexeme)
	}

	p.expect(lexer.LPAREN)
	for !p.at(lexer.RPAREN) {
		hint := mir.NoType
		if len(t.Args) < len(params) {
			hint = params[len(t.Args)]
		}
		t.Args = append(t.Args, p.operand(hint))
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	p.expect(lexer.ARROW)
	p.targets(t)
}
