package parser

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"snapmir/pkg/lexer"
	"snapmir/pkg/mir"
)

// local reads a local such as _3
func (p *Parser) local() mir.Local {
	tok := p.currentToken
	if !isLocal(tok) {
		p.fail("Expected local but found '%s'", tok.Lexeme)
	}
	p.advance()
	n, _ := strconv.Atoi(tok.Lexeme[1:])
	if p.fn != nil && p.fn.Locals != nil && n >= len(p.fn.Locals) {
		p.failAt(tok, "Unknown local %s", tok.Lexeme)
	}
	return mir.Local(n)
}

// place reads a local with its projections
func (p *Parser) place() mir.Place {
	var pl mir.Place
	if p.accept(lexer.LPAREN) {
		if p.accept(lexer.STAR) {
			pl = p.place().Project(mir.Projection{Kind: mir.ProjDeref})
		} else {
			inner := p.place()
			switch {
			case p.accept(lexer.AS):
				pl = inner.Project(mir.Projection{Kind: mir.ProjDowncast, Variant: p.variantOf(inner)})
			case p.accept(lexer.COLON):
				p.typ()
				pl = inner
			default:
				p.fail("Expected 'as' or ':' but found '%s'", p.currentToken.Lexeme)
			}
		}
		p.expect(lexer.RPAREN)
	} else {
		pl = mir.LocalPlace(p.local())
	}

	for {
		switch {
		case p.accept(lexer.DOT):
			tok := p.currentToken
			if tok.Type == lexer.ID {
				p.advance()
				pl = pl.Project(mir.Projection{Kind: mir.ProjField, Field: p.fieldOf(pl, tok)})
				continue
			}
			p.expect(lexer.NUM)
			// the lexer reads _1.0.1 as _1 . 0.1
			for _, part := range strings.Split(tok.Lexeme, ".") {
				n, err := strconv.Atoi(part)
				if err != nil || n < 0 {
					p.failAt(tok, "Invalid field '%s'", tok.Lexeme)
				}
				pl = pl.Project(mir.Projection{Kind: mir.ProjField, Field: n})
			}
		case p.at(lexer.LSBRACE) && (isLocal(p.peek(1)) || p.peek(1).Type == lexer.NUM):
			p.advance()
			if isLocal(p.currentToken) {
				pl = pl.Project(mir.Projection{Kind: mir.ProjIndex, Index: p.local()})
			} else {
				tok := p.expect(lexer.NUM)
				off, err := strconv.Atoi(tok.Lexeme)
				if err != nil {
					p.failAt(tok, "Invalid index '%s'", tok.Lexeme)
				}
				p.expectID("of")
				proj := mir.Projection{Kind: mir.ProjConstIndex, Offset: off, MinLength: p.expectInt()}
				if off < 0 || strings.HasPrefix(tok.Lexeme, "-") {
					proj.Offset, proj.FromEnd = -off, true
				}
				pl = pl.Project(proj)
			}
			p.expect(lexer.RSBRACE)
		default:
			return pl
		}
	}
}

// placeType is the static type of pl in the current function
func (p *Parser) placeType(pl mir.Place) (mir.TypeID, int) {
	if p.fn == nil || p.fn.Locals == nil {
		return mir.NoType, -1
	}
	ty, variant, err := mir.PlaceType(p.tt, p.fn, pl)
	if err != nil {
		return mir.NoType, -1
	}
	return ty, variant
}

// variantOf resolves a downcast target by name or index
func (p *Parser) variantOf(pl mir.Place) int {
	tok := p.currentToken
	if tok.Type == lexer.NUM {
		return p.expectInt()
	}
	p.expect(lexer.ID)
	ty, _ := p.placeType(pl)
	t := p.tt.Get(ty)
	if t == nil || t.Kind != mir.KindEnum {
		p.failAt(tok, "Downcast to %s of a place that is not an enum", tok.Lexeme)
	}
	for i, v := range t.Variants {
		if v.Name == tok.Lexeme {
			return i
		}
	}
	p.failAt(tok, "Enum %s has no variant %s", t.Name, tok.Lexeme)
	return -1
}

// fieldOf resolves a field name against the type of pl
func (p *Parser) fieldOf(pl mir.Place, tok lexer.Token) int {
	ty, variant := p.placeType(pl)
	t := p.tt.Get(ty)
	if t == nil {
		p.failAt(tok, "Field %s of a place with unknown type", tok.Lexeme)
	}
	fields := t.Fields
	if t.Kind == mir.KindEnum && variant >= 0 {
		fields = t.Variants[variant].Fields
	}
	for i, f := range fields {
		if f.Name == tok.Lexeme {
			return i
		}
	}
	p.failAt(tok, "Type %s has no field %s", p.tt.String(ty), tok.Lexeme)
	return -1
}

// operand reads copy/move of a place or a constant. The hint types
// unsuffixed numeric literals.
func (p *Parser) operand(hint mir.TypeID) mir.Operand {
	switch {
	case p.accept(lexer.COPY):
		return mir.Operand{Kind: mir.OperandCopy, Place: p.place()}
	case p.accept(lexer.MOVE):
		return mir.Operand{Kind: mir.OperandMove, Place: p.place()}
	case p.accept(lexer.CONST):
		return mir.Operand{Kind: mir.OperandConst, Const: p.constant(hint)}
	}
	p.fail("Expected operand but found '%s'", p.currentToken.Lexeme)
	return mir.Operand{}
}

func (p *Parser) operandType(op *mir.Operand) mir.TypeID {
	if op.Kind == mir.OperandConst {
		return op.Const.Type
	}
	ty, _ := p.placeType(op.Place)
	return ty
}

// constant reads the value after the const keyword
func (p *Parser) constant(hint mir.TypeID) *mir.Const {
	tok := p.currentToken
	p.defaulted = false

	switch tok.Type {
	case lexer.NUM:
		p.advance()
		return p.number(tok, hint)
	case lexer.TRUE, lexer.FALSE:
		p.advance()
		b := byte(0)
		if tok.Type == lexer.TRUE {
			b = 1
		}
		return &mir.Const{Kind: mir.ConstBytes, Type: p.tt.Bool(), Bytes: []byte{b}}
	case lexer.CHAR:
		p.advance()
		r := []rune(tok.Literal)
		if len(r) != 1 {
			p.failAt(tok, "Invalid char literal %s", tok.Lexeme)
		}
		return &mir.Const{Kind: mir.ConstBytes, Type: p.tt.Char(), Bytes: leBytes(big.NewInt(int64(r[0])), 4)}
	case lexer.STRING:
		p.advance()
		return &mir.Const{Kind: mir.ConstStr, Type: p.tt.Ref(p.tt.Str(), false), Str: tok.Literal}
	case lexer.LPAREN:
		p.advance()
		p.expect(lexer.RPAREN)
		return &mir.Const{Kind: mir.ConstBytes, Type: p.tt.Unit()}
	case lexer.FN:
		p.advance()
		name := p.path()
		return &mir.Const{Kind: mir.ConstFn, Type: p.tt.FnDef(name), Symbol: name}
	case lexer.ID:
		name := p.path()
		return &mir.Const{Kind: mir.ConstFn, Type: p.tt.FnDef(name), Symbol: name}
	case lexer.AMP:
		p.advance()
		name := p.path()
		s, ok := p.statics[name]
		if !ok {
			p.failAt(tok, "Unknown static %s", name)
		}
		ty := p.tt.Ref(s.Type, false)
		if s.Mut {
			ty = p.tt.Ptr(s.Type, true)
		}
		return &mir.Const{Kind: mir.ConstStatic, Type: ty, Symbol: name}
	case lexer.LBRACE:
		// {bytes "hex": T}
		p.advance()
		p.expectID("bytes")
		lit := p.expect(lexer.STRING)
		p.expect(lexer.COLON)
		ty := p.typ()
		p.expect(lexer.RBRACE)
		b, err := hex.DecodeString(lit.Literal)
		if err != nil {
			p.failAt(lit, "Invalid hex bytes: %v", err)
		}
		return &mir.Const{Kind: mir.ConstBytes, Type: ty, Bytes: b}
	}
	p.fail("Expected constant but found '%s'", tok.Lexeme)
	return nil
}
