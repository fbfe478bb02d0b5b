// Package parser reads textual MIR, the form mir.Program.Dump writes, into
// a program. Items are parsed by recursive descent; an error abandons the
// current item and parsing resumes at the next one.
package parser

import (
	"encoding/hex"
	"fmt"
	"strings"

	"snapmir/pkg/lexer"
	"snapmir/pkg/mir"
)

type Parser struct {
	tokens       []lexer.Token // every token of the input, ending with EOF
	pos          int           // index of currentToken
	currentToken lexer.Token   // current token
	itemStart    int           // index of the first token of the current item
	errors       []string      // list of errors

	prog    *mir.Program
	tt      *mir.TypeTable
	defined map[string]bool         // ADTs with a definition
	statics map[string]*mir.Static  // statics by name
	sigs    map[string][]mir.TypeID // parameter types of known functions and externs

	fn        *mir.Function // function being parsed
	locals    map[int]mir.LocalDecl
	debug     map[int]string // user variable names by local
	blocks    map[int]*mir.Block
	defaulted bool // the last numeric literal had neither suffix nor usable hint
}

// NewParser creates a new parser instance
func NewParser(l *lexer.Lexer) *Parser {
	p := &Parser{
		tokens:  l.Tokenize(),
		errors:  []string{},
		prog:    &mir.Program{Types: mir.NewTypeTable()},
		defined: make(map[string]bool),
		statics: make(map[string]*mir.Static),
		sigs:    make(map[string][]mir.TypeID),
	}
	p.tt = p.prog.Types
	p.currentToken = p.tokens[0]
	return p
}

// Parse reads every item of the input. The program is not finalized;
// check Errors before using it.
func (p *Parser) Parse() *mir.Program {
	for !p.at(lexer.EOF) {
		p.item()
	}
	return p.prog
}

// ParseProgram parses and finalizes a program.
func ParseProgram(src string) (*mir.Program, error) {
	p := NewParser(lexer.NewLexer(src))
	prog := p.Parse()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSyntax, strings.Join(errs, "; "))
	}
	if err := prog.Finalize(); err != nil {
		return nil, err
	}
	return prog, nil
}

func (p *Parser) item() {
	defer p.recoverItem()
	p.itemStart = p.pos

	switch p.currentToken.Type {
	case lexer.STRUCT:
		p.structItem()
	case lexer.UNION:
		p.unionItem()
	case lexer.ENUM:
		p.enumItem()
	case lexer.IMPL:
		p.implItem()
	case lexer.STATIC:
		p.staticItem()
	case lexer.EXTERN:
		p.externItem()
	case lexer.FN:
		p.function()
	default:
		p.fail("Expected item but found '%s'", p.currentToken.Lexeme)
	}
}

// define declares an ADT and checks it is not defined twice
func (p *Parser) define(kind mir.TypeKind) *mir.Type {
	tok := p.currentToken
	name := p.path()
	if p.defined[name] {
		p.failAt(tok, "Type %s is defined twice", name)
	}
	if _, prim := p.tt.Primitive(name); prim {
		p.failAt(tok, "Cannot redefine primitive type %s", name)
	}
	p.defined[name] = true
	return p.tt.Get(p.tt.Declare(name, kind))
}

func (p *Parser) structItem() {
	p.expect(lexer.STRUCT)
	t := p.define(mir.KindStruct)
	switch {
	case p.accept(lexer.SEMICOLON):
	case p.at(lexer.LPAREN):
		t.Fields = p.tupleFields()
		p.expect(lexer.SEMICOLON)
	default:
		t.Fields = p.namedFields()
	}
}

func (p *Parser) unionItem() {
	p.expect(lexer.UNION)
	t := p.define(mir.KindUnion)
	t.Fields = p.namedFields()
}

func (p *Parser) enumItem() {
	p.expect(lexer.ENUM)
	t := p.define(mir.KindEnum)
	p.expect(lexer.LBRACE)

	next := int64(0)
	for !p.at(lexer.RBRACE) {
		v := mir.Variant{Name: p.expect(lexer.ID).Lexeme}
		switch {
		case p.at(lexer.LPAREN):
			v.Fields = p.tupleFields()
		case p.at(lexer.LBRACE):
			v.Fields = p.namedFields()
		}
		v.Discr = next
		if p.accept(lexer.ASSIGN) {
			tok := p.expect(lexer.NUM)
			d := p.integer(tok)
			if !d.IsInt64() {
				p.failAt(tok, "Discriminant %s does not fit in 64 bits", tok.Lexeme)
			}
			v.Discr = d.Int64()
		}
		for _, prev := range t.Variants {
			if prev.Name == v.Name {
				p.fail("Variant %s is defined twice", v.Name)
			}
		}
		t.Variants = append(t.Variants, v)
		next = v.Discr + 1
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACE)
}

func (p *Parser) tupleFields() []mir.Field {
	p.expect(lexer.LPAREN)
	var fields []mir.Field
	for !p.at(lexer.RPAREN) {
		fields = append(fields, mir.Field{Type: p.typ()})
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	return fields
}

func (p *Parser) namedFields() []mir.Field {
	p.expect(lexer.LBRACE)
	var fields []mir.Field
	for !p.at(lexer.RBRACE) {
		name := p.expect(lexer.ID).Lexeme
		p.expect(lexer.COLON)
		fields = append(fields, mir.Field{Name: name, Type: p.typ()})
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACE)
	return fields
}

// implItem attaches drop glue: impl Drop for Name => path;
func (p *Parser) implItem() {
	p.expect(lexer.IMPL)
	p.expectID("Drop")
	p.expectID("for")
	tok := p.currentToken
	name := p.path()
	p.expect(lexer.FATARROW)
	glue := p.path()
	p.expect(lexer.SEMICOLON)

	id := p.tt.Declare(name, mir.KindInvalid)
	t := p.tt.Get(id)
	if t.Drop != "" {
		p.failAt(tok, "Type %s already has drop glue", name)
	}
	t.Drop = glue
}

// staticItem reads static [mut] NAME: T = zeroed | const LIT | bytes "hex";
func (p *Parser) staticItem() {
	p.expect(lexer.STATIC)
	s := &mir.Static{Mut: p.accept(lexer.MUT)}
	tok := p.currentToken
	s.Name = p.path()
	if _, dup := p.statics[s.Name]; dup {
		p.failAt(tok, "Static %s is defined twice", s.Name)
	}
	p.expect(lexer.COLON)
	s.Type = p.typ()
	p.expect(lexer.ASSIGN)

	switch {
	case p.acceptID("zeroed"):
	case p.accept(lexer.CONST):
		c := p.constant(s.Type)
		if c.Kind != mir.ConstBytes {
			p.failAt(tok, "Static %s needs a scalar initializer", s.Name)
		}
		s.Init = c.Bytes
	case p.acceptID("bytes"):
		lit := p.expect(lexer.STRING)
		b, err := hex.DecodeString(lit.Literal)
		if err != nil {
			p.failAt(lit, "Invalid hex bytes: %v", err)
		}
		s.Init = b
	default:
		p.fail("Expected static initializer but found '%s'", p.currentToken.Lexeme)
	}
	p.expect(lexer.SEMICOLON)

	p.statics[s.Name] = s
	p.prog.Statics = append(p.prog.Statics, s)
}

// externItem reads extern ["lib"] fn path(T, ...) -> T;
func (p *Parser) externItem() {
	p.expect(lexer.EXTERN)
	e := &mir.Extern{Ret: mir.NoType}
	if p.at(lexer.STRING) {
		e.Library = p.advance().Literal
	}
	p.expect(lexer.FN)
	e.Name = p.path()
	p.expect(lexer.LPAREN)
	for !p.at(lexer.RPAREN) {
		if p.accept(lexer.ELLIPSIS) {
			e.Variadic = true
			break
		}
		e.Params = append(e.Params, p.typ())
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	if p.accept(lexer.ARROW) {
		e.Ret = p.typ()
	}
	p.expect(lexer.SEMICOLON)

	p.sigs[e.Name] = e.Params
	p.prog.Externs = append(p.prog.Externs, e)
}

// typ reads a type
func (p *Parser) typ() mir.TypeID {
	tok := p.currentToken
	switch tok.Type {
	case lexer.AMP:
		p.advance()
		mut := p.accept(lexer.MUT)
		return p.tt.Ref(p.typ(), mut)
	case lexer.STAR:
		p.advance()
		mut := p.accept(lexer.MUT)
		if !mut {
			p.expect(lexer.CONST)
		}
		return p.tt.Ptr(p.typ(), mut)
	case lexer.BANG:
		p.advance()
		return p.tt.Never()
	case lexer.LPAREN:
		p.advance()
		var elems []mir.TypeID
		for !p.at(lexer.RPAREN) {
			elems = append(elems, p.typ())
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		p.expect(lexer.RPAREN)
		return p.tt.Tuple(elems...)
	case lexer.LSBRACE:
		p.advance()
		elem := p.typ()
		if p.accept(lexer.SEMICOLON) {
			n := p.expectInt()
			p.expect(lexer.RSBRACE)
			return p.tt.Array(elem, n)
		}
		p.expect(lexer.RSBRACE)
		return p.tt.Slice(elem)
	case lexer.FN:
		p.advance()
		if !p.at(lexer.LPAREN) {
			return p.tt.FnDef(p.path())
		}
		p.advance()
		var params []mir.TypeID
		for !p.at(lexer.RPAREN) {
			params = append(params, p.typ())
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		p.expect(lexer.RPAREN)
		ret := p.tt.Unit()
		if p.accept(lexer.ARROW) {
			ret = p.typ()
		}
		return p.tt.FnPtr(params, ret)
	case lexer.ID:
		name := p.path()
		if id, ok := p.tt.Primitive(name); ok {
			return id
		}
		return p.tt.Declare(name, mir.KindInvalid)
	}
	p.fail("Expected type but found '%s'", tok.Lexeme)
	return mir.NoType
}
