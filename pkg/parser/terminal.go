package parser

import (
	"regexp"
	"strconv"

	"snapmir/pkg/lexer"
)

var (
	localRegex = regexp.MustCompile(`^_(\d+)$`)
	blockRegex = regexp.MustCompile(`^bb(\d+)$`)
)

// advance moves to the next token and returns the one it left
func (p *Parser) advance() lexer.Token {
	tok := p.currentToken
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	p.currentToken = p.tokens[p.pos]
	return tok
}

// seek rewinds or forwards to an absolute token index
func (p *Parser) seek(pos int) {
	p.pos = pos
	p.currentToken = p.tokens[pos]
}

// peek looks n tokens ahead without consuming anything
func (p *Parser) peek(n int) lexer.Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) at(t lexer.TokenType) bool {
	return p.currentToken.Type == t
}

// atID checks for an identifier with the given text
func (p *Parser) atID(name string) bool {
	return p.currentToken.Type == lexer.ID && p.currentToken.Lexeme == name
}

// accept consumes the current token if it has type t
func (p *Parser) accept(t lexer.TokenType) bool {
	if p.at(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) acceptID(name string) bool {
	if p.atID(name) {
		p.advance()
		return true
	}
	return false
}

// expect consumes a token of type t or fails the current item
func (p *Parser) expect(t lexer.TokenType) lexer.Token {
	if !p.at(t) {
		p.fail("%s", p.categorizeError(t.String(), p.currentToken))
	}
	return p.advance()
}

func (p *Parser) expectID(name string) {
	if !p.acceptID(name) {
		p.fail("%s", p.categorizeError(name, p.currentToken))
	}
}

// expectInt consumes a plain unsigned integer such as an array length
func (p *Parser) expectInt() int {
	tok := p.expect(lexer.NUM)
	n, err := strconv.Atoi(tok.Lexeme)
	if err != nil || n < 0 {
		p.failAt(tok, "Expected integer but found '%s'", tok.Lexeme)
	}
	return n
}

// path reads a '::' separated name
func (p *Parser) path() string {
	name := p.expect(lexer.ID).Lexeme
	for p.at(lexer.PATHSEP) && p.peek(1).Type == lexer.ID {
		p.advance()
		name += "::" + p.advance().Lexeme
	}
	return name
}

func isLocal(tok lexer.Token) bool {
	return tok.Type == lexer.ID && localRegex.MatchString(tok.Lexeme)
}

func isBlock(tok lexer.Token) bool {
	return tok.Type == lexer.ID && blockRegex.MatchString(tok.Lexeme)
}

// isItemStart checks whether a token begins a top level item
func isItemStart(t lexer.TokenType) bool {
	switch t {
	case lexer.FN, lexer.STRUCT, lexer.UNION, lexer.ENUM, lexer.STATIC, lexer.EXTERN, lexer.IMPL:
		return true
	default:
		return false
	}
}
