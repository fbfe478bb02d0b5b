package parser

import (
	"errors"
	"fmt"

	"snapmir/pkg/color"
	"snapmir/pkg/lexer"
)

// ErrSyntax wraps every error ParseProgram reports for malformed input.
var ErrSyntax = errors.New("syntax error")

// bailout unwinds out of the item being parsed after an error was recorded.
type bailout struct{}

// fail records an error at the current token and abandons the current item
func (p *Parser) fail(format string, args ...any) {
	p.failAt(p.currentToken, format, args...)
}

func (p *Parser) failAt(tok lexer.Token, format string, args ...any) {
	p.addErrorAt(tok, fmt.Sprintf(format, args...))
	panic(bailout{})
}

// recoverItem turns a bailout into a skip to the next item
func (p *Parser) recoverItem() {
	r := recover()
	if r == nil {
		return
	}
	if _, ok := r.(bailout); !ok {
		panic(r)
	}
	p.fn = nil
	p.synchronize()
}

// synchronize skips tokens until an item keyword opens a line
func (p *Parser) synchronize() {
	if p.pos == p.itemStart {
		p.advance()
	}
	for !p.at(lexer.EOF) {
		prev := p.tokens[max(p.pos-1, 0)]
		if isItemStart(p.currentToken.Type) && (p.pos == 0 || prev.Pos.Line != p.currentToken.Pos.Line) {
			return
		}
		p.advance()
	}
}

// addError records a parsing error with location
func (p *Parser) addError(msg string) {
	p.addErrorAt(p.currentToken, msg)
}

func (p *Parser) addErrorAt(tok lexer.Token, msg string) {
	pos := tok.Pos
	formatted := color.RedText(msg) + " at " + color.YellowText(fmt.Sprintf("Line: %d, Column %d", pos.Line, pos.Column))
	p.errors = append(p.errors, formatted)
}

// Errors returns the list of parsing errors
func (p *Parser) Errors() []string {
	return p.errors
}

// categorizeError provides a specific error message based on expected symbol and current token
func (p *Parser) categorizeError(expected string, current lexer.Token) string {
	if current.Type == lexer.EOF {
		return fmt.Sprintf("Unexpected end of input, expected '%s'", expected)
	}
	if current.Type == lexer.ILLEGAL {
		return fmt.Sprintf("Illegal character '%s'", current.Lexeme)
	}

	// Delimiters
	switch expected {
	case ")":
		return "Missing closing parenthesis"
	case "}":
		return "Missing closing brace"
	case "]":
		return "Missing closing bracket"
	case "{":
		return "Missing opening brace"
	case ";":
		return "Missing semicolon"
	case "=":
		return "Missing assignment operator"
	case "->":
		return "Missing arrow"
	case "(":
		if current.Type == lexer.LBRACE {
			return "Wrong bracket type - expected parenthesis"
		}
		return "Missing opening parenthesis"
	}

	// Identifiers and literals
	switch expected {
	case "id":
		if current.Type.GetCategory() == lexer.KEYWORD {
			return "Cannot use reserved keyword as identifier"
		}
		return "Expected identifier"
	case "num":
		return "Expected number"
	case "string":
		if current.Type == lexer.ID {
			return "Missing quotes around string"
		}
		return "Expected string"
	}

	return fmt.Sprintf("Expected '%s' but found '%s'", expected, current.Lexeme)
}
