package lexer

import (
	"fmt"
)

type TokenType int
type TokenCategory int

type Token struct {
	Type    TokenType // Type of the token
	Lexeme  string    // Actual string from source code
	Literal string    // Literal value (if applicable), empty string if not
	Pos     Position  // Position in source code
}

// NewToken creates a new Token instance
func NewToken(tokenType TokenType, lexeme string, literal string, Pos Position) Token {
	return Token{
		Type:    tokenType,
		Lexeme:  lexeme,
		Literal: literal,
		Pos:     Pos,
	}
}

const (
	NONE TokenCategory = iota
	KEYWORD
	IDENTIFIER
	LITERAL
	OPERATOR
	DELIMITER
)

const (
	EOF TokenType = iota // End of file

	FN     // fn
	LET    // let
	MUT    // mut
	STRUCT // struct
	UNION  // union
	ENUM   // enum
	STATIC // static
	EXTERN // extern
	IMPL   // impl
	CONST  // const
	COPY   // copy
	MOVE   // move
	AS     // as
	TRUE   // true
	FALSE  // false

	ID     // identifier, local (_1) or block (bb0)
	NUM    // number with optional type suffix
	STRING // string literal
	CHAR   // char literal

	ARROW    // ->
	FATARROW // =>
	PATHSEP  // ::
	ELLIPSIS // ...
	ASSIGN   // =
	MINUS    // -
	STAR     // *
	AMP      // &
	BANG     // !
	DOT      // .

	SEMICOLON // ;
	COMMA     // ,
	COLON     // :
	LPAREN    // (
	RPAREN    // )
	LBRACE    // {
	RBRACE    // }
	LSBRACE   // [
	RSBRACE   // ]

	ILLEGAL // illegal token
)

var Keywords = map[string]TokenType{
	"fn":     FN,
	"let":    LET,
	"mut":    MUT,
	"struct": STRUCT,
	"union":  UNION,
	"enum":   ENUM,
	"static": STATIC,
	"extern": EXTERN,
	"impl":   IMPL,
	"const":  CONST,
	"copy":   COPY,
	"move":   MOVE,
	"as":     AS,
	"true":   TRUE,
	"false":  FALSE,
}

var tokenNames = map[TokenType]string{
	FN:        "fn",
	LET:       "let",
	MUT:       "mut",
	STRUCT:    "struct",
	UNION:     "union",
	ENUM:      "enum",
	STATIC:    "static",
	EXTERN:    "extern",
	IMPL:      "impl",
	CONST:     "const",
	COPY:      "copy",
	MOVE:      "move",
	AS:        "as",
	TRUE:      "true",
	FALSE:     "false",
	ARROW:     "->",
	FATARROW:  "=>",
	PATHSEP:   "::",
	ELLIPSIS:  "...",
	ASSIGN:    "=",
	MINUS:     "-",
	STAR:      "*",
	AMP:       "&",
	BANG:      "!",
	DOT:       ".",
	SEMICOLON: ";",
	COMMA:     ",",
	COLON:     ":",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACE:    "{",
	RBRACE:    "}",
	LSBRACE:   "[",
	RSBRACE:   "]",
	ID:        "id",
	NUM:       "num",
	STRING:    "string",
	CHAR:      "char",
	ILLEGAL:   "illegal",
	EOF:       "$",
}

// TokenToString converts a TokenType to its string representation
func (t Token) TokenToString() (string, bool) {
	str, ok := tokenNames[t.Type]
	return str, ok
}

// String returns a string representation of the Token
func (t Token) String() string {
	if t.Literal == "" {
		return fmt.Sprintf("T_{%s, %v, nil, %s}",
			t.Type, t.Lexeme, t.Pos.String())
	}

	return fmt.Sprintf("T_{%s, %v, %q, %s}",
		t.Type, t.Lexeme, t.Literal, t.Pos.String())
}

// String returns a string representation of the TokenType
func (t TokenType) String() string {
	if str, ok := (Token{Type: t}).TokenToString(); ok {
		return str
	}

	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// GetCategory returns the category of the token
func (t TokenType) GetCategory() TokenCategory {
	switch t {
	case FN, LET, MUT, STRUCT, UNION, ENUM, STATIC, EXTERN, IMPL, CONST, COPY, MOVE, AS, TRUE, FALSE:
		return KEYWORD
	case ID:
		return IDENTIFIER
	case NUM, STRING, CHAR:
		return LITERAL
	case ARROW, FATARROW, PATHSEP, ELLIPSIS, ASSIGN, MINUS, STAR, AMP, BANG, DOT:
		return OPERATOR
	case SEMICOLON, COMMA, COLON, LPAREN, RPAREN, LBRACE, RBRACE, LSBRACE, RSBRACE:
		return DELIMITER
	default:
		return NONE
	}
}

// IsKeyword checks if the given identifier is a keyword and returns its TokenType if it is
func IsKeyword(identifier string) (TokenType, bool) {
	tokenType, ok := Keywords[identifier]
	return tokenType, ok
}
