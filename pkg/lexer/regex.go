package lexer

import (
	"regexp"
)

type tokenRegex struct {
	Pattern *regexp.Regexp
	Raw     string
}

const (
	numSuffix = `(_?(i8|i16|i32|i64|i128|isize|u8|u16|u32|u64|u128|usize|f32|f64))?`
	numRaw    = `^(0x[0-9a-fA-F]+|\d+(\.\d+)?([eE][+-]?\d+)?)` + numSuffix
)

func rx(raw string) tokenRegex {
	return tokenRegex{regexp.MustCompile(raw), raw}
}

// Token regex patterns
var tokenRegexes = map[TokenType]tokenRegex{
	FN:     rx(`^fn\b`),
	LET:    rx(`^let\b`),
	MUT:    rx(`^mut\b`),
	STRUCT: rx(`^struct\b`),
	UNION:  rx(`^union\b`),
	ENUM:   rx(`^enum\b`),
	STATIC: rx(`^static\b`),
	EXTERN: rx(`^extern\b`),
	IMPL:   rx(`^impl\b`),
	CONST:  rx(`^const\b`),
	COPY:   rx(`^copy\b`),
	MOVE:   rx(`^move\b`),
	AS:     rx(`^as\b`),
	TRUE:   rx(`^true\b`),
	FALSE:  rx(`^false\b`),

	ELLIPSIS: rx(`^\.\.\.`),
	ARROW:    rx(`^->`),
	FATARROW: rx(`^=>`),
	PATHSEP:  rx(`^::`),
	ASSIGN:   rx(`^=`),
	MINUS:    rx(`^-`),
	STAR:     rx(`^\*`),
	AMP:      rx(`^&`),
	BANG:     rx(`^!`),
	DOT:      rx(`^\.`),

	SEMICOLON: rx(`^;`),
	COMMA:     rx(`^,`),
	COLON:     rx(`^:`),
	LPAREN:    rx(`^\(`),
	RPAREN:    rx(`^\)`),
	LBRACE:    rx(`^\{`),
	RBRACE:    rx(`^\}`),
	LSBRACE:   rx(`^\[`),
	RSBRACE:   rx(`^\]`),

	NUM:    rx(numRaw),
	STRING: rx(`^"([^"\\]|\\.)*"`),
	CHAR:   rx(`^'([^'\\]|\\[^']+)'`),
	ID:     rx(`^[a-zA-Z_][a-zA-Z0-9_]*`),
}

var (
	whitespaceRegex = regexp.MustCompile(`^\s+`)
	commentRegex    = regexp.MustCompile(`^//[^\n]*`)
)

// Token precedence order for matching (longer patterns first)
var tokenPrecedenceOrder = []TokenType{
	STRUCT, STATIC, EXTERN, UNION, CONST, FALSE, ENUM, IMPL, COPY, MOVE, TRUE,
	LET, MUT, FN, AS,
	ELLIPSIS, ARROW, FATARROW, PATHSEP, ASSIGN, MINUS, STAR, AMP, BANG, DOT,
	SEMICOLON, COMMA, COLON, LPAREN, RPAREN, LBRACE, RBRACE, LSBRACE, RSBRACE,
	NUM, STRING, CHAR, ID,
}

// Get the regex pattern for a token type
func (t TokenType) Regex() *regexp.Regexp {
	if regex, ok := tokenRegexes[t]; ok {
		return regex.Pattern
	}

	return nil
}

// Get the raw regex string for a token type
func (t TokenType) RawRegex() string {
	if regex, ok := tokenRegexes[t]; ok {
		return regex.Raw
	}

	return ""
}

// Match the longest token at the start of the string
func MatchToken(s string) (TokenType, string, bool) {
	if s == "" {
		return EOF, "", false
	} else if match := whitespaceRegex.FindString(s); match != "" {
		return EOF, match, true
	} else if match := commentRegex.FindString(s); match != "" {
		return EOF, match, true
	}

	for _, tokenType := range tokenPrecedenceOrder {
		if regex, ok := tokenRegexes[tokenType]; ok {
			if match := regex.Pattern.FindString(s); match != "" {
				return tokenType, match, true
			}
		}
	}

	return ILLEGAL, string(s[0]), false
}

// Check if a byte is a digit
func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
