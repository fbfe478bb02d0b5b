package lexer_test

import (
	"testing"

	"snapmir/pkg/lexer"
)

func TestComments(t *testing.T) {
	input := `// leading comment
let _1: i32; // trailing comment
// comment between items
let mut _2: f64;`

	mylexer := lexer.NewLexer(input)
	expectedTokens := []lexer.TokenType{
		lexer.LET, lexer.ID, lexer.COLON, lexer.ID, lexer.SEMICOLON,
		lexer.LET, lexer.MUT, lexer.ID, lexer.COLON, lexer.ID, lexer.SEMICOLON,
		lexer.EOF,
	}

	for i, expected := range expectedTokens {
		token := mylexer.NextToken()
		if token.Type != expected {
			t.Errorf("Token %d: expected %s, got %s", i, expected, token.Type)
		}
	}
}

func TestPositions(t *testing.T) {
	mylexer := lexer.NewLexer("fn main() {\n    return;\n}")
	var ret lexer.Token
	for tok := mylexer.NextToken(); tok.Type != lexer.EOF; tok = mylexer.NextToken() {
		if tok.Lexeme == "return" {
			ret = tok
		}
	}
	if ret.Pos.Line != 2 || ret.Pos.Column != 5 {
		t.Errorf("expected return at 2:5, got %d:%d", ret.Pos.Line, ret.Pos.Column)
	}
	if ret.Pos.String() != "2:5" || ret.Pos.Offset != 16 {
		t.Errorf("expected 2:5 at offset 16, got %s at offset %d", ret.Pos, ret.Pos.Offset)
	}
}
