package lexer_test

import (
	"testing"

	"snapmir/pkg/lexer"
)

func TestNumbers(t *testing.T) {
	tests := []struct {
		input       string
		expected    lexer.TokenType
		description string
	}{
		{"42", lexer.NUM, "integer"},
		{"0", lexer.NUM, "zero"},
		{"5_i32", lexer.NUM, "integer with suffix"},
		{"255u8", lexer.NUM, "integer with bare suffix"},
		{"18446744073709551615_u128", lexer.NUM, "wide integer"},
		{"3_usize", lexer.NUM, "pointer sized integer"},

		{"3.14", lexer.NUM, "simple float"},
		{"0.5_f32", lexer.NUM, "float with suffix"},
		{"2.5e10", lexer.NUM, "float with scientific notation"},
		{"3.14E-2_f64", lexer.NUM, "float with negative exponent and suffix"},

		{"0xff", lexer.NUM, "hex"},
		{"0x7fc00000_f32", lexer.NUM, "hex float bits"},
		{"0xFFFF_u16", lexer.NUM, "upper case hex with suffix"},
	}

	for _, test := range tests {
		tokenType, lexeme, matched := lexer.MatchToken(test.input)
		if !matched {
			t.Errorf("Failed to match %s (%s)", test.input, test.description)
		}
		if tokenType != test.expected {
			t.Errorf("Input %s (%s): expected %s, got %s", test.input, test.description, test.expected, tokenType)
		}
		if lexeme != test.input {
			t.Errorf("Input %s (%s): expected lexeme %s, got %s", test.input, test.description, test.input, lexeme)
		}
	}
}

func TestNegativeLiterals(t *testing.T) {
	mylexer := lexer.NewLexer("_1 = const -1000_i32; goto -> bb1; _2[-1 of 3]")
	var nums []string
	for tok := mylexer.NextToken(); tok.Type != lexer.EOF; tok = mylexer.NextToken() {
		if tok.Type == lexer.NUM {
			nums = append(nums, tok.Literal)
		}
		if tok.Type == lexer.MINUS {
			t.Errorf("unexpected bare minus at %s", tok.Pos)
		}
	}
	if len(nums) != 3 || nums[0] != "-1000_i32" || nums[1] != "-1" || nums[2] != "3" {
		t.Errorf("unexpected numbers %v", nums)
	}
}
