package parser

import (
	"encoding/binary"
	"math"
	"math/big"
	"strconv"
	"strings"

	"snapmir/pkg/lexer"
	"snapmir/pkg/mir"
)

// suffixes in matching order; longer names come first
var suffixes = []string{
	"isize", "usize", "i128", "u128",
	"i16", "i32", "i64", "u16", "u32", "u64", "f32", "f64",
	"i8", "u8",
}

// splitSuffix separates a numeric literal from its type suffix.
// Hex literals need an underscore before a float suffix: 0x1f32 is a number.
func splitSuffix(lex string) (string, string) {
	hexLit := isHex(lex)
	for _, s := range suffixes {
		if !strings.HasSuffix(lex, s) {
			continue
		}
		rest := lex[:len(lex)-len(s)]
		underscore := strings.HasSuffix(rest, "_")
		rest = strings.TrimSuffix(rest, "_")
		if hexLit && !underscore && s[0] == 'f' {
			continue
		}
		switch strings.TrimPrefix(rest, "-") {
		case "", "0x":
			continue
		}
		return rest, s
	}
	return lex, ""
}

func isHex(text string) bool {
	return strings.HasPrefix(strings.TrimPrefix(text, "-"), "0x")
}

func parseInt(text string) (*big.Int, bool) {
	neg := strings.HasPrefix(text, "-")
	digits := strings.TrimPrefix(text, "-")
	base := 10
	if strings.HasPrefix(digits, "0x") {
		base, digits = 16, digits[2:]
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, false
	}
	if neg {
		v.Neg(v)
	}
	return v, true
}

// integer reads the value of an integer literal, ignoring any suffix
func (p *Parser) integer(tok lexer.Token) *big.Int {
	text, _ := splitSuffix(tok.Lexeme)
	v, ok := parseInt(text)
	if !ok {
		p.failAt(tok, "Invalid integer literal '%s'", tok.Lexeme)
	}
	return v
}

// number encodes a numeric literal. The suffix decides the type; without
// one the hint is used if it is numeric, else i32 or f64.
func (p *Parser) number(tok lexer.Token, hint mir.TypeID) *mir.Const {
	text, suffix := splitSuffix(tok.Lexeme)
	hexLit := isHex(text)
	fractional := !hexLit && strings.ContainsAny(text, ".eE")

	ty := hint
	if suffix != "" {
		ty, _ = p.tt.Primitive(suffix)
	}
	t := p.tt.Get(ty)
	p.defaulted = false
	if t == nil || !(t.IsInteger() || t.Kind == mir.KindFloat) || (fractional && t.Kind != mir.KindFloat) {
		if suffix != "" {
			p.failAt(tok, "Literal %s does not match its suffix", tok.Lexeme)
		}
		p.defaulted = true
		if fractional {
			ty = p.tt.Float(64)
		} else {
			ty = p.tt.Int(32)
		}
		t = p.tt.Get(ty)
	}

	c := &mir.Const{Kind: mir.ConstBytes, Type: ty}
	if t.Kind == mir.KindFloat && !hexLit {
		f, err := strconv.ParseFloat(text, t.Bits)
		if err != nil {
			p.failAt(tok, "Invalid float literal '%s'", tok.Lexeme)
		}
		if t.Bits == 32 {
			c.Bytes = binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f)))
		} else {
			c.Bytes = binary.LittleEndian.AppendUint64(nil, math.Float64bits(f))
		}
		return c
	}

	// integers, and floats spelled as their bit pattern
	v, ok := parseInt(text)
	if !ok {
		p.failAt(tok, "Invalid integer literal '%s'", tok.Lexeme)
	}
	signed := t.IsSigned() && !(hexLit && v.Sign() >= 0)
	if !fits(v, t.Bits, signed) {
		p.failAt(tok, "Literal %s out of range for %s", tok.Lexeme, p.tt.String(ty))
	}
	c.Bytes = leBytes(v, t.Bits/8)
	return c
}

func fits(v *big.Int, bits int, signed bool) bool {
	one := big.NewInt(1)
	if signed {
		limit := new(big.Int).Lsh(one, uint(bits-1))
		return v.Cmp(new(big.Int).Neg(limit)) >= 0 && v.Cmp(limit) < 0
	}
	return v.Sign() >= 0 && v.BitLen() <= bits
}

// leBytes encodes v in two's complement, little-endian
func leBytes(v *big.Int, size int) []byte {
	m := new(big.Int).Set(v)
	if m.Sign() < 0 {
		m.Add(m, new(big.Int).Lsh(big.NewInt(1), uint(8*size)))
	}
	b := m.FillBytes(make([]byte, size))
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}
