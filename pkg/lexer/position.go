package lexer

import "fmt"

// Position locates a token in the MIR source. Line and Column are 1-based;
// Offset is the byte offset from the start of the input.
type Position struct {
	Line   int
	Column int
	Offset int
}

// String renders the position as line:column, the form used in parse errors.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

func NewPosition(line, column, offset int) Position {
	return Position{Line: line, Column: column, Offset: offset}
}
