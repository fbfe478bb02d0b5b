package color_test

import (
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"snapmir/pkg/color"
)

func TestEnableColor(t *testing.T) {
	prev := color.IsColorEnabled()
	t.Cleanup(func() { color.EnableColor(prev) })

	color.EnableColor(false)
	assert.Equal(t, "boom", color.RedText("boom"))
	assert.Equal(t, "at main", color.Highlight("at main", "main"))
	assert.Equal(t, termenv.Ascii, color.Profile())

	color.EnableColor(true)
	red := color.RedText("boom")
	assert.Contains(t, red, "\x1b[")
	assert.Contains(t, red, "boom")
	assert.NotEqual(t, "at main", color.Highlight("at main", "main"))
	assert.Equal(t, "3:4", stripANSI(color.Position(3, 4)))
}

func stripANSI(s string) string {
	out := []rune{}
	skip := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			skip = true
		case skip && r == 'm':
			skip = false
		case !skip:
			out = append(out, r)
		}
	}
	return string(out)
}
