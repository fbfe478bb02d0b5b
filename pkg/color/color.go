// Package color styles text for the terminal. The color profile is the one
// termenv detects for stdout, so redirected output stays plain.
package color

import (
	"fmt"
	"os"
	"strings"

	"github.com/muesli/termenv"
)

var (
	profile = termenv.NewOutput(os.Stdout).EnvColorProfile()
	enabled = profile != termenv.Ascii
)

// EnableColor forces styling on or off regardless of the detected terminal.
func EnableColor(enable bool) {
	enabled = enable
	if enable && profile == termenv.Ascii {
		profile = termenv.ANSI
	}
}

func IsColorEnabled() bool {
	return enabled
}

// Profile is the termenv profile styles are rendered with; Ascii when
// styling is off.
func Profile() termenv.Profile {
	if !enabled {
		return termenv.Ascii
	}
	return profile
}

func colorize(c termenv.Color, text string) string {
	if !enabled {
		return text
	}
	return profile.String(text).Foreground(c).String()
}

func RedText(text string) string {
	return colorize(termenv.ANSIRed, text)
}

func BrightRedText(text string) string {
	return colorize(termenv.ANSIBrightRed, text)
}

func GreenText(text string) string {
	return colorize(termenv.ANSIGreen, text)
}

func YellowText(text string) string {
	return colorize(termenv.ANSIYellow, text)
}

func BlueText(text string) string {
	return colorize(termenv.ANSIBlue, text)
}

func CyanText(text string) string {
	return colorize(termenv.ANSICyan, text)
}

func GrayText(text string) string {
	return colorize(termenv.ANSIBrightBlack, text)
}

func BoldText(text string) string {
	if !enabled {
		return text
	}
	return profile.String(text).Bold().String()
}

// Highlight marks every occurrence of highlight inside text.
func Highlight(text, highlight string) string {
	if !enabled || highlight == "" {
		return text
	}
	return strings.ReplaceAll(text, highlight, YellowText(highlight))
}

func Position(line, col int) string {
	return CyanText(fmt.Sprintf("%d:%d", line, col))
}
