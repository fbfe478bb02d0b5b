package bridge

import (
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Suggest returns the candidate closest to name, if any is close enough to
// be a plausible typo.
func Suggest(name string, candidates []string) (string, bool) {
	nameRunes := []rune(name)
	best, bestDist := "", len(nameRunes)/2+1

	for _, c := range candidates {
		if c == name {
			continue
		}
		d := levenshtein.DistanceForStrings(nameRunes, []rune(c), levenshtein.DefaultOptions)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, best != ""
}
