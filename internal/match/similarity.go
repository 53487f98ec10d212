package match

import (
	"math"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"
)

// tokenJaccard is the token-set overlap of two token lists.
func tokenJaccard(left, right []string) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	return round6(float64(edlib.JaccardSimilarity(tokenSet(left), tokenSet(right), 0)))
}

// tokenSet joins the distinct tokens with single spaces, the form edlib splits
// on when no shingle length is given.
func tokenSet(tokens []string) string {
	set := slices.Clone(tokens)
	slices.Sort(set)
	return strings.Join(slices.Compact(set), " ")
}

// companySimilarity is 1 for equal canonical keys, otherwise an edit-distance
// ratio. An unknown company on either side scores 0.
func companySimilarity(left, right string) float64 {
	if left == "" || right == "" {
		return 0
	}
	if left == right {
		return 1
	}
	return editRatio(left, right)
}

// locationSimilarity is 1 for the same metro and half the token overlap otherwise.
func locationSimilarity(left, right string) float64 {
	if left == "" || right == "" {
		return 0
	}
	if left == right {
		return 1
	}
	return 0.5 * tokenJaccard(strings.Fields(left), strings.Fields(right))
}

// editRatio is one minus the Levenshtein distance over the longer rune length.
func editRatio(left, right string) float64 {
	if left == right {
		return 1
	}
	sim, err := edlib.StringsSimilarity(left, right, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return round6(float64(sim))
}

// round6 drops the float32 noise edlib's results carry.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
