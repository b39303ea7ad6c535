// Package estimate provides approximate token counts for usage accounting.
//
// The count is a heuristic (words plus standalone punctuation, scaled per
// model family), not a model tokenizer. It is good enough for telemetry and
// rate bookkeeping and must not be treated as billing-grade.
package estimate

import (
	"strings"
	"unicode"
)

// family scales the base estimate for model families whose tokenizers run
// denser or sparser than the word heuristic. Matched case-insensitively by
// substring on the model id; first hit wins.
type family struct {
	match      string
	multiplier float64
}

var families = []family{
	{match: "claude", multiplier: 0.9},
	{match: "llama", multiplier: 1.1},
}

func Multiplier(modelID string) float64 {
	id := strings.ToLower(modelID)
	for _, f := range families {
		if strings.Contains(id, f.match) {
			return f.multiplier
		}
	}
	return 1.0
}

// Tokens estimates the token count of text for the given model. Empty input
// is zero. The scaled result is truncated toward zero.
func Tokens(text, modelID string) int {
	if text == "" {
		return 0
	}
	return int(float64(baseCount(text)) * Multiplier(modelID))
}

// baseCount counts maximal word-character runs plus every non-word,
// non-space character.
func baseCount(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case isWordChar(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			count++
			inWord = false
		}
	}
	return count
}

func isWordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
