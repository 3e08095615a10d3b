// Package featurize turns raw word sequences into token feature lists.
package featurize

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options selects the feature templates.
type Options struct {
	MaxAffix    int     // longest prefix and suffix, in runes
	Window      int     // neighbouring words on each side
	DigitRatio  float64 // minimum share of digits for a number pattern
	IncludeBias bool
}

// DefaultOptions returns the templates used by the command line.
func DefaultOptions() Options {
	return Options{
		MaxAffix:    3,
		Window:      1,
		DigitRatio:  0.3,
		IncludeBias: true,
	}
}

// Affixes returns the prefixes and suffixes of s up to maxLen runes,
// shortest first.
func Affixes(s string, maxLen int) (prefixes, suffixes []string) {
	runes := []rune(s)
	for n := 1; n <= maxLen && n <= len(runes); n++ {
		prefixes = append(prefixes, string(runes[:n]))
		suffixes = append(suffixes, string(runes[len(runes)-n:]))
	}
	return prefixes, suffixes
}

// Shape maps upper case letters to A, other letters to a and digits to 0,
// collapsing repeats: "McDonald2" becomes "AaAa0".
func Shape(word string) string {
	var buf strings.Builder
	var last rune
	for _, r := range word {
		c := r
		switch {
		case unicode.IsUpper(r):
			c = 'A'
		case unicode.IsLetter(r):
			c = 'a'
		case unicode.IsDigit(r):
			c = '0'
		}
		if c != last {
			buf.WriteRune(c)
			last = c
		}
	}
	return buf.String()
}

// NumberPattern replaces digits with X and letters with C if at least ratio
// of the runes are digits; otherwise it returns "".
func NumberPattern(text string, ratio float64) string {
	if text == "" {
		return ""
	}
	digits := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if float64(digits)/float64(utf8.RuneCountInString(text)) < ratio {
		return ""
	}
	var buf strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			buf.WriteRune('X')
		case unicode.IsLetter(r):
			buf.WriteRune('C')
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// Token returns the features of words[i].
func Token(words []string, i int, opts Options) []string {
	w := words[i]
	lw := strings.ToLower(w)
	feats := []string{"w=" + lw, "shape=" + Shape(w)}
	if opts.IncludeBias {
		feats = append(feats, "bias")
	}
	prefixes, suffixes := Affixes(lw, opts.MaxAffix)
	for _, p := range prefixes {
		feats = append(feats, "prefix="+p)
	}
	for _, s := range suffixes {
		feats = append(feats, "suffix="+s)
	}
	if p := NumberPattern(w, opts.DigitRatio); p != "" {
		feats = append(feats, "num="+p)
	}
	for d := 1; d <= opts.Window; d++ {
		feats = append(feats, neighbour(words, i, -d), neighbour(words, i, d))
	}
	return feats
}

func neighbour(words []string, i, d int) string {
	j := i + d
	prefix := "w[" + signed(d) + "]="
	switch {
	case j < 0:
		return prefix + "<s>"
	case j >= len(words):
		return prefix + "</s>"
	}
	return prefix + strings.ToLower(words[j])
}

func signed(d int) string {
	if d > 0 {
		return "+" + strconv.Itoa(d)
	}
	return strconv.Itoa(d)
}

// Sequence returns the features of every word.
func Sequence(words []string, opts Options) [][]string {
	out := make([][]string, len(words))
	for i := range words {
		out[i] = Token(words, i, opts)
	}
	return out
}
