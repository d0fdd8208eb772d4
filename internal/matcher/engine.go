// Package matcher implements the keyword-to-announcement matching engine.
package matcher

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"keyword_alerts/internal/model"
)

// MaxPatternLength is the longest keyword pattern accepted, in runes.
const MaxPatternLength = 100

// ErrEmptyPattern is returned for patterns that are empty after normalization.
var ErrEmptyPattern = errors.New("pattern is empty")

// ErrPatternTooLong is returned for patterns longer than MaxPatternLength.
var ErrPatternTooLong = fmt.Errorf("pattern is longer than %d characters", MaxPatternLength)

var letterFolds = strings.NewReplacer(
	"ة", "ه",
	"ى", "ي",
	"ـ", "",
)

// Normalize folds text into the form used for comparison: lower case, without
// diacritics or Arabic letter variants, with single spaces between words.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = letterFolds.Replace(strings.ToLower(folded))
	return strings.Join(strings.Fields(folded), " ")
}

// ValidatePattern checks a keyword pattern before it is stored.
func ValidatePattern(pattern string) error {
	if utf8.RuneCountInString(strings.TrimSpace(pattern)) > MaxPatternLength {
		return ErrPatternTooLong
	}
	if Normalize(pattern) == "" {
		return ErrEmptyPattern
	}
	return nil
}

// Match returns the IDs of enabled keywords whose pattern occurs in the
// announcement text. The result is sorted and holds no duplicates.
func Match(a model.Announcement, keywords []model.Keyword) []int64 {
	text := Normalize(a.Text())
	if text == "" {
		return nil
	}

	var ids []int64
	for _, k := range keywords {
		if !k.Enabled {
			continue
		}
		if matches(text, k.Pattern) {
			ids = append(ids, k.ID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func matches(normalizedText, pattern string) bool {
	p := Normalize(pattern)
	if p == "" {
		return false
	}
	return strings.Contains(normalizedText, p)
}
