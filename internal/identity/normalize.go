// Package identity computes the canonical identity key of a show.
//
// Two shows are the same show when their keys are equal. The key is built from
// the season year and the canonical forms of the corps name and the show title:
//
//	1976|phantom regiment|spirit of 76
//
// The canonicalization table below is permanent. Changing it changes which
// shows are considered equivalent and would require re-keying stored data.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MinYear = 1900
	MaxYear = 2100

	// Separator joins the key components. It never survives canonicalization.
	Separator = "|"
)

// ErrInvalidIdentity is returned when a title, corps or year cannot form a key.
var ErrInvalidIdentity = errors.New("invalid show identity")

// substitutions are applied after case folding and diacritic removal.
var substitutions = map[rune]string{
	'&': " and ",
	'ß': "ss",
	'æ': "ae",
	'ø': "o",
	'œ': "oe",
	'ł': "l",
	'đ': "d",
	'ð': "d",
	'þ': "th",
}

// dropped runes vanish without leaving a separator, so "Spirit of '76" and
// "Spirit of 76" share a key.
var dropped = map[rune]bool{
	'\'': true,
	'’':  true,
	'‘':  true,
	'`':  true,
	'´':  true,
	'"':  true,
	'“':  true,
	'”':  true,
}

// Normalize returns the identity key for a show.
func Normalize(title, corps string, year int) (string, error) {
	if year < MinYear || year > MaxYear {
		return "", fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidIdentity, year, MinYear, MaxYear)
	}
	t := CanonicalText(title)
	if t == "" {
		return "", fmt.Errorf("%w: title is empty", ErrInvalidIdentity)
	}
	c := CanonicalText(corps)
	if c == "" {
		return "", fmt.Errorf("%w: corps is empty", ErrInvalidIdentity)
	}
	return strconv.Itoa(year) + Separator + c + Separator + t, nil
}

// CanonicalText folds a single component: diacritics and compatibility forms
// are decomposed and stripped, case is folded, apostrophes are removed and any
// other non-alphanumeric run becomes one space.
func CanonicalText(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	write := func(r rune) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			return
		}
		pendingSpace = true
	}
	for _, r := range folded {
		if dropped[r] {
			continue
		}
		if sub, ok := substitutions[r]; ok {
			for _, sr := range sub {
				write(sr)
			}
			continue
		}
		write(r)
	}
	return b.String()
}

// DisplayText trims and collapses whitespace without altering case or
// punctuation. It is the form stored for display.
func DisplayText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
