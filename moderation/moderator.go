package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// leet folds the usual digit and symbol substitutions back to letters.
var leet = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
}

// Moderator masks forbidden words in text bodies. Matching ignores case,
// punctuation, spacing and leet substitutions.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// folded is a text reduced to its searchable letters. origin[i] is the index
// in the original runes of letters[i].
type folded struct {
	letters []rune
	origin  []int
}

func NewModerator(words []string, replacement rune) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		if f := fold([]rune(word)); len(f.letters) > 0 {
			patterns = append(patterns, f.letters)
		}
	}

	matcher := new(goahocorasick.Machine)
	if err := matcher.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: matcher, replacement: replacement}, nil
}

// Censor returns the masked text and the dictionary words it matched.
// Everything around a match is kept as is.
func (m *Moderator) Censor(text string) (string, []string) {
	runes := []rune(text)
	f := fold(runes)
	if len(f.letters) == 0 {
		return text, nil
	}
	hits := m.matcher.MultiPatternSearch(f.letters, false)
	if len(hits) == 0 {
		return text, nil
	}

	words := make([]string, 0, len(hits))
	for _, hit := range hits {
		last := hit.Pos + len(hit.Word) - 1
		if hit.Pos < 0 || last >= len(f.origin) {
			continue
		}
		for i := f.origin[hit.Pos]; i <= f.origin[last]; i++ {
			runes[i] = m.replacement
		}
		words = append(words, string(hit.Word))
	}
	return string(runes), words
}

func fold(runes []rune) folded {
	f := folded{letters: make([]rune, 0, len(runes)), origin: make([]int, 0, len(runes))}
	for i, r := range runes {
		if plain, ok := leet[r]; ok {
			r = plain
		}
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		f.letters = append(f.letters, unicode.ToLower(r))
		f.origin = append(f.origin, i)
	}
	return f
}
