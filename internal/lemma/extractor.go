// Package lemma turns page content and query text into root-form counts.
package lemma

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/masahif/lemmasearch/internal/parser"
)

// Morphology normalizes words and recognizes functional words
type Morphology interface {
	Normalize(word string) (string, error)
	IsClosedClass(word string) bool
}

// Alphabet is the set of lowercase letters words are made of
type Alphabet struct {
	Name  string
	First rune
	Last  rune
	Extra []rune
}

var (
	Latin    = Alphabet{Name: "latin", First: 'a', Last: 'z'}
	Cyrillic = Alphabet{Name: "cyrillic", First: 'а', Last: 'я', Extra: []rune{'ё'}}
)

// Contains reports whether the lowercase rune r belongs to the alphabet
func (a Alphabet) Contains(r rune) bool {
	if r >= a.First && r <= a.Last {
		return true
	}
	for _, e := range a.Extra {
		if r == e {
			return true
		}
	}
	return false
}

// Span is a word of the alphabet inside a text
type Span struct {
	Start int    // byte offset of the first rune
	End   int    // byte offset past the last rune
	Word  string // lowercase
}

// Extractor is the lemma extractor for one language
type Extractor struct {
	alphabet Alphabet
	morph    Morphology
}

// NewExtractor creates an extractor for words of alphabet
func NewExtractor(alphabet Alphabet, morph Morphology) *Extractor {
	return &Extractor{alphabet: alphabet, morph: morph}
}

// StripMarkup returns the visible text of raw page content
func (e *Extractor) StripMarkup(content string) string {
	return parser.Text(content)
}

// Tokenize lowercases text and splits it into words of the alphabet.
// Every other character separates words.
func (e *Extractor) Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if e.alphabet.Contains(r) {
			return r
		}
		return ' '
	}, text)
	return strings.Fields(cleaned)
}

// Spans returns the words of text with their byte positions in text
func (e *Extractor) Spans(text string) []Span {
	var spans []Span
	start := -1
	var word strings.Builder

	for i, r := range text {
		lower := unicode.ToLower(r)
		if e.alphabet.Contains(lower) {
			if start < 0 {
				start = i
				word.Reset()
			}
			word.WriteRune(lower)
			continue
		}
		if start >= 0 {
			spans = append(spans, Span{Start: start, End: i, Word: word.String()})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, Span{Start: start, End: len(text), Word: word.String()})
	}

	return spans
}

// IsClosedClass reports whether word is a functional word excluded from indexing
func (e *Extractor) IsClosedClass(word string) bool {
	return e.morph.IsClosedClass(word)
}

// Normalize returns the root form of word, or an empty string when the
// word is closed-class or has no root form.
func (e *Extractor) Normalize(word string) string {
	if word == "" || e.morph.IsClosedClass(word) {
		return ""
	}
	root, err := e.morph.Normalize(word)
	if err != nil {
		slog.Debug("Morphology lookup failed", "word", word, "error", err)
		return ""
	}
	return root
}

// CollectLemmas counts the occurrences of each root form in text
func (e *Extractor) CollectLemmas(text string) map[string]int {
	lemmas := make(map[string]int)
	for _, word := range e.Tokenize(text) {
		if root := e.Normalize(word); root != "" {
			lemmas[root]++
		}
	}
	return lemmas
}
