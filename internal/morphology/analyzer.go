// Package morphology maps words to root forms with the Snowball stemmers
// and classifies functional words per language.
package morphology

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball"
)

// ErrUnsupportedLanguage is returned for languages without a stemmer and word lists
var ErrUnsupportedLanguage = errors.New("unsupported language")

// minWordLength is the shortest word that has a root form
const minWordLength = 2

// Analyzer is the morphology capability for one language
type Analyzer struct {
	language    string
	closedClass map[string]struct{}
}

// NewAnalyzer creates an analyzer for language. extraClosed extends the
// built-in closed-class word list.
func NewAnalyzer(language string, extraClosed []string) (*Analyzer, error) {
	language = strings.ToLower(language)
	words, ok := closedClassWords[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	closed := make(map[string]struct{}, len(words)+len(extraClosed))
	for _, w := range words {
		closed[w] = struct{}{}
	}
	for _, w := range extraClosed {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			closed[w] = struct{}{}
		}
	}

	return &Analyzer{language: language, closedClass: closed}, nil
}

// Language returns the analyzer language
func (a *Analyzer) Language() string {
	return a.language
}

// Normalize returns the root form of a lowercase word, or an empty string
// when the word has none.
func (a *Analyzer) Normalize(word string) (string, error) {
	if utf8.RuneCountInString(word) < minWordLength {
		return "", nil
	}
	root, err := snowball.Stem(word, a.language, true)
	if err != nil {
		return "", fmt.Errorf("failed to stem %q: %w", word, err)
	}
	return root, nil
}

// IsClosedClass reports whether word is an article, preposition,
// conjunction, particle or interjection.
func (a *Analyzer) IsClosedClass(word string) bool {
	_, ok := a.closedClass[word]
	return ok
}
