package lemma

import (
	"fmt"

	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/morphology"
)

// Registry holds one extractor per supported language
type Registry struct {
	extractors map[string]*Extractor
}

// NewRegistry builds extractors for every supported language, extending the
// closed-class lists with the configured words.
func NewRegistry(settings config.MorphologySettings) (*Registry, error) {
	alphabets := map[string]Alphabet{
		config.LanguageEnglish: Latin,
		config.LanguageRussian: Cyrillic,
	}

	r := &Registry{extractors: make(map[string]*Extractor, len(alphabets))}
	for language, alphabet := range alphabets {
		analyzer, err := morphology.NewAnalyzer(language, settings.ClosedClass[language])
		if err != nil {
			return nil, fmt.Errorf("failed to create %s analyzer: %w", language, err)
		}
		r.extractors[language] = NewExtractor(alphabet, analyzer)
	}

	return r, nil
}

// For returns the extractor of language
func (r *Registry) For(language string) (*Extractor, error) {
	e, ok := r.extractors[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", morphology.ErrUnsupportedLanguage, language)
	}
	return e, nil
}
