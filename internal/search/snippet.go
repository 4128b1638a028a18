package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/masahif/lemmasearch/internal/lemma"
)

const (
	emphasisOpen  = "<b>"
	emphasisClose = "</b>"
	ellipsis      = "..."
)

var sentenceEnd = regexp.MustCompile(`[.!?…]+\s+`)

// Term is a query lemma with its document frequency and weight
type Term struct {
	Lemma     string
	Frequency int
	IDF       float64
}

// SnippetOptions bound the snippet size in characters
type SnippetOptions struct {
	Length         int // total budget
	SentenceLength int // per sentence
}

type sentence struct {
	text    string
	weights []int // ascending document frequencies of the matched lemmas
	index   int
}

// Snippet builds a snippet from plain text: sentences containing query
// lemmas, rarest lemmas first, with matches wrapped in <b></b>, each
// cropped around its first match, until the length budget is reached.
func Snippet(text string, terms []Term, ex *lemma.Extractor, opts SnippetOptions) string {
	frequencies := make(map[string]int, len(terms))
	for _, t := range terms {
		frequencies[t.Lemma] = t.Frequency
	}

	var sentences []sentence
	for i, s := range splitSentences(text) {
		marked, matched := emphasize(s, ex, frequencies)
		if len(matched) == 0 {
			continue
		}
		weights := make([]int, 0, len(matched))
		for l := range matched {
			weights = append(weights, frequencies[l])
		}
		sort.Ints(weights)
		sentences = append(sentences, sentence{text: marked, weights: weights, index: i})
	}

	sort.SliceStable(sentences, func(i, j int) bool {
		return sentenceLess(sentences[i], sentences[j])
	})

	var sb strings.Builder
	length := 0
	for _, s := range sentences {
		if length >= opts.Length {
			break
		}
		cropped := CropSentence(s.text, opts.SentenceLength)
		if sb.Len() > 0 {
			sb.WriteByte(' ')
			length++
		}
		sb.WriteString(cropped)
		length += visibleLength(cropped)
	}
	return sb.String()
}

// sentenceLess orders sentences by their rarest matches, then by the
// number of distinct matches, then by position
func sentenceLess(a, b sentence) bool {
	for k := 0; k < len(a.weights) && k < len(b.weights); k++ {
		if a.weights[k] != b.weights[k] {
			return a.weights[k] < b.weights[k]
		}
	}
	if len(a.weights) != len(b.weights) {
		return len(a.weights) > len(b.weights)
	}
	return a.index < b.index
}

// emphasize wraps the words of s whose root form is a query lemma and
// returns the matched lemmas
func emphasize(s string, ex *lemma.Extractor, lemmas map[string]int) (string, map[string]bool) {
	matched := make(map[string]bool)
	var sb strings.Builder
	last := 0
	for _, span := range ex.Spans(s) {
		root := ex.Normalize(span.Word)
		if _, ok := lemmas[root]; root == "" || !ok {
			continue
		}
		matched[root] = true
		sb.WriteString(s[last:span.Start])
		sb.WriteString(emphasisOpen)
		sb.WriteString(s[span.Start:span.End])
		sb.WriteString(emphasisClose)
		last = span.End
	}
	sb.WriteString(s[last:])
	return sb.String(), matched
}

func splitSentences(text string) []string {
	var sentences []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		start := 0
		for _, loc := range sentenceEnd.FindAllStringIndex(line, -1) {
			add(line[start:loc[1]])
			start = loc[1]
		}
		add(line[start:])
	}
	return sentences
}

// CropSentence shortens a sentence to at most limit visible characters around
// its first emphasized word, cutting at spaces and marking each cut side
// with an ellipsis. Sentences within limit are returned verbatim. A first
// emphasized word longer than limit is kept whole.
func CropSentence(s string, limit int) string {
	if limit <= 0 || visibleLength(s) <= limit {
		return s
	}

	words := strings.Fields(s)
	focus := 0
	for i, w := range words {
		if strings.Contains(w, emphasisOpen) {
			focus = i
			break
		}
	}

	lo, hi := focus, focus+1
	length := visibleLength(words[focus])
	for {
		grown := false
		if hi < len(words) {
			if n := visibleLength(words[hi]) + 1; length+n <= limit {
				length += n
				hi++
				grown = true
			}
		}
		if lo > 0 {
			if n := visibleLength(words[lo-1]) + 1; length+n <= limit {
				length += n
				lo--
				grown = true
			}
		}
		if !grown {
			break
		}
	}

	cropped := strings.Join(words[lo:hi], " ")
	if lo > 0 {
		cropped = ellipsis + cropped
	}
	if hi < len(words) {
		cropped += ellipsis
	}
	return cropped
}

func visibleLength(s string) int {
	n := utf8.RuneCountInString(s)
	n -= strings.Count(s, emphasisOpen) * len(emphasisOpen)
	n -= strings.Count(s, emphasisClose) * len(emphasisClose)
	return n
}
