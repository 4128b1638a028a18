package search

import "math"

// Params are the BM25 parameters
type Params struct {
	K1 float64 // term frequency saturation
	B  float64 // length normalization, 0 disables it
}

// IDF weighs a lemma found on df of n pages. Rare lemmas weigh more; a
// lemma on more than half of the pages weighs less than zero.
func IDF(n, df int) float64 {
	return math.Log((float64(n) - float64(df) + 0.5) / (float64(df) + 0.5))
}

// BM25 scores one lemma on one page. tf is the page-length normalized term
// frequency; avgLen is the average page length of the corpus.
func BM25(tf, idf, pageLen, avgLen float64, p Params) float64 {
	ratio := 1.0
	if avgLen > 0 {
		ratio = pageLen / avgLen
	}
	return idf * (tf * (p.K1 + 1)) / (tf + p.K1*(1-p.B+p.B*ratio))
}
