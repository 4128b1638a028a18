package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDF(t *testing.T) {
	assert.InDelta(t, math.Log(9.5/1.5), IDF(10, 1), 1e-12)
	assert.Greater(t, IDF(10, 1), IDF(10, 3), "rarer lemmas weigh more")
	assert.Less(t, IDF(10, 8), 0.0)
	assert.InDelta(t, 0.0, IDF(10, 5), 1e-12)
}

func TestBM25Monotonic(t *testing.T) {
	p := Params{K1: 1.2, B: 0.75}
	idf := IDF(100, 3)

	t.Run("increases with term frequency", func(t *testing.T) {
		prev := 0.0
		for _, tf := range []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1} {
			score := BM25(tf, idf, 1000, 800, p)
			assert.Greater(t, score, prev, "tf=%v", tf)
			prev = score
		}
	})

	t.Run("decreases with page length", func(t *testing.T) {
		prev := math.Inf(1)
		for _, length := range []float64{100, 500, 1000, 5000, 20000} {
			score := BM25(0.01, idf, length, 800, p)
			assert.Less(t, score, prev, "length=%v", length)
			prev = score
		}
	})

	t.Run("zero term frequency scores zero", func(t *testing.T) {
		assert.Zero(t, BM25(0, idf, 1000, 800, p))
	})

	t.Run("b zero ignores length", func(t *testing.T) {
		flat := Params{K1: 1.2, B: 0}
		assert.InDelta(t, BM25(0.1, idf, 100, 800, flat), BM25(0.1, idf, 10000, 800, flat), 1e-12)
	})

	t.Run("empty corpus average", func(t *testing.T) {
		assert.False(t, math.IsNaN(BM25(0.1, idf, 100, 0, p)))
		assert.False(t, math.IsInf(BM25(0.1, idf, 100, 0, p), 0))
	})
}
