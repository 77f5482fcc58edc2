package index

import (
	"math"
	"strings"
	"unicode"
)

// tokenize lower-cases and splits on non-alphanumeric runs, optionally
// applying a light suffix stemmer.
func tokenize(text string, stem bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if !stem {
		return fields
	}
	out := fields[:0]
	for _, f := range fields {
		out = append(out, stemToken(f))
	}
	return out
}

// stemToken strips common English suffixes. Deliberately cruder than a full
// Porter stemmer; recall matters more than precision here.
func stemToken(w string) string {
	for _, suf := range []string{"ingly", "edly", "ing", "ies", "ied", "ed", "es", "s"} {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 3 {
			return w[:len(w)-len(suf)]
		}
	}
	return w
}

// bm25Corpus holds the statistics for BM25 scoring over the current chunk set.
type bm25Corpus struct {
	k1, b  float64
	stem   bool
	docLen []int          // tokens per chunk, indexed by chunk position
	avgLen float64
	df     map[string]int   // term → number of chunks containing it
	tf     []map[string]int // chunk position → term frequencies
}

func buildBM25(chunks []chunkRow, k1, b float64, stem bool) *bm25Corpus {
	c := &bm25Corpus{
		k1:     k1,
		b:      b,
		stem:   stem,
		docLen: make([]int, len(chunks)),
		df:     make(map[string]int),
		tf:     make([]map[string]int, len(chunks)),
	}
	var total int
	for i, ch := range chunks {
		tokens := tokenize(ch.Text, stem)
		c.docLen[i] = len(tokens)
		total += len(tokens)
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		c.tf[i] = freqs
		for t := range freqs {
			c.df[t]++
		}
	}
	if len(chunks) > 0 {
		c.avgLen = float64(total) / float64(len(chunks))
	}
	return c
}

// score computes the BM25 score of the query against chunk position i.
func (c *bm25Corpus) score(queryTokens []string, i int) float64 {
	if c.avgLen == 0 {
		return 0
	}
	n := float64(len(c.tf))
	var s float64
	for _, t := range queryTokens {
		f := float64(c.tf[i][t])
		if f == 0 {
			continue
		}
		df := float64(c.df[t])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		denom := f + c.k1*(1-c.b+c.b*float64(c.docLen[i])/c.avgLen)
		s += idf * f * (c.k1 + 1) / denom
	}
	return s
}

func (c *bm25Corpus) queryTokens(query string) []string {
	return tokenize(query, c.stem)
}
