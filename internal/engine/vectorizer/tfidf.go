// Package vectorizer implements the fixed-vocabulary text transform bundled
// with a model artifact: raw message in, fixed-width TF-IDF vector out.
package vectorizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultPrefix is prepended to vocabulary terms to form feature column names.
const DefaultPrefix = "msg:"

// Config describes a text transform fixed at model-fitting time.
type Config struct {
	Prefix           string             // column name prefix (default "msg:")
	Vocabulary       map[string]float64 // term -> inverse document frequency
	NGramMin         int                // default 1
	NGramMax         int                // default 1
	StopWords        []string           // extra stop words
	EnglishStopWords bool               // apply the built-in English stop list
	SublinearTF      bool               // use 1+ln(tf)
	Norm             string             // "l2" (default), "l1" or "none"
}

// TFIDF transforms messages into TF-IDF vectors over a fixed vocabulary.
// It is immutable after construction and safe for concurrent use.
type TFIDF struct {
	prefix    string
	terms     []string
	index     map[string]int
	idf       []float64
	minN      int
	maxN      int
	stop      map[string]bool
	sublinear bool
	norm      string
}

// New validates cfg and builds the transform. Vocabulary terms are ordered
// lexicographically to fix the column order.
func New(cfg Config) (*TFIDF, error) {
	if len(cfg.Vocabulary) == 0 {
		return nil, errors.New("vectorizer: empty vocabulary")
	}
	minN, maxN := cfg.NGramMin, cfg.NGramMax
	if minN <= 0 {
		minN = 1
	}
	if maxN <= 0 {
		maxN = minN
	}
	if maxN < minN {
		return nil, fmt.Errorf("vectorizer: invalid ngram range [%d, %d]", minN, maxN)
	}
	normKind := strings.ToLower(cfg.Norm)
	switch normKind {
	case "":
		normKind = "l2"
	case "l1", "l2", "none":
	default:
		return nil, fmt.Errorf("vectorizer: unknown norm %q", cfg.Norm)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	terms := make([]string, 0, len(cfg.Vocabulary))
	for term, idf := range cfg.Vocabulary {
		if strings.TrimSpace(term) == "" {
			return nil, errors.New("vectorizer: blank vocabulary term")
		}
		if idf < 0 || math.IsNaN(idf) || math.IsInf(idf, 0) {
			return nil, fmt.Errorf("vectorizer: invalid idf %v for term %q", idf, term)
		}
		terms = append(terms, term)
	}
	sort.Strings(terms)

	v := &TFIDF{
		prefix:    prefix,
		terms:     terms,
		index:     make(map[string]int, len(terms)),
		idf:       make([]float64, len(terms)),
		minN:      minN,
		maxN:      maxN,
		stop:      make(map[string]bool),
		sublinear: cfg.SublinearTF,
		norm:      normKind,
	}
	for i, term := range terms {
		v.index[term] = i
		v.idf[i] = cfg.Vocabulary[term]
	}
	if cfg.EnglishStopWords {
		for _, w := range englishStopWords {
			v.stop[w] = true
		}
	}
	for _, w := range cfg.StopWords {
		v.stop[strings.ToLower(w)] = true
	}
	return v, nil
}

// Dim returns the output width (vocabulary size).
func (v *TFIDF) Dim() int {
	return len(v.terms)
}

// Columns returns the feature column names, one per vocabulary term.
func (v *TFIDF) Columns() []string {
	cols := make([]string, len(v.terms))
	for i, t := range v.terms {
		cols[i] = v.prefix + t
	}
	return cols
}

// Transform returns the TF-IDF vector for text. Terms outside the vocabulary
// are ignored, so the width never changes.
func (v *TFIDF) Transform(text string) []float64 {
	out := make([]float64, len(v.terms))

	tokens := tokenize(text)
	if len(v.stop) > 0 {
		kept := tokens[:0]
		for _, t := range tokens {
			if !v.stop[t] {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}

	for _, g := range ngrams(tokens, v.minN, v.maxN) {
		if i, ok := v.index[g]; ok {
			out[i]++
		}
	}

	for i, tf := range out {
		if tf == 0 {
			continue
		}
		if v.sublinear {
			tf = 1 + math.Log(tf)
		}
		out[i] = tf * v.idf[i]
	}

	normalize(out, v.norm)
	return out
}

func normalize(vec []float64, kind string) {
	var total float64
	switch kind {
	case "l2":
		for _, x := range vec {
			total += x * x
		}
		total = math.Sqrt(total)
	case "l1":
		for _, x := range vec {
			total += math.Abs(x)
		}
	default:
		return
	}
	if total == 0 {
		return
	}
	for i := range vec {
		vec[i] /= total
	}
}
