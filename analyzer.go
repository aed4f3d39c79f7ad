// ═══════════════════════════════════════════════════════════════════════════════
// TEXT ANALYSIS
// ═══════════════════════════════════════════════════════════════════════════════
// Analysis turns a raw field value into the token stream that gets indexed.
// The exact same pipeline runs on queries, so the two sides always agree on
// what a "term" is.
//
// THE PIPELINE:
// -------------
//  1. Split          → any run of non-alphanumeric runes is a separator
//  2. Lowercase      → Unicode-aware ("Fox" and "fox" collapse)
//  3. Stopword drop  → tokens in the configured stopword set vanish
//  4. Length cap     → tokens longer than MaxTokenLength bytes vanish
//
// EXAMPLE:
// --------
// Input:  "The Wall - Pink Floyd (1979)"
// Step 1: ["The", "Wall", "Pink", "Floyd", "1979"]
// Step 2: ["the", "wall", "pink", "floyd", "1979"]
// Step 3: ["wall", "pink", "floyd", "1979"]        (with english stopwords)
//
// A document's field length, for BM25 normalization, is the token count AFTER
// filtering: the example above contributes length 4, not 5.
//
// There is deliberately no stemming: "walls" and "wall" are distinct terms.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"sort"
	"strings"
	"unicode"
)

// analyzer is the frozen tokenization configuration shared by build and query.
type analyzer struct {
	stopwords map[string]struct{}
	maxLen    int
}

func newAnalyzer(opts Options) *analyzer {
	a := &analyzer{
		stopwords: make(map[string]struct{}, len(opts.Stopwords)),
		maxLen:    opts.MaxTokenLength,
	}
	for _, w := range opts.Stopwords {
		a.stopwords[strings.ToLower(w)] = struct{}{}
	}
	return a
}

// tokens runs the full pipeline on one field value. The length of the
// returned slice is the document's field length for BM25 purposes.
func (a *analyzer) tokens(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	// Filter in place: the split slice is already ours.
	out := raw[:0]
	for _, tok := range raw {
		tok = strings.ToLower(tok)
		if len(tok) > a.maxLen {
			continue
		}
		if _, drop := a.stopwords[tok]; drop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// termCounts tokenizes one field value into per-term frequencies. The second
// return is the post-filter token count.
func (a *analyzer) termCounts(text string, into map[string]uint32) uint32 {
	toks := a.tokens(text)
	for _, tok := range toks {
		into[tok]++
	}
	return uint32(len(toks))
}

// stopwordList returns the configured stopwords in sorted order, for
// deterministic serialization.
func (a *analyzer) stopwordList() []string {
	out := make([]string, 0, len(a.stopwords))
	for w := range a.stopwords {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
