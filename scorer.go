// ═══════════════════════════════════════════════════════════════════════════════
// RANKING: BM25 Top-K with WAND Pruning
// ═══════════════════════════════════════════════════════════════════════════════
// BM25 scores one document against one query term in one field:
//
//	score(d, t, f) = idf(t, f) · tf·(k1+1) / (tf + k1·(1 − b + b·len/avgLen))
//
//	idf(t, f) = ln( (N − df + 0.5) / (df + 0.5) + 1 ), clamped ≥ 0
//
// The document's total is the boost-weighted sum over fields and terms.
// df and N are corpus-wide, never partition-local, otherwise the same
// document would score differently depending on how many partitions the
// index happens to have.
//
// EXECUTION:
// ----------
// Each partition is evaluated independently (and concurrently): open one
// posting cursor per surviving query term, walk them in doc-id order,
// accumulate each candidate's score, and keep the best k in a min-heap.
// Partition heaps are merged into the global top k at the end.
//
// WAND PRUNING:
// -------------
// Every term has a score ceiling no document can beat:
//
//	ub(t) = weight(t) · idf(t) · (k1 + 1)
//
// because tf·(k1+1)/(tf + K) < k1+1 for any tf and any K > 0. Once the heap
// is full, its minimum is a threshold θ: a document whose summed ceilings
// cannot exceed θ can be skipped without decoding.
//
// With cursors sorted by current doc id, walk the prefix sum of ceilings to
// the first cursor where it exceeds θ: the "pivot". No document before the
// pivot's doc id can beat θ (only cheaper cursors cover that range), so:
//
//	cursors:   [a@17  b@17  c@42  d@90]      ub: 1.2  0.8  2.1  0.4
//	θ = 3.0 →  1.2, 2.0, 4.1 > θ at c  →  pivot doc = 42
//
//	- if the first cursor already sits on 42: score 42 fully, advance
//	- otherwise: seek the lagging first cursor forward to 42, resort
//
// Documents 17..41 were never decoded. When the heap isn't full θ = -1 and
// the pivot is always the first cursor, i.e. plain exhaustive merging.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"container/heap"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// queryTerm is one (field, term) of the normalized query, with everything
// the per-partition loop needs precomputed.
type queryTerm struct {
	field  int
	term   string
	weight float64 // boost · query-side multiplicity
	idf    float64
	ub     float64 // weight · idf · (k1+1)
}

// bm25IDF computes the smoothed inverse document frequency.
func bm25IDF(numDocs uint64, df uint32) float64 {
	n := float64(numDocs)
	d := float64(df)
	idf := math.Log((n-d+0.5)/(d+0.5) + 1.0)
	if idf < 0 {
		return 0
	}
	return idf
}

// ═══════════════════════════════════════════════════════════════════════════════
// BOUNDED RESULT HEAP
// ═══════════════════════════════════════════════════════════════════════════════

// scoredDoc is one ranked result.
type scoredDoc struct {
	score float64
	doc   uint64
}

// beats is the total order on results: higher score wins, equal scores go to
// the lower doc id.
func (a scoredDoc) beats(b scoredDoc) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.doc < b.doc
}

// topKHeap is a min-heap of at most k results: the root is the weakest
// entry, which is also the WAND threshold once the heap is full.
type topKHeap struct {
	items []scoredDoc
	k     int
}

func newTopKHeap(k int) *topKHeap { return &topKHeap{k: k} }

func (h *topKHeap) Len() int           { return len(h.items) }
func (h *topKHeap) Less(i, j int) bool { return h.items[j].beats(h.items[i]) }
func (h *topKHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topKHeap) Push(x any)         { h.items = append(h.items, x.(scoredDoc)) }
func (h *topKHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

// full reports whether the heap holds k results.
func (h *topKHeap) full() bool { return len(h.items) >= h.k }

// threshold is the score a new result must exceed to enter a full heap,
// or -1 while the heap still has room.
func (h *topKHeap) threshold() float64 {
	if !h.full() {
		return -1
	}
	return h.items[0].score
}

// offer inserts a result if it belongs in the top k.
func (h *topKHeap) offer(s scoredDoc) {
	if h.k <= 0 {
		return
	}
	if !h.full() {
		heap.Push(h, s)
		return
	}
	if s.beats(h.items[0]) {
		h.items[0] = s
		heap.Fix(h, 0)
	}
}

// sorted drains the heap into descending-score, ascending-doc-id order.
func (h *topKHeap) sorted() []scoredDoc {
	out := make([]scoredDoc, len(h.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scoredDoc)
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// PER-PARTITION EVALUATION
// ═══════════════════════════════════════════════════════════════════════════════

// scoreCursor pairs a posting cursor with its query term and the tables
// needed to normalize by document length.
type scoreCursor struct {
	pc   postingCursor
	qt   *queryTerm
	fi   *fieldIndex
	rank int // position in the query plan; fixes summation order
}

// contribution computes the cursor's BM25 term for the document under it.
func (c *scoreCursor) contribution(e *Engine) float64 {
	tf := float64(c.pc.termFreq())
	slot := c.pc.docID() / uint64(e.opts.NumPartitions)
	dl := float64(c.fi.lens[slot])
	avg := e.avgLen[c.qt.field]
	norm := 1.0
	if avg > 0 {
		norm = 1 - e.opts.B + e.opts.B*(dl/avg)
	}
	return c.qt.weight * c.qt.idf * tf * (e.opts.K1 + 1) / (tf + e.opts.K1*norm)
}

// evalPartition runs the WAND loop over one partition and returns its local
// top k, unsorted.
func (e *Engine) evalPartition(p *partition, plan []*queryTerm, k int) []scoredDoc {
	cursors := make([]*scoreCursor, 0, len(plan))
	for rank, qt := range plan {
		fi := p.fields[qt.field]
		id, ok := fi.termID(qt.term)
		if !ok {
			continue
		}
		cursors = append(cursors, &scoreCursor{pc: fi.cursor(id), qt: qt, fi: fi, rank: rank})
	}

	results := newTopKHeap(k)
	for len(cursors) > 0 {
		// Order by current doc id; ties by plan rank so that a document's
		// contributions always sum in the same order regardless of how the
		// corpus is partitioned.
		sort.Slice(cursors, func(i, j int) bool {
			if cursors[i].pc.docID() != cursors[j].pc.docID() {
				return cursors[i].pc.docID() < cursors[j].pc.docID()
			}
			return cursors[i].rank < cursors[j].rank
		})

		theta := results.threshold()
		pivot := -1
		ubSum := 0.0
		for i, c := range cursors {
			ubSum += c.qt.ub
			if ubSum > theta {
				pivot = i
				break
			}
		}
		if pivot < 0 {
			// Even all remaining ceilings together can't beat the heap.
			break
		}
		pivotDoc := cursors[pivot].pc.docID()

		if cursors[0].pc.docID() == pivotDoc {
			// Fully score the pivot document: every cursor sitting on it is
			// in the sorted prefix.
			score := 0.0
			i := 0
			for i < len(cursors) && cursors[i].pc.docID() == pivotDoc {
				score += cursors[i].contribution(e)
				cursors[i].pc.advance()
				i++
			}
			results.offer(scoredDoc{score: score, doc: pivotDoc})
		} else {
			// The first cursor lags behind the pivot; everything it would
			// visit on the way can't beat theta.
			cursors[0].pc.seekAtLeast(pivotDoc)
		}

		live := cursors[:0]
		for _, c := range cursors {
			if !c.pc.exhausted() {
				live = append(live, c)
			}
		}
		cursors = live
	}
	return results.items
}

// ═══════════════════════════════════════════════════════════════════════════════
// QUERY PLANNING AND GLOBAL MERGE
// ═══════════════════════════════════════════════════════════════════════════════

// globalDF sums a term's document frequency across all partitions of one
// field. This is the df that idf and QueryMaxDF decisions use.
func (e *Engine) globalDF(field int, term string) uint32 {
	var df uint32
	for _, p := range e.parts {
		if id, ok := p.fields[field].termID(term); ok {
			df += p.fields[field].df[id]
		}
	}
	return df
}

// buildPlan tokenizes the normalized query and precomputes idf and score
// ceilings. Unknown terms and terms over the per-query df cap drop out here,
// before any partition is evaluated.
func (e *Engine) buildPlan(fqs []fieldQuery, cfg searchConfig) []*queryTerm {
	var plan []*queryTerm
	for _, fq := range fqs {
		toks := e.an.tokens(fq.text)
		if len(toks) == 0 {
			continue
		}
		// Fold duplicate query terms into a multiplicity weight.
		mult := make(map[string]uint32, len(toks))
		order := toks[:0]
		for _, t := range toks {
			if mult[t] == 0 {
				order = append(order, t)
			}
			mult[t]++
		}
		boost := cfg.boostFor(e.fields[fq.field])
		for _, term := range order {
			df := e.globalDF(fq.field, term)
			if df == 0 {
				continue
			}
			if cfg.queryMaxDF > 0 && df > cfg.queryMaxDF {
				continue
			}
			idf := bm25IDF(e.numDocs, df)
			w := boost * float64(mult[term])
			plan = append(plan, &queryTerm{
				field:  fq.field,
				term:   term,
				weight: w,
				idf:    idf,
				ub:     w * idf * (e.opts.K1 + 1),
			})
		}
	}
	return plan
}

// topK evaluates a plan over all partitions concurrently and merges the
// partition heaps into the global top k.
func (e *Engine) topK(plan []*queryTerm, k int) []scoredDoc {
	if len(plan) == 0 || k <= 0 {
		return nil
	}

	local := make([][]scoredDoc, len(e.parts))
	var g errgroup.Group
	for i, p := range e.parts {
		i, p := i, p
		g.Go(func() error {
			local[i] = e.evalPartition(p, plan, k)
			return nil
		})
	}
	g.Wait() // workers never fail; the group is for the fan-out

	merged := newTopKHeap(k)
	for _, hits := range local {
		for _, h := range hits {
			merged.offer(h)
		}
	}
	return merged.sorted()
}
