// ═══════════════════════════════════════════════════════════════════════════════
// QUERY FORMS
// ═══════════════════════════════════════════════════════════════════════════════
// A query arrives in one of three shapes and is normalized on entry into a
// flat list of (field index, text) pairs:
//
//	Broadcast("pink floyd")                  → every indexed field gets the string
//	Positional("the wall", "pink floyd")     → matched to fields by position
//	Named(map{"artist": "pink floyd"})       → matched to fields by name
//
// Everything downstream (planning, scoring, the boolean builder) works on
// the normalized form only.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
)

type queryKind int

const (
	queryBroadcast queryKind = iota
	queryPositional
	queryNamed
)

// Query is a tagged search input. Construct one with Broadcast, Positional
// or Named.
type Query struct {
	kind       queryKind
	broadcast  string
	positional []string
	named      map[string]string
}

// Broadcast applies one string to every indexed field.
func Broadcast(text string) Query {
	return Query{kind: queryBroadcast, broadcast: text}
}

// Positional supplies one string per indexed field, in field order.
func Positional(texts ...string) Query {
	return Query{kind: queryPositional, positional: texts}
}

// Named supplies strings for a subset of fields by name.
func Named(byField map[string]string) Query {
	return Query{kind: queryNamed, named: byField}
}

// fieldQuery is the normalized unit: one string aimed at one field.
type fieldQuery struct {
	field int
	text  string
}

// normalize resolves a Query against the engine's field list.
func (e *Engine) normalize(q Query) ([]fieldQuery, error) {
	switch q.kind {
	case queryBroadcast:
		out := make([]fieldQuery, len(e.fields))
		for i := range e.fields {
			out[i] = fieldQuery{field: i, text: q.broadcast}
		}
		return out, nil

	case queryPositional:
		if len(q.positional) != len(e.fields) {
			return nil, fmt.Errorf("%w: positional query has %d strings, index has %d fields",
				ErrFormat, len(q.positional), len(e.fields))
		}
		out := make([]fieldQuery, len(q.positional))
		for i, text := range q.positional {
			out[i] = fieldQuery{field: i, text: text}
		}
		return out, nil

	case queryNamed:
		// Deterministic field order regardless of map iteration.
		out := make([]fieldQuery, 0, len(q.named))
		for i, name := range e.fields {
			text, ok := q.named[name]
			if !ok {
				continue
			}
			out = append(out, fieldQuery{field: i, text: text})
		}
		if len(out) != len(q.named) {
			for name := range q.named {
				if e.fieldIndexOf(name) < 0 {
					return nil, fmt.Errorf("%w: unknown query field %q", ErrFormat, name)
				}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown query kind", ErrFormat)
}

func (e *Engine) fieldIndexOf(name string) int {
	for i, f := range e.fields {
		if f == name {
			return i
		}
	}
	return -1
}

// ═══════════════════════════════════════════════════════════════════════════════
// BOOLEAN QUERY BUILDER
// ═══════════════════════════════════════════════════════════════════════════════
// A fluent API for set-algebra queries over the frozen index, evaluated on
// roaring bitmaps of document ids:
//
//	docs, err := engine.NewQueryBuilder().
//	    Term("artist", "pink").
//	    And().
//	    Not().Term("title", "wall").
//	    Execute()
//
// Term decodes the term's posting lists (all partitions) into a bitmap;
// And/Or/Not combine bitmaps directly. Rank(k) BM25-scores the surviving
// candidate set with the builder's positive terms, so boolean filtering and
// relevance ranking compose:
//
//	scores, ids, err := engine.NewQueryBuilder().
//	    Term("title", "wall").Or().Term("title", "moon").
//	    Rank(10)
// ═══════════════════════════════════════════════════════════════════════════════

type boolOp int

const (
	opNone boolOp = iota
	opAnd
	opOr
)

// QueryBuilder accumulates a boolean expression left to right. It is only
// valid against a frozen engine.
type QueryBuilder struct {
	e      *Engine
	stack  []*roaring64.Bitmap
	pend   boolOp
	negate bool
	terms  []fieldQuery // positive terms, kept for Rank
	err    error
}

// NewQueryBuilder starts an empty boolean query.
func (e *Engine) NewQueryBuilder() *QueryBuilder {
	qb := &QueryBuilder{e: e}
	if !e.frozen {
		qb.err = fmt.Errorf("%w: boolean query before finalize", ErrState)
	}
	return qb
}

// Term pushes the document set of one analyzed term in one field. The text
// runs through the same analyzer as indexing; only its first token is used.
func (qb *QueryBuilder) Term(field, text string) *QueryBuilder {
	if qb.err != nil {
		return qb
	}
	fidx := qb.e.fieldIndexOf(field)
	if fidx < 0 {
		qb.err = fmt.Errorf("%w: unknown field %q", ErrFormat, field)
		return qb
	}
	toks := qb.e.an.tokens(text)
	if len(toks) == 0 {
		qb.push(roaring64.New())
		return qb
	}
	term := toks[0]
	if !qb.negate {
		qb.terms = append(qb.terms, fieldQuery{field: fidx, text: term})
	}
	bm := qb.e.termBitmap(fidx, term)
	if qb.negate {
		bm = qb.complement(bm)
		qb.negate = false
	}
	qb.push(bm)
	return qb
}

// And marks the next operand to intersect with the result so far.
func (qb *QueryBuilder) And() *QueryBuilder {
	qb.pend = opAnd
	return qb
}

// Or marks the next operand to union with the result so far.
func (qb *QueryBuilder) Or() *QueryBuilder {
	qb.pend = opOr
	return qb
}

// Not complements the next term.
func (qb *QueryBuilder) Not() *QueryBuilder {
	qb.negate = true
	return qb
}

// Group evaluates a sub-expression with its own operator context and pushes
// its result as a single operand.
func (qb *QueryBuilder) Group(build func(*QueryBuilder)) *QueryBuilder {
	if qb.err != nil {
		return qb
	}
	sub := &QueryBuilder{e: qb.e}
	build(sub)
	if sub.err != nil {
		qb.err = sub.err
		return qb
	}
	bm, err := sub.Execute()
	if err != nil {
		qb.err = err
		return qb
	}
	qb.terms = append(qb.terms, sub.terms...)
	if qb.negate {
		bm = qb.complement(bm)
		qb.negate = false
	}
	qb.push(bm)
	return qb
}

// Execute reduces the expression to a single document-id bitmap.
func (qb *QueryBuilder) Execute() (*roaring64.Bitmap, error) {
	if qb.err != nil {
		return nil, qb.err
	}
	if len(qb.stack) == 0 {
		return roaring64.New(), nil
	}
	return qb.stack[len(qb.stack)-1], nil
}

// Rank BM25-scores the boolean result set using the builder's positive
// terms and returns the top k, best first.
func (qb *QueryBuilder) Rank(k int) ([]float64, []uint64, error) {
	candidates, err := qb.Execute()
	if err != nil {
		return nil, nil, err
	}
	if candidates.IsEmpty() || k <= 0 || len(qb.terms) == 0 {
		return []float64{}, []uint64{}, nil
	}

	plan := qb.e.buildPlan(qb.terms, searchConfig{})
	scores := make(map[uint64]float64)
	for _, p := range qb.e.parts {
		for rank, qt := range plan {
			fi := p.fields[qt.field]
			id, ok := fi.termID(qt.term)
			if !ok {
				continue
			}
			sc := &scoreCursor{pc: fi.cursor(id), qt: qt, fi: fi, rank: rank}
			for ; !sc.pc.exhausted(); sc.pc.advance() {
				if candidates.Contains(sc.pc.docID()) {
					scores[sc.pc.docID()] += sc.contribution(qb.e)
				}
			}
		}
	}

	docs := make([]uint64, 0, len(scores))
	for d := range scores {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })

	results := newTopKHeap(k)
	for _, d := range docs {
		results.offer(scoredDoc{score: scores[d], doc: d})
	}
	ranked := results.sorted()
	outScores := make([]float64, len(ranked))
	outDocs := make([]uint64, len(ranked))
	for i, r := range ranked {
		outScores[i] = r.score
		outDocs[i] = r.doc
	}
	return outScores, outDocs, nil
}

// push applies the pending operator and pushes the operand.
func (qb *QueryBuilder) push(bm *roaring64.Bitmap) {
	if len(qb.stack) == 0 || qb.pend == opNone {
		qb.stack = append(qb.stack, bm)
		qb.pend = opNone
		return
	}
	top := qb.stack[len(qb.stack)-1]
	switch qb.pend {
	case opAnd:
		top.And(bm)
	case opOr:
		top.Or(bm)
	}
	qb.pend = opNone
}

// complement flips a bitmap against the full document universe.
func (qb *QueryBuilder) complement(bm *roaring64.Bitmap) *roaring64.Bitmap {
	all := roaring64.New()
	all.AddRange(0, qb.e.numDocs)
	all.AndNot(bm)
	return all
}

// termBitmap decodes one term's postings, across all partitions, into a
// document-id bitmap.
func (e *Engine) termBitmap(field int, term string) *roaring64.Bitmap {
	bm := roaring64.New()
	for _, p := range e.parts {
		fi := p.fields[field]
		id, ok := fi.termID(term)
		if !ok {
			continue
		}
		for c := fi.cursor(id); !c.exhausted(); c.advance() {
			bm.Add(c.docID())
		}
	}
	return bm
}
