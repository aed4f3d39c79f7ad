// ═══════════════════════════════════════════════════════════════════════════════
// PARTITIONED INVERTED INDEX
// ═══════════════════════════════════════════════════════════════════════════════
// The index maps, per field, a term to the ordered list of documents that
// contain it. It is split into N partitions by document:
//
//	partition(d) = d mod N        local slot(d) = d div N
//
// Each (field, partition) pair owns its own vocabulary, posting lists,
// document-length table and membership filter, so partitions never share
// mutable state: a build worker or a query worker touches exactly one.
//
//	Engine
//	├── partition 0                 (docs 0, N, 2N, ...)
//	│   ├── fieldIndex "title"      vocab, postings, lens, filter
//	│   └── fieldIndex "artist"     vocab, postings, lens, filter
//	├── partition 1                 (docs 1, N+1, 2N+1, ...)
//	│   └── ...
//	└── ...
//
// LIFECYCLE:
// ----------
// A fieldIndex has two phases. While BUILDING, terms are interned into a
// grow-only map and postings accumulate in transient per-term buffers. At
// FREEZE the vocabulary is re-sorted by term bytes, term ids are reassigned
// to sorted order, buffers are compressed into variable-byte streams, df
// pruning is applied, and the membership filter is populated. Frozen state
// is read-only and safe to share unsynchronized across query goroutines.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"sort"
)

// partition owns one slice of the doc-id space: every document with
// docID % NumPartitions == id lands here.
type partition struct {
	id      int
	numDocs uint64
	offsets []int64 // per local doc: byte offset into the source file
	fields  []*fieldIndex
}

func newPartition(id, numFields int) *partition {
	p := &partition{id: id, fields: make([]*fieldIndex, numFields)}
	for f := range p.fields {
		p.fields[f] = newFieldIndex()
	}
	return p
}

// addDocument folds one document into the partition. Callers must present
// documents in ascending doc-id order; the builder's per-partition worker
// guarantees this, which is what keeps every posting list sorted without a
// sort at freeze.
func (p *partition) addDocument(doc uint64, offset int64, counts []map[string]uint32, lens []uint32) {
	for f, fi := range p.fields {
		fi.addDocument(doc, counts[f], lens[f])
	}
	p.offsets = append(p.offsets, offset)
	p.numDocs++
}

// ═══════════════════════════════════════════════════════════════════════════════
// PER-(FIELD, PARTITION) STATE
// ═══════════════════════════════════════════════════════════════════════════════

// postingBuffer is the transient build-side posting list: parallel slices of
// absolute doc ids and term frequencies, in append (= ascending) order.
type postingBuffer struct {
	docs []uint64
	tfs  []uint32
}

type fieldIndex struct {
	// Building phase. vocab assigns dense build-local term ids in first-seen
	// order; buffers is indexed by those ids. All of it is discarded at
	// freeze.
	vocab   map[string]uint32
	terms   []string
	buffers []*postingBuffer

	// Both phases: token count per local doc slot.
	lens []uint32

	// Frozen phase. Term ids are reassigned to the rank of the term in
	// sortedTerms; df, the offset tables and the two streams are indexed by
	// those sorted ids.
	sortedTerms []string
	lookup      map[string]uint32
	df          []uint32
	docStream   []byte
	tfStream    []byte
	docOffsets  []uint32 // len(sortedTerms)+1 start offsets into docStream
	tfOffsets   []uint32
	filter      *termFilter
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{vocab: make(map[string]uint32)}
}

// addDocument appends one document's term counts. Each buffer receives at
// most one entry per document, so per-buffer doc ids stay strictly
// increasing as long as documents arrive in order.
func (fi *fieldIndex) addDocument(doc uint64, counts map[string]uint32, length uint32) {
	fi.lens = append(fi.lens, length)
	for term, tf := range counts {
		id, ok := fi.vocab[term]
		if !ok {
			id = uint32(len(fi.terms))
			fi.vocab[term] = id
			fi.terms = append(fi.terms, term)
			fi.buffers = append(fi.buffers, &postingBuffer{})
		}
		buf := fi.buffers[id]
		buf.docs = append(buf.docs, doc)
		buf.tfs = append(buf.tfs, tf)
	}
}

// accumulateDF adds this partition's document frequencies into a field-wide
// tally keyed by term bytes. Partitions disagree on term ids, never on terms.
func (fi *fieldIndex) accumulateDF(into map[string]uint32) {
	for id, term := range fi.terms {
		into[term] += uint32(len(fi.buffers[id].docs))
	}
}

// freeze converts build state into the immutable query representation.
//
// globalDF carries corpus-wide document frequencies for this field (summed
// across partitions); minDF/maxDF prune against those, so every partition
// drops exactly the same terms. bloomThreshold routes terms into the bit
// array (df <= threshold, or threshold == 0) or the exact side set.
func (fi *fieldIndex) freeze(globalDF map[string]uint32, minDF, maxDF uint32, fpr float64, bloomThreshold uint32) {
	retained := make([]string, 0, len(fi.terms))
	for _, term := range fi.terms {
		df := globalDF[term]
		if minDF > 0 && df < minDF {
			continue
		}
		if maxDF > 0 && df > maxDF {
			continue
		}
		retained = append(retained, term)
	}
	sort.Strings(retained)

	n := len(retained)
	fi.sortedTerms = retained
	fi.lookup = make(map[string]uint32, n)
	fi.df = make([]uint32, n)
	fi.docOffsets = make([]uint32, n+1)
	fi.tfOffsets = make([]uint32, n+1)

	rare := uint64(0)
	for _, term := range retained {
		if bloomThreshold == 0 || globalDF[term] <= bloomThreshold {
			rare++
		}
	}
	fi.filter = newTermFilter(rare, fpr)

	for sid, term := range retained {
		fi.lookup[term] = uint32(sid)
		buf := fi.buffers[fi.vocab[term]]
		fi.df[sid] = uint32(len(buf.docs))
		fi.docOffsets[sid] = uint32(len(fi.docStream))
		fi.tfOffsets[sid] = uint32(len(fi.tfStream))

		prev := uint64(0)
		for i, d := range buf.docs {
			if i == 0 {
				fi.docStream = appendUvarint(fi.docStream, d)
			} else {
				fi.docStream = appendUvarint(fi.docStream, d-prev)
			}
			prev = d
			fi.tfStream = appendUvarint(fi.tfStream, uint64(buf.tfs[i]))
		}

		if bloomThreshold == 0 || globalDF[term] <= bloomThreshold {
			fi.filter.add(term)
		} else {
			fi.filter.addCommon(term)
		}
	}
	fi.docOffsets[n] = uint32(len(fi.docStream))
	fi.tfOffsets[n] = uint32(len(fi.tfStream))

	// Release the build arena in one go.
	fi.vocab = nil
	fi.terms = nil
	fi.buffers = nil
}

// cursor opens a posting cursor for a sorted term id.
func (fi *fieldIndex) cursor(id uint32) postingCursor {
	return newPostingCursor(
		fi.docStream[fi.docOffsets[id]:fi.docOffsets[id+1]],
		fi.tfStream[fi.tfOffsets[id]:fi.tfOffsets[id+1]],
		fi.df[id],
	)
}

// termID resolves a term to its sorted id, going through the membership
// filter first so absent terms usually cost two hashes and no vocabulary
// probe.
func (fi *fieldIndex) termID(term string) (uint32, bool) {
	if fi.filter != nil && !fi.filter.mayContain(term) {
		return 0, false
	}
	id, ok := fi.lookup[term]
	return id, ok
}

// sumLens returns the total token count in this (field, partition).
func (fi *fieldIndex) sumLens() uint64 {
	var total uint64
	for _, l := range fi.lens {
		total += uint64(l)
	}
	return total
}
