// ═══════════════════════════════════════════════════════════════════════════════
// VARIABLE-BYTE CODEC
// ═══════════════════════════════════════════════════════════════════════════════
// Posting lists store two numbers per entry: a document-id gap and a term
// frequency. Both are small most of the time, so spending a fixed 8 bytes on
// each would waste the index. Variable-byte coding spends one byte per 7 bits
// of payload instead.
//
// THE ENCODING:
// -------------
// An unsigned integer is cut into 7-bit groups, least significant group
// first. Every byte except the last has its high bit set ("more follows").
//
//	5      → [0x05]
//	300    → [0xAC, 0x02]        (300 = 0b10_0101100 → 0101100|1, 10|0)
//	16384  → [0x80, 0x80, 0x01]
//
// GAPS, NOT DOC IDS:
// ------------------
// Doc ids within a posting list are strictly increasing, so instead of the
// ids themselves the doc stream stores deltas:
//
//	doc ids: [3, 7, 8, 120]  →  stored: [3, 4, 1, 112]
//
// The first entry is the absolute first doc id; every later entry is a
// strictly positive gap. Deltas are small, so they pack into few bytes.
//
// The tf stream stores raw frequencies (always ≥ 1), no deltas.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

// appendUvarint appends v to dst in variable-byte form and returns the
// extended slice.
func appendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// uvarintAt decodes one value from buf starting at offset i, returning the
// value and the offset just past it.
func uvarintAt(buf []byte, i int) (uint64, int) {
	var v uint64
	var shift uint
	for {
		b := buf[i]
		i++
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, i
		}
		shift += 7
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSTING CURSOR
// ═══════════════════════════════════════════════════════════════════════════════
// A postingCursor is a restartable decoder over one term's pair of byte
// streams. It exposes the current (doc id, tf) and two moves:
//
//	advance()         → step to the next posting
//	seekAtLeast(t)    → skip forward until docID() >= t
//
// seekAtLeast is a plain linear scan through the remaining bytes. Partition
// size keeps individual lists short, so skip structures don't pay for
// themselves here.
// ═══════════════════════════════════════════════════════════════════════════════

type postingCursor struct {
	docBytes []byte
	tfBytes  []byte
	docPos   int
	tfPos    int
	count    uint32 // total postings in the list (df)
	read     uint32 // postings consumed so far
	doc      uint64 // current doc id, valid while !exhausted()
	tf       uint32 // current term frequency
}

// newPostingCursor opens a cursor positioned on the first posting.
// A zero-length list yields an immediately exhausted cursor.
func newPostingCursor(docBytes, tfBytes []byte, df uint32) postingCursor {
	c := postingCursor{docBytes: docBytes, tfBytes: tfBytes, count: df}
	if df == 0 {
		return c
	}
	// First entry of the doc stream is absolute, not a gap.
	first, dp := uvarintAt(c.docBytes, 0)
	tf, tp := uvarintAt(c.tfBytes, 0)
	c.doc, c.docPos = first, dp
	c.tf, c.tfPos = uint32(tf), tp
	c.read = 1
	return c
}

// docID returns the doc id under the cursor.
func (c *postingCursor) docID() uint64 { return c.doc }

// termFreq returns the term frequency under the cursor.
func (c *postingCursor) termFreq() uint32 { return c.tf }

// exhausted reports whether the cursor has moved past the last posting.
func (c *postingCursor) exhausted() bool { return c.read > c.count || c.count == 0 }

// advance moves to the next posting. Calling advance on an exhausted cursor
// is a no-op.
func (c *postingCursor) advance() {
	if c.exhausted() {
		return
	}
	if c.read == c.count {
		c.read++ // now exhausted
		return
	}
	gap, dp := uvarintAt(c.docBytes, c.docPos)
	tf, tp := uvarintAt(c.tfBytes, c.tfPos)
	c.doc += gap
	c.docPos = dp
	c.tf, c.tfPos = uint32(tf), tp
	c.read++
}

// seekAtLeast advances until docID() >= target or the list is exhausted.
func (c *postingCursor) seekAtLeast(target uint64) {
	for !c.exhausted() && c.doc < target {
		c.advance()
	}
}
