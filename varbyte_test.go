package ember

import (
	"reflect"
	"testing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CODEC TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestAppendUvarint_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 5, 127, 128, 300, 16383, 16384, 1<<32 - 1, 1 << 40, 1<<63 + 7}

	var buf []byte
	for _, v := range values {
		buf = appendUvarint(buf, v)
	}

	pos := 0
	for i, want := range values {
		got, next := uvarintAt(buf, pos)
		if got != want {
			t.Errorf("value %d: decoded %d, want %d", i, got, want)
		}
		pos = next
	}
	if pos != len(buf) {
		t.Errorf("decoded %d bytes, buffer has %d", pos, len(buf))
	}
}

func TestAppendUvarint_Encoding(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{5, []byte{0x05}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}

	for _, tt := range tests {
		if got := appendUvarint(nil, tt.v); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("appendUvarint(%d) = %#v, want %#v", tt.v, got, tt.want)
		}
	}
}

// encodePostings builds the two streams the way freeze does: first doc
// absolute, the rest gaps.
func encodePostings(docs []uint64, tfs []uint32) (docBytes, tfBytes []byte) {
	prev := uint64(0)
	for i, d := range docs {
		if i == 0 {
			docBytes = appendUvarint(docBytes, d)
		} else {
			docBytes = appendUvarint(docBytes, d-prev)
		}
		prev = d
		tfBytes = appendUvarint(tfBytes, uint64(tfs[i]))
	}
	return docBytes, tfBytes
}

func TestPostingCursor_Advance(t *testing.T) {
	docs := []uint64{3, 7, 8, 120, 4096}
	tfs := []uint32{1, 2, 1, 9, 3}
	docBytes, tfBytes := encodePostings(docs, tfs)

	c := newPostingCursor(docBytes, tfBytes, uint32(len(docs)))
	for i := range docs {
		if c.exhausted() {
			t.Fatalf("cursor exhausted after %d of %d postings", i, len(docs))
		}
		if c.docID() != docs[i] || c.termFreq() != tfs[i] {
			t.Errorf("posting %d: (%d, %d), want (%d, %d)", i, c.docID(), c.termFreq(), docs[i], tfs[i])
		}
		c.advance()
	}
	if !c.exhausted() {
		t.Error("cursor not exhausted after last posting")
	}
	c.advance() // must be a no-op
	if !c.exhausted() {
		t.Error("advance past exhaustion revived the cursor")
	}
}

func TestPostingCursor_Empty(t *testing.T) {
	c := newPostingCursor(nil, nil, 0)
	if !c.exhausted() {
		t.Error("empty cursor is not exhausted")
	}
}

func TestPostingCursor_SeekAtLeast(t *testing.T) {
	docs := []uint64{3, 7, 8, 120, 4096}
	tfs := []uint32{1, 2, 1, 9, 3}
	docBytes, tfBytes := encodePostings(docs, tfs)

	tests := []struct {
		name      string
		target    uint64
		wantDoc   uint64
		exhausted bool
	}{
		{"before first", 0, 3, false},
		{"exact hit", 8, 8, false},
		{"between postings", 9, 120, false},
		{"last posting", 4096, 4096, false},
		{"past the end", 5000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newPostingCursor(docBytes, tfBytes, uint32(len(docs)))
			c.seekAtLeast(tt.target)
			if c.exhausted() != tt.exhausted {
				t.Fatalf("exhausted = %v, want %v", c.exhausted(), tt.exhausted)
			}
			if !tt.exhausted && c.docID() != tt.wantDoc {
				t.Errorf("seekAtLeast(%d) landed on %d, want %d", tt.target, c.docID(), tt.wantDoc)
			}
		})
	}
}

func TestPostingCursor_StrictlyAscending(t *testing.T) {
	docs := []uint64{0, 1, 2, 50, 51, 1000}
	tfs := []uint32{1, 1, 1, 1, 1, 1}
	docBytes, tfBytes := encodePostings(docs, tfs)

	c := newPostingCursor(docBytes, tfBytes, uint32(len(docs)))
	prev := c.docID()
	c.advance()
	for !c.exhausted() {
		if c.docID() <= prev {
			t.Fatalf("doc ids not strictly ascending: %d after %d", c.docID(), prev)
		}
		prev = c.docID()
		c.advance()
	}
}
