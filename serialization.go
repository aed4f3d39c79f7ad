// ═══════════════════════════════════════════════════════════════════════════════
// SERIALIZATION: Saving and Loading the Frozen Index
// ═══════════════════════════════════════════════════════════════════════════════
// A saved index is a directory of small binary files, one per table, so that
// a corrupted file names the structure it damaged:
//
//	db_dir/
//	├── meta.bin              version, options echo, fields, corpus stats
//	├── p0_offsets.bin        per-doc source byte offsets (file-backed corpora)
//	├── docs.bin              the rows themselves   (in-memory corpora)
//	├── f0_p0_vocab.bin       sorted term bytes + end offsets
//	├── f0_p0_df.bin          document frequency per term id
//	├── f0_p0_post_doc.bin    concatenated doc-gap varbyte streams
//	├── f0_p0_post_tf.bin     concatenated term-frequency varbyte streams
//	├── f0_p0_post_offsets.bin stream start offset per term id
//	├── f0_p0_lens.bin        token count per local doc
//	├── f0_p0_bloom.bin       bit array + parameters + common-term set
//	└── ...                   (× every field, × every partition)
//
// FORMAT RULES:
// -------------
// - All integers little-endian.
// - Strings are a uint32 byte length followed by the bytes.
// - Every file ends with a CRC-32C (Castagnoli) of everything before it.
//   Load recomputes and compares; any mismatch is ErrCorruptIndex.
//
// Save refuses a non-empty target directory and only operates on a frozen
// index. Load rebuilds the exact in-memory structure, so save → load → save
// produces byte-identical files.
//
// A file-backed index stores the source file's path, not its contents;
// TopKDocs after Load needs that file to still exist.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

const (
	indexMagic   = "EMBR"
	indexVersion = uint32(1)

	storeKindFile = byte(1)
	storeKindMem  = byte(2)
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ═══════════════════════════════════════════════════════════════════════════════
// SAVE
// ═══════════════════════════════════════════════════════════════════════════════

// Save serializes the frozen index into dir. The directory must not exist or
// must be empty; Save never overwrites a previous index.
func (e *Engine) Save(dir string) error {
	if !e.frozen {
		return fmt.Errorf("%w: save before finalize", ErrState)
	}
	if e.numDocs == 0 {
		return fmt.Errorf("%w: save on empty index", ErrState)
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return fmt.Errorf("%w: target directory %q is not empty", ErrState, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := e.saveMeta(dir); err != nil {
		return err
	}
	if err := e.saveStore(dir); err != nil {
		return err
	}
	for pi, p := range e.parts {
		for fi := range e.fields {
			if err := saveFieldPartition(dir, fi, pi, p.fields[fi]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) saveMeta(dir string) error {
	w := newBinWriter()
	w.raw([]byte(indexMagic))
	w.u32(indexVersion)
	w.f64(e.opts.K1)
	w.f64(e.opts.B)
	w.u32(uint32(e.opts.NumPartitions))
	w.u64(e.numDocs)

	w.u32(e.opts.MinDF)
	w.f64(e.opts.MaxDF)
	w.f64(e.opts.BloomFPR)
	w.u32(e.opts.BloomDFThreshold)
	w.u32(uint32(e.opts.MaxTokenLength))

	stops := e.an.stopwordList()
	w.u32(uint32(len(stops)))
	for _, s := range stops {
		w.str(s)
	}

	w.u32(uint32(len(e.fields)))
	for _, f := range e.fields {
		w.str(f)
	}
	for _, avg := range e.avgLen {
		w.f64(avg)
	}

	switch s := e.store.(type) {
	case *fileStore:
		w.u8(storeKindFile)
		w.str(s.path)
		w.u8(byte(s.format))
		w.u32(uint32(len(s.columns)))
		for _, c := range s.columns {
			w.str(c)
		}
	case *memStore:
		w.u8(storeKindMem)
		w.u32(uint32(len(s.columns)))
		for _, c := range s.columns {
			w.str(c)
		}
	default:
		return fmt.Errorf("%w: index has no document store", ErrState)
	}
	return w.writeFile(filepath.Join(dir, "meta.bin"))
}

// saveStore writes whichever side of the doc store is per-document: byte
// offsets for a file-backed corpus, the rows themselves for an in-memory one.
func (e *Engine) saveStore(dir string) error {
	switch s := e.store.(type) {
	case *fileStore:
		for pi, p := range e.parts {
			w := newBinWriter()
			w.u64(uint64(len(p.offsets)))
			for _, off := range p.offsets {
				w.u64(uint64(off))
			}
			name := fmt.Sprintf("p%d_offsets.bin", pi)
			if err := w.writeFile(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	case *memStore:
		w := newBinWriter()
		w.u64(uint64(len(s.rows)))
		for _, row := range s.rows {
			for _, v := range row {
				w.str(v)
			}
		}
		return w.writeFile(filepath.Join(dir, "docs.bin"))
	}
	return nil
}

func saveFieldPartition(dir string, field, part int, fi *fieldIndex) error {
	prefix := filepath.Join(dir, fmt.Sprintf("f%d_p%d_", field, part))
	n := len(fi.sortedTerms)

	w := newBinWriter()
	w.u32(uint32(n))
	var blob bytes.Buffer
	ends := make([]uint32, n)
	for i, term := range fi.sortedTerms {
		blob.WriteString(term)
		ends[i] = uint32(blob.Len())
	}
	w.u32(uint32(blob.Len()))
	w.raw(blob.Bytes())
	for _, end := range ends {
		w.u32(end)
	}
	if err := w.writeFile(prefix + "vocab.bin"); err != nil {
		return err
	}

	w = newBinWriter()
	w.u32(uint32(n))
	for _, df := range fi.df {
		w.u32(df)
	}
	if err := w.writeFile(prefix + "df.bin"); err != nil {
		return err
	}

	w = newBinWriter()
	w.u64(uint64(len(fi.docStream)))
	w.raw(fi.docStream)
	if err := w.writeFile(prefix + "post_doc.bin"); err != nil {
		return err
	}

	w = newBinWriter()
	w.u64(uint64(len(fi.tfStream)))
	w.raw(fi.tfStream)
	if err := w.writeFile(prefix + "post_tf.bin"); err != nil {
		return err
	}

	w = newBinWriter()
	w.u32(uint32(n + 1))
	for _, off := range fi.docOffsets {
		w.u32(off)
	}
	for _, off := range fi.tfOffsets {
		w.u32(off)
	}
	if err := w.writeFile(prefix + "post_offsets.bin"); err != nil {
		return err
	}

	w = newBinWriter()
	w.u32(uint32(len(fi.lens)))
	for _, l := range fi.lens {
		w.u32(l)
	}
	if err := w.writeFile(prefix + "lens.bin"); err != nil {
		return err
	}

	w = newBinWriter()
	f := fi.filter
	w.u64(f.m)
	w.u32(f.k)
	words := f.bits.Bytes()
	w.u32(uint32(len(words)))
	for _, word := range words {
		w.u64(word)
	}
	common := make([]string, 0, len(f.common))
	for term := range f.common {
		common = append(common, term)
	}
	sort.Strings(common)
	w.u32(uint32(len(common)))
	for _, term := range common {
		w.str(term)
	}
	return w.writeFile(prefix + "bloom.bin")
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOAD
// ═══════════════════════════════════════════════════════════════════════════════

// Load reads an index previously written by Save. The result is frozen and
// immediately queryable. Version or CRC mismatch is ErrCorruptIndex.
func Load(dir string) (*Engine, error) {
	e, err := loadMeta(filepath.Join(dir, "meta.bin"))
	if err != nil {
		return nil, err
	}
	if err := e.loadStore(dir); err != nil {
		return nil, err
	}
	for pi, p := range e.parts {
		for fi := range e.fields {
			loaded, err := loadFieldPartition(dir, fi, pi)
			if err != nil {
				return nil, err
			}
			p.fields[fi] = loaded
		}
	}
	// In-memory corpora don't persist per-partition offsets; rebuild the
	// zero offsets and doc counts from the length tables.
	if _, ok := e.store.(*memStore); ok {
		for _, p := range e.parts {
			n := len(p.fields[0].lens)
			p.offsets = make([]int64, n)
			p.numDocs = uint64(n)
		}
	}
	e.frozen = true
	return e, nil
}

func loadMeta(path string) (*Engine, error) {
	r, err := openBinFile(path)
	if err != nil {
		return nil, err
	}
	if string(r.raw(4)) != indexMagic {
		return nil, fmt.Errorf("%w: %s: bad magic", ErrCorruptIndex, path)
	}
	if v := r.u32(); v != indexVersion {
		return nil, fmt.Errorf("%w: %s: format version %d, want %d", ErrCorruptIndex, path, v, indexVersion)
	}

	var opts Options
	opts.K1 = r.f64()
	opts.B = r.f64()
	opts.NumPartitions = int(r.u32())
	numDocs := r.u64()

	opts.MinDF = r.u32()
	opts.MaxDF = r.f64()
	opts.BloomFPR = r.f64()
	opts.BloomDFThreshold = r.u32()
	opts.MaxTokenLength = int(r.u32())

	stops := make([]string, r.u32())
	for i := range stops {
		stops[i] = r.str()
	}
	opts.Stopwords = stops

	fields := make([]string, r.u32())
	for i := range fields {
		fields[i] = r.str()
	}
	avgLen := make([]float64, len(fields))
	for i := range avgLen {
		avgLen[i] = r.f64()
	}

	var store docStore
	switch kind := r.u8(); kind {
	case storeKindFile:
		s := &fileStore{}
		s.path = r.str()
		s.format = sourceFormat(r.u8())
		s.columns = make([]string, r.u32())
		for i := range s.columns {
			s.columns[i] = r.str()
		}
		store = s
	case storeKindMem:
		s := &memStore{}
		s.columns = make([]string, r.u32())
		for i := range s.columns {
			s.columns[i] = r.str()
		}
		store = s
	default:
		return nil, fmt.Errorf("%w: %s: unknown store kind %d", ErrCorruptIndex, path, kind)
	}
	if err := r.finish(path); err != nil {
		return nil, err
	}

	e := &Engine{
		opts:    opts,
		an:      newAnalyzer(opts),
		fields:  fields,
		numDocs: numDocs,
		avgLen:  avgLen,
		store:   store,
	}
	e.parts = make([]*partition, opts.NumPartitions)
	for i := range e.parts {
		e.parts[i] = newPartition(i, len(fields))
	}
	return e, nil
}

func (e *Engine) loadStore(dir string) error {
	switch s := e.store.(type) {
	case *fileStore:
		for pi, p := range e.parts {
			path := filepath.Join(dir, fmt.Sprintf("p%d_offsets.bin", pi))
			r, err := openBinFile(path)
			if err != nil {
				return err
			}
			p.offsets = make([]int64, r.u64())
			for i := range p.offsets {
				p.offsets[i] = int64(r.u64())
			}
			p.numDocs = uint64(len(p.offsets))
			if err := r.finish(path); err != nil {
				return err
			}
		}
	case *memStore:
		path := filepath.Join(dir, "docs.bin")
		r, err := openBinFile(path)
		if err != nil {
			return err
		}
		s.rows = make([][]string, r.u64())
		for i := range s.rows {
			row := make([]string, len(s.columns))
			for j := range row {
				row[j] = r.str()
			}
			s.rows[i] = row
		}
		if err := r.finish(path); err != nil {
			return err
		}
	}
	return nil
}

func loadFieldPartition(dir string, field, part int) (*fieldIndex, error) {
	prefix := filepath.Join(dir, fmt.Sprintf("f%d_p%d_", field, part))
	fi := newFieldIndex()

	r, err := openBinFile(prefix + "vocab.bin")
	if err != nil {
		return nil, err
	}
	n := int(r.u32())
	blob := r.raw(int(r.u32()))
	fi.sortedTerms = make([]string, n)
	fi.lookup = make(map[string]uint32, n)
	start := uint32(0)
	for i := 0; i < n; i++ {
		end := r.u32()
		if r.err == nil && (end < start || end > uint32(len(blob))) {
			return nil, fmt.Errorf("%w: %s: term offsets out of order", ErrCorruptIndex, prefix+"vocab.bin")
		}
		if r.err == nil {
			term := string(blob[start:end])
			fi.sortedTerms[i] = term
			fi.lookup[term] = uint32(i)
			start = end
		}
	}
	if err := r.finish(prefix + "vocab.bin"); err != nil {
		return nil, err
	}

	r, err = openBinFile(prefix + "df.bin")
	if err != nil {
		return nil, err
	}
	fi.df = make([]uint32, r.u32())
	for i := range fi.df {
		fi.df[i] = r.u32()
	}
	if err := r.finish(prefix + "df.bin"); err != nil {
		return nil, err
	}
	if len(fi.df) != n {
		return nil, fmt.Errorf("%w: %s: %d df entries for %d terms", ErrCorruptIndex, prefix+"df.bin", len(fi.df), n)
	}

	r, err = openBinFile(prefix + "post_doc.bin")
	if err != nil {
		return nil, err
	}
	fi.docStream = append([]byte(nil), r.raw(int(r.u64()))...)
	if err := r.finish(prefix + "post_doc.bin"); err != nil {
		return nil, err
	}

	r, err = openBinFile(prefix + "post_tf.bin")
	if err != nil {
		return nil, err
	}
	fi.tfStream = append([]byte(nil), r.raw(int(r.u64()))...)
	if err := r.finish(prefix + "post_tf.bin"); err != nil {
		return nil, err
	}

	r, err = openBinFile(prefix + "post_offsets.bin")
	if err != nil {
		return nil, err
	}
	count := int(r.u32())
	if count != n+1 {
		return nil, fmt.Errorf("%w: %s: %d offsets for %d terms", ErrCorruptIndex, prefix+"post_offsets.bin", count, n)
	}
	fi.docOffsets = make([]uint32, count)
	for i := range fi.docOffsets {
		fi.docOffsets[i] = r.u32()
	}
	fi.tfOffsets = make([]uint32, count)
	for i := range fi.tfOffsets {
		fi.tfOffsets[i] = r.u32()
	}
	if err := r.finish(prefix + "post_offsets.bin"); err != nil {
		return nil, err
	}

	r, err = openBinFile(prefix + "lens.bin")
	if err != nil {
		return nil, err
	}
	fi.lens = make([]uint32, r.u32())
	for i := range fi.lens {
		fi.lens[i] = r.u32()
	}
	if err := r.finish(prefix + "lens.bin"); err != nil {
		return nil, err
	}

	r, err = openBinFile(prefix + "bloom.bin")
	if err != nil {
		return nil, err
	}
	f := &termFilter{common: make(map[string]struct{})}
	f.m = r.u64()
	f.k = r.u32()
	words := make([]uint64, r.u32())
	for i := range words {
		words[i] = r.u64()
	}
	f.bits = bitset.FromWithLength(uint(f.m), words)
	for i, cn := 0, int(r.u32()); i < cn; i++ {
		f.common[r.str()] = struct{}{}
	}
	if err := r.finish(prefix + "bloom.bin"); err != nil {
		return nil, err
	}
	fi.filter = f

	return fi, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// LITTLE-ENDIAN FILE PRIMITIVES
// ═══════════════════════════════════════════════════════════════════════════════

// binWriter accumulates one file's payload; writeFile appends the CRC and
// flushes to disk.
type binWriter struct {
	buf bytes.Buffer
}

func newBinWriter() *binWriter { return &binWriter{} }

func (w *binWriter) raw(b []byte) { w.buf.Write(b) }

func (w *binWriter) u8(v byte) { w.buf.WriteByte(v) }

func (w *binWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *binWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *binWriter) writeFile(path string) error {
	crc := crc32.Checksum(w.buf.Bytes(), crcTable)
	w.u32(crc)
	return os.WriteFile(path, w.buf.Bytes(), 0o644)
}

// binReader decodes one file's payload after the CRC check. Decode errors
// stick: every accessor returns a zero value once err is set, and finish
// reports the first failure, so call sites stay linear.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func openBinFile(path string) (*binReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %s: truncated file", ErrCorruptIndex, path)
	}
	payload := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if got := crc32.Checksum(payload, crcTable); got != want {
		return nil, fmt.Errorf("%w: %s: CRC mismatch (have %08x, want %08x)", ErrCorruptIndex, path, got, want)
	}
	return &binReader{data: payload}, nil
}

func (r *binReader) raw(n int) []byte {
	if r.err != nil || n < 0 || r.pos+n > len(r.data) {
		if r.err == nil {
			r.err = fmt.Errorf("short read at offset %d", r.pos)
		}
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *binReader) u8() byte {
	b := r.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) u32() uint32 {
	b := r.raw(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *binReader) u64() uint64 {
	b := r.raw(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *binReader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *binReader) str() string { return string(r.raw(int(r.u32()))) }

// finish reports any sticky decode error, plus trailing garbage.
func (r *binReader) finish(path string) error {
	if r.err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, r.err)
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("%w: %s: %d trailing bytes", ErrCorruptIndex, path, len(r.data)-r.pos)
	}
	return nil
}
