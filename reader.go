// ═══════════════════════════════════════════════════════════════════════════════
// CORPUS READERS AND ROW MATERIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════
// Two source shapes are supported:
//
//	CSV           header row, comma-delimited (RFC-4180-ish)
//	JSON lines    one JSON object per line
//
// The build pass reads each record once, extracts only the bytes of the
// search columns, and remembers the record's byte offset in the source file.
// TopKDocs later re-reads just the winning rows through those offsets:
// pread-style section reads, so concurrent queries never contend on a file
// position.
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/buger/jsonparser"
)

type sourceFormat byte

const (
	formatCSV sourceFormat = iota + 1
	formatJSONL
)

// detectFormat maps a file extension to a source format.
func detectFormat(path string) (sourceFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return formatJSONL, nil
	}
	return 0, fmt.Errorf("%w: unsupported file extension %q", ErrFormat, filepath.Ext(path))
}

// ═══════════════════════════════════════════════════════════════════════════════
// DOC STORES
// ═══════════════════════════════════════════════════════════════════════════════
// A docStore materializes the original row of a document after ranking. The
// file-backed store re-reads the source through recorded byte offsets; the
// in-memory store (IndexDocuments) keeps the rows it was given.

type docStore interface {
	// header lists the source's column names in order.
	header() []string
	// row returns the column values of one document, aligned with header.
	// offset is the document's recorded source byte offset (ignored by the
	// in-memory store).
	row(doc uint64, offset int64) ([]string, error)
}

// fileStore reads rows back out of the original CSV/JSONL file.
type fileStore struct {
	path    string
	format  sourceFormat
	columns []string
}

func (s *fileStore) header() []string { return s.columns }

func (s *fileStore) row(doc uint64, offset int64) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sec := io.NewSectionReader(f, offset, 1<<30)
	switch s.format {
	case formatCSV:
		r := csv.NewReader(sec)
		r.FieldsPerRecord = -1
		rec, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: row for doc %d at offset %d: %v", ErrFormat, doc, offset, err)
		}
		out := make([]string, len(s.columns))
		copy(out, rec)
		return out, nil

	case formatJSONL:
		line, err := bufio.NewReader(sec).ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		out := make([]string, len(s.columns))
		for i, col := range s.columns {
			v, _ := jsonColumn(line, col)
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown source format", ErrFormat)
}

// memStore holds rows handed over through IndexDocuments.
type memStore struct {
	columns []string
	rows    [][]string
}

func (s *memStore) header() []string { return s.columns }

func (s *memStore) row(doc uint64, _ int64) ([]string, error) {
	if doc >= uint64(len(s.rows)) {
		return nil, fmt.Errorf("%w: doc %d out of range", ErrFormat, doc)
	}
	out := make([]string, len(s.columns))
	copy(out, s.rows[doc])
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// STREAMING RECORD SOURCES
// ═══════════════════════════════════════════════════════════════════════════════
// A recordSource yields one record at a time: the byte offset where the
// record starts, the raw values of the search columns, and whether the
// record parsed cleanly. Malformed records come back with ok == false and
// empty values; the caller decides the doc-id policy.

type record struct {
	offset int64
	values []string // one per search column
	ok     bool
	reason string // parse failure description when !ok
}

type recordSource interface {
	// columns returns the full header of the source.
	columns() []string
	// next returns the next record, or io.EOF.
	next() (record, error)
}

// ─────────────────────────────── CSV ───────────────────────────────

type csvSource struct {
	r      *csv.Reader
	cols   []string
	colIdx []int // search column → position in the row
}

func newCSVSource(f *os.File, searchCols []string) (*csvSource, error) {
	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading CSV header: %v", ErrFormat, err)
	}
	colIdx := make([]int, len(searchCols))
	for i, want := range searchCols {
		colIdx[i] = -1
		for j, have := range header {
			if have == want {
				colIdx[i] = j
				break
			}
		}
		if colIdx[i] < 0 {
			return nil, fmt.Errorf("%w: search column %q not in CSV header", ErrFormat, want)
		}
	}
	return &csvSource{r: r, cols: header, colIdx: colIdx}, nil
}

func (s *csvSource) columns() []string { return s.cols }

func (s *csvSource) next() (record, error) {
	off := s.r.InputOffset()
	rec, err := s.r.Read()
	if err == io.EOF {
		return record{}, io.EOF
	}
	vals := make([]string, len(s.colIdx))
	if err != nil {
		// The csv reader recovers after a ParseError; the record is
		// consumed as empty so doc ids stay aligned with source rows.
		return record{offset: off, values: vals, reason: err.Error()}, nil
	}
	for i, j := range s.colIdx {
		if j < len(rec) {
			vals[i] = rec[j]
		}
	}
	return record{offset: off, values: vals, ok: true}, nil
}

// ─────────────────────────────── JSONL ───────────────────────────────

type jsonlSource struct {
	br         *bufio.Reader
	offset     int64
	cols       []string
	searchCols []string
	pending    *record // first record, parsed while sniffing the header
}

func newJSONLSource(f *os.File, searchCols []string) (*jsonlSource, error) {
	s := &jsonlSource{br: bufio.NewReaderSize(f, 1<<16), searchCols: searchCols}

	// The header is the key order of the first object.
	rec, err := s.readRecord()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty JSONL file", ErrFormat)
	}
	if err != nil {
		return nil, err
	}
	s.pending = &rec
	if !rec.ok {
		return nil, fmt.Errorf("%w: first JSONL record unparseable: %s", ErrFormat, rec.reason)
	}
	return s, nil
}

func (s *jsonlSource) columns() []string { return s.cols }

func (s *jsonlSource) next() (record, error) {
	if s.pending != nil {
		rec := *s.pending
		s.pending = nil
		return rec, nil
	}
	return s.readRecord()
}

func (s *jsonlSource) readRecord() (record, error) {
	for {
		off := s.offset
		line, err := s.br.ReadBytes('\n')
		s.offset += int64(len(line))
		if len(line) == 0 && err != nil {
			return record{}, io.EOF
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			// A blank line is not a record and consumes no doc id.
			if err != nil {
				return record{}, io.EOF
			}
			continue
		}

		if s.cols == nil {
			s.cols = jsonKeys(trimmed)
		}
		vals := make([]string, len(s.searchCols))
		for i, col := range s.searchCols {
			v, ok := jsonColumn(trimmed, col)
			if !ok {
				return record{offset: off, values: make([]string, len(s.searchCols)),
					reason: fmt.Sprintf("malformed JSON near column %q", col)}, nil
			}
			vals[i] = v
		}
		return record{offset: off, values: vals, ok: true}, nil
	}
}

// jsonColumn extracts one column's bytes from a JSON object line. A missing
// key is an empty string; only malformed JSON fails. Values are returned
// verbatim; numbers are not coerced.
func jsonColumn(line []byte, col string) (string, bool) {
	v, dt, _, err := jsonparser.Get(line, col)
	switch {
	case dt == jsonparser.NotExist:
		return "", true
	case err != nil:
		return "", false
	case dt == jsonparser.String:
		s, perr := jsonparser.ParseString(v)
		if perr != nil {
			return "", false
		}
		return s, true
	case dt == jsonparser.Null:
		return "", true
	default:
		return string(v), true
	}
}

// jsonKeys lists an object's keys in document order.
func jsonKeys(line []byte) []string {
	var keys []string
	jsonparser.ObjectEach(line, func(key []byte, _ []byte, _ jsonparser.ValueType, _ int) error {
		keys = append(keys, string(key))
		return nil
	})
	return keys
}
