// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE: The Public Facade
// ═══════════════════════════════════════════════════════════════════════════════
// An Engine is built once and queried many times:
//
//	e, _ := ember.New(ember.DefaultOptions())
//	e.IndexFile("songs.csv", []string{"title", "artist"})
//	scores, ids, _ := e.TopKIndices(ember.Broadcast("pink floyd"), 10)
//	hits, _ := e.TopKDocs(ember.Named(map[string]string{"artist": "pink"}), 10,
//	    ember.WithBoosts(map[string]float64{"artist": 2}))
//
// STATE MACHINE:
// --------------
// BUILDING: one of the Index* calls is streaming documents in. Postings
// are mutable; queries are rejected.
// FROZEN: the single finalize() at the end of Index* compressed the
// postings and computed the corpus statistics. Everything is read-only;
// further Index* calls are rejected; Save/Load operate on this state only.
//
// BUILD PIPELINE:
// ---------------
// A coordinator goroutine reads records in order, assigns doc ids, and
// routes each record to its partition's worker over a channel:
//
//	reader ──► coordinator ──► worker 0 (owns partition 0)
//	  (ids 0,1,2,...)     ├──► worker 1 (owns partition 1)
//	                      └──► ...
//
// Channels are FIFO and the coordinator assigns ids monotonically, so each
// worker sees its documents in ascending id order, which is what keeps
// posting lists sorted by construction. Workers share nothing.
//
// MALFORMED RECORDS:
// ------------------
// A record that fails to parse is logged with a structured warning and
// indexed as empty; its doc id IS consumed and its byte offset recorded,
// so doc ids always equal source row numbers (header excluded).
// ═══════════════════════════════════════════════════════════════════════════════

package ember

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
)

// Engine is an in-memory BM25 search engine over one tabular corpus.
type Engine struct {
	opts   Options
	an     *analyzer
	fields []string // indexed (search) column names, in declared order
	parts  []*partition

	numDocs uint64
	avgLen  []float64 // per field, set at freeze
	store   docStore
	frozen  bool
}

// Hit is one materialized search result: the original row plus its score.
type Hit struct {
	DocID   uint64
	Score   float64
	Columns map[string]string
}

// New constructs an empty engine. The zero Options value is not usable;
// start from DefaultOptions.
func New(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Engine{opts: opts, an: newAnalyzer(opts)}, nil
}

// EnglishStopwords returns the builtin english stopword list for
// Options.Stopwords.
func EnglishStopwords() []string {
	out := make([]string, len(englishStopwords))
	copy(out, englishStopwords)
	return out
}

// Fields returns the indexed column names.
func (e *Engine) Fields() []string { return e.fields }

// NumDocs returns the number of indexed documents.
func (e *Engine) NumDocs() uint64 { return e.numDocs }

// ColumnNames returns every column of the source, in source order, or nil
// before indexing.
func (e *Engine) ColumnNames() []string {
	if e.store == nil {
		return nil
	}
	return e.store.header()
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEXING
// ═══════════════════════════════════════════════════════════════════════════════

// IndexFile streams a CSV or JSON-lines file and indexes the named search
// columns. The format is chosen by extension (.csv vs .json/.jsonl/.ndjson).
// Finalization is implicit: the engine is queryable when IndexFile returns.
func (e *Engine) IndexFile(path string, searchCols []string) error {
	if err := e.checkBuildable(searchCols); err != nil {
		return err
	}
	format, err := detectFormat(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var src recordSource
	switch format {
	case formatCSV:
		src, err = newCSVSource(f, searchCols)
	case formatJSONL:
		src, err = newJSONLSource(f, searchCols)
	}
	if err != nil {
		return err
	}

	e.initFields(searchCols)
	if err := e.ingest(src.next); err != nil {
		return err
	}
	e.store = &fileStore{path: path, format: format, columns: src.columns()}
	e.finalize()
	slog.Info("indexed file",
		slog.String("path", path),
		slog.Uint64("docs", e.numDocs),
		slog.Int("partitions", e.opts.NumPartitions))
	return nil
}

// IndexDocuments indexes an in-memory ordered sequence of rows. Every named
// column is indexed; short rows are padded with empty strings. The rows are
// retained for TopKDocs materialization.
func (e *Engine) IndexDocuments(columns []string, rows [][]string) error {
	if err := e.checkBuildable(columns); err != nil {
		return err
	}
	e.initFields(columns)

	i := 0
	next := func() (record, error) {
		if i >= len(rows) {
			return record{}, io.EOF
		}
		vals := make([]string, len(columns))
		copy(vals, rows[i])
		i++
		return record{values: vals, ok: true}, nil
	}
	if err := e.ingest(next); err != nil {
		return err
	}

	kept := make([][]string, len(rows))
	for j, r := range rows {
		row := make([]string, len(columns))
		copy(row, r)
		kept[j] = row
	}
	e.store = &memStore{columns: append([]string(nil), columns...), rows: kept}
	e.finalize()
	return nil
}

// IndexStrings indexes a single-column corpus under the column name "text".
func (e *Engine) IndexStrings(docs []string) error {
	rows := make([][]string, len(docs))
	for i, d := range docs {
		rows[i] = []string{d}
	}
	return e.IndexDocuments([]string{"text"}, rows)
}

func (e *Engine) checkBuildable(cols []string) error {
	if e.frozen {
		return fmt.Errorf("%w: index is frozen", ErrState)
	}
	if e.fields != nil {
		return fmt.Errorf("%w: engine already has an index in progress", ErrState)
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: empty search column list", ErrConfig)
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate search column %q", ErrConfig, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

func (e *Engine) initFields(cols []string) {
	e.fields = append([]string(nil), cols...)
	e.parts = make([]*partition, e.opts.NumPartitions)
	for i := range e.parts {
		e.parts[i] = newPartition(i, len(cols))
	}
}

// ingest runs the coordinator/worker pipeline until the source is drained.
func (e *Engine) ingest(next func() (record, error)) error {
	n := e.opts.NumPartitions
	chans := make([]chan docJob, n)
	var g errgroup.Group
	for i := range chans {
		chans[i] = make(chan docJob, 256)
		ch := chans[i]
		p := e.parts[i]
		g.Go(func() error {
			for job := range ch {
				counts := make([]map[string]uint32, len(e.fields))
				lens := make([]uint32, len(e.fields))
				for f, val := range job.values {
					counts[f] = make(map[string]uint32)
					lens[f] = e.an.termCounts(val, counts[f])
				}
				p.addDocument(job.id, job.offset, counts, lens)
			}
			return nil
		})
	}

	var id uint64
	var readErr error
	for {
		rec, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if !rec.ok {
			slog.Warn("skipping malformed record",
				slog.Uint64("doc", id),
				slog.String("reason", rec.reason))
		}
		chans[id%uint64(n)] <- docJob{id: id, offset: rec.offset, values: rec.values}
		id++
	}
	for _, ch := range chans {
		close(ch)
	}
	g.Wait()
	if readErr != nil {
		return readErr
	}
	e.numDocs = id
	return nil
}

type docJob struct {
	id     uint64
	offset int64
	values []string
}

// finalize freezes every (field, partition) and computes corpus statistics.
// This is the single atomic Building → Frozen transition.
func (e *Engine) finalize() {
	maxDF := e.opts.resolveMaxDF(e.numDocs)
	e.avgLen = make([]float64, len(e.fields))

	var g errgroup.Group
	for f := range e.fields {
		globalDF := make(map[string]uint32)
		var tokens uint64
		for _, p := range e.parts {
			p.fields[f].accumulateDF(globalDF)
			tokens += p.fields[f].sumLens()
		}
		if e.numDocs > 0 {
			e.avgLen[f] = float64(tokens) / float64(e.numDocs)
		}
		for _, p := range e.parts {
			fi := p.fields[f]
			g.Go(func() error {
				fi.freeze(globalDF, e.opts.MinDF, maxDF, e.opts.BloomFPR, e.opts.BloomDFThreshold)
				return nil
			})
		}
	}
	g.Wait()
	e.frozen = true
}

// ═══════════════════════════════════════════════════════════════════════════════
// SEARCH
// ═══════════════════════════════════════════════════════════════════════════════

type searchConfig struct {
	boosts     map[string]float64
	queryMaxDF uint32
}

func (c searchConfig) boostFor(field string) float64 {
	if b, ok := c.boosts[field]; ok {
		return b
	}
	return 1
}

// SearchOption tunes a single query.
type SearchOption func(*searchConfig)

// WithBoosts weights per-field score contributions; absent fields default
// to 1.0.
func WithBoosts(boosts map[string]float64) SearchOption {
	return func(c *searchConfig) { c.boosts = boosts }
}

// WithQueryMaxDF skips query terms whose corpus-wide document frequency
// exceeds n, a per-query stopword cutoff.
func WithQueryMaxDF(n uint32) SearchOption {
	return func(c *searchConfig) { c.queryMaxDF = n }
}

// TopKIndices returns the ids and scores of the k best documents, best
// first. An empty or fully-unknown query returns empty slices, not an
// error.
func (e *Engine) TopKIndices(q Query, k int, opts ...SearchOption) ([]float64, []uint64, error) {
	if !e.frozen {
		return nil, nil, fmt.Errorf("%w: query before finalize", ErrState)
	}
	var cfg searchConfig
	for _, o := range opts {
		o(&cfg)
	}
	fqs, err := e.normalize(q)
	if err != nil {
		return nil, nil, err
	}
	hits := e.topK(e.buildPlan(fqs, cfg), k)
	scores := make([]float64, len(hits))
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		scores[i] = h.score
		ids[i] = h.doc
	}
	return scores, ids, nil
}

// TopKDocs ranks like TopKIndices and materializes each winner's original
// row from the source.
func (e *Engine) TopKDocs(q Query, k int, opts ...SearchOption) ([]Hit, error) {
	scores, ids, err := e.TopKIndices(q, k, opts...)
	if err != nil {
		return nil, err
	}
	header := e.ColumnNames()
	hits := make([]Hit, len(ids))
	for i, id := range ids {
		p := e.parts[id%uint64(e.opts.NumPartitions)]
		var offset int64
		if slot := id / uint64(e.opts.NumPartitions); slot < uint64(len(p.offsets)) {
			offset = p.offsets[slot]
		}
		row, err := e.store.row(id, offset)
		if err != nil {
			return nil, err
		}
		cols := make(map[string]string, len(header))
		for j, name := range header {
			if j < len(row) {
				cols[name] = row[j]
			}
		}
		hits[i] = Hit{DocID: id, Score: scores[i], Columns: cols}
	}
	return hits, nil
}
