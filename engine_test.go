package ember

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine builds a single-field "title" index over the given texts with
// one partition, which keeps doc ids equal to input positions in every test.
func newTestEngine(t *testing.T, opts Options, titles ...string) *Engine {
	t.Helper()
	opts.NumPartitions = 1
	e, err := New(opts)
	require.NoError(t, err)
	rows := make([][]string, len(titles))
	for i, s := range titles {
		rows[i] = []string{s}
	}
	require.NoError(t, e.IndexDocuments([]string{"title"}, rows))
	return e
}

var helloCorpus = []string{"hello world", "hello there", "goodbye world"}

func TestEngine_SingleTermQuery(t *testing.T) {
	e := newTestEngine(t, DefaultOptions(), helloCorpus...)

	scores, ids, err := e.TopKIndices(Broadcast("hello"), 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, ids, "docs 0 and 1 contain hello, doc 2 does not")
	assert.InDelta(t, scores[0], scores[1], 1e-9, "same tf, df and length must score identically")
}

func TestEngine_NamedFieldQuery(t *testing.T) {
	e := newTestEngine(t, DefaultOptions(), helloCorpus...)

	scores, ids, err := e.TopKIndices(Named(map[string]string{"title": "world"}), 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, ids)
	assert.InDelta(t, scores[0], scores[1], 1e-9)
}

func TestEngine_MultiFieldBoosts(t *testing.T) {
	opts := DefaultOptions()
	opts.NumPartitions = 1
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.IndexDocuments([]string{"title", "artist"}, [][]string{
		{"the wall", "pink floyd"},
		{"pink moon", "nick drake"},
		{"the bends", "radiohead"},
	}))

	// Row 0 hits both fields, row 2 only the title. Row 1 matches neither
	// the title query nor the artist query and stays out of the result.
	_, ids, err := e.TopKIndices(
		Named(map[string]string{"title": "the", "artist": "pink"}), 3,
		WithBoosts(map[string]float64{"title": 1, "artist": 2}))
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, ids)
}

func TestEngine_BoostScalesContribution(t *testing.T) {
	opts := DefaultOptions()
	opts.NumPartitions = 1
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.IndexDocuments([]string{"title", "artist"}, [][]string{
		{"wall", "floyd"},
		{"floyd", "wall"},
	}))

	q := Named(map[string]string{"artist": "floyd"})
	base, ids, err := e.TopKIndices(q, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, ids)

	boosted, _, err := e.TopKIndices(q, 2, WithBoosts(map[string]float64{"artist": 2}))
	require.NoError(t, err)
	assert.InDelta(t, 2*base[0], boosted[0], 1e-9)
}

func TestEngine_StopwordsEquivalence(t *testing.T) {
	opts := DefaultOptions()
	opts.Stopwords = []string{"the"}
	corpus := []string{"the wall", "pink moon", "the bends"}
	e := newTestEngine(t, opts, corpus...)

	withStop, idsWith, err := e.TopKIndices(Broadcast("the wall"), 3)
	require.NoError(t, err)
	without, idsWithout, err := e.TopKIndices(Broadcast("wall"), 3)
	require.NoError(t, err)

	require.Equal(t, idsWithout, idsWith, `"the wall" must rank exactly like "wall"`)
	require.Equal(t, without, withStop)
}

func TestEngine_MaxDFPruning(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDF = 1
	e := newTestEngine(t, opts, helloCorpus...)

	// hello and world appear in two documents each and are pruned at freeze.
	_, ids, err := e.TopKIndices(Broadcast("hello"), 3)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, ids, err = e.TopKIndices(Broadcast("there"), 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
}

func TestEngine_FractionalMaxDF(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDF = 0.5 // of 4 docs → absolute cap 2
	e := newTestEngine(t, opts, "a b", "a b", "a c", "a d")

	_, ids, err := e.TopKIndices(Broadcast("a"), 4) // df 4 > 2, pruned
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, ids, err = e.TopKIndices(Broadcast("b"), 4) // df 2 <= 2, kept
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)
}

func TestEngine_QueryMaxDF(t *testing.T) {
	e := newTestEngine(t, DefaultOptions(), helloCorpus...)

	// df(hello) = 2: a per-query cap of 1 silences it without rebuilding.
	_, ids, err := e.TopKIndices(Broadcast("hello there"), 3, WithQueryMaxDF(1))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids, "only the df-1 term 'there' may contribute")
}

// ═══════════════════════════════════════════════════════════════════════════════
// BOUNDARY BEHAVIOR
// ═══════════════════════════════════════════════════════════════════════════════

func TestEngine_Boundaries(t *testing.T) {
	e := newTestEngine(t, DefaultOptions(), helloCorpus...)

	t.Run("empty query", func(t *testing.T) {
		scores, ids, err := e.TopKIndices(Broadcast(""), 3)
		require.NoError(t, err)
		assert.Empty(t, scores)
		assert.Empty(t, ids)
	})

	t.Run("unknown terms", func(t *testing.T) {
		_, ids, err := e.TopKIndices(Broadcast("zebra quagga"), 3)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("k larger than corpus", func(t *testing.T) {
		_, ids, err := e.TopKIndices(Broadcast("world hello goodbye there"), 100)
		require.NoError(t, err)
		assert.Len(t, ids, 3)
	})

	t.Run("zero k", func(t *testing.T) {
		_, ids, err := e.TopKIndices(Broadcast("hello"), 0)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestEngine_SingleDocumentCorpus(t *testing.T) {
	e := newTestEngine(t, DefaultOptions(), "lonely document text")

	for _, q := range []string{"lonely", "document", "lonely text"} {
		_, ids, err := e.TopKIndices(Broadcast(q), 5)
		require.NoError(t, err)
		require.Equal(t, []uint64{0}, ids, "query %q", q)
	}
}

func TestEngine_OnlyStopwordQuery(t *testing.T) {
	opts := DefaultOptions()
	opts.Stopwords = EnglishStopwords()
	e := newTestEngine(t, opts, "the quick brown fox")

	_, ids, err := e.TopKIndices(Broadcast("the and of"), 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// ═══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE AND CONFIGURATION ERRORS
// ═══════════════════════════════════════════════════════════════════════════════

func TestEngine_StateErrors(t *testing.T) {
	e, err := New(DefaultOptions())
	require.NoError(t, err)

	_, _, err = e.TopKIndices(Broadcast("hello"), 1)
	assert.ErrorIs(t, err, ErrState, "query before finalize")

	require.NoError(t, e.IndexStrings([]string{"hello"}))
	err = e.IndexStrings([]string{"again"})
	assert.ErrorIs(t, err, ErrState, "indexing a frozen engine")
}

func TestEngine_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"negative partitions", func(o *Options) { o.NumPartitions = -1 }},
		{"fpr zero", func(o *Options) { o.BloomFPR = 0 }},
		{"fpr one", func(o *Options) { o.BloomFPR = 1 }},
		{"negative k1", func(o *Options) { o.K1 = -0.5 }},
		{"b above one", func(o *Options) { o.B = 1.5 }},
		{"min over max df", func(o *Options) { o.MinDF = 10; o.MaxDF = 5 }},
		{"negative max df", func(o *Options) { o.MaxDF = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := New(opts)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestEngine_EmptyColumnList(t *testing.T) {
	e, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.ErrorIs(t, e.IndexDocuments(nil, [][]string{{"x"}}), ErrConfig)
}

func TestEngine_DuplicateColumns(t *testing.T) {
	e, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.ErrorIs(t, e.IndexDocuments([]string{"a", "a"}, nil), ErrConfig)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FILE INDEXING
// ═══════════════════════════════════════════════════════════════════════════════

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEngine_IndexFile_CSV(t *testing.T) {
	path := writeTempFile(t, "songs.csv",
		"title,artist,year\n"+
			"the wall,pink floyd,1979\n"+
			"\"pink, moon\",nick drake,1972\n"+
			"the bends,radiohead,1995\n")

	opts := DefaultOptions()
	opts.NumPartitions = 2
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.IndexFile(path, []string{"title", "artist"}))
	require.EqualValues(t, 3, e.NumDocs())
	assert.Equal(t, []string{"title", "artist", "year"}, e.ColumnNames())

	hits, err := e.TopKDocs(Named(map[string]string{"artist": "radiohead"}), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.EqualValues(t, 2, hits[0].DocID)
	assert.Equal(t, "the bends", hits[0].Columns["title"])
	assert.Equal(t, "1995", hits[0].Columns["year"])

	// Materialization through byte offsets must survive quoted commas.
	hits, err = e.TopKDocs(Named(map[string]string{"title": "moon"}), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "pink, moon", hits[0].Columns["title"])
}

func TestEngine_IndexFile_JSONL(t *testing.T) {
	path := writeTempFile(t, "songs.jsonl",
		`{"title": "the wall", "artist": "pink floyd", "year": 1979}`+"\n"+
			`{"title": "pink moon", "artist": "nick drake"}`+"\n"+
			`{"title": "the bends", "artist": "radiohead", "year": 1995}`+"\n")

	e, err := New(DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, e.IndexFile(path, []string{"title", "artist"}))
	require.EqualValues(t, 3, e.NumDocs())

	hits, err := e.TopKDocs(Named(map[string]string{"title": "moon"}), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "nick drake", hits[0].Columns["artist"])
	assert.Equal(t, "", hits[0].Columns["year"], "missing key reads as empty")

	hits, err = e.TopKDocs(Named(map[string]string{"artist": "floyd"}), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1979", hits[0].Columns["year"], "numbers are kept verbatim")
}

func TestEngine_IndexFile_MalformedCSVRowConsumesDocID(t *testing.T) {
	// Row 1 has a stray field; the csv reader rejects it. The doc id is
	// still consumed, so "the bends" stays doc 2, aligned with its source
	// row number.
	path := writeTempFile(t, "bad.csv",
		"title,artist\n"+
			"the wall,pink floyd\n"+
			"oops,extra,field\n"+
			"the bends,radiohead\n")

	e, err := New(DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, e.IndexFile(path, []string{"title"}))
	require.EqualValues(t, 3, e.NumDocs())

	_, ids, err := e.TopKIndices(Broadcast("bends"), 5)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, ids)

	_, ids, err = e.TopKIndices(Broadcast("oops"), 5)
	require.NoError(t, err)
	assert.Empty(t, ids, "malformed rows index as empty")
}

func TestEngine_IndexFile_Errors(t *testing.T) {
	e, _ := New(DefaultOptions())
	err := e.IndexFile(filepath.Join(t.TempDir(), "missing.csv"), []string{"a"})
	assert.True(t, errors.Is(err, os.ErrNotExist))

	e, _ = New(DefaultOptions())
	assert.ErrorIs(t, e.IndexFile("data.parquet", []string{"a"}), ErrFormat)

	path := writeTempFile(t, "songs.csv", "title,artist\nx,y\n")
	e, _ = New(DefaultOptions())
	assert.ErrorIs(t, e.IndexFile(path, []string{"nope"}), ErrFormat)
}

func TestEngine_TopKDocs_ScoresDescending(t *testing.T) {
	e := newTestEngine(t, DefaultOptions(), "wall wall wall", "wall wall other", "wall other other")

	hits, err := e.TopKDocs(Broadcast("wall"), 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.True(t, hits[i-1].Score >= hits[i].Score, "scores must descend")
	}
	assert.EqualValues(t, 0, hits[0].DocID, "highest tf wins among equal-length docs")
}

// Two engines over the same corpus must agree regardless of how documents
// entered: in-memory rows or a CSV on disk.
func TestEngine_FileAndMemoryAgree(t *testing.T) {
	csvPath := writeTempFile(t, "c.csv", "title\nhello world\nhello there\ngoodbye world\n")

	opts := DefaultOptions()
	opts.NumPartitions = 2
	fileEng, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, fileEng.IndexFile(csvPath, []string{"title"}))

	memEng, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, memEng.IndexDocuments([]string{"title"}, [][]string{
		{"hello world"}, {"hello there"}, {"goodbye world"},
	}))

	for _, q := range []string{"hello", "world", "goodbye there"} {
		fs, fi, err := fileEng.TopKIndices(Broadcast(q), 3)
		require.NoError(t, err)
		ms, mi, err := memEng.TopKIndices(Broadcast(q), 3)
		require.NoError(t, err)
		require.Equal(t, mi, fi, "query %q", q)
		for i := range fs {
			assert.InDelta(t, ms[i], fs[i], 1e-9)
		}
	}
}

func TestEngine_DFLengthInvariantAfterBuild(t *testing.T) {
	opts := DefaultOptions()
	opts.NumPartitions = 3
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.IndexStrings(randomCorpus(100, 3)))

	// Each distinct (doc, term) pair is one posting; repeated tokens inflate
	// length beyond Σdf, so compare against distinct counts instead.
	var sumDF uint64
	for _, p := range e.parts {
		for _, df := range p.fields[0].df {
			sumDF += uint64(df)
		}
	}
	an := e.an
	var distinct uint64
	for _, doc := range randomCorpus(100, 3) {
		seen := make(map[string]bool)
		for _, tok := range an.tokens(doc) {
			seen[tok] = true
		}
		distinct += uint64(len(seen))
	}
	require.Equal(t, distinct, sumDF)
}

func TestEngine_PartitionDocCountsSum(t *testing.T) {
	opts := DefaultOptions()
	opts.NumPartitions = 4
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.IndexStrings(randomCorpus(37, 11)))

	var total uint64
	for _, p := range e.parts {
		total += p.numDocs
	}
	require.Equal(t, e.NumDocs(), total)
	assert.False(t, math.IsNaN(e.avgLen[0]))
}
