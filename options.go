package ember

import (
	"fmt"
	"runtime"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BUILD CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════
// Options fixes everything about an index at build time. The engine is
// build-once, query-many: none of these can change after the first document
// is indexed.
//
// DF PRUNING:
// -----------
// MinDF and MaxDF prune the vocabulary at freeze, using document frequencies
// summed across all partitions. A term outside [MinDF, MaxDF] is removed from
// every partition's posting lists, exactly as if it had been a stopword.
//
// MaxDF accepts two shapes, matching common usage:
//   - a value in (0, 1) is a fraction of the corpus ("drop terms appearing
//     in more than half the documents" → MaxDF: 0.5)
//   - a value >= 1 is an absolute document count
// ═══════════════════════════════════════════════════════════════════════════════

// Options holds the build-time configuration of an engine.
type Options struct {
	// Stopwords is the set of lowercased tokens dropped during
	// tokenization. Use EnglishStopwords() for the builtin list, nil to
	// keep everything.
	Stopwords []string

	// MinDF drops terms whose corpus-wide document frequency is below
	// this value at freeze. Zero or one keeps everything.
	MinDF uint32

	// MaxDF drops terms whose corpus-wide document frequency exceeds it.
	// Values in (0, 1) are a fraction of the document count, values >= 1
	// an absolute count. Zero disables the cap.
	MaxDF float64

	// BloomFPR is the target false-positive rate of the per-partition
	// Bloom filters.
	BloomFPR float64

	// BloomDFThreshold excludes terms with document frequency above it
	// from the Bloom filters; such terms are tracked exactly instead.
	// Zero means every retained term enters the filter.
	BloomDFThreshold uint32

	// K1 and B are the BM25 tuning parameters.
	K1 float64
	B  float64

	// NumPartitions is the number of document partitions, which is also
	// the build and query parallelism. Zero means runtime.NumCPU().
	NumPartitions int

	// MaxTokenLength drops tokens longer than this many bytes. Zero
	// means the default of 64.
	MaxTokenLength int
}

// DefaultOptions returns the standard configuration: BM25 k1=1.5 b=0.75,
// one partition per CPU, no stopwords, no df pruning.
func DefaultOptions() Options {
	return Options{
		MinDF:          1,
		BloomFPR:       1e-6,
		K1:             1.5,
		B:              0.75,
		NumPartitions:  runtime.NumCPU(),
		MaxTokenLength: 64,
	}
}

// validate normalizes zero values and rejects inconsistent settings.
func (o *Options) validate() error {
	if o.NumPartitions < 0 {
		return fmt.Errorf("%w: NumPartitions must be >= 0, got %d", ErrConfig, o.NumPartitions)
	}
	if o.NumPartitions == 0 {
		o.NumPartitions = runtime.NumCPU()
	}
	if o.MaxTokenLength < 0 {
		return fmt.Errorf("%w: MaxTokenLength must be >= 0, got %d", ErrConfig, o.MaxTokenLength)
	}
	if o.MaxTokenLength == 0 {
		o.MaxTokenLength = 64
	}
	if o.BloomFPR <= 0 || o.BloomFPR >= 1 {
		return fmt.Errorf("%w: BloomFPR must be in (0, 1), got %g", ErrConfig, o.BloomFPR)
	}
	if o.K1 < 0 {
		return fmt.Errorf("%w: K1 must be >= 0, got %g", ErrConfig, o.K1)
	}
	if o.B < 0 || o.B > 1 {
		return fmt.Errorf("%w: B must be in [0, 1], got %g", ErrConfig, o.B)
	}
	if o.MaxDF < 0 {
		return fmt.Errorf("%w: MaxDF must be >= 0, got %g", ErrConfig, o.MaxDF)
	}
	if o.MaxDF >= 1 && float64(o.MinDF) > o.MaxDF {
		return fmt.Errorf("%w: MinDF %d exceeds MaxDF %g", ErrConfig, o.MinDF, o.MaxDF)
	}
	return nil
}

// resolveMaxDF converts the configured MaxDF into an absolute document count
// for a corpus of numDocs documents. Zero means "no cap".
func (o *Options) resolveMaxDF(numDocs uint64) uint32 {
	switch {
	case o.MaxDF == 0:
		return 0
	case o.MaxDF < 1:
		return uint32(o.MaxDF * float64(numDocs))
	default:
		return uint32(o.MaxDF)
	}
}
