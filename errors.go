package ember

import "errors"

// ═══════════════════════════════════════════════════════════════════════════════
// ERROR KINDS
// ═══════════════════════════════════════════════════════════════════════════════
// Every failure surfaced by the engine wraps one of these sentinels, so callers
// can classify with errors.Is without parsing messages:
//
//	_, err := ember.Load(dir)
//	if errors.Is(err, ember.ErrCorruptIndex) { ... rebuild ... }
//
// Plain I/O failures (missing file, short read) are returned as the wrapped
// *os.PathError / io errors from the standard library.
// ═══════════════════════════════════════════════════════════════════════════════
var (
	// ErrConfig reports an invalid build configuration, e.g. MinDF > MaxDF
	// or a false-positive rate outside (0, 1).
	ErrConfig = errors.New("invalid configuration")

	// ErrFormat reports malformed input: a bad column name, a CSV file
	// without a header, a JSON line that is not an object.
	ErrFormat = errors.New("malformed input")

	// ErrCorruptIndex reports an unreadable saved index: CRC mismatch,
	// wrong magic, or an unsupported format version.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrState reports an operation issued in the wrong lifecycle phase:
	// querying before finalize, indexing after finalize, saving an empty
	// engine, or saving into a non-empty directory.
	ErrState = errors.New("invalid state")
)
