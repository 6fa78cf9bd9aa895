package common

import "errors"

// Error taxonomy. Each sentinel is wrapped with
// github.com/pkg/errors at the point it is raised so callers get page/key
// context via errors.Cause without losing errors.Is compatibility.
var (
	// ErrStructureCorrupt: right-link chain broken, anchor out of range,
	// maxoff beyond page fill, or a varbyte stream that would overrun the
	// page. Fatal for the operation.
	ErrStructureCorrupt = errors.New("rum: index structure corrupt")

	// ErrItemTooLarge: a new entry tuple exceeds the per-tuple size limit and cannot
	// be converted to a posting-tree reference (e.g. the key alone is too
	// big).
	ErrItemTooLarge = errors.New("rum: item too large for a single page")

	// ErrCategoryMismatch: an entry tuple's category byte disagrees with
	// its declared null-ness.
	ErrCategoryMismatch = errors.New("rum: null category mismatch")

	// ErrConfigConflict: opclass Config() returned incompatible options.
	ErrConfigConflict = errors.New("rum: opclass configuration conflict")

	// ErrUnsupported: mark/restore requested, or partial match on a type
	// without ComparePartial, or a reverse-scan continuation requested on
	// a non-alt-order index.
	ErrUnsupported = errors.New("rum: unsupported operation")

	// ErrInterrupted: cooperative cancellation.
	ErrInterrupted = errors.New("rum: interrupted")

	// ErrRetryableRace: a posting-tree page was observed DELETED after
	// lock acquisition. Never surfaced to callers -- vacuum declines that
	// page's deletion and moves on, and no package currently returns this
	// error. Exported as a typed error so callers that need to recognize
	// it (tests) still can.
	ErrRetryableRace = errors.New("rum: page deleted concurrently, retry")

	// ErrClosed: the index file was already closed.
	ErrClosed = errors.New("rum: index closed")
)
