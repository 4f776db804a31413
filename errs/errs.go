// Package errs defines the error taxonomy shared by the append-merkle tree,
// flow store, transaction store, and log manager. Every exported operation
// that can fail with one of these kinds wraps a sentinel from this package
// with errors.Is-compatible %w formatting, so callers can distinguish
// expected outcomes (NotReady, OutOfRange) from storage failures without
// parsing error strings.
package errs

import "errors"

var (
	// OutOfRange is returned when an index falls outside the tree or flow.
	OutOfRange = errors.New("index out of range")
	// NotReady is returned when a proof is requested for a null leaf or an
	// incomplete range.
	NotReady = errors.New("not ready")
	// Missing is returned when a transaction, root, or snapshot is absent.
	Missing = errors.New("missing")
	// InvariantViolation is returned when a recompute would overwrite a
	// non-rightmost non-null node with a different value, or when a subtree
	// append breaks the alignment invariant.
	InvariantViolation = errors.New("invariant violation")
	// CorruptInput is returned when a byte slice length is not a multiple
	// of the entry size.
	CorruptInput = errors.New("corrupt input")
	// Storage is returned when the underlying key-value store fails.
	Storage = errors.New("storage error")
)
