package document

import "errors"

// Lifecycle error taxonomy. Callers map these to their own surfaces: the job
// consumer logs them and reports FAILURE, an HTTP caller would map ErrNotFound
// to 404 and the rest to 500.
var (
	// ErrNotFound means the source document path does not exist.
	ErrNotFound = errors.New("document: source not found")
	// ErrProcessing means loading or splitting the source failed.
	ErrProcessing = errors.New("document: processing failed")
	// ErrStore means the backing vector store rejected the mutation.
	ErrStore = errors.New("document: store unavailable")
)
