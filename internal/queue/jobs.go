// Package queue consumes document indexing and de-indexing jobs from durable
// Redis lists and drives the document lifecycle manager. Delivery is
// at-least-once; duplicate jobs are tolerated because the lifecycle
// operations are idempotent per document key.
package queue

// IndexJob asks for a document to be (re)indexed.
type IndexJob struct {
	DocumentID       int    `json:"documentId"`
	StoredName       string `json:"storedName"`
	OriginalFilename string `json:"originalFilename"`
	Category         string `json:"category,omitempty"`
}

// DeindexJob asks for a document's chunks to be removed.
type DeindexJob struct {
	DocumentID int `json:"documentId"`
}
