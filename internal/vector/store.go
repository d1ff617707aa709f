// Package vector defines the contract to the backing vector index. Both the
// indexing pipeline and the retrieval engine speak to the index through the
// Store interface; the engine behind it is external.
package vector

import "context"

// Metadata is the payload attached to every stored chunk. All chunks cut from
// one document carry the same DocumentKey, which is what bulk deletion keys on.
type Metadata struct {
	DocumentKey string
	PageNumber  int
	Category    string
	SourceTitle string
}

// Chunk is the atomic unit of storage and retrieval.
type Chunk struct {
	ID       string
	Text     string
	Metadata Metadata
}

// SearchResult is a single match from a search, transient per query.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Filter scopes a search. The zero value matches everything.
type Filter struct {
	Category string
}

// Store provides chunk storage and both search legs over the backing index.
// No transactional guarantee holds across calls.
type Store interface {
	// Add stores the given chunks.
	Add(ctx context.Context, chunks []Chunk) error
	// DeleteByKey removes every chunk whose document key matches and
	// reports how many were removed.
	DeleteByKey(ctx context.Context, documentKey string) (uint64, error)
	// SimilaritySearch returns the top-k nearest chunks to the query.
	SimilaritySearch(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error)
	// KeywordSearch returns up to k chunks ranked by lexical match.
	KeywordSearch(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}

// Embedder turns text into vectors. The computation itself is an external
// collaborator.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
