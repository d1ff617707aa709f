// Package document manages the lifecycle of a document's chunks in the vector
// store: load, split, tag, add, and delete by document key.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/corpusd/internal/vector"
)

// Manager drives add/update/delete of documents against the vector store.
type Manager struct {
	store    vector.Store
	splitter Splitter
	log      *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(store vector.Store, splitter Splitter, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, splitter: splitter, log: log}
}

// Add loads the source at path, splits it into chunks, tags every chunk with
// the document key, page and category, and stores them.
func (m *Manager) Add(ctx context.Context, path, documentKey, title, category string) error {
	pages, err := Load(path)
	if err != nil {
		return err
	}

	var chunks []vector.Chunk
	for _, page := range pages {
		for _, text := range m.splitter.Split(page.Text) {
			chunks = append(chunks, vector.Chunk{
				ID:   uuid.NewString(),
				Text: text,
				Metadata: vector.Metadata{
					DocumentKey: documentKey,
					PageNumber:  page.Number,
					Category:    category,
					SourceTitle: title,
				},
			})
		}
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks produced from %s", ErrProcessing, path)
	}

	if err := m.store.Add(ctx, chunks); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	m.log.Info("document indexed", "document_key", documentKey, "chunks", len(chunks))
	return nil
}

// Update replaces a document with delete-then-add. The two calls are not
// atomic: between them the document is absent from the index and concurrent
// queries see partial results. A crash in the window leaves the document
// deleted; re-submitting the index job recovers.
func (m *Manager) Update(ctx context.Context, path, documentKey, title, category string) error {
	if _, err := m.Delete(ctx, documentKey); err != nil {
		return err
	}
	return m.Add(ctx, path, documentKey, title, category)
}

// Delete removes every chunk carrying the document key. It is idempotent:
// deleting an absent key reports false, never an error.
func (m *Manager) Delete(ctx context.Context, documentKey string) (bool, error) {
	deleted, err := m.store.DeleteByKey(ctx, documentKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if deleted == 0 {
		m.log.Info("document not present, nothing deleted", "document_key", documentKey)
		return false, nil
	}
	m.log.Info("document deleted", "document_key", documentKey, "chunks", deleted)
	return true, nil
}

// DisplayTitle strips the storage-id prefix from a name when one is present.
// Uploads land on the shared volume as "{uuid}_{original name}"; names whose
// first underscore-delimited segment is not a UUID pass through untouched, so
// underscores in the original filename survive.
func DisplayTitle(name string) string {
	if prefix, rest, ok := strings.Cut(name, "_"); ok && rest != "" {
		if _, err := uuid.Parse(prefix); err == nil {
			return rest
		}
	}
	return name
}
