package vector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// DocumentInput is a raw text document to ingest.
type DocumentInput struct {
	Content  string
	Metadata map[string]string
}

// Store is the text-level adapter over a Repository: it embeds incoming text,
// allocates document ids, and clamps queries to the collection size.
type Store struct {
	embedder Embedder
	repo     Repository

	mu     sync.Mutex
	nextID uint64
}

// NewStore creates a Store composing an embedder with a vector repository.
func NewStore(embedder Embedder, repo Repository) *Store {
	return &Store{embedder: embedder, repo: repo}
}

// Add embeds the given documents and upserts them, returning the assigned
// ids. Ids are monotonic within the collection's lifetime and are never
// reused until Clear resets the numbering.
func (s *Store) Add(ctx context.Context, docs []DocumentInput) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	s.mu.Lock()
	base := s.nextID
	s.nextID += uint64(len(docs))
	s.mu.Unlock()

	ids := make([]string, len(docs))
	stored := make([]Document, len(docs))
	for i, d := range docs {
		ids[i] = strconv.FormatUint(base+uint64(i)+1, 10)
		stored[i] = Document{
			ID:       ids[i],
			Content:  d.Content,
			Vector:   vectors[i],
			Metadata: d.Metadata,
		}
	}
	if err := s.repo.Upsert(ctx, stored); err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}
	return ids, nil
}

// Query embeds text and returns the k nearest documents. k is clamped to the
// collection size; an empty collection yields an empty result, not an error.
func (s *Store) Query(ctx context.Context, text string, k int) ([]SearchResult, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	if k <= 0 || k > count {
		k = count
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	results, err := s.repo.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}

// Count reports the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Clear removes all documents and restarts id numbering. Callers must not
// rely on id values surviving a clear.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	s.mu.Lock()
	s.nextID = 0
	s.mu.Unlock()
	return nil
}

// Close releases the underlying repository.
func (s *Store) Close() error {
	return s.repo.Close()
}
