// Package memory provides an in-process vector repository using brute-force
// cosine similarity. It is the default backend for tests and single-node
// deployments without a Qdrant instance.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/loreworks/ragserve/internal/vector"
)

// Repository stores documents in insertion order and searches by cosine
// similarity. Ties are broken by insertion order, earlier document first.
type Repository struct {
	mu   sync.RWMutex
	docs []vector.Document
}

// New creates an empty in-memory repository.
func New() *Repository { return &Repository{} }

func (r *Repository) Upsert(_ context.Context, docs []vector.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		if i := r.indexOf(d.ID); i >= 0 {
			r.docs[i] = d
			continue
		}
		r.docs = append(r.docs, d)
	}
	return nil
}

func (r *Repository) Search(_ context.Context, vec []float32, topK int) ([]vector.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if topK <= 0 || topK > len(r.docs) {
		topK = len(r.docs)
	}
	if topK == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float32
	}
	scores := make([]scored, len(r.docs))
	for i, d := range r.docs {
		scores[i] = scored{idx: i, score: cosine(vec, d.Vector)}
	}
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].score > scores[b].score
	})

	results := make([]vector.SearchResult, topK)
	for i := 0; i < topK; i++ {
		d := r.docs[scores[i].idx]
		results[i] = vector.SearchResult{
			ID:       d.ID,
			Score:    scores[i].score,
			Content:  d.Content,
			Metadata: d.Metadata,
		}
	}
	return results, nil
}

func (r *Repository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs), nil
}

func (r *Repository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = nil
	return nil
}

func (r *Repository) Close() error { return nil }

// indexOf is called with the lock held.
func (r *Repository) indexOf(id string) int {
	for i := range r.docs {
		if r.docs[i].ID == id {
			return i
		}
	}
	return -1
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
