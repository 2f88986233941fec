package memory

import (
	"context"
	"testing"

	"github.com/loreworks/ragserve/internal/vector"
)

func doc(id string, vec []float32) vector.Document {
	return vector.Document{ID: id, Content: "content " + id, Vector: vec}
}

func TestSearch_RanksByCosineSimilarity(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.Upsert(ctx, []vector.Document{
		doc("1", []float32{1, 0}),
		doc("2", []float32{0, 1}),
		doc("3", []float32{0.7, 0.7}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := r.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "1" || results[1].ID != "3" || results[2].ID != "2" {
		t.Errorf("unexpected ranking: %s, %s, %s", results[0].ID, results[1].ID, results[2].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not non-increasing at %d", i)
		}
	}
}

func TestSearch_TiesBrokenByInsertionOrder(t *testing.T) {
	r := New()
	ctx := context.Background()

	// Identical vectors, identical scores
	r.Upsert(ctx, []vector.Document{
		doc("first", []float32{1, 1}),
		doc("second", []float32{1, 1}),
	})

	results, _ := r.Search(ctx, []float32{1, 1}, 2)
	if results[0].ID != "first" {
		t.Errorf("expected earlier document to win the tie, got %s", results[0].ID)
	}
}

func TestSearch_ClampsTopK(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.Upsert(ctx, []vector.Document{doc("1", []float32{1, 0})})

	results, err := r.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestSearch_EmptyRepository(t *testing.T) {
	r := New()
	results, err := r.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestUpsert_ReplacesById(t *testing.T) {
	r := New()
	ctx := context.Background()

	r.Upsert(ctx, []vector.Document{doc("1", []float32{1, 0})})
	r.Upsert(ctx, []vector.Document{{ID: "1", Content: "updated", Vector: []float32{0, 1}}})

	count, _ := r.Count(ctx)
	if count != 1 {
		t.Fatalf("expected 1 document after replace, got %d", count)
	}
	results, _ := r.Search(ctx, []float32{0, 1}, 1)
	if results[0].Content != "updated" {
		t.Errorf("expected updated content, got %q", results[0].Content)
	}
}

func TestClear_EmptiesRepository(t *testing.T) {
	r := New()
	ctx := context.Background()

	r.Upsert(ctx, []vector.Document{doc("1", []float32{1, 0}), doc("2", []float32{0, 1})})
	if err := r.Clear(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, _ := r.Count(ctx)
	if count != 0 {
		t.Fatalf("expected 0 documents after clear, got %d", count)
	}
}
