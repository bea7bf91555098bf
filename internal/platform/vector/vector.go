// Package vector defines the similarity-search contract the retrieval code
// depends on, keeping the concrete backend (Qdrant) swappable.
package vector

import "context"

// Match is one scored hit. Payload carries whatever the backend stored
// alongside the vector (policy_id, content, doc_type, ...).
type Match struct {
	Score   float64
	Payload map[string]any
}

type Query struct {
	Vector []float32
	TopK   int
	// ScoreThreshold drops hits scoring below it; 0 disables the cut.
	ScoreThreshold float64
	// Filter is an exact-match payload filter; nil means unfiltered.
	Filter map[string]any
}

type Store interface {
	Query(ctx context.Context, q Query) ([]Match, error)
}
