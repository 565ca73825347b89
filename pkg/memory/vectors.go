package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Embedding is a dense vector.
type Embedding []float32

// VectorHit is one similarity search result.
type VectorHit struct {
	ID    int64   `json:"id"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// VectorStore keeps text/embedding pairs for semantic recall. Embeddings are
// stored as little-endian float32 blobs; search is an in-process cosine scan,
// which is plenty at personal-node scale.
type VectorStore struct {
	store *Store
}

// NewVectorStore returns a vector store over the shared store.
func NewVectorStore(store *Store) *VectorStore {
	return &VectorStore{store: store}
}

// Add inserts a text with its embedding.
func (v *VectorStore) Add(ctx context.Context, text string, emb Embedding) (int64, error) {
	if len(emb) == 0 {
		return 0, fmt.Errorf("empty embedding")
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	res, err := v.store.db.ExecContext(ctx,
		`INSERT INTO vector_memory (text, embedding) VALUES (?, ?)`,
		text, encodeEmbedding(emb))
	if err != nil {
		return 0, fmt.Errorf("add vector: %w", err)
	}
	return res.LastInsertId()
}

// Search returns up to limit rows ranked by cosine similarity to query.
func (v *VectorStore) Search(ctx context.Context, query Embedding, limit int) ([]VectorHit, error) {
	rows, err := v.store.db.QueryContext(ctx, `SELECT id, text, embedding FROM vector_memory`)
	if err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []VectorHit
	for rows.Next() {
		var (
			id   int64
			text string
			blob []byte
		)
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return nil, err
		}
		emb := decodeEmbedding(blob)
		if len(emb) != len(query) {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Text: text, Score: cosine(query, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func encodeEmbedding(emb Embedding) []byte {
	out := make([]byte, 4*len(emb))
	for i, f := range emb {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(blob []byte) Embedding {
	emb := make(Embedding, len(blob)/4)
	for i := range emb {
		emb[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return emb
}

func cosine(a, b Embedding) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
