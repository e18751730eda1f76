package search

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// vectorStore keeps descriptor embeddings in an in-process chromem collection
type vectorStore struct {
	db  *chromem.DB
	col *chromem.Collection
}

func newVectorStore() (*vectorStore, error) {
	db := chromem.NewDB()

	// embeddings are always supplied by the caller, so no embedding func
	col, err := db.CreateCollection("api_catalog", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &vectorStore{db: db, col: col}, nil
}

func (v *vectorStore) add(ctx context.Context, id, content, domainName string, emb []float32) error {
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: emb,
		Metadata:  map[string]string{"domain": domainName},
	}
	if err := v.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s: %w", id, err)
	}
	return nil
}

// query returns up to n ids by cosine similarity, only positive similarities
func (v *vectorStore) query(ctx context.Context, emb []float32, n int) ([]scored, error) {
	count := v.col.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	// chromem requires nResults <= collection size
	if n > count {
		n = count
	}

	res, err := v.col.QueryEmbedding(ctx, emb, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]scored, 0, len(res))
	for _, r := range res {
		if r.Similarity <= 0 {
			continue
		}
		out = append(out, scored{id: r.ID, score: float64(r.Similarity)})
	}
	sortScored(out)
	return out, nil
}
