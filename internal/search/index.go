package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tlcharts/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

const (
	rrfK          = 60.0
	minSimilarity = 0.05
)

type Catalog interface {
	All() []domain.APIDescriptor
}

type Options struct {
	Mode Mode
	TopK int
}

// Index ranks catalog descriptors against free-text queries
type Index struct {
	docs     []indexedDoc
	byID     map[string]int
	embedder Embedder
	mode     Mode
	topK     int
	log      logger.Logger

	mu    sync.Mutex
	ready atomic.Bool
	vec   *vectorStore
}

func New(cat Catalog, emb Embedder, opts Options, log logger.Logger) *Index {
	apis := cat.All()
	ix := &Index{
		docs:     make([]indexedDoc, 0, len(apis)),
		byID:     make(map[string]int, len(apis)),
		embedder: emb,
		mode:     opts.Mode,
		topK:     opts.TopK,
		log:      log,
	}
	if ix.mode == "" {
		ix.mode = ModeHybrid
	}
	if ix.topK <= 0 {
		ix.topK = 5
	}
	if ix.embedder == nil {
		ix.mode = ModeKeyword
	}

	for _, a := range apis {
		ix.byID[a.ID] = len(ix.docs)
		ix.docs = append(ix.docs, newIndexedDoc(a))
	}
	return ix
}

func (ix *Index) Mode() Mode {
	return ix.mode
}

func (ix *Index) Ready() bool {
	return ix.ready.Load()
}

// Init builds the embedding collection once. Concurrent callers block on the
// same build; a failed build leaves the index uninitialized so a later call retries.
func (ix *Index) Init(ctx context.Context) error {
	if ix.ready.Load() {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.ready.Load() {
		return nil
	}

	if ix.mode == ModeKeyword {
		ix.ready.Store(true)
		return nil
	}

	start := time.Now()
	vs, err := newVectorStore()
	if err != nil {
		return err
	}
	for i := range ix.docs {
		d := &ix.docs[i]
		text := d.text()
		emb, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", d.api.ID, err)
		}
		if err = vs.add(ctx, d.api.ID, text, d.api.Domain, emb); err != nil {
			return err
		}
	}

	ix.vec = vs
	ix.ready.Store(true)
	ix.log.Infof("search index ready: mode=%s docs=%d took=%s", ix.mode, len(ix.docs), time.Since(start))
	return nil
}

// Search returns the top descriptors for query, limit<=0 means the configured top_k.
// Embedding failures degrade to lexical ranking.
func (ix *Index) Search(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return domain.SearchResult{}, err
	}
	if limit <= 0 {
		limit = ix.topK
	}

	mode := ix.mode
	if mode != ModeKeyword {
		if err := ix.Init(ctx); err != nil {
			ix.log.Warnf("search index init failed, using keyword ranking: %v", err)
			mode = ModeKeyword
		}
	}

	kw := keywordRank(ix.docs, query)

	var ranked []scored
	switch mode {
	case ModeKeyword:
		ranked = kw
	case ModeVector:
		vr, err := ix.vectorRank(ctx, query)
		if err != nil {
			ix.log.Warnf("vector search failed, using keyword ranking: %v", err)
			ranked = kw
		} else {
			ranked = vr
		}
	default:
		vr, err := ix.vectorRank(ctx, query)
		if err != nil {
			ix.log.Warnf("vector search failed, using keyword ranking: %v", err)
			ranked = kw
		} else {
			ranked = fuse(kw, vr)
		}
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	lexical := make(map[string]float64, len(kw))
	for _, k := range kw {
		lexical[k.id] = k.score
	}

	res := domain.SearchResult{
		APIs:    make([]domain.APIDescriptor, 0, len(ranked)),
		Scores:  make([]float64, 0, len(ranked)),
		Lexical: make([]float64, 0, len(ranked)),
	}
	for _, r := range ranked {
		res.APIs = append(res.APIs, ix.docs[ix.byID[r.id]].api)
		res.Scores = append(res.Scores, r.score)
		res.Lexical = append(res.Lexical, lexical[r.id])
	}
	res.TotalResults = len(res.APIs)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	return res, nil
}

func (ix *Index) vectorRank(ctx context.Context, query string) ([]scored, error) {
	emb, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, ErrEmptyText) {
			return nil, nil
		}
		return nil, err
	}

	res, err := ix.vec.query(ctx, emb, len(ix.docs))
	if err != nil {
		return nil, err
	}

	out := res[:0]
	for _, r := range res {
		if r.score >= minSimilarity {
			out = append(out, r)
		}
	}
	return out, nil
}

// fuse merges two rankings with reciprocal-rank fusion. The reported score of a
// fused hit is the best relevance it had in either list.
func fuse(lists ...[]scored) []scored {
	rrf := make(map[string]float64)
	best := make(map[string]float64)
	for _, l := range lists {
		for rank, s := range l {
			rrf[s.id] += 1 / (rrfK + float64(rank+1))
			if s.score > best[s.id] {
				best[s.id] = s.score
			}
		}
	}

	order := make([]scored, 0, len(rrf))
	for id, v := range rrf {
		order = append(order, scored{id: id, score: v})
	}
	sortScored(order)

	for i := range order {
		order[i].score = best[order[i].id]
	}
	return order
}
