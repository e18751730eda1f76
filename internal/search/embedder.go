package search

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"

	"tlcharts/internal/config"

	"google.golang.org/genai"
)

var ErrEmptyText = errors.New("nothing to embed")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is an offline feature-hashing embedder over tokens and token bigrams
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dims)
	for i, t := range tokens {
		h.add(vec, t, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+t, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, ErrEmptyText
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	hs := fnv.New64a()
	_, _ = hs.Write([]byte(feature))
	sum := hs.Sum64()

	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

type embedContentFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// GenAIEmbedder embeds with the Gemini embedding models
type GenAIEmbedder struct {
	embed embedContentFunc
	model string
	task  string
}

func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("genai api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIEmbedder{
		embed: client.Models.EmbedContent,
		model: model,
		task:  "SEMANTIC_SIMILARITY",
	}, nil
}

func (g *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	res, err := g.embed(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: g.task},
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, errors.New("genai returned no embeddings")
	}
	return res.Embeddings[0].Values, nil
}

func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	case "genai":
		return NewGenAIEmbedder(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}
