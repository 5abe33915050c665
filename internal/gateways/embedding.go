package gateways

import (
	"context"
	"hash/fnv"
	"math"
	"net/http"
	"time"

	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Embedder turns text into dense vectors for the embeddings stage.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

type httpEmbedder struct {
	baseURL string
	dims    int
	client  *http.Client
	log     *logger.Logger
}

// NewEmbedderFromEnv returns the HTTP embedder when EMBEDDING_SERVICE_URL is
// set, otherwise the deterministic local embedder.
func NewEmbedderFromEnv(baseLog *logger.Logger) Embedder {
	base := envutil.Str("EMBEDDING_SERVICE_URL", "")
	dims := envutil.Int("EMBEDDING_DIMENSIONS", 256)
	if base == "" {
		return NewLocalEmbedder(dims)
	}
	return &httpEmbedder{
		baseURL: base,
		dims:    dims,
		client:  &http.Client{Timeout: envutil.Duration("EMBEDDING_TIMEOUT", 60*time.Second)},
		log:     baseLog.With("gateway", "Embedding"),
	}
}

func (g *httpEmbedder) Dimensions() int { return g.dims }

func (g *httpEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Texts      []string `json:"texts"`
		Dimensions int      `json:"dimensions"`
	}{Texts: texts, Dimensions: g.dims}

	var out struct {
		Vectors [][]float32 `json:"vectors"`
	}
	if err := postJSON(ctx, g.client, g.baseURL+"/v1/embed", payload, &out); err != nil {
		return nil, err
	}
	return out.Vectors, nil
}

// LocalEmbedder produces deterministic hash-based vectors. Useless for
// semantic search but stable across reruns, which is what the pipeline's
// idempotency needs in development.
type LocalEmbedder struct {
	dims int
}

func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &LocalEmbedder{dims: dims}
}

func (g *LocalEmbedder) Dimensions() int { return g.dims }

func (g *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, g.dims)
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		seed := h.Sum64()
		var norm float64
		for d := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			v := float32(int64(seed>>33))/float32(math.MaxInt32) - 0.5
			vec[d] = v
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for d := range vec {
				vec[d] *= inv
			}
		}
		out[i] = vec
	}
	return out, nil
}
