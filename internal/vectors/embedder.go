// SPDX-License-Identifier: MIT

package vectors

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
)

// Embedder turns text into L2-normalised float32 vectors. All texts of one
// call share a model, so a rebuild embeds every document in the same space.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaEmbedder asks a local ollama runtime for embeddings.
type OllamaEmbedder struct {
	llm   *ollama.LLM
	model string
}

func NewOllamaEmbedder(host, model string) (*OllamaEmbedder, error) {
	llm, err := ollama.New(ollama.WithServerURL(host), ollama.WithModel(model))
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "create ollama embedder", err)
	}
	return &OllamaEmbedder{llm: llm, model: model}, nil
}

func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "ollama embedding", err)
	}
	if len(vecs) != len(texts) {
		return nil, fault.Newf(fault.Unavailable, "ollama returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for _, v := range vecs {
		normalize(v)
	}
	return vecs, nil
}

// hashDim is the feature-hash fallback dimensionality. Small enough to keep
// the index file trivial, large enough that catalog-sized vocabularies
// rarely collide.
const hashDim = 256

// HashEmbedder is a deterministic feature-hashing embedder used when no
// embedding runtime is reachable. Same text always yields the same vector,
// which keeps the fallback index stable across rebuilds.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{dim: hashDim} }

func (e *HashEmbedder) Name() string { return "feature-hash" }

func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		tokens := tokenize(text)
		for j, tok := range tokens {
			vec[bucket(tok, e.dim)]++
			if j > 0 {
				// Token bigrams give the bag-of-words vector a little
				// word-order signal.
				vec[bucket(tokens[j-1]+" "+tok, e.dim)]++
			}
		}
		normalize(vec)
		out[i] = vec
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func bucket(token string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(dim))
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// FallbackEmbedder probes a primary embedder and degrades permanently to
// the fallback after the first failure. Resolve picks the working embedder
// up front so a rebuild embeds everything in a single space.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
	degraded atomic.Bool
}

func NewFallbackEmbedder(primary, fallback Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, fallback: fallback}
}

func (e *FallbackEmbedder) Name() string {
	if e.degraded.Load() {
		return e.fallback.Name()
	}
	return e.primary.Name()
}

// Resolve returns the embedder to use for a whole build: the primary when a
// probe embedding succeeds, the fallback otherwise.
func (e *FallbackEmbedder) Resolve(ctx context.Context) Embedder {
	if e.degraded.Load() {
		return e.fallback
	}
	if _, err := e.primary.Embed(ctx, []string{"probe"}); err != nil {
		e.degraded.Store(true)
		logger := log.WithComponent("vectors")
		logger.Warn().Err(err).
			Str("fallback", e.fallback.Name()).Msg("primary embedder unreachable, degrading")
		return e.fallback
	}
	return e.primary
}

func (e *FallbackEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.Resolve(ctx).Embed(ctx, texts)
}

// Degraded reports whether the primary embedder has been abandoned.
func (e *FallbackEmbedder) Degraded() bool { return e.degraded.Load() }
