// Package novelty decides whether an emergent event repeats something Canon
// already knows.
package novelty

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/logger"
)

// Checker compares events by normalized title and, when an embedder is
// configured, by cosine similarity of title and description.
type Checker struct {
	Embedder  llm.EmbedderClient
	Threshold float64

	vectors *lru.Cache[string, []float32]
	log     *logger.Logger
}

func NewChecker(embedder llm.EmbedderClient, threshold float64, log *logger.Logger) *Checker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.92
	}
	cache, _ := lru.New[string, []float32](1024)
	return &Checker{
		Embedder:  embedder,
		Threshold: threshold,
		vectors:   cache,
		log:       log.With("component", "novelty"),
	}
}

// Match is the Canon event an emergent event duplicates.
type Match struct {
	EventID    string
	Similarity float64
}

// Equivalent reports the first Canon event in history that ev repeats.
// Rejected proposals are not history.
func (c *Checker) Equivalent(ctx context.Context, ev model.EmergentEvent, history []model.CanonEvent) (*Match, error) {
	title := Normalize(ev.Title)
	var candidates []model.CanonEvent
	for _, h := range history {
		if h.Status == model.CanonRejected {
			continue
		}
		if title != "" && Normalize(h.Title) == title {
			return &Match{EventID: h.ID, Similarity: 1}, nil
		}
		candidates = append(candidates, h)
	}
	if c.Embedder == nil || len(candidates) == 0 {
		return nil, nil
	}

	v, err := c.embed(ctx, text(ev.Title, ev.Description))
	if err != nil {
		return nil, fmt.Errorf("failed to embed event %s: %w", ev.ID, err)
	}
	var best *Match
	for _, h := range candidates {
		hv, err := c.embed(ctx, text(h.Title, h.Description))
		if err != nil {
			return nil, fmt.Errorf("failed to embed canon event %s: %w", h.ID, err)
		}
		sim := Cosine(v, hv)
		if sim >= c.Threshold && (best == nil || sim > best.Similarity) {
			best = &Match{EventID: h.ID, Similarity: sim}
		}
	}
	if best != nil {
		c.log.Debug("semantic duplicate", "event_id", ev.ID, "canon_id", best.EventID, "similarity", best.Similarity)
	}
	return best, nil
}

func (c *Checker) embed(ctx context.Context, s string) ([]float32, error) {
	if v, ok := c.vectors.Get(s); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, s)
	if err != nil {
		return nil, llm.Classify(err, "embed")
	}
	c.vectors.Add(s, v)
	return v, nil
}

func text(title, description string) string {
	return strings.TrimSpace(title + ". " + description)
}

// Normalize lowercases s and collapses punctuation and whitespace runs.
func Normalize(s string) string {
	var sb strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// Cosine returns 0 for mismatched or zero vectors.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
