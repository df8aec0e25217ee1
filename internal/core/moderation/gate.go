// Package moderation is the safety checkpoint every generated artifact passes
// before it is kept.
package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agenthands/genesis/internal/logger"
	"github.com/agenthands/genesis/internal/vision"
)

type TextClassifier interface {
	Moderate(ctx context.Context, text string) (map[string]float64, error)
}

type ImageClassifier interface {
	Annotate(ctx context.Context, uri string) (vision.Result, error)
}

type Result struct {
	Verdict Verdict  `json:"verdict"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Image is a generated panel. Prompt is scanned alongside the picture.
type Image struct {
	URI    string
	Prompt string
}

// Gate evaluates artifacts. Verdicts are cached per artifact and policy so a
// repeated artifact always gets the same answer.
type Gate struct {
	text  []TextClassifier
	image ImageClassifier
	cache *lru.Cache[string, Result]
	log   *logger.Logger
}

// NewGate wires the classifiers. image may be nil, in which case the image
// path only scans the prompt text.
func NewGate(text []TextClassifier, image ImageClassifier, cacheSize int, log *logger.Logger) (*Gate, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("moderation gate needs at least one text classifier")
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("verdict cache: %w", err)
	}
	return &Gate{text: text, image: image, cache: cache, log: log.With("component", "moderation")}, nil
}

func cacheKey(kind, policy string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(policy))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Gate) EvaluateText(ctx context.Context, text string, p Policy) (Result, error) {
	key := cacheKey("text", p.key(), text)
	if r, ok := g.cache.Get(key); ok {
		return r, nil
	}
	risks := map[string]float64{}
	if err := g.classifyText(ctx, text, "", risks); err != nil {
		return Result{}, err
	}
	r := score(risks, p)
	g.cache.Add(key, r)
	return r, nil
}

func (g *Gate) EvaluateImage(ctx context.Context, img Image, p Policy) (Result, error) {
	key := cacheKey("image", p.key(), img.URI, img.Prompt)
	if r, ok := g.cache.Get(key); ok {
		return r, nil
	}
	risks := map[string]float64{}
	if g.image != nil {
		res, err := g.image.Annotate(ctx, img.URI)
		if err != nil {
			return Result{}, err
		}
		merge(risks, res.Risks, "")
		if res.Text != "" {
			if err := g.classifyText(ctx, res.Text, "ocr:", risks); err != nil {
				return Result{}, err
			}
		}
	}
	if img.Prompt != "" {
		if err := g.classifyText(ctx, img.Prompt, "prompt:", risks); err != nil {
			return Result{}, err
		}
	}
	r := score(risks, p)
	g.cache.Add(key, r)
	return r, nil
}

func (g *Gate) classifyText(ctx context.Context, text, prefix string, into map[string]float64) error {
	for _, c := range g.text {
		risks, err := c.Moderate(ctx, text)
		if err != nil {
			return err
		}
		merge(into, risks, prefix)
	}
	return nil
}

func merge(into, risks map[string]float64, prefix string) {
	for cat, v := range risks {
		k := prefix + cat
		if v > into[k] {
			into[k] = v
		}
	}
}

func baseCategory(k string) string {
	for _, prefix := range []string{"ocr:", "prompt:"} {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			return k[len(prefix):]
		}
	}
	return k
}

// score is 1 minus the worst weighted risk.
func score(risks map[string]float64, p Policy) Result {
	worst := 0.0
	weighted := make(map[string]float64, len(risks))
	for k, v := range risks {
		w := math.Min(1, math.Max(0, v*p.weight(baseCategory(k))))
		weighted[k] = w
		worst = math.Max(worst, w)
	}
	s := math.Round((1-worst)*1e6) / 1e6
	r := Result{Score: s, Verdict: p.Decide(s)}
	if r.Verdict != Accept {
		limit := 1 - p.Accept
		keys := make([]string, 0, len(weighted))
		for k, w := range weighted {
			if w > limit {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.Reasons = append(r.Reasons, fmt.Sprintf("%s=%.2f", k, weighted[k]))
		}
	}
	return r
}
