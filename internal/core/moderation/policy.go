package moderation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/model"
)

type Verdict string

const (
	Accept     Verdict = "accept"
	Regenerate Verdict = "regenerate"
	Escalate   Verdict = "escalate"
)

// Policy is the per-hero configuration a verdict is computed against.
type Policy struct {
	Accept float64
	Review float64
	// Weights scale each category's risk. Missing categories weigh 1.
	Weights map[string]float64
}

// Decide applies the fixed verdict rule.
func (p Policy) Decide(score float64) Verdict {
	switch {
	case score >= p.Accept:
		return Accept
	case score >= p.Review:
		return Regenerate
	default:
		return Escalate
	}
}

func (p Policy) weight(category string) float64 {
	if w, ok := p.Weights[category]; ok {
		return w
	}
	return 1
}

// key identifies the policy in the verdict cache.
func (p Policy) key() string {
	cats := make([]string, 0, len(p.Weights))
	for c := range p.Weights {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	var b strings.Builder
	fmt.Fprintf(&b, "%.4f/%.4f", p.Accept, p.Review)
	for _, c := range cats {
		fmt.Fprintf(&b, "/%s=%.4f", c, p.Weights[c])
	}
	return b.String()
}

var violenceCategories = []string{"violence", "violence_graphic", "harassment_threatening", "hate_threatening"}

// PolicyFor derives a policy from the configured thresholds and the hero's
// guardian settings. Violence level 1 is the strictest.
func PolicyFor(th config.Thresholds, cs model.ContentSettings) Policy {
	p := Policy{Accept: th.Accept, Review: th.Review, Weights: map[string]float64{}}

	var vw, shift float64
	switch {
	case cs.ViolenceLevel <= 1:
		vw, shift = 1.5, 0.05
	case cs.ViolenceLevel == 2:
		vw, shift = 1.0, 0
	default:
		vw, shift = 0.6, -0.05
	}
	for _, c := range violenceCategories {
		p.Weights[c] = vw
	}
	p.Accept = math.Min(0.99, math.Max(p.Review, p.Accept+shift))

	if cs.LanguageFilter {
		p.Weights[CategoryProfanity] = 1.5
	} else {
		p.Weights[CategoryProfanity] = 0.3
	}
	return p
}
