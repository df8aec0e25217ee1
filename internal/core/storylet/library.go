// Package storylet picks the narrative template for each episode.
package storylet

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/model"
)

// Selection is the chosen template plus, for crossovers, the partner.
type Selection struct {
	Template model.StoryletTemplate
	Partner  *model.Connection
}

type Library struct {
	templates []model.StoryletTemplate
	window    time.Duration
	arcBias   float64
	seed      uint64
}

func New(templates []model.StoryletTemplate, cfg config.StoryletConfig) (*Library, error) {
	seen := map[string]bool{}
	out := make([]model.StoryletTemplate, 0, len(templates))
	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("storylet %q has no id", t.Title)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate storylet id %s", t.ID)
		}
		seen[t.ID] = true
		if t.Weight <= 0 {
			t.Weight = 1
		}
		out = append(out, t)
	}
	bias := cfg.ArcBias
	if bias < 1 {
		bias = 1
	}
	return &Library{templates: out, window: cfg.Window(), arcBias: bias, seed: cfg.Seed}, nil
}

type file struct {
	Storylets []model.StoryletTemplate `toml:"storylet"`
}

// Load reads a TOML file of [[storylet]] tables.
func Load(path string) ([]model.StoryletTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storylets '%s': %w", path, err)
	}
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse storylets '%s': %w", path, err)
	}
	return f.Storylets, nil
}

func (l *Library) Len() int { return len(l.templates) }

func (l *Library) Get(id string) (model.StoryletTemplate, bool) {
	if id == model.DefaultStorylet.ID {
		return model.DefaultStorylet, true
	}
	for _, t := range l.templates {
		if t.ID == id {
			return t, true
		}
	}
	return model.StoryletTemplate{}, false
}

type candidate struct {
	t      model.StoryletTemplate
	weight float64
}

// eligible returns the templates hc may use with their selection weights.
func (l *Library) eligible(hc model.HeroContext) []candidate {
	var arcID string
	if hc.Canon.Arc != nil && hc.Canon.Arc.Active {
		arcID = hc.Canon.Arc.ID
	}
	partners := len(hc.ApprovedPartners()) > 0

	var out []candidate
	for _, t := range l.templates {
		if last, used := hc.StoryletUses[t.ID]; used && hc.Now.Sub(last) < l.window {
			continue
		}
		if t.Crossover && !partners {
			continue
		}
		if !Matches(t.Precondition, hc) {
			continue
		}
		w := t.Weight
		if arcID != "" && (t.ArcID == arcID || t.Precondition.ArcID == arcID) {
			w *= l.arcBias
		}
		out = append(out, candidate{t: t, weight: w})
	}
	return out
}

// Select draws one eligible template, weighted toward the active arc. The
// draw is seeded by hero and day so a retried run picks the same template.
// It fails with NO_ELIGIBLE_STORYLET; callers fall back to
// model.DefaultStorylet.
func (l *Library) Select(hc model.HeroContext) (Selection, error) {
	cands := l.eligible(hc)
	if len(cands) == 0 {
		return Selection{}, apperr.New(apperr.CodeNoEligibleStorylet, "no storylet eligible for hero %s", hc.Hero.ID)
	}
	rng := l.rng(hc)

	total := 0.0
	for _, c := range cands {
		total += c.weight
	}
	pick := rng.Float64() * total
	chosen := cands[len(cands)-1]
	for _, c := range cands {
		if pick < c.weight {
			chosen = c
			break
		}
		pick -= c.weight
	}

	sel := Selection{Template: chosen.t}
	if chosen.t.Crossover {
		partners := hc.ApprovedPartners()
		p := partners[rng.IntN(len(partners))]
		sel.Partner = &p
	}
	return sel, nil
}

// rng is seeded by hero and period, so reruns within one period draw the
// same sequence whatever the period's time zone.
func (l *Library) rng(hc model.HeroContext) *rand.Rand {
	period := hc.Period
	if period == "" {
		period = hc.Now.UTC().Format("2006-01-02")
	}
	h := fnv.New64a()
	h.Write([]byte(hc.Hero.ID))
	h.Write([]byte{0})
	h.Write([]byte(period))
	return rand.New(rand.NewPCG(l.seed, h.Sum64()))
}

// Matches evaluates a precondition. Empty fields do not constrain.
func Matches(p model.Precondition, hc model.HeroContext) bool {
	if len(p.PowerTypes) > 0 && !slices.Contains(p.PowerTypes, hc.Hero.PowerType) {
		return false
	}
	if len(p.Locations) > 0 && !slices.Contains(p.Locations, hc.Hero.LocationID) {
		return false
	}
	if p.MinEpisodes > 0 && hc.Hero.EpisodeCount < p.MinEpisodes {
		return false
	}
	if p.MaxEpisodes > 0 && hc.Hero.EpisodeCount > p.MaxEpisodes {
		return false
	}
	if p.ArcID != "" && (hc.Canon.Arc == nil || !hc.Canon.Arc.Active || hc.Canon.Arc.ID != p.ArcID) {
		return false
	}
	states := hc.Canon.ActiveWorldStates()
	for _, s := range p.RequiredWorldStates {
		if !states[s] {
			return false
		}
	}
	for _, s := range p.ForbiddenWorldStates {
		if states[s] {
			return false
		}
	}
	return true
}
