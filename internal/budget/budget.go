// Package budget throttles and caps spending on external generation.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
)

type Kind string

const (
	Text  Kind = "text"
	Image Kind = "image"
	Video Kind = "video"
)

// Costs are in abstract units shared by every cap.
var Costs = map[Kind]float64{
	Text:  1,
	Image: 4,
	Video: 25,
}

// Policy decides whether a hero may spend cost today. Check must not
// mutate; Charge is only called after every policy passed Check.
type Policy interface {
	Check(heroID string, k Kind, cost float64, day string) error
	Charge(heroID string, k Kind, cost float64, day string)
}

// Governor queues callers on a token bucket per kind, waiting at most
// MaxWait, then applies the cap policies.
type Governor struct {
	limiters map[Kind]*rate.Limiter
	policies []Policy
	MaxWait  time.Duration
	Now      func() time.Time
	loc      *time.Location

	mu sync.Mutex
}

func NewGovernor(cfg config.BudgetConfig, loc *time.Location, policies ...Policy) *Governor {
	if loc == nil {
		loc = time.UTC
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Governor{
		limiters: map[Kind]*rate.Limiter{
			Text:  rate.NewLimiter(perMinute(cfg.TextPerMinute), burst),
			Image: rate.NewLimiter(perMinute(cfg.ImagePerMinute), burst),
			Video: rate.NewLimiter(perMinute(cfg.VideoPerMinute), burst),
		},
		policies: policies,
		MaxWait:  time.Duration(cfg.MaxWaitSeconds) * time.Second,
		Now:      time.Now,
		loc:      loc,
	}
}

// PoliciesFrom builds the caps enabled in cfg. A zero limit disables a cap.
func PoliciesFrom(cfg config.BudgetConfig) []Policy {
	var out []Policy
	if cfg.PerHeroDaily > 0 {
		out = append(out, NewPerHeroCap(cfg.PerHeroDaily))
	}
	if cfg.GlobalDaily > 0 {
		out = append(out, NewGlobalCap(cfg.GlobalDaily, cfg.VideoFloorRatio))
	}
	return out
}

func perMinute(n float64) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n / 60)
}

func (g *Governor) day() string {
	return g.Now().In(g.loc).Format("2006-01-02")
}

// Acquire blocks until a k call for heroID may proceed. It fails with
// RATE_LIMITED when the queue wait would exceed MaxWait and with
// BUDGET_EXCEEDED when a cap denies the spend.
func (g *Governor) Acquire(ctx context.Context, heroID string, k Kind) error {
	if g == nil {
		return nil
	}
	if lim := g.limiters[k]; lim != nil {
		waitCtx := ctx
		if g.MaxWait > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, g.MaxWait)
			defer cancel()
		}
		if err := lim.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return apperr.Wrap(apperr.CodeCancelled, ctx.Err(), "waiting for %s budget", k)
			}
			return apperr.Wrap(apperr.CodeRateLimited, err, "%s queue full", k)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.day()
	cost := Costs[k]
	for _, p := range g.policies {
		if err := p.Check(heroID, k, cost, day); err != nil {
			return err
		}
	}
	for _, p := range g.policies {
		p.Charge(heroID, k, cost, day)
	}
	return nil
}

// Preflight reports whether a k call would pass the caps right now without
// spending anything.
func (g *Governor) Preflight(heroID string, k Kind) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.day()
	for _, p := range g.policies {
		if err := p.Check(heroID, k, Costs[k], day); err != nil {
			return err
		}
	}
	return nil
}

var errExceeded = errors.New("budget exceeded")

// PerHeroCap limits what one hero spends per day.
type PerHeroCap struct {
	Limit float64
	day   string
	spent map[string]float64
}

func NewPerHeroCap(limit float64) *PerHeroCap {
	return &PerHeroCap{Limit: limit, spent: map[string]float64{}}
}

func (c *PerHeroCap) roll(day string) {
	if c.day != day {
		c.day = day
		c.spent = map[string]float64{}
	}
}

func (c *PerHeroCap) Check(heroID string, k Kind, cost float64, day string) error {
	c.roll(day)
	if c.spent[heroID]+cost > c.Limit {
		return apperr.Wrap(apperr.CodeBudgetExceeded, errExceeded, "hero %s daily cap %.0f", heroID, c.Limit)
	}
	return nil
}

func (c *PerHeroCap) Charge(heroID string, k Kind, cost float64, day string) {
	c.roll(day)
	c.spent[heroID] += cost
}

// GlobalCap limits total daily spend. Once spend reaches FloorRatio of the
// limit, video is refused so the remaining budget goes to scripts and panels.
type GlobalCap struct {
	Limit      float64
	FloorRatio float64
	day        string
	spent      float64
}

func NewGlobalCap(limit, floorRatio float64) *GlobalCap {
	return &GlobalCap{Limit: limit, FloorRatio: floorRatio}
}

func (c *GlobalCap) roll(day string) {
	if c.day != day {
		c.day = day
		c.spent = 0
	}
}

func (c *GlobalCap) Check(_ string, k Kind, cost float64, day string) error {
	c.roll(day)
	if c.spent+cost > c.Limit {
		return apperr.Wrap(apperr.CodeBudgetExceeded, errExceeded, "global daily cap %.0f", c.Limit)
	}
	if k == Video && c.FloorRatio > 0 && c.spent+cost > c.Limit*c.FloorRatio {
		return apperr.Wrap(apperr.CodeBudgetExceeded, errExceeded, "video paused above %.0f%% of global cap", c.FloorRatio*100)
	}
	return nil
}

func (c *GlobalCap) Charge(_ string, _ Kind, cost float64, day string) {
	c.roll(day)
	c.spent += cost
}
