// Package jobs holds the batch runners the scheduler and the HTTP triggers
// share.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/auditor"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/core/orchestrator"
	"github.com/agenthands/genesis/internal/logger"
)

// ErrAlreadyRunning is returned when a batch is triggered while the previous
// one is still going.
var ErrAlreadyRunning = errors.New("batch already running")

type HeroLister interface {
	ListActiveHeroes(ctx context.Context) ([]model.Hero, error)
}

type Generator interface {
	GenerateEpisode(ctx context.Context, heroID string) (orchestrator.Result, error)
}

type HeroError struct {
	HeroID string      `json:"hero_id"`
	Code   apperr.Code `json:"code"`
}

type DailyStats struct {
	Processed        int           `json:"processed"`
	Generated        int           `json:"generated"`
	AlreadyGenerated int           `json:"already_generated"`
	Failed           int           `json:"failed"`
	Errors           []HeroError   `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// DailyRunner generates the period's episode for every active hero.
type DailyRunner struct {
	Heroes      HeroLister
	Generator   Generator
	Concurrency int
	log         *logger.Logger

	running sync.Mutex
}

func NewDailyRunner(heroes HeroLister, gen Generator, concurrency int, log *logger.Logger) *DailyRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &DailyRunner{Heroes: heroes, Generator: gen, Concurrency: concurrency, log: log.With("component", "daily")}
}

// Run fans out over the active heroes with at most Concurrency runs in
// flight. A failing hero never stops the batch; only listing errors and
// cancellation are returned.
func (d *DailyRunner) Run(ctx context.Context) (DailyStats, error) {
	if !d.running.TryLock() {
		return DailyStats{}, ErrAlreadyRunning
	}
	defer d.running.Unlock()

	start := time.Now()
	heroes, err := d.Heroes.ListActiveHeroes(ctx)
	if err != nil {
		return DailyStats{}, err
	}
	d.log.Info("daily batch started", "heroes", len(heroes), "concurrency", d.Concurrency)

	var (
		mu    sync.Mutex
		stats DailyStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Concurrency)
	for _, h := range heroes {
		heroID := h.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := d.Generator.GenerateEpisode(gctx, heroID)

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			switch {
			case err != nil:
				stats.Failed++
				stats.Errors = append(stats.Errors, HeroError{HeroID: heroID, Code: apperr.GetCode(err)})
				d.log.Warn("hero failed", "hero_id", heroID, "error", err)
			case res.Status == orchestrator.AlreadyGenerated:
				stats.AlreadyGenerated++
			default:
				stats.Generated++
			}
			return nil
		})
	}
	err = g.Wait()
	stats.Duration = time.Since(start)
	d.log.Info("daily batch finished",
		"processed", stats.Processed,
		"generated", stats.Generated,
		"already_generated", stats.AlreadyGenerated,
		"failed", stats.Failed,
		"duration", stats.Duration)
	if err != nil {
		return stats, apperr.Wrap(apperr.CodeCancelled, err, "daily batch")
	}
	return stats, nil
}

type Auditor interface {
	RunNightly(ctx context.Context) (auditor.Stats, error)
}

// NightlyRunner serializes audit runs.
type NightlyRunner struct {
	Auditor Auditor
	log     *logger.Logger

	running sync.Mutex
}

func NewNightlyRunner(a Auditor, log *logger.Logger) *NightlyRunner {
	return &NightlyRunner{Auditor: a, log: log.With("component", "nightly")}
}

func (n *NightlyRunner) Run(ctx context.Context) (auditor.Stats, error) {
	if !n.running.TryLock() {
		return auditor.Stats{}, ErrAlreadyRunning
	}
	defer n.running.Unlock()

	start := time.Now()
	stats, err := n.Auditor.RunNightly(ctx)
	if err != nil {
		n.log.Error("nightly audit failed", "error", err)
		return stats, err
	}
	n.log.Info("nightly audit finished", "stats", stats, "duration", time.Since(start))
	return stats, nil
}
