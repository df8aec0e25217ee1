// Package orchestrator drives one episode per hero per period through the
// script, panel and video stages.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/budget"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/core/moderation"
	"github.com/agenthands/genesis/internal/core/script"
	"github.com/agenthands/genesis/internal/core/storylet"
	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/logger"
	"github.com/agenthands/genesis/internal/store"
	"github.com/agenthands/genesis/internal/video"
)

type Outcome string

const (
	Generated        Outcome = "generated"
	AlreadyGenerated Outcome = "already_generated"
	Failed           Outcome = "failed"
)

// Result is what a trigger returns. Episode is empty only when the run
// failed before an episode was created.
type Result struct {
	Status  Outcome       `json:"status"`
	Episode model.Episode `json:"episode"`
}

type Deps struct {
	Store     store.Store
	Locker    store.Locker
	Storylets *storylet.Library
	Writer    *script.Writer
	Gate      *moderation.Gate
	Images    llm.ImageGenerator
	Video     video.Composer
	Budget    *budget.Governor
}

type Orchestrator struct {
	Deps

	gen        config.GenerationConfig
	video      config.VideoConfig
	textPolicy config.Thresholds
	imgPolicy  config.Thresholds
	imageSize  string
	loc        *time.Location

	Now   func() time.Time
	NewID func() string
	log   *logger.Logger

	flight singleflight.Group
}

func New(d Deps, cfg *config.Config, newID func() string, log *logger.Logger) *Orchestrator {
	if d.Video == nil {
		d.Video = video.Unavailable{}
	}
	if d.Images == nil {
		d.Images = llm.Disabled{Name: "image generation"}
	}
	return &Orchestrator{
		Deps:       d,
		gen:        cfg.Generation,
		video:      cfg.Video,
		textPolicy: cfg.Moderation.Text,
		imgPolicy:  cfg.Moderation.Image,
		imageSize:  cfg.Image.Size,
		loc:        cfg.Generation.Location(),
		Now:        time.Now,
		NewID:      newID,
		log:        log.With("component", "orchestrator"),
	}
}

// Period is the generation period containing t.
func (o *Orchestrator) Period(t time.Time) string {
	return model.PeriodOf(t, o.loc)
}

// GenerateEpisode returns the hero's episode for the current period,
// generating it when none was delivered yet. Concurrent calls for the same
// hero and period share one run.
func (o *Orchestrator) GenerateEpisode(ctx context.Context, heroID string) (Result, error) {
	if heroID == "" {
		return Result{Status: Failed}, apperr.New(apperr.CodeInvalidArgument, "hero id is required")
	}
	period := o.Period(o.Now())
	v, err, shared := o.flight.Do(heroID+"|"+period, func() (any, error) {
		return o.generate(ctx, heroID, period)
	})
	if shared {
		o.log.Debug("joined in-flight generation", "hero_id", heroID, "period", period)
	}
	res, _ := v.(Result)
	return res, err
}

func (o *Orchestrator) generate(ctx context.Context, heroID, period string) (Result, error) {
	unlock, err := o.Locker.Lock(ctx, store.HeroLockKey(heroID))
	if err != nil {
		return Result{Status: Failed}, err
	}
	defer unlock()

	existing, err := o.Store.ListEpisodesForPeriod(ctx, heroID, period)
	if err != nil {
		return Result{Status: Failed}, err
	}
	for _, ep := range existing {
		if ep.Status.Delivered() {
			return Result{Status: AlreadyGenerated, Episode: ep}, nil
		}
	}
	for _, ep := range existing {
		if !ep.Status.Terminal() {
			o.abandon(ctx, ep)
		}
	}

	now := o.Now()
	hc, err := o.Store.GetHeroContext(ctx, heroID, store.ContextOptions{
		HistorySince: now.Add(-o.gen.HistoryWindow()),
		HistoryLimit: o.gen.HistoryLimit,
		Period:       period,
		Now:          now,
	})
	if err != nil {
		return Result{Status: Failed}, err
	}

	ep, err := o.create(ctx, hc, period, now)
	if err != nil {
		return Result{Status: Failed}, err
	}
	log := o.log.With("hero_id", heroID, "episode_id", ep.ID, "sequence", ep.Sequence)
	log.Info("generation started", "period", period)

	r := &run{o: o, ep: ep, hc: hc, log: log}
	if err := r.execute(ctx); err != nil {
		log.Warn("generation failed", "status", r.ep.Status.String(), "error", err)
		return Result{Status: Failed, Episode: r.ep}, err
	}
	log.Info("generation finished", "status", r.ep.Status.String())
	return Result{Status: Generated, Episode: r.ep}, nil
}

// abandon fails a run that a previous holder of the hero lock left behind.
func (o *Orchestrator) abandon(ctx context.Context, ep model.Episode) {
	st, err := ep.Status.Fail(apperr.CodeCancelled, "abandoned run")
	if err != nil {
		return
	}
	ep.Status = st
	ep.UpdatedAt = o.Now()
	if err := o.Store.SaveEpisode(ctx, ep); err != nil {
		o.log.Error("failed to close abandoned episode", "episode_id", ep.ID, "error", err)
		return
	}
	o.log.Warn("closed abandoned episode", "episode_id", ep.ID, "hero_id", ep.HeroID)
}

// create allocates the next sequence number, re-reading the hero count after
// a SEQUENCE_CONFLICT.
func (o *Orchestrator) create(ctx context.Context, hc model.HeroContext, period string, now time.Time) (model.Episode, error) {
	ep := model.Episode{
		ID:        o.NewID(),
		HeroID:    hc.Hero.ID,
		Period:    period,
		Status:    lifecycle.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	count := hc.Hero.EpisodeCount
	for attempt := 0; ; attempt++ {
		created, err := o.Store.CreateEpisode(ctx, ep, count)
		if err == nil {
			return created, nil
		}
		if !apperr.IsCode(err, apperr.CodeSequenceConflict) || attempt >= o.gen.SequenceConflictRetry {
			return model.Episode{}, err
		}
		h, herr := o.Store.GetHero(ctx, hc.Hero.ID)
		if herr != nil {
			return model.Episode{}, herr
		}
		o.log.Warn("sequence conflict, retrying", "hero_id", hc.Hero.ID, "expected", count, "actual", h.EpisodeCount)
		count = h.EpisodeCount
	}
}
