// Package auditor scores emergent events and proposes the significant ones
// to Canon. It never activates Canon on its own; activation is the
// director's Approve.
package auditor

import (
	"context"
	"fmt"
	"time"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/core/novelty"
	"github.com/agenthands/genesis/internal/core/significance"
	"github.com/agenthands/genesis/internal/core/worldstate"
	"github.com/agenthands/genesis/internal/logger"
	"github.com/agenthands/genesis/internal/store"
)

type Decision string

const (
	Promote Decision = "promote"
	Reject  Decision = "reject"
	Defer   Decision = "defer"
)

// Review is the outcome for one event. ProposalID is set for promote and
// defer.
type Review struct {
	Decision   Decision         `json:"decision"`
	Conflicts  []canon.Conflict `json:"conflicts,omitempty"`
	ProposalID string           `json:"proposal_id,omitempty"`
}

type Stats struct {
	Scored        int `json:"scored"`
	OverThreshold int `json:"over_threshold"`
	Promoted      int `json:"promoted"`
	Deferred      int `json:"deferred"`
	Rejected      int `json:"rejected"`
	Errors        int `json:"errors"`
}

type Auditor struct {
	Store   store.Store
	Table   *canon.Table
	Novelty *novelty.Checker
	World   *worldstate.Summarizer

	Threshold       float64
	RequireDirector bool
	Lookback        time.Duration

	Now   func() time.Time
	NewID func() string
	log   *logger.Logger
}

func New(s store.Store, table *canon.Table, nov *novelty.Checker, world *worldstate.Summarizer, cfg config.AuditorConfig, newID func() string, log *logger.Logger) *Auditor {
	return &Auditor{
		Store:           s,
		Table:           table,
		Novelty:         nov,
		World:           world,
		Threshold:       cfg.Threshold,
		RequireDirector: cfg.RequireDirector,
		Lookback:        time.Duration(cfg.LookbackHours) * time.Hour,
		Now:             time.Now,
		NewID:           newID,
		log:             log.With("component", "auditor"),
	}
}

// Candidate is the Canon event an emergent event would become.
func (a *Auditor) Candidate(ev model.EmergentEvent) model.CanonEvent {
	var locs []string
	if ev.LocationID != "" {
		locs = []string{ev.LocationID}
	}
	return model.CanonEvent{
		ID:            a.NewID(),
		Title:         ev.Title,
		Description:   ev.Description,
		Timestamp:     ev.OccurredAt,
		Window:        model.TimeWindow{Start: ev.OccurredAt},
		Significance:  ev.Score,
		Status:        model.CanonProposed,
		LocationIDs:   locs,
		WorldStates:   ev.WorldStates,
		SourceEventID: ev.ID,
	}
}

// Review checks ev against active Canon. A contradiction rejects it.
// Otherwise a proposal is recorded and the decision is defer when a director
// must sign off, promote when not. Either way the proposal stays proposed
// until Approve.
func (a *Auditor) Review(ctx context.Context, ev model.EmergentEvent) (Review, error) {
	active, err := a.Store.ListCanonEvents(ctx, model.CanonActive)
	if err != nil {
		return Review{}, fmt.Errorf("failed to load active canon: %w", err)
	}
	cand := a.Candidate(ev)
	if conflicts := a.Table.Conflicts(cand, active); len(conflicts) > 0 {
		return Review{Decision: Reject, Conflicts: conflicts}, nil
	}
	id, err := a.Store.ProposeCanonEvent(ctx, cand)
	if err != nil {
		return Review{}, fmt.Errorf("failed to propose event %s: %w", ev.ID, err)
	}
	if a.RequireDirector {
		return Review{Decision: Defer, ProposalID: id}, nil
	}
	return Review{Decision: Promote, ProposalID: id}, nil
}

// RunNightly scores pending events from the lookback window, adds the
// scores to each hero's accumulator and reviews events over the threshold.
// Scored events over the threshold whose review never produced a decision
// are reviewed again without being re-scored or re-charged.
// One event failing does not stop the batch.
func (a *Auditor) RunNightly(ctx context.Context) (Stats, error) {
	var stats Stats
	f := model.EmergentFilter{Status: model.EmergentPending}
	if a.Lookback > 0 {
		f.Since = a.Now().Add(-a.Lookback)
	}
	pending, err := a.Store.ListEmergentEvents(ctx, f)
	if err != nil {
		return stats, fmt.Errorf("failed to list emergent events: %w", err)
	}
	unreviewed, err := a.unreviewed(ctx)
	if err != nil {
		return stats, err
	}
	history, err := a.Store.ListCanonEvents(ctx, model.CanonActive, model.CanonResolved, model.CanonProposed)
	if err != nil {
		return stats, fmt.Errorf("failed to load canon history: %w", err)
	}

	for _, ev := range append(unreviewed, pending...) {
		if err := ctx.Err(); err != nil {
			return stats, apperr.Wrap(apperr.CodeCancelled, err, "nightly audit")
		}
		log := a.log.With("event_id", ev.ID, "hero_id", ev.HeroID)

		if ev.Status == model.EmergentPending {
			match, err := a.Novelty.Equivalent(ctx, ev, history)
			if err != nil {
				// left pending for the next run
				log.Warn("novelty check failed", "error", err)
				stats.Errors++
				continue
			}
			ev.Score = significance.Score(ev.BaseMagnitude, significance.SocialContext{
				FriendReferenceCount: ev.FriendReferences,
				EquivalentInCanon:    match != nil,
			})
			ev.Status = model.EmergentScored
			// the pending to scored transition happens once, so the
			// accumulator is charged once
			if err := a.Store.UpdateEmergentEvent(ctx, ev); err != nil {
				log.Error("failed to persist score", "error", err)
				stats.Errors++
				continue
			}
			stats.Scored++
			if _, err := a.Store.AddHeroSignificance(ctx, ev.HeroID, ev.Score); err != nil {
				log.Error("failed to accumulate significance", "error", err)
				stats.Errors++
			}
		}

		if ev.Score <= a.Threshold {
			continue
		}
		stats.OverThreshold++
		r, err := a.Review(ctx, ev)
		if err != nil {
			// stays scored without a proposal; the next run reviews it again
			log.Error("review failed", "error", err)
			stats.Errors++
			continue
		}
		switch r.Decision {
		case Reject:
			stats.Rejected++
			ev.Status = model.EmergentRejected
			log.Info("event contradicts canon", "conflicts", len(r.Conflicts))
		case Defer:
			stats.Deferred++
			ev.Status = model.EmergentDeferred
			ev.ProposalID = r.ProposalID
		case Promote:
			stats.Promoted++
			ev.Status = model.EmergentProposed
			ev.ProposalID = r.ProposalID
		}
		if err := a.Store.UpdateEmergentEvent(ctx, ev); err != nil {
			log.Error("failed to persist review", "error", err)
			stats.Errors++
		}
		// proposals join history so later events in this batch see them
		if r.ProposalID != "" {
			cand, err := a.Store.GetCanonEvent(ctx, r.ProposalID)
			if err == nil {
				history = append(history, cand)
			}
		}
	}
	a.log.Info("nightly audit finished",
		"scored", stats.Scored, "over_threshold", stats.OverThreshold,
		"promoted", stats.Promoted, "deferred", stats.Deferred,
		"rejected", stats.Rejected, "errors", stats.Errors)
	return stats, nil
}

// unreviewed lists scored events over the threshold with no decision
// recorded. They are outside the lookback window on purpose: a review that
// keeps failing is retried until it succeeds.
func (a *Auditor) unreviewed(ctx context.Context) ([]model.EmergentEvent, error) {
	scored, err := a.Store.ListEmergentEvents(ctx, model.EmergentFilter{
		Status:   model.EmergentScored,
		MinScore: a.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unreviewed events: %w", err)
	}
	out := scored[:0]
	for _, ev := range scored {
		if ev.Score > a.Threshold && ev.ProposalID == "" {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListProposals returns Canon events awaiting a director.
func (a *Auditor) ListProposals(ctx context.Context) ([]model.CanonEvent, error) {
	return a.Store.ListCanonEvents(ctx, model.CanonProposed)
}

// Approve is the audited activation. It fails with CANON_CONFLICT when Canon
// changed since the proposal was made. NPC awareness is refreshed after a
// successful activation; a refresh failure is logged, not returned.
func (a *Auditor) Approve(ctx context.Context, proposalID, directorID string) (model.CanonEvent, error) {
	if directorID == "" {
		return model.CanonEvent{}, apperr.New(apperr.CodeInvalidArgument, "director id is required")
	}
	ev, err := a.Store.ActivateCanonEvent(ctx, proposalID, directorID)
	if err != nil {
		return model.CanonEvent{}, err
	}
	a.log.Info("canon event activated", "event_id", ev.ID, "director_id", directorID)
	if a.World != nil {
		if _, err := a.World.Refresh(ctx); err != nil {
			a.log.Warn("world state refresh failed", "error", err)
		}
	}
	return ev, nil
}

func (a *Auditor) Reject(ctx context.Context, proposalID, directorID, reason string) (model.CanonEvent, error) {
	if directorID == "" {
		return model.CanonEvent{}, apperr.New(apperr.CodeInvalidArgument, "director id is required")
	}
	ev, err := a.Store.RejectCanonEvent(ctx, proposalID, directorID, reason)
	if err != nil {
		return model.CanonEvent{}, err
	}
	a.log.Info("canon proposal rejected", "event_id", ev.ID, "director_id", directorID)
	return ev, nil
}
