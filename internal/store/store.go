// Package store is the only writer of the Canon/Variant graph.
package store

import (
	"context"
	"time"

	"github.com/agenthands/genesis/internal/core/model"
)

// ContextOptions bound the hero history loaded by GetHeroContext.
type ContextOptions struct {
	HistorySince time.Time
	HistoryLimit int
	// Period is the current generation period, used for crossover
	// eligibility of connected heroes.
	Period string
	Now    time.Time
}

// Commit is everything persisted atomically with a finished episode.
type Commit struct {
	Events          []model.EmergentEvent
	StoryletUse     *model.StoryletUse
	CrossoverHeroID string
	// LocationID moves the hero when non-empty.
	LocationID string
}

// Store is the Graph Store Adapter.
type Store interface {
	GetHero(ctx context.Context, heroID string) (model.Hero, error)
	// GetHeroContext fails with NOT_FOUND for unknown heroes and NOT_ACTIVE
	// for heroes whose status is not active.
	GetHeroContext(ctx context.Context, heroID string, opts ContextOptions) (model.HeroContext, error)
	ListActiveHeroes(ctx context.Context) ([]model.Hero, error)
	AddHeroSignificance(ctx context.Context, heroID string, delta float64) (float64, error)

	// CreateEpisode allocates the next sequence number. expectedCount is the
	// hero's episode count as last read; a mismatch fails with
	// SEQUENCE_CONFLICT and nothing is written.
	CreateEpisode(ctx context.Context, ep model.Episode, expectedCount int) (model.Episode, error)
	// SaveEpisode checkpoints status and panels without touching the hero.
	SaveEpisode(ctx context.Context, ep model.Episode) error
	// CommitEpisode persists the episode, its panels and c in one
	// transaction.
	CommitEpisode(ctx context.Context, ep model.Episode, c Commit) (string, error)
	GetEpisode(ctx context.Context, episodeID string) (model.Episode, error)
	ListEpisodes(ctx context.Context, heroID string, limit int) ([]model.Episode, error)
	// ListEpisodesForPeriod returns the hero's episodes in period, newest
	// sequence first.
	ListEpisodesForPeriod(ctx context.Context, heroID, period string) ([]model.Episode, error)
	CreateReviewTicket(ctx context.Context, t model.ReviewTicket) error

	ProposeCanonEvent(ctx context.Context, ev model.CanonEvent) (string, error)
	// ActivateCanonEvent is serialized across all callers. It fails with
	// CANON_CONFLICT when the event contradicts active Canon.
	ActivateCanonEvent(ctx context.Context, id, approver string) (model.CanonEvent, error)
	RejectCanonEvent(ctx context.Context, id, director, reason string) (model.CanonEvent, error)
	GetCanonEvent(ctx context.Context, id string) (model.CanonEvent, error)
	// ListCanonEvents returns events in any of statuses, or all when none
	// are given.
	ListCanonEvents(ctx context.Context, statuses ...model.CanonStatus) ([]model.CanonEvent, error)
	UpdateNPCAwareness(ctx context.Context, summary string, at time.Time) (int, error)

	ListEmergentEvents(ctx context.Context, f model.EmergentFilter) ([]model.EmergentEvent, error)
	UpdateEmergentEvent(ctx context.Context, ev model.EmergentEvent) error
}

// Locker serializes work per key across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func HeroLockKey(heroID string) string { return "genesis:hero:" + heroID }
