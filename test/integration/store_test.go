//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/store"
)

func TestGraphStore_SequenceUnderContention(t *testing.T) {
	s, _ := newGraphStore(t)
	ctx := context.Background()
	heroID := uid("hero")
	require.NoError(t, s.UpsertHero(ctx, model.Hero{ID: heroID, DisplayName: "Nova", Status: model.HeroActive}))

	// every writer expects count 0; exactly one may win
	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateEpisode(ctx, model.Episode{ID: uid("ep"), HeroID: heroID, Period: "2026-03-01", Status: lifecycle.New()}, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.IsCode(err, apperr.CodeSequenceConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)

	h, err := s.GetHero(ctx, heroID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.EpisodeCount)
}

func TestGraphStore_CommitEpisode(t *testing.T) {
	s, _ := newGraphStore(t)
	ctx := context.Background()
	heroID, partnerID, locA, locB := uid("hero"), uid("hero"), uid("loc"), uid("loc")
	canonID := uid("canon")

	require.NoError(t, s.UpsertLocation(ctx, model.Location{ID: locA, Name: "Harbor"}))
	require.NoError(t, s.UpsertLocation(ctx, model.Location{ID: locB, Name: "Skyline"}))
	require.NoError(t, s.PutCanonEvent(ctx, model.CanonEvent{ID: canonID, Title: "Bridge", Status: model.CanonActive, LocationIDs: []string{locA}}))
	require.NoError(t, s.UpsertHero(ctx, model.Hero{ID: heroID, DisplayName: "Nova", Status: model.HeroActive, LocationID: locA}))
	require.NoError(t, s.UpsertHero(ctx, model.Hero{ID: partnerID, DisplayName: "Bolt", Status: model.HeroActive}))
	require.NoError(t, s.UpsertConnection(ctx, heroID, partnerID, model.ApprovalApproved))

	now := time.Now().UTC().Truncate(time.Second)
	ep, err := s.CreateEpisode(ctx, model.Episode{ID: uid("ep"), HeroID: heroID, Period: "2026-03-01", Status: lifecycle.New(), CreatedAt: now}, 0)
	require.NoError(t, err)

	ep.Title, ep.Synopsis = "Sparks", "Nova calms a storm."
	ep.CanonRefs = []string{canonID}
	ep.Panels = []model.Panel{{Number: 1, Prompt: "harbor", ImageRef: "https://img.test/1", SafetyScore: 0.95}}
	ep.Status = lifecycle.Status{Stage: lifecycle.PartialComplete, Reason: apperr.CodeExternalUnavailable}
	ep.CrossoverHeroID = partnerID
	ep.GeneratedAt = now

	evID := uid("emergent")
	_, err = s.CommitEpisode(ctx, ep, store.Commit{
		Events:          []model.EmergentEvent{{ID: evID, Title: "Storm calmed", BaseMagnitude: 6, LocationID: locA, OccurredAt: now, Status: model.EmergentPending}},
		StoryletUse:     &model.StoryletUse{StoryletID: "lost-signal", UsedAt: now},
		CrossoverHeroID: partnerID,
		LocationID:      locB,
	})
	require.NoError(t, err)

	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PartialComplete, got.Status.Stage)
	assert.Equal(t, []string{canonID}, got.CanonRefs)
	require.Len(t, got.Panels, 1)
	assert.Equal(t, "https://img.test/1", got.Panels[0].ImageRef)

	_, err = s.CommitEpisode(ctx, ep, store.Commit{LocationID: locA})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition), "a delivered episode is final")

	hc, err := s.GetHeroContext(ctx, heroID, store.ContextOptions{Period: "2026-03-01", Now: now, HistoryLimit: 10})
	require.NoError(t, err)
	assert.Equal(t, locB, hc.Hero.LocationID)
	assert.Equal(t, "2026-03-01", hc.Hero.LastEpisodePeriod)
	assert.Contains(t, hc.StoryletUses, "lost-signal")
	require.Len(t, hc.RecentEpisodes, 1)
	require.Len(t, hc.Connections, 1)
	assert.False(t, hc.Connections[0].PartnerEligible, "partner already crossed over this period")

	events, err := s.ListEmergentEvents(ctx, model.EmergentFilter{Status: model.EmergentPending, Since: now.Add(-time.Minute)})
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.ID == evID {
			found = true
			assert.Equal(t, ep.ID, e.EpisodeID)
		}
	}
	assert.True(t, found)
}

func TestGraphStore_CanonActivationConflict(t *testing.T) {
	s, _ := newGraphStore(t)
	ctx := context.Background()
	loc := uid("loc")
	require.NoError(t, s.UpsertLocation(ctx, model.Location{ID: loc, Name: "Skyline"}))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutCanonEvent(ctx, model.CanonEvent{
		ID: uid("canon"), Title: "Sealed", Status: model.CanonActive,
		LocationIDs: []string{loc}, WorldStates: []string{"sky_sealed"},
		Window: model.TimeWindow{Start: start},
	}))

	torn, err := s.ProposeCanonEvent(ctx, model.CanonEvent{
		ID: uid("canon"), Title: "Torn", LocationIDs: []string{loc}, WorldStates: []string{"sky_torn"},
		Window: model.TimeWindow{Start: start.Add(24 * time.Hour)},
	})
	require.NoError(t, err)

	_, err = s.ActivateCanonEvent(ctx, torn, "director-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeCanonConflict))
	ev, err := s.GetCanonEvent(ctx, torn)
	require.NoError(t, err)
	assert.Equal(t, model.CanonProposed, ev.Status, "a refused activation leaves the proposal untouched")

	rejected, err := s.RejectCanonEvent(ctx, torn, "director-1", "contradicts the sealed sky")
	require.NoError(t, err)
	assert.Equal(t, model.CanonRejected, rejected.Status)

	_, err = s.ActivateCanonEvent(ctx, torn, "director-1")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
}

func TestGraphStore_ConcurrentActivations(t *testing.T) {
	s, _ := newGraphStore(t)
	ctx := context.Background()
	loc := uid("loc")
	require.NoError(t, s.UpsertLocation(ctx, model.Location{ID: loc, Name: "Skyline"}))

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for _, state := range []string{"sky_sealed", "sky_torn"} {
		id, err := s.ProposeCanonEvent(ctx, model.CanonEvent{
			ID: uid("canon"), Title: state, LocationIDs: []string{loc}, WorldStates: []string{state},
			Window: model.TimeWindow{Start: start},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// two directors approve contradicting proposals at once; one must lose
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = s.ActivateCanonEvent(ctx, id, "director")
		}(i, id)
	}
	wg.Wait()

	ok, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsCode(err, apperr.CodeCanonConflict):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicted)
}
