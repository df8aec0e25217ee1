package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/driver"
	"github.com/agenthands/genesis/internal/logger"
)

func newGraphStore(m *MockDriver) *GraphStore {
	table := canon.NewTable([]config.ExclusivePair{{A: "sky_sealed", B: "sky_torn"}})
	g := NewGraphStore(m, table, logger.NewNop())
	g.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestGraphStore_GetHero(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)

	_, err := g.GetHero(context.Background(), "h1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	m.On(driver.GetHeroQuery, record("hero", map[string]any{
		"id": "h1", "display_name": "Nova", "status": "active", "episode_count": int64(4),
		"violence_level": int64(2), "created_at": "2026-01-01T00:00:00.000000000Z",
	}))
	h, err := g.GetHero(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "Nova", h.DisplayName)
	assert.Equal(t, 4, h.EpisodeCount)
	assert.Equal(t, 2, h.ContentSettings.ViolenceLevel)
	assert.Equal(t, 2026, h.CreatedAt.Year())
	assert.Equal(t, "h1", m.ran(driver.GetHeroQuery)[1].Params["hero_id"])
}

func TestGraphStore_GetHeroContext(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)
	m.On(driver.GetHeroQuery, record("hero", map[string]any{"id": "h1", "status": "suspended"}))

	_, err := g.GetHeroContext(context.Background(), "h1", ContextOptions{})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotActive))

	m.On(driver.GetHeroQuery, record("hero", map[string]any{"id": "h1", "status": "active"}))
	m.On(driver.GetActiveCanonEventsQuery, record("event", map[string]any{
		"id": "c1", "status": "active", "location_ids": []any{"loc-1"}, "world_states": []any{"sky_sealed"},
	}))
	m.On(driver.GetCanonWorldQuery, record(
		"locations", []any{map[string]any{"id": "loc-1", "name": "Harbor"}},
		"npcs", []any{map[string]any{"id": "npc-1", "name": "Mira"}},
		"arc", map[string]any{"id": "arc-1", "title": "Skyfall", "active": true},
	))
	m.On(driver.GetRecentEpisodesQuery, record(
		"episode", map[string]any{"id": "e1", "stage": "complete", "sequence": int64(1)},
		"panels", []any{map[string]any{"number": int64(1), "dialogue": `[{"character":"Nova","text":"Hi"}]`}},
	))
	m.On(driver.GetStoryletUsesQuery, record("storylet_id", "lost-signal", "used_at", "2026-02-20T00:00:00.000000000Z"))
	m.On(driver.GetConnectionsQuery, record(
		"partner_id", "h2", "partner_name", "Bolt", "partner_power_type", "speed",
		"approval_status", "approved", "partner_eligible", true,
	))

	hc, err := g.GetHeroContext(context.Background(), "h1", ContextOptions{Period: "2026-03-01", HistoryLimit: 5})
	require.NoError(t, err)
	require.Len(t, hc.Canon.Events, 1)
	assert.True(t, hc.Canon.ActiveWorldStates()["sky_sealed"])
	assert.Equal(t, "Harbor", hc.Canon.Locations[0].Name)
	assert.Equal(t, "Mira", hc.Canon.NPCs[0].Name)
	require.NotNil(t, hc.Canon.Arc)
	assert.Equal(t, "arc-1", hc.Canon.Arc.ID)
	require.Len(t, hc.RecentEpisodes, 1)
	assert.Equal(t, lifecycle.Complete, hc.RecentEpisodes[0].Status.Stage)
	assert.Equal(t, "Hi", hc.RecentEpisodes[0].Panels[0].Dialogue[0].Text)
	assert.Equal(t, 20, hc.StoryletUses["lost-signal"].Day())
	require.Len(t, hc.Connections, 1)
	assert.True(t, hc.Connections[0].PartnerEligible)
	assert.Equal(t, "2026-03-01", m.ran(driver.GetConnectionsQuery)[0].Params["period"])
	assert.Equal(t, int64(5), m.ran(driver.GetRecentEpisodesQuery)[0].Params["limit"])
}

func TestGraphStore_CreateEpisode(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)
	ep := model.Episode{ID: "e1", HeroID: "h1", Period: "2026-03-01"}

	_, err := g.CreateEpisode(context.Background(), ep, 3)
	assert.True(t, apperr.IsCode(err, apperr.CodeSequenceConflict))
	assert.Equal(t, 0, m.Writes)

	m.On(driver.CreateEpisodeQuery, record("sequence", int64(4)))
	got, err := g.CreateEpisode(context.Background(), ep, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Sequence)
	assert.Equal(t, lifecycle.Created, got.Status.Stage)
	params := m.ran(driver.CreateEpisodeQuery)[0].Params
	assert.Equal(t, int64(3), params["expected"])
	assert.Equal(t, "created", params["stage"])
}

func TestGraphStore_CommitEpisode_SingleTransaction(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)
	m.On(driver.SaveEpisodeQuery, record("id", "e1"))

	ep := model.Episode{
		ID: "e1", HeroID: "h1", Period: "2026-03-01",
		Status:    lifecycle.Status{Stage: lifecycle.Complete},
		Panels:    []model.Panel{{Number: 1, Prompt: "p"}},
		CanonRefs: []string{"c1"},
		Video:     &model.Video{URL: "https://v/1.mp4", DurationSeconds: 60},
	}
	_, err := g.CommitEpisode(context.Background(), ep, Commit{
		Events:          []model.EmergentEvent{{ID: "x1", Title: "Storm", BaseMagnitude: 8}},
		StoryletUse:     &model.StoryletUse{StoryletID: "lost-signal", UsedAt: g.Now()},
		CrossoverHeroID: "h2",
		LocationID:      "loc-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Writes)

	events := m.ran(driver.CreateTaggedEventsQuery)[0].Params["events"].([]interface{})
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, "e1", ev["episode_id"])
	assert.Equal(t, "h1", ev["hero_id"])
	assert.Equal(t, "https://v/1.mp4", m.ran(driver.SaveEpisodeQuery)[0].Params["video_url"])
	assert.Equal(t, []string{"complete", "partial_complete", "failed"}, m.ran(driver.SaveEpisodeQuery)[0].Params["terminal"])
	assert.Len(t, m.ran(driver.LinkCrossoverQuery), 1)
	assert.Equal(t, "loc-2", m.ran(driver.UpdateHeroAfterEpisodeQuery)[0].Params["location_id"])
}

func TestGraphStore_CommitEpisode_RollsBack(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)
	m.On(driver.SaveEpisodeQuery, record("id", "e1"))
	m.Errs[driver.RecordStoryletUseQuery] = errors.New("connection reset")

	_, err := g.CommitEpisode(context.Background(), model.Episode{ID: "e1", HeroID: "h1"}, Commit{
		StoryletUse: &model.StoryletUse{StoryletID: "s"},
	})
	assert.True(t, apperr.IsCode(err, apperr.CodeExternalUnavailable))
	assert.Empty(t, m.Calls)
}

func TestGraphStore_SaveEpisode_TerminalIsFinal(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)
	m.On(driver.EpisodeStageQuery, record("stage", "failed"))

	ep := model.Episode{ID: "e1", HeroID: "h1", Status: lifecycle.Status{Stage: lifecycle.Complete}}
	err := g.SaveEpisode(context.Background(), ep)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))

	_, err = g.CommitEpisode(context.Background(), ep, Commit{Events: []model.EmergentEvent{{ID: "x1"}}})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
	assert.Empty(t, m.ran(driver.CreateTaggedEventsQuery), "nothing is committed")
	assert.Zero(t, m.Writes)

	m.On(driver.EpisodeStageQuery)
	err = g.SaveEpisode(context.Background(), ep)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestGraphStore_ActivateCanonEvent(t *testing.T) {
	proposed := map[string]any{
		"id": "c2", "status": "proposed", "timestamp": "2026-03-01T00:00:00.000000000Z",
		"window_start": "2026-03-01T00:00:00.000000000Z",
		"location_ids": []any{"loc-1"}, "world_states": []any{"sky_torn"},
	}
	active := map[string]any{
		"id": "c1", "status": "active", "window_start": "2026-02-01T00:00:00.000000000Z",
		"location_ids": []any{"loc-1"}, "world_states": []any{"sky_sealed"},
	}

	t.Run("conflict rolls back", func(t *testing.T) {
		m := NewMockDriver()
		g := newGraphStore(m)
		m.On(driver.GetCanonEventQuery, record("event", proposed))
		m.On(driver.GetActiveEventsAtLocationsQuery, record("event", active))

		_, err := g.ActivateCanonEvent(context.Background(), "c2", "director-1")
		assert.True(t, apperr.IsCode(err, apperr.CodeCanonConflict))
		assert.Contains(t, err.Error(), "c1")
		assert.Empty(t, m.ran(driver.ActivateCanonEventQuery))
		assert.Equal(t, 0, m.Writes)
	})

	t.Run("activates", func(t *testing.T) {
		m := NewMockDriver()
		g := newGraphStore(m)
		m.On(driver.GetCanonEventQuery, record("event", proposed))

		ev, err := g.ActivateCanonEvent(context.Background(), "c2", "director-1")
		require.NoError(t, err)
		assert.Equal(t, model.CanonActive, ev.Status)
		assert.Equal(t, "director-1", ev.ActivatedBy)
		assert.Equal(t, driver.LockCanonQuery, m.Calls[0].Query)
		assert.Len(t, m.ran(driver.LinkConstrainsQuery), 1)
	})

	t.Run("only proposed", func(t *testing.T) {
		m := NewMockDriver()
		g := newGraphStore(m)
		m.On(driver.GetCanonEventQuery, record("event", active))
		_, err := g.ActivateCanonEvent(context.Background(), "c1", "director-1")
		assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))
	})
}

func TestGraphStore_ProposeCanonEvent(t *testing.T) {
	m := NewMockDriver()
	g := newGraphStore(m)
	m.On(driver.CreateCanonEventQuery, record("id", "c9"))

	id, err := g.ProposeCanonEvent(context.Background(), model.CanonEvent{
		ID: "c9", Status: model.CanonActive, LocationIDs: []string{"loc-1"}, SourceEventID: "x1",
	})
	require.NoError(t, err)
	assert.Equal(t, "c9", id)
	props := m.ran(driver.CreateCanonEventQuery)[0].Params["props"].(map[string]any)
	assert.Equal(t, "proposed", props["status"])
	assert.NotEmpty(t, props["proposed_at"])
	assert.Len(t, m.ran(driver.LinkProposalSourceQuery), 1)
	assert.Empty(t, m.ran(driver.LinkCanonNPCsQuery))
}
