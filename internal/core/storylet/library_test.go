package storylet

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/model"
)

var day0 = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

func cfg() config.StoryletConfig {
	return config.StoryletConfig{WindowDays: 30, ArcBias: 3, Seed: 7}
}

func heroContext(id string, now time.Time) model.HeroContext {
	return model.HeroContext{
		Hero:         model.Hero{ID: id, PowerType: "speed", Status: model.HeroActive},
		StoryletUses: map[string]time.Time{},
		Now:          now,
	}
}

func plain(ids ...string) []model.StoryletTemplate {
	var out []model.StoryletTemplate
	for _, id := range ids {
		out = append(out, model.StoryletTemplate{ID: id, Title: id})
	}
	return out
}

func TestSelect_NonRepetitionWindow(t *testing.T) {
	lib, err := New(plain("a", "b", "c", "d", "e"), cfg())
	require.NoError(t, err)

	hc := heroContext("h1", day0)
	var order []string
	for d := 0; d < 5; d++ {
		hc.Now = day0.AddDate(0, 0, d)
		sel, err := lib.Select(hc)
		require.NoError(t, err)
		assert.NotContains(t, order, sel.Template.ID)
		order = append(order, sel.Template.ID)
		hc.StoryletUses[sel.Template.ID] = hc.Now
	}

	hc.Now = day0.AddDate(0, 0, 5)
	_, err = lib.Select(hc)
	assert.True(t, apperr.IsCode(err, apperr.CodeNoEligibleStorylet))

	// only the first use has aged out of the window
	hc.Now = day0.AddDate(0, 0, 30)
	sel, err := lib.Select(hc)
	require.NoError(t, err)
	assert.Equal(t, order[0], sel.Template.ID)
}

func TestSelect_Deterministic(t *testing.T) {
	lib, err := New(plain("a", "b", "c", "d", "e"), cfg())
	require.NoError(t, err)
	hc := heroContext("h1", day0)
	first, err := lib.Select(hc)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := lib.Select(hc)
		require.NoError(t, err)
		assert.Equal(t, first.Template.ID, again.Template.ID)
	}
}

func TestSelect_SeedFollowsPeriod(t *testing.T) {
	lib, err := New(plain("a", "b", "c", "d", "e"), cfg())
	require.NoError(t, err)
	brisbane := time.FixedZone("AEST", 10*60*60)

	// one local day, two UTC dates
	morning := heroContext("h1", time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	evening := heroContext("h1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	morning.Period = model.PeriodOf(morning.Now, brisbane)
	evening.Period = model.PeriodOf(evening.Now, brisbane)
	require.Equal(t, "2026-03-02", morning.Period)
	require.Equal(t, morning.Period, evening.Period)

	assert.Equal(t, lib.rng(morning).Uint64(), lib.rng(evening).Uint64())
	first, err := lib.Select(morning)
	require.NoError(t, err)
	again, err := lib.Select(evening)
	require.NoError(t, err)
	assert.Equal(t, first.Template.ID, again.Template.ID)

	other := heroContext("h1", evening.Now)
	other.Period = "2026-03-03"
	assert.NotEqual(t, lib.rng(evening).Uint64(), lib.rng(other).Uint64())
}

func TestSelect_ArcBias(t *testing.T) {
	templates := []model.StoryletTemplate{
		{ID: "arc", ArcID: "arc-skyfall"},
		{ID: "side"},
	}
	lib, err := New(templates, cfg())
	require.NoError(t, err)

	arcPicks := 0
	const n = 400
	for i := 0; i < n; i++ {
		hc := heroContext(fmt.Sprintf("hero-%d", i), day0)
		hc.Canon.Arc = &model.Arc{ID: "arc-skyfall", Active: true}
		sel, err := lib.Select(hc)
		require.NoError(t, err)
		if sel.Template.ID == "arc" {
			arcPicks++
		}
	}
	// expected share is 3/4
	assert.Greater(t, arcPicks, 250)
	assert.Less(t, arcPicks, n)
}

func TestSelect_CrossoverNeedsApprovedPartner(t *testing.T) {
	templates := []model.StoryletTemplate{{ID: "team-up", Crossover: true}}
	lib, err := New(templates, cfg())
	require.NoError(t, err)

	hc := heroContext("h1", day0)
	hc.Connections = []model.Connection{
		{PartnerID: "h2", Status: model.ApprovalPending, PartnerEligible: true},
		{PartnerID: "h3", Status: model.ApprovalApproved, PartnerEligible: false},
	}
	_, err = lib.Select(hc)
	assert.True(t, apperr.IsCode(err, apperr.CodeNoEligibleStorylet))

	hc.Connections = append(hc.Connections, model.Connection{PartnerID: "h4", Status: model.ApprovalApproved, PartnerEligible: true})
	sel, err := lib.Select(hc)
	require.NoError(t, err)
	require.NotNil(t, sel.Partner)
	assert.Equal(t, "h4", sel.Partner.PartnerID)
}

func TestMatches(t *testing.T) {
	hc := heroContext("h1", day0)
	hc.Hero.EpisodeCount = 6
	hc.Hero.LocationID = "harbor"
	hc.Canon.Events = []model.CanonEvent{{ID: "c1", Status: model.CanonActive, WorldStates: []string{"sky_sealed"}}}

	assert.True(t, Matches(model.Precondition{}, hc))
	assert.True(t, Matches(model.Precondition{PowerTypes: []string{"speed", "flight"}}, hc))
	assert.False(t, Matches(model.Precondition{PowerTypes: []string{"elemental"}}, hc))
	assert.True(t, Matches(model.Precondition{Locations: []string{"harbor"}}, hc))
	assert.False(t, Matches(model.Precondition{MinEpisodes: 7}, hc))
	assert.False(t, Matches(model.Precondition{MaxEpisodes: 5}, hc))
	assert.True(t, Matches(model.Precondition{RequiredWorldStates: []string{"sky_sealed"}}, hc))
	assert.False(t, Matches(model.Precondition{ForbiddenWorldStates: []string{"sky_sealed"}}, hc))
	assert.False(t, Matches(model.Precondition{ArcID: "arc-skyfall"}, hc))
}

func TestLoad_BundledLibrary(t *testing.T) {
	templates, err := Load(filepath.Join("..", "..", "..", "config", "storylets.toml"))
	require.NoError(t, err)
	lib, err := New(templates, cfg())
	require.NoError(t, err)
	assert.Equal(t, 6, lib.Len())

	tu, ok := lib.Get("team-up")
	require.True(t, ok)
	assert.True(t, tu.Crossover)
	sky, _ := lib.Get("sky-breach")
	assert.Equal(t, []string{"sky_sealed"}, sky.Precondition.ForbiddenWorldStates)
	_, ok = lib.Get(model.DefaultStorylet.ID)
	assert.True(t, ok)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New(plain("a", "a"), cfg())
	assert.Error(t, err)
	_, err = New([]model.StoryletTemplate{{Title: "nameless"}}, cfg())
	assert.Error(t, err)
}
