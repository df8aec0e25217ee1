package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/core/model"
)

func TestSeed_BundledWorld(t *testing.T) {
	w, err := LoadWorld(filepath.Join("..", "..", "config", "world.toml"))
	require.NoError(t, err)
	require.Len(t, w.Heroes, 2)
	assert.Equal(t, "harbor", w.NPCs[0].LocationID)

	s := NewMemoryStore(canon.NewTable(nil))
	ctx := context.Background()
	require.NoError(t, Seed(ctx, s, w))

	hc, err := s.GetHeroContext(ctx, "hero-nova", ContextOptions{Period: "2026-03-01"})
	require.NoError(t, err)
	assert.True(t, hc.Hero.ContentSettings.LanguageFilter)
	assert.True(t, hc.Canon.HasEvent("canon-sky-sealed"))
	assert.True(t, hc.Canon.ActiveWorldStates()["sky_sealed"])
	require.NotNil(t, hc.Canon.Arc)
	assert.Equal(t, "arc-skyfall", hc.Canon.Arc.ID)
	require.Len(t, hc.ApprovedPartners(), 1)
	assert.Equal(t, "hero-bolt", hc.ApprovedPartners()[0].PartnerID)

	ev, err := s.GetCanonEvent(ctx, "canon-sky-sealed")
	require.NoError(t, err)
	assert.Equal(t, model.CanonActive, ev.Status)
	assert.Equal(t, ev.Timestamp, ev.Window.Start)
}

func TestLoadWorld_Missing(t *testing.T) {
	_, err := LoadWorld("does-not-exist.toml")
	assert.Error(t, err)
}
