package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
)

func TestGovernor_PerHeroCap(t *testing.T) {
	g := NewGovernor(config.BudgetConfig{}, time.UTC, NewPerHeroCap(6))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "h1", Image))
	require.NoError(t, g.Acquire(ctx, "h1", Text))
	require.NoError(t, g.Acquire(ctx, "h1", Text))
	err := g.Acquire(ctx, "h1", Text)
	assert.True(t, apperr.IsCode(err, apperr.CodeBudgetExceeded))

	// other heroes and the next day are unaffected
	require.NoError(t, g.Acquire(ctx, "h2", Image))
	now = now.Add(24 * time.Hour)
	require.NoError(t, g.Acquire(ctx, "h1", Image))
}

func TestGovernor_GlobalCapPausesVideoFirst(t *testing.T) {
	g := NewGovernor(config.BudgetConfig{}, time.UTC, NewGlobalCap(100, 0.5))
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, g.Acquire(ctx, "h1", Image))
	}
	// 28 spent; a video would take it to 53, past the 50 floor
	err := g.Preflight("h1", Video)
	assert.True(t, apperr.IsCode(err, apperr.CodeBudgetExceeded))
	assert.NoError(t, g.Preflight("h1", Image))
}

func TestGovernor_ChargesOnlyWhenAllPoliciesPass(t *testing.T) {
	hero := NewPerHeroCap(1000)
	global := NewGlobalCap(3, 0)
	g := NewGovernor(config.BudgetConfig{}, time.UTC, hero, global)

	err := g.Acquire(context.Background(), "h1", Image)
	assert.True(t, apperr.IsCode(err, apperr.CodeBudgetExceeded))
	assert.Zero(t, hero.spent["h1"])
}

func TestGovernor_RateLimited(t *testing.T) {
	g := NewGovernor(config.BudgetConfig{TextPerMinute: 1, Burst: 1}, time.UTC)
	g.MaxWait = 20 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "h1", Text))
	err := g.Acquire(ctx, "h1", Text)
	assert.True(t, apperr.IsCode(err, apperr.CodeRateLimited))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = g.Acquire(cancelled, "h1", Text)
	assert.True(t, apperr.IsCode(err, apperr.CodeCancelled))
}

func TestPoliciesFrom(t *testing.T) {
	assert.Empty(t, PoliciesFrom(config.BudgetConfig{}))
	assert.Len(t, PoliciesFrom(config.BudgetConfig{PerHeroDaily: 10, GlobalDaily: 100}), 2)

	var g *Governor
	assert.NoError(t, g.Acquire(context.Background(), "h", Video))
}
