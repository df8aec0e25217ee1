package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/auditor"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/core/orchestrator"
	"github.com/agenthands/genesis/internal/logger"
)

type heroList []model.Hero

func (h heroList) ListActiveHeroes(context.Context) ([]model.Hero, error) { return h, nil }

type mockGenerator struct {
	mu       sync.Mutex
	seen     map[string]bool
	failing  map[string]apperr.Code
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (m *mockGenerator) GenerateEpisode(ctx context.Context, heroID string) (orchestrator.Result, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.failing[heroID]; ok {
		return orchestrator.Result{Status: orchestrator.Failed}, apperr.New(code, "boom")
	}
	if m.seen[heroID] {
		return orchestrator.Result{Status: orchestrator.AlreadyGenerated}, nil
	}
	m.seen[heroID] = true
	return orchestrator.Result{Status: orchestrator.Generated}, nil
}

func heroes(n int) heroList {
	out := make(heroList, n)
	for i := range out {
		out[i] = model.Hero{ID: fmt.Sprintf("h%02d", i), Status: model.HeroActive}
	}
	return out
}

func TestDailyRunner_Stats(t *testing.T) {
	gen := &mockGenerator{
		seen:    map[string]bool{"h03": true},
		failing: map[string]apperr.Code{"h05": apperr.CodeSchemaInvalid},
	}
	r := NewDailyRunner(heroes(10), gen, 4, logger.NewNop())

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Processed)
	assert.Equal(t, 8, stats.Generated)
	assert.Equal(t, 1, stats.AlreadyGenerated)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []HeroError{{HeroID: "h05", Code: apperr.CodeSchemaInvalid}}, stats.Errors)

	again, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, again.AlreadyGenerated)
}

func TestDailyRunner_BoundedParallelism(t *testing.T) {
	gen := &mockGenerator{seen: map[string]bool{}, delay: 5 * time.Millisecond}
	r := NewDailyRunner(heroes(30), gen, 3, logger.NewNop())

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Generated)
	assert.LessOrEqual(t, gen.peak.Load(), int32(3))
	assert.Greater(t, gen.peak.Load(), int32(1))
}

func TestDailyRunner_Cancelled(t *testing.T) {
	gen := &mockGenerator{seen: map[string]bool{}}
	r := NewDailyRunner(heroes(5), gen, 2, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := r.Run(ctx)
	assert.True(t, apperr.IsCode(err, apperr.CodeCancelled))
	assert.Zero(t, stats.Generated)
}

func TestDailyRunner_RejectsOverlap(t *testing.T) {
	gen := &mockGenerator{seen: map[string]bool{}, delay: 50 * time.Millisecond}
	r := NewDailyRunner(heroes(1), gen, 1, logger.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return gen.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	<-done
}

type mockAuditor struct {
	stats auditor.Stats
	err   error
}

func (m mockAuditor) RunNightly(context.Context) (auditor.Stats, error) { return m.stats, m.err }

func TestNightlyRunner(t *testing.T) {
	want := auditor.Stats{Scored: 4, OverThreshold: 2, Deferred: 1, Rejected: 1}
	stats, err := NewNightlyRunner(mockAuditor{stats: want}, logger.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, stats)

	_, err = NewNightlyRunner(mockAuditor{err: apperr.New(apperr.CodeExternalUnavailable, "graph down")}, logger.NewNop()).Run(context.Background())
	assert.True(t, apperr.IsCode(err, apperr.CodeExternalUnavailable))
}
