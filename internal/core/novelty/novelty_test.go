package novelty

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/logger"
)

type mockEmbedder struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

var history = []model.CanonEvent{
	{ID: "c1", Title: "The Sky Was Sealed", Description: "A dome closed over the city.", Status: model.CanonActive},
	{ID: "c2", Title: "Harbor Fire", Description: "The docks burned.", Status: model.CanonRejected},
}

func TestEquivalent_TitleMatch(t *testing.T) {
	c := NewChecker(nil, 0.92, logger.NewNop())
	m, err := c.Equivalent(context.Background(), model.EmergentEvent{ID: "x", Title: "the sky was SEALED!"}, history)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "c1", m.EventID)

	m, err = c.Equivalent(context.Background(), model.EmergentEvent{ID: "y", Title: "Harbor fire"}, history)
	require.NoError(t, err)
	assert.Nil(t, m, "rejected proposals are not history")
}

func TestEquivalent_Embeddings(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{
		"Dome over the city. The sky closed.":              {1, 0.1, 0},
		"The Sky Was Sealed. A dome closed over the city.": {1, 0, 0},
		"Cat rescued. A cat left a tree.":                  {0, 1, 0},
	}}
	c := NewChecker(emb, 0.92, logger.NewNop())
	ctx := context.Background()

	m, err := c.Equivalent(ctx, model.EmergentEvent{ID: "x", Title: "Dome over the city", Description: "The sky closed."}, history)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "c1", m.EventID)
	assert.Greater(t, m.Similarity, 0.99)

	m, err = c.Equivalent(ctx, model.EmergentEvent{ID: "y", Title: "Cat rescued", Description: "A cat left a tree."}, history)
	require.NoError(t, err)
	assert.Nil(t, m)

	// the canon vector is cached across calls
	assert.Equal(t, 3, emb.calls)
}

func TestEquivalent_EmbedderFailure(t *testing.T) {
	c := NewChecker(&mockEmbedder{err: errors.New("connection refused")}, 0.92, logger.NewNop())
	_, err := c.Equivalent(context.Background(), model.EmergentEvent{ID: "x", Title: "New thing"}, history)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "sky torn open", Normalize("  Sky -- torn, OPEN!! "))
	assert.Equal(t, "", Normalize("?!"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}
