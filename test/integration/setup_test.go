//go:build integration

package integration

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/driver"
	"github.com/agenthands/genesis/internal/logger"
	"github.com/agenthands/genesis/internal/store"
)

// newGraphStore connects to NEO4J_URI or skips the test.
func newGraphStore(t *testing.T) (*store.GraphStore, *config.Config) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("Skipping integration test: NEO4J_URI not set")
	}
	cfg := config.Default()
	cfg.Neo4j.URI = uri
	if v := os.Getenv("NEO4J_USER"); v != "" {
		cfg.Neo4j.User = v
	}
	cfg.Neo4j.Password = os.Getenv("NEO4J_PASSWORD")
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		cfg.Neo4j.Database = v
	}
	cfg.Canon.Exclusive = []config.ExclusivePair{{A: "sky_sealed", B: "sky_torn"}}

	ctx := context.Background()
	d, err := driver.NewNeo4jDriver(ctx, cfg.Neo4j, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	require.NoError(t, d.BuildIndices(ctx))

	return store.NewGraphStore(d, canon.NewTable(cfg.Canon.Exclusive), logger.NewNop()), cfg
}

// uid scopes fixture ids to one test run so runs never see each other's data.
func uid(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
