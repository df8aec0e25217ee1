package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"hero_id", "h1", "LLM_API_KEY", "sk-123", "neo4j_password", "pw", "dangling"})
	assert.Equal(t, []interface{}{"hero_id", "h1", "LLM_API_KEY", "[REDACTED]", "neo4j_password", "[REDACTED]", "dangling"}, out)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := (&Logger{SugaredLogger: zap.New(core).Sugar()}).With("component", "orchestrator")

	l.Info("generation started", "hero_id", "h1", "token", "abc")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "orchestrator", fields["component"])
		assert.Equal(t, "h1", fields["hero_id"])
		assert.Equal(t, "[REDACTED]", fields["token"])
	}
}
