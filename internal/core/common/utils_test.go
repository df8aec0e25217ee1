package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Summary string `json:"summary"`
}

func TestParseJSON(t *testing.T) {
	resp := "Sure! Here it is:\n```json\n{\"summary\": \"The sky {cracked}.\"}\n```\nAnything else?"
	got, err := ParseJSON[summary](resp)
	require.NoError(t, err)
	assert.Equal(t, "The sky {cracked}.", got.Summary)
}

func TestParseJSONErrors(t *testing.T) {
	_, err := ParseJSON[summary]("no json here")
	assert.ErrorContains(t, err, "missing '{'")

	_, err = ParseJSON[summary]("} backwards {")
	assert.ErrorContains(t, err, "missing '}'")

	_, err = ParseJSON[summary](`{"summary": 12}`)
	assert.ErrorContains(t, err, "failed to unmarshal JSON")
}

func TestBullets(t *testing.T) {
	assert.Equal(t, "- a\n- b\n", Bullets([]string{"a", "b"}))
	assert.Equal(t, "", Bullets(nil))
}
