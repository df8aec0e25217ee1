package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCodeThroughWrapping(t *testing.T) {
	base := New(CodeCanonConflict, "sky sealed vs sky torn")
	wrapped := fmt.Errorf("activate: %w", base)

	assert.Equal(t, CodeCanonConflict, GetCode(wrapped))
	assert.True(t, IsCode(wrapped, CodeCanonConflict))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeInternal, nil, "nothing"))
}

func TestErrorString(t *testing.T) {
	err := Wrap(CodeExternalTimeout, errors.New("deadline"), "script call")
	assert.Equal(t, "EXTERNAL_TIMEOUT: script call: deadline", err.Error())
	assert.Equal(t, "NOT_FOUND", (&Error{Code: CodeNotFound}).Error())
}

func TestWithMetaDoesNotMutate(t *testing.T) {
	base := New(CodeNotFound, "hero")
	withMeta := base.WithMeta("hero_id", "h1")

	assert.Nil(t, base.Metadata)
	assert.Equal(t, "h1", withMeta.Metadata["hero_id"])
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(CodeSchemaInvalid))
	assert.True(t, Retryable(CodeExternalTimeout))
	assert.False(t, Retryable(CodeNotFound))
	assert.False(t, Retryable(CodeModerationEscalate))
	assert.False(t, Retryable(CodeCanonConflict))
}

func TestHTTPStatusAndUserMessage(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeNotActive))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeSchemaInvalid))

	assert.Contains(t, UserMessage(CodeSchemaInvalid), "try again")
	assert.NotContains(t, UserMessage(CodeInternal), "INTERNAL")
}
