package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/agenthands/genesis/internal/apperr"
)

// Availability is the state a provider call left the capability in. The
// orchestrator retries on RateLimited and Unavailable the same way whichever
// provider is wired in.
type Availability int

const (
	Available Availability = iota
	RateLimited
	Unavailable
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case RateLimited:
		return "rate_limited"
	default:
		return "unavailable"
	}
}

// AvailabilityOf maps a provider error onto a variant. A nil error is
// Available.
func AvailabilityOf(err error) Availability {
	switch apperr.GetCode(Classify(err, "")) {
	case apperr.CodeUnknown:
		return Available
	case apperr.CodeRateLimited:
		return RateLimited
	default:
		return Unavailable
	}
}

// Classify converts a provider error into the error taxonomy. Errors that
// already carry a code are returned unchanged.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if apperr.GetCode(err) != apperr.CodeUnknown {
		return err
	}
	if op == "" {
		op = "external call"
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeExternalTimeout, err, "%s", op)
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.CodeCancelled, err, "%s", op)
	}
	switch status := httpStatus(err); {
	case status == 429:
		return apperr.Wrap(apperr.CodeRateLimited, err, "%s", op)
	case status == 408 || status == 504:
		return apperr.Wrap(apperr.CodeExternalTimeout, err, "%s", op)
	case status > 0:
		return apperr.Wrap(apperr.CodeExternalUnavailable, err, "%s", op)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "deadlineexceeded") {
		return apperr.Wrap(apperr.CodeExternalTimeout, err, "%s", op)
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "resourceexhausted") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "overloaded") {
		return apperr.Wrap(apperr.CodeRateLimited, err, "%s", op)
	}
	return apperr.Wrap(apperr.CodeExternalUnavailable, err, "%s", op)
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// Disabled stands in for a capability that is switched off in config. Every
// call fails with EXTERNAL_UNAVAILABLE.
type Disabled struct {
	Name string
}

func (d Disabled) err() error {
	return apperr.New(apperr.CodeExternalUnavailable, "%s is disabled", d.Name)
}

func (d Disabled) Generate(context.Context, string) (string, error) { return "", d.err() }

func (d Disabled) Embed(context.Context, string) ([]float32, error) { return nil, d.err() }

func (d Disabled) GenerateImage(context.Context, ImageRequest) (Image, error) { return Image{}, d.err() }
