package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/video"
	"github.com/agenthands/genesis/internal/vision"
)

// MockLLM answers from ResponseQueue, then Response. It is safe for
// concurrent use.
type MockLLM struct {
	mu            sync.Mutex
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// keywordClassifier flags text containing MILD or SEVERE.
type keywordClassifier struct{}

func (keywordClassifier) Moderate(_ context.Context, text string) (map[string]float64, error) {
	switch {
	case strings.Contains(text, "SEVERE"):
		return map[string]float64{"peril": 0.9}, nil
	case strings.Contains(text, "MILD"):
		return map[string]float64{"peril": 0.3}, nil
	default:
		return map[string]float64{"peril": 0.01}, nil
	}
}

// urlClassifier judges images by their URL.
type urlClassifier struct{}

func (urlClassifier) Annotate(_ context.Context, uri string) (vision.Result, error) {
	switch {
	case strings.Contains(uri, "gross"):
		return vision.Result{Risks: map[string]float64{"violence": 0.8}}, nil
	case strings.Contains(uri, "unsafe"):
		return vision.Result{Risks: map[string]float64{"violence": 0.35}}, nil
	default:
		return vision.Result{Risks: map[string]float64{"violence": 0.05}}, nil
	}
}

// flakyClassifier is unavailable for the first Fail calls, then clean.
type flakyClassifier struct {
	mu    sync.Mutex
	Fail  int
	calls int
}

func (c *flakyClassifier) Moderate(_ context.Context, _ string) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.Fail > 0 {
		c.Fail--
		return nil, apperr.New(apperr.CodeExternalUnavailable, "moderation api down")
	}
	return map[string]float64{"peril": 0.01}, nil
}

func (c *flakyClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// hangingClassifier never answers before its context ends.
type hangingClassifier struct{}

func (hangingClassifier) Moderate(ctx context.Context, _ string) (map[string]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakyAnnotator is unavailable for the first Fail calls, then defers to
// urlClassifier.
type flakyAnnotator struct {
	mu    sync.Mutex
	Fail  int
	calls int
}

func (a *flakyAnnotator) Annotate(ctx context.Context, uri string) (vision.Result, error) {
	a.mu.Lock()
	a.calls++
	fail := a.Fail > 0
	if fail {
		a.Fail--
	}
	a.mu.Unlock()
	if fail {
		return vision.Result{}, apperr.New(apperr.CodeExternalUnavailable, "vision api down")
	}
	return urlClassifier{}.Annotate(ctx, uri)
}

func (a *flakyAnnotator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// MockImages returns URL(prompt) for every request.
type MockImages struct {
	mu       sync.Mutex
	URL      func(prompt string) string
	Err      error
	Requests []llm.ImageRequest
}

func (m *MockImages) GenerateImage(_ context.Context, req llm.ImageRequest) (llm.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return llm.Image{}, m.Err
	}
	url := "https://img.test/" + strings.ReplaceAll(req.Prompt[:min(len(req.Prompt), 12)], " ", "-")
	if m.URL != nil {
		url = m.URL(req.Prompt)
	}
	return llm.Image{URL: url}, nil
}

type MockComposer struct {
	mu       sync.Mutex
	Err      error
	Requests []video.Request
}

func (m *MockComposer) Compose(_ context.Context, req video.Request) (model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return model.Video{}, m.Err
	}
	return model.Video{URL: "https://video.test/" + req.EpisodeID, DurationSeconds: req.TargetSeconds, Resolution: "1080p"}, nil
}
