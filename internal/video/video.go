// Package video turns approved panels into a short motion episode.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/llm"
)

type Treatment string

const (
	// Generative segments are synthesized motion; climax panels only.
	Generative Treatment = "generative"
	Parallax   Treatment = "parallax"
)

type Segment struct {
	PanelNumber int       `json:"panel_number"`
	ImageURL    string    `json:"image_url"`
	Caption     string    `json:"caption,omitempty"`
	Treatment   Treatment `json:"treatment"`
}

type Request struct {
	EpisodeID     string    `json:"episode_id"`
	HeroID        string    `json:"hero_id"`
	Segments      []Segment `json:"segments"`
	TargetSeconds float64   `json:"target_seconds"`
}

type Composer interface {
	Compose(ctx context.Context, req Request) (model.Video, error)
}

// Plan lays out one segment per panel that has an image. climax lists panel
// numbers rendered as generative; when empty the last defaultClimax panels
// are used.
func Plan(ep model.Episode, climax []int, defaultClimax int, targetSeconds float64) Request {
	req := Request{EpisodeID: ep.ID, HeroID: ep.HeroID, TargetSeconds: targetSeconds}
	isClimax := map[int]bool{}
	for _, n := range climax {
		isClimax[n] = true
	}
	if len(isClimax) == 0 {
		for i := len(ep.Panels) - 1; i >= 0 && i >= len(ep.Panels)-defaultClimax; i-- {
			isClimax[ep.Panels[i].Number] = true
		}
	}
	for _, p := range ep.Panels {
		if p.ImageRef == "" || p.NeedsReview {
			continue
		}
		t := Parallax
		if isClimax[p.Number] {
			t = Generative
		}
		req.Segments = append(req.Segments, Segment{PanelNumber: p.Number, ImageURL: p.ImageRef, Caption: p.Caption, Treatment: t})
	}
	return req
}

// HTTPComposer posts the plan to a composition service.
type HTTPComposer struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// New returns a Composer for cfg. A disabled config yields Unavailable.
func New(cfg config.VideoConfig) Composer {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return Unavailable{}
	}
	return &HTTPComposer{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:  cfg.APIKey,
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type composeResponse struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
	Resolution      string  `json:"resolution"`
}

func (c *HTTPComposer) Compose(ctx context.Context, req Request) (model.Video, error) {
	if len(req.Segments) == 0 {
		return model.Video{}, apperr.New(apperr.CodeInvalidArgument, "no approved panels to compose")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return model.Video{}, fmt.Errorf("marshal compose request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/compositions", bytes.NewReader(body))
	if err != nil {
		return model.Video{}, fmt.Errorf("build compose request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return model.Video{}, llm.Classify(err, "video compose")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.Video{}, apperr.New(apperr.CodeRateLimited, "video compose: %s", resp.Status)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return model.Video{}, apperr.New(apperr.CodeExternalTimeout, "video compose: %s", resp.Status)
	case resp.StatusCode >= 300:
		return model.Video{}, apperr.New(apperr.CodeExternalUnavailable, "video compose: %s: %s", resp.Status, truncate(data, 200))
	}

	var out composeResponse
	if err := json.Unmarshal(data, &out); err != nil || out.URL == "" {
		return model.Video{}, apperr.New(apperr.CodeExternalUnavailable, "video compose: malformed response")
	}
	return model.Video{URL: out.URL, DurationSeconds: out.DurationSeconds, Resolution: out.Resolution}, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Unavailable is the Composer used when video is switched off.
type Unavailable struct{}

func (Unavailable) Compose(context.Context, Request) (model.Video, error) {
	return model.Video{}, apperr.New(apperr.CodeExternalUnavailable, "video composition is disabled")
}
