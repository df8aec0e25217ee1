package model

import (
	"fmt"
	"time"

	"github.com/agenthands/genesis/internal/core/lifecycle"
)

type DialogueLine struct {
	Character string `json:"character"`
	Text      string `json:"text"`
}

// Panel is one image of an episode. Numbers are contiguous from 1.
type Panel struct {
	Number      int            `json:"number"`
	Prompt      string         `json:"prompt"`
	ImageRef    string         `json:"image_ref,omitempty"`
	Dialogue    []DialogueLine `json:"dialogue,omitempty"`
	Caption     string         `json:"caption,omitempty"`
	Action      string         `json:"action,omitempty"`
	SafetyScore float64        `json:"safety_score"`
	RetryCount  int            `json:"retry_count"`
	NeedsReview bool           `json:"needs_review"`
}

type Video struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
	Resolution      string  `json:"resolution"`
}

type Episode struct {
	ID              string           `json:"id"`
	HeroID          string           `json:"hero_id"`
	Sequence        int              `json:"sequence"`
	Period          string           `json:"period"`
	Title           string           `json:"title"`
	Synopsis        string           `json:"synopsis"`
	Status          lifecycle.Status `json:"status"`
	Panels          []Panel          `json:"panels"`
	Video           *Video           `json:"video,omitempty"`
	Tags            []string         `json:"tags"`
	CanonRefs       []string         `json:"canon_refs"`
	StoryletID      string           `json:"storylet_id,omitempty"`
	CrossoverHeroID string           `json:"crossover_hero_id,omitempty"`
	LocationID      string           `json:"location_id,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CheckConsistency rejects episodes whose content does not match their stage,
// e.g. a completed video without an approved script.
func (e *Episode) CheckConsistency() error {
	for i, p := range e.Panels {
		if p.Number != i+1 {
			return fmt.Errorf("panel %d out of order at position %d", p.Number, i+1)
		}
	}
	stage := e.Status.Stage
	scripted := e.Title != "" && len(e.Panels) > 0
	switch stage {
	case lifecycle.Created, lifecycle.Failed:
		return nil
	case lifecycle.ScriptDrafted, lifecycle.ScriptApproved, lifecycle.PanelsGenerating:
		if !scripted {
			return fmt.Errorf("%s without a script", stage)
		}
	case lifecycle.PanelsApproved, lifecycle.VideoComposing, lifecycle.PartialComplete:
		if !scripted {
			return fmt.Errorf("%s without a script", stage)
		}
		for _, p := range e.Panels {
			if p.ImageRef == "" && !p.NeedsReview {
				return fmt.Errorf("%s with panel %d unrendered", stage, p.Number)
			}
		}
	case lifecycle.Complete:
		if !scripted {
			return fmt.Errorf("%s without a script", stage)
		}
		if e.Video == nil {
			return fmt.Errorf("%s without video", stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	if e.Video != nil && stage != lifecycle.Complete {
		return fmt.Errorf("video attached in stage %s", stage)
	}
	return nil
}

// PanelsNeedingReview returns the numbers of panels flagged for review.
func (e *Episode) PanelsNeedingReview() []int {
	var out []int
	for _, p := range e.Panels {
		if p.NeedsReview {
			out = append(out, p.Number)
		}
	}
	return out
}

// PeriodOf returns the generation period (calendar day) containing t.
func PeriodOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
