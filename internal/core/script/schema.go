// Package script drafts and validates episode scripts.
package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/model"
)

type Panel struct {
	PanelNumber  int                  `json:"panel_number" validate:"min=1"`
	VisualPrompt string               `json:"visual_prompt" validate:"required"`
	Dialogue     []model.DialogueLine `json:"dialogue,omitempty" validate:"dive"`
	Caption      string               `json:"caption,omitempty"`
	Action       string               `json:"action,omitempty"`
}

// Event is an emergent event the writer tags in the script.
type Event struct {
	Title            string   `json:"title" validate:"required"`
	Description      string   `json:"description"`
	Magnitude        float64  `json:"magnitude" validate:"gte=1,lte=10"`
	LocationID       string   `json:"location_id,omitempty"`
	WorldStates      []string `json:"world_states,omitempty" validate:"dive,required"`
	FriendReferences int      `json:"friend_references" validate:"gte=0"`
}

type Script struct {
	Title           string   `json:"title" validate:"required,max=200"`
	Synopsis        string   `json:"synopsis" validate:"required"`
	StoryletID      string   `json:"storylet_id,omitempty"`
	LocationID      string   `json:"location_id,omitempty"`
	Tags            []string `json:"tags" validate:"dive,required"`
	CanonReferences []string `json:"canon_references" validate:"dive,required"`
	ClimaxPanels    []int    `json:"climax_panels,omitempty"`
	Panels          []Panel  `json:"panels" validate:"required,min=1,dive"`
	Events          []Event  `json:"events,omitempty" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks s against the schema and against hc. Every problem is
// reported in one SCHEMA_INVALID error so the retry prompt can name them all.
func Validate(s Script, hc model.HeroContext, maxPanels int) error {
	var problems []string

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperr.Wrap(apperr.CodeSchemaInvalid, err, "script")
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}

	if maxPanels > 0 && len(s.Panels) > maxPanels {
		problems = append(problems, fmt.Sprintf("%d panels, at most %d allowed", len(s.Panels), maxPanels))
	}
	for i, p := range s.Panels {
		if p.PanelNumber != i+1 {
			problems = append(problems, fmt.Sprintf("panel at position %d is numbered %d", i+1, p.PanelNumber))
			break
		}
	}
	for _, n := range s.ClimaxPanels {
		if n < 1 || n > len(s.Panels) {
			problems = append(problems, fmt.Sprintf("climax panel %d does not exist", n))
		}
	}
	for _, ref := range s.CanonReferences {
		if !hc.Canon.HasEvent(ref) {
			problems = append(problems, fmt.Sprintf("canon reference %s is not an active canon event", ref))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return apperr.New(apperr.CodeSchemaInvalid, "%s", strings.Join(problems, "; "))
}

// Text is what the moderation gate reads.
func (s Script) Text() string {
	var sb strings.Builder
	sb.WriteString(s.Title)
	sb.WriteString("\n")
	sb.WriteString(s.Synopsis)
	for _, p := range s.Panels {
		for _, part := range []string{p.Caption, p.Action} {
			if part != "" {
				sb.WriteString("\n")
				sb.WriteString(part)
			}
		}
		for _, d := range p.Dialogue {
			sb.WriteString("\n")
			sb.WriteString(d.Character)
			sb.WriteString(": ")
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}

// Apply copies the script content onto ep. Panels are rebuilt, so render
// state from an earlier draft is discarded.
func (s Script) Apply(ep *model.Episode) {
	ep.Title = s.Title
	ep.Synopsis = s.Synopsis
	ep.Tags = dedupe(s.Tags)
	ep.CanonRefs = dedupe(s.CanonReferences)
	ep.Panels = make([]model.Panel, len(s.Panels))
	for i, p := range s.Panels {
		ep.Panels[i] = model.Panel{
			Number:   p.PanelNumber,
			Prompt:   p.VisualPrompt,
			Dialogue: p.Dialogue,
			Caption:  p.Caption,
			Action:   p.Action,
		}
	}
}

// EmergentEvents converts tagged events. Events without a location happen
// where the hero is.
func (s Script) EmergentEvents(ep model.Episode, hc model.HeroContext, at time.Time, newID func() string) []model.EmergentEvent {
	out := make([]model.EmergentEvent, 0, len(s.Events))
	for _, e := range s.Events {
		loc := e.LocationID
		if loc == "" || !hc.Canon.HasLocation(loc) {
			loc = hc.Hero.LocationID
		}
		out = append(out, model.EmergentEvent{
			ID:               newID(),
			EpisodeID:        ep.ID,
			HeroID:           ep.HeroID,
			Title:            e.Title,
			Description:      e.Description,
			LocationID:       loc,
			BaseMagnitude:    e.Magnitude,
			FriendReferences: e.FriendReferences,
			WorldStates:      dedupe(e.WorldStates),
			OccurredAt:       at,
			Status:           model.EmergentPending,
		})
	}
	return out
}

// Destination is the hero's new location, or "" when the script names none
// that Canon knows.
func (s Script) Destination(hc model.HeroContext) string {
	if s.LocationID == "" || s.LocationID == hc.Hero.LocationID || !hc.Canon.HasLocation(s.LocationID) {
		return ""
	}
	return s.LocationID
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
