package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/common"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/llm"
)

type Writer struct {
	LLM       llm.LLMClient
	Prompt    string
	MaxPanels int
}

func NewWriter(client llm.LLMClient, prompt string, maxPanels int) *Writer {
	return &Writer{LLM: client, Prompt: prompt, MaxPanels: maxPanels}
}

// Request is one drafting attempt. Constraints accumulate across retries and
// moderation regenerations.
type Request struct {
	Context     model.HeroContext
	Storylet    model.StoryletTemplate
	Partner     *model.Connection
	Constraints []string
}

// Draft asks the text collaborator for a script and validates it. Transport
// failures come back classified by capability; malformed output is
// SCHEMA_INVALID.
func (w *Writer) Draft(ctx context.Context, req Request) (Script, error) {
	response, err := w.LLM.Generate(ctx, w.BuildPrompt(req))
	if err != nil {
		return Script{}, llm.Classify(err, "script")
	}

	s, err := common.ParseJSON[Script](response)
	if err != nil {
		return Script{}, apperr.Wrap(apperr.CodeSchemaInvalid, err, "script")
	}
	if s.StoryletID == "" {
		s.StoryletID = req.Storylet.ID
	}
	if err := Validate(s, req.Context, w.MaxPanels); err != nil {
		return Script{}, err
	}
	return s, nil
}

type promptHero struct {
	Name         string `json:"name"`
	PowerType    string `json:"power_type"`
	Origin       string `json:"origin,omitempty"`
	Location     string `json:"current_location,omitempty"`
	EpisodeCount int    `json:"episodes_so_far"`
}

type promptCanon struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Locations   []string `json:"locations,omitempty"`
	WorldStates []string `json:"world_states,omitempty"`
}

type promptEpisode struct {
	Sequence int    `json:"sequence"`
	Title    string `json:"title"`
	Synopsis string `json:"synopsis"`
}

type promptContext struct {
	Hero      promptHero             `json:"hero"`
	Storylet  model.StoryletTemplate `json:"storylet"`
	Partner   *model.Connection      `json:"crossover_partner,omitempty"`
	Arc       *model.Arc             `json:"active_arc,omitempty"`
	Canon     []promptCanon          `json:"active_canon"`
	Locations []model.Location       `json:"locations"`
	NPCs      []model.NPC            `json:"npcs"`
	Previous  []promptEpisode        `json:"previous_episodes"`
}

func (w *Writer) BuildPrompt(req Request) string {
	hc := req.Context
	pc := promptContext{
		Hero: promptHero{
			Name:         hc.Hero.DisplayName,
			PowerType:    hc.Hero.PowerType,
			Origin:       hc.Hero.OriginStory,
			Location:     hc.Hero.LocationID,
			EpisodeCount: hc.Hero.EpisodeCount,
		},
		Storylet:  req.Storylet,
		Partner:   req.Partner,
		Arc:       hc.Canon.Arc,
		Canon:     []promptCanon{},
		Locations: hc.Canon.Locations,
		NPCs:      hc.Canon.NPCs,
		Previous:  []promptEpisode{},
	}
	for _, ev := range hc.Canon.Events {
		pc.Canon = append(pc.Canon, promptCanon{
			ID:          ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
			Locations:   ev.LocationIDs,
			WorldStates: ev.WorldStates,
		})
	}
	for _, ep := range hc.RecentEpisodes {
		pc.Previous = append(pc.Previous, promptEpisode{Sequence: ep.Sequence, Title: ep.Title, Synopsis: ep.Synopsis})
	}

	constraints := append([]string{
		fmt.Sprintf("Use between 1 and %d panels numbered consecutively from 1.", w.maxPanels()),
		"canon_references may only name ids from active_canon.",
		"Keep every panel suitable for a young audience.",
	}, req.Constraints...)
	return fmt.Sprintf(w.Prompt, common.PromptJSON(pc), common.Bullets(constraints))
}

func (w *Writer) maxPanels() int {
	if w.MaxPanels <= 0 {
		return 12
	}
	return w.MaxPanels
}

// Tighten turns a rejected draft into a constraint for the next attempt.
func Tighten(err error) string {
	msg := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) {
		switch {
		case e.Err != nil:
			msg = e.Err.Error()
		case e.Message != "":
			msg = e.Message
		}
	}
	msg, _, _ = strings.Cut(msg, "\n")
	return "Your previous script was rejected (" + strings.TrimSpace(msg) + "). Return exactly one JSON object matching the format above and fix every listed problem."
}

// Soften turns moderation reasons into a constraint for a regenerated script.
func Soften(reasons []string) string {
	if len(reasons) == 0 {
		return "The previous script was flagged by the safety review. Make it gentler."
	}
	return "The previous script was flagged by the safety review for " + strings.Join(reasons, ", ") + ". Remove that content and keep the tone gentle."
}
