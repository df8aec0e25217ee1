package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/genesis/internal/core/model"
)

// Seeder is implemented by both stores. It bypasses the proposal flow and is
// only meant for bootstrapping a world.
type Seeder interface {
	UpsertHero(ctx context.Context, h model.Hero) error
	UpsertLocation(ctx context.Context, l model.Location) error
	UpsertNPC(ctx context.Context, n model.NPC) error
	UpsertArc(ctx context.Context, a model.Arc) error
	PutCanonEvent(ctx context.Context, ev model.CanonEvent) error
	UpsertConnection(ctx context.Context, heroID, partnerID string, status model.ApprovalStatus) error
}

type World struct {
	Heroes      []SeedHero       `toml:"hero"`
	Locations   []model.Location `toml:"location"`
	NPCs        []model.NPC      `toml:"npc"`
	Arcs        []model.Arc      `toml:"arc"`
	Events      []SeedEvent      `toml:"event"`
	Connections []SeedConnection `toml:"connection"`
}

type SeedHero struct {
	ID             string `toml:"id"`
	DisplayName    string `toml:"display_name"`
	PowerType      string `toml:"power_type"`
	OriginStory    string `toml:"origin_story"`
	Status         string `toml:"status"`
	LocationID     string `toml:"location_id"`
	Reference      string `toml:"character_reference"`
	ViolenceLevel  int    `toml:"violence_level"`
	LanguageFilter bool   `toml:"language_filter"`
}

type SeedEvent struct {
	ID           string    `toml:"id"`
	Title        string    `toml:"title"`
	Description  string    `toml:"description"`
	Timestamp    time.Time `toml:"timestamp"`
	Until        time.Time `toml:"until"`
	Significance float64   `toml:"significance"`
	LocationIDs  []string  `toml:"location_ids"`
	NPCIDs       []string  `toml:"npc_ids"`
	WorldStates  []string  `toml:"world_states"`
	ArcID        string    `toml:"arc_id"`
}

type SeedConnection struct {
	Hero    string `toml:"hero"`
	Partner string `toml:"partner"`
	Status  string `toml:"status"`
}

func LoadWorld(path string) (World, error) {
	var w World
	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("failed to read world file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("failed to parse world file '%s': %w", path, err)
	}
	return w, nil
}

// Seed writes w into s. Seed events are written as active Canon.
func Seed(ctx context.Context, s Seeder, w World) error {
	for _, l := range w.Locations {
		if err := s.UpsertLocation(ctx, l); err != nil {
			return fmt.Errorf("seed location %s: %w", l.ID, err)
		}
	}
	for _, n := range w.NPCs {
		if err := s.UpsertNPC(ctx, n); err != nil {
			return fmt.Errorf("seed npc %s: %w", n.ID, err)
		}
	}
	for _, a := range w.Arcs {
		if err := s.UpsertArc(ctx, a); err != nil {
			return fmt.Errorf("seed arc %s: %w", a.ID, err)
		}
	}
	for _, e := range w.Events {
		ev := model.CanonEvent{
			ID:           e.ID,
			Title:        e.Title,
			Description:  e.Description,
			Timestamp:    e.Timestamp,
			Window:       model.TimeWindow{Start: e.Timestamp, End: e.Until},
			Significance: e.Significance,
			Status:       model.CanonActive,
			LocationIDs:  e.LocationIDs,
			NPCIDs:       e.NPCIDs,
			WorldStates:  e.WorldStates,
			ArcID:        e.ArcID,
			ActivatedAt:  e.Timestamp,
			ActivatedBy:  "seed",
		}
		if err := s.PutCanonEvent(ctx, ev); err != nil {
			return fmt.Errorf("seed canon event %s: %w", e.ID, err)
		}
	}
	for _, h := range w.Heroes {
		status := model.HeroStatus(h.Status)
		if status == "" {
			status = model.HeroActive
		}
		hero := model.Hero{
			ID:                 h.ID,
			DisplayName:        h.DisplayName,
			PowerType:          h.PowerType,
			OriginStory:        h.OriginStory,
			Status:             status,
			LocationID:         h.LocationID,
			CharacterReference: h.Reference,
			ContentSettings: model.ContentSettings{
				ViolenceLevel:  h.ViolenceLevel,
				LanguageFilter: h.LanguageFilter,
			},
		}
		if err := s.UpsertHero(ctx, hero); err != nil {
			return fmt.Errorf("seed hero %s: %w", h.ID, err)
		}
	}
	for _, c := range w.Connections {
		status := model.ApprovalStatus(c.Status)
		if status == "" {
			status = model.ApprovalApproved
		}
		if err := s.UpsertConnection(ctx, c.Hero, c.Partner, status); err != nil {
			return fmt.Errorf("seed connection %s-%s: %w", c.Hero, c.Partner, err)
		}
	}
	return nil
}
