package store

import (
	"encoding/json"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
)

// Times are stored as fixed-width UTC strings so that string comparison in
// Cypher orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func integer(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func strs(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case neo4j.Node:
		return m.Props
	default:
		return nil
	}
}

func recordMap(rec *neo4j.Record, key string) map[string]any {
	v, _ := rec.Get(key)
	return asMap(v)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Heroes

func heroFromMap(m map[string]any) model.Hero {
	return model.Hero{
		ID:                      str(m, "id"),
		DisplayName:             str(m, "display_name"),
		PowerType:               str(m, "power_type"),
		OriginStory:             str(m, "origin_story"),
		Status:                  model.HeroStatus(str(m, "status")),
		SignificanceAccumulator: num(m, "significance_accumulator"),
		LocationID:              str(m, "location_id"),
		EpisodeCount:            integer(m, "episode_count"),
		CharacterReference:      str(m, "character_reference"),
		ContentSettings: model.ContentSettings{
			ViolenceLevel:  integer(m, "violence_level"),
			LanguageFilter: boolean(m, "language_filter"),
		},
		LastEpisodePeriod:   str(m, "last_episode_period"),
		LastCrossoverPeriod: str(m, "last_crossover_period"),
		CreatedAt:           parseTime(m["created_at"]),
	}
}

// heroProps leaves out episode_count, which only CreateEpisode changes.
func heroProps(h model.Hero) map[string]any {
	return map[string]any{
		"display_name":             h.DisplayName,
		"power_type":               h.PowerType,
		"origin_story":             h.OriginStory,
		"status":                   string(h.Status),
		"significance_accumulator": h.SignificanceAccumulator,
		"location_id":              h.LocationID,
		"character_reference":      h.CharacterReference,
		"violence_level":           int64(h.ContentSettings.ViolenceLevel),
		"language_filter":          h.ContentSettings.LanguageFilter,
		"last_episode_period":      h.LastEpisodePeriod,
		"created_at":               fmtTime(h.CreatedAt),
	}
}

// Episodes

func episodeFromRecord(rec *neo4j.Record) (model.Episode, error) {
	m := recordMap(rec, "episode")
	status, err := lifecycle.Parse(str(m, "stage"), str(m, "reason"), str(m, "detail"))
	if err != nil {
		return model.Episode{}, err
	}
	ep := model.Episode{
		ID:              str(m, "id"),
		HeroID:          str(m, "hero_id"),
		Sequence:        integer(m, "sequence"),
		Period:          str(m, "period"),
		Title:           str(m, "title"),
		Synopsis:        str(m, "synopsis"),
		Status:          status,
		Tags:            strs(m, "tags"),
		CanonRefs:       strs(m, "canon_refs"),
		StoryletID:      str(m, "storylet_id"),
		CrossoverHeroID: str(m, "crossover_hero_id"),
		LocationID:      str(m, "location_id"),
		GeneratedAt:     parseTime(m["generated_at"]),
		CreatedAt:       parseTime(m["created_at"]),
		UpdatedAt:       parseTime(m["updated_at"]),
	}
	if url := str(m, "video_url"); url != "" {
		ep.Video = &model.Video{
			URL:             url,
			DurationSeconds: num(m, "video_duration"),
			Resolution:      str(m, "video_resolution"),
		}
	}

	raw, _ := rec.Get("panels")
	list, _ := raw.([]any)
	for _, it := range list {
		pm := asMap(it)
		if pm == nil {
			continue
		}
		p := model.Panel{
			Number:      integer(pm, "number"),
			Prompt:      str(pm, "prompt"),
			ImageRef:    str(pm, "image_ref"),
			Caption:     str(pm, "caption"),
			Action:      str(pm, "action"),
			SafetyScore: num(pm, "safety_score"),
			RetryCount:  integer(pm, "retry_count"),
			NeedsReview: boolean(pm, "needs_review"),
		}
		if d := str(pm, "dialogue"); d != "" {
			if err := json.Unmarshal([]byte(d), &p.Dialogue); err != nil {
				return model.Episode{}, err
			}
		}
		ep.Panels = append(ep.Panels, p)
	}
	return ep, nil
}

func episodeParams(ep model.Episode) map[string]any {
	p := map[string]any{
		"id":                ep.ID,
		"title":             ep.Title,
		"synopsis":          ep.Synopsis,
		"stage":             string(ep.Status.Stage),
		"reason":            string(ep.Status.Reason),
		"detail":            ep.Status.Detail,
		"tags":              orEmpty(ep.Tags),
		"canon_refs":        orEmpty(ep.CanonRefs),
		"storylet_id":       ep.StoryletID,
		"crossover_hero_id": ep.CrossoverHeroID,
		"location_id":       ep.LocationID,
		"video_url":         "",
		"video_duration":    0.0,
		"video_resolution":  "",
		"generated_at":      fmtTime(ep.GeneratedAt),
		"updated_at":        fmtTime(ep.UpdatedAt),
	}
	if ep.Video != nil {
		p["video_url"] = ep.Video.URL
		p["video_duration"] = ep.Video.DurationSeconds
		p["video_resolution"] = ep.Video.Resolution
	}
	return p
}

func panelParams(panels []model.Panel) ([]any, error) {
	out := make([]any, 0, len(panels))
	for _, p := range panels {
		dialogue := "[]"
		if len(p.Dialogue) > 0 {
			b, err := json.Marshal(p.Dialogue)
			if err != nil {
				return nil, err
			}
			dialogue = string(b)
		}
		out = append(out, map[string]any{
			"number":       int64(p.Number),
			"prompt":       p.Prompt,
			"image_ref":    p.ImageRef,
			"dialogue":     dialogue,
			"caption":      p.Caption,
			"action":       p.Action,
			"safety_score": p.SafetyScore,
			"retry_count":  int64(p.RetryCount),
			"needs_review": p.NeedsReview,
		})
	}
	return out, nil
}

// Canon

func canonFromMap(m map[string]any) model.CanonEvent {
	return model.CanonEvent{
		ID:          str(m, "id"),
		Title:       str(m, "title"),
		Description: str(m, "description"),
		Timestamp:   parseTime(m["timestamp"]),
		Window: model.TimeWindow{
			Start: parseTime(m["window_start"]),
			End:   parseTime(m["window_end"]),
		},
		Significance:  num(m, "significance"),
		Status:        model.CanonStatus(str(m, "status")),
		LocationIDs:   strs(m, "location_ids"),
		NPCIDs:        strs(m, "npc_ids"),
		Constrains:    strs(m, "constrains"),
		WorldStates:   strs(m, "world_states"),
		ArcID:         str(m, "arc_id"),
		SourceEventID: str(m, "source_event_id"),
		ProposedAt:    parseTime(m["proposed_at"]),
		ActivatedAt:   parseTime(m["activated_at"]),
		ActivatedBy:   str(m, "activated_by"),
		ReviewedBy:    str(m, "reviewed_by"),
		RejectReason:  str(m, "reject_reason"),
	}
}

func canonProps(ev model.CanonEvent) map[string]any {
	return map[string]any{
		"id":              ev.ID,
		"title":           ev.Title,
		"description":     ev.Description,
		"timestamp":       fmtTime(ev.Timestamp),
		"window_start":    fmtTime(ev.Window.Start),
		"window_end":      fmtTime(ev.Window.End),
		"significance":    ev.Significance,
		"status":          string(ev.Status),
		"location_ids":    orEmpty(ev.LocationIDs),
		"world_states":    orEmpty(ev.WorldStates),
		"arc_id":          ev.ArcID,
		"source_event_id": ev.SourceEventID,
		"proposed_at":     fmtTime(ev.ProposedAt),
		"activated_at":    fmtTime(ev.ActivatedAt),
		"activated_by":    ev.ActivatedBy,
		"reviewed_by":     ev.ReviewedBy,
		"reject_reason":   ev.RejectReason,
	}
}

func locationFromMap(m map[string]any) model.Location {
	return model.Location{ID: str(m, "id"), Name: str(m, "name"), Description: str(m, "description")}
}

func npcFromMap(m map[string]any) model.NPC {
	return model.NPC{
		ID:                  str(m, "id"),
		Name:                str(m, "name"),
		Role:                str(m, "role"),
		LocationID:          str(m, "location_id"),
		WorldStateSummary:   str(m, "world_state_summary"),
		WorldStateUpdatedAt: parseTime(m["world_state_updated_at"]),
	}
}

func arcFromMap(m map[string]any) *model.Arc {
	if m == nil {
		return nil
	}
	return &model.Arc{ID: str(m, "id"), Title: str(m, "title"), Active: boolean(m, "active")}
}

// Emergent events

func emergentFromMap(m map[string]any) model.EmergentEvent {
	return model.EmergentEvent{
		ID:               str(m, "id"),
		EpisodeID:        str(m, "episode_id"),
		HeroID:           str(m, "hero_id"),
		Title:            str(m, "title"),
		Description:      str(m, "description"),
		LocationID:       str(m, "location_id"),
		BaseMagnitude:    num(m, "base_magnitude"),
		FriendReferences: integer(m, "friend_references"),
		WorldStates:      strs(m, "world_states"),
		OccurredAt:       parseTime(m["occurred_at"]),
		Score:            num(m, "score"),
		Status:           model.EmergentStatus(str(m, "status")),
		ProposalID:       str(m, "proposal_id"),
	}
}

func emergentProps(x model.EmergentEvent) map[string]any {
	return map[string]any{
		"id":                x.ID,
		"episode_id":        x.EpisodeID,
		"hero_id":           x.HeroID,
		"title":             x.Title,
		"description":       x.Description,
		"location_id":       x.LocationID,
		"base_magnitude":    x.BaseMagnitude,
		"friend_references": int64(x.FriendReferences),
		"world_states":      orEmpty(x.WorldStates),
		"occurred_at":       fmtTime(x.OccurredAt),
		"score":             x.Score,
		"status":            string(x.Status),
		"proposal_id":       x.ProposalID,
	}
}
