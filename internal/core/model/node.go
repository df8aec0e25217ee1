package model

import "time"

type HeroStatus string

const (
	HeroPending   HeroStatus = "pending"
	HeroActive    HeroStatus = "active"
	HeroSuspended HeroStatus = "suspended"
	HeroClosed    HeroStatus = "closed"
)

// ContentSettings are owned by the guardian dashboard and read-only here.
type ContentSettings struct {
	ViolenceLevel  int  `json:"violence_level"` // 1..3
	LanguageFilter bool `json:"language_filter"`
}

// Hero is the root of a Variant subgraph.
type Hero struct {
	ID                      string          `json:"id"`
	DisplayName             string          `json:"display_name"`
	PowerType               string          `json:"power_type"`
	OriginStory             string          `json:"origin_story,omitempty"`
	Status                  HeroStatus      `json:"status"`
	SignificanceAccumulator float64         `json:"significance_accumulator"`
	LocationID              string          `json:"location_id,omitempty"`
	EpisodeCount            int             `json:"episode_count"`
	CharacterReference      string          `json:"character_reference,omitempty"`
	ContentSettings         ContentSettings `json:"content_settings"`
	LastEpisodePeriod       string          `json:"last_episode_period,omitempty"`
	LastCrossoverPeriod     string          `json:"last_crossover_period,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
}

type CanonStatus string

const (
	CanonProposed CanonStatus = "proposed"
	CanonActive   CanonStatus = "active"
	CanonResolved CanonStatus = "resolved"
	CanonRejected CanonStatus = "rejected"
)

// TimeWindow is the span over which an event's world states hold. A zero End
// means the window is open.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// Overlaps reports whether the two windows share any instant.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	if !w.End.IsZero() && !o.Start.Before(w.End) {
		return false
	}
	if !o.End.IsZero() && !w.Start.Before(o.End) {
		return false
	}
	return true
}

// CanonEvent is global narrative state. Once active it is never edited;
// proposals are immutable apart from the approve/reject decision.
type CanonEvent struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Timestamp     time.Time   `json:"timestamp"`
	Window        TimeWindow  `json:"window"`
	Significance  float64     `json:"significance"`
	Status        CanonStatus `json:"status"`
	LocationIDs   []string    `json:"location_ids,omitempty"`
	NPCIDs        []string    `json:"npc_ids,omitempty"`
	Constrains    []string    `json:"constrains,omitempty"`
	WorldStates   []string    `json:"world_states,omitempty"`
	ArcID         string      `json:"arc_id,omitempty"`
	SourceEventID string      `json:"source_event_id,omitempty"`
	ProposedAt    time.Time   `json:"proposed_at,omitempty"`
	ActivatedAt   time.Time   `json:"activated_at,omitempty"`
	ActivatedBy   string      `json:"activated_by,omitempty"`
	ReviewedBy    string      `json:"reviewed_by,omitempty"`
	RejectReason  string      `json:"reject_reason,omitempty"`
}

type Location struct {
	ID          string `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Description string `json:"description,omitempty" toml:"description"`
}

type NPC struct {
	ID                  string    `json:"id" toml:"id"`
	Name                string    `json:"name" toml:"name"`
	Role                string    `json:"role,omitempty" toml:"role"`
	LocationID          string    `json:"location_id,omitempty" toml:"location_id"`
	WorldStateSummary   string    `json:"world_state_summary,omitempty" toml:"-"`
	WorldStateUpdatedAt time.Time `json:"world_state_updated_at,omitempty" toml:"-"`
}

// Arc is a storyline spanning many canon events. At most one is active.
type Arc struct {
	ID     string `json:"id" toml:"id"`
	Title  string `json:"title" toml:"title"`
	Active bool   `json:"active" toml:"active"`
}
