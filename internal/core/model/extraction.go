package model

import "time"

type EmergentStatus string

const (
	EmergentPending  EmergentStatus = "pending"
	EmergentScored   EmergentStatus = "scored"
	EmergentProposed EmergentStatus = "proposed"
	EmergentRejected EmergentStatus = "rejected"
	EmergentDeferred EmergentStatus = "deferred"
)

// EmergentEvent is an event tagged by the script stage and persisted with the
// episode. The nightly audit scores it and may propose it to Canon.
type EmergentEvent struct {
	ID               string         `json:"id"`
	EpisodeID        string         `json:"episode_id"`
	HeroID           string         `json:"hero_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	LocationID       string         `json:"location_id,omitempty"`
	BaseMagnitude    float64        `json:"base_magnitude"`
	FriendReferences int            `json:"friend_references"`
	WorldStates      []string       `json:"world_states,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Score            float64        `json:"score"`
	Status           EmergentStatus `json:"status"`
	ProposalID       string         `json:"proposal_id,omitempty"`
}

// EmergentFilter selects emergent events for the nightly batch.
type EmergentFilter struct {
	Status   EmergentStatus
	MinScore float64
	Since    time.Time
}

// WorldSummary is the summarizer's JSON output.
type WorldSummary struct {
	Summary string `json:"summary"`
}
