package model

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDeclined ApprovalStatus = "declined"
)

// Connection is a CONNECTED_TO edge seen from one hero. Only the guardian
// approval flow mutates it.
type Connection struct {
	PartnerID        string         `json:"partner_id"`
	PartnerName      string         `json:"partner_name"`
	PartnerPowerType string         `json:"partner_power_type"`
	Status           ApprovalStatus `json:"approval_status"`
	// PartnerEligible is true when the partner is active and has not
	// already crossed over in the current period.
	PartnerEligible bool `json:"partner_eligible"`
}

// StoryletUse is a USED_STORYLET edge.
type StoryletUse struct {
	StoryletID string    `json:"storylet_id"`
	UsedAt     time.Time `json:"used_at"`
}

// ReviewTicket is handed to the human moderation queue. PanelNumber 0 means
// the script itself.
type ReviewTicket struct {
	ID          string    `json:"id"`
	EpisodeID   string    `json:"episode_id"`
	HeroID      string    `json:"hero_id"`
	PanelNumber int       `json:"panel_number"`
	Code        string    `json:"code"`
	Reasons     []string  `json:"reasons"`
	CreatedAt   time.Time `json:"created_at"`
}
