package model

import "time"

// CanonSubgraph is the active Canon reachable from a hero. It is a read-only
// projection; nothing is copied into the hero's subgraph.
type CanonSubgraph struct {
	Events    []CanonEvent `json:"events"`
	Locations []Location   `json:"locations"`
	NPCs      []NPC        `json:"npcs"`
	Arc       *Arc         `json:"arc,omitempty"`
}

// ActiveWorldStates returns the world states asserted by active events.
func (c CanonSubgraph) ActiveWorldStates() map[string]bool {
	out := make(map[string]bool)
	for _, ev := range c.Events {
		if ev.Status != CanonActive {
			continue
		}
		for _, s := range ev.WorldStates {
			out[s] = true
		}
	}
	return out
}

func (c CanonSubgraph) HasEvent(id string) bool {
	for _, ev := range c.Events {
		if ev.ID == id && ev.Status == CanonActive {
			return true
		}
	}
	return false
}

func (c CanonSubgraph) HasLocation(id string) bool {
	for _, l := range c.Locations {
		if l.ID == id {
			return true
		}
	}
	return false
}

// HeroContext is everything a generation run reads from the graph.
type HeroContext struct {
	Hero           Hero                 `json:"hero"`
	Canon          CanonSubgraph        `json:"canon"`
	RecentEpisodes []Episode            `json:"recent_episodes"`
	StoryletUses   map[string]time.Time `json:"storylet_uses"`
	Connections    []Connection         `json:"connections"`
	Now            time.Time            `json:"now"`
	// Period is the generation period the context was read for, if any.
	Period string `json:"period,omitempty"`
}

// ApprovedPartners returns connections usable for a crossover today.
func (hc HeroContext) ApprovedPartners() []Connection {
	var out []Connection
	for _, c := range hc.Connections {
		if c.Status == ApprovalApproved && c.PartnerEligible {
			out = append(out, c)
		}
	}
	return out
}
