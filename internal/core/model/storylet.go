package model

// Precondition is evaluated against a HeroContext. Empty fields do not
// constrain.
type Precondition struct {
	PowerTypes           []string `json:"power_types,omitempty" toml:"power_types"`
	Locations            []string `json:"locations,omitempty" toml:"locations"`
	RequiredWorldStates  []string `json:"required_world_states,omitempty" toml:"required_world_states"`
	ForbiddenWorldStates []string `json:"forbidden_world_states,omitempty" toml:"forbidden_world_states"`
	MinEpisodes          int      `json:"min_episodes,omitempty" toml:"min_episodes"`
	MaxEpisodes          int      `json:"max_episodes,omitempty" toml:"max_episodes"`
	ArcID                string   `json:"arc_id,omitempty" toml:"arc_id"`
}

type StoryletTemplate struct {
	ID           string       `json:"id" toml:"id"`
	Title        string       `json:"title" toml:"title"`
	Premise      string       `json:"premise" toml:"premise"`
	Precondition Precondition `json:"precondition" toml:"precondition"`
	Outcomes     []string     `json:"outcomes" toml:"outcomes"`
	ArcID        string       `json:"arc_id,omitempty" toml:"arc_id"`
	Tags         []string     `json:"tags,omitempty" toml:"tags"`
	Crossover    bool         `json:"crossover,omitempty" toml:"crossover"`
	Weight       float64      `json:"weight,omitempty" toml:"weight"`
}

// DefaultStorylet is the open-ended template used when nothing is eligible.
var DefaultStorylet = StoryletTemplate{
	ID:       "open-day",
	Title:    "An Ordinary Extraordinary Day",
	Premise:  "The hero patrols their corner of the world and follows whatever trouble finds them.",
	Outcomes: []string{"A small good deed ripples outward", "A clue to something bigger surfaces"},
	Weight:   1,
}
