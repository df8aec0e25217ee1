// Package canon holds the consistency rules for Canon: the explicit table of
// mutually exclusive world states and the conflict check built on it.
package canon

import (
	"fmt"
	"sort"

	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/model"
)

// Table is a symmetric set of mutually exclusive world-state pairs. Pairs are
// only ever listed, never inferred.
type Table struct {
	pairs map[[2]string]bool
}

func key(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func NewTable(pairs []config.ExclusivePair) *Table {
	t := &Table{pairs: make(map[[2]string]bool, len(pairs))}
	for _, p := range pairs {
		t.pairs[key(p.A, p.B)] = true
	}
	return t
}

func (t *Table) Exclusive(a, b string) bool {
	if t == nil || a == b {
		return false
	}
	return t.pairs[key(a, b)]
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.pairs)
}

// Conflict explains why a candidate cannot coexist with an active event.
type Conflict struct {
	EventID    string `json:"event_id"`
	LocationID string `json:"location_id"`
	State      string `json:"state"`
	Opposing   string `json:"opposing"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s at %s contradicts %s of event %s", c.State, c.LocationID, c.Opposing, c.EventID)
}

// Conflicts lists every active event sharing a location and an overlapping
// window with candidate while asserting an exclusive world state.
func (t *Table) Conflicts(candidate model.CanonEvent, active []model.CanonEvent) []Conflict {
	var out []Conflict
	for _, ev := range active {
		if ev.ID == candidate.ID || ev.Status != model.CanonActive {
			continue
		}
		if !candidate.Window.Overlaps(ev.Window) {
			continue
		}
		for _, loc := range sharedLocations(candidate.LocationIDs, ev.LocationIDs) {
			for _, s := range candidate.WorldStates {
				for _, o := range ev.WorldStates {
					if t.Exclusive(s, o) {
						out = append(out, Conflict{EventID: ev.ID, LocationID: loc, State: s, Opposing: o})
					}
				}
			}
		}
	}
	return out
}

func sharedLocations(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, l := range a {
		set[l] = true
	}
	var out []string
	for _, l := range b {
		if set[l] {
			out = append(out, l)
			delete(set, l)
		}
	}
	sort.Strings(out)
	return out
}
