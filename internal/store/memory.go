package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
)

// MemoryStore is an in-process Store with the same invariants as the graph
// store. It backs tests and single-process development runs.
type MemoryStore struct {
	mu sync.RWMutex

	heroes       map[string]model.Hero
	episodes     map[string]model.Episode
	heroEpisodes map[string][]string
	canonEvents  map[string]model.CanonEvent
	locations    map[string]model.Location
	npcs         map[string]model.NPC
	arcs         map[string]model.Arc
	connections  map[string]map[string]model.ApprovalStatus
	storyletUses map[string][]model.StoryletUse
	emergent     map[string]model.EmergentEvent
	tickets      []model.ReviewTicket

	table *canon.Table
	Now   func() time.Time
}

func NewMemoryStore(table *canon.Table) *MemoryStore {
	return &MemoryStore{
		heroes:       map[string]model.Hero{},
		episodes:     map[string]model.Episode{},
		heroEpisodes: map[string][]string{},
		canonEvents:  map[string]model.CanonEvent{},
		locations:    map[string]model.Location{},
		npcs:         map[string]model.NPC{},
		arcs:         map[string]model.Arc{},
		connections:  map[string]map[string]model.ApprovalStatus{},
		storyletUses: map[string][]model.StoryletUse{},
		emergent:     map[string]model.EmergentEvent{},
		table:        table,
		Now:          time.Now,
	}
}

// Seeding

func (s *MemoryStore) UpsertHero(_ context.Context, h model.Hero) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.heroes[h.ID]; ok && h.EpisodeCount < existing.EpisodeCount {
		h.EpisodeCount = existing.EpisodeCount
	}
	s.heroes[h.ID] = h
	return nil
}

func (s *MemoryStore) UpsertLocation(_ context.Context, l model.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[l.ID] = l
	return nil
}

func (s *MemoryStore) UpsertNPC(_ context.Context, n model.NPC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.npcs[n.ID] = n
	return nil
}

func (s *MemoryStore) UpsertArc(_ context.Context, a model.Arc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arcs[a.ID] = a
	return nil
}

// PutCanonEvent stores ev with its own status. Bootstrap only; runtime
// changes go through propose and activate.
func (s *MemoryStore) PutCanonEvent(_ context.Context, ev model.CanonEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canonEvents[ev.ID] = cloneCanon(ev)
	return nil
}

func (s *MemoryStore) UpsertConnection(_ context.Context, heroID, partnerID string, status model.ApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range [][2]string{{heroID, partnerID}, {partnerID, heroID}} {
		if s.connections[pair[0]] == nil {
			s.connections[pair[0]] = map[string]model.ApprovalStatus{}
		}
		s.connections[pair[0]][pair[1]] = status
	}
	return nil
}

// Tickets returns the review tickets raised so far.
func (s *MemoryStore) Tickets() []model.ReviewTicket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tickets)
}

// Heroes

func (s *MemoryStore) GetHero(_ context.Context, heroID string) (model.Hero, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heroes[heroID]
	if !ok {
		return model.Hero{}, apperr.New(apperr.CodeNotFound, "hero %s", heroID)
	}
	return h, nil
}

func (s *MemoryStore) GetHeroContext(_ context.Context, heroID string, opts ContextOptions) (model.HeroContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.heroes[heroID]
	if !ok {
		return model.HeroContext{}, apperr.New(apperr.CodeNotFound, "hero %s", heroID)
	}
	if h.Status != model.HeroActive {
		return model.HeroContext{}, apperr.New(apperr.CodeNotActive, "hero %s is %s", heroID, h.Status)
	}

	hc := model.HeroContext{
		Hero:         h,
		StoryletUses: map[string]time.Time{},
		Now:          opts.Now,
		Period:       opts.Period,
	}

	for _, ev := range s.sortedCanon() {
		if ev.Status == model.CanonActive {
			hc.Canon.Events = append(hc.Canon.Events, ev)
		}
	}
	for _, id := range sortedKeys(s.locations) {
		hc.Canon.Locations = append(hc.Canon.Locations, s.locations[id])
	}
	for _, id := range sortedKeys(s.npcs) {
		hc.Canon.NPCs = append(hc.Canon.NPCs, s.npcs[id])
	}
	for _, id := range sortedKeys(s.arcs) {
		if a := s.arcs[id]; a.Active {
			hc.Canon.Arc = &a
			break
		}
	}

	ids := s.heroEpisodes[heroID]
	for i := len(ids) - 1; i >= 0; i-- {
		ep := s.episodes[ids[i]]
		if !ep.Status.Delivered() || ep.CreatedAt.Before(opts.HistorySince) {
			continue
		}
		hc.RecentEpisodes = append(hc.RecentEpisodes, cloneEpisode(ep))
		if opts.HistoryLimit > 0 && len(hc.RecentEpisodes) >= opts.HistoryLimit {
			break
		}
	}

	for _, use := range s.storyletUses[heroID] {
		if last, ok := hc.StoryletUses[use.StoryletID]; !ok || use.UsedAt.After(last) {
			hc.StoryletUses[use.StoryletID] = use.UsedAt
		}
	}

	for _, pid := range sortedKeys(s.connections[heroID]) {
		status := s.connections[heroID][pid]
		if status != model.ApprovalApproved {
			continue
		}
		p, ok := s.heroes[pid]
		if !ok {
			continue
		}
		hc.Connections = append(hc.Connections, model.Connection{
			PartnerID:        p.ID,
			PartnerName:      p.DisplayName,
			PartnerPowerType: p.PowerType,
			Status:           status,
			PartnerEligible:  p.Status == model.HeroActive && p.LastCrossoverPeriod != opts.Period,
		})
	}
	return hc, nil
}

func (s *MemoryStore) ListActiveHeroes(_ context.Context) ([]model.Hero, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Hero
	for _, id := range sortedKeys(s.heroes) {
		if h := s.heroes[id]; h.Status == model.HeroActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddHeroSignificance(_ context.Context, heroID string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heroes[heroID]
	if !ok {
		return 0, apperr.New(apperr.CodeNotFound, "hero %s", heroID)
	}
	h.SignificanceAccumulator += delta
	s.heroes[heroID] = h
	return h.SignificanceAccumulator, nil
}

// Episodes

func (s *MemoryStore) CreateEpisode(_ context.Context, ep model.Episode, expectedCount int) (model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.heroes[ep.HeroID]
	if !ok {
		return model.Episode{}, apperr.New(apperr.CodeNotFound, "hero %s", ep.HeroID)
	}
	if h.EpisodeCount != expectedCount {
		return model.Episode{}, apperr.New(apperr.CodeSequenceConflict,
			"hero %s has %d episodes, expected %d", ep.HeroID, h.EpisodeCount, expectedCount)
	}
	if _, dup := s.episodes[ep.ID]; dup {
		return model.Episode{}, apperr.New(apperr.CodeInternal, "episode %s already exists", ep.ID)
	}

	h.EpisodeCount++
	s.heroes[h.ID] = h

	ep.Sequence = h.EpisodeCount
	if ep.Status.Stage == "" {
		ep.Status = lifecycle.New()
	}
	s.episodes[ep.ID] = cloneEpisode(ep)
	s.heroEpisodes[h.ID] = append(s.heroEpisodes[h.ID], ep.ID)
	return ep, nil
}

func (s *MemoryStore) SaveEpisode(_ context.Context, ep model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ep)
}

func (s *MemoryStore) saveLocked(ep model.Episode) error {
	old, ok := s.episodes[ep.ID]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "episode %s", ep.ID)
	}
	if old.Status.Terminal() {
		return apperr.New(apperr.CodeInvalidTransition, "episode %s is already %s", ep.ID, old.Status.Stage)
	}
	// identity fields are fixed at creation
	ep.HeroID, ep.Sequence, ep.Period, ep.CreatedAt = old.HeroID, old.Sequence, old.Period, old.CreatedAt
	s.episodes[ep.ID] = cloneEpisode(ep)
	return nil
}

func (s *MemoryStore) CommitEpisode(_ context.Context, ep model.Episode, c Commit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before the first write so a failure leaves no trace.
	old, ok := s.episodes[ep.ID]
	if !ok {
		return "", apperr.New(apperr.CodeNotFound, "episode %s", ep.ID)
	}
	h, ok := s.heroes[old.HeroID]
	if !ok {
		return "", apperr.New(apperr.CodeNotFound, "hero %s", old.HeroID)
	}
	var partner model.Hero
	if c.CrossoverHeroID != "" {
		if partner, ok = s.heroes[c.CrossoverHeroID]; !ok {
			return "", apperr.New(apperr.CodeNotFound, "crossover hero %s", c.CrossoverHeroID)
		}
	}
	for _, ev := range c.Events {
		if _, dup := s.emergent[ev.ID]; dup {
			return "", apperr.New(apperr.CodeInternal, "emergent event %s already exists", ev.ID)
		}
	}

	var refs []string
	for _, ref := range ep.CanonRefs {
		if e, ok := s.canonEvents[ref]; ok && e.Status == model.CanonActive {
			refs = append(refs, ref)
		}
	}
	ep.CanonRefs = refs

	if err := s.saveLocked(ep); err != nil {
		return "", err
	}
	for _, ev := range c.Events {
		ev.EpisodeID = ep.ID
		ev.HeroID = old.HeroID
		s.emergent[ev.ID] = ev
	}
	if c.StoryletUse != nil {
		s.storyletUses[h.ID] = append(s.storyletUses[h.ID], *c.StoryletUse)
	}
	h.LastEpisodePeriod = old.Period
	if c.LocationID != "" {
		h.LocationID = c.LocationID
	}
	if c.CrossoverHeroID != "" {
		h.LastCrossoverPeriod = old.Period
		partner.LastCrossoverPeriod = old.Period
		s.heroes[partner.ID] = partner
	}
	s.heroes[h.ID] = h
	return ep.ID, nil
}

func (s *MemoryStore) GetEpisode(_ context.Context, episodeID string) (model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return model.Episode{}, apperr.New(apperr.CodeNotFound, "episode %s", episodeID)
	}
	return cloneEpisode(ep), nil
}

func (s *MemoryStore) ListEpisodes(_ context.Context, heroID string, limit int) ([]model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.heroEpisodes[heroID]
	var out []model.Episode
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, cloneEpisode(s.episodes[ids[i]]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEpisodesForPeriod(_ context.Context, heroID, period string) ([]model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.heroEpisodes[heroID]
	var out []model.Episode
	for i := len(ids) - 1; i >= 0; i-- {
		if ep := s.episodes[ids[i]]; ep.Period == period {
			out = append(out, cloneEpisode(ep))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateReviewTicket(_ context.Context, t model.ReviewTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[t.EpisodeID]; !ok {
		return apperr.New(apperr.CodeNotFound, "episode %s", t.EpisodeID)
	}
	s.tickets = append(s.tickets, t)
	return nil
}

// Canon

func (s *MemoryStore) ProposeCanonEvent(_ context.Context, ev model.CanonEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.canonEvents[ev.ID]; dup {
		return "", apperr.New(apperr.CodeInternal, "canon event %s already exists", ev.ID)
	}
	ev.Status = model.CanonProposed
	if ev.ProposedAt.IsZero() {
		ev.ProposedAt = s.Now()
	}
	s.canonEvents[ev.ID] = cloneCanon(ev)
	if x, ok := s.emergent[ev.SourceEventID]; ok {
		x.Status = model.EmergentProposed
		x.ProposalID = ev.ID
		s.emergent[x.ID] = x
	}
	return ev.ID, nil
}

func (s *MemoryStore) ActivateCanonEvent(_ context.Context, id, approver string) (model.CanonEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.canonEvents[id]
	if !ok {
		return model.CanonEvent{}, apperr.New(apperr.CodeNotFound, "canon event %s", id)
	}
	if ev.Status != model.CanonProposed {
		return model.CanonEvent{}, apperr.New(apperr.CodeInvalidTransition, "canon event %s is %s", id, ev.Status)
	}
	var active []model.CanonEvent
	for _, e := range s.sortedCanon() {
		if e.Status == model.CanonActive {
			active = append(active, e)
		}
	}
	if conflicts := s.table.Conflicts(ev, active); len(conflicts) > 0 {
		return model.CanonEvent{}, conflictError(id, conflicts)
	}

	ev.Status = model.CanonActive
	ev.ActivatedAt = s.Now()
	ev.ActivatedBy = approver
	ev.ReviewedBy = approver
	s.canonEvents[id] = ev
	return cloneCanon(ev), nil
}

func (s *MemoryStore) RejectCanonEvent(_ context.Context, id, director, reason string) (model.CanonEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.canonEvents[id]
	if !ok {
		return model.CanonEvent{}, apperr.New(apperr.CodeNotFound, "canon event %s", id)
	}
	if ev.Status != model.CanonProposed {
		return model.CanonEvent{}, apperr.New(apperr.CodeInvalidTransition, "canon event %s is %s", id, ev.Status)
	}
	ev.Status = model.CanonRejected
	ev.ReviewedBy = director
	ev.RejectReason = reason
	s.canonEvents[id] = ev
	if x, ok := s.emergent[ev.SourceEventID]; ok {
		x.Status = model.EmergentRejected
		s.emergent[x.ID] = x
	}
	return cloneCanon(ev), nil
}

func (s *MemoryStore) GetCanonEvent(_ context.Context, id string) (model.CanonEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.canonEvents[id]
	if !ok {
		return model.CanonEvent{}, apperr.New(apperr.CodeNotFound, "canon event %s", id)
	}
	return cloneCanon(ev), nil
}

func (s *MemoryStore) ListCanonEvents(_ context.Context, statuses ...model.CanonStatus) ([]model.CanonEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CanonEvent
	for _, ev := range s.sortedCanon() {
		if len(statuses) == 0 || slices.Contains(statuses, ev.Status) {
			out = append(out, cloneCanon(ev))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateNPCAwareness(_ context.Context, summary string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.npcs {
		n.WorldStateSummary = summary
		n.WorldStateUpdatedAt = at
		s.npcs[id] = n
	}
	return len(s.npcs), nil
}

// Emergent events

func (s *MemoryStore) ListEmergentEvents(_ context.Context, f model.EmergentFilter) ([]model.EmergentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EmergentEvent
	for _, x := range s.emergent {
		if f.Status != "" && x.Status != f.Status {
			continue
		}
		if x.Score < f.MinScore || x.OccurredAt.Before(f.Since) {
			continue
		}
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateEmergentEvent(_ context.Context, ev model.EmergentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, ok := s.emergent[ev.ID]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "emergent event %s", ev.ID)
	}
	x.Score = ev.Score
	x.Status = ev.Status
	x.ProposalID = ev.ProposalID
	s.emergent[ev.ID] = x
	return nil
}

func (s *MemoryStore) sortedCanon() []model.CanonEvent {
	out := make([]model.CanonEvent, 0, len(s.canonEvents))
	for _, ev := range s.canonEvents {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func conflictError(id string, conflicts []canon.Conflict) error {
	parts := make([]string, len(conflicts))
	for i, c := range conflicts {
		parts[i] = c.String()
	}
	return apperr.New(apperr.CodeCanonConflict, "canon event %s: %s", id, strings.Join(parts, "; "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneEpisode(ep model.Episode) model.Episode {
	ep.Panels = slices.Clone(ep.Panels)
	for i := range ep.Panels {
		ep.Panels[i].Dialogue = slices.Clone(ep.Panels[i].Dialogue)
	}
	ep.Tags = slices.Clone(ep.Tags)
	ep.CanonRefs = slices.Clone(ep.CanonRefs)
	if ep.Video != nil {
		v := *ep.Video
		ep.Video = &v
	}
	return ep
}

func cloneCanon(ev model.CanonEvent) model.CanonEvent {
	ev.LocationIDs = slices.Clone(ev.LocationIDs)
	ev.NPCIDs = slices.Clone(ev.NPCIDs)
	ev.Constrains = slices.Clone(ev.Constrains)
	ev.WorldStates = slices.Clone(ev.WorldStates)
	return ev
}
