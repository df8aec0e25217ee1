package store

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/genesis/internal/apperr"
	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/core/lifecycle"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/driver"
	"github.com/agenthands/genesis/internal/logger"
)

// GraphStore is the Neo4j-backed Store. Reads go through ExecuteQuery; every
// mutation runs in a single managed write transaction.
type GraphStore struct {
	Driver driver.GraphDriver
	table  *canon.Table
	log    *logger.Logger
	Now    func() time.Time
}

func NewGraphStore(d driver.GraphDriver, table *canon.Table, log *logger.Logger) *GraphStore {
	return &GraphStore{Driver: d, table: table, log: log.With("component", "graph_store"), Now: time.Now}
}

func (g *GraphStore) run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	res, err := g.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExternalUnavailable, err, "graph read")
	}
	return res.Records, nil
}

// Seeding

func (g *GraphStore) UpsertHero(ctx context.Context, h model.Hero) error {
	return g.write(ctx, "upsert hero", func(tx driver.Tx) error {
		_, err := tx.Run(ctx, driver.UpsertHeroQuery, map[string]interface{}{"id": h.ID, "props": heroProps(h)})
		return err
	})
}

func (g *GraphStore) UpsertLocation(ctx context.Context, l model.Location) error {
	return g.write(ctx, "upsert location", func(tx driver.Tx) error {
		_, err := tx.Run(ctx, driver.UpsertLocationQuery, map[string]interface{}{
			"id":    l.ID,
			"props": map[string]interface{}{"name": l.Name, "description": l.Description},
		})
		return err
	})
}

func (g *GraphStore) UpsertNPC(ctx context.Context, n model.NPC) error {
	return g.write(ctx, "upsert npc", func(tx driver.Tx) error {
		_, err := tx.Run(ctx, driver.UpsertNPCQuery, map[string]interface{}{
			"id":    n.ID,
			"props": map[string]interface{}{"name": n.Name, "role": n.Role, "location_id": n.LocationID},
		})
		return err
	})
}

func (g *GraphStore) UpsertArc(ctx context.Context, a model.Arc) error {
	return g.write(ctx, "upsert arc", func(tx driver.Tx) error {
		_, err := tx.Run(ctx, driver.UpsertArcQuery, map[string]interface{}{
			"id":    a.ID,
			"props": map[string]interface{}{"title": a.Title, "active": a.Active},
		})
		return err
	})
}

// PutCanonEvent stores ev with its own status. Bootstrap only.
func (g *GraphStore) PutCanonEvent(ctx context.Context, ev model.CanonEvent) error {
	return g.write(ctx, "put canon event", func(tx driver.Tx) error {
		return createCanonEvent(ctx, tx, ev)
	})
}

func (g *GraphStore) UpsertConnection(ctx context.Context, heroID, partnerID string, status model.ApprovalStatus) error {
	return g.write(ctx, "upsert connection", func(tx driver.Tx) error {
		_, err := tx.Run(ctx, driver.UpsertConnectionQuery, map[string]interface{}{
			"hero_id": heroID, "partner_id": partnerID, "status": string(status),
		})
		return err
	})
}

// write runs work in one transaction. Domain errors returned by work pass
// through untouched; driver errors become EXTERNAL_UNAVAILABLE.
func (g *GraphStore) write(ctx context.Context, op string, work func(tx driver.Tx) error) error {
	err := g.Driver.ExecuteWrite(ctx, work)
	if err == nil {
		return nil
	}
	if apperr.GetCode(err) != apperr.CodeUnknown {
		return err
	}
	if ctx.Err() != nil {
		return apperr.Wrap(apperr.CodeCancelled, err, "%s", op)
	}
	return apperr.Wrap(apperr.CodeExternalUnavailable, err, "%s", op)
}

// Heroes

func (g *GraphStore) GetHero(ctx context.Context, heroID string) (model.Hero, error) {
	recs, err := g.run(ctx, driver.GetHeroQuery, map[string]interface{}{"hero_id": heroID})
	if err != nil {
		return model.Hero{}, err
	}
	if len(recs) == 0 {
		return model.Hero{}, apperr.New(apperr.CodeNotFound, "hero %s", heroID)
	}
	return heroFromMap(recordMap(recs[0], "hero")), nil
}

func (g *GraphStore) GetHeroContext(ctx context.Context, heroID string, opts ContextOptions) (model.HeroContext, error) {
	h, err := g.GetHero(ctx, heroID)
	if err != nil {
		return model.HeroContext{}, err
	}
	if h.Status != model.HeroActive {
		return model.HeroContext{}, apperr.New(apperr.CodeNotActive, "hero %s is %s", heroID, h.Status)
	}
	hc := model.HeroContext{Hero: h, StoryletUses: map[string]time.Time{}, Now: opts.Now, Period: opts.Period}
	params := map[string]interface{}{"hero_id": heroID}

	recs, err := g.run(ctx, driver.GetActiveCanonEventsQuery, params)
	if err != nil {
		return model.HeroContext{}, err
	}
	for _, rec := range recs {
		hc.Canon.Events = append(hc.Canon.Events, canonFromMap(recordMap(rec, "event")))
	}

	recs, err = g.run(ctx, driver.GetCanonWorldQuery, params)
	if err != nil {
		return model.HeroContext{}, err
	}
	if len(recs) > 0 {
		locs, _ := recs[0].Get("locations")
		for _, it := range asList(locs) {
			hc.Canon.Locations = append(hc.Canon.Locations, locationFromMap(asMap(it)))
		}
		npcs, _ := recs[0].Get("npcs")
		for _, it := range asList(npcs) {
			hc.Canon.NPCs = append(hc.Canon.NPCs, npcFromMap(asMap(it)))
		}
		hc.Canon.Arc = arcFromMap(recordMap(recs[0], "arc"))
	}

	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	recs, err = g.run(ctx, driver.GetRecentEpisodesQuery, map[string]interface{}{
		"hero_id": heroID,
		"since":   fmtTime(opts.HistorySince),
		"limit":   int64(limit),
	})
	if err != nil {
		return model.HeroContext{}, err
	}
	for _, rec := range recs {
		ep, err := episodeFromRecord(rec)
		if err != nil {
			return model.HeroContext{}, apperr.Wrap(apperr.CodeInternal, err, "decode episode")
		}
		hc.RecentEpisodes = append(hc.RecentEpisodes, ep)
	}

	recs, err = g.run(ctx, driver.GetStoryletUsesQuery, params)
	if err != nil {
		return model.HeroContext{}, err
	}
	for _, rec := range recs {
		id, _ := rec.Get("storylet_id")
		at, _ := rec.Get("used_at")
		if sid, ok := id.(string); ok {
			hc.StoryletUses[sid] = parseTime(at)
		}
	}

	recs, err = g.run(ctx, driver.GetConnectionsQuery, map[string]interface{}{"hero_id": heroID, "period": opts.Period})
	if err != nil {
		return model.HeroContext{}, err
	}
	for _, rec := range recs {
		m := rec.AsMap()
		hc.Connections = append(hc.Connections, model.Connection{
			PartnerID:        str(m, "partner_id"),
			PartnerName:      str(m, "partner_name"),
			PartnerPowerType: str(m, "partner_power_type"),
			Status:           model.ApprovalStatus(str(m, "approval_status")),
			PartnerEligible:  boolean(m, "partner_eligible"),
		})
	}
	return hc, nil
}

func (g *GraphStore) ListActiveHeroes(ctx context.Context) ([]model.Hero, error) {
	recs, err := g.run(ctx, driver.ListActiveHeroesQuery, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Hero, 0, len(recs))
	for _, rec := range recs {
		out = append(out, heroFromMap(recordMap(rec, "hero")))
	}
	return out, nil
}

func (g *GraphStore) AddHeroSignificance(ctx context.Context, heroID string, delta float64) (float64, error) {
	var total float64
	err := g.write(ctx, "add significance", func(tx driver.Tx) error {
		recs, err := tx.Run(ctx, driver.AddHeroSignificanceQuery, map[string]interface{}{"hero_id": heroID, "delta": delta})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeNotFound, "hero %s", heroID)
		}
		total = num(recs[0].AsMap(), "total")
		return nil
	})
	return total, err
}

// Episodes

func (g *GraphStore) CreateEpisode(ctx context.Context, ep model.Episode, expectedCount int) (model.Episode, error) {
	if ep.Status.Stage == "" {
		ep.Status = lifecycle.New()
	}
	err := g.write(ctx, "create episode", func(tx driver.Tx) error {
		recs, err := tx.Run(ctx, driver.CreateEpisodeQuery, map[string]interface{}{
			"hero_id":  ep.HeroID,
			"expected": int64(expectedCount),
			"id":       ep.ID,
			"period":   ep.Period,
			"stage":    string(ep.Status.Stage),
			"now":      fmtTime(ep.CreatedAt),
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeSequenceConflict, "hero %s moved past %d episodes", ep.HeroID, expectedCount)
		}
		ep.Sequence = integer(recs[0].AsMap(), "sequence")
		return nil
	})
	if err != nil {
		return model.Episode{}, err
	}
	return ep, nil
}

var terminalStages = []string{string(lifecycle.Complete), string(lifecycle.PartialComplete), string(lifecycle.Failed)}

func (g *GraphStore) SaveEpisode(ctx context.Context, ep model.Episode) error {
	return g.write(ctx, "save episode", func(tx driver.Tx) error {
		return saveEpisode(ctx, tx, ep)
	})
}

func saveEpisode(ctx context.Context, tx driver.Tx, ep model.Episode) error {
	params := episodeParams(ep)
	params["terminal"] = terminalStages
	recs, err := tx.Run(ctx, driver.SaveEpisodeQuery, params)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		recs, err = tx.Run(ctx, driver.EpisodeStageQuery, map[string]interface{}{"id": ep.ID})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeNotFound, "episode %s", ep.ID)
		}
		return apperr.New(apperr.CodeInvalidTransition, "episode %s is already %s", ep.ID, str(recs[0].AsMap(), "stage"))
	}
	panels, err := panelParams(ep.Panels)
	if err != nil {
		return err
	}
	_, err = tx.Run(ctx, driver.SavePanelsQuery, map[string]interface{}{
		"episode_id": ep.ID,
		"count":      int64(len(ep.Panels)),
		"panels":     panels,
	})
	return err
}

func (g *GraphStore) CommitEpisode(ctx context.Context, ep model.Episode, c Commit) (string, error) {
	events := make([]interface{}, 0, len(c.Events))
	for _, ev := range c.Events {
		ev.EpisodeID = ep.ID
		ev.HeroID = ep.HeroID
		events = append(events, emergentProps(ev))
	}

	err := g.write(ctx, "commit episode", func(tx driver.Tx) error {
		if err := saveEpisode(ctx, tx, ep); err != nil {
			return err
		}
		if len(ep.CanonRefs) > 0 {
			if _, err := tx.Run(ctx, driver.LinkCanonReferencesQuery, map[string]interface{}{
				"episode_id": ep.ID, "canon_refs": ep.CanonRefs,
			}); err != nil {
				return err
			}
		}
		if len(events) > 0 {
			if _, err := tx.Run(ctx, driver.CreateTaggedEventsQuery, map[string]interface{}{
				"episode_id": ep.ID, "events": events,
			}); err != nil {
				return err
			}
		}
		if c.StoryletUse != nil {
			if _, err := tx.Run(ctx, driver.RecordStoryletUseQuery, map[string]interface{}{
				"hero_id":     ep.HeroID,
				"storylet_id": c.StoryletUse.StoryletID,
				"used_at":     fmtTime(c.StoryletUse.UsedAt),
				"episode_id":  ep.ID,
			}); err != nil {
				return err
			}
		}
		if c.CrossoverHeroID != "" {
			if _, err := tx.Run(ctx, driver.LinkCrossoverQuery, map[string]interface{}{
				"episode_id": ep.ID,
				"hero_id":    ep.HeroID,
				"partner_id": c.CrossoverHeroID,
				"period":     ep.Period,
			}); err != nil {
				return err
			}
		}
		_, err := tx.Run(ctx, driver.UpdateHeroAfterEpisodeQuery, map[string]interface{}{
			"hero_id":     ep.HeroID,
			"period":      ep.Period,
			"location_id": c.LocationID,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return ep.ID, nil
}

func (g *GraphStore) GetEpisode(ctx context.Context, episodeID string) (model.Episode, error) {
	recs, err := g.run(ctx, driver.GetEpisodeQuery, map[string]interface{}{"id": episodeID})
	if err != nil {
		return model.Episode{}, err
	}
	if len(recs) == 0 {
		return model.Episode{}, apperr.New(apperr.CodeNotFound, "episode %s", episodeID)
	}
	ep, err := episodeFromRecord(recs[0])
	if err != nil {
		return model.Episode{}, apperr.Wrap(apperr.CodeInternal, err, "decode episode %s", episodeID)
	}
	return ep, nil
}

func (g *GraphStore) ListEpisodes(ctx context.Context, heroID string, limit int) ([]model.Episode, error) {
	if limit <= 0 {
		limit = 30
	}
	recs, err := g.run(ctx, driver.ListEpisodesQuery, map[string]interface{}{"hero_id": heroID, "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	return decodeEpisodes(recs)
}

func (g *GraphStore) ListEpisodesForPeriod(ctx context.Context, heroID, period string) ([]model.Episode, error) {
	recs, err := g.run(ctx, driver.ListEpisodesForPeriodQuery, map[string]interface{}{"hero_id": heroID, "period": period})
	if err != nil {
		return nil, err
	}
	return decodeEpisodes(recs)
}

func decodeEpisodes(recs []*neo4j.Record) ([]model.Episode, error) {
	out := make([]model.Episode, 0, len(recs))
	for _, rec := range recs {
		ep, err := episodeFromRecord(rec)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "decode episode")
		}
		out = append(out, ep)
	}
	return out, nil
}

func (g *GraphStore) CreateReviewTicket(ctx context.Context, t model.ReviewTicket) error {
	return g.write(ctx, "create review ticket", func(tx driver.Tx) error {
		recs, err := tx.Run(ctx, driver.CreateReviewTicketQuery, map[string]interface{}{
			"id":           t.ID,
			"episode_id":   t.EpisodeID,
			"hero_id":      t.HeroID,
			"panel_number": int64(t.PanelNumber),
			"code":         t.Code,
			"reasons":      orEmpty(t.Reasons),
			"created_at":   fmtTime(t.CreatedAt),
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeNotFound, "episode %s", t.EpisodeID)
		}
		return nil
	})
}

// Canon

func createCanonEvent(ctx context.Context, tx driver.Tx, ev model.CanonEvent) error {
	recs, err := tx.Run(ctx, driver.CreateCanonEventQuery, map[string]interface{}{"props": canonProps(ev)})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return apperr.New(apperr.CodeInternal, "canon root missing")
	}
	if len(ev.LocationIDs) > 0 {
		if _, err := tx.Run(ctx, driver.LinkCanonLocationsQuery, map[string]interface{}{"id": ev.ID, "location_ids": ev.LocationIDs}); err != nil {
			return err
		}
	}
	if len(ev.NPCIDs) > 0 {
		if _, err := tx.Run(ctx, driver.LinkCanonNPCsQuery, map[string]interface{}{"id": ev.ID, "npc_ids": ev.NPCIDs}); err != nil {
			return err
		}
	}
	if ev.SourceEventID != "" {
		if _, err := tx.Run(ctx, driver.LinkProposalSourceQuery, map[string]interface{}{"id": ev.ID, "source_event_id": ev.SourceEventID}); err != nil {
			return err
		}
	}
	return nil
}

func (g *GraphStore) ProposeCanonEvent(ctx context.Context, ev model.CanonEvent) (string, error) {
	ev.Status = model.CanonProposed
	if ev.ProposedAt.IsZero() {
		ev.ProposedAt = g.Now()
	}
	err := g.write(ctx, "propose canon event", func(tx driver.Tx) error {
		return createCanonEvent(ctx, tx, ev)
	})
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

// ActivateCanonEvent bumps the Canon root version first. The write lock that
// takes on the single root node serializes every activation, so the conflict
// check below always sees the latest active set.
func (g *GraphStore) ActivateCanonEvent(ctx context.Context, id, approver string) (model.CanonEvent, error) {
	var activated model.CanonEvent
	now := g.Now()
	err := g.write(ctx, "activate canon event", func(tx driver.Tx) error {
		if _, err := tx.Run(ctx, driver.LockCanonQuery, nil); err != nil {
			return err
		}
		recs, err := tx.Run(ctx, driver.GetCanonEventQuery, map[string]interface{}{"id": id})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeNotFound, "canon event %s", id)
		}
		ev := canonFromMap(recordMap(recs[0], "event"))
		if ev.Status != model.CanonProposed {
			return apperr.New(apperr.CodeInvalidTransition, "canon event %s is %s", id, ev.Status)
		}

		recs, err = tx.Run(ctx, driver.GetActiveEventsAtLocationsQuery, map[string]interface{}{"location_ids": orEmpty(ev.LocationIDs)})
		if err != nil {
			return err
		}
		active := make([]model.CanonEvent, 0, len(recs))
		for _, rec := range recs {
			active = append(active, canonFromMap(recordMap(rec, "event")))
		}
		if conflicts := g.table.Conflicts(ev, active); len(conflicts) > 0 {
			return conflictError(id, conflicts)
		}

		if _, err := tx.Run(ctx, driver.ActivateCanonEventQuery, map[string]interface{}{
			"id": id, "now": fmtTime(now), "approver": approver,
		}); err != nil {
			return err
		}
		if _, err := tx.Run(ctx, driver.LinkConstrainsQuery, map[string]interface{}{"id": id}); err != nil {
			return err
		}
		ev.Status = model.CanonActive
		ev.ActivatedAt = now
		ev.ActivatedBy = approver
		ev.ReviewedBy = approver
		activated = ev
		return nil
	})
	if err != nil {
		return model.CanonEvent{}, err
	}
	g.log.Info("canon event activated", "event_id", id, "approver", approver)
	return activated, nil
}

func (g *GraphStore) RejectCanonEvent(ctx context.Context, id, director, reason string) (model.CanonEvent, error) {
	ev, err := g.GetCanonEvent(ctx, id)
	if err != nil {
		return model.CanonEvent{}, err
	}
	if ev.Status != model.CanonProposed {
		return model.CanonEvent{}, apperr.New(apperr.CodeInvalidTransition, "canon event %s is %s", id, ev.Status)
	}
	err = g.write(ctx, "reject canon event", func(tx driver.Tx) error {
		recs, err := tx.Run(ctx, driver.RejectCanonEventQuery, map[string]interface{}{
			"id": id, "director": director, "reason": reason,
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeInvalidTransition, "canon event %s is no longer proposed", id)
		}
		return nil
	})
	if err != nil {
		return model.CanonEvent{}, err
	}
	ev.Status = model.CanonRejected
	ev.ReviewedBy = director
	ev.RejectReason = reason
	return ev, nil
}

func (g *GraphStore) GetCanonEvent(ctx context.Context, id string) (model.CanonEvent, error) {
	recs, err := g.run(ctx, driver.GetCanonEventQuery, map[string]interface{}{"id": id})
	if err != nil {
		return model.CanonEvent{}, err
	}
	if len(recs) == 0 {
		return model.CanonEvent{}, apperr.New(apperr.CodeNotFound, "canon event %s", id)
	}
	return canonFromMap(recordMap(recs[0], "event")), nil
}

func (g *GraphStore) ListCanonEvents(ctx context.Context, statuses ...model.CanonStatus) ([]model.CanonEvent, error) {
	ss := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ss = append(ss, string(s))
	}
	recs, err := g.run(ctx, driver.ListCanonEventsQuery, map[string]interface{}{"statuses": ss})
	if err != nil {
		return nil, err
	}
	out := make([]model.CanonEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, canonFromMap(recordMap(rec, "event")))
	}
	return out, nil
}

func (g *GraphStore) UpdateNPCAwareness(ctx context.Context, summary string, at time.Time) (int, error) {
	var updated int
	err := g.write(ctx, "update npc awareness", func(tx driver.Tx) error {
		recs, err := tx.Run(ctx, driver.UpdateNPCAwarenessQuery, map[string]interface{}{
			"summary": summary, "updated_at": fmtTime(at),
		})
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			updated = integer(recs[0].AsMap(), "updated")
		}
		return nil
	})
	return updated, err
}

// Emergent events

func (g *GraphStore) ListEmergentEvents(ctx context.Context, f model.EmergentFilter) ([]model.EmergentEvent, error) {
	recs, err := g.run(ctx, driver.ListEmergentEventsQuery, map[string]interface{}{
		"status":    string(f.Status),
		"min_score": f.MinScore,
		"since":     fmtTime(f.Since),
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.EmergentEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, emergentFromMap(recordMap(rec, "event")))
	}
	return out, nil
}

func (g *GraphStore) UpdateEmergentEvent(ctx context.Context, ev model.EmergentEvent) error {
	return g.write(ctx, "update emergent event", func(tx driver.Tx) error {
		recs, err := tx.Run(ctx, driver.UpdateEmergentEventQuery, map[string]interface{}{
			"id":          ev.ID,
			"score":       ev.Score,
			"status":      string(ev.Status),
			"proposal_id": ev.ProposalID,
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.CodeNotFound, "emergent event %s", ev.ID)
		}
		return nil
	})
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

var _ Store = (*GraphStore)(nil)
var _ Store = (*MemoryStore)(nil)
