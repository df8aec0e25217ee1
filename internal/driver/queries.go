package driver

// Graph layout:
//
//	(:Hero)-[:INHERITS_FROM]->(:Canon)-[:HAS_EVENT]->(:CanonEvent)
//	(:Canon)-[:HAS_LOCATION|HAS_NPC|HAS_ARC]->(:Location|:NPC|:Arc)
//	(:CanonEvent)-[:AFFECTS]->(:Location), (:NPC)-[:PARTICIPATES]->(:CanonEvent)
//	(:CanonEvent)-[:CONSTRAINS]->(:CanonEvent), (:CanonEvent)-[:PROPOSED_FROM]->(:EmergentEvent)
//	(:Hero)-[:HAS_EPISODE]->(:Episode)-[:HAS_PANEL]->(:Panel)
//	(:Episode)-[:REFERENCES]->(:CanonEvent), (:Episode)-[:TAGGED]->(:EmergentEvent)
//	(:Episode)-[:CROSSOVER_WITH]->(:Hero), (:Hero)-[:USED_STORYLET]->(:Storylet)
//	(:Hero)-[:CONNECTED_TO {approval_status}]-(:Hero)
//	(:ReviewTicket)-[:FOR_EPISODE]->(:Episode)

var SchemaQueries = []string{
	`CREATE CONSTRAINT hero_id_unique IF NOT EXISTS FOR (h:Hero) REQUIRE h.id IS UNIQUE`,
	`CREATE CONSTRAINT episode_id_unique IF NOT EXISTS FOR (e:Episode) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT episode_hero_sequence_unique IF NOT EXISTS FOR (e:Episode) REQUIRE (e.hero_id, e.sequence) IS UNIQUE`,
	`CREATE CONSTRAINT canon_event_id_unique IF NOT EXISTS FOR (e:CanonEvent) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT emergent_event_id_unique IF NOT EXISTS FOR (x:EmergentEvent) REQUIRE x.id IS UNIQUE`,
	`CREATE CONSTRAINT location_id_unique IF NOT EXISTS FOR (l:Location) REQUIRE l.id IS UNIQUE`,
	`CREATE CONSTRAINT npc_id_unique IF NOT EXISTS FOR (n:NPC) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT arc_id_unique IF NOT EXISTS FOR (a:Arc) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT storylet_id_unique IF NOT EXISTS FOR (s:Storylet) REQUIRE s.id IS UNIQUE`,
	`CREATE CONSTRAINT review_ticket_id_unique IF NOT EXISTS FOR (t:ReviewTicket) REQUIRE t.id IS UNIQUE`,
	`CREATE INDEX episode_hero_period IF NOT EXISTS FOR (e:Episode) ON (e.hero_id, e.period)`,
	`CREATE INDEX canon_event_status IF NOT EXISTS FOR (e:CanonEvent) ON (e.status)`,
	`CREATE INDEX emergent_event_status IF NOT EXISTS FOR (x:EmergentEvent) ON (x.status)`,
	`CREATE INDEX hero_status IF NOT EXISTS FOR (h:Hero) ON (h.status)`,
}

const (
	EnsureCanonRootQuery = `
		MERGE (c:Canon {id: 'canon'})
		ON CREATE SET c.version = 0
		RETURN c.version AS version
	`

	// Heroes

	GetHeroQuery = `
		MATCH (h:Hero {id: $hero_id})
		RETURN h {.*} AS hero
	`

	ListActiveHeroesQuery = `
		MATCH (h:Hero {status: 'active'})
		RETURN h {.*} AS hero
		ORDER BY hero.id
	`

	UpsertHeroQuery = `
		MATCH (c:Canon {id: 'canon'})
		MERGE (h:Hero {id: $id})
		SET h += $props
		MERGE (h)-[:INHERITS_FROM]->(c)
		RETURN h.id AS id
	`

	UpsertConnectionQuery = `
		MATCH (a:Hero {id: $hero_id}), (b:Hero {id: $partner_id})
		MERGE (a)-[r:CONNECTED_TO]-(b)
		SET r.approval_status = $status
	`

	AddHeroSignificanceQuery = `
		MATCH (h:Hero {id: $hero_id})
		SET h.significance_accumulator = coalesce(h.significance_accumulator, 0.0) + $delta
		RETURN h.significance_accumulator AS total
	`

	// Hero context

	GetActiveCanonEventsQuery = `
		MATCH (:Hero {id: $hero_id})-[:INHERITS_FROM]->(:Canon)-[:HAS_EVENT]->(e:CanonEvent {status: 'active'})
		OPTIONAL MATCH (n:NPC)-[:PARTICIPATES]->(e)
		OPTIONAL MATCH (e)-[:CONSTRAINS]->(later:CanonEvent)
		WITH e, collect(DISTINCT n.id) AS npc_ids, collect(DISTINCT later.id) AS constrains
		RETURN e {.*, npc_ids: npc_ids, constrains: constrains} AS event
		ORDER BY event.timestamp, event.id
	`

	GetCanonWorldQuery = `
		MATCH (:Hero {id: $hero_id})-[:INHERITS_FROM]->(c:Canon)
		OPTIONAL MATCH (c)-[:HAS_LOCATION]->(l:Location)
		WITH c, collect(DISTINCT l {.*}) AS locations
		OPTIONAL MATCH (c)-[:HAS_NPC]->(n:NPC)
		WITH c, locations, collect(DISTINCT n {.*}) AS npcs
		OPTIONAL MATCH (c)-[:HAS_ARC]->(a:Arc {active: true})
		RETURN locations, npcs, a {.*} AS arc
		LIMIT 1
	`

	GetRecentEpisodesQuery = `
		MATCH (:Hero {id: $hero_id})-[:HAS_EPISODE]->(e:Episode)
		WHERE e.created_at >= $since AND e.stage IN ['complete', 'partial_complete']
		WITH e ORDER BY e.sequence DESC LIMIT $limit
		OPTIONAL MATCH (e)-[:HAS_PANEL]->(p:Panel)
		WITH e, p ORDER BY p.number
		WITH e, collect(p {.*}) AS panels
		RETURN e {.*} AS episode, panels
		ORDER BY episode.sequence DESC
	`

	GetStoryletUsesQuery = `
		MATCH (:Hero {id: $hero_id})-[u:USED_STORYLET]->(s:Storylet)
		RETURN s.id AS storylet_id, max(u.used_at) AS used_at
	`

	GetConnectionsQuery = `
		MATCH (:Hero {id: $hero_id})-[r:CONNECTED_TO]-(p:Hero)
		WHERE r.approval_status = 'approved'
		RETURN p.id AS partner_id,
			p.display_name AS partner_name,
			p.power_type AS partner_power_type,
			r.approval_status AS approval_status,
			(p.status = 'active' AND coalesce(p.last_crossover_period, '') <> $period) AS partner_eligible
		ORDER BY partner_id
	`

	// Episodes

	CreateEpisodeQuery = `
		MATCH (h:Hero {id: $hero_id})
		SET h._lock = true
		REMOVE h._lock
		WITH h
		WHERE coalesce(h.episode_count, 0) = $expected
		SET h.episode_count = coalesce(h.episode_count, 0) + 1
		CREATE (e:Episode {
			id: $id,
			hero_id: $hero_id,
			sequence: h.episode_count,
			period: $period,
			stage: $stage,
			reason: '',
			detail: '',
			title: '',
			synopsis: '',
			tags: [],
			canon_refs: [],
			created_at: $now,
			updated_at: $now
		})
		CREATE (h)-[:HAS_EPISODE]->(e)
		RETURN e.sequence AS sequence
	`

	// A stored terminal stage is final: a run that lost its hero lock
	// cannot overwrite the episode that replaced or abandoned it.
	SaveEpisodeQuery = `
		MATCH (e:Episode {id: $id})
		WHERE NOT coalesce(e.stage, '') IN $terminal
		SET e.title = $title,
			e.synopsis = $synopsis,
			e.stage = $stage,
			e.reason = $reason,
			e.detail = $detail,
			e.tags = $tags,
			e.canon_refs = $canon_refs,
			e.storylet_id = $storylet_id,
			e.crossover_hero_id = $crossover_hero_id,
			e.location_id = $location_id,
			e.video_url = $video_url,
			e.video_duration = $video_duration,
			e.video_resolution = $video_resolution,
			e.generated_at = $generated_at,
			e.updated_at = $updated_at
		RETURN e.id AS id
	`

	EpisodeStageQuery = `
		MATCH (e:Episode {id: $id})
		RETURN e.stage AS stage
	`

	SavePanelsQuery = `
		MATCH (e:Episode {id: $episode_id})
		OPTIONAL MATCH (e)-[:HAS_PANEL]->(old:Panel)
		WHERE old.number > $count
		DETACH DELETE old
		WITH DISTINCT e
		UNWIND $panels AS p
		MERGE (e)-[:HAS_PANEL]->(n:Panel {episode_id: $episode_id, number: p.number})
		SET n += p
	`

	LinkCanonReferencesQuery = `
		MATCH (e:Episode {id: $episode_id})
		UNWIND $canon_refs AS ref
		MATCH (c:CanonEvent {id: ref, status: 'active'})
		MERGE (e)-[:REFERENCES]->(c)
	`

	CreateTaggedEventsQuery = `
		MATCH (e:Episode {id: $episode_id})
		UNWIND $events AS ev
		CREATE (x:EmergentEvent)
		SET x = ev
		CREATE (e)-[:TAGGED]->(x)
	`

	UpdateHeroAfterEpisodeQuery = `
		MATCH (h:Hero {id: $hero_id})
		SET h.last_episode_period = $period,
			h.location_id = CASE WHEN $location_id = '' THEN h.location_id ELSE $location_id END
	`

	RecordStoryletUseQuery = `
		MATCH (h:Hero {id: $hero_id})
		MERGE (s:Storylet {id: $storylet_id})
		CREATE (h)-[:USED_STORYLET {used_at: $used_at, episode_id: $episode_id}]->(s)
	`

	LinkCrossoverQuery = `
		MATCH (e:Episode {id: $episode_id}), (h:Hero {id: $hero_id}), (p:Hero {id: $partner_id})
		MERGE (e)-[:CROSSOVER_WITH]->(p)
		SET h.last_crossover_period = $period, p.last_crossover_period = $period
	`

	GetEpisodeQuery = `
		MATCH (e:Episode {id: $id})
		OPTIONAL MATCH (e)-[:HAS_PANEL]->(p:Panel)
		WITH e, p ORDER BY p.number
		WITH e, collect(p {.*}) AS panels
		RETURN e {.*} AS episode, panels
	`

	ListEpisodesQuery = `
		MATCH (:Hero {id: $hero_id})-[:HAS_EPISODE]->(e:Episode)
		WITH e ORDER BY e.sequence DESC LIMIT $limit
		OPTIONAL MATCH (e)-[:HAS_PANEL]->(p:Panel)
		WITH e, p ORDER BY p.number
		WITH e, collect(p {.*}) AS panels
		RETURN e {.*} AS episode, panels
		ORDER BY episode.sequence DESC
	`

	ListEpisodesForPeriodQuery = `
		MATCH (:Hero {id: $hero_id})-[:HAS_EPISODE]->(e:Episode {period: $period})
		OPTIONAL MATCH (e)-[:HAS_PANEL]->(p:Panel)
		WITH e, p ORDER BY p.number
		WITH e, collect(p {.*}) AS panels
		RETURN e {.*} AS episode, panels
		ORDER BY episode.sequence DESC
	`

	CreateReviewTicketQuery = `
		MATCH (e:Episode {id: $episode_id})
		CREATE (t:ReviewTicket {
			id: $id,
			episode_id: $episode_id,
			hero_id: $hero_id,
			panel_number: $panel_number,
			code: $code,
			reasons: $reasons,
			created_at: $created_at
		})
		CREATE (t)-[:FOR_EPISODE]->(e)
		RETURN t.id AS id
	`

	// Canon

	LockCanonQuery = `
		MATCH (c:Canon {id: 'canon'})
		SET c.version = coalesce(c.version, 0) + 1
		RETURN c.version AS version
	`

	CreateCanonEventQuery = `
		MATCH (c:Canon {id: 'canon'})
		CREATE (e:CanonEvent)
		SET e = $props
		CREATE (c)-[:HAS_EVENT]->(e)
		RETURN e.id AS id
	`

	LinkCanonLocationsQuery = `
		MATCH (e:CanonEvent {id: $id})
		UNWIND $location_ids AS loc_id
		MATCH (l:Location {id: loc_id})
		MERGE (e)-[:AFFECTS]->(l)
	`

	LinkCanonNPCsQuery = `
		MATCH (e:CanonEvent {id: $id})
		UNWIND $npc_ids AS npc_id
		MATCH (n:NPC {id: npc_id})
		MERGE (n)-[:PARTICIPATES]->(e)
	`

	LinkProposalSourceQuery = `
		MATCH (e:CanonEvent {id: $id}), (x:EmergentEvent {id: $source_event_id})
		MERGE (e)-[:PROPOSED_FROM]->(x)
		SET x.status = 'proposed', x.proposal_id = $id
	`

	GetCanonEventQuery = `
		MATCH (e:CanonEvent {id: $id})
		RETURN e {.*} AS event
	`

	ListCanonEventsQuery = `
		MATCH (e:CanonEvent)
		WHERE size($statuses) = 0 OR e.status IN $statuses
		RETURN e {.*} AS event
		ORDER BY event.timestamp, event.id
	`

	GetActiveEventsAtLocationsQuery = `
		MATCH (e:CanonEvent {status: 'active'})
		WHERE any(l IN coalesce(e.location_ids, []) WHERE l IN $location_ids)
		RETURN e {.*} AS event
	`

	ActivateCanonEventQuery = `
		MATCH (e:CanonEvent {id: $id, status: 'proposed'})
		SET e.status = 'active',
			e.activated_at = $now,
			e.activated_by = $approver,
			e.reviewed_by = $approver
		RETURN e.id AS id
	`

	LinkConstrainsQuery = `
		MATCH (e:CanonEvent {id: $id}), (prev:CanonEvent {status: 'active'})
		WHERE prev.id <> e.id
			AND prev.timestamp <= e.timestamp
			AND any(l IN coalesce(prev.location_ids, []) WHERE l IN e.location_ids)
		MERGE (prev)-[:CONSTRAINS]->(e)
	`

	RejectCanonEventQuery = `
		MATCH (e:CanonEvent {id: $id, status: 'proposed'})
		SET e.status = 'rejected',
			e.reviewed_by = $director,
			e.reject_reason = $reason
		WITH e
		OPTIONAL MATCH (e)-[:PROPOSED_FROM]->(x:EmergentEvent)
		SET x.status = 'rejected'
		RETURN e.id AS id
	`

	UpsertLocationQuery = `
		MATCH (c:Canon {id: 'canon'})
		MERGE (l:Location {id: $id})
		SET l += $props
		MERGE (c)-[:HAS_LOCATION]->(l)
	`

	UpsertNPCQuery = `
		MATCH (c:Canon {id: 'canon'})
		MERGE (n:NPC {id: $id})
		SET n += $props
		MERGE (c)-[:HAS_NPC]->(n)
	`

	UpsertArcQuery = `
		MATCH (c:Canon {id: 'canon'})
		MERGE (a:Arc {id: $id})
		SET a += $props
		MERGE (c)-[:HAS_ARC]->(a)
	`

	UpdateNPCAwarenessQuery = `
		MATCH (:Canon {id: 'canon'})-[:HAS_NPC]->(n:NPC)
		SET n.world_state_summary = $summary,
			n.world_state_updated_at = $updated_at
		RETURN count(n) AS updated
	`

	// Emergent events

	ListEmergentEventsQuery = `
		MATCH (x:EmergentEvent)
		WHERE ($status = '' OR x.status = $status)
			AND coalesce(x.score, 0.0) >= $min_score
			AND x.occurred_at >= $since
		RETURN x {.*} AS event
		ORDER BY event.occurred_at, event.id
	`

	UpdateEmergentEventQuery = `
		MATCH (x:EmergentEvent {id: $id})
		SET x.score = $score,
			x.status = $status,
			x.proposal_id = $proposal_id
		RETURN x.id AS id
	`
)
