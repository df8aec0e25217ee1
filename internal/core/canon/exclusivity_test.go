package canon

import (
	"testing"
	"time"

	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day = 24 * time.Hour
	t0  = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

func skyTable() *Table {
	return NewTable([]config.ExclusivePair{{A: "sky_sealed", B: "sky_torn"}})
}

func TestExclusiveIsSymmetric(t *testing.T) {
	tbl := skyTable()
	assert.True(t, tbl.Exclusive("sky_sealed", "sky_torn"))
	assert.True(t, tbl.Exclusive("sky_torn", "sky_sealed"))
	assert.False(t, tbl.Exclusive("sky_torn", "sky_torn"))
	assert.False(t, tbl.Exclusive("sky_torn", "rain"))

	var nilTable *Table
	assert.False(t, nilTable.Exclusive("a", "b"))
}

func TestConflicts(t *testing.T) {
	tbl := skyTable()
	active := []model.CanonEvent{{
		ID:          "sealed",
		Status:      model.CanonActive,
		LocationIDs: []string{"metro", "harbor"},
		WorldStates: []string{"sky_sealed"},
		Window:      model.TimeWindow{Start: t0, End: t0.Add(10 * day)},
	}}

	torn := model.CanonEvent{
		ID:          "torn",
		LocationIDs: []string{"harbor"},
		WorldStates: []string{"sky_torn"},
		Window:      model.TimeWindow{Start: t0.Add(5 * day)},
	}
	conflicts := tbl.Conflicts(torn, active)
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{EventID: "sealed", LocationID: "harbor", State: "sky_torn", Opposing: "sky_sealed"}, conflicts[0])

	elsewhere := torn
	elsewhere.LocationIDs = []string{"desert"}
	assert.Empty(t, tbl.Conflicts(elsewhere, active))

	later := torn
	later.Window = model.TimeWindow{Start: t0.Add(10 * day)}
	assert.Empty(t, tbl.Conflicts(later, active))

	proposedOnly := []model.CanonEvent{active[0]}
	proposedOnly[0].Status = model.CanonProposed
	assert.Empty(t, tbl.Conflicts(torn, proposedOnly))
}
