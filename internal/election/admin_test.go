package election

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colegio.org/internal/apperr"
)

func newAdminService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc, err := NewService(store, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return svc, store
}

func validNewElection() NewElection {
	return NewElection{
		Name:          " Consejo 2026 ",
		StartDate:     testNow.Add(24 * time.Hour),
		EndDate:       testNow.Add(48 * time.Hour),
		Scope:         ScopeAssociation,
		AssociationID: "a1",
		Positions:     []NewPosition{{Title: "Decano", Order: 1}, {Title: "Secretario", Order: 2}},
	}
}

func TestCreateElectionValidation(t *testing.T) {
	svc, _ := newAdminService(t)
	ctx := context.Background()

	cases := map[string]func(*NewElection){
		"missing name":           func(n *NewElection) { n.Name = " " },
		"bad scope":              func(n *NewElection) { n.Scope = "WORLD" },
		"inverted dates":         func(n *NewElection) { n.EndDate = n.StartDate.Add(-time.Hour) },
		"branch without id":      func(n *NewElection) { n.Scope = ScopeBranch },
		"chapter without id":     func(n *NewElection) { n.Scope = ScopeChapter },
		"no positions":           func(n *NewElection) { n.Positions = nil },
		"duplicate order":        func(n *NewElection) { n.Positions[1].Order = 1 },
		"empty position title":   func(n *NewElection) { n.Positions[0].Title = "" },
		"missing association id": func(n *NewElection) { n.AssociationID = "" },
	}
	for name, mutate := range cases {
		in := validNewElection()
		mutate(&in)
		_, err := svc.Create(ctx, in)
		assert.True(t, errors.Is(err, apperr.ErrBadRequest), "%s: %v", name, err)
	}

	created, err := svc.Create(ctx, validNewElection())
	require.NoError(t, err)
	assert.Equal(t, "Consejo 2026", created.Name)
	assert.Equal(t, StatusDraft, created.Status)
	assert.Len(t, created.Positions, 2)
}

func TestUpdateElectionStatusAndDates(t *testing.T) {
	svc, _ := newAdminService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, validNewElection())
	require.NoError(t, err)

	completed := StatusCompleted
	_, err = svc.Update(ctx, e.ID, ElectionUpdate{Status: &completed})
	assert.True(t, errors.Is(err, apperr.ErrBadRequest), "DRAFT cannot jump to COMPLETED")

	late := e.EndDate.Add(time.Hour)
	_, err = svc.Update(ctx, e.ID, ElectionUpdate{StartDate: &late})
	assert.True(t, errors.Is(err, apperr.ErrBadRequest), "start after end")

	open := StatusOpen
	updated, err := svc.Update(ctx, e.ID, ElectionUpdate{Status: &open})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, updated.Status)

	earlier := e.StartDate.Add(-time.Hour)
	_, err = svc.Update(ctx, e.ID, ElectionUpdate{StartDate: &earlier})
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "dates frozen after DRAFT")

	same := StatusOpen
	unchanged, err := svc.Update(ctx, e.ID, ElectionUpdate{Status: &same})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, unchanged.Status)

	_, err = svc.Update(ctx, e.ID, ElectionUpdate{})
	assert.True(t, errors.Is(err, apperr.ErrBadRequest))
}

func TestUpdateElectionLosesRaceWithScheduler(t *testing.T) {
	svc, store := newAdminService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, validNewElection())
	require.NoError(t, err)

	// The scheduler opens the election between the read and the write.
	store.beforeUpdate = func(cur *Election) { cur.Status = StatusOpen }
	later := e.EndDate.Add(time.Hour)
	_, err = svc.Update(ctx, e.ID, ElectionUpdate{EndDate: &later})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	got := store.election(e.ID)
	assert.Equal(t, StatusOpen, got.Status)
	assert.True(t, got.EndDate.Equal(e.EndDate), "dates must not change once OPEN")
}

func TestListsAndCandidatesOnlyEditableInDraft(t *testing.T) {
	svc, _ := newAdminService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, validNewElection())
	require.NoError(t, err)

	list, err := svc.CreateList(ctx, e.ID, NewCandidateList{Name: "Lista Azul"})
	require.NoError(t, err)

	dean := e.Positions[0].ID
	c, err := svc.AddCandidate(ctx, list.ID, NewCandidate{PositionID: dean, FirstName: "Ana", LastName: "Ruiz"})
	require.NoError(t, err)

	_, err = svc.AddCandidate(ctx, list.ID, NewCandidate{PositionID: dean, FirstName: "Otra", LastName: "Vez"})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "one candidate per position per list")

	_, err = svc.AddCandidate(ctx, list.ID, NewCandidate{PositionID: "foreign", FirstName: "X", LastName: "Y"})
	assert.True(t, errors.Is(err, apperr.ErrBadRequest), "position from another election")

	name := "Ana Maria"
	updated, err := svc.UpdateCandidate(ctx, c.ID, CandidateUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated.FirstName)

	open := StatusOpen
	_, err = svc.Update(ctx, e.ID, ElectionUpdate{Status: &open})
	require.NoError(t, err)

	_, err = svc.CreateList(ctx, e.ID, NewCandidateList{Name: "Tarde"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = svc.AddCandidate(ctx, list.ID, NewCandidate{PositionID: e.Positions[1].ID, FirstName: "A", LastName: "B"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.True(t, errors.Is(svc.DeleteCandidate(ctx, c.ID), apperr.ErrForbidden))
	assert.True(t, errors.Is(svc.DeleteList(ctx, list.ID), apperr.ErrForbidden))
}

func TestDeleteListInDraft(t *testing.T) {
	svc, store := newAdminService(t)
	ctx := context.Background()
	e, err := svc.Create(ctx, validNewElection())
	require.NoError(t, err)
	list, err := svc.CreateList(ctx, e.ID, NewCandidateList{Name: "Lista"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteList(ctx, list.ID))
	assert.Empty(t, store.election(e.ID).Lists)
	assert.True(t, errors.Is(svc.DeleteList(ctx, list.ID), apperr.ErrNotFound))
}
