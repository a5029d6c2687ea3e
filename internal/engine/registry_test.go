package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmeet-team/fieldwork/internal/models"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	clk := newFakeClock()
	r := NewRegistry()
	s := newCAPISession(t, clk, Deps{})

	_, err := r.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	r.Add(s)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	r.Remove(s.ID())
	assert.Equal(t, 0, r.Len())
	_, err = r.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_RemoveClosesSession(t *testing.T) {
	clk := newFakeClock()
	r := NewRegistry()
	s := newCAPISession(t, clk, Deps{})
	r.Add(s)

	ch, cancel := s.Subscribe()
	defer cancel()

	r.Remove(s.ID())

	_, open := <-ch
	assert.False(t, open, "eviction tears the session down")
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Remove(uuid.New())
	assert.Equal(t, 0, r.Len())
}

func TestSnapshot_CurrentQuestionCarriesDisplayOrder(t *testing.T) {
	clk := newFakeClock()
	s := newCAPISession(t, clk, Deps{})

	snap := s.Snapshot()
	assert.Nil(t, snap.Current, "no current question before the flow starts")

	startRunning(t, s)
	snap = s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "q_gender", snap.Current.ID)
	assert.Len(t, snap.Current.Options, 2)

	// Display order is memoized for the session.
	again := s.Snapshot()
	assert.Equal(t, snap.Current.Options, again.Current.Options)
}

func TestSnapshot_ClosedSessionHasNoCurrentQuestion(t *testing.T) {
	clk := newFakeClock()
	s := newCAPISession(t, clk, Deps{})
	startRunning(t, s)

	require.NoError(t, s.Abandon(t.Context(), "", "", nil))

	snap := s.Snapshot()
	assert.Equal(t, models.StateAbandoned, snap.State)
	assert.Nil(t, snap.Current)
}
