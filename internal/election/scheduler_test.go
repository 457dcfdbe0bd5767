package election

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSweepOpensAndClosesDueElections(t *testing.T) {
	store := newFakeStore()
	store.put(Election{ID: "draft-due", Status: StatusDraft, StartDate: testNow.Add(-time.Minute), EndDate: testNow.Add(time.Hour)})
	store.put(Election{ID: "draft-future", Status: StatusDraft, StartDate: testNow.Add(time.Minute), EndDate: testNow.Add(time.Hour)})
	store.put(Election{ID: "open-due", Status: StatusOpen, StartDate: testNow.Add(-2 * time.Hour), EndDate: testNow})
	store.put(Election{ID: "open-running", Status: StatusOpen, StartDate: testNow.Add(-time.Hour), EndDate: testNow.Add(time.Hour)})
	store.put(Election{ID: "closed", Status: StatusClosed, StartDate: testNow.Add(-2 * time.Hour), EndDate: testNow.Add(-time.Hour)})

	core, logs := observer.New(zapcore.InfoLevel)
	s := NewScheduler(store, time.Minute, zap.New(core))
	s.now = func() time.Time { return testNow }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Opened: 1, Closed: 1}, res)
	assert.Equal(t, StatusOpen, store.election("draft-due").Status)
	assert.Equal(t, StatusDraft, store.election("draft-future").Status)
	assert.Equal(t, StatusClosed, store.election("open-due").Status)
	assert.Equal(t, StatusOpen, store.election("open-running").Status)
	assert.Equal(t, StatusClosed, store.election("closed").Status, "never completes")
	assert.Equal(t, 1, logs.FilterMessage("election status check").Len())

	res, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestSweepContinuesAfterRowFailure(t *testing.T) {
	store := newFakeStore()
	store.put(Election{ID: "a", Status: StatusOpen, EndDate: testNow.Add(-time.Minute)})
	store.put(Election{ID: "b", Status: StatusOpen, EndDate: testNow.Add(-time.Minute)})
	store.transitionErr["a"] = errors.New("deadlock detected")

	s := NewScheduler(store, 0, nil)
	s.now = func() time.Time { return testNow }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, StatusOpen, store.election("a").Status)
	assert.Equal(t, StatusClosed, store.election("b").Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	store.put(Election{ID: "d", Status: StatusDraft, StartDate: testNow.Add(-time.Minute), EndDate: testNow.Add(time.Hour)})
	s := NewScheduler(store, time.Hour, nil)
	s.now = func() time.Time { return testNow }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.election("d").Status == StatusOpen }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
