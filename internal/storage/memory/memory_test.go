package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
)

func newRecord(id string, state engine.State) engine.Record {
	return engine.Record{
		ID:         id,
		Name:       "e1",
		EngineType: engine.Spark,
		Version:    "3.5.3",
		State:      state,
		CreateTime: time.Now().UTC(),
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("a", engine.WaitToStart)
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, engine.WaitToStart, got.State)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeNotFound, apiErr.Code)
}

func TestCASStateSuccessAndConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, newRecord("a", engine.WaitToStart)))

	require.NoError(t, s.CASState(ctx, "a", engine.WaitToStart, engine.TriggerStart))

	err := s.CASState(ctx, "a", engine.WaitToStart, engine.TriggerStart)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeConflictState, apiErr.Code)
	assert.Equal(t, string(engine.TriggerStart), apiErr.Details["observed"])
}

// TestCASExclusivity verifies that for K concurrent callers racing the
// same S->T transition, exactly one succeeds.
func TestCASExclusivity(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, newRecord("a", engine.WaitToStart)))

	const workers = 20
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := s.CASState(ctx, "a", engine.WaitToStart, engine.TriggerStart); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes)
}

func TestDeleteIfState(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, newRecord("a", engine.Running)))

	err := s.DeleteIfState(ctx, "a", []engine.State{engine.WaitToStart, engine.Terminated, engine.ErrorClean})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeConflictState, apiErr.Code)

	require.NoError(t, s.CASState(ctx, "a", engine.Running, engine.WaitToTerminate))
	require.NoError(t, s.CASState(ctx, "a", engine.WaitToTerminate, engine.TriggerTermination))
	require.NoError(t, s.CASState(ctx, "a", engine.TriggerTermination, engine.TerminateInProgress))
	require.NoError(t, s.CASState(ctx, "a", engine.TerminateInProgress, engine.Terminated))

	require.NoError(t, s.DeleteIfState(ctx, "a", []engine.State{engine.WaitToStart, engine.Terminated, engine.ErrorClean}))
	_, err = s.Get(ctx, "a")
	assert.Error(t, err)
}

func TestScanByStates(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, newRecord("a", engine.WaitToStart)))
	require.NoError(t, s.Insert(ctx, newRecord("b", engine.Running)))
	require.NoError(t, s.Insert(ctx, newRecord("c", engine.WaitToStart)))

	recs, err := s.ScanByStates(ctx, []engine.State{engine.WaitToStart})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestGetReturnsClonedConfigsNotAliased(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("a", engine.WaitToStart)
	rec.Configs = map[string]string{"k": "v"}
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.Configs["k"] = "mutated"

	got2, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", got2.Configs["k"])
}
