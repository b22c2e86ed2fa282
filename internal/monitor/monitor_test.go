package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/internal/resource"
	"github.com/rucat-project/rucat/internal/storage/memory"
	"github.com/rucat-project/rucat/pkg/logger"
)

// fakeClient is a scriptable resource.Client: it tracks created/deleted
// engine ids and lets a test force Create or Status outcomes.
type fakeClient struct {
	mu        sync.Mutex
	created   map[string]bool
	failCreate map[string]bool
	statusOverride map[string]resource.Status
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		created:        make(map[string]bool),
		failCreate:     make(map[string]bool),
		statusOverride: make(map[string]resource.Status),
	}
}

func (f *fakeClient) Create(_ context.Context, engineID string, _ engine.Type, _ string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate[engineID] {
		return assertErr
	}
	f.created[engineID] = true
	return nil
}

func (f *fakeClient) Delete(_ context.Context, engineID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, engineID)
	return nil
}

func (f *fakeClient) Status(_ context.Context, engineID string) (resource.Status, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statusOverride[engineID]; ok {
		return st, "forced", nil
	}
	if f.created[engineID] {
		return resource.Running, "", nil
	}
	return resource.NotFound, "", nil
}

func (f *fakeClient) setStatus(engineID string, st resource.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusOverride[engineID] = st
}

func (f *fakeClient) clearStatusOverride(engineID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statusOverride, engineID)
}

var assertErr = &fakeCreateError{}

type fakeCreateError struct{}

func (*fakeCreateError) Error() string { return "forced create failure" }

func testLogger() *logger.Logger {
	return logger.New("test", logger.Config{Level: "error"})
}

func insertEngine(t *testing.T, store *memory.Store, id string, state engine.State) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), engine.Record{
		ID: id, Name: "e", EngineType: engine.Spark, Version: "3.5.3",
		State: state, CreateTime: time.Now().UTC(),
	}))
}

// TestReachability verifies that from WaitToStart, with a cooperating
// resource client, the engine reaches Running in finite monitor ticks.
func TestReachability(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	insertEngine(t, store, "e1", engine.WaitToStart)

	mon := New(store, client, testLogger(), time.Second)
	ctx := context.Background()

	mon.Tick(ctx) // WaitToStart -> TriggerStart -> StartInProgress
	rec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.StartInProgress, rec.State)

	mon.Tick(ctx) // StartInProgress -> Running (status reports Running once created)
	rec, err = store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.Running, rec.State)
}

// TestCleanupReachability verifies that from any error state, with a
// cooperating resource client, the engine reaches ErrorClean.
func TestCleanupReachability(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	insertEngine(t, store, "e1", engine.ErrorWaitToClean)

	mon := New(store, client, testLogger(), time.Second)
	ctx := context.Background()

	mon.Tick(ctx) // ErrorWaitToClean -> ErrorTriggerClean -> ErrorCleanInProgress
	rec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.ErrorCleanInProgress, rec.State)

	mon.Tick(ctx) // resource already gone (never created) -> ErrorClean
	rec, err = store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.ErrorClean, rec.State)

	require.True(t, rec.State.Deletable())
}

// TestResourceCreateFailureGoesToErrorClean exercises the TriggerStart
// resource-create-failure path directly.
func TestResourceCreateFailureGoesToErrorClean(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	client.failCreate["e1"] = true
	insertEngine(t, store, "e1", engine.WaitToStart)

	mon := New(store, client, testLogger(), time.Second)
	mon.Tick(context.Background())

	rec, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.ErrorClean, rec.State)
}

// TestRuntimeFailureTransitionsThroughCleanup exercises an engine in
// StartInProgress whose backing resource reports Failed, through cleanup to
// ErrorClean.
func TestRuntimeFailureTransitionsThroughCleanup(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	insertEngine(t, store, "e1", engine.StartInProgress)
	client.created["e1"] = true
	client.setStatus("e1", resource.Failed)

	mon := New(store, client, testLogger(), time.Second)
	ctx := context.Background()

	mon.Tick(ctx)
	rec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.ErrorWaitToClean, rec.State)

	// claimAndDelete runs CAS->delete->CAS within a single handle call, so
	// one more tick both issues the delete and lands in ErrorCleanInProgress.
	client.clearStatusOverride("e1")
	mon.Tick(ctx)
	rec, _ = store.Get(ctx, "e1")
	assert.Equal(t, engine.ErrorCleanInProgress, rec.State)

	mon.Tick(ctx)
	rec, _ = store.Get(ctx, "e1")
	assert.Equal(t, engine.ErrorClean, rec.State)
}

// TestIdempotentMonitor verifies that ticking twice with no external
// events leaves a Running engine's state unchanged.
func TestIdempotentMonitor(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	client.created["e1"] = true
	insertEngine(t, store, "e1", engine.Running)

	mon := New(store, client, testLogger(), time.Second)
	ctx := context.Background()

	mon.Tick(ctx)
	mon.Tick(ctx)

	rec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.Running, rec.State)
}

// TestReclaimStaleClaim verifies a trigger-state engine whose claim exceeds
// claimTimeout is rolled back to its actionable origin and then, within the
// same tick, picked back up and advanced.
func TestReclaimStaleClaim(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	require.NoError(t, store.Insert(context.Background(), engine.Record{
		ID: "e1", Name: "e", EngineType: engine.Spark, Version: "3.5.3",
		State: engine.TriggerStart, CreateTime: time.Now().UTC(),
		ClaimedAt: time.Now().UTC().Add(-time.Hour),
	}))

	mon := New(store, client, testLogger(), time.Second, WithClaimTimeout(time.Minute))
	ctx := context.Background()

	mon.Tick(ctx)

	rec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.StartInProgress, rec.State)
	assert.True(t, client.created["e1"])
}

// TestReclaimStaleClaimSkipsFreshClaim verifies a claim younger than
// claimTimeout is left untouched.
func TestReclaimStaleClaimSkipsFreshClaim(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	require.NoError(t, store.Insert(context.Background(), engine.Record{
		ID: "e1", Name: "e", EngineType: engine.Spark, Version: "3.5.3",
		State: engine.TriggerStart, CreateTime: time.Now().UTC(),
		ClaimedAt: time.Now().UTC(),
	}))

	mon := New(store, client, testLogger(), time.Second, WithClaimTimeout(time.Hour))
	mon.Tick(context.Background())

	rec, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.TriggerStart, rec.State)
}

// TestReclaimDisabledByDefault verifies a zero claimTimeout never reclaims,
// even a very old claim.
func TestReclaimDisabledByDefault(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	require.NoError(t, store.Insert(context.Background(), engine.Record{
		ID: "e1", Name: "e", EngineType: engine.Spark, Version: "3.5.3",
		State: engine.TriggerStart, CreateTime: time.Now().UTC(),
		ClaimedAt: time.Now().UTC().Add(-24 * time.Hour),
	}))

	mon := New(store, client, testLogger(), time.Second)
	mon.Tick(context.Background())

	rec, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.TriggerStart, rec.State)
}

func TestStartStopLifecycle(t *testing.T) {
	store := memory.New()
	client := newFakeClient()
	mon := New(store, client, testLogger(), 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	require.NoError(t, mon.Stop(ctx))
}
