// Package monitor implements the state monitor's tick loop: on each tick it
// scans for actionable engines and dispatches each to its next action
// according to the engine's current state.
package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/internal/metrics"
	"github.com/rucat-project/rucat/internal/resource"
	"github.com/rucat-project/rucat/pkg/logger"
)

// Monitor runs the reconcile loop against a single engine.Store / resource.Client pair.
type Monitor struct {
	store    engine.Store
	client   resource.Client
	log      *logger.Logger
	interval time.Duration
	fanOut   int
	// claimTimeout, when non-zero, lets this monitor steal an engine stuck
	// in one of the trigger states (engine.StaleRecoverableStates) for longer
	// than claimTimeout. Zero means "never steal", the default.
	claimTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Name identifies this as an internal/system.Service.
func (m *Monitor) Name() string { return "state-monitor" }

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithFanOut bounds the number of engines handled concurrently within one tick.
func WithFanOut(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.fanOut = n
		}
	}
}

// WithClaimTimeout enables the stale-claim steal mechanism.
func WithClaimTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.claimTimeout = d }
}

// New builds a Monitor that ticks every interval.
func New(store engine.Store, client resource.Client, log *logger.Logger, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		client:   client,
		log:      log,
		interval: interval,
		fanOut:   8,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the tick loop in a background goroutine and returns
// immediately, per internal/system.Service. On cancellation the current
// tick is allowed to finish before the goroutine exits.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.Tick(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the tick loop and waits for any in-flight tick to finish.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one full reconcile pass: reclaim any stale trigger-state claims
// (if claimTimeout is enabled), scan every engine and report per-state
// counts, then handle each actionable engine, bounded by m.fanOut
// concurrent handlers. Distinct engines may
// proceed in parallel; a single engine is handled sequentially within a
// tick. Exported so tests can drive the monitor deterministically instead of
// waiting on a ticker.
func (m *Monitor) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.Default().ObserveTickDuration(time.Since(started))
	}()

	if m.claimTimeout > 0 {
		m.reclaimStale(ctx)
	}

	all, err := m.store.ScanByStates(ctx, engine.AllStates())
	if err != nil {
		m.log.WithContext(ctx).WithField("error", err).Warn("scan engines failed")
		return
	}
	reportStateCounts(all)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fanOut)
	for _, rec := range all {
		if !rec.State.Actionable() {
			continue
		}
		rec := rec
		g.Go(func() error {
			m.handle(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

// reportStateCounts publishes rucat_engines_in_state for every defined
// state, including states with zero engines so a gauge does not stick at a
// stale non-zero value once the last engine leaves it.
func reportStateCounts(records []engine.Record) {
	counts := make(map[engine.State]int, len(records))
	for _, rec := range records {
		counts[rec.State]++
	}
	for _, st := range engine.AllStates() {
		metrics.Default().SetEngineStateCount(string(st), counts[st])
	}
}

// reclaimStale rolls back any trigger-state claim older than m.claimTimeout
// to the actionable state it was claimed from, letting a fresh monitor retry
// the transition a crashed monitor left unfinished.
func (m *Monitor) reclaimStale(ctx context.Context) {
	stale, err := m.store.ScanByStates(ctx, engine.StaleRecoverableStates())
	if err != nil {
		m.log.WithContext(ctx).WithField("error", err).Warn("scan stale claims failed")
		return
	}
	for _, rec := range stale {
		if rec.ClaimedAt.IsZero() || time.Since(rec.ClaimedAt) < m.claimTimeout {
			continue
		}
		origin, ok := engine.StaleRecoveryOrigin(rec.State)
		if !ok {
			continue
		}
		log := m.log.WithContext(ctx).WithField("engine_id", rec.ID).WithField("state", string(rec.State))
		if err := m.store.CASState(ctx, rec.ID, rec.State, origin); err != nil {
			logCASSkip(log, err)
			continue
		}
		metrics.Default().ObserveTransition(string(rec.State), string(origin))
		log.WithField("to", string(origin)).Warn("reclaimed stale claim")
	}
}

// handle dispatches a single engine according to its current state.
func (m *Monitor) handle(ctx context.Context, rec engine.Record) {
	log := m.log.WithContext(ctx).WithField("engine_id", rec.ID).WithField("state", string(rec.State))

	switch rec.State {
	case engine.WaitToStart:
		m.handleWaitToStart(ctx, rec, log)
	case engine.StartInProgress:
		m.handleStartInProgress(ctx, rec, log)
	case engine.WaitToTerminate:
		m.handleWaitToTerminate(ctx, rec, log)
	case engine.TerminateInProgress:
		m.handleResourceGoneTransition(ctx, rec, engine.TerminateInProgress, engine.Terminated, log)
	case engine.ErrorWaitToClean:
		m.handleErrorWaitToClean(ctx, rec, log)
	case engine.ErrorCleanInProgress:
		m.handleResourceGoneTransition(ctx, rec, engine.ErrorCleanInProgress, engine.ErrorClean, log)
	}
}

func (m *Monitor) handleWaitToStart(ctx context.Context, rec engine.Record, log *logger.Entry) {
	if err := m.store.CASState(ctx, rec.ID, engine.WaitToStart, engine.TriggerStart); err != nil {
		logCASSkip(log, err)
		return
	}
	metrics.Default().ObserveTransition(string(engine.WaitToStart), string(engine.TriggerStart))

	createErr := m.client.Create(ctx, rec.ID, rec.EngineType, rec.Version, rec.Configs)
	next := engine.StartInProgress
	if createErr != nil {
		log.WithField("error", createErr).Warn("resource create failed")
		next = engine.ErrorClean
	}
	if err := m.store.CASState(ctx, rec.ID, engine.TriggerStart, next); err != nil {
		logCASSkip(log, err)
		return
	}
	metrics.Default().ObserveTransition(string(engine.TriggerStart), string(next))
	log.WithField("to", string(next)).Info("engine start triggered")
}

func (m *Monitor) handleStartInProgress(ctx context.Context, rec engine.Record, log *logger.Entry) {
	status, reason, err := m.client.Status(ctx, rec.ID)
	if err != nil {
		log.WithField("error", err).Warn("resource status query failed")
		return
	}
	switch status {
	case resource.Running:
		if err := m.store.CASState(ctx, rec.ID, engine.StartInProgress, engine.Running); err != nil {
			logCASSkip(log, err)
			return
		}
		metrics.Default().ObserveTransition(string(engine.StartInProgress), string(engine.Running))
		log.Info("engine running")
	case resource.Failed:
		if err := m.store.CASState(ctx, rec.ID, engine.StartInProgress, engine.ErrorWaitToClean); err != nil {
			logCASSkip(log, err)
			return
		}
		metrics.Default().ObserveTransition(string(engine.StartInProgress), string(engine.ErrorWaitToClean))
		log.WithField("reason", reason).Warn("engine resource failed while starting")
	default:
		// Pending or NotFound-but-recently-created: leave for the next tick.
	}
}

func (m *Monitor) handleWaitToTerminate(ctx context.Context, rec engine.Record, log *logger.Entry) {
	m.claimAndDelete(ctx, rec, engine.WaitToTerminate, engine.TriggerTermination, engine.TerminateInProgress, log)
}

func (m *Monitor) handleErrorWaitToClean(ctx context.Context, rec engine.Record, log *logger.Entry) {
	m.claimAndDelete(ctx, rec, engine.ErrorWaitToClean, engine.ErrorTriggerClean, engine.ErrorCleanInProgress, log)
}

// claimAndDelete implements the shared shape of the WaitToTerminate and
// ErrorWaitToClean rows: CAS into the trigger state, issue resource-delete,
// CAS into the in-progress state. If the delete fails, the claim is CASed
// back to from so a later tick retries it.
func (m *Monitor) claimAndDelete(ctx context.Context, rec engine.Record, from, trigger, inProgress engine.State, log *logger.Entry) {
	if err := m.store.CASState(ctx, rec.ID, from, trigger); err != nil {
		logCASSkip(log, err)
		return
	}
	metrics.Default().ObserveTransition(string(from), string(trigger))

	if err := m.client.Delete(ctx, rec.ID); err != nil {
		log.WithField("error", err).Warn("resource delete failed; will retry next tick")
		// Release the claim so the engine is actionable again on the next tick.
		if err := m.store.CASState(ctx, rec.ID, trigger, from); err != nil {
			logCASSkip(log, err)
			return
		}
		metrics.Default().ObserveTransition(string(trigger), string(from))
		return
	}
	if err := m.store.CASState(ctx, rec.ID, trigger, inProgress); err != nil {
		logCASSkip(log, err)
		return
	}
	metrics.Default().ObserveTransition(string(trigger), string(inProgress))
	log.WithField("to", string(inProgress)).Info("engine termination triggered")
}

// handleResourceGoneTransition implements the shared shape of the
// TerminateInProgress and ErrorCleanInProgress rows: query the resource, and
// once it is gone, CAS into the terminal state.
func (m *Monitor) handleResourceGoneTransition(ctx context.Context, rec engine.Record, from, to engine.State, log *logger.Entry) {
	status, _, err := m.client.Status(ctx, rec.ID)
	if err != nil {
		log.WithField("error", err).Warn("resource status query failed")
		return
	}
	if status != resource.NotFound {
		return
	}
	if err := m.store.CASState(ctx, rec.ID, from, to); err != nil {
		logCASSkip(log, err)
		return
	}
	metrics.Default().ObserveTransition(string(from), string(to))
	log.Info("engine cleanup complete")
}

func logCASSkip(log *logger.Entry, err error) {
	if apiErr, ok := apierr.As(err); ok && apiErr.Code == apierr.CodeConflictState {
		log.Debug("cas lost race, another monitor owns this tick")
		return
	}
	log.WithField("error", err).Warn("cas failed")
}
