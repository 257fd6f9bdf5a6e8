// Package orchestrator schedules pull/push cycles between the local replica
// and the sync server.
//
// All triggers (start, connectivity, foreground, auth changes, explicit
// requests, the periodic interval and retry timers) funnel into one scheduler
// goroutine. At most one cycle runs at a time; triggers that arrive while a
// cycle is running are dropped. Failed cycles are retried with exponential
// backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/replica"
	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
	"github.com/jake-wickstrom/tabletop-tracker/internal/syncclient"
)

// Default backoff bounds.
const (
	DefaultBackoffMin = 2 * time.Second
	DefaultBackoffMax = 60 * time.Second
)

var (
	// ErrNotAuthenticated is returned by Sync when no token is available.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrClosed is returned by Sync once the orchestrator is closed.
	ErrClosed = errors.New("orchestrator closed")
)

// Phase is the orchestrator's coarse state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseSyncing
	PhaseBackoff
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseSyncing:
		return "syncing"
	case PhaseBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TokenSource supplies the bearer token. An empty token means signed out.
// Subscribe registers fn to run whenever the auth state changes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Subscribe(fn func()) (unsubscribe func())
}

// Remote is the sync server.
type Remote interface {
	Pull(ctx context.Context, token string, cursor int64) (*syncclient.PullResult, error)
	Push(ctx context.Context, token string, changes tdsync.ChangeSet, lastPulledAt *int64) error
}

// Replica is the local store the orchestrator reconciles.
type Replica interface {
	LoadCursor(ctx context.Context) (int64, bool, error)
	SaveCursor(ctx context.Context, cursor int64) error
	ApplyChanges(ctx context.Context, cs tdsync.ChangeSet) (replica.ApplyStats, error)
	PendingChanges(ctx context.Context) (tdsync.ChangeSet, error)
	MarkSynced(ctx context.Context, pushed tdsync.ChangeSet) error
	ResolveConflicts(ctx context.Context, conflicts map[string][]string) (int, error)
}

// Config tunes scheduling.
type Config struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
	// Interval triggers a cycle periodically. Zero disables it.
	Interval time.Duration
}

// Status is a snapshot of orchestrator state.
type Status struct {
	Phase      Phase
	Syncing    bool
	Cursor     int64
	HasCursor  bool
	LastError  error
	RetryDelay time.Duration
	LastSyncAt time.Time
	Pulled     int
	Pushed     int
}

type trigger string

const (
	triggerStart      trigger = "start"
	triggerOnline     trigger = "online"
	triggerForeground trigger = "foreground"
	triggerAuth       trigger = "auth"
	triggerRequest    trigger = "request"
	triggerInterval   trigger = "interval"
	triggerRetry      trigger = "retry"
)

type cycleResult struct {
	cursor int64
	pulled int
	pushed int
	err    error
}

// errNotReady marks a cycle skipped for lack of a token.
var errNotReady = errors.New("no token")

// Orchestrator drives sync cycles.
type Orchestrator struct {
	cfg    Config
	tokens TokenSource
	remote Remote
	store  Replica

	triggers chan trigger
	syncReqs chan chan error
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	workers  sync.WaitGroup
	started  atomic.Bool
	closed   atomic.Bool

	mu          sync.Mutex
	status      Status
	listeners   []func(Status)
	unsubscribe func()
}

// New creates an orchestrator. Call Start to begin scheduling.
func New(cfg Config, tokens TokenSource, remote Remote, store Replica) *Orchestrator {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(DefaultBackoffMax, cfg.BackoffMin)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		tokens:   tokens,
		remote:   remote,
		store:    store,
		triggers: make(chan trigger, 1),
		syncReqs: make(chan chan error),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start loads the persisted cursor, subscribes to auth changes and runs the
// first cycle.
func (o *Orchestrator) Start() {
	if o.closed.Load() || o.started.Swap(true) {
		return
	}
	if cursor, ok, err := o.store.LoadCursor(o.ctx); err != nil {
		slog.Warn("orchestrator: load cursor", "err", err)
	} else {
		o.update(func(s *Status) { s.Cursor, s.HasCursor = cursor, ok })
	}

	unsub := o.tokens.Subscribe(func() { o.fire(triggerAuth) })
	o.mu.Lock()
	o.unsubscribe = unsub
	o.mu.Unlock()

	go o.loop()
	o.fire(triggerStart)
}

// RequestSync asks for a cycle without waiting for it.
func (o *Orchestrator) RequestSync() { o.fire(triggerRequest) }

// NotifyOnline reports that connectivity was regained.
func (o *Orchestrator) NotifyOnline() { o.fire(triggerOnline) }

// NotifyForeground reports that the application came to the foreground.
func (o *Orchestrator) NotifyForeground() { o.fire(triggerForeground) }

// Sync requests a cycle and waits for its result. If a cycle is already
// running, Sync waits for that cycle instead. Start must have been called.
func (o *Orchestrator) Sync(ctx context.Context) error {
	if o.closed.Load() {
		return ErrClosed
	}
	ch := make(chan error, 1)
	select {
	case o.syncReqs <- ch:
	case <-o.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// OnStatus registers fn to receive every status change. fn may be called
// from more than one goroutine.
func (o *Orchestrator) OnStatus(fn func(Status)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Close stops scheduling, cancels any pending retry and in-flight requests,
// and unsubscribes from auth changes. Results of an in-flight cycle are
// discarded. Close returns once the cycle worker has exited, so the replica
// may be closed right after.
func (o *Orchestrator) Close() {
	if o.closed.Swap(true) {
		return
	}
	o.mu.Lock()
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	o.cancel()
	if o.started.Load() {
		<-o.done
	}
	o.workers.Wait()
}

func (o *Orchestrator) fire(t trigger) {
	if o.closed.Load() {
		return
	}
	select {
	case o.triggers <- t:
	default:
		// One trigger is already queued.
	}
}

func (o *Orchestrator) loop() {
	defer close(o.done)

	var interval <-chan time.Time
	if o.cfg.Interval > 0 {
		ticker := time.NewTicker(o.cfg.Interval)
		defer ticker.Stop()
		interval = ticker.C
	}

	var (
		retryTimer *time.Timer
		retry      <-chan time.Time
		running    bool
		delay      = o.cfg.BackoffMin
		results    = make(chan cycleResult, 1)
		waiters    []chan error
	)
	// release hands err to every caller blocked in Sync.
	release := func(err error) {
		for _, ch := range waiters {
			ch <- err
		}
		waiters = nil
	}
	defer func() { release(ErrClosed) }()
	stopRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer, retry = nil, nil
		}
	}
	defer stopRetry()

	start := func(t trigger) {
		if running {
			slog.Debug("orchestrator: trigger dropped, cycle in flight", "trigger", t)
			return
		}
		stopRetry()
		running = true
		slog.Debug("orchestrator: cycle start", "trigger", t)
		o.update(func(s *Status) {
			s.Phase = PhaseAuthenticating
			s.Syncing = true
			s.RetryDelay = 0
		})
		o.workers.Add(1)
		go func() {
			defer o.workers.Done()
			results <- o.runCycle(o.ctx)
		}()
	}

	for {
		select {
		case <-o.ctx.Done():
			return
		case t := <-o.triggers:
			start(t)
		case ch := <-o.syncReqs:
			waiters = append(waiters, ch)
			start(triggerRequest)
		case <-interval:
			start(triggerInterval)
		case <-retry:
			retryTimer, retry = nil, nil
			start(triggerRetry)
		case res := <-results:
			running = false
			if o.closed.Load() {
				return
			}
			switch {
			case errors.Is(res.err, errNotReady):
				o.update(func(s *Status) { s.Phase, s.Syncing = PhaseIdle, false })
				release(ErrNotAuthenticated)
			case res.err != nil:
				wait := delay
				delay = min(delay*2, o.cfg.BackoffMax)
				retryTimer = time.NewTimer(wait)
				retry = retryTimer.C
				slog.Warn("orchestrator: cycle failed", "err", res.err, "retry_in", wait)
				o.update(func(s *Status) {
					s.Phase, s.Syncing = PhaseBackoff, false
					s.LastError = res.err
					s.RetryDelay = wait
				})
				release(res.err)
			default:
				delay = o.cfg.BackoffMin
				slog.Debug("orchestrator: cycle done", "cursor", res.cursor, "pulled", res.pulled, "pushed", res.pushed)
				o.update(func(s *Status) {
					s.Phase, s.Syncing = PhaseIdle, false
					s.Cursor, s.HasCursor = res.cursor, true
					s.LastError = nil
					s.RetryDelay = 0
					s.LastSyncAt = time.Now()
					s.Pulled, s.Pushed = res.pulled, res.pushed
				})
				release(nil)
			}
		}
	}
}

// runCycle performs one pull-apply-push-commit pass.
func (o *Orchestrator) runCycle(ctx context.Context) cycleResult {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		return cycleResult{err: fmt.Errorf("token: %w", err)}
	}
	if token == "" {
		return cycleResult{err: errNotReady}
	}
	if o.closed.Load() {
		return cycleResult{err: ErrClosed}
	}
	o.update(func(s *Status) { s.Phase = PhaseSyncing })

	cursor, hasCursor, err := o.store.LoadCursor(ctx)
	if err != nil {
		return cycleResult{err: err}
	}

	pulled, err := o.remote.Pull(ctx, token, cursor)
	if err != nil {
		return cycleResult{err: fmt.Errorf("pull: %w", err)}
	}
	if o.closed.Load() {
		return cycleResult{err: ErrClosed}
	}
	if _, err := o.store.ApplyChanges(ctx, pulled.Changes); err != nil {
		return cycleResult{err: fmt.Errorf("apply: %w", err)}
	}

	pending, err := o.store.PendingChanges(ctx)
	if err != nil {
		return cycleResult{err: fmt.Errorf("collect pending: %w", err)}
	}
	pushed := 0
	if !pending.Empty() {
		var lastPulledAt *int64
		if hasCursor {
			lastPulledAt = &cursor
		}
		err := o.remote.Push(ctx, token, pending, lastPulledAt)
		var conflict *syncclient.ConflictError
		if errors.As(err, &conflict) {
			// The server kept its newer rows; release ours so the retry,
			// which re-pulls from the old cursor, replaces them.
			if _, rerr := o.store.ResolveConflicts(ctx, conflict.Conflicts); rerr != nil {
				return cycleResult{err: fmt.Errorf("resolve conflicts: %w", rerr)}
			}
			if merr := o.store.MarkSynced(ctx, pending); merr != nil {
				return cycleResult{err: fmt.Errorf("mark synced: %w", merr)}
			}
			return cycleResult{err: err}
		}
		if err != nil {
			return cycleResult{err: fmt.Errorf("push: %w", err)}
		}
		if err := o.store.MarkSynced(ctx, pending); err != nil {
			return cycleResult{err: fmt.Errorf("mark synced: %w", err)}
		}
		pushed = pending.Count()
	}

	if o.closed.Load() {
		return cycleResult{err: ErrClosed}
	}
	if err := o.store.SaveCursor(ctx, pulled.Timestamp); err != nil {
		return cycleResult{err: fmt.Errorf("save cursor: %w", err)}
	}
	return cycleResult{cursor: pulled.Timestamp, pulled: pulled.Changes.Count(), pushed: pushed}
}

// update applies fn to the status and notifies listeners. It is a no-op
// once Close has been called.
func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	if o.closed.Load() {
		o.mu.Unlock()
		return
	}
	fn(&o.status)
	snap := o.status
	listeners := append([]func(Status){}, o.listeners...)
	o.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
}
