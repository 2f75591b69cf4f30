// Package toggle applies debug parameter flips to a tab one at a time.
// Every flip reloads the page, so each operation waits for the load to
// complete and a settle delay to pass before the next one starts.
package toggle

import (
	"context"
	"sync"
	"time"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/types"
)

// Operation is one user flip. Operations are never merged: flipping the
// same toggle twice gives two full cycles.
type Operation struct {
	Parameter  string
	Enabled    bool
	Tab        types.TabID
	EnqueuedAt time.Time
}

// Result is the outcome of applying one operation.
type Result struct {
	URLChanged bool
	Err        error
}

type item struct {
	op   Operation
	done chan Result
}

// Applier sends the parameter update for op and reports whether the tab's
// URL changed as a result.
type Applier interface {
	ApplyParameter(ctx context.Context, op Operation) (urlChanged bool, err error)
}

// TabStatus reports the load status of a tab: "loading" or "complete".
type TabStatus interface {
	TabStatus(ctx context.Context, tab types.TabID) (string, error)
}

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Observer is told about drain progress. Callbacks run on the drain
// goroutine and must not block on the Queue.
type Observer interface {
	Started(op Operation)
	Finished(op Operation)
	Idle()
}

// Settings are the waits of one apply cycle.
type Settings struct {
	PollInterval  time.Duration
	LoadTimeout   time.Duration
	SettleDelay   time.Duration
	NoChangeDelay time.Duration
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopObserver struct{}

func (nopObserver) Started(Operation)  {}
func (nopObserver) Finished(Operation) {}
func (nopObserver) Idle()              {}

type Option func(*Queue)

func WithClock(c Clock) Option { return func(q *Queue) { q.clock = c } }

func WithObserver(o Observer) Option { return func(q *Queue) { q.obs = o } }

// Queue serializes operations in strict FIFO order.
type Queue struct {
	applier  Applier
	status   TabStatus
	settings Settings
	clock    Clock
	obs      Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	items   []item
	current *Operation
	running bool
	idle    chan struct{}
}

func New(a Applier, s TabStatus, settings Settings, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		applier:  a,
		status:   s,
		settings: settings,
		clock:    realClock{},
		obs:      nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Close cancels the waits of the current cycle. Remaining operations are
// still drained, without delays.
func (q *Queue) Close() {
	q.cancel()
}

// Enqueue appends op and starts a drain if none is running.
func (q *Queue) Enqueue(op Operation) {
	q.Submit(op)
}

// Submit is Enqueue that also reports the apply result. The channel
// receives once the update has been sent, before the load and settle
// waits of the cycle.
func (q *Queue) Submit(op Operation) <-chan Result {
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.clock.Now()
	}
	done := make(chan Result, 1)
	q.mu.Lock()
	q.items = append(q.items, item{op: op, done: done})
	start := !q.running
	if start {
		q.running = true
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	applog.Info("toggle.enqueue", "param", op.Parameter, "enabled", op.Enabled, "tab", op.Tab)
	if start {
		go q.drain()
	}
	return done
}

// Pending returns the number of operations waiting behind the current one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Busy reports whether a drain is in progress.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Current returns the operation being applied.
func (q *Queue) Current() (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Operation{}, false
	}
	return *q.current, true
}

// Wait blocks until the queue is empty and idle.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	ch := q.idle
	q.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) next() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.current = nil
		return item{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	q.current = &it.op
	return it, true
}

func (q *Queue) drain() {
	for {
		it, ok := q.next()
		if !ok {
			q.obs.Idle()
			q.mu.Lock()
			if len(q.items) > 0 {
				// Enqueued while we were reporting idle.
				q.mu.Unlock()
				continue
			}
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		q.run(it)
	}
}

func (q *Queue) run(it item) {
	op := it.op
	q.obs.Started(op)
	defer q.obs.Finished(op)

	start := q.clock.Now()
	applyCtx, cancel := q.stepContext()
	changed, err := q.applier.ApplyParameter(applyCtx, op)
	cancel()
	if err != nil {
		applog.Error("toggle.apply", err, "param", op.Parameter, "tab", op.Tab)
		changed = false
	}
	it.done <- Result{URLChanged: changed, Err: err}

	if changed {
		q.waitForLoad(op)
		q.clock.Sleep(q.ctx, q.settings.SettleDelay)
	} else {
		q.clock.Sleep(q.ctx, q.settings.NoChangeDelay)
	}
	applog.Info("toggle.done", "param", op.Parameter, "enabled", op.Enabled, "tab", op.Tab,
		"url_changed", changed, "elapsed", q.clock.Now().Sub(start))
}

// stepContext bounds one host round trip of a cycle by LoadTimeout, so an
// extension that never answers cannot hold the queue.
func (q *Queue) stepContext() (context.Context, context.CancelFunc) {
	if q.settings.LoadTimeout <= 0 {
		return context.WithCancel(q.ctx)
	}
	return context.WithTimeout(q.ctx, q.settings.LoadTimeout)
}

// waitForLoad polls the tab until it reports complete. It gives up after
// LoadTimeout or on a transport error, and never fails the cycle.
func (q *Queue) waitForLoad(op Operation) {
	ctx, cancel := q.stepContext()
	defer cancel()
	deadline := q.clock.Now().Add(q.settings.LoadTimeout)
	for {
		if err := q.clock.Sleep(ctx, q.settings.PollInterval); err != nil {
			return
		}
		status, err := q.status.TabStatus(ctx, op.Tab)
		if err != nil {
			applog.Error("toggle.tab_status", err, "tab", op.Tab)
			return
		}
		if status == "complete" {
			return
		}
		if !q.clock.Now().Before(deadline) {
			applog.Warn("toggle.load_timeout", "tab", op.Tab, "param", op.Parameter)
			return
		}
	}
}
