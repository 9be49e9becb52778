package reconciler

import (
	"context"
	"sync"
	"time"

	"codepulse/internal/domain/session"
	"codepulse/internal/metrics"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// CloseReason explains why a session left the open state
type CloseReason string

const (
	ReasonCloseEvent CloseReason = "close_event"
	ReasonTimeout    CloseReason = "timeout"
	ReasonShutdown   CloseReason = "shutdown"
)

// Emitter consumes the reconciler output: best-effort progress snapshots and
// exactly one reconciled session per close
type Emitter interface {
	SessionProgress(open *session.Open)
	SessionReconciled(rec *session.Reconciled, reason CloseReason)
}

// Config tunes the reconciler
type Config struct {
	// QueueBound caps pending events per key; Offer returns Overloaded beyond it
	QueueBound int
	// InactivityTimeout closes an open session that stops receiving events
	InactivityTimeout time.Duration
}

// Reconciler owns all open session state. One worker goroutine per active
// (user, file) key drains a bounded queue, so two events for the same key are
// never merged concurrently while distinct keys proceed independently.
type Reconciler struct {
	cfg     Config
	emitter Emitter
	log     *logger.Logger

	mu      sync.Mutex
	workers map[session.Key]*worker
	closed  bool

	wg sync.WaitGroup
}

// New creates a reconciler with the given output emitter
func New(cfg Config, emitter Emitter) *Reconciler {
	if cfg.QueueBound <= 0 {
		cfg.QueueBound = 300
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 5 * time.Minute
	}

	return &Reconciler{
		cfg:     cfg,
		emitter: emitter,
		log:     logger.Get().With("component", "reconciler"),
		workers: make(map[session.Key]*worker),
	}
}

// Offer hands one normalized event to the worker for its key. It never
// blocks: a full queue returns Overloaded and the caller decides whether to
// retry. Events accepted here are guaranteed to be merged eventually.
func (r *Reconciler) Offer(ctx context.Context, ev session.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := ev.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.Wrap(errors.ErrUnavailable, "reconciler shutting down")
	}

	w, ok := r.workers[key]
	if !ok {
		w = newWorker(key, r)
		r.workers[key] = w
		r.wg.Add(1)
		go w.run()
	}

	select {
	case w.events <- ev:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return errors.Wrapf(errors.ErrOverloaded,
			"user=%s file=%s pending=%d", key.UserID, key.FilePath, len(w.events))
	}
}

// ActiveKeys returns the number of keys with a live worker
func (r *Reconciler) ActiveKeys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Shutdown flushes every open session (emitted with the shutdown reason) and
// waits for all workers to exit
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, w := range r.workers {
			close(w.quit)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "reconciler shutdown timed out")
	}
}

// retire removes an idle worker. It holds the reconciler lock while checking
// the queue, the same lock Offer enqueues under, so no event can slip in
// between the emptiness check and the removal.
func (r *Reconciler) retire(w *worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(w.events) > 0 {
		return false
	}
	delete(r.workers, w.key)
	return true
}

// worker is the single owner of one key's open-session state
type worker struct {
	key    session.Key
	parent *Reconciler
	events chan session.Event
	quit   chan struct{}
	open   *session.Open
	log    *logger.Logger
}

func newWorker(key session.Key, parent *Reconciler) *worker {
	return &worker{
		key:    key,
		parent: parent,
		events: make(chan session.Event, parent.cfg.QueueBound),
		quit:   make(chan struct{}),
		log:    parent.log.With("user_id", key.UserID, "file", key.FilePath),
	}
}

// run loops until the worker retires idle or the reconciler shuts down.
// Worker lifetime is bound to the reconciler, never to a request context.
func (w *worker) run() {
	defer w.parent.wg.Done()

	idle := w.parent.cfg.InactivityTimeout
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case ev := <-w.events:
			metrics.QueueDepth.Dec()
			w.handle(ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)

		case <-timer.C:
			if w.open != nil {
				w.close(ReasonTimeout)
				timer.Reset(idle)
				continue
			}
			// No open session and nothing queued: retire the worker so the
			// active-key map does not grow without bound
			if w.parent.retire(w) {
				return
			}
			timer.Reset(idle)

		case <-w.quit:
			w.drain()
			if w.open != nil {
				w.close(ReasonShutdown)
			}
			return
		}
	}
}

// handle merges one event into the open state. A close flag on the merged
// result emits exactly one reconciled session and clears the slot so the
// next event starts a fresh session id.
func (w *worker) handle(ev session.Event) {
	wasOpen := w.open != nil

	open, err := session.Merge(w.open, ev)
	if err != nil {
		// Validation happens at the gateway; anything surfacing here is a bug
		// worth logging, not worth killing the worker over
		w.log.Errorw("merge rejected event", "error", err)
		return
	}
	w.open = open

	if !wasOpen {
		metrics.ActiveSessions.Inc()
	}

	if w.open.Closed {
		w.close(ReasonCloseEvent)
		return
	}

	w.parent.emitter.SessionProgress(w.snapshot())
}

// drain merges whatever is still queued before a shutdown flush
func (w *worker) drain() {
	for {
		select {
		case ev := <-w.events:
			metrics.QueueDepth.Dec()
			w.handle(ev)
		default:
			return
		}
	}
}

func (w *worker) close(reason CloseReason) {
	rec := w.open.Reconcile()
	w.open = nil

	metrics.ActiveSessions.Dec()
	metrics.SessionsReconciled.WithLabelValues(string(reason)).Inc()

	w.log.Infow("session reconciled",
		"session_id", rec.SessionID,
		"reason", reason,
		"duration_ms", rec.TotalDurationMs,
		"lines_changed", rec.TotalLinesChanged,
	)

	w.parent.emitter.SessionReconciled(rec, reason)
}

// snapshot copies the open state so the emitter never sees the worker's
// mutable instance
func (w *worker) snapshot() *session.Open {
	cp := *w.open
	return &cp
}
