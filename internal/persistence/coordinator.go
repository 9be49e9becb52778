package persistence

import (
	"context"
	"sync"
	"time"

	"codepulse/internal/domain/session"
	"codepulse/internal/metrics"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
	"codepulse/pkg/retry"
)

// Outcome reports how a dual write went. Finalized is true once at least one
// store acked the session.
type Outcome struct {
	Finalized bool
	Errors    map[string]error // store name -> terminal error, nil on success
}

// Failed returns the names of stores whose writes ultimately failed
func (o Outcome) Failed() []string {
	var failed []string
	for name, err := range o.Errors {
		if err != nil {
			failed = append(failed, name)
		}
	}
	return failed
}

// Config bounds the per-store retry budget and the background write deadline
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WriteDeadline  time.Duration // total budget for one async Submit
}

// Coordinator fans one reconciled session out to both stores concurrently.
// A failing store is retried with exponential backoff; once the budget runs
// out the session is recorded in the repair log with the failing store named,
// so a later repair pass can finish the job.
type Coordinator struct {
	stores  []session.Store
	repairs session.RepairLog
	policy  retry.Policy
	cfg     Config
	tracker errors.Tracker

	wg sync.WaitGroup
}

func NewCoordinator(stores []session.Store, repairs session.RepairLog, cfg Config, tracker errors.Tracker) *Coordinator {
	if cfg.WriteDeadline <= 0 {
		cfg.WriteDeadline = 2 * time.Minute
	}
	return &Coordinator{
		stores:  stores,
		repairs: repairs,
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		cfg:     cfg,
		tracker: tracker,
	}
}

// Submit persists the session without blocking the caller. The write runs on
// its own goroutine with its own deadline so a slow store never backs up the
// reconciler.
func (c *Coordinator) Submit(sess *session.Reconciled) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteDeadline)
		defer cancel()
		c.Persist(ctx, sess)
	}()
}

// Persist writes the session to every store concurrently and returns once all
// writes have either succeeded or exhausted their retry budget. Callers that
// must not wait use Submit. The caller's session is never mutated: Submit
// runs on its own goroutine while the same pointer is still being read by
// fan-out subscribers and the event publisher, so the outcome is reported
// through the return value and the stored copy only.
func (c *Coordinator) Persist(ctx context.Context, sess *session.Reconciled) Outcome {
	log := logger.Get().With("component", "persistence", "session_id", sess.SessionID)

	// The row is only visible where the write succeeded, so the stored copy
	// is always finalized.
	stored := *sess
	stored.Finalized = true

	var (
		mu      sync.Mutex
		outcome = Outcome{Errors: make(map[string]error, len(c.stores))}
		wg      sync.WaitGroup
	)

	for _, st := range c.stores {
		wg.Add(1)
		go func(st session.Store) {
			defer wg.Done()
			err := c.writeOne(ctx, st, &stored)

			mu.Lock()
			outcome.Errors[st.Name()] = err
			if err == nil {
				outcome.Finalized = true
			}
			mu.Unlock()
		}(st)
	}
	wg.Wait()

	for _, name := range outcome.Failed() {
		metrics.PartialPersists.WithLabelValues(name).Inc()
		storeErr := outcome.Errors[name]
		log.Errorw("store write exhausted retries, recording repair",
			"store", name, "error", storeErr)

		rec := &session.RepairRecord{
			SessionID:   sess.SessionID.String(),
			FailedStore: name,
			Attempts:    c.policy.MaxAttempts,
			LastError:   storeErr.Error(),
			RecordedAt:  time.Now().UTC(),
		}
		if err := c.repairs.Record(ctx, rec, &stored); err != nil {
			// Nowhere durable left to note the loss; make noise.
			log.Errorw("failed to record repair entry", "store", name, "error", err)
			if c.tracker != nil {
				c.tracker.CaptureError(ctx, errors.Wrapf(err, "repair record for session %s", sess.SessionID),
					map[string]string{"store": name})
			}
		}
	}

	if !outcome.Finalized {
		log.Errorw("session reached no store", "errors", outcome.Errors)
	}
	return outcome
}

func (c *Coordinator) writeOne(ctx context.Context, st session.Store, sess *session.Reconciled) error {
	start := time.Now()
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if werr := st.WriteSession(ctx, sess); werr != nil {
			metrics.StoreWrites.WithLabelValues(st.Name(), "error").Inc()
			return werr
		}
		return nil
	})
	metrics.StoreWriteLatency.WithLabelValues(st.Name()).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.StoreWrites.WithLabelValues(st.Name(), "ok").Inc()
	}
	return err
}

// Drain waits for all in-flight Submit writes to finish
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "persistence drain")
	}
}
