package kg

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/gray-logic-kg/internal/graph"
)

// Backoff bounds for retried graph reads.
const (
	readRetryInitial = 50 * time.Millisecond
	readRetryMax     = time.Second
)

// instrumentedStore wraps a graph.Store, switching the tracker to
// Querying for the duration of each call and recording its latency.
type instrumentedStore struct {
	next    graph.Store
	tracker *StateTracker
	metrics *Metrics
}

func instrument(next graph.Store, tracker *StateTracker, metrics *Metrics) graph.Store {
	return &instrumentedStore{next: next, tracker: tracker, metrics: metrics}
}

func (s *instrumentedStore) observe(verb string) func(error) {
	prev := s.tracker.Enter(ActivityQuerying)
	start := time.Now()
	return func(err error) {
		s.metrics.storeCall(verb, time.Since(start), err)
		s.tracker.Enter(prev)
	}
}

func (s *instrumentedStore) Define(ctx context.Context, def graph.Definition) (err error) {
	done := s.observe("define")
	defer func() { done(err) }()
	return s.next.Define(ctx, def)
}

func (s *instrumentedStore) Insert(ctx context.Context, ins graph.Insertion) (err error) {
	done := s.observe("insert")
	defer func() { done(err) }()
	return s.next.Insert(ctx, ins)
}

func (s *instrumentedStore) Update(ctx context.Context, upd graph.Update) (err error) {
	done := s.observe("update")
	defer func() { done(err) }()
	return s.next.Update(ctx, upd)
}

func (s *instrumentedStore) Delete(ctx context.Context, del graph.Deletion) (err error) {
	done := s.observe("delete")
	defer func() { done(err) }()
	return s.next.Delete(ctx, del)
}

func (s *instrumentedStore) Match(ctx context.Context, q graph.Query) (_ []graph.Binding, err error) {
	done := s.observe("match")
	defer func() { done(err) }()
	return s.next.Match(ctx, q)
}

// match runs a read with a per-attempt timeout, retrying transient
// failures with exponential backoff. Writes are never retried.
func (e *Engine) match(ctx context.Context, q graph.Query) ([]graph.Binding, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = readRetryInitial
	policy.MaxInterval = readRetryMax

	op := func() ([]graph.Binding, error) {
		callCtx, cancel := e.storeCtx(ctx)
		defer cancel()
		bindings, err := e.store.Match(callCtx, q)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return bindings, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(e.cfg.ReadRetries)), //nolint:gosec // ReadRetries is validated positive
	)
}

// retryable reports whether a read failure may succeed on a second attempt.
func retryable(err error) bool {
	return errors.Is(err, graph.ErrTimeout) || errors.Is(err, graph.ErrTransaction)
}
