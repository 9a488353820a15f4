package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/screa/keysearch/internal/crypto"
	"github.com/screa/keysearch/internal/logger"
	"github.com/screa/keysearch/pkg/target"
	"github.com/screa/keysearch/pkg/types"
)

// ErrSystemicFailure stops a worker whose derivations keep failing
var ErrSystemicFailure = errors.New("systemic failure: derivation failure rate exceeded")

// Source yields the candidates of a range in a fixed order
type Source interface {
	Next(dst *uint256.Int) bool
	Position() uint256.Int
}

// Deriver maps a candidate to its fingerprints
type Deriver interface {
	Derive(k *uint256.Int, fp *types.Fingerprints) error
}

// Matcher compares fingerprints against the targets
type Matcher interface {
	Match(fp *types.Fingerprints) (target.Hit, bool)
}

// Filter is an optional candidate predicate; candidates it rejects are not derived
type Filter func(k *uint256.Int) bool

// Deps are the collaborators of a worker
type Deps struct {
	Source  Source
	Deriver Deriver
	Matcher Matcher
	Filter  Filter
	Clock   clock.Clock
	Logger  *logger.Logger
}

// Worker searches one range and reports to the coordinator.
// State: Idle -> Running -> Found | Exhausted | Cancelled | Failed.
type Worker struct {
	id      int
	rangeID string
	config  *types.WorkerConfig
	deps    Deps
	state   atomic.Int32

	start    time.Time
	progress types.ProgressReport
	failures failureWindow
	lastErr  error
}

// NewWorker creates a new worker instance
func NewWorker(id int, rangeID string, config *types.WorkerConfig, deps Deps) *Worker {
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}
	if deps.Logger == nil {
		deps.Logger = logger.New()
	}
	w := &Worker{
		id:       id,
		rangeID:  rangeID,
		config:   config,
		deps:     deps,
		failures: newFailureWindow(config.FailureWindow, config.MaxFailureRate),
	}
	w.progress.WorkerID = id
	w.progress.RangeID = rangeID
	return w
}

// ID returns the worker id
func (w *Worker) ID() int {
	return w.id
}

// State returns the current state
func (w *Worker) State() types.WorkerState {
	return types.WorkerState(w.state.Load())
}

// Progress returns the worker's counters. Only call after Run returned.
func (w *Worker) Progress() types.ProgressReport {
	return w.progress
}

// Run searches until a match, exhaustion, cancellation or systemic failure.
// Cancellation is checked between candidates, never during a derivation.
// Exactly one terminal event is sent on events before Run returns.
func (w *Worker) Run(ctx context.Context, events chan<- types.Event) types.WorkerState {
	w.start = w.deps.Clock.Now()
	w.state.Store(int32(types.StateRunning))

	interval := w.config.ProgressInterval
	var tick <-chan time.Time
	if interval > 0 {
		tick = w.deps.Clock.TickAfter(interval)
	}

	var k uint256.Int
	var fp types.Fingerprints
	for {
		select {
		case <-tick:
			w.report(ctx, events)
			tick = w.deps.Clock.TickAfter(interval)
		default:
		}
		if ctx.Err() != nil {
			return w.finish(types.StateCancelled, events, nil, nil)
		}

		if !w.deps.Source.Next(&k) {
			return w.finish(types.StateExhausted, events, nil, nil)
		}
		w.progress.Checked++
		w.progress.Current = k

		if w.deps.Filter != nil && !w.deps.Filter(&k) {
			w.progress.Filtered++
			continue
		}

		if err := w.deps.Deriver.Derive(&k, &fp); err != nil {
			if errors.Is(err, crypto.ErrInvalidScalar) {
				w.progress.Invalid++
				w.deps.Logger.Debugf("Worker %d: skipping candidate %s: %v", w.id, k.Hex(), err)
				continue
			}
			w.progress.Failures++
			w.deps.Logger.Debugf("Worker %d: derivation failed for %s: %v", w.id, k.Hex(), err)
			w.lastErr = err
			if w.failures.record(true) {
				return w.finish(types.StateFailed, events, nil, w.systemicFailure())
			}
			continue
		}
		// the window may fill up on a success while already over the rate
		if w.failures.record(false) {
			return w.finish(types.StateFailed, events, nil, w.systemicFailure())
		}

		if hit, ok := w.deps.Matcher.Match(&fp); ok {
			m := &types.MatchResult{
				Candidate:         k,
				Target:            hit.Entry.Address,
				MatchedCompressed: hit.Compressed,
				WorkerID:          w.id,
				RangeID:           w.rangeID,
				Found:             w.deps.Clock.Now(),
			}
			return w.finish(types.StateFound, events, m, nil)
		}
	}
}

func (w *Worker) systemicFailure() error {
	return fmt.Errorf("worker %d: %w (%d of last %d derivations, last error: %v)",
		w.id, ErrSystemicFailure, w.failures.failed, len(w.failures.outcomes), w.lastErr)
}

// report sends a progress event unless the search is being cancelled
func (w *Worker) report(ctx context.Context, events chan<- types.Event) {
	ev := types.Event{Kind: types.EventProgress, WorkerID: w.id, Progress: w.snapshot()}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (w *Worker) snapshot() types.ProgressReport {
	p := w.progress
	p.Position = w.deps.Source.Position()
	p.Elapsed = w.deps.Clock.Now().Sub(w.start)
	return p
}

func (w *Worker) finish(state types.WorkerState, events chan<- types.Event, m *types.MatchResult, err error) types.WorkerState {
	w.state.Store(int32(state))
	w.progress.Position = w.deps.Source.Position()
	w.progress.Elapsed = w.deps.Clock.Now().Sub(w.start)

	ev := types.Event{WorkerID: w.id, Progress: w.progress, Match: m, Err: err}
	switch state {
	case types.StateFound:
		ev.Kind = types.EventFound
	case types.StateExhausted:
		ev.Kind = types.EventExhausted
	case types.StateCancelled:
		ev.Kind = types.EventCancelled
	default:
		ev.Kind = types.EventFailed
	}
	// the coordinator drains events until every worker has returned
	events <- ev
	return state
}

// failureWindow tracks the outcome of the most recent derivations
type failureWindow struct {
	outcomes []bool
	next     int
	seen     int
	failed   int
	maxRate  float64
}

func newFailureWindow(size int, maxRate float64) failureWindow {
	if size <= 0 {
		return failureWindow{}
	}
	return failureWindow{outcomes: make([]bool, size), maxRate: maxRate}
}

// record adds an outcome and reports whether the failure rate is exceeded.
// The rate is only judged once the window is full.
func (f *failureWindow) record(failed bool) bool {
	if len(f.outcomes) == 0 {
		return false
	}
	if f.seen == len(f.outcomes) && f.outcomes[f.next] {
		f.failed--
	}
	f.outcomes[f.next] = failed
	if failed {
		f.failed++
	}
	f.next = (f.next + 1) % len(f.outcomes)
	if f.seen < len(f.outcomes) {
		f.seen++
	}
	return f.seen == len(f.outcomes) && float64(f.failed) > f.maxRate*float64(len(f.outcomes))
}
