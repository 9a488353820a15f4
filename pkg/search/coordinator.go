package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/dustin/go-humanize"
	"github.com/holiman/uint256"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/screa/keysearch/internal/crypto"
	"github.com/screa/keysearch/internal/logger"
	"github.com/screa/keysearch/pkg/enumerator"
	"github.com/screa/keysearch/pkg/sink"
	"github.com/screa/keysearch/pkg/target"
	"github.com/screa/keysearch/pkg/types"
	"github.com/screa/keysearch/pkg/worker"
)

// Errors
var (
	ErrNoTargets = errors.New("session has no targets")
	ErrNoSpace   = errors.New("session has no search space")
)

// Journal remembers how far each range got
type Journal interface {
	Position(rangeID string) (uint256.Int, error)
	SavePosition(rangeID string, pos uint256.Int) error
}

// Session holds what the workers of one search share. Nothing in it is
// mutated once the search runs.
type Session struct {
	Targets *target.Set
	Space   *enumerator.Space
	Params  *chaincfg.Params
	// Filter is an optional candidate predicate; nil searches exhaustively
	Filter worker.Filter
	// NewDeriver creates one deriver per worker; defaults to crypto.NewDeriver
	NewDeriver func() worker.Deriver
	Sink       sink.Sink // optional
	Journal    Journal   // optional
	Clock      clock.Clock
}

// Options tune the coordinator
type Options struct {
	Workers     int
	LogInterval time.Duration
	StopTimeout time.Duration
	Worker      types.WorkerConfig
}

// Coordinator partitions the search space across workers and supervises them
type Coordinator struct {
	session *Session
	opts    Options
	logger  *logger.Logger
	clock   clock.Clock

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// New creates a new coordinator instance
func New(session *Session, opts Options, log *logger.Logger) (*Coordinator, error) {
	if session.Targets == nil || session.Targets.Len() == 0 {
		return nil, ErrNoTargets
	}
	if session.Space == nil {
		return nil, ErrNoSpace
	}
	if err := session.Space.Normalize(); err != nil {
		return nil, err
	}
	if session.Params == nil {
		session.Params = &chaincfg.MainNetParams
	}
	if session.NewDeriver == nil {
		params := session.Params
		session.NewDeriver = func() worker.Deriver { return crypto.NewDeriver(params) }
	}
	if session.Clock == nil {
		session.Clock = clock.NewDefaultClock()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.New()
	}
	return &Coordinator{
		session: session,
		opts:    opts,
		logger:  log,
		clock:   session.Clock,
	}, nil
}

// Stop cancels the search. It is safe to call more than once and from any goroutine.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
}

// Run searches until the first match, the end of the space, or cancellation.
// A non-nil error means the session failed (e.g. systemic derivation failure).
func (c *Coordinator) Run(ctx context.Context) (*types.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	if c.stopped {
		cancel()
	}
	c.mu.Unlock()

	start := c.clock.Now()
	out := &types.Outcome{Status: types.StatusNotFound}
	space := c.session.Space

	for round := 1; ; round++ {
		from, to, ok := space.Window(round)
		if !ok {
			break
		}
		out.Rounds = round
		if space.Expanding {
			c.logger.Printf("Round %d: positions [%s, %s)", round, from.Dec(), to.Dec())
		}

		res := c.runRound(ctx, start, out.Checked, from, to)
		out.Checked += res.checked
		if res.err != nil {
			out.Duration = c.clock.Now().Sub(start)
			return out, res.err
		}
		if res.status != types.StatusNotFound {
			out.Status = res.status
			out.Match = res.match
			out.PersistErr = res.persistErr
			break
		}
	}

	out.Duration = c.clock.Now().Sub(start)
	return out, nil
}

type roundResult struct {
	status     types.Status
	match      *types.MatchResult
	persistErr error
	checked    uint64
	err        error
}

// tracker follows one worker of a round
type tracker struct {
	r    types.SearchRange
	last types.ProgressReport
	done bool
}

func (c *Coordinator) runRound(ctx context.Context, start time.Time, before uint64, from, to uint256.Int) roundResult {
	ranges := c.session.Space.Partition(from, to, c.opts.Workers)

	roundCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	events := make(chan types.Event, 4*len(ranges)+1)
	trackers := make(map[int]*tracker, len(ranges))
	var wg sync.WaitGroup

	for i := range ranges {
		r := ranges[i]
		src, err := enumerator.New(&r)
		if err != nil {
			stopWorkers()
			wg.Wait()
			return roundResult{err: err}
		}
		c.resume(src)
		if rem := src.Remaining(); rem.IsZero() {
			c.logger.Debugf("Range %s already searched, skipping", r.ID)
			continue
		}

		w := worker.NewWorker(i, r.ID, &c.opts.Worker, worker.Deps{
			Source:  src,
			Deriver: c.session.NewDeriver(),
			Matcher: c.session.Targets,
			Filter:  c.session.Filter,
			Clock:   c.clock,
			Logger:  c.logger,
		})
		trackers[i] = &tracker{r: r}
		c.logger.Debugf("Worker %d: %s", i, r.String())

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(roundCtx, events)
		}()
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	var res roundResult
	var logTick, deadline <-chan time.Time
	if c.opts.LogInterval > 0 {
		logTick = c.clock.TickAfter(c.opts.LogInterval)
	}
	parentDone := ctx.Done()
	stopping := false

	// stop cancels the remaining workers and bounds the wait for them
	stop := func() {
		if stopping {
			return
		}
		stopping = true
		stopWorkers()
		deadline = c.clock.TickAfter(c.opts.StopTimeout)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				res.checked = sumChecked(trackers)
				return res
			}
			t := trackers[ev.WorkerID]
			t.last = ev.Progress

			switch ev.Kind {
			case types.EventProgress:
				c.savePosition(t.r.ID, ev.Progress.Position)

			case types.EventFound:
				t.done = true
				c.savePosition(t.r.ID, ev.Progress.Position)
				if res.match != nil {
					c.logger.Debugf("Worker %d: ignoring later match %s", ev.WorkerID, ev.Match.Candidate.Hex())
					continue
				}
				stop()
				res.status = types.StatusFound
				res.match = ev.Match
				res.err = nil
				res.persistErr = c.report(ev.Match)

			case types.EventExhausted:
				t.done = true
				c.savePosition(t.r.ID, t.r.To)
				c.logger.Debugf("Worker %d: range exhausted after %s candidates", ev.WorkerID, humanize.Comma(int64(ev.Progress.Checked)))

			case types.EventCancelled:
				t.done = true
				c.savePosition(t.r.ID, ev.Progress.Position)
				// workers are only cancelled internally after a match or failure
				if res.match == nil && res.err == nil {
					res.status = types.StatusCancelled
				}

			case types.EventFailed:
				t.done = true
				c.logger.Errorf("Worker %d: %v", ev.WorkerID, ev.Err)
				if res.err == nil && res.match == nil {
					res.err = ev.Err
				}
				stop()
			}

		case <-logTick:
			c.logProgress(start, before, trackers)
			logTick = c.clock.TickAfter(c.opts.LogInterval)

		case <-parentDone:
			parentDone = nil
			if res.match == nil && res.err == nil {
				res.status = types.StatusCancelled
			}
			stop()

		case <-deadline:
			c.logger.Warnf("Workers did not stop within %v", c.opts.StopTimeout)
			go func() {
				for range events {
				}
			}()
			res.checked = sumChecked(trackers)
			return res
		}
	}
}

// report surfaces a match on the console first and only then persists it,
// so a persistence failure never hides the match.
func (c *Coordinator) report(m *types.MatchResult) error {
	d := crypto.NewDeriver(c.session.Params)
	compressed, uncompressed, err := d.Addresses(&m.Candidate)
	if err != nil {
		c.logger.Errorf("Failed to render addresses for %s: %v", m.Candidate.Hex(), err)
	}
	m.Compressed = compressed
	m.Uncompressed = uncompressed
	if m.WIF, err = d.WIF(&m.Candidate, m.MatchedCompressed); err != nil {
		c.logger.Errorf("Failed to render WIF for %s: %v", m.Candidate.Hex(), err)
	}

	c.logger.Found("Worker %d found private key 0x%064x for %s", m.WorkerID, m.Candidate.ToBig(), m.Target)

	if c.session.Sink == nil {
		return nil
	}
	if err := c.session.Sink.Persist(m); err != nil {
		c.logger.Errorf("%v", err)
		return err
	}
	return nil
}

func (c *Coordinator) resume(src *enumerator.Enumerator) {
	if c.session.Journal == nil {
		return
	}
	r := src.Range()
	pos, err := c.session.Journal.Position(r.ID)
	if err != nil {
		c.logger.Warnf("Failed to read journal for %s: %v", r.ID, err)
		return
	}
	if !pos.Gt(&r.From) {
		return
	}
	var delta uint256.Int
	delta.Sub(&pos, &r.From)
	src.Skip(&delta)
	c.logger.Printf("Resuming %s at position %s", r.ID, pos.Dec())
}

func (c *Coordinator) savePosition(rangeID string, pos uint256.Int) {
	if c.session.Journal == nil {
		return
	}
	if err := c.session.Journal.SavePosition(rangeID, pos); err != nil {
		c.logger.Warnf("Failed to journal position of %s: %v", rangeID, err)
	}
}

// logProgress logs aggregated progress at regular intervals
func (c *Coordinator) logProgress(start time.Time, before uint64, trackers map[int]*tracker) {
	checked := before + sumChecked(trackers)
	elapsed := c.clock.Now().Sub(start)

	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(checked) / elapsed.Seconds()
	}

	running := 0
	for _, t := range trackers {
		if !t.done {
			running++
		}
	}
	c.logger.Printf("Progress: %s keys, %s, %d/%d workers running",
		humanize.Comma(int64(checked)), humanize.SIWithDigits(rate, 2, "keys/s"), running, len(trackers))

	if c.logger.Verbose() {
		for id, t := range trackers {
			c.logger.Printf("  worker %d: current %s, %s checked, %d invalid",
				id, t.last.Current.Hex(), humanize.Comma(int64(t.last.Checked)), t.last.Invalid)
		}
	}
}

func sumChecked(trackers map[int]*tracker) uint64 {
	var n uint64
	for _, t := range trackers {
		n += t.last.Checked
	}
	return n
}

func (c *Coordinator) String() string {
	return fmt.Sprintf("%s over %d workers", c.session.Space, c.opts.Workers)
}
