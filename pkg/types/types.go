package types

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Strategy names a candidate enumeration policy
type Strategy string

const (
	// StrategyContiguous walks Base, Base+1, Base+2, ...
	StrategyContiguous Strategy = "contiguous"
	// StrategyShell walks Base, Base+1, Base-1, Base+2, Base-2, ...
	StrategyShell Strategy = "shell"
	// StrategyOffsets walks Base+Offsets[0], Base+Offsets[1], ...
	StrategyOffsets Strategy = "offsets"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyContiguous, StrategyShell, StrategyOffsets:
		return true
	}
	return false
}

// Fingerprints holds the HASH160 of both public key encodings of a candidate.
// Base58Check addresses are only rendered from these when a match is reported.
type Fingerprints struct {
	Compressed   [20]byte
	Uncompressed [20]byte
}

// SearchRange is the slice of a strategy's position space owned by one worker.
// Positions [From, To) are mapped to candidates by Strategy relative to Base.
type SearchRange struct {
	ID       string
	Strategy Strategy
	Base     uint256.Int
	From     uint256.Int
	To       uint256.Int
	Offsets  []Offset // only for StrategyOffsets
}

// Size returns the number of positions in the range
func (r *SearchRange) Size() uint256.Int {
	var n uint256.Int
	if r.To.Gt(&r.From) {
		n.Sub(&r.To, &r.From)
	}
	return n
}

func (r *SearchRange) String() string {
	return fmt.Sprintf("%s base=%s positions=[%s,%s)", r.Strategy, r.Base.Hex(), r.From.Hex(), r.To.Hex())
}

// Offset is a signed distance from a base candidate
type Offset struct {
	Negative  bool
	Magnitude uint256.Int
}

// WorkerConfig contains configuration for individual workers
type WorkerConfig struct {
	ProgressInterval time.Duration // 0 disables periodic progress events
	FailureWindow    int           // recent derivations considered for the failure rate, 0 disables
	MaxFailureRate   float64       // fraction of failures in a full window that stops the worker
}

// WorkerState is a state of the worker state machine
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateRunning
	StateFound
	StateExhausted
	StateCancelled
	StateFailed
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFound:
		return "found"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible
func (s WorkerState) Terminal() bool {
	return s >= StateFound
}

// ProgressReport is a periodic, never persisted snapshot of one worker
type ProgressReport struct {
	WorkerID int
	RangeID  string
	Current  uint256.Int // last candidate pulled
	Position uint256.Int // next position to be consumed in the range
	Checked  uint64      // candidates pulled from the enumerator
	Invalid  uint64      // skipped because outside [1, N-1]
	Filtered uint64      // rejected by the candidate filter
	Failures uint64      // derivation failures
	Elapsed  time.Duration
}

// MatchResult is produced at most once per search session
type MatchResult struct {
	Candidate         uint256.Int
	Compressed        string // P2PKH address of the compressed public key
	Uncompressed      string // P2PKH address of the uncompressed public key
	Target            string // the target address that matched
	MatchedCompressed bool
	WIF               string
	WorkerID          int
	RangeID           string
	Found             time.Time
}

// EventKind distinguishes worker events on the coordinator channel
type EventKind int

const (
	EventProgress EventKind = iota
	EventFound
	EventExhausted
	EventCancelled
	EventFailed
)

// Event is sent by workers to the coordinator. Terminal events always carry
// the final progress of the worker.
type Event struct {
	Kind     EventKind
	WorkerID int
	Progress ProgressReport
	Match    *MatchResult
	Err      error
}

// Status is the outcome of a search session
type Status int

const (
	StatusNotFound Status = iota
	StatusFound
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusCancelled:
		return "cancelled"
	}
	return "not found"
}

// Outcome summarises a finished search session
type Outcome struct {
	Status     Status
	Match      *MatchResult
	Checked    uint64
	Rounds     int
	Duration   time.Duration
	PersistErr error // the match is still reported when persisting it failed
}

// Rate returns candidates per second over the session
func (o *Outcome) Rate() float64 {
	if o.Duration.Seconds() <= 0 {
		return 0
	}
	return float64(o.Checked) / o.Duration.Seconds()
}
