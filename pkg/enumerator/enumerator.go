// Package enumerator turns search ranges into deterministic candidate sequences.
//
// Every strategy maps a position p to at most one candidate and distinct
// positions never map to the same candidate, so ranges covering disjoint
// position intervals never yield the same candidate. Positions whose
// candidate would leave the 256-bit domain are consumed without yielding.
package enumerator

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/screa/keysearch/pkg/types"
)

// Errors
var (
	ErrUnknownStrategy = errors.New("unknown enumeration strategy")
	ErrRangeOverflow   = errors.New("range exceeds the 256-bit position space")
	ErrEmptyRange      = errors.New("range contains no positions")
)

// Enumerator yields the candidates of one SearchRange in position order.
// It is not safe for concurrent use.
type Enumerator struct {
	r   types.SearchRange
	pos uint256.Int
}

// New creates an enumerator positioned at the start of r
func New(r *types.SearchRange) (*Enumerator, error) {
	if !r.Strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, r.Strategy)
	}
	if r.Strategy == types.StrategyOffsets {
		if !r.To.IsUint64() || r.To.Uint64() > uint64(len(r.Offsets)) {
			return nil, fmt.Errorf("%w: %d offsets, range ends at %s", ErrRangeOverflow, len(r.Offsets), r.To.Hex())
		}
	}
	e := &Enumerator{r: *r}
	e.pos.Set(&r.From)
	return e, nil
}

// Next writes the next candidate into dst. It returns false once the range is exhausted.
func (e *Enumerator) Next(dst *uint256.Int) bool {
	for e.pos.Lt(&e.r.To) {
		ok := At(&e.r, &e.pos, dst)
		e.pos.AddUint64(&e.pos, 1)
		if ok {
			return true
		}
	}
	return false
}

// Skip advances the enumerator by n positions without yielding them
func (e *Enumerator) Skip(n *uint256.Int) {
	next, overflow := new(uint256.Int).AddOverflow(&e.pos, n)
	if overflow || next.Gt(&e.r.To) {
		e.pos.Set(&e.r.To)
		return
	}
	e.pos.Set(next)
}

// Position returns the next position to be consumed
func (e *Enumerator) Position() uint256.Int {
	return e.pos
}

// Remaining returns the number of positions not consumed yet
func (e *Enumerator) Remaining() uint256.Int {
	var n uint256.Int
	if e.r.To.Gt(&e.pos) {
		n.Sub(&e.r.To, &e.pos)
	}
	return n
}

// Range returns the range being enumerated
func (e *Enumerator) Range() *types.SearchRange {
	return &e.r
}

// At maps position pos of range r to a candidate written into dst.
// It returns false when the position has no candidate in the 256-bit domain.
func At(r *types.SearchRange, pos *uint256.Int, dst *uint256.Int) bool {
	switch r.Strategy {
	case types.StrategyContiguous:
		_, overflow := dst.AddOverflow(&r.Base, pos)
		return !overflow

	case types.StrategyShell:
		if pos.IsZero() {
			dst.Set(&r.Base)
			return true
		}
		// radius = ceil(pos/2); odd positions step up, even positions step down
		var radius uint256.Int
		radius.Rsh(pos, 1)
		odd := pos.Uint64()&1 == 1
		if odd {
			radius.AddUint64(&radius, 1)
			_, overflow := dst.AddOverflow(&r.Base, &radius)
			return !overflow
		}
		if radius.Gt(&r.Base) {
			return false
		}
		dst.Sub(&r.Base, &radius)
		return true

	case types.StrategyOffsets:
		if !pos.IsUint64() || pos.Uint64() >= uint64(len(r.Offsets)) {
			return false
		}
		off := &r.Offsets[pos.Uint64()]
		if off.Negative {
			if off.Magnitude.Gt(&r.Base) {
				return false
			}
			dst.Sub(&r.Base, &off.Magnitude)
			return true
		}
		_, overflow := dst.AddOverflow(&r.Base, &off.Magnitude)
		return !overflow
	}
	return false
}
