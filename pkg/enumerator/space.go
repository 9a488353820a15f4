package enumerator

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/minio/sha256-simd"

	"github.com/screa/keysearch/pkg/types"
)

// Space describes the whole candidate space of a search session.
//
// A bounded space covers positions [0, Size). An expanding space covers
// successive windows [0, Size), [Size, 3*Size), [3*Size, 7*Size), ...,
// doubling the window each round, until MaxRounds (0 = no limit).
type Space struct {
	Strategy  types.Strategy
	Base      uint256.Int
	Size      uint256.Int
	Offsets   []types.Offset
	Expanding bool
	MaxRounds int

	digest string
}

// Normalize validates the space and prepares it for partitioning.
// Offsets are sorted and de-duplicated so that no candidate repeats.
func (s *Space) Normalize() error {
	if !s.Strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, s.Strategy)
	}
	if s.Strategy == types.StrategyOffsets {
		if s.Expanding {
			return fmt.Errorf("offsets strategy cannot expand")
		}
		s.Offsets = dedupeOffsets(s.Offsets)
		s.Size.SetUint64(uint64(len(s.Offsets)))
		s.digest = offsetsDigest(s.Offsets)
	}
	if s.Size.IsZero() {
		return ErrEmptyRange
	}
	if s.MaxRounds < 0 {
		return fmt.Errorf("max rounds must not be negative")
	}
	return nil
}

// Window returns the position interval searched in the given 1-based round.
// ok is false once the window would start beyond the position space, or
// after the last round of a bounded space.
func (s *Space) Window(round int) (from, to uint256.Int, ok bool) {
	if round < 1 {
		return from, to, false
	}
	if !s.Expanding {
		if round > 1 {
			return from, to, false
		}
		return from, s.Size, true
	}
	if s.MaxRounds > 0 && round > s.MaxRounds {
		return from, to, false
	}

	// from = Size * (2^(round-1) - 1), to = Size * (2^round - 1)
	start, overflow := scaledMersenne(&s.Size, round-1)
	if overflow {
		return from, to, false
	}
	end, overflow := scaledMersenne(&s.Size, round)
	if overflow {
		end = new(uint256.Int).SetAllOne()
	}
	if !end.Gt(start) {
		return from, to, false
	}
	return *start, *end, true
}

// Partition splits positions [from, to) into at most n disjoint, non-empty
// ranges. The last range absorbs the remainder.
func (s *Space) Partition(from, to uint256.Int, n int) []types.SearchRange {
	if n < 1 {
		n = 1
	}
	if !to.Gt(&from) {
		return nil
	}
	var size uint256.Int
	size.Sub(&to, &from)
	if size.IsUint64() && size.Uint64() < uint64(n) {
		n = int(size.Uint64())
	}

	var chunk uint256.Int
	chunk.Div(&size, uint256.NewInt(uint64(n)))

	ranges := make([]types.SearchRange, 0, n)
	lo := from
	for i := 0; i < n; i++ {
		var hi uint256.Int
		if i == n-1 {
			hi = to
		} else {
			hi.Add(&lo, &chunk)
		}
		ranges = append(ranges, s.rangeOf(lo, hi))
		lo = hi
	}
	return ranges
}

// rangeOf builds the range for positions [from, to)
func (s *Space) rangeOf(from, to uint256.Int) types.SearchRange {
	r := types.SearchRange{
		Strategy: s.Strategy,
		Base:     s.Base,
		From:     from,
		To:       to,
		Offsets:  s.Offsets,
	}
	r.ID = fmt.Sprintf("%s:%s:%s-%s", s.Strategy, s.Base.Hex(), from.Hex(), to.Hex())
	if s.digest != "" {
		r.ID += ":" + s.digest
	}
	return r
}

func (s *Space) String() string {
	mode := "bounded"
	if s.Expanding {
		mode = "expanding"
	}
	desc := fmt.Sprintf("%s %s from %s, %s positions", mode, s.Strategy, s.Base.Hex(), s.Size.Dec())
	if s.digest != "" {
		desc += " (offsets " + s.digest + ")"
	}
	return desc
}

// scaledMersenne returns size * (2^k - 1)
func scaledMersenne(size *uint256.Int, k int) (*uint256.Int, bool) {
	if k == 0 {
		return new(uint256.Int), false
	}
	if k > 256 {
		return nil, true
	}
	var m uint256.Int
	if k == 256 {
		m.SetAllOne()
	} else {
		m.Lsh(uint256.NewInt(1), uint(k))
		m.SubUint64(&m, 1)
	}
	return new(uint256.Int).MulOverflow(size, &m)
}

func dedupeOffsets(in []types.Offset) []types.Offset {
	out := make([]types.Offset, 0, len(in))
	for _, o := range in {
		if o.Magnitude.IsZero() {
			o.Negative = false
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return offsetLess(&out[i], &out[j]) })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Negative == out[i].Negative && out[n-1].Magnitude.Eq(&out[i].Magnitude) {
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// offsetLess orders offsets numerically
func offsetLess(a, b *types.Offset) bool {
	switch {
	case a.Negative && !b.Negative:
		return true
	case !a.Negative && b.Negative:
		return false
	case a.Negative:
		return a.Magnitude.Gt(&b.Magnitude)
	default:
		return a.Magnitude.Lt(&b.Magnitude)
	}
}

func offsetsDigest(offsets []types.Offset) string {
	h := sha256.New()
	for _, o := range offsets {
		sign := byte(0)
		if o.Negative {
			sign = 1
		}
		b := o.Magnitude.Bytes32()
		h.Write([]byte{sign})
		h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil)[:4])
}
