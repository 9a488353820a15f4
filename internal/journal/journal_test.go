package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/screa/keysearch/pkg/sink"
	"github.com/screa/keysearch/pkg/types"
)

func TestPositionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	session := SessionKey([]string{"1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"}, "contiguous 0x1+0xf")

	j, err := Open(path, session)
	require.NoError(t, err)

	pos, err := j.Position("r0")
	require.NoError(t, err)
	require.True(t, pos.IsZero())

	require.NoError(t, j.SavePosition("r0", *uint256.NewInt(42)))
	require.NoError(t, j.SavePosition("r0", *uint256.NewInt(10)), "older positions are ignored")
	require.NoError(t, j.Close())

	j, err = Open(path, session)
	require.NoError(t, err)
	defer j.Close()
	pos, err = j.Position("r0")
	require.NoError(t, err)
	require.Equal(t, uint64(42), pos.Uint64())
}

func TestSessionsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	a, err := Open(path, SessionKey([]string{"a"}, "space"))
	require.NoError(t, err)
	require.NoError(t, a.SavePosition("r0", *uint256.NewInt(5)))
	require.NoError(t, a.Close())

	b, err := Open(path, SessionKey([]string{"b"}, "space"))
	require.NoError(t, err)
	defer b.Close()
	pos, err := b.Position("r0")
	require.NoError(t, err)
	require.True(t, pos.IsZero())
}

func TestSessionKeyIgnoresTargetOrder(t *testing.T) {
	require.Equal(t, SessionKey([]string{"x", "y"}, "s"), SessionKey([]string{"y", "x"}, "s"))
	require.NotEqual(t, SessionKey([]string{"x"}, "s"), SessionKey([]string{"x"}, "t"))
}

func TestPersistMatch(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), "s")
	require.NoError(t, err)
	defer j.Close()

	m := &types.MatchResult{
		Compressed: "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH",
		Target:     "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH",
		WorkerID:   2,
		Found:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	m.Candidate.SetUint64(7)
	require.NoError(t, j.Persist(m))

	recs, err := j.Matches()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "0x7", recs[0].Candidate)
	require.Equal(t, 2, recs[0].WorkerID)
	require.True(t, recs[0].Found.Equal(m.Found))
}

func TestClosedJournal(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), "s")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = j.Position("r0")
	require.ErrorIs(t, err, ErrClosed)

	var ioErr *sink.IOFailure
	require.True(t, errors.As(j.Persist(&types.MatchResult{}), &ioErr))
}
