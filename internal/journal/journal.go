// Package journal records how far each search range got, so that a search
// restarted with the same targets and space resumes where it stopped.
package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/minio/sha256-simd"
	"go.etcd.io/bbolt"

	"github.com/screa/keysearch/pkg/sink"
	"github.com/screa/keysearch/pkg/types"
)

var (
	rangesBucket  = []byte("ranges")
	matchesBucket = []byte("matches")
)

// ErrClosed is returned by operations on a closed journal
var ErrClosed = errors.New("journal is closed")

// Journal is a bbolt database holding per-range positions and found matches,
// namespaced by a session key.
type Journal struct {
	db      *bbolt.DB
	path    string
	session []byte
}

// Record is the stored form of a match
type Record struct {
	Candidate         string    `json:"candidate"`
	Compressed        string    `json:"compressed"`
	Uncompressed      string    `json:"uncompressed"`
	Target            string    `json:"target"`
	MatchedCompressed bool      `json:"matched_compressed"`
	WIF               string    `json:"wif,omitempty"`
	WorkerID          int       `json:"worker_id"`
	RangeID           string    `json:"range_id"`
	Found             time.Time `json:"found"`
}

// SessionKey identifies a search by its targets and space description
func SessionKey(targets []string, space string) string {
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",") + "|" + space))
	return hex.EncodeToString(sum[:8])
}

// Open opens (or creates) the journal at path for the given session
func Open(path, session string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	j := &Journal{db: db, path: path, session: []byte(session)}
	err = db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(j.session)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucketIfNotExists(rangesBucket); err != nil {
			return err
		}
		_, err = root.CreateBucketIfNotExists(matchesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise journal %s: %w", path, err)
	}
	return j, nil
}

// Position returns the saved position of a range, zero if none was saved
func (j *Journal) Position(rangeID string) (uint256.Int, error) {
	var pos uint256.Int
	if j.db == nil {
		return pos, ErrClosed
	}
	err := j.db.View(func(tx *bbolt.Tx) error {
		v := j.bucket(tx, rangesBucket).Get([]byte(rangeID))
		if v != nil {
			pos.SetBytes(v)
		}
		return nil
	})
	return pos, err
}

// SavePosition stores the position of a range. Positions never move back.
func (j *Journal) SavePosition(rangeID string, pos uint256.Int) error {
	if j.db == nil {
		return ErrClosed
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := j.bucket(tx, rangesBucket)
		key := []byte(rangeID)
		if v := b.Get(key); v != nil {
			var prev uint256.Int
			prev.SetBytes(v)
			if !pos.Gt(&prev) {
				return nil
			}
		}
		buf := pos.Bytes32()
		return b.Put(key, buf[:])
	})
}

// Persist implements sink.Sink
func (j *Journal) Persist(m *types.MatchResult) error {
	if j.db == nil {
		return &sink.IOFailure{Path: j.path, Err: ErrClosed}
	}
	rec := Record{
		Candidate:         m.Candidate.Hex(),
		Compressed:        m.Compressed,
		Uncompressed:      m.Uncompressed,
		Target:            m.Target,
		MatchedCompressed: m.MatchedCompressed,
		WIF:               m.WIF,
		WorkerID:          m.WorkerID,
		RangeID:           m.RangeID,
		Found:             m.Found,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &sink.IOFailure{Path: j.path, Err: err}
	}
	err = j.db.Update(func(tx *bbolt.Tx) error {
		b := j.bucket(tx, matchesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], data)
	})
	if err != nil {
		return &sink.IOFailure{Path: j.path, Err: err}
	}
	return nil
}

// Matches returns the recorded matches in insertion order
func (j *Journal) Matches() ([]Record, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	var out []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		return j.bucket(tx, matchesBucket).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Close closes the underlying database
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) bucket(tx *bbolt.Tx, name []byte) *bbolt.Bucket {
	return tx.Bucket(j.session).Bucket(name)
}
