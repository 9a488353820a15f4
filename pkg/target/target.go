// Package target holds the immutable set of addresses a search is looking for.
package target

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/screa/keysearch/pkg/types"
)

// Bloom filter false positive rate; exact matches are confirmed in a map
const falsePositiveRate = 1e-9

// Errors
var (
	ErrNoTargets          = errors.New("no target addresses")
	ErrUnsupportedAddress = errors.New("unsupported address type: only P2PKH and P2WPKH can be searched")
)

// Entry is one target address and the public key hash it commits to
type Entry struct {
	Address string
	Hash160 [20]byte
	// CompressedOnly is set for P2WPKH, which is only defined for compressed keys
	CompressedOnly bool
}

// Set is a read-only collection of targets, safe for concurrent use
type Set struct {
	filter  *bloom.BloomFilter
	entries map[[20]byte]Entry
}

// Hit describes which fingerprint matched which target
type Hit struct {
	Entry      Entry
	Compressed bool
}

// Parse decodes addresses for the given network into a Set
func Parse(addresses []string, params *chaincfg.Params) (*Set, error) {
	entries := make(map[[20]byte]Entry, len(addresses))
	for _, raw := range addresses {
		a := strings.TrimSpace(raw)
		if a == "" {
			continue
		}
		e, err := decode(a, params)
		if err != nil {
			return nil, err
		}
		if prev, ok := entries[e.Hash160]; ok {
			// the same hash behind P2PKH and P2WPKH: the P2PKH entry is less strict
			if !prev.CompressedOnly {
				continue
			}
		}
		entries[e.Hash160] = e
	}
	if len(entries) == 0 {
		return nil, ErrNoTargets
	}

	filter := bloom.NewWithEstimates(uint(len(entries)), falsePositiveRate)
	for h := range entries {
		filter.Add(h[:])
	}
	return &Set{filter: filter, entries: entries}, nil
}

// ReadAddresses reads one address per line from r. Blank lines and lines
// starting with '#' are ignored.
func ReadAddresses(r io.Reader) ([]string, error) {
	var addresses []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	return addresses, nil
}

// Load reads targets from r, see ReadAddresses
func Load(r io.Reader, params *chaincfg.Params) (*Set, error) {
	addresses, err := ReadAddresses(r)
	if err != nil {
		return nil, err
	}
	return Parse(addresses, params)
}

// LoadFile reads targets from a file, see Load
func LoadFile(path string, params *chaincfg.Params) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, params)
}

// Match checks both fingerprints of a candidate against the set
func (s *Set) Match(fp *types.Fingerprints) (Hit, bool) {
	if s.filter.Test(fp.Compressed[:]) {
		if e, ok := s.entries[fp.Compressed]; ok {
			return Hit{Entry: e, Compressed: true}, true
		}
	}
	if s.filter.Test(fp.Uncompressed[:]) {
		if e, ok := s.entries[fp.Uncompressed]; ok && !e.CompressedOnly {
			return Hit{Entry: e, Compressed: false}, true
		}
	}
	return Hit{}, false
}

// Len returns the number of distinct targets
func (s *Set) Len() int {
	return len(s.entries)
}

// Addresses returns the target addresses in sorted order
func (s *Set) Addresses() []string {
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Address)
	}
	sort.Strings(out)
	return out
}

func decode(address string, params *chaincfg.Params) (Entry, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decode address %s: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return Entry{}, fmt.Errorf("address %s is not for network %s", address, params.Name)
	}

	e := Entry{Address: address}
	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		e.Hash160 = *a.Hash160()
	case *btcutil.AddressWitnessPubKeyHash:
		e.Hash160 = *a.Hash160()
		e.CompressedOnly = true
	default:
		return Entry{}, fmt.Errorf("%w: %s (%T)", ErrUnsupportedAddress, address, addr)
	}
	return e, nil
}
