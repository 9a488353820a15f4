package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/holiman/uint256"

	"github.com/screa/keysearch/pkg/enumerator"
	"github.com/screa/keysearch/pkg/target"
	"github.com/screa/keysearch/pkg/types"
)

// Errors
var (
	ErrNoTargetSpecified = errors.New("must specify either --target, --target-file, or --wallet-file")
	ErrNoStartSpecified  = errors.New("must specify either --start or --range-file with --puzzle")
	ErrNoExtentSpecified = errors.New("must specify --end or --count (contiguous), --radius (shell), or --chunk with --expanding")
	ErrConflictingExtent = errors.New("--end and --count are mutually exclusive")
	ErrNoOffsets         = errors.New("offsets strategy needs at least one --offset")
	ErrUnknownStrategy   = errors.New("unknown strategy: must be contiguous, shell, or offsets")
	ErrUnknownNetwork    = errors.New("unknown network: must be mainnet, testnet3, regtest, signet, or simnet")
	ErrPuzzleNoRangeFile = errors.New("--puzzle requires --range-file")
	ErrUnknownPuzzle     = errors.New("puzzle not found in range file")
	ErrEndBeforeStart    = errors.New("--end must not be below --start")
	ErrInvalidWorkers    = errors.New("--workers must be positive")
	ErrInvalidRate       = errors.New("--max-failure-rate must be in (0, 1]")
	ErrInvalidScalar     = errors.New("invalid 256-bit number")
)

// Config holds the application configuration
type Config struct {
	Workers    int
	Targets    []string
	TargetFile string
	WalletFile string // JSON {"wallets": [...]}
	Network    string

	Strategy  string
	Start     string
	End       string // inclusive
	Count     string
	Radius    string
	Offsets   []string
	Expanding bool
	Chunk     string
	MaxRounds int

	RangeFile string // JSON {"ranges": [{"min", "max", "status"}]}
	Puzzle    int    // 1-based index into the range and wallet files

	Checkpoint string
	Journal    string

	Verbose        bool
	LogFile        string
	LogInterval    int // Logging interval in seconds
	StopTimeout    int // Seconds to wait for workers after a match or interrupt
	FailureWindow  int
	MaxFailureRate float64
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:        runtime.NumCPU(),
		Network:        "mainnet",
		Strategy:       string(types.StrategyContiguous),
		Checkpoint:     "found.txt",
		LogInterval:    5,
		StopTimeout:    5,
		FailureWindow:  1024,
		MaxFailureRate: 0.5,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Targets) == 0 && c.TargetFile == "" && c.WalletFile == "" {
		return ErrNoTargetSpecified
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxFailureRate <= 0 || c.MaxFailureRate > 1 {
		return ErrInvalidRate
	}
	if _, err := c.NetParams(); err != nil {
		return err
	}
	if c.Puzzle > 0 && c.RangeFile == "" {
		return ErrPuzzleNoRangeFile
	}
	if c.Start == "" && c.Puzzle == 0 {
		return ErrNoStartSpecified
	}
	if c.End != "" && c.Count != "" {
		return ErrConflictingExtent
	}

	switch types.Strategy(c.Strategy) {
	case types.StrategyContiguous:
		if c.End == "" && c.Count == "" && c.Puzzle == 0 && !(c.Expanding && c.Chunk != "") {
			return ErrNoExtentSpecified
		}
	case types.StrategyShell:
		if c.Radius == "" && !(c.Expanding && c.Chunk != "") {
			return ErrNoExtentSpecified
		}
	case types.StrategyOffsets:
		if len(c.Offsets) == 0 {
			return ErrNoOffsets
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
	return nil
}

// NetParams returns the chain parameters of the configured network
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch strings.ToLower(c.Network) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, c.Network)
}

// Space builds the candidate space described by the configuration
func (c *Config) Space() (*enumerator.Space, error) {
	start, end := c.Start, c.End
	if c.Puzzle > 0 {
		p, err := LoadPuzzle(c.RangeFile, c.WalletFile, c.Puzzle)
		if err != nil {
			return nil, err
		}
		if start == "" {
			start = p.Min
		}
		if end == "" && c.Count == "" {
			end = p.Max
		}
	}

	s := &enumerator.Space{
		Strategy:  types.Strategy(c.Strategy),
		Expanding: c.Expanding,
		MaxRounds: c.MaxRounds,
	}
	base, err := ParseScalar(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	s.Base = *base

	switch {
	case s.Strategy == types.StrategyOffsets:
		for _, raw := range c.Offsets {
			o, err := ParseOffset(raw)
			if err != nil {
				return nil, fmt.Errorf("offset %q: %w", raw, err)
			}
			s.Offsets = append(s.Offsets, o)
		}

	case c.Expanding && c.Chunk != "":
		chunk, err := ParseScalar(c.Chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk: %w", err)
		}
		s.Size = *chunk

	case s.Strategy == types.StrategyShell:
		radius, err := ParseScalar(c.Radius)
		if err != nil {
			return nil, fmt.Errorf("radius: %w", err)
		}
		// positions 0..2r cover Base-r..Base+r
		var size uint256.Int
		if _, overflow := size.MulOverflow(radius, uint256.NewInt(2)); overflow {
			return nil, fmt.Errorf("radius: %w", enumerator.ErrRangeOverflow)
		}
		if _, overflow := size.AddOverflow(&size, uint256.NewInt(1)); overflow {
			return nil, fmt.Errorf("radius: %w", enumerator.ErrRangeOverflow)
		}
		s.Size = size

	case c.Count != "":
		count, err := ParseScalar(c.Count)
		if err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
		s.Size = *count

	default:
		last, err := ParseScalar(end)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		if last.Lt(base) {
			return nil, ErrEndBeforeStart
		}
		var size uint256.Int
		size.Sub(last, base)
		if _, overflow := size.AddOverflow(&size, uint256.NewInt(1)); overflow {
			return nil, fmt.Errorf("end: %w", enumerator.ErrRangeOverflow)
		}
		s.Size = size
	}

	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadTargets collects the targets from flags, the target file, and the wallet file
func (c *Config) LoadTargets(params *chaincfg.Params) (*target.Set, error) {
	addresses := append([]string(nil), c.Targets...)

	if c.TargetFile != "" {
		f, err := os.Open(c.TargetFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		lines, err := target.ReadAddresses(f)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, lines...)
	}

	if c.WalletFile != "" {
		wallets, err := loadWallets(c.WalletFile)
		if err != nil {
			return nil, err
		}
		if c.Puzzle > 0 {
			if c.Puzzle > len(wallets) {
				return nil, fmt.Errorf("%w: wallet %d of %d", ErrUnknownPuzzle, c.Puzzle, len(wallets))
			}
			wallets = wallets[c.Puzzle-1 : c.Puzzle]
		}
		addresses = append(addresses, wallets...)
	}

	return target.Parse(addresses, params)
}

// StopTimeoutDuration returns the stop timeout as a duration
func (c *Config) StopTimeoutDuration() time.Duration {
	return time.Duration(c.StopTimeout) * time.Second
}

// LogIntervalDuration returns the logging interval as a duration
func (c *Config) LogIntervalDuration() time.Duration {
	return time.Duration(c.LogInterval) * time.Second
}

// WorkerConfig returns the per-worker settings
func (c *Config) WorkerConfig() types.WorkerConfig {
	return types.WorkerConfig{
		ProgressInterval: c.LogIntervalDuration(),
		FailureWindow:    c.FailureWindow,
		MaxFailureRate:   c.MaxFailureRate,
	}
}

// GetTargetDescription returns a human-readable description of the targets
func (c *Config) GetTargetDescription() string {
	switch n := len(c.Targets); {
	case n == 1 && c.TargetFile == "" && c.WalletFile == "":
		return "address " + c.Targets[0]
	case c.Puzzle > 0 && c.WalletFile != "":
		return fmt.Sprintf("puzzle #%d from %s", c.Puzzle, c.WalletFile)
	case c.TargetFile != "":
		return fmt.Sprintf("%d addresses and file %s", n, c.TargetFile)
	case c.WalletFile != "":
		return fmt.Sprintf("%d addresses and wallets from %s", n, c.WalletFile)
	default:
		return fmt.Sprintf("%d addresses", n)
	}
}

// ParseScalar parses a decimal or 0x-prefixed hexadecimal 256-bit number.
// Leading zeros are accepted in both forms.
func ParseScalar(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidScalar)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidScalar, s)
	}

	v := new(uint256.Int)
	var err error
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		// uint256 rejects leading zeros in hex
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" && len(s) > 2 {
			digits = "0"
		}
		err = v.SetFromHex("0x" + digits)
	} else {
		digits := strings.TrimLeft(s, "0")
		if digits == "" {
			digits = "0"
		}
		err = v.SetFromDecimal(digits)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidScalar, s, err)
	}
	return v, nil
}

// ParseOffset parses a signed offset such as "+5", "-0x10" or "7"
func ParseOffset(s string) (types.Offset, error) {
	var o types.Offset
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "-"):
		o.Negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	m, err := ParseScalar(s)
	if err != nil {
		return o, err
	}
	o.Magnitude = *m
	return o, nil
}

// Puzzle is one entry of a range file
type Puzzle struct {
	Min    string
	Max    string
	Solved bool
	Wallet string // empty without a wallet file
}

type rangeData struct {
	Ranges []struct {
		Min    string `json:"min"`
		Max    string `json:"max"`
		Status int    `json:"status"`
	} `json:"ranges"`
}

type walletData struct {
	Wallets []string `json:"wallets"`
}

// LoadPuzzle reads the n-th (1-based) range of rangeFile and, when walletFile
// is set, the matching wallet address
func LoadPuzzle(rangeFile, walletFile string, n int) (*Puzzle, error) {
	var data rangeData
	if err := readJSON(rangeFile, &data); err != nil {
		return nil, err
	}
	if n < 1 || n > len(data.Ranges) {
		return nil, fmt.Errorf("%w: range %d of %d", ErrUnknownPuzzle, n, len(data.Ranges))
	}
	r := data.Ranges[n-1]
	p := &Puzzle{Min: r.Min, Max: r.Max, Solved: r.Status != 0}

	if walletFile != "" {
		wallets, err := loadWallets(walletFile)
		if err != nil {
			return nil, err
		}
		if n > len(wallets) {
			return nil, fmt.Errorf("%w: wallet %d of %d", ErrUnknownPuzzle, n, len(wallets))
		}
		p.Wallet = wallets[n-1]
	}
	return p, nil
}

func loadWallets(path string) ([]string, error) {
	var data walletData
	if err := readJSON(path, &data); err != nil {
		return nil, err
	}
	return data.Wallets, nil
}

func readJSON(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
