package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/screa/keysearch/pkg/enumerator"
	"github.com/screa/keysearch/pkg/types"
)

const (
	addrKey1     = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
	addrKey1Full = "1EHNa6Q4Jz2uvNExL497mE43ikXhwF6kZm"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg.Workers <= 0 {
		t.Errorf("Expected positive workers, got %d", cfg.Workers)
	}
	if cfg.LogInterval != 5 {
		t.Errorf("Expected LogInterval 5, got %d", cfg.LogInterval)
	}
	if cfg.Strategy != string(types.StrategyContiguous) {
		t.Errorf("Expected contiguous strategy, got %s", cfg.Strategy)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{
			name:   "valid contiguous",
			modify: func(c *Config) {},
		},
		{
			name:   "no target",
			modify: func(c *Config) { c.Targets = nil },
			want:   ErrNoTargetSpecified,
		},
		{
			name:   "no start",
			modify: func(c *Config) { c.Start = "" },
			want:   ErrNoStartSpecified,
		},
		{
			name:   "end and count",
			modify: func(c *Config) { c.Count = "10" },
			want:   ErrConflictingExtent,
		},
		{
			name:   "no extent",
			modify: func(c *Config) { c.End = "" },
			want:   ErrNoExtentSpecified,
		},
		{
			name: "expanding with chunk",
			modify: func(c *Config) {
				c.End = ""
				c.Expanding = true
				c.Chunk = "1000"
			},
		},
		{
			name: "shell without radius",
			modify: func(c *Config) {
				c.Strategy = "shell"
				c.End = ""
			},
			want: ErrNoExtentSpecified,
		},
		{
			name:   "offsets without offsets",
			modify: func(c *Config) { c.Strategy = "offsets" },
			want:   ErrNoOffsets,
		},
		{
			name:   "unknown strategy",
			modify: func(c *Config) { c.Strategy = "fibonacci" },
			want:   ErrUnknownStrategy,
		},
		{
			name:   "unknown network",
			modify: func(c *Config) { c.Network = "litecoin" },
			want:   ErrUnknownNetwork,
		},
		{
			name:   "puzzle without range file",
			modify: func(c *Config) { c.Puzzle = 66 },
			want:   ErrPuzzleNoRangeFile,
		},
		{
			name:   "no workers",
			modify: func(c *Config) { c.Workers = 0 },
			want:   ErrInvalidWorkers,
		},
		{
			name:   "failure rate above one",
			modify: func(c *Config) { c.MaxFailureRate = 1.5 },
			want:   ErrInvalidRate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Targets = []string{addrKey1}
			cfg.Start = "1"
			cfg.End = "100"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseScalar(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "42", want: 42},
		{in: "0x2a", want: 42},
		{in: " 0X2A ", want: 42},
		{in: "0", want: 0},
		{in: "007", want: 7},
		{in: "0x00ff", want: 255},
		{in: "0x0", want: 0},
		{in: "0x", wantErr: true},
		{in: "12a", wantErr: true},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "0xzz", wantErr: true},
		{in: "0x1" + "0000000000000000000000000000000000000000000000000000000000000000", wantErr: true},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseScalar(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidScalar)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, v.Uint64())
		})
	}

	max, err := ParseScalar("0x" + "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	require.Equal(t, 256, max.BitLen())

	max, err = ParseScalar("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	require.Equal(t, 256, max.BitLen())
}

func TestParseOffset(t *testing.T) {
	o, err := ParseOffset("-0x10")
	require.NoError(t, err)
	require.True(t, o.Negative)
	require.Equal(t, uint64(16), o.Magnitude.Uint64())

	o, err = ParseOffset("+5")
	require.NoError(t, err)
	require.False(t, o.Negative)
	require.Equal(t, uint64(5), o.Magnitude.Uint64())

	_, err = ParseOffset("-")
	require.Error(t, err)
}

func TestNetParams(t *testing.T) {
	tests := map[string]*chaincfg.Params{
		"":         &chaincfg.MainNetParams,
		"mainnet":  &chaincfg.MainNetParams,
		"testnet3": &chaincfg.TestNet3Params,
		"regtest":  &chaincfg.RegressionNetParams,
		"signet":   &chaincfg.SigNetParams,
	}
	for name, want := range tests {
		cfg := NewConfig()
		cfg.Network = name
		got, err := cfg.NetParams()
		require.NoError(t, err)
		require.Same(t, want, got)
	}
}

func TestSpace(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		strategy  types.Strategy
		base      uint64
		size      uint64
		expanding bool
		wantErr   error
	}{
		{
			name:     "inclusive end",
			modify:   func(c *Config) { c.Start, c.End = "1", "15" },
			strategy: types.StrategyContiguous,
			base:     1,
			size:     15,
		},
		{
			name:     "count",
			modify:   func(c *Config) { c.Start, c.Count = "0x10", "8" },
			strategy: types.StrategyContiguous,
			base:     16,
			size:     8,
		},
		{
			name:    "end before start",
			modify:  func(c *Config) { c.Start, c.End = "10", "9" },
			wantErr: ErrEndBeforeStart,
		},
		{
			name:    "whole key space does not fit",
			modify:  func(c *Config) { c.Start, c.End = "0", "0x" + "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff" },
			wantErr: enumerator.ErrRangeOverflow,
		},
		{
			name: "shell radius",
			modify: func(c *Config) {
				c.Strategy = "shell"
				c.Start, c.Radius = "1000", "10"
			},
			strategy: types.StrategyShell,
			base:     1000,
			size:     21,
		},
		{
			name: "expanding chunk",
			modify: func(c *Config) {
				c.Strategy = "shell"
				c.Start, c.Chunk, c.Expanding = "1000", "64", true
			},
			strategy:  types.StrategyShell,
			base:      1000,
			size:      64,
			expanding: true,
		},
		{
			name: "offsets are deduplicated",
			modify: func(c *Config) {
				c.Strategy = "offsets"
				c.Start = "100"
				c.Offsets = []string{"+5", "-3", "5", "0"}
			},
			strategy: types.StrategyOffsets,
			base:     100,
			size:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			s, err := cfg.Space()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.strategy, s.Strategy)
			require.Equal(t, tt.base, s.Base.Uint64())
			require.Equal(t, tt.size, s.Size.Uint64())
			require.Equal(t, tt.expanding, s.Expanding)
		})
	}
}

func TestPuzzleFiles(t *testing.T) {
	ranges := writeFile(t, "ranges.json", `{"ranges": [
		{"min": "0x1", "max": "0x1", "status": 1},
		{"min": "0x2", "max": "0x3", "status": 1},
		{"min": "0x4", "max": "0x7", "status": 0}
	]}`)
	wallets := writeFile(t, "wallets.json", `{"wallets": [
		"`+addrKey1+`",
		"1CUNEBjYrCn2y1SdiUMohaKUi4wpP326Lb",
		"19ZewH8Kk1PDbSNdJ97FP4EiCjTRaZMZQA"
	]}`)

	p, err := LoadPuzzle(ranges, wallets, 3)
	require.NoError(t, err)
	require.Equal(t, "0x4", p.Min)
	require.Equal(t, "0x7", p.Max)
	require.False(t, p.Solved)
	require.Equal(t, "19ZewH8Kk1PDbSNdJ97FP4EiCjTRaZMZQA", p.Wallet)

	_, err = LoadPuzzle(ranges, "", 4)
	require.ErrorIs(t, err, ErrUnknownPuzzle)

	cfg := NewConfig()
	cfg.RangeFile = ranges
	cfg.WalletFile = wallets
	cfg.Puzzle = 1
	require.NoError(t, cfg.Validate())

	s, err := cfg.Space()
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.Base.Uint64())
	require.Equal(t, uint64(1), s.Size.Uint64())

	set, err := cfg.LoadTargets(&chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, []string{addrKey1}, set.Addresses(), "only the puzzle's wallet is targeted")
}

func TestLoadTargets(t *testing.T) {
	file := writeFile(t, "targets.txt", "# puzzle 1\n"+addrKey1Full+"\n\n")

	cfg := NewConfig()
	cfg.Targets = []string{addrKey1}
	cfg.TargetFile = file
	set, err := cfg.LoadTargets(&chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	cfg.TargetFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = cfg.LoadTargets(&chaincfg.MainNetParams)
	require.Error(t, err)
}

func TestGetTargetDescription(t *testing.T) {
	cfg := NewConfig()
	cfg.Targets = []string{addrKey1}
	require.Equal(t, "address "+addrKey1, cfg.GetTargetDescription())

	cfg.TargetFile = "targets.txt"
	require.Equal(t, "1 addresses and file targets.txt", cfg.GetTargetDescription())
}
