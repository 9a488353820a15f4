package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/screa/keysearch/internal/config"
	"github.com/screa/keysearch/internal/journal"
	logpkg "github.com/screa/keysearch/internal/logger"
	"github.com/screa/keysearch/pkg/search"
	"github.com/screa/keysearch/pkg/sink"
	"github.com/screa/keysearch/pkg/types"
)

// Exit codes
const (
	exitFound       = 0
	exitError       = 1
	exitNotFound    = 2
	exitInterrupted = 3
)

var (
	cfg      = config.NewConfig()
	logger   *logpkg.Logger
	exitCode = exitError
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "keysearch",
		Short: "Parallel, resumable private key range search",
		Long: `A command line utility that searches a range of secp256k1 private keys
for the ones behind known Bitcoin addresses. Both compressed and uncompressed
public keys are checked, and the first match is written to a checkpoint file.

Exit status: 0 when a key was found, 2 when the space was exhausted,
3 when interrupted, 1 on error.`,
		Example: `  keysearch --target 1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH --start 1 --end 0xffff
  keysearch --target-file targets.txt --strategy shell --start 0x8000 --radius 4096
  keysearch --range-file ranges.json --wallet-file wallets.json --puzzle 20 --journal search.db`,
		SilenceUsage: true,
		Run:          runSearch,
	}

	flags := rootCmd.Flags()
	flags.IntVarP(&cfg.Workers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines")
	flags.StringSliceVarP(&cfg.Targets, "target", "t", nil, "Target address (repeatable, P2PKH or P2WPKH)")
	flags.StringVarP(&cfg.TargetFile, "target-file", "T", "", "File with one target address per line")
	flags.StringVar(&cfg.WalletFile, "wallet-file", "", "JSON wallets file ({\"wallets\": [...]})")
	flags.StringVarP(&cfg.Network, "network", "n", cfg.Network, "Network: mainnet, testnet3, regtest, signet, simnet")
	flags.StringVarP(&cfg.Strategy, "strategy", "S", cfg.Strategy, "Enumeration strategy: contiguous, shell, offsets")
	flags.StringVarP(&cfg.Start, "start", "s", "", "First key (contiguous) or center key (shell, offsets), decimal or 0x hex")
	flags.StringVarP(&cfg.End, "end", "e", "", "Last key to search, inclusive (contiguous)")
	flags.StringVarP(&cfg.Count, "count", "c", "", "Number of keys to search (contiguous)")
	flags.StringVarP(&cfg.Radius, "radius", "r", "", "Search radius around --start (shell)")
	flags.StringSliceVarP(&cfg.Offsets, "offset", "o", nil, "Signed offset from --start, e.g. +5 or -0x10 (offsets, repeatable)")
	flags.BoolVarP(&cfg.Expanding, "expanding", "x", false, "Keep searching in doubling windows until a match is found")
	flags.StringVar(&cfg.Chunk, "chunk", "", "Size of the first window in expanding mode")
	flags.IntVar(&cfg.MaxRounds, "max-rounds", 0, "Maximum number of expanding rounds (0 = unlimited)")
	flags.StringVar(&cfg.RangeFile, "range-file", "", "JSON ranges file ({\"ranges\": [{\"min\", \"max\", \"status\"}]})")
	flags.IntVarP(&cfg.Puzzle, "puzzle", "P", 0, "Search the n-th range (and wallet) of the range file")
	flags.StringVarP(&cfg.Checkpoint, "checkpoint", "k", cfg.Checkpoint, "File the found key is appended to (empty disables)")
	flags.StringVarP(&cfg.Journal, "journal", "j", "", "Resume journal; a restarted search with the same targets, space and workers continues where it stopped")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	flags.StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file for progress tracking (default: stdout)")
	flags.IntVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Logging interval in seconds")
	flags.IntVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Seconds to wait for workers to stop")
	flags.IntVar(&cfg.FailureWindow, "failure-window", cfg.FailureWindow, "Derivations considered when judging the failure rate")
	flags.Float64Var(&cfg.MaxFailureRate, "max-failure-rate", cfg.MaxFailureRate, "Failure rate within the window that aborts the search")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitCode)
}

func runSearch(cmd *cobra.Command, args []string) {
	exitCode = run()
}

// run runs one search session and returns the exit code
func run() int {
	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return exitError
	}

	// Setup logging
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return exitError
	}
	defer logger.Close()

	params, err := cfg.NetParams()
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	targets, err := cfg.LoadTargets(params)
	if err != nil {
		logger.Errorf("Loading targets: %v", err)
		return exitError
	}
	space, err := cfg.Space()
	if err != nil {
		logger.Errorf("Search space: %v", err)
		return exitError
	}
	if cfg.Puzzle > 0 {
		if p, err := config.LoadPuzzle(cfg.RangeFile, "", cfg.Puzzle); err == nil && p.Solved {
			logger.Warnf("Puzzle #%d is marked as solved in %s", cfg.Puzzle, cfg.RangeFile)
		}
	}

	logger.Printf("Starting key search with %d workers on %s...", cfg.Workers, params.Name)
	logger.Printf("Target: %s (%d distinct)", cfg.GetTargetDescription(), targets.Len())
	logger.Printf("Space: %s", space)
	if space.Size.IsUint64() {
		logger.Printf("Keys per round: %s", humanize.Comma(int64(space.Size.Uint64())))
	}

	session := &search.Session{
		Targets: targets,
		Space:   space,
		Params:  params,
	}

	var sinks []sink.Sink
	if cfg.Checkpoint != "" {
		sinks = append(sinks, sink.NewFileSink(cfg.Checkpoint))
		logger.Printf("Checkpoint file: %s", cfg.Checkpoint)
	}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, journal.SessionKey(targets.Addresses(), space.String()))
		if err != nil {
			logger.Errorf("Opening journal: %v", err)
			return exitError
		}
		defer j.Close()
		session.Journal = j
		sinks = append(sinks, j)
		logger.Printf("Journal: %s", cfg.Journal)
	}
	if len(sinks) > 0 {
		session.Sink = sink.Multi(sinks...)
	}

	coordinator, err := search.New(session, search.Options{
		Workers:     cfg.Workers,
		LogInterval: cfg.LogIntervalDuration(),
		StopTimeout: cfg.StopTimeoutDuration(),
		Worker:      cfg.WorkerConfig(),
	}, logger)
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; ok {
			logger.Println("Received interrupt signal (Ctrl+C). Stopping workers...")
			coordinator.Stop()
		}
	}()

	outcome, err := coordinator.Run(context.Background())
	if err != nil {
		logger.Errorf("Search failed: %v", err)
		return exitError
	}

	switch outcome.Status {
	case types.StatusFound:
		m := outcome.Match
		logger.Found("🎉 Found match!")
		logger.Printf("Private key (hex): 0x%064x", m.Candidate.ToBig())
		logger.Printf("Private key (dec): %s", m.Candidate.Dec())
		logger.Printf("WIF: %s", m.WIF)
		logger.Printf("Compressed address: %s", m.Compressed)
		logger.Printf("Uncompressed address: %s", m.Uncompressed)
		logger.Printf("Matched target: %s", m.Target)
		printStats(outcome)
		if outcome.PersistErr != nil {
			logger.Errorf("The match could not be saved: %v", outcome.PersistErr)
		}
		return exitFound
	case types.StatusCancelled:
		printStats(outcome)
		logger.Println("Search stopped by user.")
		return exitInterrupted
	default:
		printStats(outcome)
		logger.Println("No match found.")
		return exitNotFound
	}
}

func printStats(o *types.Outcome) {
	logger.Printf("Keys checked: %s", humanize.Comma(int64(o.Checked)))
	if o.Rounds > 1 {
		logger.Printf("Rounds: %d", o.Rounds)
	}
	logger.Printf("Duration: %v", o.Duration)
	logger.Printf("Rate: %s", humanize.SIWithDigits(o.Rate(), 2, "keys/s"))
}

func setupLogging() error {
	if cfg.LogFile != "" {
		// Log to a rotated file
		l, err := logpkg.NewRotating(cfg.LogFile)
		if err != nil {
			return err
		}
		logger = l
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		// Log to stdout
		logger = logpkg.New()
		logger.SetFlags(log.LstdFlags)
	}
	logger.SetVerbose(cfg.Verbose)
	return nil
}
