// Package client implements the `chunkbench receiver` subcommand: connect to
// a sender, time every chunk, then report and persist the results.
package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/saveenergy/chunkbench/internal/config"
	"github.com/saveenergy/chunkbench/internal/logging"
	sdk "github.com/saveenergy/chunkbench/pkg/client"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

func Run(args []string, version string) int {
	flagConfig, flagsSet, code, err := parseFlags(args, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench receiver: %v\n", err)
		return code
	}
	if flagConfig == nil {
		return code
	}

	initLogging(flagConfig)

	cfg, err := mergeConfig(flagConfig, flagsSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench receiver: %v\n", err)
		return exitUsage
	}

	if !flagConfig.JSON && !flagConfig.Plain {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			flagConfig.Plain = true
		}
	}
	formatter := createFormatter(flagConfig, os.Stdout, os.Stderr)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := sigCtx
	if flagConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(sigCtx, time.Duration(flagConfig.Timeout)*time.Second)
		defer cancel()
	}

	code = runSession(ctx, cfg, formatter)
	if code == exitFailure && sigCtx.Err() != nil {
		return exitInterrupt
	}
	return code
}

// runSession measures one session and delivers the report to the formatter,
// the live feed and every configured sink. Partial results are reported
// before a failure exit code is returned.
func runSession(ctx context.Context, cfg *config.Config, formatter OutputFormatter) int {
	if err := checkOutputPaths(cfg); err != nil {
		formatter.FormatError(err)
		return exitFailure
	}

	store, err := openStore(cfg)
	if err != nil {
		logging.Warn("Session history unavailable", logging.Field{Key: "error", Value: err})
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	sessionID := uuid.NewString()
	feed, err := startLiveFeed(cfg, sessionID, store)
	if err != nil {
		formatter.FormatError(fmt.Errorf("live feed: %w", err))
		return exitFailure
	}
	defer feed.Close()

	c := sdk.New(cfg.ListenAddress, cfg.Session(),
		sdk.WithDialTimeout(cfg.DialTimeout),
		sdk.WithIOTimeout(cfg.IOTimeout),
		sdk.WithRecvBuffer(cfg.RecvBufferBytes),
		sdk.WithSessionID(sessionID),
		sdk.WithObserver(func(r types.ChunkRecord) {
			formatter.FormatChunk(r)
			feed.PublishChunk(r)
		}),
		sdk.WithLogger(logging.NewLogger("receiver")))

	report, err := c.Measure(ctx)
	if report == nil {
		formatter.FormatError(err)
		return exitUsage
	}

	if cberrors.IsConnectionError(err) {
		feed.PublishError(err)
		formatter.FormatError(fmt.Errorf("%w\n\nTroubleshooting:\n"+
			"  - Check the sender is running: chunkbench sender -l %s\n"+
			"  - A sender serves one receiver and then exits; restart it for every run",
			err, cfg.ListenAddress))
		return exitFailure
	}

	sinkErr := writeSinks(cfg, report, store)
	formatter.FormatComplete(report)

	if err != nil {
		if sinkErr != nil {
			logging.Warn("Failed to write results", logging.Field{Key: "error", Value: sinkErr})
		}
		feed.PublishError(err)
		formatter.FormatError(err)
		return exitFailure
	}
	if sinkErr != nil {
		feed.PublishError(sinkErr)
		formatter.FormatError(fmt.Errorf("write results: %w", sinkErr))
		return exitFailure
	}
	feed.PublishSummary(report)
	return exitSuccess
}

func initLogging(cfg *Config) {
	level := logging.LevelWarn
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = logging.ParseLevel(v)
	}
	if cfg.LogLevel != "" {
		level = logging.ParseLevel(cfg.LogLevel)
	}
	if cfg.Quiet {
		level = logging.LevelError
	}
	logging.Init(level)
	logging.GetLogger().SetLevel(level)
}
