// Package server implements the `chunkbench sender` subcommand: listen on
// one address, accept exactly one receiver and stream the configured number
// of zero-filled chunks to it.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saveenergy/chunkbench/internal/config"
	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/stream"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

type serverFlagValues struct {
	configPath string
	listen     string
	chunkSize  int
	chunkCount int
	sendBuffer int
	ioTimeout  string
	logLevel   string
	pprofAddr  string
	help       bool
	version    bool
}

func buildServerFlagSet(cfg *config.Config) (*flag.FlagSet, *serverFlagValues) {
	fv := &serverFlagValues{}
	fs := flag.NewFlagSet("chunkbench sender", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	fs.Usage = printUsage

	fs.StringVar(&fv.configPath, "config", config.DefaultConfigPath(), "Config file path")
	fs.StringVar(&fv.configPath, "c", config.DefaultConfigPath(), "Config file path (short)")
	fs.StringVar(&fv.listen, "listen", cfg.ListenAddress, "Listen address")
	fs.StringVar(&fv.listen, "l", cfg.ListenAddress, "Listen address (short)")
	fs.IntVar(&fv.chunkSize, "chunk-size", cfg.ChunkSizeBytes, "Chunk size in bytes")
	fs.IntVar(&fv.chunkCount, "chunks", cfg.ChunkCount, "Number of chunks")
	fs.IntVar(&fv.chunkCount, "n", cfg.ChunkCount, "Number of chunks (short)")
	fs.IntVar(&fv.sendBuffer, "send-buffer", cfg.SendBufferBytes, "Socket send buffer in bytes")
	fs.StringVar(&fv.ioTimeout, "io-timeout", "", "Per-chunk write timeout (0 waits forever)")
	fs.StringVar(&fv.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&fv.pprofAddr, "pprof-addr", "", "Serve pprof on this address")
	fs.BoolVar(&fv.help, "help", false, "Show help")
	fs.BoolVar(&fv.help, "h", false, "Show help (short)")
	fs.BoolVar(&fv.version, "version", false, "Print version")
	return fs, fv
}

// applyServerFlagOverrides copies only the flags that were given on the
// command line, so file and environment settings survive otherwise. Nothing
// is applied when any value is invalid.
func applyServerFlagOverrides(cfg *config.Config, fs *flag.FlagSet, fv *serverFlagValues) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "l":
			set["listen"] = true
		case "n":
			set["chunks"] = true
		default:
			set[f.Name] = true
		}
	})

	var ioTimeout time.Duration
	if set["io-timeout"] {
		d, err := time.ParseDuration(fv.ioTimeout)
		if err != nil {
			return fmt.Errorf("invalid --io-timeout %q: %w", fv.ioTimeout, err)
		}
		ioTimeout = d
	}

	if set["listen"] {
		cfg.ListenAddress = fv.listen
	}
	if set["chunk-size"] {
		cfg.ChunkSizeBytes = fv.chunkSize
	}
	if set["chunks"] {
		cfg.ChunkCount = fv.chunkCount
	}
	if set["send-buffer"] {
		cfg.SendBufferBytes = fv.sendBuffer
	}
	if set["io-timeout"] {
		cfg.IOTimeout = ioTimeout
	}
	return nil
}

func Run(args []string, version string) int {
	cfg := config.DefaultConfig()
	fs, fv := buildServerFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitUsage
	}
	if fv.help {
		printUsage()
		return exitSuccess
	}
	if fv.version {
		fmt.Printf("chunkbench %s\n", version)
		return exitSuccess
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "chunkbench sender: unexpected argument %q\n", fs.Arg(0))
		return exitUsage
	}

	initLogging(fv.logLevel)

	if err := cfg.LoadFile(fv.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench sender: %v\n", err)
		return exitUsage
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench sender: %v\n", err)
		return exitUsage
	}
	if err := applyServerFlagOverrides(cfg, fs, fv); err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench sender: %v\n", err)
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench sender: invalid configuration: %v\n", err)
		return exitUsage
	}

	pprofServer := startPprofServer(fv.pprofAddr)
	defer shutdownPprofServer(pprofServer, 5*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := serve(ctx, cfg, func(addr net.Addr) {
		logging.Info("Sender listening",
			logging.Field{Key: "address", Value: addr.String()},
			logging.Field{Key: "chunks", Value: cfg.ChunkCount},
			logging.Field{Key: "chunk_size", Value: cfg.ChunkSizeBytes})
	})
	switch {
	case err == nil:
		return exitSuccess
	case ctx.Err() != nil:
		logging.Warn("Sender interrupted", logging.Field{Key: "error", Value: err})
		return exitInterrupt
	default:
		fmt.Fprintf(os.Stderr, "chunkbench sender: %v\n", err)
		return exitFailure
	}
}

// serve runs one complete sender session and returns the number of chunks
// fully written. ready is called once the listening socket is bound.
func serve(ctx context.Context, cfg *config.Config, ready func(net.Addr)) (int, error) {
	l, err := stream.Listen(cfg.ListenAddress, stream.ConnOptions{
		SendBufferBytes: cfg.EffectiveSendBuffer(),
		IOTimeout:       cfg.IOTimeout,
	})
	if err != nil {
		return 0, err
	}
	defer l.Close()
	if ready != nil {
		ready(l.Addr())
	}

	ch, err := l.Accept(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close()
	stopCancel := ch.CancelOn(ctx)
	defer stopCancel()

	start := time.Now()
	sent, err := stream.NewSender(cfg.Session(), logging.NewLogger("sender")).Send(ctx, ch)
	if err != nil {
		if cberrors.IsTransportError(err) {
			logging.Error("Session aborted",
				logging.Field{Key: "sent", Value: sent},
				logging.Field{Key: "error", Value: err})
		}
		return sent, err
	}
	logging.Info("Session complete",
		logging.Field{Key: "peer", Value: ch.RemoteAddr().String()},
		logging.Field{Key: "elapsed", Value: time.Since(start).String()})
	return sent, nil
}

func initLogging(flagLevel string) {
	level := logging.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = logging.ParseLevel(v)
	}
	if flagLevel != "" {
		level = logging.ParseLevel(flagLevel)
	}
	logging.Init(level)
	logging.GetLogger().SetLevel(level)
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: chunkbench sender [flags]

Listen for exactly one receiver and send it a fixed number of zero-filled
chunks over plain TCP, then exit.

Flags:
  -h, --help              Show help
  --version               Print version
  -c, --config string     Config file (default: ~/.config/chunkbench/config.yaml)
  -l, --listen string     Listen address (default: 127.0.0.1:7878)
  --chunk-size int        Chunk size in bytes (default: 1000000)
  -n, --chunks int        Number of chunks (default: 100)
  --send-buffer int       Socket send buffer in bytes, at least one chunk (default: 1000000)
  --io-timeout duration   Per-chunk write timeout, 0 waits forever (default: 0)
  --log-level string      debug, info, warn or error (default: info, or LOG_LEVEL)
  --pprof-addr string     Serve net/http/pprof on this address

The receiver must use the same chunk size and count. Load the same config
file on both sides to keep them in step.

Environment:
  CHUNKBENCH_LISTEN_ADDRESS, CHUNKBENCH_CHUNK_SIZE, CHUNKBENCH_CHUNK_COUNT,
  CHUNKBENCH_SEND_BUFFER, CHUNKBENCH_IO_TIMEOUT, LOG_LEVEL

Exit codes:
  0    All chunks sent
  1    Bind, accept or transfer failure
  2    Usage or configuration error
  130  Interrupted
`)
}
