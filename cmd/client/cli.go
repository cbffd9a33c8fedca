package client

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/saveenergy/chunkbench/internal/config"
)

func parseFlags(args []string, version string) (*Config, map[string]bool, int, error) {
	cfg := &Config{}
	flagsSet := make(map[string]bool)

	flagSet := flag.NewFlagSet("chunkbench receiver", flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagSet.Usage = printUsage
	flagSet.StringVar(&cfg.ConfigPath, "config", config.DefaultConfigPath(), "Config file path")
	flagSet.StringVar(&cfg.ConfigPath, "c", config.DefaultConfigPath(), "Config file path (short)")
	flagSet.StringVar(&cfg.Sender, "sender", "", "Sender address host:port")
	flagSet.StringVar(&cfg.Sender, "S", "", "Sender address host:port (short)")
	flagSet.IntVar(&cfg.ChunkSize, "chunk-size", 0, "Chunk size in bytes")
	flagSet.IntVar(&cfg.ChunkCount, "chunks", 0, "Number of chunks")
	flagSet.IntVar(&cfg.ChunkCount, "n", 0, "Number of chunks (short)")
	flagSet.StringVar(&cfg.RTT, "rtt", "", "Assumed round-trip time (e.g. 200ms)")
	flagSet.IntVar(&cfg.Window, "window", 0, "Assumed TCP window in bytes")
	flagSet.IntVar(&cfg.Smoothing, "smoothing", 0, "Smoothing window in samples")
	flagSet.IntVar(&cfg.RecvBuffer, "recv-buffer", 0, "Socket receive buffer in bytes")
	flagSet.StringVar(&cfg.DialTimeout, "dial-timeout", "", "Connect timeout")
	flagSet.StringVar(&cfg.IOTimeout, "io-timeout", "", "Per-chunk read timeout (0 waits forever)")
	flagSet.IntVar(&cfg.Timeout, "timeout", 0, "Overall session timeout in seconds (0 disables)")
	flagSet.StringVar(&cfg.CSVPath, "csv", "", "CSV output path")
	flagSet.StringVar(&cfg.ChartPath, "chart", "", "PNG chart output path")
	flagSet.StringVar(&cfg.DataDir, "data-dir", "", "Directory of the session history database")
	flagSet.BoolVar(&cfg.NoStore, "no-store", false, "Do not record the session in history")
	flagSet.StringVar(&cfg.LiveAddr, "live-addr", "", "Serve a live websocket feed on this address")
	flagSet.BoolVar(&cfg.JSON, "json", false, "Output the report as JSON")
	flagSet.BoolVar(&cfg.Plain, "plain", false, "Plain key=value output")
	flagSet.BoolVar(&cfg.Verbose, "verbose", false, "Print every chunk")
	flagSet.BoolVar(&cfg.Verbose, "v", false, "Print every chunk (short)")
	flagSet.BoolVar(&cfg.Quiet, "quiet", false, "Quiet mode (errors only)")
	flagSet.BoolVar(&cfg.Quiet, "q", false, "Quiet mode (errors only) (short)")
	flagSet.BoolVar(&cfg.NoColor, "no-color", false, "Disable color output")
	flagSet.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	versionFlag := flagSet.Bool("version", false, "Print version")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	// The flag package has already reported parse errors.
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, exitSuccess, nil
		}
		return nil, nil, exitUsage, nil
	}

	flagSet.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
		switch f.Name {
		case "c":
			flagsSet["config"] = true
		case "S":
			flagsSet["sender"] = true
		case "n":
			flagsSet["chunks"] = true
		case "v":
			flagsSet["verbose"] = true
		case "q":
			flagsSet["quiet"] = true
		case "h":
			flagsSet["help"] = true
		}
	})

	if *versionFlag {
		fmt.Printf("chunkbench %s\n", version)
		return nil, nil, exitSuccess, nil
	}

	if *help {
		printUsage()
		return nil, nil, exitSuccess, nil
	}

	rest := flagSet.Args()
	if len(rest) > 1 {
		return nil, nil, exitUsage, fmt.Errorf("unexpected argument %q", rest[1])
	}
	if len(rest) == 1 {
		if flagsSet["sender"] {
			return nil, nil, exitUsage, fmt.Errorf("sender given both as --sender and as argument")
		}
		cfg.Sender = rest[0]
		flagsSet["sender"] = true
	}

	if cfg.JSON && cfg.Plain {
		return nil, nil, exitUsage, fmt.Errorf("--json and --plain are mutually exclusive")
	}
	if cfg.Verbose && cfg.Quiet {
		return nil, nil, exitUsage, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	if cfg.Timeout < 0 {
		return nil, nil, exitUsage, fmt.Errorf("--timeout cannot be negative")
	}

	return cfg, flagsSet, 0, nil
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: chunkbench receiver [flags] [sender-address]

Connect to a listening sender, time every chunk it sends and report the
effective data rate, bandwidth-delay product and window-limited throughput.

Session:
  -S, --sender string      Sender address (default: 127.0.0.1:7878)
  --chunk-size int         Chunk size in bytes, must match the sender (default: 1000000)
  -n, --chunks int         Number of chunks, must match the sender (default: 100)
  --rtt duration           Assumed round-trip time (default: 200ms)
  --window int             Assumed TCP window in bytes (default: 64000)
  --smoothing int          Smoothing window in samples (default: 5)
  --recv-buffer int        Socket receive buffer in bytes (default: kernel)
  --dial-timeout duration  Connect timeout (default: 10s)
  --io-timeout duration    Per-chunk read timeout, 0 waits forever (default: 0)
  --timeout int            Overall session timeout in seconds (default: none)

Results:
  --csv string             CSV output path, empty disables (default: download_metrics.csv)
  --chart string           PNG chart path, empty disables (default: latency_data_rate.png)
  --data-dir string        History database directory (default: ./data)
  --no-store               Do not record the session in history
  --live-addr string       Serve a websocket feed at /ws and history at /api/v1

Output:
  --json                   Full report as JSON
  --plain                  key=value lines (default when stdout is not a TTY)
  -v, --verbose            Print a line per chunk
  -q, --quiet              Errors only
  --no-color               Disable color output
  --log-level string       debug, info, warn or error (default: LOG_LEVEL or warn)

General:
  -c, --config string      Config file (default: ~/.config/chunkbench/config.yaml)
  -h, --help               Show help
  --version                Print version

Configuration precedence: defaults < config file < CHUNKBENCH_* env < flags.

Exit codes:
  0    Session completed
  1    Connection, transfer or computation failure (partial results are still reported)
  2    Usage or configuration error
  130  Interrupted

Examples:
  chunkbench receiver
  chunkbench receiver -S 10.0.0.2:7878 -n 50 --chunk-size 4000000
  chunkbench receiver --json --no-store --csv "" --chart ""
`)
}
