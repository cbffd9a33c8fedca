// Package history implements the `chunkbench history` subcommand: browse the
// sessions a receiver recorded, re-derive their figures and serve them over
// HTTP.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/saveenergy/chunkbench/internal/api"
	"github.com/saveenergy/chunkbench/internal/config"
	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/results"
	sdk "github.com/saveenergy/chunkbench/pkg/client"
	"github.com/saveenergy/chunkbench/pkg/types"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2

	historyFile = "results.db"
)

type options struct {
	configPath string
	dataDir    string
	limit      int
	json       bool
	csv        bool
	chart      string
	addr       string
}

func Run(args []string, version string) int {
	command := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	opts := options{}
	fs := flag.NewFlagSet("chunkbench history "+command, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	fs.Usage = printUsage
	fs.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Config file path")
	fs.StringVar(&opts.configPath, "c", config.DefaultConfigPath(), "Config file path (short)")
	fs.StringVar(&opts.dataDir, "data-dir", "", "Directory of the history database")
	fs.IntVar(&opts.limit, "limit", 20, "Sessions to list")
	fs.BoolVar(&opts.json, "json", false, "JSON output")
	fs.BoolVar(&opts.csv, "csv", false, "Print the chunk table as CSV")
	fs.StringVar(&opts.chart, "chart", "", "Render the session chart to this PNG path")
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:8080", "Listen address for serve")
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help (short)")
	versionFlag := fs.Bool("version", false, "Print version")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitUsage
	}
	if *help || command == "help" {
		printUsage()
		return exitSuccess
	}
	if *versionFlag {
		fmt.Printf("chunkbench %s\n", version)
		return exitSuccess
	}

	logging.Init(logging.LevelWarn)

	dataDir, err := resolveDataDir(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench history: %v\n", err)
		return exitUsage
	}
	dbPath := filepath.Join(dataDir, historyFile)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench history: no history at %s\n", dbPath)
		return exitFailure
	}
	store, err := results.OpenForReading(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench history: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	switch command {
	case "list":
		if len(positional) > 0 {
			fmt.Fprintf(os.Stderr, "chunkbench history list: unexpected argument %q\n", positional[0])
			return exitUsage
		}
		if opts.limit < 1 {
			fmt.Fprintln(os.Stderr, "chunkbench history list: --limit must be >= 1")
			return exitUsage
		}
		err = runList(os.Stdout, store, opts)
	case "show":
		if len(positional) != 1 {
			fmt.Fprintln(os.Stderr, "chunkbench history show: exactly one session id required")
			return exitUsage
		}
		err = runShow(os.Stdout, store, positional[0], opts)
	case "serve":
		err = runServe(store, opts)
	default:
		fmt.Fprintf(os.Stderr, "chunkbench history: unknown command %q\n", command)
		return exitUsage
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench history %s: %v\n", command, err)
		return exitFailure
	}
	return exitSuccess
}

// parseInterspersed parses flags that may appear before or after positional
// arguments, so "show <id> --json" works. Everything after "--" is
// positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFile(opts.configPath); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveDataDir(opts options) (string, error) {
	if opts.dataDir != "" {
		return opts.dataDir, nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	return cfg.DataDir, nil
}

func runList(w io.Writer, store *results.Store, opts options) error {
	sessions, err := store.List(opts.limit)
	if err != nil {
		return err
	}
	if opts.json {
		if sessions == nil {
			sessions = []results.SessionResult{}
		}
		return json.NewEncoder(w).Encode(map[string]any{"sessions": sessions})
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-9s  %14s\n", "ID", "CREATED", "STATUS", "CHUNKS", "AVG RATE")
	for _, s := range sessions {
		rate := "-"
		chunks := fmt.Sprintf("0/%d", s.Session.ChunkCount)
		if s.Summary != nil {
			rate = fmt.Sprintf("%.2f Mbps", s.Summary.AvgEffectiveRateBps/1e6)
			chunks = fmt.Sprintf("%d/%d", s.Summary.Records, s.Session.ChunkCount)
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-9s  %14s\n",
			s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.Status, chunks, rate)
	}
	return nil
}

// runShow prints one stored session. The smoothed series and interpretation
// are not stored; they are derived again from the chunk rows.
func runShow(w io.Writer, store *results.Store, id string, opts options) error {
	stored, err := store.Get(id)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("session %s not found", id)
	}

	if opts.csv {
		return results.WriteCSV(w, stored.Records)
	}

	analysis, analyzeErr := sdk.Analyze(stored.Session, stored.Records)
	if opts.chart != "" {
		if analysis.Series == nil {
			return fmt.Errorf("render chart: %w", results.ErrEmptySeries)
		}
		if err := results.SaveChart(opts.chart, *analysis.Series); err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
	}

	report := sdk.Report{
		SchemaVersion: sdk.SchemaVersion,
		SessionID:     stored.ID,
		Status:        stored.Status,
		SenderAddress: stored.SenderAddress,
		Session:       stored.Session,
		StartTime:     stored.CreatedAt,
		Records:       stored.Records,
		Analysis:      analysis,
		Error:         stored.Error,
	}
	if report.Records == nil {
		report.Records = []types.ChunkRecord{}
	}

	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(w, "Session:  %s\n", report.SessionID)
	fmt.Fprintf(w, "Created:  %s\n", report.StartTime.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Sender:   %s\n", report.SenderAddress)
	fmt.Fprintf(w, "Status:   %s\n", report.Status)
	fmt.Fprintf(w, "Chunks:   %d of %d x %d bytes\n",
		len(report.Records), report.Session.ChunkCount, report.Session.ChunkSizeBytes)
	if s := report.Summary; s != nil {
		fmt.Fprintf(w, "Total Data Transferred: %.2f MB\n", s.TotalMegabytes())
		fmt.Fprintf(w, "Average Effective Data Rate: %.2f bps\n", s.AvgEffectiveRateBps)
		fmt.Fprintf(w, "Calculated BDP: %.2f bits\n", s.BDPBits)
		fmt.Fprintf(w, "TCP Throughput: %.2f bps\n", s.TCPThroughputBps)
	} else if analyzeErr != nil {
		fmt.Fprintf(w, "No summary: %v\n", analyzeErr)
	}
	if in := report.Interpretation; in != nil {
		fmt.Fprintf(w, "Grade %s: %s\n", in.Grade, in.Summary)
	}
	if report.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", report.Error)
	}
	return nil
}

func runServe(store *results.Store, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	router := api.NewRouter()
	router.SetResultsHandler(results.NewHandler(store))
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetRateLimiter(cfg.RateLimitPerIP)

	addr := opts.addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.GetLogger().SetLevel(logging.LevelInfo)
	errCh := make(chan error, 1)
	go func() {
		logging.Info("History API listening", logging.Field{Key: "url", Value: "http://" + addr + "/api/v1/sessions"})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: chunkbench history [command] [flags]

Browse the sessions recorded by chunkbench receiver.

Commands:
  list              Newest sessions first (default)
  show <id>         One session with its figures re-derived from the chunk rows
  serve             Serve the history read-only at /api/v1/sessions

Flags:
  -c, --config string    Config file (default: ~/.config/chunkbench/config.yaml)
  --data-dir string      History directory (default: config data_dir, ./data)
  --limit int            Sessions to list (default: 20)
  --json                 JSON output (list, show)
  --csv                  Print the chunk table as CSV (show)
  --chart string         Render the latency and rate chart to a PNG (show)
  --addr string          Listen address (serve, default: 127.0.0.1:8080)
  -h, --help             Show help
`)
}
