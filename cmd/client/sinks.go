package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/saveenergy/chunkbench/internal/config"
	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/results"
	sdk "github.com/saveenergy/chunkbench/pkg/client"
)

const historyFile = "results.db"

// openStore opens the session history under cfg.DataDir, or returns nil
// when history is disabled.
func openStore(cfg *config.Config) (*results.Store, error) {
	if !cfg.StoreResults {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return results.New(filepath.Join(cfg.DataDir, historyFile), cfg.MaxStoredSessions)
}

// checkOutputPaths fails when the directory of a configured CSV or chart
// path does not exist, so a bad path is reported before any data moves.
func checkOutputPaths(cfg *config.Config) error {
	for _, out := range []struct{ name, path string }{
		{"csv", cfg.CSVPath},
		{"chart", cfg.ChartPath},
	} {
		if out.path == "" {
			continue
		}
		dir := filepath.Dir(out.path)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s output %s: %w", out.name, out.path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s output %s: %s is not a directory", out.name, out.path, dir)
		}
	}
	return nil
}

// writeSinks hands the report to every configured sink. A failing sink does
// not stop the others; CSV and chart failures are returned joined. The
// history store only warns.
func writeSinks(cfg *config.Config, report *sdk.Report, store *results.Store) error {
	var errs []error

	if cfg.CSVPath != "" {
		if err := results.SaveCSV(cfg.CSVPath, report.Records); err != nil {
			errs = append(errs, fmt.Errorf("csv: %w", err))
		} else {
			logging.Info("Wrote chunk table", logging.Field{Key: "path", Value: cfg.CSVPath})
		}
	}

	if cfg.ChartPath != "" && report.Series != nil {
		err := results.SaveChart(cfg.ChartPath, *report.Series)
		switch {
		case errors.Is(err, results.ErrEmptySeries):
			logging.Warn("Chart skipped: fewer records than the smoothing window",
				logging.Field{Key: "records", Value: len(report.Records)},
				logging.Field{Key: "window", Value: report.Series.Window})
		case err != nil:
			errs = append(errs, fmt.Errorf("chart: %w", err))
		default:
			logging.Info("Wrote chart", logging.Field{Key: "path", Value: cfg.ChartPath})
		}
	}

	if store != nil {
		if _, err := store.Save(sessionResult(report)); err != nil {
			logging.Warn("Failed to store session", logging.Field{Key: "error", Value: err})
		}
	}

	return errors.Join(errs...)
}

func sessionResult(report *sdk.Report) results.SessionResult {
	return results.SessionResult{
		ID:            report.SessionID,
		Status:        report.Status,
		SenderAddress: report.SenderAddress,
		Session:       report.Session,
		Summary:       report.Summary,
		Error:         report.Error,
		CreatedAt:     report.StartTime,
		Records:       report.Records,
	}
}
