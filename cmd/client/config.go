package client

import (
	"fmt"
	"time"

	"github.com/saveenergy/chunkbench/internal/config"
)

// Config holds the raw receiver flags. Only the ones recorded in flagsSet
// take part in mergeConfig.
type Config struct {
	ConfigPath  string
	Sender      string
	ChunkSize   int
	ChunkCount  int
	RTT         string
	Window      int
	Smoothing   int
	RecvBuffer  int
	DialTimeout string
	IOTimeout   string
	Timeout     int
	CSVPath     string
	ChartPath   string
	DataDir     string
	NoStore     bool
	LiveAddr    string
	JSON        bool
	Plain       bool
	Verbose     bool
	Quiet       bool
	NoColor     bool
	LogLevel    string
}

// mergeConfig layers defaults, the config file, the environment and the
// given flags, in that order.
func mergeConfig(flagConfig *Config, flagsSet map[string]bool) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if err := cfg.LoadFile(flagConfig.ConfigPath); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, flagConfig, flagsSet); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f *Config, flagsSet map[string]bool) error {
	durations := []struct {
		flag string
		raw  string
		dst  *time.Duration
	}{
		{"rtt", f.RTT, &cfg.AssumedRTT},
		{"dial-timeout", f.DialTimeout, &cfg.DialTimeout},
		{"io-timeout", f.IOTimeout, &cfg.IOTimeout},
	}
	for _, d := range durations {
		if !flagsSet[d.flag] {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid --%s %q: %w", d.flag, d.raw, err)
		}
		*d.dst = v
	}

	if flagsSet["sender"] {
		cfg.ListenAddress = f.Sender
	}
	if flagsSet["chunk-size"] {
		cfg.ChunkSizeBytes = f.ChunkSize
	}
	if flagsSet["chunks"] {
		cfg.ChunkCount = f.ChunkCount
	}
	if flagsSet["window"] {
		cfg.AssumedTCPWindowBytes = f.Window
	}
	if flagsSet["smoothing"] {
		cfg.SmoothingWindow = f.Smoothing
	}
	if flagsSet["recv-buffer"] {
		cfg.RecvBufferBytes = f.RecvBuffer
	}
	if flagsSet["csv"] {
		cfg.CSVPath = f.CSVPath
	}
	if flagsSet["chart"] {
		cfg.ChartPath = f.ChartPath
	}
	if flagsSet["data-dir"] {
		cfg.DataDir = f.DataDir
	}
	if flagsSet["no-store"] && f.NoStore {
		cfg.StoreResults = false
	}
	if flagsSet["live-addr"] {
		cfg.LiveAddress = f.LiveAddr
	}
	return nil
}
