package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestMergeConfigPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
listen_address: 10.0.0.1:7000
chunk_size_bytes: 2000
chunk_count: 20
assumed_rtt: 100ms
smoothing_window: 3
`)
	t.Setenv("CHUNKBENCH_CHUNK_COUNT", "30")
	t.Setenv("CHUNKBENCH_SMOOTHING_WINDOW", "4")

	flagCfg, set, _, err := parseFlags([]string{"--config", path, "--smoothing", "7", "--no-store"}, "test")
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := mergeConfig(flagCfg, set)
	if err != nil {
		t.Fatalf("mergeConfig: %v", err)
	}

	if cfg.ListenAddress != "10.0.0.1:7000" {
		t.Fatalf("sender = %q, want file value", cfg.ListenAddress)
	}
	if cfg.ChunkSizeBytes != 2000 {
		t.Fatalf("chunk size = %d, want file value", cfg.ChunkSizeBytes)
	}
	if cfg.ChunkCount != 30 {
		t.Fatalf("chunk count = %d, want env value", cfg.ChunkCount)
	}
	if cfg.SmoothingWindow != 7 {
		t.Fatalf("smoothing = %d, want flag value", cfg.SmoothingWindow)
	}
	if cfg.AssumedRTT != 100*time.Millisecond {
		t.Fatalf("rtt = %v", cfg.AssumedRTT)
	}
	if cfg.AssumedTCPWindowBytes != 64_000 {
		t.Fatalf("window = %d, want default", cfg.AssumedTCPWindowBytes)
	}
	if cfg.StoreResults {
		t.Fatal("--no-store ignored")
	}
}

func TestMergeConfigEmptyFlagClearsSink(t *testing.T) {
	flagCfg, set, _, err := parseFlags([]string{"--config", "", "--csv", "", "--chart="}, "test")
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := mergeConfig(flagCfg, set)
	if err != nil {
		t.Fatalf("mergeConfig: %v", err)
	}
	if cfg.CSVPath != "" || cfg.ChartPath != "" {
		t.Fatalf("sinks not disabled: csv=%q chart=%q", cfg.CSVPath, cfg.ChartPath)
	}
}

func TestMergeConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad rtt", []string{"--rtt", "fast"}},
		{"zero rtt", []string{"--rtt", "0s"}},
		{"zero chunks", []string{"-n", "0"}},
		{"bad sender", []string{"-S", "no-port"}},
		{"zero window", []string{"--window", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagCfg, set, _, err := parseFlags(append([]string{"--config", ""}, tt.args...), "test")
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if _, err := mergeConfig(flagCfg, set); err == nil {
				t.Fatalf("mergeConfig(%v) succeeded", tt.args)
			}
		})
	}
}

func TestMergeConfigMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "chunk_count: [1, 2\n")
	flagCfg, set, _, err := parseFlags([]string{"--config", path}, "test")
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if _, err := mergeConfig(flagCfg, set); err == nil {
		t.Fatal("expected parse error")
	}
}
