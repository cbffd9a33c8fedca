package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saveenergy/chunkbench/pkg/types"
)

// Config is the explicit configuration set shared by the sender and the
// receiver. Both processes should load the same file so the chunk shape
// agrees; a mismatch is not detected on the wire.
type Config struct {
	ListenAddress string

	ChunkSizeBytes int
	ChunkCount     int

	AssumedRTT            time.Duration
	AssumedTCPWindowBytes int
	SmoothingWindow       int

	SendBufferBytes int
	RecvBufferBytes int
	DialTimeout     time.Duration
	IOTimeout       time.Duration // 0 waits forever

	CSVPath           string
	ChartPath         string
	DataDir           string
	StoreResults      bool
	MaxStoredSessions int

	LiveAddress    string
	AllowedOrigins []string
	RateLimitPerIP int // requests per minute on /api/v1
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddress:         "127.0.0.1:7878",
		ChunkSizeBytes:        1_000_000,
		ChunkCount:            100,
		AssumedRTT:            200 * time.Millisecond,
		AssumedTCPWindowBytes: 64_000,
		SmoothingWindow:       5,
		SendBufferBytes:       1_000_000,
		RecvBufferBytes:       0, // kernel default
		DialTimeout:           10 * time.Second,
		IOTimeout:             0,
		CSVPath:               "download_metrics.csv",
		ChartPath:             "latency_data_rate.png",
		DataDir:               "./data",
		StoreResults:          true,
		MaxStoredSessions:     1000,
		LiveAddress:           "",
		RateLimitPerIP:        120,
	}
}

// FileConfig mirrors Config in the YAML config file. Zero values leave the
// current setting untouched.
type FileConfig struct {
	ListenAddress         string   `yaml:"listen_address,omitempty"`
	ChunkSizeBytes        int      `yaml:"chunk_size_bytes,omitempty"`
	ChunkCount            int      `yaml:"chunk_count,omitempty"`
	AssumedRTT            string   `yaml:"assumed_rtt,omitempty"`
	AssumedTCPWindowBytes int      `yaml:"assumed_tcp_window_bytes,omitempty"`
	SmoothingWindow       int      `yaml:"smoothing_window,omitempty"`
	SendBufferBytes       int      `yaml:"send_buffer_bytes,omitempty"`
	RecvBufferBytes       int      `yaml:"recv_buffer_bytes,omitempty"`
	DialTimeout           string   `yaml:"dial_timeout,omitempty"`
	IOTimeout             string   `yaml:"io_timeout,omitempty"`
	CSVPath               string   `yaml:"csv_path,omitempty"`
	ChartPath             string   `yaml:"chart_path,omitempty"`
	DataDir               string   `yaml:"data_dir,omitempty"`
	StoreResults          *bool    `yaml:"store_results,omitempty"`
	MaxStoredSessions     int      `yaml:"max_stored_sessions,omitempty"`
	LiveAddress           string   `yaml:"live_address,omitempty"`
	AllowedOrigins        []string `yaml:"allowed_origins,omitempty"`
	RateLimitPerIP        int      `yaml:"rate_limit_per_ip,omitempty"`
}

// LoadFile applies a YAML config file. A missing file is not an error.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return c.applyFile(&fc)
}

func (c *Config) applyFile(fc *FileConfig) error {
	if fc.ListenAddress != "" {
		c.ListenAddress = fc.ListenAddress
	}
	if fc.ChunkSizeBytes != 0 {
		c.ChunkSizeBytes = fc.ChunkSizeBytes
	}
	if fc.ChunkCount != 0 {
		c.ChunkCount = fc.ChunkCount
	}
	if fc.AssumedRTT != "" {
		d, err := time.ParseDuration(fc.AssumedRTT)
		if err != nil {
			return fmt.Errorf("invalid assumed_rtt %q: %w", fc.AssumedRTT, err)
		}
		c.AssumedRTT = d
	}
	if fc.AssumedTCPWindowBytes != 0 {
		c.AssumedTCPWindowBytes = fc.AssumedTCPWindowBytes
	}
	if fc.SmoothingWindow != 0 {
		c.SmoothingWindow = fc.SmoothingWindow
	}
	if fc.SendBufferBytes != 0 {
		c.SendBufferBytes = fc.SendBufferBytes
	}
	if fc.RecvBufferBytes != 0 {
		c.RecvBufferBytes = fc.RecvBufferBytes
	}
	if fc.DialTimeout != "" {
		d, err := time.ParseDuration(fc.DialTimeout)
		if err != nil {
			return fmt.Errorf("invalid dial_timeout %q: %w", fc.DialTimeout, err)
		}
		c.DialTimeout = d
	}
	if fc.IOTimeout != "" {
		d, err := time.ParseDuration(fc.IOTimeout)
		if err != nil {
			return fmt.Errorf("invalid io_timeout %q: %w", fc.IOTimeout, err)
		}
		c.IOTimeout = d
	}
	if fc.CSVPath != "" {
		c.CSVPath = fc.CSVPath
	}
	if fc.ChartPath != "" {
		c.ChartPath = fc.ChartPath
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.StoreResults != nil {
		c.StoreResults = *fc.StoreResults
	}
	if fc.MaxStoredSessions != 0 {
		c.MaxStoredSessions = fc.MaxStoredSessions
	}
	if fc.LiveAddress != "" {
		c.LiveAddress = fc.LiveAddress
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.RateLimitPerIP != 0 {
		c.RateLimitPerIP = fc.RateLimitPerIP
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	if addr := os.Getenv("CHUNKBENCH_LISTEN_ADDRESS"); addr != "" {
		c.ListenAddress = addr
	}
	if v := os.Getenv("CHUNKBENCH_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CHUNKBENCH_CHUNK_SIZE %q: must be a positive integer", v)
		}
		c.ChunkSizeBytes = n
	}
	if v := os.Getenv("CHUNKBENCH_CHUNK_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CHUNKBENCH_CHUNK_COUNT %q: must be a positive integer", v)
		}
		c.ChunkCount = n
	}
	if v := os.Getenv("CHUNKBENCH_ASSUMED_RTT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid CHUNKBENCH_ASSUMED_RTT %q: must be a positive duration (e.g. 200ms)", v)
		}
		c.AssumedRTT = d
	}
	if v := os.Getenv("CHUNKBENCH_ASSUMED_TCP_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CHUNKBENCH_ASSUMED_TCP_WINDOW %q: must be a positive integer", v)
		}
		c.AssumedTCPWindowBytes = n
	}
	if v := os.Getenv("CHUNKBENCH_SMOOTHING_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CHUNKBENCH_SMOOTHING_WINDOW %q: must be a positive integer", v)
		}
		c.SmoothingWindow = n
	}
	if v := os.Getenv("CHUNKBENCH_SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid CHUNKBENCH_SEND_BUFFER %q: must be a non-negative integer", v)
		}
		c.SendBufferBytes = n
	}
	if v := os.Getenv("CHUNKBENCH_IO_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid CHUNKBENCH_IO_TIMEOUT %q: must be a duration (e.g. 30s, 0 disables)", v)
		}
		c.IOTimeout = d
	}
	if v := os.Getenv("CHUNKBENCH_CSV_PATH"); v != "" {
		c.CSVPath = v
	}
	if v := os.Getenv("CHUNKBENCH_CHART_PATH"); v != "" {
		c.ChartPath = v
	}
	if v := os.Getenv("CHUNKBENCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CHUNKBENCH_STORE_RESULTS"); v == "false" || v == "0" {
		c.StoreResults = false
	}
	if v := os.Getenv("CHUNKBENCH_LIVE_ADDRESS"); v != "" {
		c.LiveAddress = v
	}
	if v := os.Getenv("CHUNKBENCH_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}
	if v := os.Getenv("CHUNKBENCH_RATE_LIMIT_PER_IP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CHUNKBENCH_RATE_LIMIT_PER_IP %q: must be a positive integer", v)
		}
		c.RateLimitPerIP = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if _, port, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddress, err)
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid listen port %q: must be 0-65535", port)
	}
	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk size must be > 0")
	}
	if c.ChunkCount <= 0 {
		return fmt.Errorf("chunk count must be > 0")
	}
	if c.AssumedRTT <= 0 {
		return fmt.Errorf("assumed RTT must be > 0")
	}
	if c.AssumedTCPWindowBytes <= 0 {
		return fmt.Errorf("assumed TCP window must be > 0")
	}
	if c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing window must be >= 1")
	}
	if c.SendBufferBytes < 0 || c.RecvBufferBytes < 0 {
		return fmt.Errorf("socket buffer sizes cannot be negative")
	}
	if c.DialTimeout < 0 || c.IOTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.StoreResults && c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty when results are stored")
	}
	if c.StoreResults && c.MaxStoredSessions <= 0 {
		return fmt.Errorf("max stored sessions must be > 0")
	}
	if c.LiveAddress != "" {
		if _, _, err := net.SplitHostPort(c.LiveAddress); err != nil {
			return fmt.Errorf("invalid live address %q: %w", c.LiveAddress, err)
		}
		if c.LiveAddress == c.ListenAddress {
			return fmt.Errorf("live address and listen address cannot be the same")
		}
	}
	if c.RateLimitPerIP <= 0 {
		return fmt.Errorf("rate limit per IP must be > 0")
	}
	return nil
}

// Session derives the immutable shape of one measurement run.
func (c *Config) Session() types.Session {
	return types.Session{
		ChunkSizeBytes:  c.ChunkSizeBytes,
		ChunkCount:      c.ChunkCount,
		RTTSeconds:      c.AssumedRTT.Seconds(),
		TCPWindowBytes:  c.AssumedTCPWindowBytes,
		SmoothingWindow: c.SmoothingWindow,
	}
}

// EffectiveSendBuffer is the socket send buffer, never smaller than one
// chunk.
func (c *Config) EffectiveSendBuffer() int {
	if c.SendBufferBytes < c.ChunkSizeBytes {
		return c.ChunkSizeBytes
	}
	return c.SendBufferBytes
}

// DefaultConfigPath follows the XDG base directory layout.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "chunkbench", "config.yaml")
}
