// Package mcp implements the `chunkbench mcp` subcommand, an MCP (Model
// Context Protocol) server over stdio. Agents spawn this process and call
// the measurement tools directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/chunkbench/internal/config"
	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/metrics"
	"github.com/saveenergy/chunkbench/pkg/client"
	"github.com/saveenergy/chunkbench/pkg/types"
)

const (
	maxChunkSize  = 1 << 30
	maxChunkCount = 100_000
	maxTimeout    = 600
)

// Run starts the MCP stdio server. Blocks until stdin closes.
func Run(version string) int {
	// stdout carries the protocol; logs go to stderr.
	logging.Init(logging.LevelWarn)

	s := server.NewMCPServer(
		"chunkbench",
		version,
		server.WithToolCapabilities(true),
	)

	tools := ToolDefinitions()
	s.AddTool(tools[0], handleMeasureThroughput)
	s.AddTool(tools[1], handleDeriveMetrics)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "chunkbench mcp: error: %v\n", err)
		return 1
	}
	return 0
}

// ToolDefinitions lists the tools in registration order.
func ToolDefinitions() []mcp.Tool {
	defaults := config.DefaultConfig()

	measure := mcp.NewTool("measure_throughput",
		mcp.WithDescription("Receive one chunked TCP session from a running `chunkbench sender` and report per-chunk timings, the average effective data rate, bandwidth-delay product, window-limited TCP throughput and a graded interpretation. The sender must already be listening with the same chunk size and count, and serves exactly one session."),
		mcp.WithString("sender_address",
			mcp.Required(),
			mcp.Description("Sender host:port, e.g. 127.0.0.1:7878"),
		),
		mcp.WithNumber("chunk_size_bytes",
			mcp.Description(fmt.Sprintf("Chunk size in bytes, must match the sender (default: %d)", defaults.ChunkSizeBytes)),
		),
		mcp.WithNumber("chunk_count",
			mcp.Description(fmt.Sprintf("Number of chunks, must match the sender (default: %d)", defaults.ChunkCount)),
		),
		mcp.WithNumber("assumed_rtt_seconds",
			mcp.Description(fmt.Sprintf("Assumed round-trip time in seconds (default: %g)", defaults.AssumedRTT.Seconds())),
		),
		mcp.WithNumber("assumed_tcp_window_bytes",
			mcp.Description(fmt.Sprintf("Assumed TCP window in bytes (default: %d)", defaults.AssumedTCPWindowBytes)),
		),
		mcp.WithNumber("smoothing_window",
			mcp.Description(fmt.Sprintf("Smoothing window in samples (default: %d)", defaults.SmoothingWindow)),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Overall timeout in seconds, 1-600 (default: 120)"),
		),
	)

	derive := mcp.NewTool("derive_metrics",
		mcp.WithDescription("Compute the session figures, smoothed series and interpretation from per-chunk download times without touching the network. Useful to re-analyse a CSV exported by the receiver under a different RTT or window assumption."),
		mcp.WithArray("durations_seconds",
			mcp.Required(),
			mcp.Description("Download time of each chunk in seconds, in chunk order"),
			mcp.Items(map[string]any{"type": "number"}),
		),
		mcp.WithNumber("chunk_size_bytes",
			mcp.Description(fmt.Sprintf("Chunk size in bytes (default: %d)", defaults.ChunkSizeBytes)),
		),
		mcp.WithNumber("assumed_rtt_seconds",
			mcp.Description(fmt.Sprintf("Assumed round-trip time in seconds (default: %g)", defaults.AssumedRTT.Seconds())),
		),
		mcp.WithNumber("assumed_tcp_window_bytes",
			mcp.Description(fmt.Sprintf("Assumed TCP window in bytes (default: %d)", defaults.AssumedTCPWindowBytes)),
		),
		mcp.WithNumber("smoothing_window",
			mcp.Description(fmt.Sprintf("Smoothing window in samples (default: %d)", defaults.SmoothingWindow)),
		),
	)

	return []mcp.Tool{measure, derive}
}

// --- Tool Handlers ---

func handleMeasureThroughput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr := strings.TrimSpace(req.GetString("sender_address", ""))
	if addr == "" {
		return mcp.NewToolResultError("sender_address is required"), nil
	}
	session, err := sessionFromRequest(req, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := req.GetInt("timeout_seconds", 120)
	if timeout < 1 || timeout > maxTimeout {
		return mcp.NewToolResultError(fmt.Sprintf("timeout_seconds must be 1-%d", maxTimeout)), nil
	}

	measureCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	report, err := client.New(addr, session).Measure(measureCtx)
	if err != nil {
		if report == nil || len(report.Records) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("Measurement failed: %v", err)), nil
		}
		return partialFailure(report, session.ChunkCount, err), nil
	}
	return jsonResult(report)
}

// partialFailure reports an aborted measurement together with the records
// that did arrive.
func partialFailure(report *client.Report, chunkCount int, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("Measurement failed after %d of %d chunks: %v", len(report.Records), chunkCount, err)
	data, encErr := json.MarshalIndent(report, "", "  ")
	if encErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s\nJSON encoding failed: %v", msg, encErr))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s\n%s", msg, data))
}

// DerivedMetrics is the derive_metrics result.
type DerivedMetrics struct {
	Session types.Session       `json:"session"`
	Records []types.ChunkRecord `json:"records"`
	client.Analysis
}

func handleDeriveMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	durations, err := floatsArgument(req, "durations_seconds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(durations) == 0 {
		return mcp.NewToolResultError("durations_seconds must contain at least one duration"), nil
	}
	session, err := sessionFromRequest(req, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	session.ChunkCount = len(durations)

	records := make([]types.ChunkRecord, len(durations))
	for i, d := range durations {
		if d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("durations_seconds[%d] must be positive, got %g", i, d)), nil
		}
		records[i] = types.ChunkRecord{
			Index:            i + 1,
			DurationSeconds:  d,
			EffectiveRateBps: metrics.EffectiveRate(int64(session.ChunkSizeBytes), d),
		}
	}

	analysis, err := client.Analyze(session, records)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Derivation failed: %v", err)), nil
	}
	return jsonResult(DerivedMetrics{Session: session, Records: records, Analysis: analysis})
}

func sessionFromRequest(req mcp.CallToolRequest, withCount bool) (types.Session, error) {
	d := config.DefaultConfig()
	s := types.Session{
		ChunkSizeBytes:  req.GetInt("chunk_size_bytes", d.ChunkSizeBytes),
		RTTSeconds:      req.GetFloat("assumed_rtt_seconds", d.AssumedRTT.Seconds()),
		TCPWindowBytes:  req.GetInt("assumed_tcp_window_bytes", d.AssumedTCPWindowBytes),
		SmoothingWindow: req.GetInt("smoothing_window", d.SmoothingWindow),
	}
	if s.ChunkSizeBytes < 1 || s.ChunkSizeBytes > maxChunkSize {
		return s, fmt.Errorf("chunk_size_bytes must be 1-%d", maxChunkSize)
	}
	if withCount {
		s.ChunkCount = req.GetInt("chunk_count", d.ChunkCount)
		if s.ChunkCount < 1 || s.ChunkCount > maxChunkCount {
			return s, fmt.Errorf("chunk_count must be 1-%d", maxChunkCount)
		}
	}
	if s.RTTSeconds <= 0 {
		return s, fmt.Errorf("assumed_rtt_seconds must be positive")
	}
	if s.TCPWindowBytes < 1 {
		return s, fmt.Errorf("assumed_tcp_window_bytes must be positive")
	}
	if s.SmoothingWindow < 1 {
		return s, fmt.Errorf("smoothing_window must be >= 1")
	}
	return s, nil
}

func floatsArgument(req mcp.CallToolRequest, key string) ([]float64, error) {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return nil, fmt.Errorf("%s is required", key)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array of numbers", key)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case float64:
			out[i] = v
		case int:
			out[i] = float64(v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			out[i] = f
		default:
			return nil, fmt.Errorf("%s[%d] must be a number", key, i)
		}
	}
	return out, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
