package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/saveenergy/chunkbench/internal/stream"
	"github.com/saveenergy/chunkbench/pkg/client"
	"github.com/saveenergy/chunkbench/pkg/types"
)

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return text.Text
}

func TestToolDefinitions(t *testing.T) {
	tools := ToolDefinitions()
	if len(tools) != 2 || tools[0].Name != "measure_throughput" || tools[1].Name != "derive_metrics" {
		t.Fatalf("tools = %v", tools)
	}
	for _, tool := range tools {
		if strings.TrimSpace(tool.Description) == "" {
			t.Fatalf("tool %s missing description", tool.Name)
		}
		for _, prop := range []string{"chunk_size_bytes", "assumed_rtt_seconds", "assumed_tcp_window_bytes"} {
			if _, ok := tool.InputSchema.Properties[prop]; !ok {
				t.Fatalf("tool %s missing %s", tool.Name, prop)
			}
		}
	}
	if _, ok := tools[1].InputSchema.Properties["durations_seconds"]; !ok {
		t.Fatal("derive_metrics missing durations_seconds")
	}
}

func TestDeriveMetricsUniformSession(t *testing.T) {
	durations := make([]any, 10)
	for i := range durations {
		durations[i] = 1.0
	}
	res, err := handleDeriveMetrics(context.Background(), callRequest(map[string]any{
		"durations_seconds":        durations,
		"chunk_size_bytes":         1_000_000,
		"assumed_rtt_seconds":      0.2,
		"assumed_tcp_window_bytes": 64_000,
		"smoothing_window":         5,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var out DerivedMetrics
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Summary == nil {
		t.Fatal("missing summary")
	}
	if out.Summary.AvgEffectiveRateBps != 8e6 || out.Summary.TCPThroughputBps != 2.56e6 {
		t.Fatalf("summary = %+v", out.Summary)
	}
	if out.Series == nil || out.Series.Len() != 6 {
		t.Fatalf("series = %+v", out.Series)
	}
	if out.Session.ChunkCount != 10 || len(out.Records) != 10 || out.Records[9].Index != 10 {
		t.Fatalf("records = %d, session = %+v", len(out.Records), out.Session)
	}
}

func TestDeriveMetricsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing durations", map[string]any{}},
		{"not an array", map[string]any{"durations_seconds": "1,2"}},
		{"empty", map[string]any{"durations_seconds": []any{}}},
		{"zero duration", map[string]any{"durations_seconds": []any{1.0, 0.0}}},
		{"non-number", map[string]any{"durations_seconds": []any{"fast"}}},
		{"zero rtt", map[string]any{"durations_seconds": []any{1.0}, "assumed_rtt_seconds": 0.0}},
		{"zero window", map[string]any{"durations_seconds": []any{1.0}, "smoothing_window": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := handleDeriveMetrics(context.Background(), callRequest(tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected tool error for %v", tt.args)
			}
		})
	}
}

func TestMeasureThroughputLoopback(t *testing.T) {
	session := types.Session{ChunkSizeBytes: 8 * 1024, ChunkCount: 5}
	l, err := stream.Listen("127.0.0.1:0", stream.ConnOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		ch, err := l.Accept(context.Background())
		if err != nil {
			return
		}
		defer ch.Close()
		stream.NewSender(session, nil).Send(context.Background(), ch)
	}()

	res, err := handleMeasureThroughput(context.Background(), callRequest(map[string]any{
		"sender_address":   l.Addr().String(),
		"chunk_size_bytes": session.ChunkSizeBytes,
		"chunk_count":      session.ChunkCount,
		"smoothing_window": 2,
		"timeout_seconds":  10,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var report client.Report
	if err := json.Unmarshal([]byte(resultText(t, res)), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != types.SessionStatusCompleted || len(report.Records) != session.ChunkCount {
		t.Fatalf("report status=%s records=%d", report.Status, len(report.Records))
	}
}

func TestMeasureThroughputValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing address", map[string]any{}},
		{"zero chunks", map[string]any{"sender_address": "127.0.0.1:1", "chunk_count": 0}},
		{"huge chunk", map[string]any{"sender_address": "127.0.0.1:1", "chunk_size_bytes": maxChunkSize + 1}},
		{"bad timeout", map[string]any{"sender_address": "127.0.0.1:1", "timeout_seconds": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := handleMeasureThroughput(context.Background(), callRequest(tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected tool error for %v", tt.args)
			}
		})
	}
}

func TestPartialFailureIncludesRecords(t *testing.T) {
	cause := errors.New("connection reset")
	report := &client.Report{Records: []types.ChunkRecord{{Index: 1, DurationSeconds: 0.5, EffectiveRateBps: 16}}}

	res := partialFailure(report, 4, cause)
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	text := resultText(t, res)
	if !strings.Contains(text, "after 1 of 4 chunks") || !strings.Contains(text, `"duration_seconds": 0.5`) {
		t.Fatalf("text = %q", text)
	}
}

func TestPartialFailureReportsEncodingError(t *testing.T) {
	report := &client.Report{Records: []types.ChunkRecord{{Index: 1, DurationSeconds: math.NaN()}}}

	res := partialFailure(report, 2, errors.New("timeout"))
	text := resultText(t, res)
	if !res.IsError || !strings.Contains(text, "JSON encoding failed") {
		t.Fatalf("text = %q", text)
	}
}
