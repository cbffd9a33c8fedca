package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	sdk "github.com/saveenergy/chunkbench/pkg/client"
	"github.com/saveenergy/chunkbench/pkg/types"
)

type OutputFormatter interface {
	FormatChunk(record types.ChunkRecord)
	FormatComplete(report *sdk.Report)
	FormatError(err error)
}

type JSONFormatter struct {
	writer    io.Writer
	errWriter io.Writer
}

func NewJSONFormatter(w, errW io.Writer) *JSONFormatter {
	return &JSONFormatter{writer: w, errWriter: errW}
}

func (f *JSONFormatter) FormatChunk(types.ChunkRecord) {}

func (f *JSONFormatter) FormatComplete(report *sdk.Report) {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	enc.Encode(report)
}

func (f *JSONFormatter) FormatError(err error) {
	fmt.Fprintf(f.errWriter, "chunkbench receiver: error: %v\n", err)
}

type PlainFormatter struct {
	writer    io.Writer
	errWriter io.Writer
	verbose   bool
}

func NewPlainFormatter(w, errW io.Writer, verbose bool) *PlainFormatter {
	return &PlainFormatter{writer: w, errWriter: errW, verbose: verbose}
}

func (f *PlainFormatter) FormatChunk(r types.ChunkRecord) {
	if !f.verbose {
		return
	}
	fmt.Fprintf(f.writer, "chunk=%d download_time_seconds=%.6f effective_rate_bps=%.2f\n",
		r.Index, r.DurationSeconds, r.EffectiveRateBps)
}

func (f *PlainFormatter) FormatComplete(report *sdk.Report) {
	fmt.Fprintf(f.writer, "session_id=%s\n", report.SessionID)
	fmt.Fprintf(f.writer, "status=%s\n", report.Status)
	fmt.Fprintf(f.writer, "sender=%s\n", report.SenderAddress)
	fmt.Fprintf(f.writer, "chunk_size_bytes=%d\n", report.Session.ChunkSizeBytes)
	fmt.Fprintf(f.writer, "chunk_count=%d\n", report.Session.ChunkCount)
	fmt.Fprintf(f.writer, "chunks_received=%d\n", len(report.Records))
	if s := report.Summary; s != nil {
		fmt.Fprintf(f.writer, "total_bytes=%d\n", s.TotalBytes)
		fmt.Fprintf(f.writer, "total_megabytes=%.2f\n", s.TotalMegabytes())
		fmt.Fprintf(f.writer, "total_time_seconds=%.6f\n", s.TotalTimeSeconds)
		fmt.Fprintf(f.writer, "avg_effective_rate_bps=%.2f\n", s.AvgEffectiveRateBps)
		fmt.Fprintf(f.writer, "bdp_bits=%.2f\n", s.BDPBits)
		fmt.Fprintf(f.writer, "tcp_throughput_bps=%.2f\n", s.TCPThroughputBps)
	}
	if report.Latency.Count > 0 {
		fmt.Fprintf(f.writer, "latency_min_ms=%.3f\n", report.Latency.MinMs)
		fmt.Fprintf(f.writer, "latency_avg_ms=%.3f\n", report.Latency.AvgMs)
		fmt.Fprintf(f.writer, "latency_max_ms=%.3f\n", report.Latency.MaxMs)
		fmt.Fprintf(f.writer, "latency_p50_ms=%.3f\n", report.Latency.P50Ms)
		fmt.Fprintf(f.writer, "latency_p95_ms=%.3f\n", report.Latency.P95Ms)
		fmt.Fprintf(f.writer, "latency_p99_ms=%.3f\n", report.Latency.P99Ms)
		fmt.Fprintf(f.writer, "rate_stddev_bps=%.2f\n", report.Variability.StdDevBps)
		fmt.Fprintf(f.writer, "rate_cov=%.4f\n", report.Variability.CoefficientOfVariation)
	}
	if in := report.Interpretation; in != nil {
		fmt.Fprintf(f.writer, "grade=%s\n", in.Grade)
		if len(in.Concerns) > 0 {
			fmt.Fprintf(f.writer, "concerns=%s\n", strings.Join(in.Concerns, ","))
		}
	}
	if report.Error != "" {
		fmt.Fprintf(f.writer, "error=%s\n", strconv.Quote(report.Error))
	}
}

func (f *PlainFormatter) FormatError(err error) {
	fmt.Fprintf(f.errWriter, "chunkbench receiver: error: %v\n", err)
}

type InteractiveFormatter struct {
	writer    io.Writer
	errWriter io.Writer
	verbose   bool
	noColor   bool
}

func NewInteractiveFormatter(w, errW io.Writer, verbose, noColor bool) *InteractiveFormatter {
	return &InteractiveFormatter{writer: w, errWriter: errW, verbose: verbose, noColor: noColor}
}

func (f *InteractiveFormatter) FormatChunk(r types.ChunkRecord) {
	if !f.verbose {
		return
	}
	fmt.Fprintf(f.writer, "Chunk %d: Download Time: %.2fs, Effective Data Rate: %.2f bps\n",
		r.Index, r.DurationSeconds, r.EffectiveRateBps)
}

func (f *InteractiveFormatter) FormatComplete(report *sdk.Report) {
	fmt.Fprintln(f.writer)
	fmt.Fprintf(f.writer, "%s %s of %s chunks from %s\n",
		f.paint("\033[36m", "Received:"),
		formatNumber(int64(len(report.Records))),
		formatNumber(int64(report.Session.ChunkCount)),
		report.SenderAddress)

	if s := report.Summary; s != nil {
		fmt.Fprintf(f.writer, "Total Data Transferred: %.2f MB (%s)\n", s.TotalMegabytes(), formatBytes(s.TotalBytes))
		fmt.Fprintf(f.writer, "Total Time: %.2fs\n", s.TotalTimeSeconds)
		fmt.Fprintf(f.writer, "Average Effective Data Rate: %.2f bps\n", s.AvgEffectiveRateBps)
		fmt.Fprintf(f.writer, "Calculated BDP: %.2f bits\n", s.BDPBits)
		fmt.Fprintf(f.writer, "TCP Throughput: %.2f bps\n", s.TCPThroughputBps)
	} else {
		fmt.Fprintln(f.writer, "No complete chunks received; nothing to summarize.")
	}

	if report.Latency.Count > 0 {
		fmt.Fprintf(f.writer, "%s %.3f ms (avg)\n", f.paint("\033[33m", "Chunk time:"), report.Latency.AvgMs)
		fmt.Fprintf(f.writer, "  %.3f ms (min)  %.3f ms (max)\n", report.Latency.MinMs, report.Latency.MaxMs)
		fmt.Fprintf(f.writer, "  %.3f ms (p50)  %.3f ms (p95)  %.3f ms (p99)\n",
			report.Latency.P50Ms, report.Latency.P95Ms, report.Latency.P99Ms)
		fmt.Fprintf(f.writer, "%s %.1f%% coefficient of variation\n",
			f.paint("\033[35m", "Rate stability:"), report.Variability.CoefficientOfVariation*100)
	}

	if in := report.Interpretation; in != nil {
		fmt.Fprintf(f.writer, "%s  %s\n", f.paint(gradeColor(in.Grade), "Grade "+in.Grade), in.Summary)
		for _, c := range in.Concerns {
			fmt.Fprintf(f.writer, "  - %s\n", strings.ReplaceAll(c, "_", " "))
		}
	}

	if report.Error != "" {
		fmt.Fprintf(f.writer, "%s %s\n", f.paint("\033[31m", "Session "+string(report.Status)+":"), report.Error)
	}
}

func (f *InteractiveFormatter) FormatError(err error) {
	fmt.Fprintf(f.errWriter, "%s %v\n", f.paint("\033[31m", "chunkbench receiver: error:"), err)
}

func (f *InteractiveFormatter) paint(code, s string) string {
	if f.noColor {
		return s
	}
	return code + s + "\033[0m"
}

func gradeColor(grade string) string {
	switch grade {
	case "A", "B":
		return "\033[32m"
	case "C":
		return "\033[33m"
	default:
		return "\033[31m"
	}
}

// QuietFormatter reports errors only.
type QuietFormatter struct {
	errWriter io.Writer
}

func (f *QuietFormatter) FormatChunk(types.ChunkRecord) {}
func (f *QuietFormatter) FormatComplete(*sdk.Report)    {}
func (f *QuietFormatter) FormatError(err error) {
	fmt.Fprintf(f.errWriter, "chunkbench receiver: error: %v\n", err)
}

func createFormatter(cfg *Config, w, errW io.Writer) OutputFormatter {
	switch {
	case cfg.JSON:
		return NewJSONFormatter(w, errW)
	case cfg.Quiet:
		return &QuietFormatter{errWriter: errW}
	case cfg.Plain:
		return NewPlainFormatter(w, errW, cfg.Verbose)
	default:
		return NewInteractiveFormatter(w, errW, cfg.Verbose, cfg.NoColor)
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	var result strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(r)
	}
	return result.String()
}
