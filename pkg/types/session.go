package types

import "time"

// Session is the fixed shape of one measurement run. Both sides must be
// started with the same chunk size and count; nothing on the wire checks it.
type Session struct {
	ChunkSizeBytes  int     `json:"chunk_size_bytes"`
	ChunkCount      int     `json:"chunk_count"`
	RTTSeconds      float64 `json:"assumed_rtt_seconds"`
	TCPWindowBytes  int     `json:"assumed_tcp_window_bytes"`
	SmoothingWindow int     `json:"smoothing_window"`
}

// TotalBytes is the number of bytes a complete session transfers.
func (s Session) TotalBytes() int64 {
	return int64(s.ChunkSizeBytes) * int64(s.ChunkCount)
}

type SessionStatus string

const (
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAborted   SessionStatus = "aborted"
)

// ChunkRecord is the timing observation for one fully received chunk.
type ChunkRecord struct {
	Index            int     `json:"index"`
	DurationSeconds  float64 `json:"duration_seconds"`
	EffectiveRateBps float64 `json:"effective_rate_bps"`
}

// NewChunkRecord derives the effective rate of a chunk from its size and
// the time it took to arrive. A chunk with no measurable duration keeps its
// zero duration and reports a rate of 0.
func NewChunkRecord(index, chunkSizeBytes int, elapsed time.Duration) ChunkRecord {
	seconds := elapsed.Seconds()
	record := ChunkRecord{Index: index, DurationSeconds: seconds}
	if seconds > 0 {
		record.EffectiveRateBps = float64(chunkSizeBytes) * 8 / seconds
	}
	return record
}

type SessionSummary struct {
	Records             int     `json:"records"`
	ChunkSizeBytes      int     `json:"chunk_size_bytes"`
	TotalBytes          int64   `json:"total_bytes"`
	TotalTimeSeconds    float64 `json:"total_time_seconds"`
	AvgEffectiveRateBps float64 `json:"avg_effective_rate_bps"`
	BDPBits             float64 `json:"bdp_bits"`
	TCPThroughputBps    float64 `json:"tcp_throughput_bps"`
}

// TotalMegabytes reports TotalBytes in decimal megabytes.
func (s SessionSummary) TotalMegabytes() float64 {
	return float64(s.TotalBytes) / 1_000_000
}

// SmoothedSeries holds the sliding-window means of the per-chunk latency and
// rate samples, plus the unsmoothed averages drawn as reference lines.
type SmoothedSeries struct {
	Window            int       `json:"window"`
	Latency           []float64 `json:"latency_seconds"`
	Rate              []float64 `json:"rate_bps"`
	AvgLatencySeconds float64   `json:"avg_latency_seconds"`
	AvgRateBps        float64   `json:"avg_rate_bps"`
}

func (s SmoothedSeries) Len() int {
	return len(s.Latency)
}
