// Package metrics turns per-chunk timing records into session figures and
// smoothed series. Everything here is a pure function of its inputs.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

// EffectiveRate is the bit rate achieved moving bytes in seconds.
func EffectiveRate(bytes int64, seconds float64) float64 {
	return float64(bytes) * 8 / seconds
}

// BDP is the bandwidth-delay product in bits.
func BDP(rateBps, rttSeconds float64) float64 {
	return rateBps * rttSeconds
}

// TCPThroughput is the window-limited ceiling window×8/RTT. It does not
// depend on any measurement.
func TCPThroughput(windowBytes int, rttSeconds float64) float64 {
	return float64(windowBytes) * 8 / rttSeconds
}

// Summarize derives the session figures from the records that were
// collected, which may be fewer than the session's chunk count.
func Summarize(records []types.ChunkRecord, session types.Session) (types.SessionSummary, error) {
	if len(records) == 0 {
		return types.SessionSummary{}, cberrors.ErrComputation("no chunks received")
	}
	if session.RTTSeconds <= 0 {
		return types.SessionSummary{}, cberrors.ErrComputation(
			fmt.Sprintf("assumed RTT must be positive, got %v", session.RTTSeconds))
	}

	totalTime := floats.Sum(durations(records))
	if totalTime <= 0 {
		return types.SessionSummary{}, cberrors.ErrComputation("total transfer time is zero")
	}

	totalBytes := int64(len(records)) * int64(session.ChunkSizeBytes)
	avgRate := EffectiveRate(totalBytes, totalTime)

	return types.SessionSummary{
		Records:             len(records),
		ChunkSizeBytes:      session.ChunkSizeBytes,
		TotalBytes:          totalBytes,
		TotalTimeSeconds:    totalTime,
		AvgEffectiveRateBps: avgRate,
		BDPBits:             BDP(avgRate, session.RTTSeconds),
		TCPThroughputBps:    TCPThroughput(session.TCPWindowBytes, session.RTTSeconds),
	}, nil
}

func durations(records []types.ChunkRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.DurationSeconds
	}
	return out
}

func rates(records []types.ChunkRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.EffectiveRateBps
	}
	return out
}
