package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/saveenergy/chunkbench/pkg/types"
)

// Smooth returns the mean of every contiguous run of window samples, so the
// result has len(samples)-window+1 entries. Too few samples, or a window
// below 1, gives an empty slice.
func Smooth(samples []float64, window int) []float64 {
	if window < 1 || len(samples) < window {
		return []float64{}
	}
	out := make([]float64, len(samples)-window+1)
	for i := range out {
		out[i] = stat.Mean(samples[i:i+window], nil)
	}
	return out
}

// Series builds the smoothed latency and rate series for charting. The
// averages are taken over the raw samples, not the smoothed ones.
func Series(records []types.ChunkRecord, window int) types.SmoothedSeries {
	lat := durations(records)
	rate := rates(records)

	series := types.SmoothedSeries{
		Window:  window,
		Latency: Smooth(lat, window),
		Rate:    Smooth(rate, window),
	}
	if len(records) > 0 {
		series.AvgLatencySeconds = stat.Mean(lat, nil)
		series.AvgRateBps = stat.Mean(rate, nil)
	}
	return series
}
