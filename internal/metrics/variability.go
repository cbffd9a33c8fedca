package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/saveenergy/chunkbench/pkg/types"
)

func RateVariability(records []types.ChunkRecord) types.RateVariability {
	if len(records) == 0 {
		return types.RateVariability{}
	}
	r := rates(records)
	mean, std := stat.MeanStdDev(r, nil)
	if math.IsNaN(std) {
		std = 0
	}

	v := types.RateVariability{
		MeanBps:   mean,
		StdDevBps: std,
		MinBps:    floats.Min(r),
		MaxBps:    floats.Max(r),
		Samples:   len(r),
	}
	if mean > 0 {
		v.CoefficientOfVariation = std / mean
	}
	return v
}

// Latency reports the per-chunk download time distribution in
// milliseconds.
func Latency(records []types.ChunkRecord) types.LatencyMetrics {
	if len(records) == 0 {
		return types.LatencyMetrics{}
	}

	sorted := durations(records)
	sort.Float64s(sorted)
	floats.Scale(1000, sorted)

	return types.LatencyMetrics{
		MinMs: sorted[0],
		MaxMs: sorted[len(sorted)-1],
		AvgMs: stat.Mean(sorted, nil),
		P50Ms: stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95Ms: stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99Ms: stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Count: len(sorted),
	}
}
