package types

// LatencyMetrics describes the distribution of per-chunk download times.
type LatencyMetrics struct {
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	Count int     `json:"count"`
}

// RateVariability summarises how much the per-chunk effective rate moved
// during a session. CoefficientOfVariation is StdDevBps/MeanBps, or 0 when
// the mean is 0.
type RateVariability struct {
	MeanBps                float64 `json:"mean_bps"`
	StdDevBps              float64 `json:"stddev_bps"`
	MinBps                 float64 `json:"min_bps"`
	MaxBps                 float64 `json:"max_bps"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	Samples                int     `json:"samples"`
}
