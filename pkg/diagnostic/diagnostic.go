// Package diagnostic interprets the figures of a chunked transfer session
// into human/agent-readable grades, ratings and concerns.
package diagnostic

import (
	"fmt"
	"strings"
)

// Interpretation holds the semantic interpretation of a session.
type Interpretation struct {
	Grade             string   `json:"grade"`
	Summary           string   `json:"summary"`
	SpeedRating       string   `json:"speed_rating"`
	UtilizationRating string   `json:"utilization_rating"`
	StabilityRating   string   `json:"stability_rating"`
	WindowUtilization float64  `json:"window_utilization"`
	Concerns          []string `json:"concerns"`
}

// Params are the session figures to interpret.
type Params struct {
	AvgRateBps       float64
	TCPThroughputBps float64
	BDPBits          float64
	TCPWindowBytes   int
	// RateCoV is the coefficient of variation of the per-chunk rates.
	RateCoV        float64
	AvgLatencyMs   float64
	P95LatencyMs   float64
	ChunksReceived int
	ChunksExpected int
}

func Interpret(p Params) *Interpretation {
	interp := &Interpretation{
		Concerns: []string{},
	}

	if p.TCPThroughputBps > 0 {
		interp.WindowUtilization = p.AvgRateBps / p.TCPThroughputBps
	}
	interp.SpeedRating = rateSpeed(p.AvgRateBps / 1e6)
	interp.UtilizationRating = rateUtilization(interp.WindowUtilization)
	interp.StabilityRating = rateStability(p.RateCoV, p.ChunksReceived)
	interp.Concerns = concerns(p, interp.WindowUtilization)

	interp.Grade = computeGrade(interp.SpeedRating, interp.UtilizationRating, interp.StabilityRating)
	if p.ChunksExpected > 0 && p.ChunksReceived < p.ChunksExpected {
		interp.Grade = capGrade(interp.Grade, "D")
	}
	interp.Summary = buildSummary(interp, p)

	return interp
}

func rateSpeed(mbps float64) string {
	switch {
	case mbps <= 0:
		return "unknown"
	case mbps >= 100:
		return "fast"
	case mbps >= 25:
		return "good"
	case mbps >= 5:
		return "moderate"
	default:
		return "slow"
	}
}

// rateUtilization compares the measured rate with the window-limited
// ceiling window×8/RTT. Above the ceiling the assumed window or RTT does
// not describe the path.
func rateUtilization(ratio float64) string {
	switch {
	case ratio <= 0:
		return "unknown"
	case ratio > 1.1:
		return "exceeds_model"
	case ratio >= 0.9:
		return "saturated"
	case ratio >= 0.6:
		return "good"
	case ratio >= 0.3:
		return "fair"
	default:
		return "poor"
	}
}

func rateStability(cov float64, samples int) string {
	if samples < 2 {
		return "unknown"
	}
	switch {
	case cov <= 0.1:
		return "stable"
	case cov <= 0.25:
		return "fair"
	case cov <= 0.5:
		return "degraded"
	default:
		return "unstable"
	}
}

func concerns(p Params, utilization float64) []string {
	c := []string{}

	if p.ChunksExpected > 0 && p.ChunksReceived < p.ChunksExpected {
		c = append(c, "incomplete_session")
	}
	if p.TCPWindowBytes > 0 && p.BDPBits/8 > float64(p.TCPWindowBytes) {
		c = append(c, "window_smaller_than_bdp")
	}
	if utilization > 1.1 {
		c = append(c, "window_model_exceeded")
	}
	if p.RateCoV > 0.5 {
		c = append(c, "unstable_rate")
	}
	if p.AvgLatencyMs > 0 && p.P95LatencyMs > 2*p.AvgLatencyMs {
		c = append(c, "latency_spikes")
	}
	if p.AvgRateBps > 0 && p.AvgRateBps < 5e6 {
		c = append(c, "slow_transfer")
	}

	return c
}

var ratingScore = map[string]int{
	"fast":          4,
	"saturated":     4,
	"exceeds_model": 4,
	"stable":        4,
	"good":          3,
	"fair":          2,
	"moderate":      2,
	"degraded":      1,
	"poor":          0,
	"slow":          0,
	"unstable":      0,
	"unknown":       2, // neutral default
}

var gradeOrder = "ABCDF"

func computeGrade(speed, utilization, stability string) string {
	score := ratingScore[speed] + ratingScore[utilization] + ratingScore[stability]
	// Max score = 12 (4+4+4)
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

// capGrade returns the worse of grade and limit.
func capGrade(grade, limit string) string {
	if strings.Index(gradeOrder, grade) < strings.Index(gradeOrder, limit) {
		return limit
	}
	return grade
}

func buildSummary(interp *Interpretation, p Params) string {
	gradeDesc := map[string]string{
		"A": "Excellent",
		"B": "Good",
		"C": "Fair",
		"D": "Poor",
		"F": "Very poor",
	}

	parts := []string{}
	if p.AvgRateBps > 0 {
		parts = append(parts, fmt.Sprintf("%.2f Mbps effective", p.AvgRateBps/1e6))
	}
	if interp.WindowUtilization > 0 {
		parts = append(parts, fmt.Sprintf("%.0f%% of window ceiling", interp.WindowUtilization*100))
	}
	if interp.StabilityRating != "unknown" {
		parts = append(parts, interp.StabilityRating+" rate")
	}

	summary := gradeDesc[interp.Grade] + " transfer"
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	if p.ChunksExpected > 0 && p.ChunksReceived < p.ChunksExpected {
		summary += fmt.Sprintf(" (%d of %d chunks)", p.ChunksReceived, p.ChunksExpected)
	}
	return summary
}
