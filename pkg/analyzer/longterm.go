// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package analyzer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
)

// Long-term analysis outcomes.
const (
	StatusSuccess          = "success"
	StatusInsufficientData = "insufficient_data"
)

// Trend labels for the slow-movement analysis.
const (
	TrendAccelerating = "accelerating"
	TrendDecelerating = "decelerating"
	TrendStable       = "stable"
)

const (
	// minSpanDays is the shortest window the velocity estimate is
	// meaningful over.
	minSpanDays = 0.1
	// minTrendPoints is the fewest samples the regression runs on.
	minTrendPoints = 5
	// trendSlopeEps separates a real speed trend from sample noise.
	trendSlopeEps = 1e-4

	daysPerYear    = 365.0
	secondsPerDayF = 86400.0
)

// LongTermPoint is one persisted displacement sample. Positions are ENU
// meters relative to the device origin; Speed2D is the instantaneous
// horizontal speed in m/s.
type LongTermPoint struct {
	Timestamp time.Time
	PosE      float64
	PosN      float64
	PosU      float64
	Speed2D   float64
}

// Movement quantifies displacement over the analysis window.
type Movement struct {
	TotalDisplacementMM float64 `json:"total_displacement_mm"`
	VelocityMMYear      float64 `json:"velocity_mm_year"`
	VelocityMMDay       float64 `json:"velocity_mm_day"`
	VelocityMMS         float64 `json:"velocity_mm_s"`
	Classification      string  `json:"classification"`
	Trend               string  `json:"trend"`
	DurationDays        float64 `json:"duration_days"`
	StartDate           string  `json:"start_date"`
	EndDate             string  `json:"end_date"`
	NumPoints           int     `json:"num_points"`
}

// LongTermResult is the slow-movement analysis response.
type LongTermResult struct {
	Status         string          `json:"status"`
	Message        string          `json:"message,omitempty"`
	Analysis       *Movement       `json:"analysis,omitempty"`
	RiskLevel      model.RiskLevel `json:"risk_level,omitempty"`
	WarningMessage string          `json:"warning_message,omitempty"`
}

func insufficient(format string, args ...interface{}) *LongTermResult {
	return &LongTermResult{
		Status:  StatusInsufficientData,
		Message: fmt.Sprintf(format, args...),
	}
}

// AnalyzeLongTerm estimates creep velocity from persisted GNSS samples and
// grades it on the station's classification table. The input is sorted by
// timestamp in place.
func AnalyzeLongTerm(points []LongTermPoint, cfg *stationcfg.Config) *LongTermResult {
	if len(points) < 2 {
		return insufficient("need at least 2 samples, have %d", len(points))
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	first, last := points[0], points[len(points)-1]
	days := last.Timestamp.Sub(first.Timestamp).Hours() / 24
	if days < minSpanDays {
		return insufficient("window spans %.3f days, need at least %.1f", days, minSpanDays)
	}

	dE := last.PosE - first.PosE
	dN := last.PosN - first.PosN
	dU := last.PosU - first.PosU
	dispMM := math.Sqrt(dE*dE+dN*dN+dU*dU) * 1000.0

	velMMDay := dispMM / days
	velMMYear := velMMDay * daysPerYear
	velMMS := velMMDay / secondsPerDayF

	table := buildTable(cfg.Classification)
	class := table.classify(velMMS)

	trend := TrendStable
	if cfg.LongTerm.TrendDetection && len(points) >= minTrendPoints {
		speeds := make([]float64, len(points))
		for i, p := range points {
			speeds[i] = p.Speed2D
		}
		switch m := slope(speeds); {
		case m > trendSlopeEps:
			trend = TrendAccelerating
		case m < -trendSlopeEps:
			trend = TrendDecelerating
		}
	}

	risk := riskForMovement(class, trend)

	result := &LongTermResult{
		Status: StatusSuccess,
		Analysis: &Movement{
			TotalDisplacementMM: roundTo(dispMM, 2),
			VelocityMMYear:      roundTo(velMMYear, 2),
			VelocityMMDay:       roundTo(velMMDay, 4),
			VelocityMMS:         roundTo(velMMS, 6),
			Classification:      class,
			Trend:               trend,
			DurationDays:        roundTo(days, 1),
			StartDate:           first.Timestamp.UTC().Format(time.RFC3339),
			EndDate:             last.Timestamp.UTC().Format(time.RFC3339),
			NumPoints:           len(points),
		},
		RiskLevel: risk,
	}
	if risk != model.RiskLow {
		result.WarningMessage = fmt.Sprintf("station moving %.1f mm/year, %s and %s", velMMYear, class, trend)
	}
	return result
}

// riskForMovement maps a velocity class to operator risk. A Slow slide
// that is speeding up is treated as MEDIUM even though its class alone
// would read LOW.
func riskForMovement(class, trend string) model.RiskLevel {
	switch class {
	case "Extremely Rapid", "Very Rapid":
		return model.RiskExtreme
	case "Rapid":
		return model.RiskHigh
	case "Moderate":
		return model.RiskMedium
	}
	if class == "Slow" && trend == TrendAccelerating {
		return model.RiskMedium
	}
	return model.RiskLow
}

// slope is the least-squares slope of ys against the sample index.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func roundTo(v float64, n int) float64 {
	p := math.Pow10(n)
	return math.Round(v*p) / p
}
