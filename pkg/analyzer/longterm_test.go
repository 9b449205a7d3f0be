// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
)

// creepHistory spreads n samples over the window, moving east from 0 to
// eastMeters. Speeds default to a constant crawl.
func creepHistory(n int, window time.Duration, eastMeters float64) []LongTermPoint {
	start := time.Unix(1700000000, 0)
	points := make([]LongTermPoint, n)
	for i := range points {
		frac := float64(i) / float64(n-1)
		points[i] = LongTermPoint{
			Timestamp: start.Add(time.Duration(frac * float64(window))),
			PosE:      eastMeters * frac,
			Speed2D:   1e-9,
		}
	}
	return points
}

func TestLongTermNeedsTwoPoints(t *testing.T) {
	cfg := stationcfg.Default()

	res := AnalyzeLongTerm(nil, cfg)
	assert.Equal(t, StatusInsufficientData, res.Status)
	assert.Nil(t, res.Analysis)

	res = AnalyzeLongTerm(creepHistory(2, 30*24*time.Hour, 0.1)[:1], cfg)
	assert.Equal(t, StatusInsufficientData, res.Status)
	assert.NotEmpty(t, res.Message)
}

func TestLongTermNeedsMinimumSpan(t *testing.T) {
	cfg := stationcfg.Default()

	// One hour is well under the 0.1 day floor.
	res := AnalyzeLongTerm(creepHistory(4, time.Hour, 0.1), cfg)
	assert.Equal(t, StatusInsufficientData, res.Status)
}

func TestLongTermSlowCreep(t *testing.T) {
	cfg := stationcfg.Default()

	// 100 mm east over 30 days.
	res := AnalyzeLongTerm(creepHistory(10, 30*24*time.Hour, 0.1), cfg)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.Analysis)

	assert.InDelta(t, 100.0, res.Analysis.TotalDisplacementMM, 0.01)
	assert.InDelta(t, 1216.67, res.Analysis.VelocityMMYear, 0.01)
	assert.InDelta(t, 3.3333, res.Analysis.VelocityMMDay, 0.001)
	assert.Equal(t, "Slow", res.Analysis.Classification)
	assert.Equal(t, TrendStable, res.Analysis.Trend)
	assert.Equal(t, model.RiskLow, res.RiskLevel)
	assert.Empty(t, res.WarningMessage)
	assert.InDelta(t, 30.0, res.Analysis.DurationDays, 0.01)
	assert.Equal(t, 10, res.Analysis.NumPoints)
}

func TestLongTermAcceleratingSlowEscalates(t *testing.T) {
	cfg := stationcfg.Default()

	points := creepHistory(8, 30*24*time.Hour, 0.1)
	for i := range points {
		points[i].Speed2D = 0.001 * float64(i)
	}
	res := AnalyzeLongTerm(points, cfg)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Slow", res.Analysis.Classification)
	assert.Equal(t, TrendAccelerating, res.Analysis.Trend)
	assert.Equal(t, model.RiskMedium, res.RiskLevel)
	assert.NotEmpty(t, res.WarningMessage)
}

func TestLongTermDeceleratingTrend(t *testing.T) {
	cfg := stationcfg.Default()

	points := creepHistory(8, 30*24*time.Hour, 0.1)
	for i := range points {
		points[i].Speed2D = 0.001 * float64(len(points)-i)
	}
	res := AnalyzeLongTerm(points, cfg)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, TrendDecelerating, res.Analysis.Trend)
	assert.Equal(t, model.RiskLow, res.RiskLevel)
}

func TestLongTermRapidMovementHighRisk(t *testing.T) {
	cfg := stationcfg.Default()

	// 10 m in five hours is squarely Rapid.
	res := AnalyzeLongTerm(creepHistory(4, 5*time.Hour, 10.0), cfg)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Rapid", res.Analysis.Classification)
	assert.Equal(t, model.RiskHigh, res.RiskLevel)
	assert.NotEmpty(t, res.WarningMessage)
}

func TestLongTermTrendNeedsFivePoints(t *testing.T) {
	cfg := stationcfg.Default()

	points := creepHistory(4, 30*24*time.Hour, 0.1)
	for i := range points {
		points[i].Speed2D = 0.01 * float64(i)
	}
	res := AnalyzeLongTerm(points, cfg)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, TrendStable, res.Analysis.Trend)
}

func TestLongTermSortsUnorderedInput(t *testing.T) {
	cfg := stationcfg.Default()

	points := creepHistory(6, 30*24*time.Hour, 0.1)
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	res := AnalyzeLongTerm(points, cfg)
	require.Equal(t, StatusSuccess, res.Status)
	assert.InDelta(t, 100.0, res.Analysis.TotalDisplacementMM, 0.01)
}

func TestLongTermTrendDetectionDisabled(t *testing.T) {
	cfg := stationcfg.Default()
	cfg.LongTerm.TrendDetection = false

	points := creepHistory(8, 30*24*time.Hour, 0.1)
	for i := range points {
		points[i].Speed2D = 0.001 * float64(i)
	}
	res := AnalyzeLongTerm(points, cfg)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, TrendStable, res.Analysis.Trend)
	assert.Equal(t, model.RiskLow, res.RiskLevel)
}
