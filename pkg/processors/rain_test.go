// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package processors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRainIntensityDerivedFromCounter(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	res := p.Process(map[string]interface{}{"rainfall_mm": 10.0}, at)
	require.NotNil(t, res.Record)
	first := res.Record.(*RainRecord)
	assert.Equal(t, 10.0, first.RainfallMM)
	assert.Equal(t, 0.0, first.IntensityMMH)

	// 5 mm over 30 minutes is 10 mm/h.
	res = p.Process(map[string]interface{}{"rainfall_mm": 15.0}, at.Add(1800*time.Second))
	require.NotNil(t, res.Record)
	rec := res.Record.(*RainRecord)
	assert.Equal(t, 15.0, rec.RainfallMM)
	assert.Equal(t, 10.0, rec.IntensityMMH)
	assert.Equal(t, []float64{15.0, 10.0}, rec.Cached())
}

func TestRainCounterResetYieldsZeroIntensity(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	p.Process(map[string]interface{}{"rainfall_mm": 120.0}, at)
	res := p.Process(map[string]interface{}{"rainfall_mm": 3.0}, at.Add(600*time.Second))
	require.NotNil(t, res.Record)

	rec := res.Record.(*RainRecord)
	assert.False(t, rec.IsFallback)
	assert.Equal(t, 3.0, rec.RainfallMM)
	assert.Equal(t, 0.0, rec.IntensityMMH)
}

func TestRainLongGapYieldsZeroIntensity(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	p.Process(map[string]interface{}{"rainfall_mm": 10.0}, at)
	res := p.Process(map[string]interface{}{"rainfall_mm": 20.0}, at.Add(2*time.Hour))
	require.NotNil(t, res.Record)
	assert.Equal(t, 0.0, res.Record.(*RainRecord).IntensityMMH)
}

func TestRainReportedIntensityWins(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	p.Process(map[string]interface{}{"rainfall_mm": 10.0}, at)
	res := p.Process(map[string]interface{}{"rainfall_mm": 15.0, "intensity_mm_h": 42.5}, at.Add(1800*time.Second))
	require.NotNil(t, res.Record)
	assert.Equal(t, 42.5, res.Record.(*RainRecord).IntensityMMH)
}

func TestRainMissingCounterFallsBack(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	res := p.Process(map[string]interface{}{"battery": 50.0}, at)
	assert.True(t, res.Drop())

	p.Process(map[string]interface{}{"rainfall_mm": 7.5}, at.Add(time.Minute))
	res = p.Process(map[string]interface{}{"battery": 49.0}, at.Add(2*time.Minute))
	require.NotNil(t, res.Record)

	rec := res.Record.(*RainRecord)
	assert.True(t, rec.IsFallback)
	assert.Equal(t, 7.5, rec.RainfallMM)
	assert.Equal(t, 49.0, rec.Battery)
}

func TestRainNegativeCounterFallsBack(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	p.Process(map[string]interface{}{"rainfall_mm": 5.0}, at)
	res := p.Process(map[string]interface{}{"rainfall_mm": -1.0}, at.Add(time.Minute))
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.(*RainRecord).IsFallback)
}

func TestRainHistoryCap(t *testing.T) {
	p := NewRainProcessor(1)
	at := time.Unix(1700000000, 0)

	for i := 0; i < defaultRainHistorySize+10; i++ {
		p.Process(map[string]interface{}{"rainfall_mm": float64(i)}, at.Add(time.Duration(i)*time.Minute))
	}
	assert.Len(t, p.History(), defaultRainHistorySize)
}
