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

func TestIMUDerivedQuantities(t *testing.T) {
	p := NewIMUProcessor(1)
	at := time.Unix(1700000000, 0)

	res := p.Process(map[string]interface{}{"ax": 0.0, "ay": 0.0, "az": 9.8}, at)
	require.NotNil(t, res.Record)

	rec := res.Record.(*IMURecord)
	assert.Equal(t, 9.8, rec.TotalAccel)
	assert.Equal(t, 0.0, rec.Roll)
	assert.Equal(t, 0.0, rec.Pitch)
	assert.False(t, rec.IsFallback)
	assert.Equal(t, []float64{9.8}, rec.Cached())
}

func TestIMUShockMagnitude(t *testing.T) {
	p := NewIMUProcessor(1)
	res := p.Process(map[string]interface{}{"ax": 0.0, "ay": 0.0, "az": 25.0}, time.Unix(1700000000, 0))
	require.NotNil(t, res.Record)
	assert.Equal(t, 25.0, res.Record.(*IMURecord).TotalAccel)
}

func TestIMUTiltAngles(t *testing.T) {
	p := NewIMUProcessor(1)
	at := time.Unix(1700000000, 0)

	// Gravity on the Y axis: rolled 90 degrees.
	res := p.Process(map[string]interface{}{"ax": 0.0, "ay": 9.8, "az": 0.0}, at)
	rec := res.Record.(*IMURecord)
	assert.Equal(t, 90.0, rec.Roll)
	assert.Equal(t, 0.0, rec.Pitch)

	// Gravity on the X axis: pitched 90 degrees.
	res = p.Process(map[string]interface{}{"ax": -9.8, "ay": 0.0, "az": 0.0}, at.Add(time.Second))
	rec = res.Record.(*IMURecord)
	assert.Equal(t, 90.0, rec.Pitch)
}

func TestIMUAliases(t *testing.T) {
	p := NewIMUProcessor(1)
	res := p.Process(map[string]interface{}{"accel_x": 1.0, "accel_y": 2.0, "accel_z": 2.0}, time.Unix(1700000000, 0))
	require.NotNil(t, res.Record)
	assert.Equal(t, 3.0, res.Record.(*IMURecord).TotalAccel)
}

func TestIMUFallbackStartsAtRest(t *testing.T) {
	p := NewIMUProcessor(1)
	at := time.Unix(1700000000, 0)

	// No valid frame yet: the fallback is the rest state.
	res := p.Process(map[string]interface{}{"ax": 1.0}, at)
	require.NotNil(t, res.Record)

	rec := res.Record.(*IMURecord)
	assert.True(t, rec.IsFallback)
	assert.Equal(t, restAccel, rec.Az)
	assert.Equal(t, restAccel, rec.TotalAccel)
	assert.Equal(t, at.Unix(), rec.Timestamp)
}

func TestIMUYawCarriesForward(t *testing.T) {
	p := NewIMUProcessor(1)
	at := time.Unix(1700000000, 0)

	p.Process(map[string]interface{}{"ax": 0.0, "ay": 0.0, "az": 9.8, "yaw": 33.3}, at)
	res := p.Process(map[string]interface{}{"ax": 0.1, "ay": 0.0, "az": 9.8}, at.Add(time.Second))
	require.NotNil(t, res.Record)
	assert.Equal(t, 33.3, res.Record.(*IMURecord).Yaw)
}

func TestIMUGyroCarriedThrough(t *testing.T) {
	p := NewIMUProcessor(1)
	res := p.Process(map[string]interface{}{"ax": 0.0, "ay": 0.0, "az": 9.8, "gx": 0.5, "gy": -0.25, "gz": 0.125}, time.Unix(1700000000, 0))
	require.NotNil(t, res.Record)

	rec := res.Record.(*IMURecord)
	assert.Equal(t, 0.5, rec.Gx)
	assert.Equal(t, -0.25, rec.Gy)
	assert.Equal(t, 0.125, rec.Gz)
}
