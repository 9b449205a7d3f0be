// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSensorType(t *testing.T) {
	for _, raw := range []string{"gnss", "rain", "water", "imu"} {
		st, err := ParseSensorType(raw)
		require.NoError(t, err)
		assert.Equal(t, SensorType(raw), st)
	}
	_, err := ParseSensorType("tilt")
	assert.Error(t, err)
}

func TestAlertLevelOrdering(t *testing.T) {
	assert.Less(t, LevelInfo.Rank(), LevelWarning.Rank())
	assert.Less(t, LevelWarning.Rank(), LevelCritical.Rank())
	assert.False(t, LevelInfo.Dangerous())
	assert.True(t, LevelWarning.Dangerous())
	assert.True(t, LevelCritical.Dangerous())
}

func TestRollupRisk(t *testing.T) {
	tests := []struct {
		name     string
		critical int
		warning  int
		want     RiskLevel
	}{
		{"no alerts", 0, 0, RiskLow},
		{"one warning", 0, 1, RiskMedium},
		{"two warnings", 0, 2, RiskMedium},
		{"three warnings", 0, 3, RiskHigh},
		{"one critical", 1, 0, RiskHigh},
		{"one critical many warnings", 1, 5, RiskHigh},
		{"two criticals", 2, 0, RiskExtreme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := map[AlertLevel]int{
				LevelCritical: tt.critical,
				LevelWarning:  tt.warning,
			}
			assert.Equal(t, tt.want, RollupRisk(counts))
		})
	}
}
