// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package model holds the domain types shared across the telemetry backbone:
// sensor kinds, alert and risk levels, and the entities persisted by the
// store gateway.
package model

import (
	"fmt"
	"strings"
)

// SensorType identifies the kind of device producing frames on a topic.
type SensorType string

// Known sensor types. A device row carries one of these in its sensor_type
// column; the registry picks the processor from it.
const (
	SensorGNSS  SensorType = "gnss"
	SensorRain  SensorType = "rain"
	SensorWater SensorType = "water"
	SensorIMU   SensorType = "imu"
)

// ParseSensorType normalizes a raw sensor type string.
func ParseSensorType(s string) (SensorType, error) {
	switch SensorType(strings.ToLower(strings.TrimSpace(s))) {
	case SensorGNSS:
		return SensorGNSS, nil
	case SensorRain:
		return SensorRain, nil
	case SensorWater:
		return SensorWater, nil
	case SensorIMU:
		return SensorIMU, nil
	}
	return "", fmt.Errorf("unknown sensor type: %q", s)
}

// AlertLevel is the severity of an analyzer candidate or emitted alert.
type AlertLevel string

// Alert levels, ordered INFO < WARNING < CRITICAL.
const (
	LevelInfo     AlertLevel = "INFO"
	LevelWarning  AlertLevel = "WARNING"
	LevelCritical AlertLevel = "CRITICAL"
)

// Rank returns the ordering of the level; higher means more severe.
func (l AlertLevel) Rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	}
	return 0
}

// Dangerous reports whether the level should raise or sustain an alarm.
func (l AlertLevel) Dangerous() bool {
	return l == LevelWarning || l == LevelCritical
}

// AlertCategory names the phenomenon an alert is about.
type AlertCategory string

// Alert categories emitted by the analyzer.
const (
	CategoryGNSSVelocity AlertCategory = "gnss_velocity"
	CategoryRainfall     AlertCategory = "rainfall"
	CategoryWaterLevel   AlertCategory = "water_level"
	CategoryShock        AlertCategory = "shock"
)

// RiskLevel is the station-wide rollup level shown to operators.
type RiskLevel string

// Risk levels, ordered LOW < MEDIUM < HIGH < EXTREME.
const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskExtreme RiskLevel = "EXTREME"
)

// RollupRisk folds a station's open alert counts into its risk color:
// two criticals is EXTREME, one critical or three warnings is HIGH, any
// warning is MEDIUM, everything else is LOW.
func RollupRisk(counts map[AlertLevel]int) RiskLevel {
	critical := counts[LevelCritical]
	warning := counts[LevelWarning]
	switch {
	case critical >= 2:
		return RiskExtreme
	case critical == 1 || warning >= 3:
		return RiskHigh
	case warning >= 1:
		return RiskMedium
	}
	return RiskLow
}

// Station lifecycle status values.
const (
	StationOnline  = "online"
	StationOffline = "offline"
)
