// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package stationcfg parses the configuration document embedded in a
// station row into an immutable typed view. Parsing happens once per
// registry reconcile; the hot path only reads struct fields. Missing or
// malformed sections fall back to defaults.
package stationcfg

import (
	"encoding/json"
	"time"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

// Default thresholds and confirmation counts.
const (
	DefaultGNSSConfirmSteps  = 3
	DefaultRainConfirmSteps  = 2
	DefaultWaterConfirmSteps = 3
	DefaultIMUConfirmSteps   = 1

	DefaultRainWatchMMH    = 10.0
	DefaultRainWarningMMH  = 25.0
	DefaultRainCriticalMMH = 50.0

	// Water levels default to 999 m, which disables water alerting until
	// the station is surveyed and real levels are configured.
	DefaultWaterWarningM  = 999.0
	DefaultWaterCriticalM = 999.0

	DefaultShockThresholdMS2 = 20.0
)

// GNSSAlerting configures the gnss_velocity category.
type GNSSAlerting struct {
	ConfirmSteps int
}

// RainAlerting configures the rainfall category, thresholds in mm/h.
type RainAlerting struct {
	WatchMMH     float64
	WarningMMH   float64
	CriticalMMH  float64
	ConfirmSteps int
}

// WaterAlerting configures the water_level category, levels in meters.
type WaterAlerting struct {
	WarningLevelM  float64
	CriticalLevelM float64
	ConfirmSteps   int
}

// IMUAlerting configures the shock category.
type IMUAlerting struct {
	ShockThresholdMS2 float64
	ConfirmSteps      int
}

// Class is one velocity classification row. Threshold is the minimum
// velocity for the class, in the given unit (mm_s, mm_day, mm_year, m_s).
type Class struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit"`
}

// LongTerm configures the slow-movement analysis.
type LongTerm struct {
	Enabled        bool
	WindowDays     int
	TrendDetection bool
}

// Config is the parsed, immutable view of one station's configuration.
type Config struct {
	DataTopic      string
	GNSS           GNSSAlerting
	Rain           RainAlerting
	Water          WaterAlerting
	IMU            IMUAlerting
	Classification []Class
	LongTerm       LongTerm

	// SaveIntervals overrides the installation-wide selective-save
	// windows for this station; types not present use the global value.
	SaveIntervals map[model.SensorType]time.Duration
}

// Default returns the configuration used when a station carries no
// document at all.
func Default() *Config {
	return &Config{
		GNSS:  GNSSAlerting{ConfirmSteps: DefaultGNSSConfirmSteps},
		Rain:  RainAlerting{WatchMMH: DefaultRainWatchMMH, WarningMMH: DefaultRainWarningMMH, CriticalMMH: DefaultRainCriticalMMH, ConfirmSteps: DefaultRainConfirmSteps},
		Water: WaterAlerting{WarningLevelM: DefaultWaterWarningM, CriticalLevelM: DefaultWaterCriticalM, ConfirmSteps: DefaultWaterConfirmSteps},
		IMU:   IMUAlerting{ShockThresholdMS2: DefaultShockThresholdMS2, ConfirmSteps: DefaultIMUConfirmSteps},
		LongTerm: LongTerm{
			Enabled:        true,
			WindowDays:     30,
			TrendDetection: true,
		},
	}
}

// ConfirmSteps returns the confirmation count for an alert category.
func (c *Config) ConfirmSteps(category model.AlertCategory) int {
	switch category {
	case model.CategoryGNSSVelocity:
		return c.GNSS.ConfirmSteps
	case model.CategoryRainfall:
		return c.Rain.ConfirmSteps
	case model.CategoryWaterLevel:
		return c.Water.ConfirmSteps
	case model.CategoryShock:
		return c.IMU.ConfirmSteps
	}
	return 1
}

// document mirrors the JSON layout produced by the admin tooling. All
// fields are optional; pointers distinguish absent from zero.
type document struct {
	MQTTTopics struct {
		DataTopic *string `json:"data_topic"`
	} `json:"mqtt_topics"`
	GNSS struct {
		ConfirmSteps *int `json:"gnss_confirm_steps"`
	} `json:"GnssAlerting"`
	Rain struct {
		WatchMMH     *float64 `json:"rain_watch_mm_h"`
		WarningMMH   *float64 `json:"rain_warning_mm_h"`
		CriticalMMH  *float64 `json:"rain_critical_mm_h"`
		ConfirmSteps *int     `json:"rain_confirm_steps"`
	} `json:"RainAlerting"`
	Water struct {
		WarningLevelM  *float64 `json:"warning_level_m"`
		CriticalLevelM *float64 `json:"critical_level_m"`
		ConfirmSteps   *int     `json:"water_confirm_steps"`
	} `json:"WaterAlerting"`
	IMU struct {
		ShockThresholdMS2 *float64 `json:"shock_threshold_ms2"`
		ConfirmSteps      *int     `json:"imu_confirm_steps"`
	} `json:"ImuAlerting"`
	Classification []Class `json:"GNSS_Classification"`
	LongTerm       struct {
		Enabled        *bool `json:"enabled"`
		WindowDays     *int  `json:"window_days"`
		TrendDetection *bool `json:"trend_detection"`
	} `json:"long_term_analysis"`
	SaveIntervals map[string]float64 `json:"save_intervals"`
}

// Parse builds the typed view from a raw configuration document. A nil or
// empty document yields Default(). Unknown keys are ignored; a document
// that is not a JSON object is reported as an error and the caller should
// fall back to Default().
func Parse(raw json.RawMessage) (*Config, error) {
	cfg := Default()
	if len(raw) == 0 {
		return cfg, nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg, err
	}

	if doc.MQTTTopics.DataTopic != nil {
		cfg.DataTopic = *doc.MQTTTopics.DataTopic
	}
	if doc.GNSS.ConfirmSteps != nil {
		cfg.GNSS.ConfirmSteps = *doc.GNSS.ConfirmSteps
	}
	if doc.Rain.WatchMMH != nil {
		cfg.Rain.WatchMMH = *doc.Rain.WatchMMH
	}
	if doc.Rain.WarningMMH != nil {
		cfg.Rain.WarningMMH = *doc.Rain.WarningMMH
	}
	if doc.Rain.CriticalMMH != nil {
		cfg.Rain.CriticalMMH = *doc.Rain.CriticalMMH
	}
	if doc.Rain.ConfirmSteps != nil {
		cfg.Rain.ConfirmSteps = *doc.Rain.ConfirmSteps
	}
	if doc.Water.WarningLevelM != nil {
		cfg.Water.WarningLevelM = *doc.Water.WarningLevelM
	}
	if doc.Water.CriticalLevelM != nil {
		cfg.Water.CriticalLevelM = *doc.Water.CriticalLevelM
	}
	if doc.Water.ConfirmSteps != nil {
		cfg.Water.ConfirmSteps = *doc.Water.ConfirmSteps
	}
	if doc.IMU.ShockThresholdMS2 != nil {
		cfg.IMU.ShockThresholdMS2 = *doc.IMU.ShockThresholdMS2
	}
	if doc.IMU.ConfirmSteps != nil {
		cfg.IMU.ConfirmSteps = *doc.IMU.ConfirmSteps
	}
	if len(doc.Classification) > 0 {
		cfg.Classification = doc.Classification
	}
	if doc.LongTerm.Enabled != nil {
		cfg.LongTerm.Enabled = *doc.LongTerm.Enabled
	}
	if doc.LongTerm.WindowDays != nil && *doc.LongTerm.WindowDays > 0 {
		cfg.LongTerm.WindowDays = *doc.LongTerm.WindowDays
	}
	if doc.LongTerm.TrendDetection != nil {
		cfg.LongTerm.TrendDetection = *doc.LongTerm.TrendDetection
	}
	if len(doc.SaveIntervals) > 0 {
		cfg.SaveIntervals = make(map[model.SensorType]time.Duration, len(doc.SaveIntervals))
		for k, secs := range doc.SaveIntervals {
			st, err := model.ParseSensorType(k)
			if err != nil || secs <= 0 {
				continue
			}
			cfg.SaveIntervals[st] = time.Duration(secs * float64(time.Second))
		}
	}
	return cfg, nil
}
