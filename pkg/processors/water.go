// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package processors

import (
	"time"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

const (
	defaultWaterMinLevel    = 0.0
	defaultWaterMaxLevel    = 50.0
	defaultWaterHistorySize = 36
)

// WaterRecord is one calibrated water level reading.
type WaterRecord struct {
	Timestamp   int64   `json:"timestamp"`
	WaterLevel  float64 `json:"water_level"`
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
	IsFallback  bool    `json:"is_fallback"`

	at time.Time
}

// At implements Record.
func (r *WaterRecord) At() time.Time { return r.at }

// Cached implements Record.
func (r *WaterRecord) Cached() []float64 { return []float64{r.WaterLevel} }

// WaterOptions tune the valid range and history depth. Zero values select
// the defaults.
type WaterOptions struct {
	MinLevelM   float64
	MaxLevelM   float64
	HistorySize int
}

// WaterProcessor validates level readings and substitutes the last valid
// value when a frame is missing or out of range.
type WaterProcessor struct {
	deviceID int64
	minLevel float64
	maxLevel float64
	histSize int

	last    *WaterRecord
	history []WaterRecord
}

// NewWaterProcessor builds a processor for one water level device.
func NewWaterProcessor(deviceID int64, opts WaterOptions) *WaterProcessor {
	if opts.MaxLevelM <= opts.MinLevelM {
		opts.MinLevelM = defaultWaterMinLevel
		opts.MaxLevelM = defaultWaterMaxLevel
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultWaterHistorySize
	}
	return &WaterProcessor{
		deviceID: deviceID,
		minLevel: opts.MinLevelM,
		maxLevel: opts.MaxLevelM,
		histSize: opts.HistorySize,
	}
}

// Type reports the sensor type handled by this processor.
func (p *WaterProcessor) Type() model.SensorType { return model.SensorWater }

// History returns a copy of the recent valid records, oldest first.
func (p *WaterProcessor) History() []WaterRecord {
	out := make([]WaterRecord, len(p.history))
	copy(out, p.history)
	return out
}

// Process consumes one decoded JSON frame observed at time at.
func (p *WaterProcessor) Process(fields map[string]interface{}, at time.Time) Result {
	level, present := numField(fields, "water_level_m", "water_level", "level")
	battery, hasBattery := numField(fields, "battery", "battery_percent")
	temp, hasTemp := numField(fields, "temperature", "temp")

	if present && level >= p.minLevel && level <= p.maxLevel {
		rec := WaterRecord{
			Timestamp:  at.Unix(),
			WaterLevel: round(level, 3),
			at:         at,
		}
		if hasBattery {
			rec.Battery = battery
		} else if p.last != nil {
			rec.Battery = p.last.Battery
		}
		if hasTemp {
			rec.Temperature = temp
		} else if p.last != nil {
			rec.Temperature = p.last.Temperature
		}

		p.last = &rec
		p.history = append(p.history, rec)
		if len(p.history) > p.histSize {
			p.history = p.history[len(p.history)-p.histSize:]
		}
		out := rec
		return Result{Record: &out}
	}

	if p.last == nil {
		// Nothing valid seen yet, nothing to fall back to.
		return Result{}
	}
	fb := *p.last
	fb.Timestamp = at.Unix()
	fb.at = at
	fb.IsFallback = true
	if hasBattery {
		fb.Battery = battery
	}
	if hasTemp {
		fb.Temperature = temp
	}
	return Result{Record: &fb}
}
