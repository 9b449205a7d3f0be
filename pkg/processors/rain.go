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
	defaultRainHistorySize = 60

	// maxIntensityGapS bounds the interval over which an intensity can be
	// derived from the cumulative counter; beyond it the gauge likely
	// rebooted or the link was down and the rate is meaningless.
	maxIntensityGapS = 3600.0
)

// RainRecord is one calibrated rain gauge reading. RainfallMM is the
// cumulative counter, IntensityMMH the derived or reported rate.
type RainRecord struct {
	Timestamp    int64   `json:"timestamp"`
	RainfallMM   float64 `json:"rainfall_mm"`
	IntensityMMH float64 `json:"intensity_mm_h"`
	Battery      float64 `json:"battery"`
	Temperature  float64 `json:"temperature"`
	IsFallback   bool    `json:"is_fallback"`

	at time.Time
}

// At implements Record.
func (r *RainRecord) At() time.Time { return r.at }

// Cached implements Record.
func (r *RainRecord) Cached() []float64 { return []float64{r.RainfallMM, r.IntensityMMH} }

// RainProcessor derives rainfall intensity from the gauge's cumulative
// counter and substitutes the last valid value for bad frames.
type RainProcessor struct {
	deviceID int64
	histSize int

	last    *RainRecord
	history []RainRecord
}

// NewRainProcessor builds a processor for one rain gauge.
func NewRainProcessor(deviceID int64) *RainProcessor {
	return &RainProcessor{deviceID: deviceID, histSize: defaultRainHistorySize}
}

// Type reports the sensor type handled by this processor.
func (p *RainProcessor) Type() model.SensorType { return model.SensorRain }

// History returns a copy of the recent valid records, oldest first.
func (p *RainProcessor) History() []RainRecord {
	out := make([]RainRecord, len(p.history))
	copy(out, p.history)
	return out
}

// Process consumes one decoded JSON frame observed at time at.
func (p *RainProcessor) Process(fields map[string]interface{}, at time.Time) Result {
	rainfall, present := numField(fields, "rainfall_mm", "rainfall", "rain_mm")
	battery, hasBattery := numField(fields, "battery", "battery_percent")
	temp, hasTemp := numField(fields, "temperature", "temp")

	if !present || rainfall < 0 {
		if p.last == nil {
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

	rec := RainRecord{
		Timestamp:    at.Unix(),
		RainfallMM:   round(rainfall, 2),
		IntensityMMH: p.intensity(fields, rainfall, at),
		at:           at,
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

// intensity prefers a rate reported by the gauge; otherwise it derives one
// from the cumulative counter. A negative delta means the counter was
// reset, a gap outside (0, maxIntensityGapS) means the rate would be
// garbage; both yield 0.
func (p *RainProcessor) intensity(fields map[string]interface{}, rainfall float64, at time.Time) float64 {
	if reported, ok := numField(fields, "intensity_mm_h", "intensity"); ok {
		if reported < 0 {
			return 0
		}
		return round(reported, 2)
	}
	if p.last == nil {
		return 0
	}
	dt := at.Sub(p.last.at).Seconds()
	dr := rainfall - p.last.RainfallMM
	if dt <= 0 || dt >= maxIntensityGapS || dr < 0 {
		return 0
	}
	return round(dr/dt*3600.0, 2)
}
