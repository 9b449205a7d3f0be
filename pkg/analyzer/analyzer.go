// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package analyzer turns calibrated sensor records into operator alerts.
// A single reading is only a candidate; each (station, category) pair runs
// a confirmation counter so an alarm needs several consecutive dangerous
// samples to raise and several safe samples to clear. Analysis never
// fails: bad or harmless input yields no alert.
package analyzer

import (
	"fmt"
	"sync"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/processors"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
)

// Alert is one confirmed danger condition, ready to be persisted and
// broadcast by the pipeline.
type Alert struct {
	Level    model.AlertLevel
	Category model.AlertCategory
	Message  string
	Details  map[string]interface{}
}

type stateKey struct {
	stationID int64
	category  model.AlertCategory
}

// confirmState is the per-(station, category) hysteresis state. run counts
// the trailing identical dangerous candidates and decides emission; count
// is the retention charge drained one step per safe sample; emitted is the
// level of the alert currently considered active.
type confirmState struct {
	level   model.AlertLevel
	count   int
	run     int
	emitted model.AlertLevel
}

type tableEntry struct {
	cfg   *stationcfg.Config
	table classTable
}

// Analyzer runs the confirmation counters for every station. Safe for
// concurrent use by the per-device pipeline workers.
type Analyzer struct {
	mu     sync.Mutex
	states map[stateKey]*confirmState
	tables map[int64]tableEntry
}

// New builds an empty Analyzer.
func New() *Analyzer {
	return &Analyzer{
		states: make(map[stateKey]*confirmState),
		tables: make(map[int64]tableEntry),
	}
}

// confirm advances the hysteresis for one category and reports whether an
// alert fires now. An alert fires when the trailing run of identical
// dangerous candidates reaches steps and that level is not the one already
// active. Safe samples zero the run and drain the retention charge; only
// when the charge hits zero does the active level clear, so a single quiet
// frame neither cancels an alarm nor lets the next dangerous frame raise a
// duplicate.
func (a *Analyzer) confirm(key stateKey, candidate model.AlertLevel, steps int) bool {
	if steps < 1 {
		steps = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.states[key]
	if !candidate.Dangerous() {
		if s == nil {
			return false
		}
		s.run = 0
		s.count--
		if s.count <= 0 {
			delete(a.states, key)
		}
		return false
	}

	if s == nil {
		s = &confirmState{}
		a.states[key] = s
	}
	if s.level != candidate {
		s.level = candidate
		s.count = 1
		s.run = 1
	} else {
		s.count++
		s.run++
	}
	if s.run < steps || s.emitted == candidate {
		return false
	}
	s.emitted = candidate
	return true
}

// tableFor returns the normalized classification table for a station,
// rebuilt whenever the registry hands out a fresh config view.
func (a *Analyzer) tableFor(stationID int64, cfg *stationcfg.Config) classTable {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.tables[stationID]; ok && e.cfg == cfg {
		return e.table
	}
	table := buildTable(cfg.Classification)
	a.tables[stationID] = tableEntry{cfg: cfg, table: table}
	return table
}

// AnalyzeGNSS classifies a velocity sample on the station's table and
// returns an alert once the class has been confirmed.
func (a *Analyzer) AnalyzeGNSS(stationID int64, rec *processors.GNSSRecord, cfg *stationcfg.Config) *Alert {
	table := a.tableFor(stationID, cfg)
	class := table.classify(rec.Speed2DMMS)
	candidate := levelForClass(class)
	if !a.confirm(stateKey{stationID, model.CategoryGNSSVelocity}, candidate, cfg.GNSS.ConfirmSteps) {
		return nil
	}
	return &Alert{
		Level:    candidate,
		Category: model.CategoryGNSSVelocity,
		Message:  fmt.Sprintf("surface velocity %.2f mm/s classified %s", rec.Speed2DMMS, class),
		Details: map[string]interface{}{
			"velocity_mm_s":  rec.Speed2DMMS,
			"classification": class,
		},
	}
}

// AnalyzeRain grades rainfall intensity against the station thresholds.
func (a *Analyzer) AnalyzeRain(stationID int64, rec *processors.RainRecord, cfg *stationcfg.Config) *Alert {
	candidate := model.LevelInfo
	threshold := 0.0
	switch {
	case rec.IntensityMMH >= cfg.Rain.CriticalMMH:
		candidate = model.LevelCritical
		threshold = cfg.Rain.CriticalMMH
	case rec.IntensityMMH >= cfg.Rain.WarningMMH:
		candidate = model.LevelWarning
		threshold = cfg.Rain.WarningMMH
	}
	if !a.confirm(stateKey{stationID, model.CategoryRainfall}, candidate, cfg.Rain.ConfirmSteps) {
		return nil
	}
	return &Alert{
		Level:    candidate,
		Category: model.CategoryRainfall,
		Message:  fmt.Sprintf("rain intensity %.1f mm/h over the %.1f mm/h threshold", rec.IntensityMMH, threshold),
		Details:  map[string]interface{}{"intensity_mm_h": rec.IntensityMMH},
	}
}

// AnalyzeWater grades the water level against the station's survey marks.
func (a *Analyzer) AnalyzeWater(stationID int64, rec *processors.WaterRecord, cfg *stationcfg.Config) *Alert {
	candidate := model.LevelInfo
	threshold := 0.0
	switch {
	case rec.WaterLevel >= cfg.Water.CriticalLevelM:
		candidate = model.LevelCritical
		threshold = cfg.Water.CriticalLevelM
	case rec.WaterLevel >= cfg.Water.WarningLevelM:
		candidate = model.LevelWarning
		threshold = cfg.Water.WarningLevelM
	}
	if !a.confirm(stateKey{stationID, model.CategoryWaterLevel}, candidate, cfg.Water.ConfirmSteps) {
		return nil
	}
	return &Alert{
		Level:    candidate,
		Category: model.CategoryWaterLevel,
		Message:  fmt.Sprintf("water level %.2f m over the %.2f m mark", rec.WaterLevel, threshold),
		Details:  map[string]interface{}{"water_level_m": rec.WaterLevel},
	}
}

// AnalyzeIMU flags shocks above the station's acceleration threshold.
func (a *Analyzer) AnalyzeIMU(stationID int64, rec *processors.IMURecord, cfg *stationcfg.Config) *Alert {
	candidate := model.LevelInfo
	if rec.TotalAccel > cfg.IMU.ShockThresholdMS2 {
		candidate = model.LevelCritical
	}
	if !a.confirm(stateKey{stationID, model.CategoryShock}, candidate, cfg.IMU.ConfirmSteps) {
		return nil
	}
	return &Alert{
		Level:    candidate,
		Category: model.CategoryShock,
		Message:  fmt.Sprintf("shock of %.1f m/s2 over the %.1f m/s2 threshold", rec.TotalAccel, cfg.IMU.ShockThresholdMS2),
		Details:  map[string]interface{}{"val": rec.TotalAccel},
	}
}
