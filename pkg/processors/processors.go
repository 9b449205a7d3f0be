// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package processors turns raw device frames into calibrated sensor
// records. Each device gets its own processor instance, owned by the topic
// registry and driven by the pipeline's per-device worker, so processor
// state never needs to survive concurrent access from two frames.
package processors

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Record is one calibrated sensor reading ready for fan-out and storage.
type Record interface {
	// At is the record's wall-clock time.
	At() time.Time
	// Cached returns up to three scalars persisted into the fast-query
	// columns, most significant first.
	Cached() []float64
}

// Result is the outcome of processing one frame: a record, a calibration
// progress event, or neither (the frame was dropped).
type Result struct {
	Record Record
	Origin *OriginEvent
}

// Drop reports whether the frame produced nothing.
func (r Result) Drop() bool {
	return r.Record == nil && r.Origin == nil
}

// Origin event kinds.
const (
	OriginCollecting = "origin_collecting"
	OriginLocked     = "origin_locked"
	OriginReset      = "origin_reset"
	OriginStatus     = "origin_status"
)

// OriginEvent reports GNSS calibration progress. These are logged and
// counted, not broadcast; the pipeline treats them as diagnostics.
type OriginEvent struct {
	Kind    string
	Status  string
	Count   int
	Target  int
	Lat     float64
	Lon     float64
	Height  float64
	SpreadM float64
}

func (e *OriginEvent) String() string {
	switch e.Kind {
	case OriginCollecting:
		return fmt.Sprintf("collecting origin candidates %d/%d", e.Count, e.Target)
	case OriginLocked:
		return fmt.Sprintf("origin locked at (%.6f, %.6f, %.2f) spread %.2fm", e.Lat, e.Lon, e.Height, e.SpreadM)
	case OriginReset:
		return fmt.Sprintf("origin candidates reset, spread %.2fm exceeds tolerance", e.SpreadM)
	default:
		return fmt.Sprintf("origin status %s %d/%d", e.Status, e.Count, e.Target)
	}
}

// numField pulls the first present numeric field from a decoded JSON
// object, trying each alias in order. Accepts JSON numbers and numeric
// strings, which some device firmwares emit.
func numField(fields map[string]interface{}, aliases ...string) (float64, bool) {
	for _, key := range aliases {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, true
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// round keeps n decimal places.
func round(v float64, n int) float64 {
	p := math.Pow10(n)
	return math.Round(v*p) / p
}
