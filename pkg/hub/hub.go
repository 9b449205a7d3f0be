// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package hub fans events out to live observers. Delivery is best-effort:
// per-station throttles discard chatty event classes outright, and an
// observer whose send fails is dropped so it can never back-pressure the
// pipeline workers.
package hub

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tundzai001/land-slide-web/pkg/message"
	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/telemetry"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

// Throttle floors. Alerts always pass.
const (
	statusMinInterval = 500 * time.Millisecond
	sensorMinInterval = 100 * time.Millisecond
)

var (
	tlmBroadcasts = telemetry.NewCounter("hub", "broadcasts",
		[]string{"kind"}, "Events fanned out to observers")
	tlmThrottled = telemetry.NewCounter("hub", "throttled",
		[]string{"kind"}, "Events discarded by the per-station throttle")
	tlmObserverDrops = telemetry.NewCounter("hub", "observer_drops",
		nil, "Observers removed after a failed send")
	tlmObservers = telemetry.NewGauge("hub", "observers",
		nil, "Connected live observers")
)

// Observer receives broadcast events. Send must not block; returning an
// error removes the observer from the hub.
type Observer interface {
	Send(ev message.Event) error
}

type throttleKey struct {
	stationID int64
	kind      message.Kind
	sensor    model.SensorType
}

// Hub is the broadcast fan-out point. Safe for concurrent use.
type Hub struct {
	clock clock.Clock

	mu        sync.Mutex
	observers map[Observer]struct{}
	lastSent  map[throttleKey]time.Time
}

// New builds a Hub on the given clock.
func New(clk clock.Clock) *Hub {
	return &Hub{
		clock:     clk,
		observers: make(map[Observer]struct{}),
		lastSent:  make(map[throttleKey]time.Time),
	}
}

// Register adds an observer to the fan-out set.
func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	h.observers[o] = struct{}{}
	count := len(h.observers)
	h.mu.Unlock()
	tlmObservers.Set(float64(count))
	log.Debugf("observer registered, %d connected", count)
}

// Unregister removes an observer. Removing an unknown observer is a no-op.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	delete(h.observers, o)
	count := len(h.observers)
	h.mu.Unlock()
	tlmObservers.Set(float64(count))
}

// Observers returns the number of connected observers.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast delivers one event to every observer, subject to the event's
// throttle class. Throttled events are discarded, never buffered.
func (h *Hub) Broadcast(ev message.Event) {
	h.mu.Lock()
	if !h.admitLocked(ev) {
		h.mu.Unlock()
		tlmThrottled.Inc(string(ev.Kind()))
		return
	}
	targets := make([]Observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	tlmBroadcasts.Inc(string(ev.Kind()))
	for _, o := range targets {
		if err := o.Send(ev); err != nil {
			log.Debugf("dropping observer after failed send: %v", err)
			h.Unregister(o)
			tlmObserverDrops.Inc()
		}
	}
}

// admitLocked applies the per-station throttle. Caller holds h.mu.
func (h *Hub) admitLocked(ev message.Event) bool {
	var key throttleKey
	var window time.Duration
	switch e := ev.(type) {
	case *message.SensorData:
		key = throttleKey{stationID: e.StationID, kind: message.KindSensorData, sensor: e.SensorType}
		window = sensorMinInterval
	case *message.StationStatus:
		key = throttleKey{stationID: e.StationID, kind: message.KindStationStatus}
		window = statusMinInterval
	default:
		return true
	}
	now := h.clock.Now()
	if last, ok := h.lastSent[key]; ok && now.Sub(last) < window {
		return false
	}
	h.lastSent[key] = now
	return true
}

// Close drops every observer. Pending sends already in flight finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.observers = make(map[Observer]struct{})
	h.lastSent = make(map[throttleKey]time.Time)
	h.mu.Unlock()
	tlmObservers.Set(0)
}
