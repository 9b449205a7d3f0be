// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package registry reconciles the broker subscription set against the
// active devices and hands out immutable topic bindings. It is the single
// writer of the binding map; readers take a lock-free snapshot.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/processors"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
	"github.com/tundzai001/land-slide-web/pkg/telemetry"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

var (
	tlmReconciles = telemetry.NewCounter("registry", "reconciles",
		[]string{"outcome"}, "Reconcile passes by outcome")
	tlmTopics = telemetry.NewGauge("registry", "topics",
		nil, "Topics currently bound")
	tlmProcessors = telemetry.NewGauge("registry", "processors",
		nil, "Processors held in the device cache")
)

// DeviceLister is the config-store surface the registry consumes.
type DeviceLister interface {
	ListActiveDevices(ctx context.Context) ([]model.DeviceBinding, error)
}

// Broker is the subscription surface of the MQTT consumer.
type Broker interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

// Processor is the common surface of the per-sensor processors. The
// pipeline type-switches to the concrete processor for dispatch.
type Processor interface {
	Type() model.SensorType
}

// Binding is one topic's routing entry: the device, its station, the
// stateful processor and the parsed station configuration.
type Binding struct {
	DeviceID    int64
	DeviceCode  string
	StationID   int64
	StationName string
	SensorType  model.SensorType
	Processor   Processor
	Config      *stationcfg.Config
}

// Registry owns the topic-to-binding map and the device-to-processor cache.
// Processor state survives every reconcile for the whole process lifetime,
// so deactivating and reactivating a device keeps its origin lock.
type Registry struct {
	devices  DeviceLister
	origins  processors.OriginStore
	broker   Broker
	interval time.Duration
	clock    clock.Clock

	snapshot atomic.Pointer[map[string]*Binding]

	mu    sync.Mutex
	cache map[int64]Processor
}

// New builds a registry that reconciles every interval.
func New(devices DeviceLister, origins processors.OriginStore, broker Broker, interval time.Duration, clk clock.Clock) *Registry {
	r := &Registry{
		devices:  devices,
		origins:  origins,
		broker:   broker,
		interval: interval,
		clock:    clk,
		cache:    make(map[int64]Processor),
	}
	empty := make(map[string]*Binding)
	r.snapshot.Store(&empty)
	return r
}

// Run reconciles immediately, then on every tick until the context ends.
// A failed pass keeps the last good snapshot and retries on the next tick.
func (r *Registry) Run(ctx context.Context) error {
	if err := r.Reconcile(ctx); err != nil {
		log.Errorf("registry: initial reconcile: %v", err)
	}
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				log.Errorf("registry: reconcile failed, keeping %d bindings: %v", len(r.Snapshot()), err)
			}
		}
	}
}

// Reconcile runs one pass: list active devices, rebuild the binding map,
// diff against the live subscription set and swap the snapshot.
func (r *Registry) Reconcile(ctx context.Context) error {
	devices, err := r.devices.ListActiveDevices(ctx)
	if err != nil {
		tlmReconciles.Inc("error")
		return fmt.Errorf("listing active devices: %w", err)
	}

	next := make(map[string]*Binding, len(devices))
	r.mu.Lock()
	for i := range devices {
		d := &devices[i]
		topic := strings.TrimSpace(d.MQTTTopic)
		if topic == "" {
			continue
		}
		if prev, dup := next[topic]; dup {
			log.Warnf("registry: topic %q claimed by devices %d and %d, keeping %d",
				topic, prev.DeviceID, d.DeviceID, prev.DeviceID)
			continue
		}
		proc, ok := r.cache[d.DeviceID]
		if !ok {
			proc = r.buildProcessor(ctx, d)
			if proc == nil {
				continue
			}
			r.cache[d.DeviceID] = proc
		}
		cfg, err := stationcfg.Parse(d.Configuration)
		if err != nil {
			log.Warnf("registry: station %d carries an invalid configuration, using defaults: %v", d.StationID, err)
			cfg = stationcfg.Default()
		}
		next[topic] = &Binding{
			DeviceID:    d.DeviceID,
			DeviceCode:  d.DeviceCode,
			StationID:   d.StationID,
			StationName: d.StationName,
			SensorType:  d.SensorType,
			Processor:   proc,
			Config:      cfg,
		}
	}
	cached := len(r.cache)
	r.mu.Unlock()

	current := r.Snapshot()
	for topic := range next {
		if _, ok := current[topic]; !ok {
			if err := r.broker.Subscribe(topic); err != nil {
				log.Errorf("registry: subscribing %q: %v", topic, err)
			}
		}
	}
	for topic := range current {
		if _, ok := next[topic]; !ok {
			if err := r.broker.Unsubscribe(topic); err != nil {
				log.Errorf("registry: unsubscribing %q: %v", topic, err)
			}
		}
	}

	r.snapshot.Store(&next)
	tlmTopics.Set(float64(len(next)))
	tlmProcessors.Set(float64(cached))
	tlmReconciles.Inc("ok")
	log.Debugf("registry: reconciled %d topics, %d processors cached", len(next), cached)
	return nil
}

func (r *Registry) buildProcessor(ctx context.Context, d *model.DeviceBinding) Processor {
	switch d.SensorType {
	case model.SensorGNSS:
		p := processors.NewGNSSProcessor(d.DeviceID, r.origins, processors.GNSSOptions{})
		p.Start(ctx)
		return p
	case model.SensorRain:
		return processors.NewRainProcessor(d.DeviceID)
	case model.SensorWater:
		return processors.NewWaterProcessor(d.DeviceID, processors.WaterOptions{})
	case model.SensorIMU:
		return processors.NewIMUProcessor(d.DeviceID)
	}
	log.Warnf("registry: device %d has unknown sensor type %q, not binding", d.DeviceID, d.SensorType)
	return nil
}

// Lookup resolves a topic against the current snapshot.
func (r *Registry) Lookup(topic string) (*Binding, bool) {
	b, ok := r.Snapshot()[topic]
	return b, ok
}

// Snapshot returns the live binding map. The map is immutable; a reconcile
// swaps in a fresh one.
func (r *Registry) Snapshot() map[string]*Binding {
	return *r.snapshot.Load()
}

// Topics lists the currently bound topics, for resubscription after a
// broker reconnect.
func (r *Registry) Topics() []string {
	snap := r.Snapshot()
	out := make([]string, 0, len(snap))
	for topic := range snap {
		out = append(out, topic)
	}
	return out
}

// ErrNotGNSS rejects origin resets aimed at devices that carry no origin.
var ErrNotGNSS = errors.New("origin reset applies to gnss devices only")

// ResetOrigin drops a GNSS device's calibration: the cached processor
// resets in place (which also deletes the persisted row); a device with no
// cached processor gets its persisted row deleted directly.
func (r *Registry) ResetOrigin(ctx context.Context, deviceID int64) error {
	r.mu.Lock()
	proc, ok := r.cache[deviceID]
	r.mu.Unlock()
	if !ok {
		return r.origins.DeleteOrigin(ctx, deviceID)
	}
	gnss, isGNSS := proc.(*processors.GNSSProcessor)
	if !isGNSS {
		return fmt.Errorf("device %d is a %s device: %w", deviceID, proc.Type(), ErrNotGNSS)
	}
	return gnss.Reset(ctx)
}
