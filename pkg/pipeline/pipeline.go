// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package pipeline drives raw broker frames through decode, processing,
// analysis, fan-out and selective persistence. Each device gets a serial
// worker, so processor state only ever sees one frame at a time; devices
// proceed in parallel.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tundzai001/land-slide-web/pkg/analyzer"
	"github.com/tundzai001/land-slide-web/pkg/message"
	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/processors"
	"github.com/tundzai001/land-slide-web/pkg/registry"
	"github.com/tundzai001/land-slide-web/pkg/telemetry"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
	"github.com/tundzai001/land-slide-web/pkg/wire"
)

const (
	defaultQueueSize    = 100
	defaultDrainTimeout = 5 * time.Second
	// frameTimeout bounds the storage work done for one frame.
	frameTimeout = 10 * time.Second
)

var (
	tlmFrames = telemetry.NewCounter("pipeline", "frames",
		[]string{"outcome"}, "Frames by processing outcome")
	tlmOriginEvents = telemetry.NewCounter("pipeline", "origin_events",
		[]string{"kind"}, "GNSS calibration progress events")
	tlmAlerts = telemetry.NewCounter("pipeline", "alerts",
		[]string{"level", "category"}, "Confirmed alerts")
	tlmSaves = telemetry.NewCounter("pipeline", "saves",
		[]string{"reason"}, "Sensor rows written, by trigger")
	tlmWorkers = telemetry.NewGauge("pipeline", "workers",
		nil, "Live device workers")
)

// Resolver hands out the topic binding for a frame.
type Resolver interface {
	Lookup(topic string) (*registry.Binding, bool)
}

// ConfigWriter is the heartbeat and risk surface of the config store.
type ConfigWriter interface {
	TouchDevice(ctx context.Context, deviceID int64, at time.Time) error
	TouchStation(ctx context.Context, stationID int64, at time.Time) error
	SetStationRisk(ctx context.Context, stationID int64, risk model.RiskLevel) error
}

// DataWriter is the sample and alert surface of the data store.
type DataWriter interface {
	InsertSensorData(ctx context.Context, rec *model.SensorData) error
	InsertAlert(ctx context.Context, alert *model.Alert) (int64, error)
	CountOpenAlerts(ctx context.Context, stationID int64) (map[model.AlertLevel]int, error)
}

// Broadcaster fans events out to live observers.
type Broadcaster interface {
	Broadcast(ev message.Event)
}

// Options fix the pipeline's tunables. Zero values select the defaults.
type Options struct {
	// SaveIntervals are the installation-wide selective-save windows;
	// stations may override per type in their configuration.
	SaveIntervals map[model.SensorType]time.Duration
	// SaveIntervalDefault applies to types missing from SaveIntervals.
	SaveIntervalDefault time.Duration
	// QueueSize bounds each device worker's inbox.
	QueueSize int
	// DrainTimeout bounds how long Stop waits for in-flight frames.
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.SaveIntervalDefault <= 0 {
		o.SaveIntervalDefault = time.Minute
	}
	return o
}

type writeKey struct {
	deviceID int64
	sensor   model.SensorType
}

type job struct {
	frame   message.Frame
	binding *registry.Binding
}

type worker struct {
	jobs chan job
}

// Pipeline owns the device workers and the last-write ledger.
type Pipeline struct {
	resolver Resolver
	codec    *wire.Codec
	analyzer *analyzer.Analyzer
	hub      Broadcaster
	config   ConfigWriter
	data     DataWriter
	clock    clock.Clock
	opts     Options

	mu        sync.Mutex
	workers   map[int64]*worker
	lastWrite map[writeKey]time.Time
	stopped   bool

	wg sync.WaitGroup
}

// New wires a pipeline. The codec decides plaintext versus AES transport;
// the analyzer holds the per-station debounce state.
func New(resolver Resolver, codec *wire.Codec, anl *analyzer.Analyzer, hub Broadcaster,
	cfg ConfigWriter, data DataWriter, clk clock.Clock, opts Options) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		codec:     codec,
		analyzer:  anl,
		hub:       hub,
		config:    cfg,
		data:      data,
		clock:     clk,
		opts:      opts.withDefaults(),
		workers:   make(map[int64]*worker),
		lastWrite: make(map[writeKey]time.Time),
	}
}

// Dispatch routes one raw frame to its device worker. Unknown topics and
// full inboxes drop the frame; the broker callback never blocks here.
func (p *Pipeline) Dispatch(frame message.Frame) {
	binding, ok := p.resolver.Lookup(frame.Topic)
	if !ok {
		tlmFrames.Inc("unknown_topic")
		log.Debugf("pipeline: no binding for topic %q", frame.Topic)
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	w, ok := p.workers[binding.DeviceID]
	if !ok {
		w = &worker{jobs: make(chan job, p.opts.QueueSize)}
		p.workers[binding.DeviceID] = w
		p.wg.Add(1)
		go p.runWorker(w)
		tlmWorkers.Set(float64(len(p.workers)))
	}
	p.mu.Unlock()

	select {
	case w.jobs <- job{frame: frame, binding: binding}:
	default:
		tlmFrames.Inc("queue_full")
		log.Warnf("pipeline: device %d inbox full, dropping frame from %q", binding.DeviceID, frame.Topic)
	}
}

// Stop closes the worker inboxes and waits for in-flight frames, bounded
// by DrainTimeout. Frames dispatched after Stop are dropped.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, w := range p.workers {
		close(w.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Debugf("pipeline: drained")
	case <-time.After(p.opts.DrainTimeout):
		log.Warnf("pipeline: drain timed out after %s", p.opts.DrainTimeout)
	}
}

func (p *Pipeline) runWorker(w *worker) {
	defer p.wg.Done()
	for j := range w.jobs {
		p.process(j.frame, j.binding)
	}
}

func (p *Pipeline) process(frame message.Frame, b *registry.Binding) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	text, err := p.codec.Decode(frame.Payload)
	if err != nil {
		tlmFrames.Inc("undecodable")
		log.Debugf("pipeline: device %d (%s): dropping undecodable frame: %v", b.DeviceID, b.SensorType, err)
		return
	}

	at := frame.ReceivedAt
	if at.IsZero() {
		at = p.clock.Now()
	}

	var result processors.Result
	switch proc := b.Processor.(type) {
	case *processors.GNSSProcessor:
		result = proc.ProcessFrame(text, at)
	case *processors.RainProcessor:
		fields, ok := decodeFields(text, b)
		if !ok {
			return
		}
		result = proc.Process(fields, at)
	case *processors.WaterProcessor:
		fields, ok := decodeFields(text, b)
		if !ok {
			return
		}
		result = proc.Process(fields, at)
	case *processors.IMUProcessor:
		fields, ok := decodeFields(text, b)
		if !ok {
			return
		}
		result = proc.Process(fields, at)
	default:
		log.Warnf("pipeline: device %d: no dispatch for processor %T", b.DeviceID, b.Processor)
		return
	}

	if result.Origin != nil {
		tlmOriginEvents.Inc(result.Origin.Kind)
		log.Infof("pipeline: [%s] gnss device %d: %s", b.StationName, b.DeviceID, result.Origin)
	}
	rec := result.Record
	if rec == nil {
		if result.Origin == nil {
			tlmFrames.Inc("dropped")
		}
		return
	}

	// Observers see the record before any storage write.
	p.hub.Broadcast(message.NewSensorData(b.StationID, b.SensorType, rec.At(), rec))

	alert := p.analyze(b, rec)

	risk := string(model.RiskLow)
	if alert != nil {
		risk = string(alert.Level)
	}
	p.hub.Broadcast(message.NewStationStatus(b.StationID, risk))

	now := p.clock.Now()
	p.touch(ctx, b, now)
	p.maybeSave(ctx, b, rec, alert != nil, now)
	if alert != nil {
		p.persistAlert(ctx, b, alert, now)
	}
	tlmFrames.Inc("processed")
}

func decodeFields(text string, b *registry.Binding) (map[string]interface{}, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		tlmFrames.Inc("bad_json")
		log.Debugf("pipeline: device %d (%s): dropping malformed json frame", b.DeviceID, b.SensorType)
		return nil, false
	}
	return fields, true
}

func (p *Pipeline) analyze(b *registry.Binding, rec processors.Record) *analyzer.Alert {
	switch r := rec.(type) {
	case *processors.GNSSRecord:
		return p.analyzer.AnalyzeGNSS(b.StationID, r, b.Config)
	case *processors.RainRecord:
		return p.analyzer.AnalyzeRain(b.StationID, r, b.Config)
	case *processors.WaterRecord:
		return p.analyzer.AnalyzeWater(b.StationID, r, b.Config)
	case *processors.IMURecord:
		return p.analyzer.AnalyzeIMU(b.StationID, r, b.Config)
	}
	return nil
}

// touch stamps both heartbeats. Failures are logged and the frame goes on;
// a dead config store must not stop live fan-out.
func (p *Pipeline) touch(ctx context.Context, b *registry.Binding, now time.Time) {
	if err := p.config.TouchDevice(ctx, b.DeviceID, now); err != nil {
		log.Warnf("pipeline: device %d heartbeat: %v", b.DeviceID, err)
	}
	if err := p.config.TouchStation(ctx, b.StationID, now); err != nil {
		log.Warnf("pipeline: station %d heartbeat: %v", b.StationID, err)
	}
}

// maybeSave writes the sensor row when an alert fired or the device's
// save window for this sensor type has elapsed.
func (p *Pipeline) maybeSave(ctx context.Context, b *registry.Binding, rec processors.Record, alertFired bool, now time.Time) {
	key := writeKey{deviceID: b.DeviceID, sensor: b.SensorType}
	reason := ""
	if alertFired {
		reason = "alert"
	} else {
		p.mu.Lock()
		last, ok := p.lastWrite[key]
		p.mu.Unlock()
		if !ok || now.Sub(last) >= p.saveInterval(b) {
			reason = "interval"
		}
	}
	if reason == "" {
		return
	}

	row, err := p.sensorRow(b, rec)
	if err != nil {
		log.Errorf("pipeline: device %d: encoding %s record: %v", b.DeviceID, b.SensorType, err)
		return
	}
	if err := p.data.InsertSensorData(ctx, row); err != nil {
		log.Errorf("pipeline: device %d: saving %s record: %v", b.DeviceID, b.SensorType, err)
		return
	}
	p.mu.Lock()
	p.lastWrite[key] = now
	p.mu.Unlock()
	tlmSaves.Inc(reason)
}

func (p *Pipeline) saveInterval(b *registry.Binding) time.Duration {
	if b.Config != nil {
		if d, ok := b.Config.SaveIntervals[b.SensorType]; ok && d > 0 {
			return d
		}
	}
	if d, ok := p.opts.SaveIntervals[b.SensorType]; ok && d > 0 {
		return d
	}
	return p.opts.SaveIntervalDefault
}

func (p *Pipeline) sensorRow(b *registry.Binding, rec processors.Record) (*model.SensorData, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	row := &model.SensorData{
		DeviceID:   b.DeviceID,
		StationID:  b.StationID,
		SensorType: b.SensorType,
		Timestamp:  rec.At(),
		Payload:    payload,
	}
	targets := []*sql.NullFloat64{&row.Value1, &row.Value2, &row.Value3}
	for i, v := range rec.Cached() {
		if i >= len(targets) {
			break
		}
		*targets[i] = sql.NullFloat64{Float64: v, Valid: true}
	}
	return row, nil
}

// persistAlert writes the alert row, refreshes the station's cached risk
// rollup and fans the alert out. Observers get the alert even when the
// data store is down.
func (p *Pipeline) persistAlert(ctx context.Context, b *registry.Binding, alert *analyzer.Alert, now time.Time) {
	tlmAlerts.Inc(string(alert.Level), string(alert.Category))
	log.Warnf("pipeline: [%s] %s alert (%s): %s", b.StationName, alert.Level, alert.Category, alert.Message)

	details, err := json.Marshal(alert.Details)
	if err != nil {
		details = []byte("{}")
	}
	row := &model.Alert{
		StationID: b.StationID,
		DeviceID:  b.DeviceID,
		Level:     alert.Level,
		Category:  alert.Category,
		Message:   alert.Message,
		Details:   details,
		CreatedAt: now,
		Resolved:  false,
	}
	p.hub.Broadcast(message.NewAlert(row))

	if _, err := p.data.InsertAlert(ctx, row); err != nil {
		log.Errorf("pipeline: station %d: persisting alert: %v", b.StationID, err)
		return
	}
	counts, err := p.data.CountOpenAlerts(ctx, b.StationID)
	if err != nil {
		log.Warnf("pipeline: station %d: risk rollup: %v", b.StationID, err)
		return
	}
	if err := p.config.SetStationRisk(ctx, b.StationID, model.RollupRisk(counts)); err != nil {
		log.Warnf("pipeline: station %d: caching risk: %v", b.StationID, err)
	}
}
