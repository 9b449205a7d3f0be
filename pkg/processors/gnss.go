// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package processors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tundzai001/land-slide-web/pkg/geo"
	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
	"github.com/tundzai001/land-slide-web/pkg/wire"
)

// GNSS processor states.
const (
	StateAwaitingCandidates = "AWAITING_CANDIDATES"
	StateOriginLocked       = "ORIGIN_LOCKED"
)

// WaitingForQuality is the origin_status detail emitted while fixes are
// below the calibration quality floor.
const WaitingForQuality = "WAITING_FOR_QUALITY"

const (
	defaultCandidates     = 5
	defaultMaxSpreadM     = 5.0
	defaultVelocityWindow = 5
	defaultMinFixQuality  = 4
	defaultStartWait      = 2 * time.Second

	// minPairDT guards velocity math against duplicate or reordered
	// timestamps from the receiver.
	minPairDT = 0.01

	originLoadTimeout = 10 * time.Second
	originSaveTimeout = 5 * time.Second
	saveRetryInterval = 30 * time.Second
)

// OriginStore persists locked GNSS origins. LoadOrigin returns (nil, nil)
// when the device has no persisted origin.
type OriginStore interface {
	LoadOrigin(ctx context.Context, deviceID int64) (*model.GNSSOrigin, error)
	SaveOrigin(ctx context.Context, origin *model.GNSSOrigin) error
	DeleteOrigin(ctx context.Context, deviceID int64) error
}

// GNSSOptions tune the calibration state machine. Zero values select the
// defaults.
type GNSSOptions struct {
	Candidates     int
	MaxSpreadM     float64
	VelocityWindow int
	MinFixQuality  int
	// StartWait bounds how long Start blocks on the initial origin load.
	StartWait time.Duration
}

func (o GNSSOptions) withDefaults() GNSSOptions {
	if o.Candidates <= 0 {
		o.Candidates = defaultCandidates
	}
	if o.MaxSpreadM <= 0 {
		o.MaxSpreadM = defaultMaxSpreadM
	}
	if o.VelocityWindow <= 0 {
		o.VelocityWindow = defaultVelocityWindow
	}
	if o.MinFixQuality <= 0 {
		o.MinFixQuality = defaultMinFixQuality
	}
	if o.StartWait <= 0 {
		o.StartWait = defaultStartWait
	}
	return o
}

// GNSSStats counts what happened to the frames a processor saw.
type GNSSStats struct {
	TotalProcessed     int64
	LowQualityRejected int64
	OriginResets       int64
}

// GNSSRecord is one calibrated displacement/velocity sample.
type GNSSRecord struct {
	Timestamp           int64   `json:"timestamp"`
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	Height              float64 `json:"h"`
	PosE                float64 `json:"pos_e"`
	PosN                float64 `json:"pos_n"`
	PosU                float64 `json:"pos_u"`
	TotalDisplacementMM float64 `json:"total_displacement_mm"`
	VelE                float64 `json:"vel_e"`
	VelN                float64 `json:"vel_n"`
	VelU                float64 `json:"vel_u"`
	Speed2D             float64 `json:"speed_2d"`
	Speed2DMMS          float64 `json:"speed_2d_mm_s"`
	FixQuality          int     `json:"fix_quality"`
	NumSats             int     `json:"num_sats"`
	HDOP                float64 `json:"hdop"`

	at time.Time
}

// At implements Record.
func (r *GNSSRecord) At() time.Time { return r.at }

// Cached implements Record.
func (r *GNSSRecord) Cached() []float64 {
	return []float64{r.Speed2DMMS, r.TotalDisplacementMM}
}

type gnssSample struct {
	t    time.Time
	ecef geo.Vec3
}

type lockedOrigin struct {
	geodetic geo.Geodetic
	ecef     geo.Vec3
	rotation geo.Mat3
	spreadM  float64
	points   int
	lockedAt time.Time
}

// GNSSProcessor calibrates one rover against a self-surveyed origin and
// derives ENU displacement and velocity from raw $GNGGA fixes.
type GNSSProcessor struct {
	deviceID int64
	opts     GNSSOptions
	store    OriginStore

	mu          sync.Mutex
	state       string
	candidates  []geo.Geodetic
	origin      *lockedOrigin
	history     []gnssSample
	stats       GNSSStats
	savePending bool
	saveRunning bool
	lastSaveTry time.Time
}

// NewGNSSProcessor allocates the processor in AWAITING_CANDIDATES. Call
// Start before feeding frames so a persisted origin can be restored.
func NewGNSSProcessor(deviceID int64, store OriginStore, opts GNSSOptions) *GNSSProcessor {
	return &GNSSProcessor{
		deviceID: deviceID,
		opts:     opts.withDefaults(),
		store:    store,
		state:    StateAwaitingCandidates,
	}
}

// Type reports the sensor type handled by this processor.
func (p *GNSSProcessor) Type() model.SensorType { return model.SensorGNSS }

// State returns the current calibration state.
func (p *GNSSProcessor) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a copy of the frame counters.
func (p *GNSSProcessor) Stats() GNSSStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Origin returns the locked origin position and spread, if locked.
func (p *GNSSProcessor) Origin() (geo.Geodetic, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.origin == nil {
		return geo.Geodetic{}, 0, false
	}
	return p.origin.geodetic, p.origin.spreadM, true
}

// Start restores a persisted origin in the background. It returns once the
// load finished or after a short wait; a load completing later still
// transitions the processor, so frame intake is never blocked on storage.
func (p *GNSSProcessor) Start(ctx context.Context) {
	if p.store == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		loadCtx, cancel := context.WithTimeout(ctx, originLoadTimeout)
		defer cancel()
		p.loadOrigin(loadCtx)
	}()
	select {
	case <-done:
	case <-time.After(p.opts.StartWait):
		log.Debugf("gnss device %d: origin load still in flight, continuing uncalibrated", p.deviceID)
	case <-ctx.Done():
	}
}

func (p *GNSSProcessor) loadOrigin(ctx context.Context) {
	row, err := p.store.LoadOrigin(ctx, p.deviceID)
	if err != nil {
		log.Warnf("gnss device %d: origin load failed: %v", p.deviceID, err)
		return
	}
	if row == nil {
		log.Debugf("gnss device %d: no persisted origin, collecting candidates", p.deviceID)
		return
	}
	rot, err := row.Rotation()
	if err != nil {
		log.Warnf("gnss device %d: persisted origin has bad rotation matrix: %v", p.deviceID, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateOriginLocked {
		// A fresh lock beat the load; the persisted row is already stale
		// and the upsert from that lock wins.
		return
	}
	p.origin = &lockedOrigin{
		geodetic: geo.Geodetic{Lat: row.Latitude, Lon: row.Longitude, Height: row.Height},
		ecef:     geo.Vec3{X: row.ECEFX, Y: row.ECEFY, Z: row.ECEFZ},
		rotation: geo.Mat3(rot),
		spreadM:  row.SpreadMeters,
		points:   row.NumPoints,
		lockedAt: row.LockedAt,
	}
	p.state = StateOriginLocked
	p.candidates = nil
	log.Infof("gnss device %d: restored origin (%.6f, %.6f, %.2f)", p.deviceID, row.Latitude, row.Longitude, row.Height)
}

// ProcessFrame consumes one $GNGGA sentence observed at time at.
func (p *GNSSProcessor) ProcessFrame(line string, at time.Time) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalProcessed++

	gga, err := wire.ParseGGA(line)
	if err != nil {
		log.Debugf("gnss device %d: unparseable frame: %v", p.deviceID, err)
		return Result{}
	}

	if p.state == StateAwaitingCandidates {
		return p.collectCandidate(gga, at)
	}
	return p.processLocked(gga, at)
}

func (p *GNSSProcessor) collectCandidate(gga *wire.GGA, at time.Time) Result {
	if gga.FixQuality < p.opts.MinFixQuality {
		p.stats.LowQualityRejected++
		return Result{Origin: &OriginEvent{
			Kind:   OriginStatus,
			Status: WaitingForQuality,
			Count:  len(p.candidates),
			Target: p.opts.Candidates,
		}}
	}

	p.candidates = append(p.candidates, geo.Geodetic{Lat: gga.Lat, Lon: gga.Lon, Height: gga.Height})
	if len(p.candidates) < p.opts.Candidates {
		return Result{Origin: &OriginEvent{
			Kind:   OriginCollecting,
			Count:  len(p.candidates),
			Target: p.opts.Candidates,
		}}
	}

	centroid := geo.Centroid(p.candidates)
	var spread float64
	for _, c := range p.candidates {
		if d := geo.Haversine3D(c, centroid); d > spread {
			spread = d
		}
	}

	if spread > p.opts.MaxSpreadM {
		p.candidates = nil
		p.stats.OriginResets++
		return Result{Origin: &OriginEvent{Kind: OriginReset, SpreadM: spread, Target: p.opts.Candidates}}
	}

	p.origin = &lockedOrigin{
		geodetic: centroid,
		ecef:     geo.ECEFFromGeodetic(centroid),
		rotation: geo.ENURotation(centroid.Lat, centroid.Lon),
		spreadM:  spread,
		points:   len(p.candidates),
		lockedAt: at.UTC(),
	}
	p.state = StateOriginLocked
	p.candidates = nil
	p.history = nil
	p.savePending = true
	p.kickSaveLocked(at)

	return Result{Origin: &OriginEvent{
		Kind:    OriginLocked,
		Lat:     centroid.Lat,
		Lon:     centroid.Lon,
		Height:  centroid.Height,
		SpreadM: spread,
		Count:   p.origin.points,
		Target:  p.opts.Candidates,
	}}
}

func (p *GNSSProcessor) processLocked(gga *wire.GGA, at time.Time) Result {
	if gga.FixQuality < p.opts.MinFixQuality {
		p.stats.LowQualityRejected++
		return Result{}
	}

	pos := geo.Geodetic{Lat: gga.Lat, Lon: gga.Lon, Height: gga.Height}
	ecef := geo.ECEFFromGeodetic(pos)

	p.history = append(p.history, gnssSample{t: at, ecef: ecef})
	if max := p.opts.VelocityWindow + 1; len(p.history) > max {
		p.history = p.history[len(p.history)-max:]
	}

	if p.savePending && !p.saveRunning && at.Sub(p.lastSaveTry) >= saveRetryInterval {
		p.kickSaveLocked(at)
	}

	if len(p.history) < 2 {
		return Result{}
	}
	last := p.history[len(p.history)-1]
	prev := p.history[len(p.history)-2]
	if last.t.Sub(prev.t).Seconds() < minPairDT {
		return Result{}
	}

	vel := p.velocityLocked()
	enu := p.origin.rotation.Apply(ecef.Sub(p.origin.ecef))
	speed2D := math.Hypot(vel.X, vel.Y)

	return Result{Record: &GNSSRecord{
		Timestamp:           at.Unix(),
		Lat:                 pos.Lat,
		Lon:                 pos.Lon,
		Height:              pos.Height,
		PosE:                enu.X,
		PosN:                enu.Y,
		PosU:                enu.Z,
		TotalDisplacementMM: 1000.0 * enu.Norm(),
		VelE:                vel.X,
		VelN:                vel.Y,
		VelU:                vel.Z,
		Speed2D:             speed2D,
		Speed2DMMS:          1000.0 * speed2D,
		FixQuality:          gga.FixQuality,
		NumSats:             gga.NumSats,
		HDOP:                gga.HDOP,
		at:                  at,
	}}
}

// velocityLocked returns the ENU velocity: the mean of per-pair velocities
// once the window is full, the raw last-pair velocity before that. Pairs
// closer than minPairDT are skipped.
func (p *GNSSProcessor) velocityLocked() geo.Vec3 {
	pairVelocity := func(a, b gnssSample) (geo.Vec3, bool) {
		dt := b.t.Sub(a.t).Seconds()
		if dt < minPairDT {
			return geo.Vec3{}, false
		}
		return p.origin.rotation.Apply(b.ecef.Sub(a.ecef)).Scale(1.0 / dt), true
	}

	if len(p.history) >= p.opts.VelocityWindow {
		var sum geo.Vec3
		var n int
		for i := 1; i < len(p.history); i++ {
			if v, ok := pairVelocity(p.history[i-1], p.history[i]); ok {
				sum.X += v.X
				sum.Y += v.Y
				sum.Z += v.Z
				n++
			}
		}
		if n > 0 {
			return sum.Scale(1.0 / float64(n))
		}
	}
	v, _ := pairVelocity(p.history[len(p.history)-2], p.history[len(p.history)-1])
	return v
}

// kickSaveLocked persists the origin in the background. Caller holds p.mu.
// Retry pacing keys off frame time so it stays consistent with the rest of
// the state machine.
func (p *GNSSProcessor) kickSaveLocked(at time.Time) {
	if p.store == nil || p.origin == nil || p.saveRunning {
		return
	}
	p.saveRunning = true
	p.lastSaveTry = at

	row := &model.GNSSOrigin{
		DeviceID:     p.deviceID,
		Latitude:     p.origin.geodetic.Lat,
		Longitude:    p.origin.geodetic.Lon,
		Height:       p.origin.geodetic.Height,
		LockedAt:     p.origin.lockedAt,
		SpreadMeters: p.origin.spreadM,
		NumPoints:    p.origin.points,
		ECEFX:        p.origin.ecef.X,
		ECEFY:        p.origin.ecef.Y,
		ECEFZ:        p.origin.ecef.Z,
	}
	if err := row.SetRotation([3][3]float64(p.origin.rotation)); err != nil {
		log.Errorf("gnss device %d: cannot encode rotation matrix: %v", p.deviceID, err)
		p.saveRunning = false
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), originSaveTimeout)
		defer cancel()
		err := p.store.SaveOrigin(ctx, row)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.saveRunning = false
		if err != nil {
			// Keep the in-memory origin authoritative and retry later;
			// the upsert is idempotent by device_id.
			log.Errorf("gnss device %d: origin save failed, will retry: %v", p.deviceID, err)
			return
		}
		p.savePending = false
		log.Infof("gnss device %d: origin persisted", p.deviceID)
	}()
}

// Reset drops the persisted and in-memory origin and returns the processor
// to AWAITING_CANDIDATES. This is the only way to discard a calibration.
func (p *GNSSProcessor) Reset(ctx context.Context) error {
	var err error
	if p.store != nil {
		err = p.store.DeleteOrigin(ctx, p.deviceID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateAwaitingCandidates
	p.origin = nil
	p.candidates = nil
	p.history = nil
	p.savePending = false
	p.stats.OriginResets++
	log.Infof("gnss device %d: origin reset requested", p.deviceID)
	return err
}
