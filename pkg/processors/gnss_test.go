// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package processors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tundzai001/land-slide-web/pkg/geo"
	"github.com/tundzai001/land-slide-web/pkg/model"
)

const (
	baseLat    = 21.0280
	baseLon    = 105.8540
	baseHeight = 12.3
)

type fakeOriginStore struct {
	mu          sync.Mutex
	origin      *model.GNSSOrigin
	loadErr     error
	deleteCalls int

	failSaves atomic.Bool
	saveCalls atomic.Int32
}

func (s *fakeOriginStore) LoadOrigin(ctx context.Context, deviceID int64) (*model.GNSSOrigin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.origin, nil
}

func (s *fakeOriginStore) SaveOrigin(ctx context.Context, origin *model.GNSSOrigin) error {
	s.saveCalls.Add(1)
	if s.failSaves.Load() {
		return fmt.Errorf("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = origin
	return nil
}

func (s *fakeOriginStore) DeleteOrigin(ctx context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	s.origin = nil
	return nil
}

func (s *fakeOriginStore) stored() *model.GNSSOrigin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

// gga renders a checksum-less $GNGGA sentence the way the rovers emit them.
func gga(lat, lon float64, quality int, height float64) string {
	latDeg := int(math.Abs(lat))
	latMin := (math.Abs(lat) - float64(latDeg)) * 60.0
	latHemi := "N"
	if lat < 0 {
		latHemi = "S"
	}
	lonDeg := int(math.Abs(lon))
	lonMin := (math.Abs(lon) - float64(lonDeg)) * 60.0
	lonHemi := "E"
	if lon < 0 {
		lonHemi = "W"
	}
	return fmt.Sprintf("$GNGGA,123519.00,%02d%012.9f,%s,%03d%012.9f,%s,%d,12,0.58,%.4f,M,0.0,M,,",
		latDeg, latMin, latHemi, lonDeg, lonMin, lonHemi, quality, height)
}

func lockProcessor(t *testing.T, p *GNSSProcessor, at time.Time) time.Time {
	t.Helper()
	for i := 0; i < defaultCandidates; i++ {
		res := p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
		require.Nil(t, res.Record)
		at = at.Add(time.Second)
	}
	require.Equal(t, StateOriginLocked, p.State())
	return at
}

func TestGNSSOriginLockAtCentroid(t *testing.T) {
	store := &fakeOriginStore{}
	p := NewGNSSProcessor(1, store, GNSSOptions{})
	p.Start(context.Background())
	require.Equal(t, StateAwaitingCandidates, p.State())

	at := time.Unix(1700000000, 0)
	heights := []float64{12.1, 12.2, 12.3, 12.4, 12.5}

	var last Result
	for i, h := range heights {
		last = p.ProcessFrame(gga(baseLat, baseLon, 4, h), at.Add(time.Duration(i)*time.Second))
		require.Nil(t, last.Record, "no calibrated record before lock")
		if i < len(heights)-1 {
			require.NotNil(t, last.Origin)
			assert.Equal(t, OriginCollecting, last.Origin.Kind)
			assert.Equal(t, i+1, last.Origin.Count)
			assert.Equal(t, 5, last.Origin.Target)
		}
	}

	require.NotNil(t, last.Origin)
	require.Equal(t, OriginLocked, last.Origin.Kind)
	assert.InDelta(t, baseLat, last.Origin.Lat, 1e-9)
	assert.InDelta(t, baseLon, last.Origin.Lon, 1e-9)
	assert.InDelta(t, baseHeight, last.Origin.Height, 1e-9)
	assert.InDelta(t, 0.2, last.Origin.SpreadM, 1e-6)
	assert.Equal(t, StateOriginLocked, p.State())

	require.Eventually(t, func() bool { return store.saveCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	row := store.stored()
	require.NotNil(t, row)
	assert.InDelta(t, baseLat, row.Latitude, 1e-9)
	assert.Equal(t, 5, row.NumPoints)
	rot, err := row.Rotation()
	require.NoError(t, err)
	assert.InDelta(t, math.Cos(baseLat*math.Pi/180), rot[1][2], 1e-9)
}

func TestGNSSOriginSavedExactlyOnce(t *testing.T) {
	store := &fakeOriginStore{}
	p := NewGNSSProcessor(1, store, GNSSOptions{})
	at := lockProcessor(t, p, time.Unix(1700000000, 0))

	require.Eventually(t, func() bool { return store.saveCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
		at = at.Add(time.Second)
	}
	assert.Equal(t, int32(1), store.saveCalls.Load())
}

func TestGNSSWaitingForQualityDuringCalibration(t *testing.T) {
	p := NewGNSSProcessor(1, &fakeOriginStore{}, GNSSOptions{})
	at := time.Unix(1700000000, 0)

	res := p.ProcessFrame(gga(baseLat, baseLon, 1, baseHeight), at)
	require.Nil(t, res.Record)
	require.NotNil(t, res.Origin)
	assert.Equal(t, OriginStatus, res.Origin.Kind)
	assert.Equal(t, WaitingForQuality, res.Origin.Status)
	assert.Equal(t, 0, res.Origin.Count)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.LowQualityRejected)
	assert.Equal(t, StateAwaitingCandidates, p.State())
}

func TestGNSSScatterResetsCandidates(t *testing.T) {
	store := &fakeOriginStore{}
	p := NewGNSSProcessor(1, store, GNSSOptions{})
	at := time.Unix(1700000000, 0)

	// Roughly 50 m north of the base position.
	farLat := baseLat + 50.0/111194.9

	var res Result
	for i := 0; i < 4; i++ {
		res = p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
		at = at.Add(time.Second)
	}
	res = p.ProcessFrame(gga(farLat, baseLon, 4, baseHeight), at)
	at = at.Add(time.Second)

	require.NotNil(t, res.Origin)
	assert.Equal(t, OriginReset, res.Origin.Kind)
	assert.Greater(t, res.Origin.SpreadM, 5.0)
	assert.Equal(t, StateAwaitingCandidates, p.State())
	assert.Equal(t, int64(1), p.Stats().OriginResets)
	assert.Equal(t, int32(0), store.saveCalls.Load())

	// A fresh, tight batch locks normally.
	for i := 0; i < 5; i++ {
		res = p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
		at = at.Add(time.Second)
	}
	assert.Equal(t, OriginLocked, res.Origin.Kind)
}

func TestGNSSVelocityAndDisplacement(t *testing.T) {
	store := &fakeOriginStore{}
	p := NewGNSSProcessor(1, store, GNSSOptions{})
	at := lockProcessor(t, p, time.Unix(1700000000, 0))

	// One millimeter east per 100 ms: 0.01 m/s due east.
	base := geo.Geodetic{Lat: baseLat, Lon: baseLon, Height: baseHeight}
	mPerDegLon := geo.Haversine(base, geo.Geodetic{Lat: baseLat, Lon: baseLon + 0.001, Height: baseHeight}) / 0.001
	lonStep := 0.001 / mPerDegLon

	var rec *GNSSRecord
	for i := 1; i <= 8; i++ {
		res := p.ProcessFrame(gga(baseLat, baseLon+float64(i)*lonStep, 4, baseHeight), at)
		at = at.Add(100 * time.Millisecond)
		if i == 1 {
			// First frame after the lock has no pair yet.
			require.Nil(t, res.Record)
			continue
		}
		require.NotNil(t, res.Record, "frame %d", i)
		rec = res.Record.(*GNSSRecord)
	}

	assert.InDelta(t, 0.01, rec.VelE, 5e-4)
	assert.InDelta(t, 0.0, rec.VelN, 5e-4)
	assert.InDelta(t, 0.01, rec.Speed2D, 5e-4)
	assert.InDelta(t, 10.0, rec.Speed2DMMS, 0.5)
	assert.InDelta(t, 8.0, rec.TotalDisplacementMM, 0.1)

	// Internal consistency between the published fields.
	wantDisp := 1000.0 * math.Sqrt(rec.PosE*rec.PosE+rec.PosN*rec.PosN+rec.PosU*rec.PosU)
	assert.InEpsilon(t, wantDisp, rec.TotalDisplacementMM, 1e-9)
	assert.InEpsilon(t, math.Hypot(rec.VelE, rec.VelN)*1000.0, rec.Speed2DMMS, 1e-9)
}

func TestGNSSDuplicateTimestampDropped(t *testing.T) {
	p := NewGNSSProcessor(1, &fakeOriginStore{}, GNSSOptions{})
	at := lockProcessor(t, p, time.Unix(1700000000, 0))

	res := p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
	require.Nil(t, res.Record)

	// Same wall time again: the pair is degenerate and must not divide by
	// (almost) zero.
	res = p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
	assert.True(t, res.Drop())

	res = p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at.Add(time.Second))
	require.NotNil(t, res.Record)
}

func TestGNSSLowQualityDroppedWhileLocked(t *testing.T) {
	p := NewGNSSProcessor(1, &fakeOriginStore{}, GNSSOptions{})
	at := lockProcessor(t, p, time.Unix(1700000000, 0))

	res := p.ProcessFrame(gga(baseLat, baseLon, 2, baseHeight), at)
	assert.True(t, res.Drop())
	assert.Equal(t, int64(1), p.Stats().LowQualityRejected)
}

func TestGNSSRestoresPersistedOrigin(t *testing.T) {
	seed := &model.GNSSOrigin{
		DeviceID:     7,
		Latitude:     baseLat,
		Longitude:    baseLon,
		Height:       baseHeight,
		LockedAt:     time.Unix(1690000000, 0),
		SpreadMeters: 0.4,
		NumPoints:    5,
		ECEFX:        geo.ECEFFromGeodetic(geo.Geodetic{Lat: baseLat, Lon: baseLon, Height: baseHeight}).X,
		ECEFY:        geo.ECEFFromGeodetic(geo.Geodetic{Lat: baseLat, Lon: baseLon, Height: baseHeight}).Y,
		ECEFZ:        geo.ECEFFromGeodetic(geo.Geodetic{Lat: baseLat, Lon: baseLon, Height: baseHeight}).Z,
	}
	require.NoError(t, seed.SetRotation([3][3]float64(geo.ENURotation(baseLat, baseLon))))
	store := &fakeOriginStore{origin: seed}

	p := NewGNSSProcessor(7, store, GNSSOptions{})
	p.Start(context.Background())

	require.Equal(t, StateOriginLocked, p.State())
	origin, spread, ok := p.Origin()
	require.True(t, ok)
	assert.InDelta(t, baseLat, origin.Lat, 1e-9)
	assert.InDelta(t, 0.4, spread, 1e-9)

	// No recalibration: frames go straight to measurement.
	at := time.Unix(1700000000, 0)
	res := p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
	require.Nil(t, res.Origin)
	res = p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at.Add(time.Second))
	require.NotNil(t, res.Record)
	assert.InDelta(t, 0.0, res.Record.(*GNSSRecord).TotalDisplacementMM, 1e-6)
}

func TestGNSSSaveFailureKeepsLockAndRetries(t *testing.T) {
	store := &fakeOriginStore{}
	store.failSaves.Store(true)

	p := NewGNSSProcessor(1, store, GNSSOptions{})
	at := lockProcessor(t, p, time.Unix(1700000000, 0))

	// The lock survives the failed save.
	require.Equal(t, StateOriginLocked, p.State())
	require.Eventually(t, func() bool { return store.saveCalls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, store.stored())

	// Records keep flowing while the save is pending.
	res := p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at)
	require.Nil(t, res.Record)
	res = p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), at.Add(time.Second))
	require.NotNil(t, res.Record)

	// Once the store recovers, a later frame retries the save.
	store.failSaves.Store(false)
	retryAt := at.Add(saveRetryInterval + 2*time.Second)
	require.Eventually(t, func() bool {
		p.ProcessFrame(gga(baseLat, baseLon, 4, baseHeight), retryAt)
		retryAt = retryAt.Add(saveRetryInterval)
		return store.stored() != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGNSSResetDropsCalibration(t *testing.T) {
	store := &fakeOriginStore{}
	p := NewGNSSProcessor(1, store, GNSSOptions{})
	lockProcessor(t, p, time.Unix(1700000000, 0))

	require.NoError(t, p.Reset(context.Background()))
	assert.Equal(t, StateAwaitingCandidates, p.State())
	assert.Nil(t, store.stored())
	assert.Equal(t, 1, store.deleteCalls)

	_, _, locked := p.Origin()
	assert.False(t, locked)
}

func TestGNSSUnparseableFrameDropped(t *testing.T) {
	p := NewGNSSProcessor(1, &fakeOriginStore{}, GNSSOptions{})
	res := p.ProcessFrame("$GNGGA,garbage", time.Unix(1700000000, 0))
	assert.True(t, res.Drop())
	assert.Equal(t, int64(1), p.Stats().TotalProcessed)
}
