// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
)

type fakeLister struct {
	mu      sync.Mutex
	devices []model.DeviceBinding
	err     error
	calls   int
}

func (f *fakeLister) ListActiveDevices(context.Context) ([]model.DeviceBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.DeviceBinding, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeLister) set(devices []model.DeviceBinding, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	f.err = err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBroker struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (f *fakeBroker) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeBroker) subs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	sort.Strings(out)
	return out
}

func (f *fakeBroker) unsubs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.unsubscribed))
	copy(out, f.unsubscribed)
	sort.Strings(out)
	return out
}

type fakeOriginStore struct {
	mu      sync.Mutex
	origins map[int64]*model.GNSSOrigin
	deleted []int64
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{origins: make(map[int64]*model.GNSSOrigin)}
}

func (f *fakeOriginStore) LoadOrigin(_ context.Context, deviceID int64) (*model.GNSSOrigin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.origins[deviceID], nil
}

func (f *fakeOriginStore) SaveOrigin(_ context.Context, origin *model.GNSSOrigin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origins[origin.DeviceID] = origin
	return nil
}

func (f *fakeOriginStore) DeleteOrigin(_ context.Context, deviceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.origins, deviceID)
	f.deleted = append(f.deleted, deviceID)
	return nil
}

func device(id int64, code string, sensorType model.SensorType, topic string) model.DeviceBinding {
	return model.DeviceBinding{
		DeviceID:      id,
		DeviceCode:    code,
		SensorType:    sensorType,
		MQTTTopic:     topic,
		StationID:     7,
		StationName:   "Ban Pho",
		Configuration: json.RawMessage(`{}`),
	}
}

func newTestRegistry(lister *fakeLister, broker *fakeBroker) *Registry {
	return New(lister, newFakeOriginStore(), broker, time.Minute, clock.NewMock())
}

func TestReconcileBuildsBindings(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(4, "GNSS-01", model.SensorGNSS, "stations/banpho/gnss"),
		device(5, "RAIN-01", model.SensorRain, "stations/banpho/rain"),
	}}
	broker := &fakeBroker{}
	r := newTestRegistry(lister, broker)

	require.NoError(t, r.Reconcile(context.Background()))

	b, ok := r.Lookup("stations/banpho/gnss")
	require.True(t, ok)
	assert.Equal(t, int64(4), b.DeviceID)
	assert.Equal(t, model.SensorGNSS, b.SensorType)
	assert.Equal(t, "Ban Pho", b.StationName)
	assert.NotNil(t, b.Processor)
	assert.NotNil(t, b.Config)

	_, ok = r.Lookup("stations/banpho/rain")
	assert.True(t, ok)
	assert.Equal(t, []string{"stations/banpho/gnss", "stations/banpho/rain"}, broker.subs())
}

func TestReconcileSkipsBlankTopics(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(4, "GNSS-01", model.SensorGNSS, "  "),
		device(5, "RAIN-01", model.SensorRain, "stations/banpho/rain"),
	}}
	broker := &fakeBroker{}
	r := newTestRegistry(lister, broker)

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Len(t, r.Topics(), 1)
	assert.Equal(t, []string{"stations/banpho/rain"}, broker.subs())
}

func TestReconcileSkipsUnknownSensorType(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(4, "TILT-01", model.SensorType("tilt"), "stations/banpho/tilt"),
	}}
	broker := &fakeBroker{}
	r := newTestRegistry(lister, broker)

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Empty(t, r.Topics())
	assert.Empty(t, broker.subs())
}

func TestReconcileDiffsSubscriptions(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(4, "GNSS-01", model.SensorGNSS, "topics/a"),
		device(5, "RAIN-01", model.SensorRain, "topics/b"),
	}}
	broker := &fakeBroker{}
	r := newTestRegistry(lister, broker)
	require.NoError(t, r.Reconcile(context.Background()))

	lister.set([]model.DeviceBinding{
		device(5, "RAIN-01", model.SensorRain, "topics/b"),
		device(6, "WATER-01", model.SensorWater, "topics/c"),
	}, nil)
	require.NoError(t, r.Reconcile(context.Background()))

	assert.Equal(t, []string{"topics/a", "topics/b", "topics/c"}, broker.subs())
	assert.Equal(t, []string{"topics/a"}, broker.unsubs())
	_, ok := r.Lookup("topics/a")
	assert.False(t, ok)
	_, ok = r.Lookup("topics/c")
	assert.True(t, ok)
}

func TestProcessorSurvivesDeactivation(t *testing.T) {
	gnss := device(4, "GNSS-01", model.SensorGNSS, "topics/a")
	lister := &fakeLister{devices: []model.DeviceBinding{gnss}}
	broker := &fakeBroker{}
	r := newTestRegistry(lister, broker)

	require.NoError(t, r.Reconcile(context.Background()))
	first, ok := r.Lookup("topics/a")
	require.True(t, ok)

	lister.set(nil, nil)
	require.NoError(t, r.Reconcile(context.Background()))
	_, ok = r.Lookup("topics/a")
	require.False(t, ok)

	lister.set([]model.DeviceBinding{gnss}, nil)
	require.NoError(t, r.Reconcile(context.Background()))
	again, ok := r.Lookup("topics/a")
	require.True(t, ok)

	assert.Same(t, first.Processor, again.Processor)
}

func TestReconcileKeepsSnapshotOnStoreOutage(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(5, "RAIN-01", model.SensorRain, "topics/b"),
	}}
	broker := &fakeBroker{}
	r := newTestRegistry(lister, broker)
	require.NoError(t, r.Reconcile(context.Background()))

	lister.set(nil, errors.New("connection refused"))
	err := r.Reconcile(context.Background())
	require.Error(t, err)

	_, ok := r.Lookup("topics/b")
	assert.True(t, ok, "failed reconcile must keep the last good snapshot")
	assert.Empty(t, broker.unsubs())
}

func TestInvalidStationConfigFallsBackToDefaults(t *testing.T) {
	d := device(5, "RAIN-01", model.SensorRain, "topics/b")
	d.Configuration = json.RawMessage(`{not json`)
	lister := &fakeLister{devices: []model.DeviceBinding{d}}
	r := newTestRegistry(lister, &fakeBroker{})

	require.NoError(t, r.Reconcile(context.Background()))
	b, ok := r.Lookup("topics/b")
	require.True(t, ok)
	assert.Equal(t, stationcfg.DefaultRainWarningMMH, b.Config.Rain.WarningMMH)
	assert.Equal(t, stationcfg.DefaultRainConfirmSteps, b.Config.Rain.ConfirmSteps)
}

func TestDuplicateTopicKeepsFirstDevice(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(5, "RAIN-01", model.SensorRain, "topics/shared"),
		device(6, "WATER-01", model.SensorWater, "topics/shared"),
	}}
	r := newTestRegistry(lister, &fakeBroker{})

	require.NoError(t, r.Reconcile(context.Background()))
	b, ok := r.Lookup("topics/shared")
	require.True(t, ok)
	assert.Equal(t, int64(5), b.DeviceID)
}

func TestResetOriginWithoutCachedProcessorDeletesRow(t *testing.T) {
	origins := newFakeOriginStore()
	origins.origins[9] = &model.GNSSOrigin{DeviceID: 9}
	r := New(&fakeLister{}, origins, &fakeBroker{}, time.Minute, clock.NewMock())

	require.NoError(t, r.ResetOrigin(context.Background(), 9))
	assert.Equal(t, []int64{9}, origins.deleted)
}

func TestResetOriginCachedGNSSResetsProcessor(t *testing.T) {
	origins := newFakeOriginStore()
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(4, "GNSS-01", model.SensorGNSS, "topics/a"),
	}}
	r := New(lister, origins, &fakeBroker{}, time.Minute, clock.NewMock())
	require.NoError(t, r.Reconcile(context.Background()))

	require.NoError(t, r.ResetOrigin(context.Background(), 4))
	assert.Equal(t, []int64{4}, origins.deleted)
}

func TestResetOriginRejectsNonGNSSDevice(t *testing.T) {
	lister := &fakeLister{devices: []model.DeviceBinding{
		device(5, "RAIN-01", model.SensorRain, "topics/b"),
	}}
	r := newTestRegistry(lister, &fakeBroker{})
	require.NoError(t, r.Reconcile(context.Background()))

	err := r.ResetOrigin(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gnss")
}

func TestRunReconcilesOnEveryTick(t *testing.T) {
	lister := &fakeLister{}
	clk := clock.NewMock()
	r := New(lister, newFakeOriginStore(), &fakeBroker{}, time.Minute, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	require.Eventually(t, func() bool { return lister.callCount() >= 1 },
		time.Second, 5*time.Millisecond, "initial reconcile")

	// The ticker is created after the initial pass; advance the clock on
	// every poll so the first tick cannot be lost to that window.
	require.Eventually(t, func() bool {
		clk.Add(time.Minute)
		return lister.callCount() >= 2
	}, time.Second, 5*time.Millisecond, "tick reconcile")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
