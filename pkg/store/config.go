// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

// ConfigStore holds projects, stations, devices, GNSS origins and the
// installation-wide settings.
type ConfigStore struct {
	db      *sqlx.DB
	dialect dialect
}

func (s *ConfigStore) migrate(ctx context.Context) error {
	for _, stmt := range configDDL(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the backing database is reachable.
func (s *ConfigStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListActiveDevices returns every active device joined with the station
// fields the registry needs for a topic binding.
func (s *ConfigStore) ListActiveDevices(ctx context.Context) ([]model.DeviceBinding, error) {
	const q = `SELECT d.id AS device_id, d.device_code, d.sensor_type, d.mqtt_topic,
	s.id AS station_id, s.name AS station_name, s.configuration
	FROM devices d JOIN stations s ON s.id = d.station_id
	WHERE d.is_active = ?`
	var out []model.DeviceBinding
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), true); err != nil {
		return nil, fmt.Errorf("listing active devices: %w", err)
	}
	return out, nil
}

// GetStation fetches one station row.
func (s *ConfigStore) GetStation(ctx context.Context, id int64) (*model.Station, error) {
	var st model.Station
	err := s.db.GetContext(ctx, &st, s.db.Rebind(`SELECT * FROM stations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("station %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting station %d: %w", id, err)
	}
	return &st, nil
}

// ListStations returns every station row.
func (s *ConfigStore) ListStations(ctx context.Context) ([]model.Station, error) {
	var out []model.Station
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM stations ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}
	return out, nil
}

// GetDevice fetches one device row.
func (s *ConfigStore) GetDevice(ctx context.Context, id int64) (*model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d, s.db.Rebind(`SELECT * FROM devices WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device %d: %w", id, err)
	}
	return &d, nil
}

// LoadOrigin returns the persisted origin for a device, or (nil, nil) when
// the device has never locked.
func (s *ConfigStore) LoadOrigin(ctx context.Context, deviceID int64) (*model.GNSSOrigin, error) {
	var o model.GNSSOrigin
	err := s.db.GetContext(ctx, &o, s.db.Rebind(`SELECT * FROM gnss_origins WHERE device_id = ?`), deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading origin for device %d: %w", deviceID, err)
	}
	return &o, nil
}

// SaveOrigin upserts the origin row keyed by device id.
func (s *ConfigStore) SaveOrigin(ctx context.Context, origin *model.GNSSOrigin) error {
	const q = `INSERT INTO gnss_origins
	(device_id, latitude, longitude, height, locked_at, spread_meters, num_points, rotation_matrix, ecef_x, ecef_y, ecef_z)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (device_id) DO UPDATE SET
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	height = excluded.height,
	locked_at = excluded.locked_at,
	spread_meters = excluded.spread_meters,
	num_points = excluded.num_points,
	rotation_matrix = excluded.rotation_matrix,
	ecef_x = excluded.ecef_x,
	ecef_y = excluded.ecef_y,
	ecef_z = excluded.ecef_z`
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(q),
			origin.DeviceID, origin.Latitude, origin.Longitude, origin.Height,
			origin.LockedAt, origin.SpreadMeters, origin.NumPoints, origin.RotationJSON,
			origin.ECEFX, origin.ECEFY, origin.ECEFZ)
		return err
	})
	if err != nil {
		tlmErrors.Inc("save_origin")
		return fmt.Errorf("saving origin for device %d: %w", origin.DeviceID, err)
	}
	tlmWrites.Inc("gnss_origins")
	return nil
}

// DeleteOrigin removes a device's persisted origin. Deleting a missing
// row is not an error.
func (s *ConfigStore) DeleteOrigin(ctx context.Context, deviceID int64) error {
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM gnss_origins WHERE device_id = ?`), deviceID)
		return err
	})
	if err != nil {
		tlmErrors.Inc("delete_origin")
		return fmt.Errorf("deleting origin for device %d: %w", deviceID, err)
	}
	return nil
}

// TouchDevice stamps the device heartbeat.
func (s *ConfigStore) TouchDevice(ctx context.Context, deviceID int64, at time.Time) error {
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE devices SET last_data_time = ? WHERE id = ?`), at, deviceID)
		return err
	})
	if err != nil {
		tlmErrors.Inc("touch_device")
		return fmt.Errorf("touching device %d: %w", deviceID, err)
	}
	return nil
}

// TouchStation stamps the station heartbeat and flips it online.
func (s *ConfigStore) TouchStation(ctx context.Context, stationID int64, at time.Time) error {
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE stations SET last_update = ?, status = ? WHERE id = ?`),
			at, model.StationOnline, stationID)
		return err
	})
	if err != nil {
		tlmErrors.Inc("touch_station")
		return fmt.Errorf("touching station %d: %w", stationID, err)
	}
	return nil
}

// SetStationRisk updates the station's rollup risk color.
func (s *ConfigStore) SetStationRisk(ctx context.Context, stationID int64, risk model.RiskLevel) error {
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE stations SET risk_level = ? WHERE id = ?`), string(risk), stationID)
		return err
	})
	if err != nil {
		tlmErrors.Inc("set_station_risk")
		return fmt.Errorf("setting risk for station %d: %w", stationID, err)
	}
	return nil
}

// GetGlobalConfig reads one installation-wide setting.
func (s *ConfigStore) GetGlobalConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM global_config WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("global config %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting global config %q: %w", key, err)
	}
	return value, nil
}

// SetGlobalConfig upserts one installation-wide setting.
func (s *ConfigStore) SetGlobalConfig(ctx context.Context, key, value string) error {
	const q = `INSERT INTO global_config (key, value) VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(q), key, value)
		return err
	})
	if err != nil {
		tlmErrors.Inc("set_global_config")
		return fmt.Errorf("setting global config %q: %w", key, err)
	}
	return nil
}

// CreateProject inserts a project and returns its id.
func (s *ConfigStore) CreateProject(ctx context.Context, p *model.Project) (int64, error) {
	const q = `INSERT INTO projects (name, description, created_at) VALUES (?, ?, ?) RETURNING id`
	var id int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		id, err = insertReturningID(ctx, tx, q, p.Name, p.Description, p.CreatedAt)
		return err
	})
	if isConflict(err) {
		return 0, fmt.Errorf("project %q: %w", p.Name, ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("creating project %q: %w", p.Name, err)
	}
	return id, nil
}

// CreateStation inserts a station and returns its id.
func (s *ConfigStore) CreateStation(ctx context.Context, st *model.Station) (int64, error) {
	const q = `INSERT INTO stations
	(project_id, station_code, name, latitude, longitude, status, risk_level, configuration)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	status := st.Status
	if status == "" {
		status = model.StationOffline
	}
	risk := st.RiskLevel
	if risk == "" {
		risk = string(model.RiskLow)
	}
	cfg := st.Configuration
	if len(cfg) == 0 {
		cfg = []byte("{}")
	}
	var id int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		id, err = insertReturningID(ctx, tx, q,
			st.ProjectID, st.StationCode, st.Name, st.Latitude, st.Longitude,
			status, risk, string(cfg))
		return err
	})
	if isConflict(err) {
		return 0, fmt.Errorf("station %q: %w", st.StationCode, ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("creating station %q: %w", st.StationCode, err)
	}
	return id, nil
}

// CreateDevice inserts a device and returns its id.
func (s *ConfigStore) CreateDevice(ctx context.Context, d *model.Device) (int64, error) {
	const q = `INSERT INTO devices (station_id, device_code, sensor_type, mqtt_topic, is_active)
	VALUES (?, ?, ?, ?, ?) RETURNING id`
	var id int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		id, err = insertReturningID(ctx, tx, q,
			d.StationID, d.DeviceCode, string(d.SensorType), d.MQTTTopic, d.IsActive)
		return err
	})
	if isConflict(err) {
		return 0, fmt.Errorf("device %q: %w", d.DeviceCode, ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("creating device %q: %w", d.DeviceCode, err)
	}
	return id, nil
}
