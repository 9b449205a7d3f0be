// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

// DataStore holds the high-volume tables: sensor readings and alerts.
type DataStore struct {
	db      *sqlx.DB
	dialect dialect
}

func (s *DataStore) migrate(ctx context.Context) error {
	for _, stmt := range dataDDL(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the backing database is reachable.
func (s *DataStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertSensorData persists one reading.
func (s *DataStore) InsertSensorData(ctx context.Context, rec *model.SensorData) error {
	const q = `INSERT INTO sensor_data
	(device_id, station_id, sensor_type, timestamp, payload, value_1, value_2, value_3)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(q),
			rec.DeviceID, rec.StationID, string(rec.SensorType), rec.Timestamp,
			string(rec.Payload), rec.Value1, rec.Value2, rec.Value3)
		return err
	})
	if err != nil {
		tlmErrors.Inc("insert_sensor_data")
		return fmt.Errorf("inserting %s reading for device %d: %w", rec.SensorType, rec.DeviceID, err)
	}
	tlmWrites.Inc("sensor_data")
	return nil
}

// InsertAlert persists one alert and returns its id.
func (s *DataStore) InsertAlert(ctx context.Context, alert *model.Alert) (int64, error) {
	const q = `INSERT INTO alerts
	(station_id, device_id, level, category, message, details, created_at, resolved)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	details := alert.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	var id int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		id, err = insertReturningID(ctx, tx, q,
			alert.StationID, alert.DeviceID, string(alert.Level), string(alert.Category),
			alert.Message, string(details), alert.CreatedAt, alert.Resolved)
		return err
	})
	if err != nil {
		tlmErrors.Inc("insert_alert")
		return 0, fmt.Errorf("inserting alert for station %d: %w", alert.StationID, err)
	}
	tlmWrites.Inc("alerts")
	return id, nil
}

// ListSensorData returns the newest readings for a station, optionally
// narrowed to one sensor type. Newest first.
func (s *DataStore) ListSensorData(ctx context.Context, stationID int64, sensorType model.SensorType, since time.Time, limit int) ([]model.SensorData, error) {
	q := `SELECT * FROM sensor_data WHERE station_id = ? AND timestamp >= ?`
	args := []interface{}{stationID, since}
	if sensorType != "" {
		q += ` AND sensor_type = ?`
		args = append(args, string(sensorType))
	}
	q += ` ORDER BY timestamp DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []model.SensorData
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("listing sensor data for station %d: %w", stationID, err)
	}
	return out, nil
}

// ListGNSSPoints returns a station's GNSS readings since a point in time,
// oldest first so callers can feed them straight into the long-term analysis.
func (s *DataStore) ListGNSSPoints(ctx context.Context, stationID int64, since time.Time) ([]model.SensorData, error) {
	const q = `SELECT * FROM sensor_data
	WHERE station_id = ? AND sensor_type = ? AND timestamp >= ?
	ORDER BY timestamp ASC`
	var out []model.SensorData
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), stationID, string(model.SensorGNSS), since); err != nil {
		return nil, fmt.Errorf("listing gnss points for station %d: %w", stationID, err)
	}
	return out, nil
}

// ListAlerts returns alerts newest first. A zero stationID matches every
// station; unresolvedOnly narrows to open alerts.
func (s *DataStore) ListAlerts(ctx context.Context, stationID int64, unresolvedOnly bool, limit int) ([]model.Alert, error) {
	q := `SELECT * FROM alerts WHERE 1 = 1`
	var args []interface{}
	if stationID != 0 {
		q += ` AND station_id = ?`
		args = append(args, stationID)
	}
	if unresolvedOnly {
		q += ` AND resolved = ?`
		args = append(args, false)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []model.Alert
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return out, nil
}

// ResolveAlert marks one alert resolved. Resolving an unknown or already
// resolved alert returns ErrNotFound.
func (s *DataStore) ResolveAlert(ctx context.Context, id int64, at time.Time) error {
	var affected int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE alerts SET resolved = ?, resolved_at = ? WHERE id = ? AND resolved = ?`),
			true, at, id, false)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		tlmErrors.Inc("resolve_alert")
		return fmt.Errorf("resolving alert %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountOpenAlerts tallies a station's unresolved alerts by level.
func (s *DataStore) CountOpenAlerts(ctx context.Context, stationID int64) (map[model.AlertLevel]int, error) {
	const q = `SELECT level, COUNT(*) AS n FROM alerts
	WHERE station_id = ? AND resolved = ?
	GROUP BY level`
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(q), stationID, false)
	if err != nil {
		return nil, fmt.Errorf("counting open alerts for station %d: %w", stationID, err)
	}
	defer rows.Close()
	out := make(map[model.AlertLevel]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("counting open alerts for station %d: %w", stationID, err)
		}
		out[model.AlertLevel(level)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting open alerts for station %d: %w", stationID, err)
	}
	return out, nil
}
