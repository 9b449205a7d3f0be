// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package store

import "fmt"

// identityPK is the only schema fragment the two backends disagree on.
func identityPK(d dialect) string {
	if d == dialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func authDDL(d dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
	id %s,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	created_at TIMESTAMP NOT NULL
)`, identityPK(d)),
	}
}

func configDDL(d dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS projects (
	id %s,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`, identityPK(d)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stations (
	id %s,
	project_id BIGINT NOT NULL,
	station_code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'offline',
	risk_level TEXT NOT NULL DEFAULT 'LOW',
	last_update TIMESTAMP,
	configuration TEXT NOT NULL DEFAULT '{}'
)`, identityPK(d)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS devices (
	id %s,
	station_id BIGINT NOT NULL,
	device_code TEXT NOT NULL UNIQUE,
	sensor_type TEXT NOT NULL,
	mqtt_topic TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_data_time TIMESTAMP
)`, identityPK(d)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS gnss_origins (
	id %s,
	device_id BIGINT NOT NULL UNIQUE,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	height DOUBLE PRECISION NOT NULL,
	locked_at TIMESTAMP NOT NULL,
	spread_meters DOUBLE PRECISION NOT NULL,
	num_points INTEGER NOT NULL,
	rotation_matrix TEXT NOT NULL,
	ecef_x DOUBLE PRECISION NOT NULL,
	ecef_y DOUBLE PRECISION NOT NULL,
	ecef_z DOUBLE PRECISION NOT NULL
)`, identityPK(d)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS global_config (
	id %s,
	key TEXT NOT NULL UNIQUE,
	value TEXT NOT NULL
)`, identityPK(d)),
		`CREATE INDEX IF NOT EXISTS idx_devices_station ON devices (station_id)`,
	}
}

func dataDDL(d dialect) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sensor_data (
	id %s,
	device_id BIGINT NOT NULL,
	station_id BIGINT NOT NULL,
	sensor_type TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	payload TEXT NOT NULL,
	value_1 DOUBLE PRECISION,
	value_2 DOUBLE PRECISION,
	value_3 DOUBLE PRECISION
)`, identityPK(d)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS alerts (
	id %s,
	station_id BIGINT NOT NULL,
	device_id BIGINT NOT NULL,
	level TEXT NOT NULL,
	category TEXT NOT NULL,
	message TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	resolved_at TIMESTAMP
)`, identityPK(d)),
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_station_type_time
	ON sensor_data (station_id, sensor_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_station_resolved
	ON alerts (station_id, resolved)`,
	}
}
