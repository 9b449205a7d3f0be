// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Project groups stations belonging to one monitored site.
type Project struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Station is one monitored location with an embedded configuration
// document (thresholds, classification table, save intervals).
type Station struct {
	ID            int64           `db:"id" json:"id"`
	ProjectID     int64           `db:"project_id" json:"project_id"`
	StationCode   string          `db:"station_code" json:"station_code"`
	Name          string          `db:"name" json:"name"`
	Latitude      float64         `db:"latitude" json:"latitude"`
	Longitude     float64         `db:"longitude" json:"longitude"`
	Status        string          `db:"status" json:"status"`
	RiskLevel     string          `db:"risk_level" json:"risk_level"`
	LastUpdate    sql.NullTime    `db:"last_update" json:"last_update"`
	Configuration json.RawMessage `db:"configuration" json:"configuration"`
}

// Device is one physical sensor bound to an MQTT topic.
type Device struct {
	ID           int64        `db:"id" json:"id"`
	StationID    int64        `db:"station_id" json:"station_id"`
	DeviceCode   string       `db:"device_code" json:"device_code"`
	SensorType   SensorType   `db:"sensor_type" json:"sensor_type"`
	MQTTTopic    string       `db:"mqtt_topic" json:"mqtt_topic"`
	IsActive     bool         `db:"is_active" json:"is_active"`
	LastDataTime sql.NullTime `db:"last_data_time" json:"last_data_time"`
}

// DeviceBinding is the device joined with the station fields the registry
// needs to build a topic binding.
type DeviceBinding struct {
	DeviceID      int64           `db:"device_id"`
	DeviceCode    string          `db:"device_code"`
	SensorType    SensorType      `db:"sensor_type"`
	MQTTTopic     string          `db:"mqtt_topic"`
	StationID     int64           `db:"station_id"`
	StationName   string          `db:"station_name"`
	Configuration json.RawMessage `db:"configuration"`
}

// GNSSOrigin is the persisted reference frame of a locked GNSS device.
// Exactly one row per device; written once on lock, removed only by an
// explicit reset.
type GNSSOrigin struct {
	ID           int64     `db:"id" json:"id"`
	DeviceID     int64     `db:"device_id" json:"device_id"`
	Latitude     float64   `db:"latitude" json:"latitude"`
	Longitude    float64   `db:"longitude" json:"longitude"`
	Height       float64   `db:"height" json:"height"`
	LockedAt     time.Time `db:"locked_at" json:"locked_at"`
	SpreadMeters float64   `db:"spread_meters" json:"spread_meters"`
	NumPoints    int       `db:"num_points" json:"num_points"`
	// RotationJSON is the row-major 3x3 ECEF to ENU rotation matrix.
	RotationJSON string  `db:"rotation_matrix" json:"-"`
	ECEFX        float64 `db:"ecef_x" json:"ecef_x"`
	ECEFY        float64 `db:"ecef_y" json:"ecef_y"`
	ECEFZ        float64 `db:"ecef_z" json:"ecef_z"`
}

// Rotation decodes the persisted rotation matrix.
func (o *GNSSOrigin) Rotation() ([3][3]float64, error) {
	var m [3][3]float64
	err := json.Unmarshal([]byte(o.RotationJSON), &m)
	return m, err
}

// SetRotation encodes the rotation matrix for persistence.
func (o *GNSSOrigin) SetRotation(m [3][3]float64) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	o.RotationJSON = string(b)
	return nil
}

// SensorData is one persisted sensor record. Payload carries the full
// record JSON; Value1..Value3 cache scalars for fast queries (gnss:
// speed_2d_mm_s / total_displacement_mm, rain: rainfall_mm / intensity_mm_h,
// water: water_level, imu: total_accel).
type SensorData struct {
	ID         int64           `db:"id" json:"id"`
	DeviceID   int64           `db:"device_id" json:"device_id"`
	StationID  int64           `db:"station_id" json:"station_id"`
	SensorType SensorType      `db:"sensor_type" json:"sensor_type"`
	Timestamp  time.Time       `db:"timestamp" json:"timestamp"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Value1     sql.NullFloat64 `db:"value_1" json:"value_1"`
	Value2     sql.NullFloat64 `db:"value_2" json:"value_2"`
	Value3     sql.NullFloat64 `db:"value_3" json:"value_3"`
}

// Alert is one confirmed danger condition.
type Alert struct {
	ID         int64           `db:"id" json:"id"`
	StationID  int64           `db:"station_id" json:"station_id"`
	DeviceID   int64           `db:"device_id" json:"device_id"`
	Level      AlertLevel      `db:"level" json:"level"`
	Category   AlertCategory   `db:"category" json:"category"`
	Message    string          `db:"message" json:"message"`
	Details    json.RawMessage `db:"details" json:"details"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	Resolved   bool            `db:"resolved" json:"resolved"`
	ResolvedAt sql.NullTime    `db:"resolved_at" json:"resolved_at"`
}

// User is an operator account consumed by the external auth collaborator.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// GlobalConfig is one installation-wide key/value setting.
type GlobalConfig struct {
	ID    int64  `db:"id" json:"id"`
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}
