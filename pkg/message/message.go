// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package message defines the payloads moving through the backbone: the raw
// frame arriving from the broker and the typed events fanned out to live
// observers.
package message

import (
	"encoding/json"
	"time"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

// Frame is one raw broker payload, captured with its arrival time.
type Frame struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Kind discriminates outbound event types on the wire.
type Kind string

// Outbound event kinds.
const (
	KindSensorData    Kind = "sensor_data"
	KindStationStatus Kind = "station_status"
	KindAlert         Kind = "alert"
	KindBatchUpdate   Kind = "batch_update"
	KindPong          Kind = "pong"
)

// Event is one message for live observers. Marshals directly to the wire
// JSON, type tag included.
type Event interface {
	Kind() Kind
}

// SensorData carries one calibrated record to observers.
type SensorData struct {
	Type       Kind             `json:"type"`
	StationID  int64            `json:"station_id"`
	SensorType model.SensorType `json:"sensor_type"`
	Timestamp  int64            `json:"timestamp"`
	Data       interface{}      `json:"data"`
}

// Kind implements Event.
func (SensorData) Kind() Kind { return KindSensorData }

// NewSensorData builds a sensor_data event.
func NewSensorData(stationID int64, sensorType model.SensorType, ts time.Time, data interface{}) *SensorData {
	return &SensorData{
		Type:       KindSensorData,
		StationID:  stationID,
		SensorType: sensorType,
		Timestamp:  ts.Unix(),
		Data:       data,
	}
}

// StationStatus reports the station's current risk color.
type StationStatus struct {
	Type      Kind   `json:"type"`
	StationID int64  `json:"station_id"`
	RiskLevel string `json:"risk_level"`
	Status    string `json:"status,omitempty"`
}

// Kind implements Event.
func (StationStatus) Kind() Kind { return KindStationStatus }

// NewStationStatus builds a station_status event.
func NewStationStatus(stationID int64, risk string) *StationStatus {
	return &StationStatus{Type: KindStationStatus, StationID: stationID, RiskLevel: risk}
}

// Alert carries one confirmed danger condition to observers. Alerts are
// never throttled.
type Alert struct {
	Type      Kind                `json:"type"`
	StationID int64               `json:"station_id"`
	DeviceID  int64               `json:"device_id"`
	Level     model.AlertLevel    `json:"level"`
	Category  model.AlertCategory `json:"category"`
	Message   string              `json:"message"`
	Details   json.RawMessage     `json:"details,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Kind implements Event.
func (Alert) Kind() Kind { return KindAlert }

// NewAlert builds an alert event from the persisted row shape.
func NewAlert(a *model.Alert) *Alert {
	return &Alert{
		Type:      KindAlert,
		StationID: a.StationID,
		DeviceID:  a.DeviceID,
		Level:     a.Level,
		Category:  a.Category,
		Message:   a.Message,
		Details:   a.Details,
		Timestamp: a.CreatedAt.Unix(),
	}
}

// BatchUpdate bundles several events into one message; sent to observers
// on connect so the client starts from a coherent snapshot.
type BatchUpdate struct {
	Type Kind    `json:"type"`
	Data []Event `json:"data"`
}

// Kind implements Event.
func (BatchUpdate) Kind() Kind { return KindBatchUpdate }

// NewBatchUpdate builds a batch_update event.
func NewBatchUpdate(events []Event) *BatchUpdate {
	return &BatchUpdate{Type: KindBatchUpdate, Data: events}
}

// Pong answers a client ping on the live socket.
type Pong struct {
	Type Kind `json:"type"`
}

// Kind implements Event.
func (Pong) Kind() Kind { return KindPong }

// NewPong builds a pong event.
func NewPong() *Pong { return &Pong{Type: KindPong} }
