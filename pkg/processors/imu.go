// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package processors

import (
	"math"
	"time"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

// restAccel seeds the fallback state: a healthy sensor at rest reads
// gravity on its vertical axis.
const restAccel = 9.8

// IMURecord is one calibrated inertial reading. Accelerations are m/s2,
// angles degrees.
type IMURecord struct {
	Timestamp   int64   `json:"timestamp"`
	Ax          float64 `json:"ax"`
	Ay          float64 `json:"ay"`
	Az          float64 `json:"az"`
	Gx          float64 `json:"gx"`
	Gy          float64 `json:"gy"`
	Gz          float64 `json:"gz"`
	TotalAccel  float64 `json:"total_accel"`
	Roll        float64 `json:"roll"`
	Pitch       float64 `json:"pitch"`
	Yaw         float64 `json:"yaw"`
	Temperature float64 `json:"temperature"`
	IsFallback  bool    `json:"is_fallback"`

	at time.Time
}

// At implements Record.
func (r *IMURecord) At() time.Time { return r.at }

// Cached implements Record.
func (r *IMURecord) Cached() []float64 { return []float64{r.TotalAccel} }

// IMUProcessor derives orientation and shock magnitude from raw
// accelerometer/gyro frames. Yaw cannot be derived without a magnetometer,
// so it carries forward from the last frame that reported one.
type IMUProcessor struct {
	deviceID int64
	last     *IMURecord
}

// NewIMUProcessor builds a processor for one inertial unit. The fallback
// state starts at rest.
func NewIMUProcessor(deviceID int64) *IMUProcessor {
	return &IMUProcessor{
		deviceID: deviceID,
		last: &IMURecord{
			Az:         restAccel,
			TotalAccel: restAccel,
		},
	}
}

// Type reports the sensor type handled by this processor.
func (p *IMUProcessor) Type() model.SensorType { return model.SensorIMU }

// Process consumes one decoded JSON frame observed at time at.
func (p *IMUProcessor) Process(fields map[string]interface{}, at time.Time) Result {
	ax, okX := numField(fields, "ax", "accel_x", "acc_x")
	ay, okY := numField(fields, "ay", "accel_y", "acc_y")
	az, okZ := numField(fields, "az", "accel_z", "acc_z")

	if !okX || !okY || !okZ {
		fb := *p.last
		fb.Timestamp = at.Unix()
		fb.at = at
		fb.IsFallback = true
		return Result{Record: &fb}
	}

	gx, _ := numField(fields, "gx", "gyro_x")
	gy, _ := numField(fields, "gy", "gyro_y")
	gz, _ := numField(fields, "gz", "gyro_z")

	yaw := p.last.Yaw
	if v, ok := numField(fields, "yaw"); ok {
		yaw = v
	}
	temp := p.last.Temperature
	if v, ok := numField(fields, "temperature", "temp"); ok {
		temp = v
	}

	rec := IMURecord{
		Timestamp:   at.Unix(),
		Ax:          round(ax, 3),
		Ay:          round(ay, 3),
		Az:          round(az, 3),
		Gx:          round(gx, 3),
		Gy:          round(gy, 3),
		Gz:          round(gz, 3),
		TotalAccel:  round(math.Sqrt(ax*ax+ay*ay+az*az), 3),
		Roll:        round(math.Atan2(ay, az)*180.0/math.Pi, 2),
		Pitch:       round(math.Atan2(-ax, math.Sqrt(ay*ay+az*az))*180.0/math.Pi, 2),
		Yaw:         round(yaw, 2),
		Temperature: temp,
		at:          at,
	}

	p.last = &rec
	out := rec
	return Result{Record: &out}
}
