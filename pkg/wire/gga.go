// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// GGA carries the fields of one $GNGGA fix sentence the pipeline uses.
type GGA struct {
	Lat        float64
	Lon        float64
	FixQuality int
	NumSats    int
	HDOP       float64
	Height     float64
}

// defaultHDOP stands in when the receiver leaves the HDOP field blank.
const defaultHDOP = 99.9

// ParseGGA extracts a fix from a $GNGGA sentence by field position. The
// rover firmware emits sentences without checksums, so no checksum is
// required or verified; sentences with fewer than 10 fields or malformed
// coordinates are rejected.
func ParseGGA(sentence string) (*GGA, error) {
	parts := strings.Split(strings.TrimSpace(sentence), ",")
	if len(parts) < 10 {
		return nil, fmt.Errorf("gga: want at least 10 fields, got %d", len(parts))
	}
	if !strings.HasPrefix(parts[0], "$GNGGA") && !strings.HasPrefix(parts[0], "$GPGGA") {
		return nil, fmt.Errorf("gga: unexpected sentence type %q", parts[0])
	}

	lat, err := parseCoordinate(parts[2], parts[3], 2)
	if err != nil {
		return nil, fmt.Errorf("gga: latitude: %w", err)
	}
	lon, err := parseCoordinate(parts[4], parts[5], 3)
	if err != nil {
		return nil, fmt.Errorf("gga: longitude: %w", err)
	}

	quality, err := strconv.Atoi(strings.TrimSpace(parts[6]))
	if err != nil {
		return nil, fmt.Errorf("gga: fix quality: %w", err)
	}
	numSats, err := strconv.Atoi(strings.TrimSpace(parts[7]))
	if err != nil {
		return nil, fmt.Errorf("gga: satellite count: %w", err)
	}

	hdop := defaultHDOP
	if s := strings.TrimSpace(parts[8]); s != "" {
		hdop, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("gga: hdop: %w", err)
		}
	}

	height, err := strconv.ParseFloat(strings.TrimSpace(parts[9]), 64)
	if err != nil {
		return nil, fmt.Errorf("gga: altitude: %w", err)
	}

	return &GGA{
		Lat:        lat,
		Lon:        lon,
		FixQuality: quality,
		NumSats:    numSats,
		HDOP:       hdop,
		Height:     height,
	}, nil
}

// parseCoordinate converts ddmm.mmmm (degDigits=2) or dddmm.mmmm
// (degDigits=3) plus a hemisphere letter to signed decimal degrees.
func parseCoordinate(value, hemisphere string, degDigits int) (float64, error) {
	value = strings.TrimSpace(value)
	if len(value) <= degDigits {
		return 0, fmt.Errorf("coordinate %q too short", value)
	}
	deg, err := strconv.ParseFloat(value[:degDigits], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(value[degDigits:], 64)
	if err != nil {
		return 0, err
	}
	coord := deg + min/60.0
	switch strings.TrimSpace(hemisphere) {
	case "N", "E", "":
		return coord, nil
	case "S", "W":
		return -coord, nil
	}
	return 0, fmt.Errorf("unknown hemisphere %q", hemisphere)
}
