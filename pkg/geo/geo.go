// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package geo implements the small amount of geodesy the GNSS pipeline
// needs: WGS-84 to ECEF conversion, the ECEF to local ENU rotation, and
// haversine distances for origin dispersion checks.
package geo

import "math"

// WGS-84 ellipsoid constants.
const (
	SemiMajorAxis = 6378137.0
	Flattening    = 1.0 / 298.257223563

	// EarthRadius is the mean radius used by the haversine dispersion
	// check, matching the calibration contract.
	EarthRadius = 6371000.0
)

// Ecc2 is the first eccentricity squared of the WGS-84 ellipsoid.
var Ecc2 = Flattening * (2.0 - Flattening)

// Geodetic is a WGS-84 position. Latitude and longitude are in degrees,
// height in meters above the ellipsoid reference used by the receiver.
type Geodetic struct {
	Lat    float64
	Lon    float64
	Height float64
}

// Vec3 is a 3-vector in meters (ECEF or ENU depending on context).
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z}
}

// Scale returns v scaled by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{v.X * k, v.Y * k, v.Z * k}
}

// Norm returns the euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Apply returns m * v.
func (m Mat3) Apply(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// ECEFFromGeodetic converts a WGS-84 position to earth-centered
// earth-fixed coordinates.
func ECEFFromGeodetic(g Geodetic) Vec3 {
	lat := g.Lat * math.Pi / 180.0
	lon := g.Lon * math.Pi / 180.0
	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Prime vertical radius of curvature.
	n := SemiMajorAxis / math.Sqrt(1.0-Ecc2*sinLat*sinLat)

	return Vec3{
		X: (n + g.Height) * cosLat * math.Cos(lon),
		Y: (n + g.Height) * cosLat * math.Sin(lon),
		Z: (n*(1.0-Ecc2) + g.Height) * sinLat,
	}
}

// ENURotation returns the rotation taking ECEF deltas to the local
// east-north-up frame anchored at the given latitude/longitude (degrees).
func ENURotation(latDeg, lonDeg float64) Mat3 {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	return Mat3{
		{-sinLon, cosLon, 0},
		{-sinLat * cosLon, -sinLat * sinLon, cosLat},
		{cosLat * cosLon, cosLat * sinLon, sinLat},
	}
}

// Haversine returns the great-circle surface distance in meters between
// two positions, ignoring height.
func Haversine(a, b Geodetic) float64 {
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(s))
}

// Haversine3D combines the surface haversine distance with the height
// difference in quadrature. The origin-lock dispersion check uses this so
// vertical scatter counts against the spread tolerance.
func Haversine3D(a, b Geodetic) float64 {
	horiz := Haversine(a, b)
	dh := b.Height - a.Height
	return math.Sqrt(horiz*horiz + dh*dh)
}

// Centroid returns the component-wise mean of the given positions.
// The positions are expected to lie within meters of each other, so plain
// averaging of degrees is safe.
func Centroid(points []Geodetic) Geodetic {
	var c Geodetic
	if len(points) == 0 {
		return c
	}
	for _, p := range points {
		c.Lat += p.Lat
		c.Lon += p.Lon
		c.Height += p.Height
	}
	n := float64(len(points))
	return Geodetic{Lat: c.Lat / n, Lon: c.Lon / n, Height: c.Height / n}
}
