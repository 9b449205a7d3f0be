// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package telemetry declares the process-internal metrics exposed on the
// HTTP /metrics endpoint. Metrics are registered once, at package init of
// the declaring package, and are safe for concurrent use.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricNamespace prefixes every metric name declared through this package.
const metricNamespace = "lsw"

var registry = prometheus.NewRegistry()

// Counter tracks how many times something is happening.
type Counter interface {
	Inc(tagValues ...string)
	Add(value float64, tagValues ...string)
}

type promCounter struct {
	cv *prometheus.CounterVec
}

func (c *promCounter) Inc(tagValues ...string) {
	c.cv.WithLabelValues(tagValues...).Inc()
}

func (c *promCounter) Add(value float64, tagValues ...string) {
	c.cv.WithLabelValues(tagValues...).Add(value)
}

// NewCounter creates a Counter and registers it with the shared registry.
func NewCounter(subsystem, name string, tags []string, help string) Counter {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, tags)
	registry.MustRegister(cv)
	return &promCounter{cv: cv}
}

// Gauge tracks the value of one health metric.
type Gauge interface {
	Set(value float64, tagValues ...string)
	Inc(tagValues ...string)
	Dec(tagValues ...string)
}

type promGauge struct {
	gv *prometheus.GaugeVec
}

func (g *promGauge) Set(value float64, tagValues ...string) {
	g.gv.WithLabelValues(tagValues...).Set(value)
}

func (g *promGauge) Inc(tagValues ...string) {
	g.gv.WithLabelValues(tagValues...).Inc()
}

func (g *promGauge) Dec(tagValues ...string) {
	g.gv.WithLabelValues(tagValues...).Dec()
}

// NewGauge creates a Gauge and registers it with the shared registry.
func NewGauge(subsystem, name string, tags []string, help string) Gauge {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, tags)
	registry.MustRegister(gv)
	return &promGauge{gv: gv}
}

// Histogram samples observations into configurable buckets.
type Histogram interface {
	Observe(value float64, tagValues ...string)
}

type promHistogram struct {
	hv *prometheus.HistogramVec
}

func (h *promHistogram) Observe(value float64, tagValues ...string) {
	h.hv.WithLabelValues(tagValues...).Observe(value)
}

// NewHistogram creates a Histogram and registers it with the shared registry.
func NewHistogram(subsystem, name string, tags []string, help string, buckets []float64) Histogram {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, tags)
	registry.MustRegister(hv)
	return &promHistogram{hv: hv}
}

// Handler exposes the shared registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
