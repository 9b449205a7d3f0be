// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package analyzer

import (
	"sort"
	"strings"

	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

// Velocity unit conversion factors to mm/s.
const (
	secondsPerDay  = 86400.0
	secondsPerYear = 31536000.0
)

type normalizedClass struct {
	name         string
	thresholdMMS float64
}

// classTable is a velocity classification sorted by descending threshold.
type classTable []normalizedClass

// defaultClasses is the Cruden & Varnes scale, thresholds in m/s.
func defaultClasses() []stationcfg.Class {
	return []stationcfg.Class{
		{Name: "Extremely Rapid", Threshold: 5.0, Unit: "m_s"},
		{Name: "Very Rapid", Threshold: 0.05, Unit: "m_s"},
		{Name: "Rapid", Threshold: 5e-4, Unit: "m_s"},
		{Name: "Moderate", Threshold: 2.1e-7, Unit: "m_s"},
		{Name: "Slow", Threshold: 1.6e-9, Unit: "m_s"},
		{Name: "Very Slow", Threshold: 5e-10, Unit: "m_s"},
		{Name: "Extremely Slow", Threshold: 0.0, Unit: "m_s"},
	}
}

// buildTable normalizes thresholds to mm/s and sorts descending. Entries
// with unknown units are skipped; an empty or fully invalid table falls
// back to the built-in scale.
func buildTable(classes []stationcfg.Class) classTable {
	if len(classes) == 0 {
		classes = defaultClasses()
	}
	table := make(classTable, 0, len(classes))
	for _, c := range classes {
		mms, ok := toMMS(c.Threshold, c.Unit)
		if !ok {
			log.Warnf("classification entry %q has unknown unit %q, skipped", c.Name, c.Unit)
			continue
		}
		table = append(table, normalizedClass{name: c.Name, thresholdMMS: mms})
	}
	if len(table) == 0 {
		return buildTable(defaultClasses())
	}
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].thresholdMMS > table[j].thresholdMMS
	})
	return table
}

func toMMS(threshold float64, unit string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "mm_s", "mm/s", "":
		return threshold, true
	case "mm_day", "mm/day":
		return threshold / secondsPerDay, true
	case "mm_year", "mm/year":
		return threshold / secondsPerYear, true
	case "m_s", "m/s":
		return threshold * 1000.0, true
	}
	return 0, false
}

// classify returns the first class whose threshold the velocity meets.
func (t classTable) classify(velocityMMS float64) string {
	for _, c := range t {
		if velocityMMS >= c.thresholdMMS {
			return c.name
		}
	}
	// Below every threshold, including a table without a zero floor.
	return t[len(t)-1].name
}

// levelForClass maps a velocity class to the alert level candidate for the
// gnss_velocity category.
func levelForClass(name string) model.AlertLevel {
	switch strings.ToUpper(name) {
	case "EXTREMELY RAPID", "VERY RAPID":
		return model.LevelCritical
	case "RAPID", "MODERATE":
		return model.LevelWarning
	}
	return model.LevelInfo
}
