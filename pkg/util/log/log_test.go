// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cihub/seelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, buf *bytes.Buffer, level seelog.LogLevel) seelog.LoggerInterface {
	l, err := seelog.LoggerFromWriterWithMinLevelAndFormat(buf, level, "%LEVEL %Msg%n")
	require.NoError(t, err)
	return l
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(newBufferLogger(t, &buf, seelog.TraceLvl), "info")

	Debugf("below threshold %d", 1)
	Infof("at threshold %d", 2)
	Flush()

	out := buf.String()
	assert.NotContains(t, out, "below threshold")
	assert.Contains(t, out, "at threshold 2")
}

func TestWarnReturnsError(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(newBufferLogger(t, &buf, seelog.TraceLvl), "debug")

	err := Warnf("water level sensor %s offline", "WL-01")
	require.Error(t, err)
	assert.Equal(t, "water level sensor WL-01 offline", err.Error())
}

func TestChangeLogLevel(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(newBufferLogger(t, &buf, seelog.TraceLvl), "error")

	Infof("hidden")
	require.NoError(t, ChangeLogLevel(newBufferLogger(t, &buf, seelog.TraceLvl), "debug"))
	Infof("visible")
	Flush()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestBuildLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := BuildLogger("info", "xml", "")
	assert.Error(t, err)

	l, err := BuildLogger("info", "json", "")
	require.NoError(t, err)
	l.Close()
}

func TestLevelNameValidation(t *testing.T) {
	for _, name := range []string{"trace", "debug", "info", "warn", "error", "critical"} {
		_, ok := seelog.LogLevelFromString(strings.ToLower(name))
		assert.True(t, ok, name)
	}
}
