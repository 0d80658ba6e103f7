// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/cfg"
)

const (
	textInfoString  = `^time="\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6}" severity=INFO message="www example info"`
	textErrorString = `^time="\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6}" severity=ERROR message="www example error"`
	jsonInfoString  = `^\{"timestamp":\{"seconds":\d+,"nanos":\d+\},"severity":"INFO","message":"www example info"\}`
)

func redirectLogsToGivenBuffer(buf *bytes.Buffer, format string, severity cfg.LogSeverity) {
	programLevel := new(slog.LevelVar)
	setLoggingLevel(severity, programLevel)
	factory := &loggerFactory{format: format}
	defaultLoggerFactory = factory
	defaultLogger = slog.New(factory.createJsonOrTextHandler(buf, programLevel, ""))
}

func TestTextFormatRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, "text", cfg.ErrorSeverity)

	Infof("www example info")
	require.Empty(t, buf.String())

	Errorf("www example error")
	require.Regexp(t, regexp.MustCompile(textErrorString), buf.String())
}

func TestTextFormatAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, "text", cfg.InfoSeverity)

	Infof("www example info")
	require.Regexp(t, regexp.MustCompile(textInfoString), buf.String())
}

func TestJSONFormatTimestampIsSecondsNanos(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, "json", cfg.InfoSeverity)

	Infof("www example info")
	require.Regexp(t, regexp.MustCompile(jsonInfoString), buf.String())
}

func TestOffSeveritySuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, "text", cfg.OffSeverity)

	Tracef("t")
	Debugf("d")
	Infof("i")
	Warnf("w")
	Errorf("e")
	require.Empty(t, buf.String())
}

func TestSetLoggingLevelMapsEverySeverity(t *testing.T) {
	cases := []struct {
		severity cfg.LogSeverity
		want     slog.Level
	}{
		{cfg.TraceSeverity, LevelTrace},
		{cfg.DebugSeverity, LevelDebug},
		{cfg.InfoSeverity, LevelInfo},
		{cfg.WarningSeverity, LevelWarn},
		{cfg.ErrorSeverity, LevelError},
		{cfg.OffSeverity, LevelOff},
	}
	for _, tc := range cases {
		v := new(slog.LevelVar)
		setLoggingLevel(tc.severity, v)
		require.Equal(t, tc.want, v.Level())
	}
}
