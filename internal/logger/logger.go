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

// Package logger provides the process-wide structured logger: severity
// levels below slog's built-in four, a text/json format switch, and
// optional rotation to a log file via lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tarboxfs/tarbox/cfg"
)

// The severity ladder runs one rung finer than slog's own Debug/Info/
// Warn/Error: TRACE sits below Debug, and OFF sits above Error so that
// setLoggingLevel(OFF, ...) suppresses everything.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

const timeLayout = "2006/01/02 15:04:05.000000"

type loggerFactory struct {
	file      *os.File
	sysWriter io.Writer
	format    string
	level     cfg.LogSeverity
	rotate    cfg.LogRotateConfig
}

var (
	defaultLoggerFactory = &loggerFactory{
		sysWriter: os.Stderr,
		format:    "text",
		level:     cfg.InfoSeverity,
		rotate:    cfg.DefaultLoggingConfig().LogRotate,
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, levelVarFor(cfg.InfoSeverity), ""))
)

func levelVarFor(severity cfg.LogSeverity) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(severity, v)
	return v
}

// Init builds the default logger from a resolved logging config: a
// rotating file if FilePath is set, stderr otherwise.
func Init(c cfg.LoggingConfig) error {
	factory := &loggerFactory{format: c.Format, level: c.Severity, rotate: c.LogRotate}

	var writer io.Writer = os.Stderr
	if c.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    c.LogRotate.MaxFileSizeMB,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
		writer = lj
		factory.sysWriter = lj
	} else {
		factory.sysWriter = writer
	}

	programLevel := new(slog.LevelVar)
	setLoggingLevel(c.Severity, programLevel)
	defaultLoggerFactory = factory
	defaultLogger = slog.New(factory.createJsonOrTextHandler(writer, programLevel, ""))
	return nil
}

// SetLogFormat swaps the active format ("text" or anything else,
// which falls back to json) without disturbing the configured level
// or destination.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	programLevel := new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
	var writer io.Writer = os.Stderr
	if defaultLoggerFactory.sysWriter != nil {
		writer = defaultLoggerFactory.sysWriter
	} else if defaultLoggerFactory.file != nil {
		writer = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(writer, programLevel, ""))
}

func setLoggingLevel(severity cfg.LogSeverity, programLevel *slog.LevelVar) {
	switch strings.ToUpper(string(severity)) {
	case "TRACE":
		programLevel.Set(LevelTrace)
	case "DEBUG":
		programLevel.Set(LevelDebug)
	case "WARNING":
		programLevel.Set(LevelWarn)
	case "ERROR":
		programLevel.Set(LevelError)
	case "OFF":
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// createJsonOrTextHandler builds a handler that renames slog's level
// attribute to "severity" (spelling out TRACE rather than slog's
// "DEBUG-4"), renames the message key to "message" with the prefix
// relocated onto it, and for json
// represents the timestamp as a {seconds,nanos} pair.
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			case slog.MessageKey:
				a.Key = "message"
				a.Value = slog.StringValue(prefix + a.Value.String())
			case slog.TimeKey:
				if strings.EqualFold(f.format, "text") {
					a.Value = slog.StringValue(a.Value.Time().Format(timeLayout))
				} else {
					t := a.Value.Time()
					a.Value = slog.GroupValue(
						slog.Int64("seconds", t.Unix()),
						slog.Int64("nanos", int64(t.Nanosecond())),
					)
					a.Key = "timestamp"
				}
			}
			return a
		},
	}
	if strings.EqualFold(f.format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func Tracef(format string, v ...any) { log(LevelTrace, format, v...) }
func Debugf(format string, v ...any) { log(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { log(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { log(LevelWarn, format, v...) }
func Errorf(format string, v ...any) { log(LevelError, format, v...) }

func log(level slog.Level, format string, v ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	defaultLogger.Log(context.Background(), level, msg)
}
