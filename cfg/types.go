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

package cfg

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ResolvedPath is a file-path that is always stored absolute, with "~"
// expanded to the user's home directory on decode.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	resolved, err := resolvePath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(resolved)
	return nil
}

func resolvePath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}

// LogSeverity mirrors the severity ladder logger.setLoggingLevel
// accepts: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.
type LogSeverity string

const (
	TraceSeverity   LogSeverity = "TRACE"
	DebugSeverity   LogSeverity = "DEBUG"
	InfoSeverity    LogSeverity = "INFO"
	WarningSeverity LogSeverity = "WARNING"
	ErrorSeverity   LogSeverity = "ERROR"
	OffSeverity     LogSeverity = "OFF"
)

var severities = []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"}

func (s *LogSeverity) UnmarshalText(text []byte) error {
	upper := strings.ToUpper(string(text))
	if !slices.Contains(severities, upper) {
		return &invalidSeverityError{upper}
	}
	*s = LogSeverity(upper)
	return nil
}

type invalidSeverityError struct{ value string }

func (e *invalidSeverityError) Error() string {
	return "invalid log severity: " + e.value + ", must be one of " + strings.Join(severities, ", ")
}
