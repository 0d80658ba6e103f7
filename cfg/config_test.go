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
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	c := DefaultConfig()
	require.Equal(t, InfoSeverity, c.Logging.Severity)
	require.Equal(t, "text", c.Logging.Format)
	require.Equal(t, DefaultLogRotateConfig(), c.Logging.LogRotate)
}

func TestBindFlagsRoundTripsThroughViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse([]string{"--log-severity", "debug", "--store-path", "/tmp/x.db"}))

	var c Config
	require.NoError(t, viper.Unmarshal(&c, viper.DecodeHook(DecodeHook())))
	require.Equal(t, DebugSeverity, c.Logging.Severity)
	require.Equal(t, ResolvedPath("/tmp/x.db"), c.Store.Path)
}

func TestLogSeverityRejectsUnknownValue(t *testing.T) {
	var s LogSeverity
	require.Error(t, s.UnmarshalText([]byte("VERBOSE")))
}

func TestResolvedPathMakesRelativeAbsolute(t *testing.T) {
	var p ResolvedPath
	require.NoError(t, p.UnmarshalText([]byte("relative/path")))
	require.True(t, len(p) > 0 && p[0] == '/')
}
