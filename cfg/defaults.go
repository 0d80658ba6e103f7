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

// DefaultConfig returns the configuration used before any flag, env
// var, or config file has been applied.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{ListenAddress: "127.0.0.1:9090"},
		Store:  StoreConfig{Path: "tarbox.db", MaxOpenConns: 8, MaxIdleConns: 4},
		Logging: LoggingConfig{
			Severity:  InfoSeverity,
			Format:    "text",
			LogRotate: DefaultLogRotateConfig(),
		},
		Detector: DetectorConfig{
			MaxTextSizeBytes:     10 * 1024 * 1024,
			MaxLineLength:        10 * 1024,
			MaxNonPrintableRatio: 0.05,
		},
	}
}

// DefaultLoggingConfig is the logging slice of DefaultConfig, used
// during early startup before flags have been parsed.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity:  InfoSeverity,
		Format:    "text",
		LogRotate: DefaultLogRotateConfig(),
	}
}

// DefaultLogRotateConfig rotates at 512 MB, keeps 10 backups and
// compresses them; these differ from lumberjack's own defaults.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{
		MaxFileSizeMB:   512,
		BackupFileCount: 10,
		Compress:        true,
	}
}
