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

// Package cfg is tarbox's configuration surface: the flat Config tree
// bound from pflag/viper, its defaults, and its validation.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `yaml:"server"`

	Store StoreConfig `yaml:"store"`

	Logging LoggingConfig `yaml:"logging"`

	Detector DetectorConfig `yaml:"detector"`
}

// ServerConfig holds the listen address for a network adapter; no
// adapter is wired yet, and `serve` only logs the address.
type ServerConfig struct {
	ListenAddress string `yaml:"listen-address"`
}

// StoreConfig points at and tunes the sqlite-backed relational store.
type StoreConfig struct {
	Path ResolvedPath `yaml:"path"`

	MaxOpenConns int `yaml:"max-open-conns"`

	MaxIdleConns int `yaml:"max-idle-conns"`
}

// LoggingConfig selects severity, rendering, and optional log-file
// rotation for the process logger.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig is lumberjack's rotation policy, exposed as config.
type LogRotateConfig struct {
	MaxFileSizeMB int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

// DetectorConfig bounds the text/binary detector's tolerance, per
// §4.3.
type DetectorConfig struct {
	MaxTextSizeBytes int64 `yaml:"max-text-size-bytes"`

	MaxLineLength int `yaml:"max-line-length"`

	MaxNonPrintableRatio float64 `yaml:"max-non-printable-ratio"`
}

// BindFlags registers every flag on flagSet and binds it into viper
// under the matching dotted key, so a config file, environment
// variable, or flag can each supply the same setting.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("listen-address", "127.0.0.1:9090", "Address the adapter server listens on.")
	if err := viper.BindPFlag("server.listen-address", flagSet.Lookup("listen-address")); err != nil {
		return err
	}

	flagSet.String("store-path", "tarbox.db", "Path to the sqlite database file.")
	if err := viper.BindPFlag("store.path", flagSet.Lookup("store-path")); err != nil {
		return err
	}

	flagSet.Int("store-max-open-conns", 8, "Maximum open sqlite connections.")
	if err := viper.BindPFlag("store.max-open-conns", flagSet.Lookup("store-max-open-conns")); err != nil {
		return err
	}

	flagSet.Int("store-max-idle-conns", 4, "Maximum idle sqlite connections.")
	if err := viper.BindPFlag("store.max-idle-conns", flagSet.Lookup("store-max-idle-conns")); err != nil {
		return err
	}

	flagSet.String("log-severity", "INFO", "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "Log rendering: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Path to a log file; stderr if unset.")
	if err := viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.Int("log-max-file-size-mb", 512, "Log file size that triggers rotation, in MiB.")
	if err := viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-max-file-size-mb")); err != nil {
		return err
	}

	flagSet.Int("log-backup-file-count", 10, "Rotated log files to retain.")
	if err := viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-backup-file-count")); err != nil {
		return err
	}

	flagSet.Bool("log-compress", true, "Gzip rotated log files.")
	if err := viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-compress")); err != nil {
		return err
	}

	flagSet.Int64("detector-max-text-size-bytes", 10*1024*1024, "Files larger than this are always treated as binary.")
	if err := viper.BindPFlag("detector.max-text-size-bytes", flagSet.Lookup("detector-max-text-size-bytes")); err != nil {
		return err
	}

	flagSet.Int("detector-max-line-length", 10*1024, "Lines longer than this disqualify a file from text diffing.")
	if err := viper.BindPFlag("detector.max-line-length", flagSet.Lookup("detector-max-line-length")); err != nil {
		return err
	}

	flagSet.Float64("detector-max-non-printable-ratio", 0.05, "Non-printable byte ratio above which a file is binary.")
	return viper.BindPFlag("detector.max-non-printable-ratio", flagSet.Lookup("detector-max-non-printable-ratio"))
}
