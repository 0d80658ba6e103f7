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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tarboxfs/tarbox/internal/core"
	"github.com/tarboxfs/tarbox/internal/detector"
	"github.com/tarboxfs/tarbox/internal/logger"
	"github.com/tarboxfs/tarbox/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the store and serve the core facade until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(MountConfig.Logging); err != nil {
			return err
		}
		logger.Infof("tarbox starting, store=%s listen=%s", MountConfig.Store.Path, MountConfig.Server.ListenAddress)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := store.Open(ctx, store.Config{
			Path:         string(MountConfig.Store.Path),
			MaxOpenConns: MountConfig.Store.MaxOpenConns,
			MaxIdleConns: MountConfig.Store.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		detectCfg := detector.Config{
			MaxTextSize:          MountConfig.Detector.MaxTextSizeBytes,
			MaxLineLength:        MountConfig.Detector.MaxLineLength,
			MaxNonPrintableRatio: MountConfig.Detector.MaxNonPrintableRatio,
		}
		// No adapter (FUSE, REST, ...) is wired here; building the facade
		// is enough to prove the store and migrations are sound, which is
		// this command's job until an adapter is added.
		_ = core.New(s, detectCfg)

		logger.Infof("tarbox ready")
		<-ctx.Done()
		logger.Infof("tarbox shutting down")
		return nil
	},
}
