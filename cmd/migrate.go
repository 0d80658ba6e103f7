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
	"github.com/spf13/cobra"

	"github.com/tarboxfs/tarbox/internal/logger"
	"github.com/tarboxfs/tarbox/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Open the store and apply any pending schema migrations, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(MountConfig.Logging); err != nil {
			return err
		}
		s, err := store.Open(cmd.Context(), store.Config{
			Path:         string(MountConfig.Store.Path),
			MaxOpenConns: MountConfig.Store.MaxOpenConns,
			MaxIdleConns: MountConfig.Store.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		defer s.Close()
		logger.Infof("tarbox: schema at %s is up to date", MountConfig.Store.Path)
		return nil
	},
}
