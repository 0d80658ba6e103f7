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

package union

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/layer"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

func newTestFixture(t *testing.T) (*store.Store, *layer.Manager, *View, types.TenantID) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:union-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tenant, err := repo.CreateTenantWithRoot(ctx, s, "acme")
	require.NoError(t, err)
	return s, layer.New(s), New(s), tenant.TenantID
}

func TestLookupFileAcrossChainWithTombstone(t *testing.T) {
	_, lm, v, tenant := newTestFixture(t)
	ctx := context.Background()

	base, err := lm.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 42, "/a.txt", types.ChangeAdd, nil, nil)
	require.NoError(t, err)

	v2, err := lm.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 0, "/a.txt", types.ChangeDelete, nil, nil)
	require.NoError(t, err)

	result, err := v.LookupFile(ctx, tenant, v2.LayerID, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, result.Status)

	resultAtBase, err := v.LookupFile(ctx, tenant, base.LayerID, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, StatusExists, resultAtBase.Status)
	require.Equal(t, types.InodeID(42), resultAtBase.InodeID)
}

func TestListDirectoryMergesChain(t *testing.T) {
	_, lm, v, tenant := newTestFixture(t)
	ctx := context.Background()

	_, err := lm.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 1, "/a.txt", types.ChangeAdd, nil, nil)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 2, "/b.txt", types.ChangeAdd, nil, nil)
	require.NoError(t, err)

	v2, err := lm.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 0, "/b.txt", types.ChangeDelete, nil, nil)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 3, "/c.txt", types.ChangeAdd, nil, nil)
	require.NoError(t, err)

	entries, err := v.ListDirectory(ctx, tenant, v2.LayerID, "/")
	require.NoError(t, err)

	byName := map[string]DirEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "a.txt")
	require.Contains(t, byName, "c.txt")
	require.NotContains(t, byName, "b.txt")
}

func TestGetFileHistoryNewestFirst(t *testing.T) {
	_, lm, v, tenant := newTestFixture(t)
	ctx := context.Background()

	_, err := lm.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 7, "/a.txt", types.ChangeAdd, nil, nil)
	require.NoError(t, err)

	_, err = lm.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)
	_, err = lm.RecordChange(ctx, tenant, 7, "/a.txt", types.ChangeModify, nil, nil)
	require.NoError(t, err)

	history, err := v.GetFileHistory(ctx, tenant, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, types.ChangeModify, history[0].ChangeType)
	require.Equal(t, types.ChangeAdd, history[1].ChangeType)
}
