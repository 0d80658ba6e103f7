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

package cow

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/detector"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store, types.TenantID, types.InodeID, types.LayerID) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:cow-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tenant, err := repo.CreateTenantWithRoot(ctx, s, "acme")
	require.NoError(t, err)

	var inode types.Inode
	err = s.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		inode, err = repo.CreateInode(ctx, q, tenant.TenantID, tenant.RootInode, "file.txt", types.KindFile, 0o644, 0, 0)
		return err
	})
	require.NoError(t, err)

	layer := types.Layer{
		TenantID: tenant.TenantID, LayerName: "working", IsWorking: true,
	}
	created, err := repo.CreateLayer(ctx, s.DB(), layer)
	require.NoError(t, err)

	return New(s, detector.DefaultConfig()), s, tenant.TenantID, inode.InodeID, created.LayerID
}

func TestWriteBinaryPath(t *testing.T) {
	h, _, tenant, inode, layer := newTestHandler(t)
	ctx := context.Background()

	data := make([]byte, blockSize*2+10)
	for i := range data {
		data[i] = byte(i % 256)
	}
	data[0] = 0 // force binary via NUL byte

	summary, err := h.Write(ctx, tenant, inode, layer, nil, data)
	require.NoError(t, err)
	require.Equal(t, StoredAsBinary, summary.StoredAs)
	require.Equal(t, types.ChangeAdd, summary.ChangeType)
	require.Equal(t, int64(len(data)), summary.SizeDelta)

	blocks, err := repo.ListDataBlocks(ctx, h.store.DB(), tenant, inode)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
}

func TestWriteTextPathDedup(t *testing.T) {
	h, _, tenant, inode, layer := newTestHandler(t)
	ctx := context.Background()

	first := []byte("alpha\nbeta\ngamma\n")
	summary, err := h.Write(ctx, tenant, inode, layer, nil, first)
	require.NoError(t, err)
	require.Equal(t, StoredAsText, summary.StoredAs)
	require.Equal(t, types.ChangeAdd, summary.ChangeType)
	require.NotNil(t, summary.TextChanges)
	require.Equal(t, 3, summary.TextChanges.LinesAdded)

	second := []byte("alpha\nBETA\ngamma\ndelta\n")
	summary2, err := h.Write(ctx, tenant, inode, layer, first, second)
	require.NoError(t, err)
	require.Equal(t, types.ChangeModify, summary2.ChangeType)
	require.NotNil(t, summary2.TextChanges)
	require.Equal(t, 1, summary2.TextChanges.LinesAdded)
	require.Equal(t, 1, summary2.TextChanges.LinesModified)

	maps, err := repo.ListTextLineMaps(ctx, h.store.DB(), tenant, inode, layer)
	require.NoError(t, err)
	require.Len(t, maps, 4)
}
