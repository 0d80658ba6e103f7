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

package layer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

func newTestManager(t *testing.T) (*Manager, types.TenantID) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:layer-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tenant, err := repo.CreateTenantWithRoot(ctx, s, "acme")
	require.NoError(t, err)
	return New(s), tenant.TenantID
}

func TestInitializeBaseLayerIdempotent(t *testing.T) {
	m, tenant := newTestManager(t)
	ctx := context.Background()

	first, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "base", first.LayerName)
	assert.False(t, first.IsReadonly)

	second, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, first.LayerID, second.LayerID)
}

func TestCreateCheckpointSealsOutgoingLayer(t *testing.T) {
	m, tenant := newTestManager(t)
	ctx := context.Background()

	base, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)

	successor, err := m.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)
	assert.Equal(t, base.LayerID, *successor.ParentLayerID)
	assert.False(t, successor.IsReadonly)

	sealed, err := repo.GetLayer(ctx, m.store.DB(), tenant, base.LayerID)
	require.NoError(t, err)
	assert.True(t, sealed.IsReadonly)

	current, err := m.GetCurrentLayerID(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, successor.LayerID, current)
}

func TestCreateCheckpointRequiresConfirmationForFutureLayers(t *testing.T) {
	m, tenant := newTestManager(t)
	ctx := context.Background()

	base, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	_, err = m.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)

	require.NoError(t, m.SwitchToLayer(ctx, tenant, base.LayerID))

	_, err = m.CreateCheckpoint(ctx, tenant, "v2-alt", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.New(errkind.HistoricalLayerNeedsConfirmation, "")))

	successor, err := m.CreateCheckpoint(ctx, tenant, "v2-alt", true)
	require.NoError(t, err)
	assert.Equal(t, base.LayerID, *successor.ParentLayerID)

	remaining, err := repo.ListLayersByTenant(ctx, m.store.DB(), tenant)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestDeleteLayerFailsWithChildren(t *testing.T) {
	m, tenant := newTestManager(t)
	ctx := context.Background()

	base, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	_, err = m.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)

	err = m.DeleteLayer(ctx, tenant, base.LayerID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.New(errkind.HasChildLayers, "")))
}

func TestDeleteLayerFailsOnBase(t *testing.T) {
	m, tenant := newTestManager(t)
	ctx := context.Background()

	base, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)

	err = m.DeleteLayer(ctx, tenant, base.LayerID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.New(errkind.CannotDeleteBase, "")))
}

func TestRecordChangeFailsOnReadonlyLayer(t *testing.T) {
	m, tenant := newTestManager(t)
	ctx := context.Background()

	base, err := m.InitializeBaseLayer(ctx, tenant)
	require.NoError(t, err)
	_, err = m.CreateCheckpoint(ctx, tenant, "v2", false)
	require.NoError(t, err)

	require.NoError(t, m.SwitchToLayer(ctx, tenant, base.LayerID))

	_, err = m.RecordChange(ctx, tenant, 1, "/a.txt", types.ChangeAdd, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.New(errkind.ReadonlyLayer, "")))
}
