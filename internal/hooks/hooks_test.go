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

package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/layer"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

func newTestHandler(t *testing.T) (*Handler, types.TenantID) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:hooks-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tenant, err := repo.CreateTenantWithRoot(ctx, s, "acme")
	require.NoError(t, err)
	lm := layer.New(s)
	_, err = lm.InitializeBaseLayer(ctx, tenant.TenantID)
	require.NoError(t, err)
	return New(lm), tenant.TenantID
}

func TestIsHookPath(t *testing.T) {
	require.True(t, IsHookPath("/.tarbox"))
	require.True(t, IsHookPath("/.tarbox/layers/current"))
	require.False(t, IsHookPath("/.tarboxed/x"))
	require.False(t, IsHookPath("/data"))
}

func TestReadLayersCurrent(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	body, err := h.Read(ctx, tenant, "/.tarbox/layers/current")
	require.NoError(t, err)
	var l types.Layer
	require.NoError(t, json.Unmarshal(body, &l))
	require.Equal(t, "base", l.LayerName)
}

func TestReadWriteOnlyHookIsPermissionDenied(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Read(ctx, tenant, "/.tarbox/layers/new")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PermissionDenied, "")))
}

func TestWriteLayersNewBareName(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	err := h.Write(ctx, tenant, "/.tarbox/layers/new", []byte("v2"))
	require.NoError(t, err)

	body, err := h.Read(ctx, tenant, "/.tarbox/layers/current")
	require.NoError(t, err)
	var l types.Layer
	require.NoError(t, json.Unmarshal(body, &l))
	require.Equal(t, "v2", l.LayerName)
}

func TestWriteLayersSwitchByName(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Write(ctx, tenant, "/.tarbox/layers/new", []byte("v2")))
	require.NoError(t, h.Write(ctx, tenant, "/.tarbox/layers/switch", []byte("base")))

	body, err := h.Read(ctx, tenant, "/.tarbox/layers/current")
	require.NoError(t, err)
	var l types.Layer
	require.NoError(t, json.Unmarshal(body, &l))
	require.Equal(t, "base", l.LayerName)
}

func TestWriteOrdinaryNamespacePathIsPermissionDenied(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	err := h.Write(ctx, tenant, "/.tarbox/layers/current", []byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PermissionDenied, "")))
}

func TestListChildrenOfNamespace(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	names, err := h.ListChildren(ctx, tenant, Prefix)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"layers", "stats", "snapshots"}, names)
}

func TestReadSnapshotByName(t *testing.T) {
	h, tenant := newTestHandler(t)
	ctx := context.Background()

	body, err := h.Read(ctx, tenant, "/.tarbox/snapshots/base")
	require.NoError(t, err)
	var l types.Layer
	require.NoError(t, json.Unmarshal(body, &l))
	require.Equal(t, "base", l.LayerName)
}
