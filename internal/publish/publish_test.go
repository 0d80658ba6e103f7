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

package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/layer"
	"github.com/tarboxfs/tarbox/internal/mount"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

type fixture struct {
	publisher *Publisher
	resolver  *mount.Resolver
	layers    *layer.Manager
	owner     types.TenantID
	outsider  types.TenantID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:publish-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	owner, err := repo.CreateTenantWithRoot(ctx, s, "owner")
	require.NoError(t, err)
	outsider, err := repo.CreateTenantWithRoot(ctx, s, "outsider")
	require.NoError(t, err)

	lm := layer.New(s)
	_, err = lm.InitializeBaseLayer(ctx, owner.TenantID)
	require.NoError(t, err)

	return fixture{publisher: New(s), resolver: mount.New(s), layers: lm, owner: owner.TenantID, outsider: outsider.TenantID}
}

func (f fixture) mountWorkingLayer(t *testing.T, tenant types.TenantID) types.MountEntry {
	t.Helper()
	ctx := context.Background()
	current, err := f.layers.GetCurrentLayerID(ctx, tenant)
	require.NoError(t, err)
	m, err := f.resolver.Create(ctx, tenant, types.MountEntry{
		Name: "work", VirtualPath: "/work", IsFile: false, Mode: types.MountReadWrite,
		Source:         types.MountSource{Kind: types.SourceWorkingLayer},
		Enabled:        true,
		CurrentLayerID: &current,
	})
	require.NoError(t, err)
	return m
}

func TestPublishRejectsNonWorkingLayerMount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.resolver.Create(ctx, f.owner, types.MountEntry{
		Name: "host", VirtualPath: "/host", IsFile: false, Mode: types.MountReadOnly,
		Source: types.MountSource{Kind: types.SourceHost, HostPath: "/srv"},
	})
	require.NoError(t, err)

	_, err = f.publisher.Publish(ctx, f.owner, Input{
		MountEntryID: m.MountEntryID, PublishName: "pub1",
		Target: types.PublishTarget{Kind: types.TargetWorkingLayer},
		Scope:  types.PublishScope{Kind: types.ScopePublic},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.InvalidInput, "")))
}

func TestResolvePublishedWorkingLayerTracksMount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mountWorkingLayer(t, f.owner)

	_, err := f.publisher.Publish(ctx, f.owner, Input{
		MountEntryID: m.MountEntryID, PublishName: "pub2",
		Target: types.PublishTarget{Kind: types.TargetWorkingLayer},
		Scope:  types.PublishScope{Kind: types.ScopePublic},
	})
	require.NoError(t, err)

	before, err := f.publisher.ResolvePublished(ctx, "pub2", f.outsider)
	require.NoError(t, err)
	require.True(t, before.IsWorkingLayer)

	next, err := f.layers.CreateCheckpoint(ctx, f.owner, "v2", false)
	require.NoError(t, err)

	after, err := f.publisher.ResolvePublished(ctx, "pub2", f.outsider)
	require.NoError(t, err)
	require.Equal(t, next.LayerID, after.LayerID)
	require.NotEqual(t, before.LayerID, after.LayerID)
}

func TestResolvePublishedAllowListDeniesNonMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mountWorkingLayer(t, f.owner)

	_, err := f.publisher.Publish(ctx, f.owner, Input{
		MountEntryID: m.MountEntryID, PublishName: "pub3",
		Target: types.PublishTarget{Kind: types.TargetWorkingLayer},
		Scope:  types.PublishScope{Kind: types.ScopeAllowList, AllowedTenants: []types.TenantID{}},
	})
	require.NoError(t, err)

	_, err = f.publisher.ResolvePublished(ctx, "pub3", f.outsider)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.AccessDenied, "")))
}

func TestUnpublishIsOwnershipChecked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.mountWorkingLayer(t, f.owner)

	_, err := f.publisher.Publish(ctx, f.owner, Input{
		MountEntryID: m.MountEntryID, PublishName: "pub4",
		Target: types.PublishTarget{Kind: types.TargetWorkingLayer},
		Scope:  types.PublishScope{Kind: types.ScopePublic},
	})
	require.NoError(t, err)

	err = f.publisher.Unpublish(ctx, f.outsider, "pub4")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.NotPublished, "")))

	err = f.publisher.Unpublish(ctx, f.owner, "pub4")
	require.NoError(t, err)

	_, err = f.publisher.ResolvePublished(ctx, "pub4", f.owner)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.NotPublished, "")))
}
