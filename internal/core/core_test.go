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

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/detector"
	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/publish"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

func newTestFS(t *testing.T) (*FS, func(tenantName string) types.TenantID) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:core-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fs := New(s, detector.DefaultConfig())
	makeTenant := func(name string) types.TenantID {
		tenant, err := repo.CreateTenantWithRoot(ctx, s, name)
		require.NoError(t, err)
		require.NoError(t, fs.EnsureRootMount(ctx, tenant.TenantID))
		return tenant.TenantID
	}
	return fs, makeTenant
}

// S1: basic file create/write/read/stat/list round-trip through the
// tenant's working-layer mount.
func TestFileLifecycleThroughWorkingLayer(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	_, err := fs.CreateFile(ctx, tenant, "/hello.txt", 0o644)
	require.NoError(t, err)

	n, err := fs.WriteFile(ctx, tenant, "/hello.txt", 0, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, len("hello world"), n)

	content, err := fs.ReadFile(ctx, tenant, "/hello.txt", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	inode, err := fs.Stat(ctx, tenant, "/hello.txt")
	require.NoError(t, err)
	require.Equal(t, types.KindFile, inode.Kind)
	require.Equal(t, int64(len("hello world")), inode.Size)

	entries, err := fs.ListDirectory(ctx, tenant, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)
}

func TestWriteNonZeroOffsetIsNotSupported(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	_, err := fs.CreateFile(ctx, tenant, "/f.txt", 0o644)
	require.NoError(t, err)

	_, err = fs.WriteFile(ctx, tenant, "/f.txt", 4, []byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.NotSupported, "")))
}

func TestRemoveDirectoryRejectsNonEmpty(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	_, err := fs.CreateDirectory(ctx, tenant, "/dir")
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, tenant, "/dir/child.txt", 0o644)
	require.NoError(t, err)

	err = fs.RemoveDirectory(ctx, tenant, "/dir")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.DirectoryNotEmpty, "")))

	require.NoError(t, fs.RemoveFile(ctx, tenant, "/dir/child.txt"))
	require.NoError(t, fs.RemoveDirectory(ctx, tenant, "/dir"))
}

// Layer checkpoint/switch through the hook namespace, observed through
// ordinary Stat/ReadFile calls on the rest of the tree.
func TestCheckpointAndSwitchThroughHookNamespace(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	_, err := fs.CreateFile(ctx, tenant, "/v1.txt", 0o644)
	require.NoError(t, err)
	_, err = fs.WriteFile(ctx, tenant, "/v1.txt", 0, []byte("v1"))
	require.NoError(t, err)

	n, err := fs.WriteFile(ctx, tenant, "/.tarbox/layers/new", 0, []byte("checkpoint-1"))
	require.NoError(t, err)
	require.Equal(t, len("checkpoint-1"), n)

	_, err = fs.CreateFile(ctx, tenant, "/v2.txt", 0o644)
	require.NoError(t, err)

	entries, err := fs.ListDirectory(ctx, tenant, "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = fs.WriteFile(ctx, tenant, "/.tarbox/layers/switch", 0, []byte("base"))
	require.NoError(t, err)

	_, err = fs.Stat(ctx, tenant, "/v2.txt")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PathNotFound, "")))

	body, err := fs.ReadFile(ctx, tenant, "/.tarbox/layers/current", 0, 0)
	require.NoError(t, err)
	require.Contains(t, string(body), "base")
}

func TestOrdinaryOpsUnderHookPrefixArePermissionDenied(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	_, err := fs.CreateFile(ctx, tenant, "/.tarbox/layers/bogus", 0o644)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PermissionDenied, "")))

	err = fs.RemoveFile(ctx, tenant, "/.tarbox/layers/current")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PermissionDenied, "")))
}

// Composition: a second tenant mounts a directory that resolves to the
// first tenant's published working layer; the mount is read-only
// regardless of the mount entry's own Mode.
func TestPublishedMountIsReadOnlyAcrossTenants(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	owner := makeTenant("owner")
	consumer := makeTenant("consumer")

	_, err := fs.CreateFile(ctx, owner, "/shared.txt", 0o644)
	require.NoError(t, err)
	_, err = fs.WriteFile(ctx, owner, "/shared.txt", 0, []byte("shared content"))
	require.NoError(t, err)

	rootMount, err := fs.resolver.Resolve(ctx, owner, "/")
	require.NoError(t, err)

	pub := publish.New(fs.store)
	_, err = pub.Publish(ctx, owner, publish.Input{
		MountEntryID: rootMount.Mount.MountEntryID,
		PublishName:  "owner-root",
		Target:       types.PublishTarget{Kind: types.TargetWorkingLayer},
		Scope:        types.PublishScope{Kind: types.ScopePublic},
	})
	require.NoError(t, err)

	_, err = fs.resolver.Create(ctx, consumer, types.MountEntry{
		Name: "shared", VirtualPath: "/shared", IsFile: false, Mode: types.MountReadWrite,
		Source:  types.MountSource{Kind: types.SourcePublished, PublishName: "owner-root"},
		Enabled: true,
	})
	require.NoError(t, err)

	content, err := fs.ReadFile(ctx, consumer, "/shared/shared.txt", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "shared content", string(content))

	_, err = fs.WriteFile(ctx, consumer, "/shared/shared.txt", 0, []byte("tampered"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PermissionDenied, "")))
}

// Host pass-through mounts operate directly on the real filesystem.
func TestHostMountPassesThroughToRealFilesystem(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("on disk"), 0o644))

	_, err := fs.resolver.Create(ctx, tenant, types.MountEntry{
		Name: "host", VirtualPath: "/host", IsFile: false, Mode: types.MountReadWrite,
		Source:  types.MountSource{Kind: types.SourceHost, HostPath: dir},
		Enabled: true,
	})
	require.NoError(t, err)

	content, err := fs.ReadFile(ctx, tenant, "/host/note.txt", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "on disk", string(content))

	entries, err := fs.ListDirectory(ctx, tenant, "/host")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = fs.WriteFile(ctx, tenant, "/host/note.txt", 0, []byte("updated on disk"))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "note.txt"))
	require.NoError(t, err)
	require.Equal(t, "updated on disk", string(data))
}

func TestStatfsAggregatesLayerUsage(t *testing.T) {
	fs, makeTenant := newTestFS(t)
	ctx := context.Background()
	tenant := makeTenant("acme")

	_, err := fs.CreateFile(ctx, tenant, "/a.txt", 0o644)
	require.NoError(t, err)

	result, err := fs.Statfs(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, 1, result.LayerCount)
}
