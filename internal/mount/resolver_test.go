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

package mount

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

func newTestResolver(t *testing.T) (*Resolver, types.TenantID) {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:mount-%s?mode=memory&cache=shared", uuid.New())
	s, err := store.Open(ctx, store.Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tenant, err := repo.CreateTenantWithRoot(ctx, s, "acme")
	require.NoError(t, err)
	return New(s), tenant.TenantID
}

func TestResolveFileMountTakesPrecedence(t *testing.T) {
	r, tenant := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Create(ctx, tenant, types.MountEntry{
		Name: "dir", VirtualPath: "/data", IsFile: false, Mode: types.MountReadWrite,
		Source: types.MountSource{Kind: types.SourceWorkingLayer},
	})
	require.NoError(t, err)
	_, err = r.Create(ctx, tenant, types.MountEntry{
		Name: "file", VirtualPath: "/data/readme.txt", IsFile: true, Mode: types.MountReadOnly,
		Source: types.MountSource{Kind: types.SourceHost, HostPath: "/srv/readme.txt"},
	})
	require.NoError(t, err)

	resolved, err := r.Resolve(ctx, tenant, "/data/readme.txt")
	require.NoError(t, err)
	require.True(t, resolved.Mount.IsFile)
	require.Equal(t, "", resolved.Relative)
}

func TestResolveLongestPrefixWins(t *testing.T) {
	r, tenant := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Create(ctx, tenant, types.MountEntry{
		Name: "root", VirtualPath: "/data", IsFile: false, Mode: types.MountReadWrite,
		Source: types.MountSource{Kind: types.SourceWorkingLayer},
	})
	require.NoError(t, err)
	_, err = r.Create(ctx, tenant, types.MountEntry{
		Name: "nested", VirtualPath: "/data/sub", IsFile: false, Mode: types.MountReadWrite,
		Source: types.MountSource{Kind: types.SourceWorkingLayer},
	})
	require.NoError(t, err)

	resolved, err := r.Resolve(ctx, tenant, "/data/sub/file.txt")
	require.NoError(t, err)
	require.Equal(t, "/data/sub", resolved.Mount.VirtualPath)
	require.Equal(t, "file.txt", resolved.Relative)
}

func TestResolveNoMatchIsPathNotFound(t *testing.T) {
	r, tenant := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, tenant, "/nowhere")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.PathNotFound, "")))
}

func TestCreateRejectsDirectoryPrefixConflict(t *testing.T) {
	r, tenant := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Create(ctx, tenant, types.MountEntry{
		Name: "root", VirtualPath: "/data", IsFile: false, Mode: types.MountReadWrite,
		Source: types.MountSource{Kind: types.SourceWorkingLayer},
	})
	require.NoError(t, err)

	_, err = r.Create(ctx, tenant, types.MountEntry{
		Name: "conflict", VirtualPath: "/data/sub", IsFile: false, Mode: types.MountReadWrite,
		Source: types.MountSource{Kind: types.SourceWorkingLayer},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.MountPathConflict, "")))
}

func TestCreateRejectsFileMountAtExistingDirectoryPath(t *testing.T) {
	r, tenant := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Create(ctx, tenant, types.MountEntry{
		Name: "root", VirtualPath: "/data", IsFile: false, Mode: types.MountReadWrite,
		Source: types.MountSource{Kind: types.SourceWorkingLayer},
	})
	require.NoError(t, err)

	_, err = r.Create(ctx, tenant, types.MountEntry{
		Name: "file", VirtualPath: "/data", IsFile: true, Mode: types.MountReadOnly,
		Source: types.MountSource{Kind: types.SourceHost, HostPath: "/x"},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.New(errkind.MountPathConflict, "")))
}
