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

// Package mount is C7: resolves a virtual path to the mount that owns
// it and validates new mounts against the no-conflict rule of §4.7. It
// also carries the plain mount_entry CRUD the resolver and C8 build on
// (SPEC_FULL.md §10: original_source exposes mount administration as a
// distinct service, which spec.md assumes exists but never names).
package mount

import (
	"context"
	"strings"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/pathutil"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// Resolver implements §4.7's resolution and conflict-validation rules.
type Resolver struct {
	store *store.Store
}

func New(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolved is a mount plus the residual path beneath it.
type Resolved struct {
	Mount    types.MountEntry
	Relative string
}

// Resolve implements §4.7 steps 1-3: a file-mount at an exact match
// wins; otherwise the directory mount with the longest matching prefix
// wins; otherwise PathNotFound (the spec's NoMountForPath, which maps
// to PathNotFound per §7's error table).
func (r *Resolver) Resolve(ctx context.Context, tenant types.TenantID, queryPath string) (Resolved, error) {
	mounts, err := repo.ListMountEntries(ctx, r.store.DB(), tenant)
	if err != nil {
		return Resolved{}, err
	}

	for _, m := range mounts {
		if m.IsFile && m.VirtualPath == queryPath {
			return Resolved{Mount: m, Relative: ""}, nil
		}
	}

	var best *types.MountEntry
	bestLen := -1
	for i := range mounts {
		m := mounts[i]
		if m.IsFile {
			continue
		}
		if !pathutil.IsPrefix(m.VirtualPath, queryPath) {
			continue
		}
		if len(m.VirtualPath) > bestLen {
			best = &mounts[i]
			bestLen = len(m.VirtualPath)
		}
	}
	if best == nil {
		return Resolved{}, errkind.New(errkind.PathNotFound, queryPath)
	}
	return Resolved{Mount: *best, Relative: residual(best.VirtualPath, queryPath)}, nil
}

// residual strips the mount's virtual_path prefix off queryPath,
// component-wise; a file-mount's relative path is always empty.
func residual(mountPath, queryPath string) string {
	rest := strings.TrimPrefix(queryPath, mountPath)
	return strings.TrimPrefix(rest, "/")
}

// ValidateNoConflict implements §4.7's validate_no_conflict: exact
// equality always conflicts; two directory mounts conflict if either
// is a path-prefix of the other; a file mount conflicts only on exact
// equality.
func ValidateNoConflict(existing []types.MountEntry, newPath string, isFile bool) error {
	for _, e := range existing {
		if e.VirtualPath == newPath {
			return errkind.New(errkind.MountPathConflict, newPath)
		}
		if !isFile && !e.IsFile {
			if pathutil.IsPrefix(e.VirtualPath, newPath) || pathutil.IsPrefix(newPath, e.VirtualPath) {
				return errkind.New(errkind.MountPathConflict, newPath)
			}
		}
	}
	return nil
}

// List returns every mount entry belonging to tenant.
func (r *Resolver) List(ctx context.Context, tenant types.TenantID) ([]types.MountEntry, error) {
	return repo.ListMountEntries(ctx, r.store.DB(), tenant)
}

// Create validates newEntry against the tenant's existing mounts and
// inserts it.
func (r *Resolver) Create(ctx context.Context, tenant types.TenantID, newEntry types.MountEntry) (types.MountEntry, error) {
	var result types.MountEntry
	err := r.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		existing, err := repo.ListMountEntries(ctx, q, tenant)
		if err != nil {
			return err
		}
		if err := ValidateNoConflict(existing, newEntry.VirtualPath, newEntry.IsFile); err != nil {
			return err
		}
		newEntry.TenantID = tenant
		result, err = repo.CreateMountEntry(ctx, q, newEntry)
		return err
	})
	return result, err
}

// Delete removes a mount entry.
func (r *Resolver) Delete(ctx context.Context, tenant types.TenantID, id types.MountEntryID) error {
	return repo.DeleteMountEntry(ctx, r.store.DB(), tenant, id)
}

// ResolvedSource is the concrete target a mount's source variant
// derives into, per §4.7's third paragraph. Exactly one of the
// following is meaningful, discriminated by Kind:
//   - SourceHost: HostPath is the concrete host path to read/write.
//   - SourceLayer, SourceWorkingLayer: OwnerTenant/LayerID/Subpath name
//     the (tenant, layer, relative-path) triple the caller resolves
//     through the union view.
//   - SourcePublished: PublishName/PublishedSubpath hand off to C8.
type ResolvedSource struct {
	Kind types.MountSourceKind

	HostPath string

	OwnerTenant types.TenantID
	LayerID     types.LayerID
	Subpath     string

	PublishName      string
	PublishedSubpath string
}

// ResolveSource derives a ResolvedSource from resolved.Mount.Source and
// resolved.Relative, per §4.7. For SourceLayer it dereferences the
// referenced mount-entry to learn its owning tenant and, when the
// variant omits an explicit layer, its current working layer.
func (r *Resolver) ResolveSource(ctx context.Context, tenant types.TenantID, resolved Resolved) (ResolvedSource, error) {
	src := resolved.Mount.Source
	switch src.Kind {
	case types.SourceHost:
		return ResolvedSource{
			Kind:     types.SourceHost,
			HostPath: joinHostPath(src.HostPath, resolved.Relative),
		}, nil

	case types.SourceWorkingLayer:
		if resolved.Mount.CurrentLayerID == nil {
			return ResolvedSource{}, errkind.New(errkind.WorkingLayerUninitialised, resolved.Mount.VirtualPath)
		}
		return ResolvedSource{
			Kind:        types.SourceWorkingLayer,
			OwnerTenant: tenant,
			LayerID:     *resolved.Mount.CurrentLayerID,
			Subpath:     joinSubpath(src.LayerSubpath, resolved.Relative),
		}, nil

	case types.SourceLayer:
		referenced, err := repo.GetMountEntryByID(ctx, r.store.DB(), src.LayerMountID)
		if err != nil {
			return ResolvedSource{}, err
		}
		layerID := src.LayerID
		if layerID == nil {
			if referenced.CurrentLayerID == nil {
				return ResolvedSource{}, errkind.New(errkind.WorkingLayerUninitialised, resolved.Mount.VirtualPath)
			}
			layerID = referenced.CurrentLayerID
		}
		return ResolvedSource{
			Kind:        types.SourceLayer,
			OwnerTenant: referenced.TenantID,
			LayerID:     *layerID,
			Subpath:     joinSubpath(src.LayerSubpath, resolved.Relative),
		}, nil

	case types.SourcePublished:
		return ResolvedSource{
			Kind:             types.SourcePublished,
			PublishName:      src.PublishName,
			PublishedSubpath: joinSubpath(src.PublishedSubpath, resolved.Relative),
		}, nil

	default:
		return ResolvedSource{}, errkind.New(errkind.InvalidInput, string(src.Kind))
	}
}

func joinHostPath(base, relative string) string {
	if relative == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + relative
}

func joinSubpath(base, relative string) string {
	base = strings.Trim(base, "/")
	relative = strings.Trim(relative, "/")
	switch {
	case base == "":
		return relative
	case relative == "":
		return base
	default:
		return base + "/" + relative
	}
}
