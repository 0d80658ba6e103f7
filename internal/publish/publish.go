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

// Package publish is C8: grants cross-tenant visibility of a mount's
// working layer or a frozen snapshot under a globally-unique name,
// per §4.8.
package publish

import (
	"context"
	"slices"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// Publisher implements publish/unpublish/resolve_published over a
// tenant's mounts.
type Publisher struct {
	store *store.Store
}

func New(s *store.Store) *Publisher {
	return &Publisher{store: s}
}

// Input is the publish request body: the caller names the mount it
// owns and the visibility scope to grant.
type Input struct {
	MountEntryID types.MountEntryID
	PublishName  string
	Target       types.PublishTarget
	Scope        types.PublishScope
}

// Publish implements §4.8's publish: the mount must belong to tenant,
// match input.MountEntryID, and have a working_layer source — a mount
// backed by a host path, a fixed layer, or another publication cannot
// itself be published.
func (p *Publisher) Publish(ctx context.Context, tenant types.TenantID, input Input) (types.PublishedMount, error) {
	mount, err := repo.GetMountEntry(ctx, p.store.DB(), tenant, input.MountEntryID)
	if err != nil {
		return types.PublishedMount{}, err
	}
	if mount.Source.Kind != types.SourceWorkingLayer {
		return types.PublishedMount{}, errkind.New(errkind.InvalidInput, "mount source must be working_layer")
	}

	var result types.PublishedMount
	err = p.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		if _, ok, err := repo.GetPublishedMountByMount(ctx, q, mount.MountEntryID); err != nil {
			return err
		} else if ok {
			return errkind.New(errkind.AlreadyPublished, mount.MountEntryID.String())
		}
		result, err = repo.CreatePublishedMount(ctx, q, types.PublishedMount{
			MountEntryID: mount.MountEntryID,
			OwnerTenant:  tenant,
			PublishName:  input.PublishName,
			Target:       input.Target,
			Scope:        input.Scope,
		})
		return err
	})
	return result, err
}

// Unpublish implements §4.8's unpublish: an ownership-checked delete
// that returns NotPublished if no row exists under that name for
// tenant.
func (p *Publisher) Unpublish(ctx context.Context, tenant types.TenantID, publishName string) error {
	existing, err := repo.GetPublishedMountByName(ctx, p.store.DB(), publishName)
	if err != nil {
		return err
	}
	if existing.OwnerTenant != tenant {
		return errkind.New(errkind.NotPublished, publishName)
	}
	return repo.DeletePublishedMount(ctx, p.store.DB(), existing.PublishID)
}

// Resolution is what resolve_published hands back to the caller: the
// owner's tenant and the concrete layer to read the union view
// against, tagged with whether that layer tracks the mount's working
// layer or is a frozen target (§4.8).
type Resolution struct {
	MountEntryID   types.MountEntryID
	OwnerTenantID  types.TenantID
	LayerID        types.LayerID
	IsWorkingLayer bool
}

// ResolvePublished implements §4.8's resolve_published: the owner
// always has access, Public grants all, AllowList grants only the
// listed tenants; a fixed-layer target resolves directly, a
// working_layer target dereferences the mount's current_layer_id.
func (p *Publisher) ResolvePublished(ctx context.Context, publishName string, accessor types.TenantID) (Resolution, error) {
	pub, err := repo.GetPublishedMountByName(ctx, p.store.DB(), publishName)
	if err != nil {
		return Resolution{}, err
	}
	if err := checkAccess(pub, accessor); err != nil {
		return Resolution{}, err
	}

	if pub.Target.Kind == types.TargetLayer {
		return Resolution{
			MountEntryID:  pub.MountEntryID,
			OwnerTenantID: pub.OwnerTenant,
			LayerID:       pub.Target.LayerID,
		}, nil
	}

	mount, err := repo.GetMountEntry(ctx, p.store.DB(), pub.OwnerTenant, pub.MountEntryID)
	if err != nil {
		return Resolution{}, err
	}
	if mount.CurrentLayerID == nil {
		return Resolution{}, errkind.New(errkind.WorkingLayerUninitialised, publishName)
	}
	return Resolution{
		MountEntryID:   pub.MountEntryID,
		OwnerTenantID:  pub.OwnerTenant,
		LayerID:        *mount.CurrentLayerID,
		IsWorkingLayer: true,
	}, nil
}

func checkAccess(pub types.PublishedMount, accessor types.TenantID) error {
	if pub.OwnerTenant == accessor {
		return nil
	}
	switch pub.Scope.Kind {
	case types.ScopePublic:
		return nil
	case types.ScopeAllowList:
		if slices.Contains(pub.Scope.AllowedTenants, accessor) {
			return nil
		}
	}
	return errkind.New(errkind.AccessDenied, pub.PublishName)
}

// ListByOwner returns every publication tenant owns.
func (p *Publisher) ListByOwner(ctx context.Context, tenant types.TenantID) ([]types.PublishedMount, error) {
	return repo.ListPublishedMountsByOwner(ctx, p.store.DB(), tenant)
}
