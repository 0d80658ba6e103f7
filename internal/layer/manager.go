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

// Package layer is C5: the per-tenant layer lifecycle (creation,
// checkpointing, switching, deletion) and the current-layer pointer.
// It owns no content; writes land through internal/cow and are
// recorded here only as layer-entries.
package layer

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// maxChainDepth bounds get_layer_chain against a corrupted parent
// pointer that forms a cycle (§9 design note).
const maxChainDepth = 10000

// Manager implements the per-tenant layer operations of §4.5.
type Manager struct {
	store *store.Store
}

func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// InitializeBaseLayer creates the tenant's first layer, named "base",
// with no parent and no current pointer set yet other than itself, if
// none exists. Idempotent.
func (m *Manager) InitializeBaseLayer(ctx context.Context, tenant types.TenantID) (types.Layer, error) {
	var result types.Layer
	err := m.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		existing, ok, err := repo.GetCurrentLayerID(ctx, q, tenant)
		if err != nil {
			return err
		}
		if ok {
			result, err = repo.GetLayer(ctx, q, tenant, existing)
			return err
		}
		base, err := repo.CreateLayer(ctx, q, types.Layer{
			TenantID: tenant, LayerName: "base", IsReadonly: false, IsWorking: true,
			Status: types.LayerStatusActive,
		})
		if err != nil {
			return err
		}
		if err := repo.SetCurrentLayerID(ctx, q, tenant, base.LayerID); err != nil {
			return err
		}
		result = base
		return nil
	})
	return result, err
}

// GetCurrentLayerID reads the tenant's current-layer pointer.
func (m *Manager) GetCurrentLayerID(ctx context.Context, tenant types.TenantID) (types.LayerID, error) {
	id, ok, err := repo.GetCurrentLayerID(ctx, m.store.DB(), tenant)
	if err != nil {
		return types.NilID, err
	}
	if !ok {
		return types.NilID, errkind.New(errkind.NoCurrentLayer, "")
	}
	return id, nil
}

// GetCurrentLayer reads the tenant's current layer in full.
func (m *Manager) GetCurrentLayer(ctx context.Context, tenant types.TenantID) (types.Layer, error) {
	id, err := m.GetCurrentLayerID(ctx, tenant)
	if err != nil {
		return types.Layer{}, err
	}
	return repo.GetLayer(ctx, m.store.DB(), tenant, id)
}

// layerDepth pairs a layer with its distance from the checkpoint root
// during future-layer discovery.
type layerDepth struct {
	layer types.Layer
	depth int
}

// futureLayers collects every layer reachable by walking child
// pointers forward from l (i.e. layers whose ancestor chain passes
// through l), each tagged with its depth from l. The walk is bounded
// by maxChainDepth to defend against a corrupted, cyclic parent chain
// (§9 design note).
func futureLayers(ctx context.Context, q store.Queryer, tenant types.TenantID, l types.LayerID) ([]layerDepth, error) {
	var out []layerDepth
	frontier := []types.LayerID{l}
	for depth := 1; len(frontier) > 0 && depth <= maxChainDepth; depth++ {
		var next []types.LayerID
		for _, id := range frontier {
			children, err := repo.ListChildLayers(ctx, q, tenant, id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out = append(out, layerDepth{layer: c, depth: depth})
				next = append(next, c.LayerID)
			}
		}
		frontier = next
	}
	return out, nil
}

// CreateCheckpoint implements §4.5's create_checkpoint: a single
// transaction that lists and (if confirmed) deletes future layers,
// flips the outgoing layer to read-only, creates its successor, and
// moves the current-layer pointer.
func (m *Manager) CreateCheckpoint(ctx context.Context, tenant types.TenantID, name string, confirmDeleteFuture bool) (types.Layer, error) {
	var result types.Layer
	err := m.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		current, ok, err := repo.GetCurrentLayerID(ctx, q, tenant)
		if err != nil {
			return err
		}
		if !ok {
			return errkind.New(errkind.NoCurrentLayer, "")
		}
		outgoing, err := repo.GetLayer(ctx, q, tenant, current)
		if err != nil {
			return err
		}

		future, err := futureLayers(ctx, q, tenant, outgoing.LayerID)
		if err != nil {
			return err
		}
		if len(future) > 0 {
			if !confirmDeleteFuture {
				return errkind.New(errkind.HistoricalLayerNeedsConfirmation, outgoing.LayerID.String())
			}
			// Leaf-first: deepest layers first, so a layer's children are
			// always deleted before the layer itself (§9 open question,
			// resolved by computing real depth rather than trusting the
			// source's constant-zero count_depth_from).
			sort.Slice(future, func(i, j int) bool { return future[i].depth > future[j].depth })
			for _, fl := range future {
				if err := repo.DeleteLayerEntries(ctx, q, fl.layer.LayerID); err != nil {
					return err
				}
				if err := repo.DeleteLayer(ctx, q, tenant, fl.layer.LayerID); err != nil {
					return err
				}
			}
		}

		if err := repo.UpdateLayerFlags(ctx, q, tenant, outgoing.LayerID, true, false, types.LayerStatusActive); err != nil {
			return err
		}

		successor, err := repo.CreateLayer(ctx, q, types.Layer{
			TenantID: tenant, ParentLayerID: &outgoing.LayerID, LayerName: name,
			IsReadonly: false, IsWorking: true, MountEntryID: outgoing.MountEntryID,
			Status: types.LayerStatusActive,
		})
		if err != nil {
			return err
		}
		if err := repo.SetCurrentLayerID(ctx, q, tenant, successor.LayerID); err != nil {
			return err
		}
		mounts, err := repo.ListMountEntries(ctx, q, tenant)
		if err != nil {
			return err
		}
		for _, me := range mounts {
			if me.CurrentLayerID != nil && *me.CurrentLayerID == outgoing.LayerID {
				if err := repo.SetMountCurrentLayer(ctx, q, tenant, me.MountEntryID, successor.LayerID); err != nil {
					return err
				}
			}
		}
		result = successor
		return nil
	})
	return result, err
}

// SwitchToLayer validates id belongs to tenant and moves the current
// pointer to it. Future layers reachable from the old position are
// left untouched; the caller can switch back.
func (m *Manager) SwitchToLayer(ctx context.Context, tenant types.TenantID, id types.LayerID) error {
	return m.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		if _, err := repo.GetLayer(ctx, q, tenant, id); err != nil {
			return err
		}
		previous, _, err := repo.GetCurrentLayerID(ctx, q, tenant)
		if err != nil {
			return err
		}
		mounts, err := repo.ListMountEntries(ctx, q, tenant)
		if err != nil {
			return err
		}
		for _, me := range mounts {
			if me.CurrentLayerID != nil && *me.CurrentLayerID == previous {
				if err := repo.SetMountCurrentLayer(ctx, q, tenant, me.MountEntryID, id); err != nil {
					return err
				}
			}
		}
		return repo.SetCurrentLayerID(ctx, q, tenant, id)
	})
}

// DeleteLayer implements §4.5's delete_layer: fails if id has
// children; if id is the tenant's current layer, demotes the pointer
// to its parent (failing CannotDeleteBase if there is none), then
// removes the row.
func (m *Manager) DeleteLayer(ctx context.Context, tenant types.TenantID, id types.LayerID) error {
	return m.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		children, err := repo.ListChildLayers(ctx, q, tenant, id)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return errkind.New(errkind.HasChildLayers, id.String())
		}

		current, ok, err := repo.GetCurrentLayerID(ctx, q, tenant)
		if err != nil {
			return err
		}
		if ok && current == id {
			l, err := repo.GetLayer(ctx, q, tenant, id)
			if err != nil {
				return err
			}
			if l.ParentLayerID == nil {
				return errkind.New(errkind.CannotDeleteBase, id.String())
			}
			if err := repo.SetCurrentLayerID(ctx, q, tenant, *l.ParentLayerID); err != nil {
				return err
			}
		}

		if err := repo.DeleteLayerEntries(ctx, q, id); err != nil {
			return err
		}
		return repo.DeleteLayer(ctx, q, tenant, id)
	})
}

// RecordChange upserts a layer-entry for the tenant's current layer,
// failing if that layer turned out to be read-only (§4.5
// record_change, §5 ordering note). It also keeps that layer's
// file_count/total_size rollups current: add/delete move file_count
// by one, and sizeDelta (whatever the caller measured as the net byte
// change for this entry) moves total_size.
func (m *Manager) RecordChange(ctx context.Context, tenant types.TenantID, inode types.InodeID, path string, changeType types.ChangeType, sizeDelta *int64, textChanges *types.TextChanges) (types.LayerEntry, error) {
	var result types.LayerEntry
	err := m.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		current, ok, err := repo.GetCurrentLayerID(ctx, q, tenant)
		if err != nil {
			return err
		}
		if !ok {
			return errkind.New(errkind.NoCurrentLayer, "")
		}
		l, err := repo.GetLayer(ctx, q, tenant, current)
		if err != nil {
			return err
		}
		if l.IsReadonly {
			return errkind.New(errkind.ReadonlyLayer, path)
		}
		result, err = repo.PutLayerEntry(ctx, q, types.LayerEntry{
			LayerID: current, TenantID: tenant, InodeID: inode, Path: path,
			ChangeType: changeType, SizeDelta: sizeDelta, TextChanges: textChanges,
		})
		if err != nil {
			return err
		}

		var fileCountDelta int64
		switch changeType {
		case types.ChangeAdd:
			fileCountDelta = 1
		case types.ChangeDelete:
			fileCountDelta = -1
		}
		var totalSizeDelta int64
		if sizeDelta != nil {
			totalSizeDelta = *sizeDelta
		}
		if fileCountDelta != 0 || totalSizeDelta != 0 {
			if err := repo.IncrementLayerUsage(ctx, q, tenant, current, fileCountDelta, totalSizeDelta); err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// IsAtHistoricalPosition is true iff the current layer has future
// layers reachable from it.
func (m *Manager) IsAtHistoricalPosition(ctx context.Context, tenant types.TenantID) (bool, error) {
	current, err := m.GetCurrentLayerID(ctx, tenant)
	if err != nil {
		return false, err
	}
	future, err := futureLayers(ctx, m.store.DB(), tenant, current)
	if err != nil {
		return false, err
	}
	return len(future) > 0, nil
}

// ListLayers returns every layer belonging to tenant, newest first —
// exported per SPEC_FULL.md §10 so a non-hook adapter can list layers
// directly instead of only through the virtual hook namespace.
func (m *Manager) ListLayers(ctx context.Context, tenant types.TenantID) ([]types.Layer, error) {
	return repo.ListLayersByTenant(ctx, m.store.DB(), tenant)
}

// TreeNode is one layer in the tenant's layer tree, with its direct
// children nested below it.
type TreeNode struct {
	Layer    types.Layer
	Children []*TreeNode
}

// LayerTree builds the full parent/child tree of a tenant's layers,
// rooted at every layer with no parent (normally just "base").
func (m *Manager) LayerTree(ctx context.Context, tenant types.TenantID) ([]*TreeNode, error) {
	layers, err := repo.ListLayersByTenant(ctx, m.store.DB(), tenant)
	if err != nil {
		return nil, err
	}
	nodes := make(map[types.LayerID]*TreeNode, len(layers))
	for _, l := range layers {
		nodes[l.LayerID] = &TreeNode{Layer: l}
	}
	var roots []*TreeNode
	for _, l := range layers {
		n := nodes[l.LayerID]
		if l.ParentLayerID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*l.ParentLayerID]
		if !ok {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots, nil
}

// LayerDiff summarises what changed in a single layer, as recorded by
// its layer-entries.
type LayerDiff struct {
	Layer   types.Layer
	Entries []types.LayerEntry
}

// LayerDiff returns the change set recorded directly in id — not a
// union across its ancestors, just this layer's own deltas.
func (m *Manager) LayerDiff(ctx context.Context, tenant types.TenantID, id types.LayerID) (LayerDiff, error) {
	l, err := repo.GetLayer(ctx, m.store.DB(), tenant, id)
	if err != nil {
		return LayerDiff{}, err
	}
	entries, err := repo.ListLayerEntries(ctx, m.store.DB(), id)
	if err != nil {
		return LayerDiff{}, err
	}
	return LayerDiff{Layer: l, Entries: entries}, nil
}

// UsageStats reports the file_count/total_size rollups for a layer,
// as maintained by RecordChange above each time a layer-entry lands.
type UsageStats struct {
	LayerID   types.LayerID
	FileCount int64
	TotalSize int64
}

func (m *Manager) UsageStats(ctx context.Context, tenant types.TenantID, id types.LayerID) (UsageStats, error) {
	l, err := repo.GetLayer(ctx, m.store.DB(), tenant, id)
	if err != nil {
		return UsageStats{}, err
	}
	return UsageStats{LayerID: l.LayerID, FileCount: l.FileCount, TotalSize: l.TotalSize}, nil
}

// ResolveLayerRef resolves a hook-namespace layer reference (§6.3):
// the literal "current", a UUID, or a display name, in that order.
func (m *Manager) ResolveLayerRef(ctx context.Context, tenant types.TenantID, ref string) (types.Layer, error) {
	if ref == "current" {
		return m.GetCurrentLayer(ctx, tenant)
	}
	if id, err := uuid.Parse(ref); err == nil {
		return repo.GetLayer(ctx, m.store.DB(), tenant, id)
	}
	return repo.GetLayerByName(ctx, m.store.DB(), tenant, ref)
}

