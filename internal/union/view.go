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

// Package union is C6: read-side composition of a layer chain into a
// single effective tree, newest-over-oldest with tombstone semantics.
// It owns no writes; those land through internal/cow and
// internal/layer.
package union

import (
	"bytes"
	"context"
	"strings"

	"github.com/tarboxfs/tarbox/internal/pathutil"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// maxChainLength bounds the walk up parent_layer_id, matching the
// corrupted-cycle defence of internal/layer (§9 design note).
const maxChainLength = 10000

// View composes a tenant's layer chain into lookups over §4.6.
type View struct {
	store *store.Store
}

func New(s *store.Store) *View {
	return &View{store: s}
}

// chain returns [from, parent(from), ..., base], walking parent_layer_id
// upward, bounded against a cyclic parent chain.
func (v *View) chain(ctx context.Context, tenant types.TenantID, from types.LayerID) ([]types.Layer, error) {
	var out []types.Layer
	id := from
	for i := 0; i < maxChainLength; i++ {
		l, err := repo.GetLayer(ctx, v.store.DB(), tenant, id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
		if l.ParentLayerID == nil {
			return out, nil
		}
		id = *l.ParentLayerID
	}
	return out, nil
}

// LookupResult is the outcome of LookupFile: exactly one of Found or
// Deleted is meaningful, discriminated by Status.
type LookupResult struct {
	Status  LookupStatus
	LayerID types.LayerID
	InodeID types.InodeID
}

type LookupStatus int

const (
	StatusNotFound LookupStatus = iota
	StatusExists
	StatusDeleted
)

// LookupFile walks the chain from newest to oldest; the first
// layer-entry found for path determines the result, per §4.6.
func (v *View) LookupFile(ctx context.Context, tenant types.TenantID, from types.LayerID, path string) (LookupResult, error) {
	layers, err := v.chain(ctx, tenant, from)
	if err != nil {
		return LookupResult{}, err
	}
	for _, l := range layers {
		entry, ok, err := repo.GetLayerEntry(ctx, v.store.DB(), l.LayerID, path)
		if err != nil {
			return LookupResult{}, err
		}
		if !ok {
			continue
		}
		if entry.ChangeType == types.ChangeDelete {
			return LookupResult{Status: StatusDeleted, LayerID: l.LayerID}, nil
		}
		return LookupResult{Status: StatusExists, LayerID: l.LayerID, InodeID: entry.InodeID}, nil
	}
	return LookupResult{Status: StatusNotFound}, nil
}

// FileExists is a thin wrapper over LookupFile.
func (v *View) FileExists(ctx context.Context, tenant types.TenantID, from types.LayerID, path string) (bool, error) {
	r, err := v.LookupFile(ctx, tenant, from, path)
	if err != nil {
		return false, err
	}
	return r.Status == StatusExists, nil
}

// FindFileLayer is a thin wrapper over LookupFile returning just the
// owning layer id.
func (v *View) FindFileLayer(ctx context.Context, tenant types.TenantID, from types.LayerID, path string) (types.LayerID, bool, error) {
	r, err := v.LookupFile(ctx, tenant, from, path)
	if err != nil {
		return types.NilID, false, err
	}
	return r.LayerID, r.Status == StatusExists, nil
}

// DirEntry is one name visible in a union-composed directory listing.
type DirEntry struct {
	Name    string
	InodeID types.InodeID
	LayerID types.LayerID
}

// ListDirectory walks the chain oldest-to-newest, maintaining
// name -> (inode_id, layer_id); add/modify inserts or overwrites,
// delete removes, per §4.6.
func (v *View) ListDirectory(ctx context.Context, tenant types.TenantID, from types.LayerID, dirPath string) ([]DirEntry, error) {
	layers, err := v.chain(ctx, tenant, from)
	if err != nil {
		return nil, err
	}

	type slot struct {
		inode types.InodeID
		layer types.LayerID
	}
	live := map[string]slot{}

	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		entries, err := repo.ListLayerEntries(ctx, v.store.DB(), l.LayerID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			parent, name, err := splitForDir(e.Path)
			if err != nil || parent != dirPath {
				continue
			}
			if e.ChangeType == types.ChangeDelete {
				delete(live, name)
				continue
			}
			live[name] = slot{inode: e.InodeID, layer: l.LayerID}
		}
	}

	out := make([]DirEntry, 0, len(live))
	for name, s := range live {
		out = append(out, DirEntry{Name: name, InodeID: s.inode, LayerID: s.layer})
	}
	return out, nil
}

// splitForDir mirrors pathutil.Split but treats root specially so a
// top-level entry's parent compares equal to "/".
func splitForDir(path string) (parent, name string, err error) {
	if path == "/" {
		return "", "/", nil
	}
	return pathutil.Split(path)
}

// FileHistoryEntry is one recorded change to a path, tagged with its
// owning layer's name for display.
type FileHistoryEntry = types.FileHistoryEntry

// GetFileHistory returns every entry for inode across the chain,
// newest first, per §4.6 — exported directly (SPEC_FULL.md §10) rather
// than inlined into the hook handler only.
func (v *View) GetFileHistory(ctx context.Context, tenant types.TenantID, inode types.InodeID) ([]FileHistoryEntry, error) {
	entries, err := repo.ListLayerEntriesForInode(ctx, v.store.DB(), tenant, inode)
	if err != nil {
		return nil, err
	}
	out := make([]FileHistoryEntry, 0, len(entries))
	for _, e := range entries {
		l, err := repo.GetLayer(ctx, v.store.DB(), tenant, e.LayerID)
		if err != nil {
			return nil, err
		}
		out = append(out, FileHistoryEntry{
			LayerID: e.LayerID, LayerName: l.LayerName, InodeID: e.InodeID,
			ChangeType: e.ChangeType, SizeDelta: e.SizeDelta, CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}

// ReadFile reconstructs the content of inode as stored in layer: text
// files are rebuilt by fetching line-maps in order and joining
// text-block contents with the metadata's recorded line ending,
// appending the trailing newline if recorded (§4.4); binary files are
// the concatenation of their data-blocks in index order.
func (v *View) ReadFile(ctx context.Context, tenant types.TenantID, inode types.InodeID, layer types.LayerID) ([]byte, error) {
	meta, isText, err := repo.GetTextFileMetadata(ctx, v.store.DB(), tenant, inode, layer)
	if err != nil {
		return nil, err
	}
	if isText {
		return reconstructText(ctx, v.store, tenant, inode, layer, meta)
	}

	blocks, err := repo.ListDataBlocks(ctx, v.store.DB(), tenant, inode)
	if err != nil {
		return nil, err
	}
	// No text metadata and no data-blocks means the file was created
	// but never written, not that it's missing: Stat already confirmed
	// the inode exists, so this is valid empty content.
	if len(blocks) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	for _, b := range blocks {
		buf.Write(b.Bytes)
	}
	return buf.Bytes(), nil
}

func reconstructText(ctx context.Context, s *store.Store, tenant types.TenantID, inode types.InodeID, layer types.LayerID, meta types.TextFileMetadata) ([]byte, error) {
	maps, err := repo.ListTextLineMaps(ctx, s.DB(), tenant, inode, layer)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(maps))
	for _, m := range maps {
		block, ok, err := repo.GetTextBlockByID(ctx, s.DB(), m.BlockID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lines = append(lines, block.Content)
	}

	sep := lineEndingSeparator(meta.LineEnding)
	var buf bytes.Buffer
	buf.WriteString(strings.Join(lines, sep))
	if meta.HasTrailingNewline && len(lines) > 0 {
		buf.WriteString(sep)
	}
	return buf.Bytes(), nil
}

func lineEndingSeparator(ending string) string {
	switch ending {
	case "crlf":
		return "\r\n"
	case "cr":
		return "\r"
	default:
		return "\n"
	}
}
