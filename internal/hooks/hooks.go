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

// Package hooks implements the virtual "/.tarbox/..." file set of
// §6.3: reading a hook path returns a rendered JSON or text document,
// writing one drives the layer manager, and every other file
// operation under the prefix is rejected.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/layer"
	"github.com/tarboxfs/tarbox/internal/types"
)

// Prefix is the distinguished path prefix that routes to this package
// instead of ordinary path resolution.
const Prefix = "/.tarbox"

// IsHookPath reports whether path falls under the virtual namespace.
func IsHookPath(path string) bool {
	return path == Prefix || strings.HasPrefix(path, Prefix+"/")
}

// Handler serves the hook namespace against a tenant's layer manager.
type Handler struct {
	layers *layer.Manager
}

func New(lm *layer.Manager) *Handler {
	return &Handler{layers: lm}
}

// children lists the virtual files a directory listing of the hook
// namespace (or one of its subdirectories) should expose.
var children = map[string][]string{
	Prefix:                {"layers", "stats", "snapshots"},
	Prefix + "/layers":    {"current", "list", "tree", "diff", "new", "switch", "drop"},
	Prefix + "/stats":     {"usage"},
	Prefix + "/snapshots": {},
}

// ListChildren implements §6.3's "listing the namespace returns the
// virtual child set" for any directory within the prefix. snapshots/
// has no fixed children; its entries are named after live layers.
func (h *Handler) ListChildren(ctx context.Context, tenant types.TenantID, dirPath string) ([]string, error) {
	if names, ok := children[dirPath]; ok {
		if dirPath == Prefix+"/snapshots" {
			return h.snapshotNames(ctx, tenant)
		}
		return names, nil
	}
	return nil, errkind.New(errkind.PathNotFound, dirPath)
}

func (h *Handler) snapshotNames(ctx context.Context, tenant types.TenantID) ([]string, error) {
	ls, err := h.layers.ListLayers(ctx, tenant)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ls))
	for _, l := range ls {
		names = append(names, l.LayerName)
	}
	return names, nil
}

// readOnlyPaths and writeOnlyPaths discriminate the fixed hook files;
// everything else under the prefix (ordinary create/delete/chmod, or
// an unrecognised leaf) is PermissionDenied per §6.3.
var readOnlyPaths = map[string]bool{
	Prefix + "/layers/current": true,
	Prefix + "/layers/list":    true,
	Prefix + "/layers/tree":    true,
	Prefix + "/layers/diff":    true,
	Prefix + "/stats/usage":    true,
}

var writeOnlyPaths = map[string]bool{
	Prefix + "/layers/new":    true,
	Prefix + "/layers/switch": true,
	Prefix + "/layers/drop":   true,
}

// Read renders the document at path, or PermissionDenied if path is
// not a read-only hook (including write-only hooks and ordinary
// namespace paths).
func (h *Handler) Read(ctx context.Context, tenant types.TenantID, path string) ([]byte, error) {
	if strings.HasPrefix(path, Prefix+"/snapshots/") {
		return h.readSnapshot(ctx, tenant, strings.TrimPrefix(path, Prefix+"/snapshots/"))
	}
	if !readOnlyPaths[path] {
		return nil, errkind.New(errkind.PermissionDenied, path)
	}
	switch path {
	case Prefix + "/layers/current":
		l, err := h.layers.GetCurrentLayer(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return json.Marshal(l)
	case Prefix + "/layers/list":
		ls, err := h.layers.ListLayers(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ls)
	case Prefix + "/layers/tree":
		tree, err := h.layers.LayerTree(ctx, tenant)
		if err != nil {
			return nil, err
		}
		return []byte(renderTree(tree, 0)), nil
	case Prefix + "/layers/diff":
		current, err := h.layers.GetCurrentLayer(ctx, tenant)
		if err != nil {
			return nil, err
		}
		diff, err := h.layers.LayerDiff(ctx, tenant, current.LayerID)
		if err != nil {
			return nil, err
		}
		return []byte(renderDiff(diff)), nil
	case Prefix + "/stats/usage":
		current, err := h.layers.GetCurrentLayer(ctx, tenant)
		if err != nil {
			return nil, err
		}
		ls, err := h.layers.ListLayers(ctx, tenant)
		if err != nil {
			return nil, err
		}
		var totalFiles, totalSize int64
		for _, l := range ls {
			totalFiles += l.FileCount
			totalSize += l.TotalSize
		}
		return json.Marshal(map[string]any{
			"layer_count": len(ls),
			"total_files": totalFiles,
			"total_size":  totalSize,
			"tenant_id":   tenant.String(),
			"current":     current.LayerName,
		})
	}
	return nil, errkind.New(errkind.PermissionDenied, path)
}

func (h *Handler) readSnapshot(ctx context.Context, tenant types.TenantID, name string) ([]byte, error) {
	l, err := h.layers.ResolveLayerRef(ctx, tenant, name)
	if err != nil {
		return nil, err
	}
	return json.Marshal(l)
}

func renderTree(nodes []*layer.TreeNode, depth int) string {
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s%s (%s)\n", strings.Repeat("  ", depth), n.Layer.LayerName, n.Layer.LayerID)
		b.WriteString(renderTree(n.Children, depth+1))
	}
	return b.String()
}

func renderDiff(diff layer.LayerDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "layer %s (%s): %d entries\n", diff.Layer.LayerName, diff.Layer.LayerID, len(diff.Entries))
	for _, e := range diff.Entries {
		fmt.Fprintf(&b, "  %s %s\n", e.ChangeType, e.Path)
	}
	return b.String()
}

// newLayerPayload is layers/new's accepted JSON shape; a bare string
// (plain layer name, no confirmation) is also accepted.
type newLayerPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Confirm     bool   `json:"confirm"`
}

// switchPayload is layers/switch's accepted JSON shape; a bare string
// (name or UUID) is also accepted.
type switchPayload struct {
	Layer string `json:"layer"`
}

// dropPayload is layers/drop's accepted JSON shape; a bare string
// (name, UUID, or "current") is also accepted.
type dropPayload struct {
	Layer string `json:"layer"`
	Force bool   `json:"force"`
}

// Write drives a write-only hook from its payload, or returns
// PermissionDenied for anything else under the prefix (including the
// read-only hooks and ordinary namespace paths), per §6.3.
func (h *Handler) Write(ctx context.Context, tenant types.TenantID, path string, payload []byte) error {
	if !writeOnlyPaths[path] {
		return errkind.New(errkind.PermissionDenied, path)
	}
	switch path {
	case Prefix + "/layers/new":
		p, err := parseNewLayerPayload(payload)
		if err != nil {
			return err
		}
		_, err = h.layers.CreateCheckpoint(ctx, tenant, p.Name, p.Confirm)
		return err

	case Prefix + "/layers/switch":
		ref, err := parseBareOrField(payload, func(p switchPayload) string { return p.Layer })
		if err != nil {
			return err
		}
		l, err := h.layers.ResolveLayerRef(ctx, tenant, ref)
		if err != nil {
			return err
		}
		return h.layers.SwitchToLayer(ctx, tenant, l.LayerID)

	case Prefix + "/layers/drop":
		p, err := parseDropPayload(payload)
		if err != nil {
			return err
		}
		l, err := h.layers.ResolveLayerRef(ctx, tenant, p.Layer)
		if err != nil {
			return err
		}
		_ = p.Force // DeleteLayer's child/base checks are unconditional; force has no bypass in §4.5
		return h.layers.DeleteLayer(ctx, tenant, l.LayerID)
	}
	return errkind.New(errkind.PermissionDenied, path)
}

func parseNewLayerPayload(payload []byte) (newLayerPayload, error) {
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) == 0 {
		return newLayerPayload{}, errkind.New(errkind.InvalidInput, "empty layers/new payload")
	}
	if trimmed[0] != '{' {
		return newLayerPayload{Name: trimmed}, nil
	}
	var p newLayerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return newLayerPayload{}, errkind.New(errkind.InvalidInput, err.Error())
	}
	return p, nil
}

func parseDropPayload(payload []byte) (dropPayload, error) {
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) == 0 {
		return dropPayload{}, errkind.New(errkind.InvalidInput, "empty layers/drop payload")
	}
	if trimmed[0] != '{' {
		return dropPayload{Layer: trimmed}, nil
	}
	var p dropPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return dropPayload{}, errkind.New(errkind.InvalidInput, err.Error())
	}
	return p, nil
}

func parseBareOrField(payload []byte, field func(switchPayload) string) (string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) == 0 {
		return "", errkind.New(errkind.InvalidInput, "empty layers/switch payload")
	}
	if trimmed[0] != '{' {
		return trimmed, nil
	}
	var p switchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", errkind.New(errkind.InvalidInput, err.Error())
	}
	return field(p), nil
}
