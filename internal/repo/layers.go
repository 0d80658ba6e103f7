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

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// CreateLayer inserts a new layer row.
func CreateLayer(ctx context.Context, q store.Queryer, l types.Layer) (types.Layer, error) {
	if l.LayerID == types.NilID {
		l.LayerID = uuid.New()
	}
	var parentArg, mountArg any
	if l.ParentLayerID != nil {
		parentArg = l.ParentLayerID.String()
	}
	if l.MountEntryID != nil {
		mountArg = l.MountEntryID.String()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO layers (layer_id, tenant_id, parent_layer_id, layer_name, is_readonly, is_working,
			mount_entry_id, file_count, total_size, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.LayerID.String(), l.TenantID.String(), parentArg, l.LayerName, boolToInt(l.IsReadonly), boolToInt(l.IsWorking),
		mountArg, l.FileCount, l.TotalSize, string(l.Status), formatTime(l.CreatedAt), formatTime(l.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Layer{}, errkind.New(errkind.AlreadyExists, l.LayerName)
		}
		return types.Layer{}, fmt.Errorf("insert layer: %w", err)
	}
	return l, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const layerColumns = `layer_id, tenant_id, parent_layer_id, layer_name, is_readonly, is_working,
	mount_entry_id, file_count, total_size, status, created_at, updated_at`

func scanLayer(scan func(...any) error) (types.Layer, error) {
	var l types.Layer
	var id, tid string
	var parent, mount sql.NullString
	var readonly, working int
	var created, updated string
	err := scan(&id, &tid, &parent, &l.LayerName, &readonly, &working, &mount, &l.FileCount, &l.TotalSize,
		&l.Status, &created, &updated)
	if err != nil {
		return l, err
	}
	if l.LayerID, err = uuid.Parse(id); err != nil {
		return l, err
	}
	if l.TenantID, err = uuid.Parse(tid); err != nil {
		return l, err
	}
	if parent.Valid {
		p, err := uuid.Parse(parent.String)
		if err != nil {
			return l, err
		}
		l.ParentLayerID = &p
	}
	if mount.Valid {
		m, err := uuid.Parse(mount.String)
		if err != nil {
			return l, err
		}
		l.MountEntryID = &m
	}
	l.IsReadonly = readonly != 0
	l.IsWorking = working != 0
	if l.CreatedAt, err = parseTime(created); err != nil {
		return l, err
	}
	if l.UpdatedAt, err = parseTime(updated); err != nil {
		return l, err
	}
	return l, nil
}

func GetLayer(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.LayerID) (types.Layer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE tenant_id = ? AND layer_id = ?`,
		tenant.String(), id.String())
	l, err := scanLayer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Layer{}, errkind.New(errkind.LayerNotFound, id.String())
	}
	return l, err
}

// GetLayerByName looks up a tenant's layer by its display name, used
// by the hook namespace's name-or-UUID layer references (§6.3).
func GetLayerByName(ctx context.Context, q store.Queryer, tenant types.TenantID, name string) (types.Layer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE tenant_id = ? AND layer_name = ?`,
		tenant.String(), name)
	l, err := scanLayer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Layer{}, errkind.New(errkind.LayerNotFound, name)
	}
	return l, err
}

// ListLayersByTenant returns a tenant's layers in descending creation
// order, per §4.2.
func ListLayersByTenant(ctx context.Context, q store.Queryer, tenant types.TenantID) ([]types.Layer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE tenant_id = ? ORDER BY created_at DESC`,
		tenant.String())
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	defer rows.Close()
	return scanLayers(rows)
}

// ListLayersByMount returns layers belonging to a mount ordered by
// creation time ascending, per §4.2.
func ListLayersByMount(ctx context.Context, q store.Queryer, mount types.MountEntryID) ([]types.Layer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE mount_entry_id = ? ORDER BY created_at ASC`,
		mount.String())
	if err != nil {
		return nil, fmt.Errorf("list layers by mount: %w", err)
	}
	defer rows.Close()
	return scanLayers(rows)
}

// ListChildLayers returns layers whose parent_layer_id is id.
func ListChildLayers(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.LayerID) ([]types.Layer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE tenant_id = ? AND parent_layer_id = ?`,
		tenant.String(), id.String())
	if err != nil {
		return nil, fmt.Errorf("list child layers: %w", err)
	}
	defer rows.Close()
	return scanLayers(rows)
}

func scanLayers(rows *sql.Rows) ([]types.Layer, error) {
	var out []types.Layer
	for rows.Next() {
		l, err := scanLayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateLayerFlags updates is_readonly/is_working/status in place.
func UpdateLayerFlags(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.LayerID, readonly, working bool, status types.LayerStatus) error {
	_, err := q.ExecContext(ctx, `
		UPDATE layers SET is_readonly = ?, is_working = ?, status = ?, updated_at = ?
		WHERE tenant_id = ? AND layer_id = ?`,
		boolToInt(readonly), boolToInt(working), string(status), formatTime(time.Now()), tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("update layer flags: %w", err)
	}
	return nil
}

// IncrementLayerUsage adjusts file_count/total_size by the given
// deltas, called from internal/layer.Manager.RecordChange as each
// layer-entry lands so the rollups stay current without a rescan.
func IncrementLayerUsage(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.LayerID, fileCountDelta, totalSizeDelta int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE layers SET file_count = file_count + ?, total_size = total_size + ?, updated_at = ?
		WHERE tenant_id = ? AND layer_id = ?`,
		fileCountDelta, totalSizeDelta, formatTime(time.Now()), tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("increment layer usage: %w", err)
	}
	return nil
}

// DeleteLayer removes a layer row (the caller has already verified it
// has no children and is not current, per I3).
func DeleteLayer(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.LayerID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM layers WHERE tenant_id = ? AND layer_id = ?`, tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	return nil
}

// GetCurrentLayerID reads the per-tenant current-layer pointer.
func GetCurrentLayerID(ctx context.Context, q store.Queryer, tenant types.TenantID) (types.LayerID, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT layer_id FROM current_layer WHERE tenant_id = ?`, tenant.String())
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.NilID, false, nil
		}
		return types.NilID, false, fmt.Errorf("get current layer: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return types.NilID, false, err
	}
	return parsed, true, nil
}

// SetCurrentLayerID upserts the per-tenant current-layer pointer.
func SetCurrentLayerID(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.LayerID) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO current_layer (tenant_id, layer_id) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET layer_id = excluded.layer_id`,
		tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("set current layer: %w", err)
	}
	return nil
}
