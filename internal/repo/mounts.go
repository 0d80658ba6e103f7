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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

const mountColumns = `mount_entry_id, tenant_id, name, virtual_path, is_file, source_kind, source_json, mode, enabled, current_layer_id`

// CreateMountEntry inserts a mount entry, encoding its tagged-union
// MountSource as JSON (§6.1: array/union-valued columns serialise to
// JSON TEXT since SQLite has no native composite type).
func CreateMountEntry(ctx context.Context, q store.Queryer, m types.MountEntry) (types.MountEntry, error) {
	if m.MountEntryID == types.NilID {
		m.MountEntryID = uuid.New()
	}
	sourceJSON, err := json.Marshal(m.Source)
	if err != nil {
		return types.MountEntry{}, fmt.Errorf("marshal mount source: %w", err)
	}
	var currentLayer any
	if m.CurrentLayerID != nil {
		currentLayer = m.CurrentLayerID.String()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO mount_entries (mount_entry_id, tenant_id, name, virtual_path, is_file, source_kind, source_json, mode, enabled, current_layer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MountEntryID.String(), m.TenantID.String(), m.Name, m.VirtualPath, boolToInt(m.IsFile),
		string(m.Source.Kind), string(sourceJSON), string(m.Mode), boolToInt(m.Enabled), currentLayer)
	if err != nil {
		if isUniqueViolation(err) {
			return types.MountEntry{}, errkind.New(errkind.MountPathConflict, m.VirtualPath)
		}
		return types.MountEntry{}, fmt.Errorf("insert mount entry: %w", err)
	}
	return m, nil
}

func scanMountEntry(scan func(...any) error) (types.MountEntry, error) {
	var m types.MountEntry
	var id, tid, sourceKind, sourceJSON, mode string
	var isFile, enabled int
	var currentLayer sql.NullString
	err := scan(&id, &tid, &m.Name, &m.VirtualPath, &isFile, &sourceKind, &sourceJSON, &mode, &enabled, &currentLayer)
	if err != nil {
		return m, err
	}
	if m.MountEntryID, err = uuid.Parse(id); err != nil {
		return m, err
	}
	if m.TenantID, err = uuid.Parse(tid); err != nil {
		return m, err
	}
	m.IsFile = isFile != 0
	m.Enabled = enabled != 0
	m.Mode = types.MountMode(mode)
	if err := json.Unmarshal([]byte(sourceJSON), &m.Source); err != nil {
		return m, fmt.Errorf("unmarshal mount source: %w", err)
	}
	if currentLayer.Valid {
		l, err := uuid.Parse(currentLayer.String)
		if err != nil {
			return m, err
		}
		m.CurrentLayerID = &l
	}
	return m, nil
}

func GetMountEntry(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.MountEntryID) (types.MountEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+mountColumns+` FROM mount_entries WHERE tenant_id = ? AND mount_entry_id = ?`,
		tenant.String(), id.String())
	m, err := scanMountEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MountEntry{}, errkind.New(errkind.MountNotFound, id.String())
	}
	return m, err
}

// GetMountEntryByID looks up a mount entry by id alone, with no tenant
// scoping. A SourceLayer mount's layer_mount_id may reference a mount
// owned by a different tenant (§4.7: "caller dereferences the
// referenced mount to learn the tenant"), so the lookup cannot filter
// on the resolving tenant.
func GetMountEntryByID(ctx context.Context, q store.Queryer, id types.MountEntryID) (types.MountEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+mountColumns+` FROM mount_entries WHERE mount_entry_id = ?`, id.String())
	m, err := scanMountEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MountEntry{}, errkind.New(errkind.MountNotFound, id.String())
	}
	return m, err
}

func GetMountEntryByName(ctx context.Context, q store.Queryer, tenant types.TenantID, name string) (types.MountEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+mountColumns+` FROM mount_entries WHERE tenant_id = ? AND name = ?`,
		tenant.String(), name)
	m, err := scanMountEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MountEntry{}, errkind.New(errkind.MountNotFound, name)
	}
	return m, err
}

// ListMountEntries returns a tenant's mounts ordered by virtual_path,
// the order mount resolution scans for longest-prefix matches (§4.7).
func ListMountEntries(ctx context.Context, q store.Queryer, tenant types.TenantID) ([]types.MountEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+mountColumns+` FROM mount_entries WHERE tenant_id = ? ORDER BY virtual_path`, tenant.String())
	if err != nil {
		return nil, fmt.Errorf("list mount entries: %w", err)
	}
	defer rows.Close()

	var out []types.MountEntry
	for rows.Next() {
		m, err := scanMountEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetMountCurrentLayer updates the layer a mount currently resolves
// into (used after create_checkpoint/switch_to_layer).
func SetMountCurrentLayer(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.MountEntryID, layer types.LayerID) error {
	_, err := q.ExecContext(ctx, `UPDATE mount_entries SET current_layer_id = ? WHERE tenant_id = ? AND mount_entry_id = ?`,
		layer.String(), tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("set mount current layer: %w", err)
	}
	return nil
}

func SetMountEnabled(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.MountEntryID, enabled bool) error {
	_, err := q.ExecContext(ctx, `UPDATE mount_entries SET enabled = ? WHERE tenant_id = ? AND mount_entry_id = ?`,
		boolToInt(enabled), tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("set mount enabled: %w", err)
	}
	return nil
}

func DeleteMountEntry(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.MountEntryID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM mount_entries WHERE tenant_id = ? AND mount_entry_id = ?`, tenant.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete mount entry: %w", err)
	}
	return nil
}
