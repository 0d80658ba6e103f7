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
	"time"

	"github.com/google/uuid"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// PutLayerEntry records a change to path within layer, collapsing any
// earlier entry for the same (layer_id, path) per §3 ("repeated writes
// to the same path within one layer collapse to a single entry").
func PutLayerEntry(ctx context.Context, q store.Queryer, e types.LayerEntry) (types.LayerEntry, error) {
	if e.EntryID == types.NilID {
		e.EntryID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var sizeDelta any
	if e.SizeDelta != nil {
		sizeDelta = *e.SizeDelta
	}
	var textChanges any
	if e.TextChanges != nil {
		b, err := json.Marshal(e.TextChanges)
		if err != nil {
			return types.LayerEntry{}, fmt.Errorf("marshal text changes: %w", err)
		}
		textChanges = string(b)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO layer_entries (entry_id, layer_id, tenant_id, inode_id, path, change_type, size_delta, text_changes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (layer_id, path) DO UPDATE SET
			entry_id = excluded.entry_id, inode_id = excluded.inode_id, change_type = excluded.change_type,
			size_delta = excluded.size_delta, text_changes = excluded.text_changes, created_at = excluded.created_at`,
		e.EntryID.String(), e.LayerID.String(), e.TenantID.String(), e.InodeID, e.Path, string(e.ChangeType),
		sizeDelta, textChanges, formatTime(e.CreatedAt))
	if err != nil {
		return types.LayerEntry{}, fmt.Errorf("upsert layer entry: %w", err)
	}
	return e, nil
}

func scanLayerEntry(rows interface {
	Scan(...any) error
}) (types.LayerEntry, error) {
	var e types.LayerEntry
	var entryID, layerID, tenantID string
	var sizeDelta sql.NullInt64
	var textChanges sql.NullString
	var created string
	err := rows.Scan(&entryID, &layerID, &tenantID, &e.InodeID, &e.Path, &e.ChangeType, &sizeDelta, &textChanges, &created)
	if err != nil {
		return e, err
	}
	if e.EntryID, err = uuid.Parse(entryID); err != nil {
		return e, err
	}
	if e.LayerID, err = uuid.Parse(layerID); err != nil {
		return e, err
	}
	if e.TenantID, err = uuid.Parse(tenantID); err != nil {
		return e, err
	}
	if sizeDelta.Valid {
		v := sizeDelta.Int64
		e.SizeDelta = &v
	}
	if textChanges.Valid {
		var tc types.TextChanges
		if err := json.Unmarshal([]byte(textChanges.String), &tc); err != nil {
			return e, fmt.Errorf("unmarshal text changes: %w", err)
		}
		e.TextChanges = &tc
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return e, err
	}
	return e, nil
}

const layerEntryColumns = `entry_id, layer_id, tenant_id, inode_id, path, change_type, size_delta, text_changes, created_at`

// ListLayerEntries returns every entry recorded in a layer, ordered by
// path, for diff/union computations (§4.5, §4.6).
func ListLayerEntries(ctx context.Context, q store.Queryer, layer types.LayerID) ([]types.LayerEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+layerEntryColumns+` FROM layer_entries WHERE layer_id = ? ORDER BY path`, layer.String())
	if err != nil {
		return nil, fmt.Errorf("list layer entries: %w", err)
	}
	defer rows.Close()

	var out []types.LayerEntry
	for rows.Next() {
		e, err := scanLayerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLayerEntry looks up the (collapsed) entry for path within layer.
func GetLayerEntry(ctx context.Context, q store.Queryer, layer types.LayerID, path string) (types.LayerEntry, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+layerEntryColumns+` FROM layer_entries WHERE layer_id = ? AND path = ?`, layer.String(), path)
	e, err := scanLayerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LayerEntry{}, false, nil
		}
		return types.LayerEntry{}, false, fmt.Errorf("get layer entry: %w", err)
	}
	return e, true, nil
}

// ListLayerEntriesForInode returns every layer entry touching inode,
// newest first, backing file-history queries (§4.6 get_file_history).
func ListLayerEntriesForInode(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID) ([]types.LayerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+layerEntryColumns+` FROM layer_entries
		WHERE tenant_id = ? AND inode_id = ? ORDER BY created_at DESC`, tenant.String(), inode)
	if err != nil {
		return nil, fmt.Errorf("list layer entries for inode: %w", err)
	}
	defer rows.Close()

	var out []types.LayerEntry
	for rows.Next() {
		e, err := scanLayerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteLayerEntries removes every entry belonging to layer, used when
// a layer is dropped.
func DeleteLayerEntries(ctx context.Context, q store.Queryer, layer types.LayerID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM layer_entries WHERE layer_id = ?`, layer.String()); err != nil {
		return fmt.Errorf("delete layer entries: %w", err)
	}
	return nil
}
