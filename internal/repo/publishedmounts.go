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

const publishedMountColumns = `publish_id, mount_entry_id, owner_tenant, publish_name, target_kind, target_layer_id, scope_kind, allowed_tenants`

// CreatePublishedMount inserts a publication row, encoding the
// allow-list as JSON since SQLite has no native array type (§6.1).
func CreatePublishedMount(ctx context.Context, q store.Queryer, p types.PublishedMount) (types.PublishedMount, error) {
	if p.PublishID == types.NilID {
		p.PublishID = uuid.New()
	}
	allowed, err := json.Marshal(p.Scope.AllowedTenants)
	if err != nil {
		return types.PublishedMount{}, fmt.Errorf("marshal allowed tenants: %w", err)
	}
	var targetLayer any
	if p.Target.Kind == types.TargetLayer {
		targetLayer = p.Target.LayerID.String()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO published_mounts (publish_id, mount_entry_id, owner_tenant, publish_name, target_kind, target_layer_id, scope_kind, allowed_tenants)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PublishID.String(), p.MountEntryID.String(), p.OwnerTenant.String(), p.PublishName,
		string(p.Target.Kind), targetLayer, string(p.Scope.Kind), string(allowed))
	if err != nil {
		if isUniqueViolation(err) {
			return types.PublishedMount{}, errkind.New(errkind.PublishNameExists, p.PublishName)
		}
		return types.PublishedMount{}, fmt.Errorf("insert published mount: %w", err)
	}
	return p, nil
}

func scanPublishedMount(scan func(...any) error) (types.PublishedMount, error) {
	var p types.PublishedMount
	var publishID, mountID, owner, targetKind, scopeKind, allowed string
	var targetLayer sql.NullString
	err := scan(&publishID, &mountID, &owner, &p.PublishName, &targetKind, &targetLayer, &scopeKind, &allowed)
	if err != nil {
		return p, err
	}
	if p.PublishID, err = uuid.Parse(publishID); err != nil {
		return p, err
	}
	if p.MountEntryID, err = uuid.Parse(mountID); err != nil {
		return p, err
	}
	if p.OwnerTenant, err = uuid.Parse(owner); err != nil {
		return p, err
	}
	p.Target.Kind = types.PublishTargetKind(targetKind)
	if targetLayer.Valid {
		l, err := uuid.Parse(targetLayer.String)
		if err != nil {
			return p, err
		}
		p.Target.LayerID = l
	}
	p.Scope.Kind = types.PublishScopeKind(scopeKind)
	if err := json.Unmarshal([]byte(allowed), &p.Scope.AllowedTenants); err != nil {
		return p, fmt.Errorf("unmarshal allowed tenants: %w", err)
	}
	return p, nil
}

func GetPublishedMountByName(ctx context.Context, q store.Queryer, name string) (types.PublishedMount, error) {
	row := q.QueryRowContext(ctx, `SELECT `+publishedMountColumns+` FROM published_mounts WHERE publish_name = ?`, name)
	p, err := scanPublishedMount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PublishedMount{}, errkind.New(errkind.NotPublished, name)
	}
	return p, err
}

func GetPublishedMountByMount(ctx context.Context, q store.Queryer, mount types.MountEntryID) (types.PublishedMount, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+publishedMountColumns+` FROM published_mounts WHERE mount_entry_id = ?`, mount.String())
	p, err := scanPublishedMount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PublishedMount{}, false, nil
	}
	if err != nil {
		return types.PublishedMount{}, false, err
	}
	return p, true, nil
}

// ListPublishedMountsByOwner returns every publication a tenant owns.
func ListPublishedMountsByOwner(ctx context.Context, q store.Queryer, owner types.TenantID) ([]types.PublishedMount, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+publishedMountColumns+` FROM published_mounts WHERE owner_tenant = ? ORDER BY publish_name`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("list published mounts: %w", err)
	}
	defer rows.Close()

	var out []types.PublishedMount
	for rows.Next() {
		p, err := scanPublishedMount(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func DeletePublishedMount(ctx context.Context, q store.Queryer, id types.PublishID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM published_mounts WHERE publish_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete published mount: %w", err)
	}
	return nil
}
