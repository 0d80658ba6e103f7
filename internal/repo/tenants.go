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

// Package repo is C2: narrow, typed CRUD over C1 for every entity in
// spec.md §3. It owns no caching or semantic rules — those belong to
// C4-C8. Every function takes a store.Queryer so callers can run it
// standalone or inside Store.RunInTransaction.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// ErrNotFound is returned by get-by-key operations that find no row.
var ErrNotFound = errors.New("repo: not found")

// CreateTenantWithRoot creates a tenant and its root directory inode in
// a single transaction, per §4.2 ("creating a tenant with its root
// inode... run in a single transaction").
func CreateTenantWithRoot(ctx context.Context, s *store.Store, name string) (types.Tenant, error) {
	var tenant types.Tenant
	err := s.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		tenant.TenantID = uuid.New()
		tenant.TenantName = name

		if _, err := q.ExecContext(ctx,
			`INSERT INTO tenants (tenant_id, tenant_name, root_inode) VALUES (?, ?, 0)`,
			tenant.TenantID.String(), tenant.TenantName); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO inode_counters (tenant_id, next_id) VALUES (?, 1)`,
			tenant.TenantID.String()); err != nil {
			return fmt.Errorf("init inode counter: %w", err)
		}

		root, err := createInodeTx(ctx, q, tenant.TenantID, nil, "", types.KindDir, 0o755, 0, 0)
		if err != nil {
			return err
		}
		tenant.RootInode = root.InodeID

		if _, err := q.ExecContext(ctx,
			`UPDATE tenants SET root_inode = ? WHERE tenant_id = ?`,
			root.InodeID, tenant.TenantID.String()); err != nil {
			return fmt.Errorf("set root inode: %w", err)
		}
		return nil
	})
	return tenant, err
}

func GetTenant(ctx context.Context, q store.Queryer, id types.TenantID) (types.Tenant, error) {
	row := q.QueryRowContext(ctx, `SELECT tenant_id, tenant_name, root_inode FROM tenants WHERE tenant_id = ?`, id.String())
	return scanTenant(row)
}

func GetTenantByName(ctx context.Context, q store.Queryer, name string) (types.Tenant, error) {
	row := q.QueryRowContext(ctx, `SELECT tenant_id, tenant_name, root_inode FROM tenants WHERE tenant_name = ?`, name)
	return scanTenant(row)
}

func scanTenant(row *sql.Row) (types.Tenant, error) {
	var t types.Tenant
	var id string
	if err := row.Scan(&id, &t.TenantName, &t.RootInode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, errkind.New(errkind.PathNotFound, "")
		}
		return t, fmt.Errorf("scan tenant: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return t, fmt.Errorf("parse tenant id: %w", err)
	}
	t.TenantID = parsed
	return t, nil
}

// ListTenants returns every tenant row.
func ListTenants(ctx context.Context, q store.Queryer) ([]types.Tenant, error) {
	rows, err := q.QueryContext(ctx, `SELECT tenant_id, tenant_name, root_inode FROM tenants ORDER BY tenant_name`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []types.Tenant
	for rows.Next() {
		var t types.Tenant
		var id string
		if err := rows.Scan(&id, &t.TenantName, &t.RootInode); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		t.TenantID = parsed
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTenant removes the tenant row; ON DELETE CASCADE in the schema
// takes care of dependent rows for entities that reference tenant_id
// with a foreign key. Entities keyed only by (tenant_id, ...) without a
// declared FK (inodes, layers, ...) are cleaned up explicitly here so
// the cascade described in spec.md §3 ("delete cascades") holds
// regardless of which tables declare a literal foreign key.
func DeleteTenant(ctx context.Context, s *store.Store, id types.TenantID) error {
	return s.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		tid := id.String()
		tables := []string{
			"layer_entries", "layers", "current_layer",
			"text_line_maps", "text_file_metadata", "data_blocks", "inodes",
			"inode_counters", "mount_entries", "tenants",
		}
		for _, tbl := range tables {
			if _, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ?", tbl), tid); err != nil {
				return fmt.Errorf("delete %s: %w", tbl, err)
			}
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM published_mounts WHERE owner_tenant = ?`, tid); err != nil {
			return fmt.Errorf("delete published_mounts: %w", err)
		}
		return nil
	})
}
