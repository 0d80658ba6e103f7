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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

const timeLayout = "2006-01-02 15:04:05.999999"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nextInodeID atomically reserves the next inode id for tenant within
// the enclosing transaction.
func nextInodeID(ctx context.Context, q store.Queryer, tenant types.TenantID) (types.InodeID, error) {
	row := q.QueryRowContext(ctx, `SELECT next_id FROM inode_counters WHERE tenant_id = ?`, tenant.String())
	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("read inode counter: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE inode_counters SET next_id = next_id + 1 WHERE tenant_id = ?`, tenant.String()); err != nil {
		return 0, fmt.Errorf("advance inode counter: %w", err)
	}
	return next, nil
}

// createInodeTx creates an inode row without its own transaction; the
// caller (CreateInode, CreateTenantWithRoot) supplies one.
func createInodeTx(ctx context.Context, q store.Queryer, tenant types.TenantID, parent *types.InodeID, name string, kind types.InodeKind, mode, uid, gid uint32) (types.Inode, error) {
	id, err := nextInodeID(ctx, q, tenant)
	if err != nil {
		return types.Inode{}, err
	}
	now := time.Now()
	inode := types.Inode{
		InodeID: id, TenantID: tenant, ParentID: parent, Name: name, Kind: kind,
		Mode: mode, UID: uid, GID: gid, Size: 0,
		CreatedAt: now, ModifiedAt: now, ChangedAt: now,
	}

	var parentArg any
	if parent != nil {
		parentArg = *parent
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO inodes (inode_id, tenant_id, parent_id, name, kind, mode, uid, gid, size, created_at, modified_at, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inode.InodeID, tenant.String(), parentArg, name, string(kind), mode, uid, gid, 0,
		formatTime(now), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return types.Inode{}, errkind.New(errkind.AlreadyExists, name)
		}
		return types.Inode{}, fmt.Errorf("insert inode: %w", err)
	}
	return inode, nil
}

// CreateInode creates a new inode under parent with the given name; it
// fails with AlreadyExists if (tenant, parent, name) is already taken
// (I5).
func CreateInode(ctx context.Context, q store.Queryer, tenant types.TenantID, parent types.InodeID, name string, kind types.InodeKind, mode, uid, gid uint32) (types.Inode, error) {
	return createInodeTx(ctx, q, tenant, &parent, name, kind, mode, uid, gid)
}

func GetInode(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.InodeID) (types.Inode, error) {
	row := q.QueryRowContext(ctx, `
		SELECT inode_id, tenant_id, parent_id, name, kind, mode, uid, gid, size, created_at, modified_at, changed_at
		FROM inodes WHERE tenant_id = ? AND inode_id = ?`, tenant.String(), id)
	return scanInode(row)
}

func GetInodeByParentAndName(ctx context.Context, q store.Queryer, tenant types.TenantID, parent types.InodeID, name string) (types.Inode, error) {
	row := q.QueryRowContext(ctx, `
		SELECT inode_id, tenant_id, parent_id, name, kind, mode, uid, gid, size, created_at, modified_at, changed_at
		FROM inodes WHERE tenant_id = ? AND parent_id = ? AND name = ?`, tenant.String(), parent, name)
	return scanInode(row)
}

func scanInode(row *sql.Row) (types.Inode, error) {
	var inode types.Inode
	var tid string
	var parent sql.NullInt64
	var created, modified, changed string
	err := row.Scan(&inode.InodeID, &tid, &parent, &inode.Name, &inode.Kind, &inode.Mode,
		&inode.UID, &inode.GID, &inode.Size, &created, &modified, &changed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inode, errkind.New(errkind.PathNotFound, inode.Name)
		}
		return inode, fmt.Errorf("scan inode: %w", err)
	}
	tenantID, err := parseTenantID(tid)
	if err != nil {
		return inode, err
	}
	inode.TenantID = tenantID
	if parent.Valid {
		p := parent.Int64
		inode.ParentID = &p
	}
	if inode.CreatedAt, err = parseTime(created); err != nil {
		return inode, err
	}
	if inode.ModifiedAt, err = parseTime(modified); err != nil {
		return inode, err
	}
	if inode.ChangedAt, err = parseTime(changed); err != nil {
		return inode, err
	}
	return inode, nil
}

// ListChildren returns the children of parent ordered by name, per
// §4.2 ("Inode listing by parent returns rows ordered by name").
func ListChildren(ctx context.Context, q store.Queryer, tenant types.TenantID, parent types.InodeID) ([]types.Inode, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT inode_id, tenant_id, parent_id, name, kind, mode, uid, gid, size, created_at, modified_at, changed_at
		FROM inodes WHERE tenant_id = ? AND parent_id = ? ORDER BY name`, tenant.String(), parent)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var out []types.Inode
	for rows.Next() {
		var inode types.Inode
		var tid string
		var parentID sql.NullInt64
		var created, modified, changed string
		if err := rows.Scan(&inode.InodeID, &tid, &parentID, &inode.Name, &inode.Kind, &inode.Mode,
			&inode.UID, &inode.GID, &inode.Size, &created, &modified, &changed); err != nil {
			return nil, err
		}
		tenantID, err := parseTenantID(tid)
		if err != nil {
			return nil, err
		}
		inode.TenantID = tenantID
		if parentID.Valid {
			p := parentID.Int64
			inode.ParentID = &p
		}
		if inode.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if inode.ModifiedAt, err = parseTime(modified); err != nil {
			return nil, err
		}
		if inode.ChangedAt, err = parseTime(changed); err != nil {
			return nil, err
		}
		out = append(out, inode)
	}
	return out, rows.Err()
}

// InodeUpdate carries the subset of fields UpdateInode changes; a nil
// pointer leaves the field untouched.
type InodeUpdate struct {
	Size *int64
	Mode *uint32
	UID  *uint32
	GID  *uint32
}

// UpdateInode applies a partial update and refreshes modified_at and
// changed_at.
func UpdateInode(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.InodeID, upd InodeUpdate) error {
	now := time.Now()
	if upd.Size != nil {
		if _, err := q.ExecContext(ctx, `UPDATE inodes SET size = ?, modified_at = ?, changed_at = ? WHERE tenant_id = ? AND inode_id = ?`,
			*upd.Size, formatTime(now), formatTime(now), tenant.String(), id); err != nil {
			return fmt.Errorf("update inode size: %w", err)
		}
	}
	if upd.Mode != nil {
		if _, err := q.ExecContext(ctx, `UPDATE inodes SET mode = ?, changed_at = ? WHERE tenant_id = ? AND inode_id = ?`,
			*upd.Mode, formatTime(now), tenant.String(), id); err != nil {
			return fmt.Errorf("update inode mode: %w", err)
		}
	}
	if upd.UID != nil || upd.GID != nil {
		if upd.UID != nil {
			if _, err := q.ExecContext(ctx, `UPDATE inodes SET uid = ?, changed_at = ? WHERE tenant_id = ? AND inode_id = ?`,
				*upd.UID, formatTime(now), tenant.String(), id); err != nil {
				return fmt.Errorf("update inode uid: %w", err)
			}
		}
		if upd.GID != nil {
			if _, err := q.ExecContext(ctx, `UPDATE inodes SET gid = ?, changed_at = ? WHERE tenant_id = ? AND inode_id = ?`,
				*upd.GID, formatTime(now), tenant.String(), id); err != nil {
				return fmt.Errorf("update inode gid: %w", err)
			}
		}
	}
	return nil
}

func DeleteInode(ctx context.Context, q store.Queryer, tenant types.TenantID, id types.InodeID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM inodes WHERE tenant_id = ? AND inode_id = ?`, tenant.String(), id)
	if err != nil {
		return fmt.Errorf("delete inode: %w", err)
	}
	return nil
}

func parseTenantID(s string) (types.TenantID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return types.NilID, fmt.Errorf("parse tenant id %q: %w", s, err)
	}
	return id, nil
}

// isUniqueViolation detects a UNIQUE constraint error the same way the
// ncruces/go-sqlite3 driver and BeadsLog's sqlite layer do: by matching
// the driver's error text, since database/sql has no portable sentinel
// for constraint violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
