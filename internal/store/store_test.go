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

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:store-%s?mode=memory&cache=shared", uuid.New())
	s, err := Open(context.Background(), Config{Path: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunInTransactionCommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(ctx context.Context, q Queryer) error {
		_, err := q.ExecContext(ctx, `INSERT INTO tenants (tenant_id, tenant_name, root_inode) VALUES (?, ?, ?)`,
			uuid.New().String(), "acme", 1)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM tenants WHERE tenant_name = 'acme'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sentinel := fmt.Errorf("boom")

	err := s.RunInTransaction(ctx, func(ctx context.Context, q Queryer) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO tenants (tenant_id, tenant_name, root_inode) VALUES (?, ?, ?)`,
			uuid.New().String(), "rollback-me", 1); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM tenants WHERE tenant_name = 'rollback-me'`).Scan(&count))
	require.Equal(t, 0, count)
}

// Two concurrent writers contend for the same BEGIN IMMEDIATE lock;
// the loser should back off and retry rather than fail outright.
func TestRunInTransactionSerialisesConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.RunInTransaction(ctx, func(ctx context.Context, q Queryer) error {
				_, err := q.ExecContext(ctx, `INSERT INTO tenants (tenant_id, tenant_name, root_inode) VALUES (?, ?, ?)`,
					uuid.New().String(), fmt.Sprintf("concurrent-%d", i), 1)
				return err
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	var count int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM tenants WHERE tenant_name LIKE 'concurrent-%'`).Scan(&count))
	require.Equal(t, 4, count)
}
