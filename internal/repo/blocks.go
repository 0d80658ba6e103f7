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

	"github.com/google/uuid"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

// CreateDataBlock inserts one binary chunk of an inode's content.
func CreateDataBlock(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID, index int64, bytes []byte, contentHash string) (types.DataBlock, error) {
	block := types.DataBlock{
		BlockID: uuid.New(), TenantID: tenant, InodeID: inode, BlockIndex: index,
		Bytes: bytes, Size: int64(len(bytes)), ContentHash: contentHash,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO data_blocks (block_id, tenant_id, inode_id, block_index, bytes, size, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		block.BlockID.String(), tenant.String(), inode, index, bytes, block.Size, contentHash)
	if err != nil {
		return types.DataBlock{}, fmt.Errorf("insert data block: %w", err)
	}
	return block, nil
}

// ListDataBlocks returns an inode's binary chunks ordered by index.
func ListDataBlocks(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID) ([]types.DataBlock, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT block_id, inode_id, block_index, bytes, size, content_hash
		FROM data_blocks WHERE tenant_id = ? AND inode_id = ? ORDER BY block_index`,
		tenant.String(), inode)
	if err != nil {
		return nil, fmt.Errorf("list data blocks: %w", err)
	}
	defer rows.Close()

	var out []types.DataBlock
	for rows.Next() {
		var b types.DataBlock
		var id string
		b.TenantID = tenant
		if err := rows.Scan(&id, &b.InodeID, &b.BlockIndex, &b.Bytes, &b.Size, &b.ContentHash); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		b.BlockID = parsed
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteDataBlocks removes every binary chunk for inode, scoped to
// tenant, returning the number of rows removed.
func DeleteDataBlocks(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM data_blocks WHERE tenant_id = ? AND inode_id = ?`, tenant.String(), inode)
	if err != nil {
		return 0, fmt.Errorf("delete data blocks: %w", err)
	}
	return res.RowsAffected()
}

// GetTextBlockByHash looks up a text block by its content hash (I4).
func GetTextBlockByHash(ctx context.Context, q store.Queryer, hash string) (types.TextBlock, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT block_id, content_hash, content, line_count, byte_size, encoding, ref_count
		FROM text_blocks WHERE content_hash = ?`, hash)
	var b types.TextBlock
	var id string
	if err := row.Scan(&id, &b.ContentHash, &b.Content, &b.LineCount, &b.ByteSize, &b.Encoding, &b.RefCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TextBlock{}, false, nil
		}
		return types.TextBlock{}, false, fmt.Errorf("get text block: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return types.TextBlock{}, false, err
	}
	b.BlockID = parsed
	return b, true, nil
}

// GetTextBlockByID looks up a text block by its primary key, used when
// reconstructing a file from its line-maps (§4.6).
func GetTextBlockByID(ctx context.Context, q store.Queryer, id types.BlockID) (types.TextBlock, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT block_id, content_hash, content, line_count, byte_size, encoding, ref_count
		FROM text_blocks WHERE block_id = ?`, id.String())
	var b types.TextBlock
	var blockID string
	if err := row.Scan(&blockID, &b.ContentHash, &b.Content, &b.LineCount, &b.ByteSize, &b.Encoding, &b.RefCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TextBlock{}, false, nil
		}
		return types.TextBlock{}, false, fmt.Errorf("get text block by id: %w", err)
	}
	parsed, err := uuid.Parse(blockID)
	if err != nil {
		return types.TextBlock{}, false, err
	}
	b.BlockID = parsed
	return b, true, nil
}

// CreateTextBlock inserts a brand new text block with ref_count 1.
func CreateTextBlock(ctx context.Context, q store.Queryer, hash, content, encoding string, lineCount int) (types.TextBlock, error) {
	b := types.TextBlock{
		BlockID: uuid.New(), ContentHash: hash, Content: content,
		LineCount: lineCount, ByteSize: int64(len(content)), Encoding: encoding, RefCount: 1,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO text_blocks (block_id, content_hash, content, line_count, byte_size, encoding, ref_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		b.BlockID.String(), hash, content, lineCount, b.ByteSize, encoding)
	if err != nil {
		return types.TextBlock{}, fmt.Errorf("insert text block: %w", err)
	}
	return b, nil
}

// IncrementTextBlockRefCount bumps ref_count atomically: no
// read-modify-write at the application level, per §5.
func IncrementTextBlockRefCount(ctx context.Context, q store.Queryer, hash string, delta int64) error {
	_, err := q.ExecContext(ctx, `UPDATE text_blocks SET ref_count = ref_count + ? WHERE content_hash = ?`, delta, hash)
	if err != nil {
		return fmt.Errorf("bump text block ref_count: %w", err)
	}
	return nil
}

// DeleteTextBlockIfUnreferenced removes a text block row once its
// ref_count has reached zero (per the Text-block lifecycle in §3).
func DeleteTextBlockIfUnreferenced(ctx context.Context, q store.Queryer, hash string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM text_blocks WHERE content_hash = ? AND ref_count <= 0`, hash)
	if err != nil {
		return fmt.Errorf("delete unreferenced text block: %w", err)
	}
	return nil
}

// PutTextLineMap upserts one line's mapping for (tenant, inode, layer).
func PutTextLineMap(ctx context.Context, q store.Queryer, m types.TextLineMap) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO text_line_maps (tenant_id, inode_id, layer_id, line_number, block_id, block_line_offset)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, inode_id, layer_id, line_number)
		DO UPDATE SET block_id = excluded.block_id, block_line_offset = excluded.block_line_offset`,
		m.TenantID.String(), m.InodeID, m.LayerID.String(), m.LineNumber, m.BlockID.String(), m.BlockLineOffset)
	if err != nil {
		return fmt.Errorf("upsert text line map: %w", err)
	}
	return nil
}

// ListTextLineMaps returns every line mapping for (tenant, inode,
// layer) ordered by line number, for content reconstruction (§4.4).
func ListTextLineMaps(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID, layer types.LayerID) ([]types.TextLineMap, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT line_number, block_id, block_line_offset FROM text_line_maps
		WHERE tenant_id = ? AND inode_id = ? AND layer_id = ? ORDER BY line_number`,
		tenant.String(), inode, layer.String())
	if err != nil {
		return nil, fmt.Errorf("list text line maps: %w", err)
	}
	defer rows.Close()

	var out []types.TextLineMap
	for rows.Next() {
		m := types.TextLineMap{TenantID: tenant, InodeID: inode, LayerID: layer}
		var blockID string
		if err := rows.Scan(&m.LineNumber, &blockID, &m.BlockLineOffset); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(blockID)
		if err != nil {
			return nil, err
		}
		m.BlockID = parsed
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteTextLineMaps removes every line mapping for (tenant, inode,
// layer) and returns the text-block hashes that were referenced, so
// the caller can decrement ref_count for each.
func DeleteTextLineMaps(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID, layer types.LayerID) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT tb.content_hash FROM text_line_maps tlm
		JOIN text_blocks tb ON tb.block_id = tlm.block_id
		WHERE tlm.tenant_id = ? AND tlm.inode_id = ? AND tlm.layer_id = ?`,
		tenant.String(), inode, layer.String())
	if err != nil {
		return nil, fmt.Errorf("list referenced text blocks: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, err
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM text_line_maps WHERE tenant_id = ? AND inode_id = ? AND layer_id = ?`,
		tenant.String(), inode, layer.String()); err != nil {
		return nil, fmt.Errorf("delete text line maps: %w", err)
	}
	return hashes, nil
}

// PutTextFileMetadata upserts the per-(tenant,inode,layer) text shape row.
func PutTextFileMetadata(ctx context.Context, q store.Queryer, m types.TextFileMetadata) error {
	trailing := 0
	if m.HasTrailingNewline {
		trailing = 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO text_file_metadata (tenant_id, inode_id, layer_id, total_lines, encoding, line_ending, has_trailing_newline)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, inode_id, layer_id)
		DO UPDATE SET total_lines = excluded.total_lines, encoding = excluded.encoding,
			line_ending = excluded.line_ending, has_trailing_newline = excluded.has_trailing_newline`,
		m.TenantID.String(), m.InodeID, m.LayerID.String(), m.TotalLines, m.Encoding, m.LineEnding, trailing)
	if err != nil {
		return fmt.Errorf("upsert text file metadata: %w", err)
	}
	return nil
}

func GetTextFileMetadata(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID, layer types.LayerID) (types.TextFileMetadata, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT total_lines, encoding, line_ending, has_trailing_newline FROM text_file_metadata
		WHERE tenant_id = ? AND inode_id = ? AND layer_id = ?`, tenant.String(), inode, layer.String())
	m := types.TextFileMetadata{TenantID: tenant, InodeID: inode, LayerID: layer}
	var trailing int
	if err := row.Scan(&m.TotalLines, &m.Encoding, &m.LineEnding, &trailing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TextFileMetadata{}, false, nil
		}
		return types.TextFileMetadata{}, false, fmt.Errorf("get text file metadata: %w", err)
	}
	m.HasTrailingNewline = trailing != 0
	return m, true, nil
}
