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

// Package cow is C4: on every write, it chooses the storage
// representation (binary chunks, or deduplicated text lines) and
// records the resulting delta. Text line-maps and file metadata are
// keyed by the current layer; binary data-blocks are keyed by inode
// only, and a binary write replaces the inode's existing blocks.
package cow

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"strings"

	"lukechampine.com/blake3"

	"github.com/tarboxfs/tarbox/internal/detector"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
)

const blockSize = 4096

// StoredAs names which representation a write ended up using.
type StoredAs string

const (
	StoredAsText   StoredAs = "text"
	StoredAsBinary StoredAs = "binary"
)

// ChangeSummary is the result of a COW write, per §4.4.
type ChangeSummary struct {
	ChangeType  types.ChangeType
	SizeDelta   int64
	TextChanges *types.TextChanges
	StoredAs    StoredAs
}

// Handler applies writes to inode content under the COW discipline
// described in §4.4-§5.
type Handler struct {
	store    *store.Store
	detector detector.Config
	locks    *inodeLocks
}

// New builds a Handler backed by s, using cfg to decide the text/
// binary boundary for unannotated writes.
func New(s *store.Store, cfg detector.Config) *Handler {
	return &Handler{store: s, detector: cfg, locks: newInodeLocks()}
}

// Write performs the storage mutation that makes newBytes the content
// of inode in layer, per the Binary path or Text path decision
// procedure of §4.4. oldBytes is nil for a fresh file.
func (h *Handler) Write(ctx context.Context, tenant types.TenantID, inode types.InodeID, layer types.LayerID, oldBytes, newBytes []byte) (ChangeSummary, error) {
	lock := h.locks.lockFor(tenant, inode)
	lock.Lock()
	defer lock.Unlock()

	result := detector.Detect(newBytes, h.detector)

	var summary ChangeSummary
	err := h.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		if result.Kind == detector.KindBinary {
			summary, err = writeBinary(ctx, q, tenant, inode, oldBytes, newBytes)
		} else {
			summary, err = writeText(ctx, q, tenant, inode, layer, oldBytes, newBytes, result)
		}
		return err
	})
	return summary, err
}

// writeBinary implements §4.4's binary path: delete existing
// data-blocks for the inode, chunk the new bytes into 4096-byte
// blocks, insert them with block_index 0..N, and hash each with
// BLAKE3.
func writeBinary(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID, oldBytes, newBytes []byte) (ChangeSummary, error) {
	if _, err := repo.DeleteDataBlocks(ctx, q, tenant, inode); err != nil {
		return ChangeSummary{}, err
	}

	for start, i := 0, int64(0); start < len(newBytes); start, i = start+blockSize, i+1 {
		end := start + blockSize
		if end > len(newBytes) {
			end = len(newBytes)
		}
		chunk := newBytes[start:end]
		hash := blake3Hex(chunk)
		if _, err := repo.CreateDataBlock(ctx, q, tenant, inode, i, chunk, hash); err != nil {
			return ChangeSummary{}, err
		}
	}

	changeType := types.ChangeModify
	if oldBytes == nil {
		changeType = types.ChangeAdd
	}
	return ChangeSummary{
		ChangeType: changeType,
		SizeDelta:  int64(len(newBytes)) - int64(len(oldBytes)),
		StoredAs:   StoredAsBinary,
	}, nil
}

// writeText implements §4.4's text path: deduplicated line storage,
// an LCS diff against the old content, and an upsert of the file's
// shape metadata.
func writeText(ctx context.Context, q store.Queryer, tenant types.TenantID, inode types.InodeID, layer types.LayerID, oldBytes, newBytes []byte, result detector.Result) (ChangeSummary, error) {
	oldLines := splitLines(string(oldBytes), detector.Detect(oldBytes, detector.DefaultConfig()).LineEnding)
	newLines := splitLines(string(newBytes), result.LineEnding)

	oldHashes, err := repo.DeleteTextLineMaps(ctx, q, tenant, inode, layer)
	if err != nil {
		return ChangeSummary{}, err
	}
	for _, h := range oldHashes {
		if err := repo.IncrementTextBlockRefCount(ctx, q, h, -1); err != nil {
			return ChangeSummary{}, err
		}
		if err := repo.DeleteTextBlockIfUnreferenced(ctx, q, h); err != nil {
			return ChangeSummary{}, err
		}
	}

	for i, line := range newLines {
		lineHash := fnv.New64a()
		lineHash.Write([]byte(line))
		hash := hex.EncodeToString(lineHash.Sum(nil))
		block, found, err := repo.GetTextBlockByHash(ctx, q, hash)
		if err != nil {
			return ChangeSummary{}, err
		}
		if found {
			if err := repo.IncrementTextBlockRefCount(ctx, q, hash, 1); err != nil {
				return ChangeSummary{}, err
			}
		} else {
			block, err = repo.CreateTextBlock(ctx, q, hash, line, string(result.Encoding), 1)
			if err != nil {
				return ChangeSummary{}, err
			}
		}
		if err := repo.PutTextLineMap(ctx, q, types.TextLineMap{
			TenantID: tenant, InodeID: inode, LayerID: layer,
			LineNumber: i, BlockID: block.BlockID, BlockLineOffset: 0,
		}); err != nil {
			return ChangeSummary{}, err
		}
	}

	hasTrailingNewline := len(newBytes) > 0 && endsInNewline(string(newBytes))
	if err := repo.PutTextFileMetadata(ctx, q, types.TextFileMetadata{
		TenantID: tenant, InodeID: inode, LayerID: layer,
		TotalLines: len(newLines), Encoding: string(result.Encoding),
		LineEnding: string(result.LineEnding), HasTrailingNewline: hasTrailingNewline,
	}); err != nil {
		return ChangeSummary{}, err
	}

	changeType := types.ChangeModify
	if oldBytes == nil {
		changeType = types.ChangeAdd
	}
	changes := diffLines(oldLines, newLines)
	return ChangeSummary{
		ChangeType:  changeType,
		SizeDelta:   int64(len(newBytes)) - int64(len(oldBytes)),
		TextChanges: &changes,
		StoredAs:    StoredAsText,
	}, nil
}

// splitLines splits content into logical lines, stripping the
// recognised ending for comparison, per §4.4.
func splitLines(content string, ending detector.LineEnding) []string {
	if content == "" {
		return nil
	}
	var sep string
	switch ending {
	case detector.LineEndingCRLF:
		sep = "\r\n"
	case detector.LineEndingCR:
		sep = "\r"
	default:
		sep = "\n"
	}
	trimmed := strings.TrimSuffix(content, sep)
	if trimmed == "" {
		return []string{""}
	}
	return strings.Split(trimmed, sep)
}

func endsInNewline(content string) bool {
	return strings.HasSuffix(content, "\n") || strings.HasSuffix(content, "\r")
}

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
