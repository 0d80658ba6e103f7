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

// schema is migration 1: every table and index named in spec.md §3 and
// §6.1. Array-valued columns (allowed_tenants) are stored as JSON TEXT,
// since SQLite has no native array type — see DESIGN.md.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS tenants (
	tenant_id   TEXT PRIMARY KEY,
	tenant_name TEXT NOT NULL UNIQUE,
	root_inode  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS inode_counters (
	tenant_id TEXT PRIMARY KEY,
	next_id   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS inodes (
	inode_id    INTEGER NOT NULL,
	tenant_id   TEXT NOT NULL,
	parent_id   INTEGER,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	mode        INTEGER NOT NULL DEFAULT 0,
	uid         INTEGER NOT NULL DEFAULT 0,
	gid         INTEGER NOT NULL DEFAULT 0,
	size        INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	modified_at DATETIME NOT NULL,
	changed_at  DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, inode_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_inodes_parent_name ON inodes(tenant_id, parent_id, name);

CREATE TABLE IF NOT EXISTS data_blocks (
	block_id     TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	inode_id     INTEGER NOT NULL,
	block_index  INTEGER NOT NULL,
	bytes        BLOB NOT NULL,
	size         INTEGER NOT NULL,
	content_hash TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_data_blocks_inode_index ON data_blocks(tenant_id, inode_id, block_index);
CREATE INDEX IF NOT EXISTS idx_data_blocks_hash ON data_blocks(content_hash);

CREATE TABLE IF NOT EXISTS text_blocks (
	block_id     TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	content      TEXT NOT NULL,
	line_count   INTEGER NOT NULL,
	byte_size    INTEGER NOT NULL,
	encoding     TEXT NOT NULL,
	ref_count    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS text_line_maps (
	tenant_id         TEXT NOT NULL,
	inode_id          INTEGER NOT NULL,
	layer_id          TEXT NOT NULL,
	line_number       INTEGER NOT NULL,
	block_id          TEXT NOT NULL,
	block_line_offset INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, inode_id, layer_id, line_number)
);
CREATE INDEX IF NOT EXISTS idx_text_line_maps_layer ON text_line_maps(tenant_id, inode_id, layer_id);

CREATE TABLE IF NOT EXISTS text_file_metadata (
	tenant_id            TEXT NOT NULL,
	inode_id             INTEGER NOT NULL,
	layer_id             TEXT NOT NULL,
	total_lines          INTEGER NOT NULL,
	encoding             TEXT NOT NULL,
	line_ending          TEXT NOT NULL,
	has_trailing_newline INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, inode_id, layer_id)
);

CREATE TABLE IF NOT EXISTS layers (
	layer_id        TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	parent_layer_id TEXT,
	layer_name      TEXT NOT NULL,
	is_readonly     INTEGER NOT NULL DEFAULT 0,
	is_working      INTEGER NOT NULL DEFAULT 0,
	mount_entry_id  TEXT,
	file_count      INTEGER NOT NULL DEFAULT 0,
	total_size      INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'active',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_layers_tenant ON layers(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_layers_mount ON layers(mount_entry_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_layers_mount_working
	ON layers(mount_entry_id) WHERE is_working = 1 AND mount_entry_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS layer_entries (
	entry_id     TEXT PRIMARY KEY,
	layer_id     TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	inode_id     INTEGER NOT NULL,
	path         TEXT NOT NULL,
	change_type  TEXT NOT NULL,
	size_delta   INTEGER,
	text_changes TEXT,
	created_at   DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_layer_entries_layer_path ON layer_entries(layer_id, path);

CREATE TABLE IF NOT EXISTS current_layer (
	tenant_id TEXT PRIMARY KEY,
	layer_id  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mount_entries (
	mount_entry_id   TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	name             TEXT NOT NULL,
	virtual_path     TEXT NOT NULL,
	is_file          INTEGER NOT NULL,
	source_kind      TEXT NOT NULL,
	source_json      TEXT NOT NULL,
	mode             TEXT NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	current_layer_id TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mount_entries_tenant_name ON mount_entries(tenant_id, name);
CREATE INDEX IF NOT EXISTS idx_mount_entries_tenant_path ON mount_entries(tenant_id, virtual_path);

CREATE TABLE IF NOT EXISTS published_mounts (
	publish_id      TEXT PRIMARY KEY,
	mount_entry_id  TEXT NOT NULL UNIQUE,
	owner_tenant    TEXT NOT NULL,
	publish_name    TEXT NOT NULL UNIQUE,
	target_kind     TEXT NOT NULL,
	target_layer_id TEXT,
	scope_kind      TEXT NOT NULL,
	allowed_tenants TEXT NOT NULL DEFAULT '[]'
);
`

// migrations lists every schema revision in order. Adding columns is a
// compatible change appended as a new entry (see SPEC_FULL.md §4.9);
// existing entries are never edited once released.
var migrations = []string{schemaV1}
