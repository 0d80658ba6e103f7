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

// Package types holds the entity model shared by the repositories (C2),
// the COW handler (C4), the layer manager (C5), the union view (C6) and
// the mount composition layer (C7/C8).
package types

import "github.com/google/uuid"

// TenantID is the opaque 128-bit tenant identifier.
type TenantID = uuid.UUID

// InodeID is a 64-bit integer, unique per tenant, assigned by the store.
type InodeID = int64

// BlockID is a 128-bit blob identifier.
type BlockID = uuid.UUID

// LayerID identifies a layer within a mount's parent chain.
type LayerID = uuid.UUID

// EntryID identifies a single layer-entry row.
type EntryID = uuid.UUID

// MountEntryID identifies a mount-entry row.
type MountEntryID = uuid.UUID

// PublishID identifies a published-mount row.
type PublishID = uuid.UUID

// NilID is the zero UUID, used to mean "no parent"/"no value" in
// nullable-by-convention fields that the store maps to SQL NULL.
var NilID = uuid.Nil
