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

package types

import "time"

// InodeKind is the POSIX-ish kind of an inode.
type InodeKind string

const (
	KindFile    InodeKind = "file"
	KindDir     InodeKind = "dir"
	KindSymlink InodeKind = "symlink"
)

// Tenant owns a root inode and every other entity below.
type Tenant struct {
	TenantID   TenantID
	TenantName string
	RootInode  InodeID
}

// Inode is a single filesystem node: file, directory or symlink.
//
// INVARIANT (I5): at most one inode exists for a given (TenantID,
// ParentID, Name) triple.
type Inode struct {
	InodeID   InodeID
	TenantID  TenantID
	ParentID  *InodeID
	Name      string
	Kind      InodeKind
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      int64
	CreatedAt time.Time
	ModifiedAt time.Time
	ChangedAt time.Time
}

// DataBlock is one 4096-byte chunk of a binary inode's content. Blocks
// are keyed by inode, not by layer.
//
// INVARIANT: (InodeID, BlockIndex) is unique per tenant.
type DataBlock struct {
	BlockID     BlockID
	TenantID    TenantID
	InodeID     InodeID
	BlockIndex  int64
	Bytes       []byte
	Size        int64
	ContentHash string
}

// TextBlock is a ref-counted, content-addressed single line of text,
// shared across inodes and tenants via ContentHash (I4).
type TextBlock struct {
	BlockID     BlockID
	ContentHash string
	Content     string
	LineCount   int
	ByteSize    int64
	Encoding    string
	RefCount    int64
}

// TextLineMap links one line of a file-at-layer to the text-block that
// holds its content.
type TextLineMap struct {
	TenantID       TenantID
	InodeID        InodeID
	LayerID        LayerID
	LineNumber     int64
	BlockID        BlockID
	BlockLineOffset int64
}

// TextFileMetadata is the per-(tenant,inode,layer) description of a text
// file's shape, used to reconstruct exact bytes on read.
type TextFileMetadata struct {
	TenantID          TenantID
	InodeID           InodeID
	LayerID           LayerID
	TotalLines        int64
	Encoding          string
	LineEnding        string
	HasTrailingNewline bool
}

// LayerStatus is the lifecycle state of a layer (§4.5 state machine).
type LayerStatus string

const (
	LayerStatusActive LayerStatus = "active"
	LayerStatusGone   LayerStatus = "gone"
)

// Layer is a named, ordered delta in a per-mount chain.
//
// INVARIANT (I2): at most one working (writable) layer exists per
// mount-entry; all ancestors are read-only.
type Layer struct {
	LayerID       LayerID
	TenantID      TenantID
	ParentLayerID *LayerID
	LayerName     string
	IsReadonly    bool
	IsWorking     bool
	MountEntryID  *MountEntryID
	FileCount     int64
	TotalSize     int64
	Status        LayerStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChangeType is the kind of delta a layer-entry records.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// TextChanges is the line-level diff summary for a text write (§4.4).
type TextChanges struct {
	LinesAdded    int64 `json:"lines_added"`
	LinesDeleted  int64 `json:"lines_deleted"`
	LinesModified int64 `json:"lines_modified"`
	TotalLines    int64 `json:"total_lines"`
}

// LayerEntry is a single recorded change to a path within a layer.
//
// INVARIANT (I1): (LayerEntry.LayerID).TenantID == LayerEntry.TenantID,
// and Path is absolute and normalised. INVARIANT: (LayerID, Path) is
// unique; repeated writes upsert in place.
type LayerEntry struct {
	EntryID     EntryID
	LayerID     LayerID
	TenantID    TenantID
	InodeID     InodeID
	Path        string
	ChangeType  ChangeType
	SizeDelta   *int64
	TextChanges *TextChanges
	CreatedAt   time.Time
}

// MountMode controls whether a mount accepts writes and how.
type MountMode string

const (
	MountReadOnly  MountMode = "ro"
	MountReadWrite MountMode = "rw"
	MountCOW       MountMode = "cow"
)

// MountSourceKind discriminates the MountEntry.Source variants.
type MountSourceKind string

const (
	SourceHost         MountSourceKind = "host"
	SourceLayer        MountSourceKind = "layer"
	SourcePublished    MountSourceKind = "published"
	SourceWorkingLayer MountSourceKind = "working_layer"
)

// MountSource is the tagged union described in §4.7 (host path / layer
// reference / published-mount reference / the mount's own working layer).
type MountSource struct {
	Kind MountSourceKind

	// Kind == SourceHost
	HostPath string

	// Kind == SourceLayer
	LayerMountID MountEntryID
	LayerID      *LayerID
	LayerSubpath string

	// Kind == SourcePublished
	PublishName     string
	PublishedSubpath string
}

// MountEntry binds a virtual path in a tenant's tree to a data source.
//
// INVARIANT (I6): two mount-entries of the same tenant never have
// identical virtual_path, and two directory mounts never have one's
// virtual_path be a path-prefix of the other's (either direction).
type MountEntry struct {
	MountEntryID    MountEntryID
	TenantID        TenantID
	Name            string
	VirtualPath     string
	IsFile          bool
	Source          MountSource
	Mode            MountMode
	Enabled         bool
	CurrentLayerID  *LayerID
}

// PublishScopeKind discriminates PublishedMount.Scope.
type PublishScopeKind string

const (
	ScopePublic    PublishScopeKind = "public"
	ScopeAllowList PublishScopeKind = "allow_list"
)

// PublishScope restricts who may resolve a published-mount.
type PublishScope struct {
	Kind           PublishScopeKind
	AllowedTenants []TenantID // only meaningful when Kind == ScopeAllowList
}

// PublishTargetKind discriminates PublishedMount.Target.
type PublishTargetKind string

const (
	TargetLayer        PublishTargetKind = "layer"
	TargetWorkingLayer PublishTargetKind = "working_layer"
)

// PublishTarget is a fixed layer id, or a standing reference to
// "whatever the mount's working layer currently is" (I7).
type PublishTarget struct {
	Kind    PublishTargetKind
	LayerID LayerID // only meaningful when Kind == TargetLayer
}

// PublishedMount grants cross-tenant visibility of a mount's working
// layer or a frozen snapshot under a globally-unique name.
type PublishedMount struct {
	PublishID    PublishID
	MountEntryID MountEntryID
	OwnerTenant  TenantID
	PublishName  string
	Target       PublishTarget
	Scope        PublishScope
}

// FileHistoryEntry is one row of union.GetFileHistory's result: a
// layer-entry enriched with the layer's name for display.
type FileHistoryEntry struct {
	LayerID    LayerID
	LayerName  string
	InodeID    InodeID
	ChangeType ChangeType
	SizeDelta  *int64
	CreatedAt  time.Time
}
