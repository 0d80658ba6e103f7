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

// Package core is the adapter-facing facade of §6.2: it composes the
// path resolver (C7), mount composition (C8), entity repositories
// (C2), the COW handler (C4), the layer manager (C5), the union view
// (C6), and the virtual hook namespace behind one tenant-scoped API.
// Concrete adapters (FUSE, a volume driver, a bytecode sandbox) are
// out of scope; this is the boundary they call against.
package core

import (
	"context"
	"os"

	"github.com/tarboxfs/tarbox/internal/cow"
	"github.com/tarboxfs/tarbox/internal/detector"
	"github.com/tarboxfs/tarbox/internal/errkind"
	"github.com/tarboxfs/tarbox/internal/hooks"
	"github.com/tarboxfs/tarbox/internal/layer"
	"github.com/tarboxfs/tarbox/internal/mount"
	"github.com/tarboxfs/tarbox/internal/pathutil"
	"github.com/tarboxfs/tarbox/internal/publish"
	"github.com/tarboxfs/tarbox/internal/repo"
	"github.com/tarboxfs/tarbox/internal/store"
	"github.com/tarboxfs/tarbox/internal/types"
	"github.com/tarboxfs/tarbox/internal/union"
)

// FS is the tenant-scoped facade adapters call against.
type FS struct {
	store     *store.Store
	resolver  *mount.Resolver
	publisher *publish.Publisher
	layers    *layer.Manager
	view      *union.View
	cow       *cow.Handler
	hooks     *hooks.Handler
}

func New(s *store.Store, detectCfg detector.Config) *FS {
	lm := layer.New(s)
	return &FS{
		store:     s,
		resolver:  mount.New(s),
		publisher: publish.New(s),
		layers:    lm,
		view:      union.New(s),
		cow:       cow.New(s, detectCfg),
		hooks:     hooks.New(lm),
	}
}

// EnsureRootMount bootstraps a tenant's base layer and the implicit
// "/" working-layer mount every tenant needs before any path
// resolution can succeed; idempotent.
func (fs *FS) EnsureRootMount(ctx context.Context, tenant types.TenantID) error {
	base, err := fs.layers.InitializeBaseLayer(ctx, tenant)
	if err != nil {
		return err
	}
	if _, err := fs.resolver.Resolve(ctx, tenant, "/"); err == nil {
		return nil
	}
	_, err = fs.resolver.Create(ctx, tenant, types.MountEntry{
		Name: "root", VirtualPath: "/", IsFile: false, Mode: types.MountReadWrite,
		Source:         types.MountSource{Kind: types.SourceWorkingLayer},
		Enabled:        true,
		CurrentLayerID: &base.LayerID,
	})
	return err
}

// target is a path resolved all the way down to either a host
// filesystem path, or an (owner tenant, layer, owner-relative path)
// triple addressable through the union view.
type target struct {
	host      bool
	hostPath  string
	owner     types.TenantID
	layerID   types.LayerID
	ownerPath string
	writable  bool
}

// resolve implements §4.7's resolver hand-off plus §4.8's
// publish/resolve_published step, landing on a single addressable
// target regardless of which mount-source variant queryPath fell
// under.
func (fs *FS) resolve(ctx context.Context, tenant types.TenantID, queryPath string) (target, error) {
	resolved, err := fs.resolver.Resolve(ctx, tenant, queryPath)
	if err != nil {
		return target{}, err
	}
	rsrc, err := fs.resolver.ResolveSource(ctx, tenant, resolved)
	if err != nil {
		return target{}, err
	}

	switch rsrc.Kind {
	case types.SourceHost:
		return target{host: true, hostPath: rsrc.HostPath, writable: resolved.Mount.Mode != types.MountReadOnly}, nil

	case types.SourceWorkingLayer:
		return target{
			owner: rsrc.OwnerTenant, layerID: rsrc.LayerID, ownerPath: ownerPath(rsrc.Subpath),
			writable: resolved.Mount.Mode != types.MountReadOnly,
		}, nil

	case types.SourceLayer:
		// A mount that references a fixed or foreign layer is a
		// read-only view: internal/layer.RecordChange only ever
		// appends to the calling tenant's own current layer, so there
		// is no write path that could land on someone else's chain.
		return target{owner: rsrc.OwnerTenant, layerID: rsrc.LayerID, ownerPath: ownerPath(rsrc.Subpath)}, nil

	case types.SourcePublished:
		res, err := fs.publisher.ResolvePublished(ctx, rsrc.PublishName, tenant)
		if err != nil {
			return target{}, err
		}
		return target{owner: res.OwnerTenantID, layerID: res.LayerID, ownerPath: ownerPath(rsrc.PublishedSubpath)}, nil

	default:
		return target{}, errkind.New(errkind.InvalidInput, string(rsrc.Kind))
	}
}

func ownerPath(subpath string) string {
	if subpath == "" {
		return "/"
	}
	return "/" + subpath
}

// Stat implements §6.2's stat.
func (fs *FS) Stat(ctx context.Context, tenant types.TenantID, path string) (types.Inode, error) {
	if hooks.IsHookPath(path) {
		return fs.statHook(ctx, tenant, path)
	}
	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return types.Inode{}, err
	}
	if t.host {
		return statHostPath(t.hostPath)
	}
	return fs.statOwnerPath(ctx, t)
}

func (fs *FS) statOwnerPath(ctx context.Context, t target) (types.Inode, error) {
	result, err := fs.view.LookupFile(ctx, t.owner, t.layerID, t.ownerPath)
	if err != nil {
		return types.Inode{}, err
	}
	if result.Status != union.StatusExists {
		return types.Inode{}, errkind.New(errkind.PathNotFound, t.ownerPath)
	}
	return repo.GetInode(ctx, fs.store.DB(), t.owner, result.InodeID)
}

func (fs *FS) statHook(ctx context.Context, tenant types.TenantID, path string) (types.Inode, error) {
	return types.Inode{}, errkind.New(errkind.NotSupported, path)
}

// ReadFile implements §6.2's read_file: offset/size clip the
// reconstructed content to the requested window.
func (fs *FS) ReadFile(ctx context.Context, tenant types.TenantID, path string, offset, size int64) ([]byte, error) {
	if hooks.IsHookPath(path) {
		content, err := fs.hooks.Read(ctx, tenant, path)
		if err != nil {
			return nil, err
		}
		return clip(content, offset, size), nil
	}
	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return nil, err
	}
	if t.host {
		content, err := os.ReadFile(t.hostPath)
		if err != nil {
			return nil, hostErr(err, t.hostPath)
		}
		return clip(content, offset, size), nil
	}

	result, err := fs.view.LookupFile(ctx, t.owner, t.layerID, t.ownerPath)
	if err != nil {
		return nil, err
	}
	if result.Status != union.StatusExists {
		return nil, errkind.New(errkind.PathNotFound, t.ownerPath)
	}
	content, err := fs.view.ReadFile(ctx, t.owner, result.InodeID, result.LayerID)
	if err != nil {
		return nil, err
	}
	return clip(content, offset, size), nil
}

func clip(content []byte, offset, size int64) []byte {
	if offset < 0 || offset >= int64(len(content)) {
		return []byte{}
	}
	end := offset + size
	if size <= 0 || end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end]
}

// WriteFile implements §6.2's write_file. Non-zero offsets are
// excluded by spec.md §1's Non-goals ("concurrent offset-based writes
// beyond whole-file replace"); any offset other than 0 is
// NotSupported.
func (fs *FS) WriteFile(ctx context.Context, tenant types.TenantID, path string, offset int64, data []byte) (int, error) {
	if offset != 0 {
		return 0, errkind.New(errkind.NotSupported, "non-zero offset write")
	}
	if hooks.IsHookPath(path) {
		if err := fs.hooks.Write(ctx, tenant, path, data); err != nil {
			return 0, err
		}
		return len(data), nil
	}

	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return 0, err
	}
	if !t.writable {
		return 0, errkind.New(errkind.PermissionDenied, path)
	}
	if t.host {
		if err := os.WriteFile(t.hostPath, data, 0o644); err != nil {
			return 0, hostErr(err, t.hostPath)
		}
		return len(data), nil
	}

	existing, err := fs.view.LookupFile(ctx, t.owner, t.layerID, t.ownerPath)
	if err != nil {
		return 0, err
	}
	if existing.Status != union.StatusExists {
		return 0, errkind.New(errkind.PathNotFound, t.ownerPath)
	}

	var oldBytes []byte
	if content, err := fs.view.ReadFile(ctx, t.owner, existing.InodeID, existing.LayerID); err == nil {
		oldBytes = content
	}

	summary, err := fs.cow.Write(ctx, t.owner, existing.InodeID, t.layerID, oldBytes, data)
	if err != nil {
		return 0, err
	}
	if _, err := fs.layers.RecordChange(ctx, t.owner, existing.InodeID, t.ownerPath, summary.ChangeType, &summary.SizeDelta, summary.TextChanges); err != nil {
		return 0, err
	}
	if err := repo.UpdateInode(ctx, fs.store.DB(), t.owner, existing.InodeID, repo.InodeUpdate{Size: sizePtr(int64(len(data)))}); err != nil {
		return 0, err
	}
	return len(data), nil
}

func sizePtr(v int64) *int64 { return &v }

// CreateFile implements §6.2's create_file.
func (fs *FS) CreateFile(ctx context.Context, tenant types.TenantID, path string, mode uint32) (types.Inode, error) {
	return fs.createInode(ctx, tenant, path, types.KindFile, mode)
}

// CreateDirectory implements §6.2's create_directory.
func (fs *FS) CreateDirectory(ctx context.Context, tenant types.TenantID, path string) (types.Inode, error) {
	return fs.createInode(ctx, tenant, path, types.KindDir, 0o755)
}

func (fs *FS) createInode(ctx context.Context, tenant types.TenantID, path string, kind types.InodeKind, mode uint32) (types.Inode, error) {
	if hooks.IsHookPath(path) {
		return types.Inode{}, errkind.New(errkind.PermissionDenied, path)
	}
	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return types.Inode{}, err
	}
	if !t.writable || t.host {
		return types.Inode{}, errkind.New(errkind.PermissionDenied, path)
	}

	if existing, err := fs.view.LookupFile(ctx, t.owner, t.layerID, t.ownerPath); err == nil && existing.Status == union.StatusExists {
		return types.Inode{}, errkind.New(errkind.AlreadyExists, t.ownerPath)
	}

	parentPath, name, err := pathutil.Split(t.ownerPath)
	if err != nil {
		return types.Inode{}, err
	}
	parentInode, err := fs.resolveOwnerInodeID(ctx, t.owner, t.layerID, parentPath)
	if err != nil {
		return types.Inode{}, err
	}

	var inode types.Inode
	err = fs.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		inode, err = repo.CreateInode(ctx, q, t.owner, parentInode, name, kind, mode, 0, 0)
		return err
	})
	if err != nil {
		return types.Inode{}, err
	}

	changeType := types.ChangeAdd
	if _, err := fs.layers.RecordChange(ctx, t.owner, inode.InodeID, t.ownerPath, changeType, nil, nil); err != nil {
		return types.Inode{}, err
	}
	return inode, nil
}

// resolveOwnerInodeID resolves "/" to the tenant's root inode and any
// other path through the union view against layerID.
func (fs *FS) resolveOwnerInodeID(ctx context.Context, owner types.TenantID, layerID types.LayerID, ownerPath string) (types.InodeID, error) {
	if ownerPath == "/" {
		tenantRow, err := repo.GetTenant(ctx, fs.store.DB(), owner)
		if err != nil {
			return 0, err
		}
		return tenantRow.RootInode, nil
	}
	result, err := fs.view.LookupFile(ctx, owner, layerID, ownerPath)
	if err != nil {
		return 0, err
	}
	if result.Status != union.StatusExists {
		return 0, errkind.New(errkind.PathNotFound, ownerPath)
	}
	return result.InodeID, nil
}

// ListDirectory implements §6.2's list_directory.
func (fs *FS) ListDirectory(ctx context.Context, tenant types.TenantID, path string) ([]types.Inode, error) {
	if hooks.IsHookPath(path) {
		return fs.listHookDirectory(ctx, tenant, path)
	}
	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return nil, err
	}
	if t.host {
		return listHostDirectory(t.hostPath)
	}

	entries, err := fs.view.ListDirectory(ctx, t.owner, t.layerID, t.ownerPath)
	if err != nil {
		return nil, err
	}
	out := make([]types.Inode, 0, len(entries))
	for _, e := range entries {
		inode, err := repo.GetInode(ctx, fs.store.DB(), t.owner, e.InodeID)
		if err != nil {
			return nil, err
		}
		out = append(out, inode)
	}
	return out, nil
}

func (fs *FS) listHookDirectory(ctx context.Context, tenant types.TenantID, path string) ([]types.Inode, error) {
	names, err := fs.hooks.ListChildren(ctx, tenant, path)
	if err != nil {
		return nil, err
	}
	out := make([]types.Inode, 0, len(names))
	for _, name := range names {
		out = append(out, types.Inode{Name: name, Kind: types.KindFile})
	}
	return out, nil
}

// RemoveFile implements §6.2's remove_file.
func (fs *FS) RemoveFile(ctx context.Context, tenant types.TenantID, path string) error {
	return fs.remove(ctx, tenant, path, false)
}

// RemoveDirectory implements §6.2's remove_directory: fails if the
// directory is non-empty.
func (fs *FS) RemoveDirectory(ctx context.Context, tenant types.TenantID, path string) error {
	return fs.remove(ctx, tenant, path, true)
}

func (fs *FS) remove(ctx context.Context, tenant types.TenantID, path string, isDir bool) error {
	if hooks.IsHookPath(path) {
		return errkind.New(errkind.PermissionDenied, path)
	}
	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return err
	}
	if !t.writable {
		return errkind.New(errkind.PermissionDenied, path)
	}
	if t.host {
		return removeHostPath(t.hostPath, isDir)
	}

	existing, err := fs.view.LookupFile(ctx, t.owner, t.layerID, t.ownerPath)
	if err != nil {
		return err
	}
	if existing.Status != union.StatusExists {
		return errkind.New(errkind.PathNotFound, t.ownerPath)
	}
	inode, err := repo.GetInode(ctx, fs.store.DB(), t.owner, existing.InodeID)
	if err != nil {
		return err
	}
	if isDir && inode.Kind != types.KindDir {
		return errkind.New(errkind.NotDirectory, t.ownerPath)
	}
	if !isDir && inode.Kind == types.KindDir {
		return errkind.New(errkind.IsDirectory, t.ownerPath)
	}
	if isDir {
		children, err := fs.view.ListDirectory(ctx, t.owner, t.layerID, t.ownerPath)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return errkind.New(errkind.DirectoryNotEmpty, t.ownerPath)
		}
	}

	if err := fs.store.RunInTransaction(ctx, func(ctx context.Context, q store.Queryer) error {
		return repo.DeleteInode(ctx, q, t.owner, existing.InodeID)
	}); err != nil {
		return err
	}
	freed := -inode.Size
	_, err = fs.layers.RecordChange(ctx, t.owner, existing.InodeID, t.ownerPath, types.ChangeDelete, &freed, nil)
	return err
}

// Chmod/Chown/Setattr implement §6.2's metadata operations. None of
// them produce a layer-entry: content is unchanged, so there is
// nothing for the union view to overlay differently across layers.
func (fs *FS) Chmod(ctx context.Context, tenant types.TenantID, path string, mode uint32) (types.Inode, error) {
	return fs.updateMeta(ctx, tenant, path, repo.InodeUpdate{Mode: &mode})
}

func (fs *FS) Chown(ctx context.Context, tenant types.TenantID, path string, uid, gid uint32) (types.Inode, error) {
	return fs.updateMeta(ctx, tenant, path, repo.InodeUpdate{UID: &uid, GID: &gid})
}

func (fs *FS) Setattr(ctx context.Context, tenant types.TenantID, path string, upd repo.InodeUpdate) (types.Inode, error) {
	return fs.updateMeta(ctx, tenant, path, upd)
}

func (fs *FS) updateMeta(ctx context.Context, tenant types.TenantID, path string, upd repo.InodeUpdate) (types.Inode, error) {
	if hooks.IsHookPath(path) {
		return types.Inode{}, errkind.New(errkind.PermissionDenied, path)
	}
	t, err := fs.resolve(ctx, tenant, path)
	if err != nil {
		return types.Inode{}, err
	}
	if !t.writable || t.host {
		return types.Inode{}, errkind.New(errkind.PermissionDenied, path)
	}
	existing, err := fs.view.LookupFile(ctx, t.owner, t.layerID, t.ownerPath)
	if err != nil {
		return types.Inode{}, err
	}
	if existing.Status != union.StatusExists {
		return types.Inode{}, errkind.New(errkind.PathNotFound, t.ownerPath)
	}
	if err := repo.UpdateInode(ctx, fs.store.DB(), t.owner, existing.InodeID, upd); err != nil {
		return types.Inode{}, err
	}
	return repo.GetInode(ctx, fs.store.DB(), t.owner, existing.InodeID)
}

// Statfs implements §6.2's statfs: aggregate usage across every layer
// the tenant owns.
type StatfsResult struct {
	LayerCount int
	TotalFiles int64
	TotalSize  int64
}

func (fs *FS) Statfs(ctx context.Context, tenant types.TenantID) (StatfsResult, error) {
	layers, err := fs.layers.ListLayers(ctx, tenant)
	if err != nil {
		return StatfsResult{}, err
	}
	var out StatfsResult
	out.LayerCount = len(layers)
	for _, l := range layers {
		out.TotalFiles += l.FileCount
		out.TotalSize += l.TotalSize
	}
	return out, nil
}

func statHostPath(path string) (types.Inode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Inode{}, hostErr(err, path)
	}
	return hostInode(info), nil
}

func hostInode(info os.FileInfo) types.Inode {
	kind := types.KindFile
	if info.IsDir() {
		kind = types.KindDir
	}
	now := info.ModTime()
	return types.Inode{
		Name: info.Name(), Kind: kind, Mode: uint32(info.Mode().Perm()),
		Size: info.Size(), CreatedAt: now, ModifiedAt: now, ChangedAt: now,
	}
}

func listHostDirectory(path string) ([]types.Inode, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, hostErr(err, path)
	}
	out := make([]types.Inode, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, hostErr(err, path)
		}
		out = append(out, hostInode(info))
	}
	return out, nil
}

func removeHostPath(path string, isDir bool) error {
	if isDir {
		entries, err := os.ReadDir(path)
		if err != nil {
			return hostErr(err, path)
		}
		if len(entries) > 0 {
			return errkind.New(errkind.DirectoryNotEmpty, path)
		}
	}
	if err := os.Remove(path); err != nil {
		return hostErr(err, path)
	}
	return nil
}

func hostErr(err error, path string) error {
	if os.IsNotExist(err) {
		return errkind.New(errkind.PathNotFound, path)
	}
	if os.IsPermission(err) {
		return errkind.New(errkind.PermissionDenied, path)
	}
	return errkind.Wrap(errkind.Storage, path, err)
}
