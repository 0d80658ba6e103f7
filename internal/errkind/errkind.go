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

// Package errkind defines the error taxonomy of §7: a closed set of
// Kind values, each carrying a human string and the offending
// identifier/path where applicable, plus the POSIX errno mapping
// adapters use at the boundary.
package errkind

import "fmt"

// Kind is one of the error kinds raised by the core.
type Kind string

const (
	PathNotFound                     Kind = "PathNotFound"
	AlreadyExists                    Kind = "AlreadyExists"
	NotDirectory                     Kind = "NotDirectory"
	IsDirectory                      Kind = "IsDirectory"
	DirectoryNotEmpty                Kind = "DirectoryNotEmpty"
	InvalidPath                      Kind = "InvalidPath"
	PathTooLong                      Kind = "PathTooLong"
	NameTooLong                      Kind = "NameTooLong"
	PermissionDenied                 Kind = "PermissionDenied"
	ReadonlyLayer                    Kind = "ReadonlyLayer"
	NoCurrentLayer                   Kind = "NoCurrentLayer"
	LayerNotFound                    Kind = "LayerNotFound"
	HasChildLayers                   Kind = "HasChildLayers"
	CannotDeleteBase                 Kind = "CannotDeleteBase"
	HistoricalLayerNeedsConfirmation Kind = "HistoricalLayerNeedsConfirmation"
	MountPathConflict                Kind = "MountPathConflict"
	MountNotFound                    Kind = "MountNotFound"
	PublishNameExists                Kind = "PublishNameExists"
	AlreadyPublished                 Kind = "AlreadyPublished"
	NotPublished                     Kind = "NotPublished"
	AccessDenied                     Kind = "AccessDenied"
	WorkingLayerUninitialised        Kind = "WorkingLayerUninitialised"
	InvalidInput                     Kind = "InvalidInput"
	Storage                          Kind = "Storage"
	// NotSupported is raised by the deliberately-excluded operations
	// named in spec.md §9 (hard link, xattr, non-zero-offset write,
	// truncate) — see SPEC_FULL.md §10.
	NotSupported Kind = "NotSupported"
)

// Error is the concrete error type every core operation returns.
type Error struct {
	Kind Kind
	// Path or ID names the offending identifier, when applicable.
	Path string
	Err  error
}

func New(kind Kind, path string) *Error {
	return &Error{Kind: kind, Path: path}
}

func Wrap(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e.Path == "" && e.Err == nil {
		return string(e.Kind)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// callers can write errors.Is(err, errkind.New(errkind.PathNotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Errno is the POSIX error number an adapter should translate a Kind
// into, per §7's mapping table.
type Errno int

const (
	ENOENT  Errno = 2
	EIO     Errno = 5
	EACCES  Errno = 13
	EEXIST  Errno = 17
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	ENOTEMPTY Errno = 39
)

// ToErrno implements the §7 mapping: everything not explicitly listed
// maps to EIO.
func ToErrno(kind Kind) Errno {
	switch kind {
	case PathNotFound:
		return ENOENT
	case AlreadyExists:
		return EEXIST
	case NotDirectory:
		return ENOTDIR
	case IsDirectory:
		return EISDIR
	case DirectoryNotEmpty:
		return ENOTEMPTY
	case InvalidPath:
		return EINVAL
	case PermissionDenied:
		return EACCES
	default:
		return EIO
	}
}
