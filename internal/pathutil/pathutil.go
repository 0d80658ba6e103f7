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

// Package pathutil implements §4.1: pure, total-semantics path
// normalisation and decomposition used by the layer manager (C5) and
// the path resolver (C7). Nothing here suspends or touches the store.
package pathutil

import (
	"strings"

	"github.com/tarboxfs/tarbox/internal/errkind"
)

const (
	// MaxPathLength is the maximum total length of a normalised path, in bytes.
	MaxPathLength = 4096
	// MaxSegmentLength is the maximum length of a single path segment, in bytes.
	MaxSegmentLength = 255
)

// Normalise collapses consecutive separators, forbids NUL bytes and
// ".." segments, enforces the length limits, and requires a leading
// separator. It is idempotent: Normalise(Normalise(p)) == Normalise(p)
// for every p that normalises successfully (P1).
func Normalise(p string) (string, error) {
	if len(p) == 0 || p[0] != '/' {
		return "", errkind.New(errkind.InvalidPath, p)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return "", errkind.New(errkind.InvalidPath, p)
	}
	if len(p) > MaxPathLength {
		return "", errkind.New(errkind.PathTooLong, p)
	}

	segments, err := Components(p)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "/", nil
	}

	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	out := b.String()
	if len(out) > MaxPathLength {
		return "", errkind.New(errkind.PathTooLong, p)
	}
	return out, nil
}

// Components returns the ordered list of non-empty segments of p,
// dropping "." segments and rejecting ".." and over-length segments.
func Components(p string) ([]string, error) {
	if len(p) == 0 || p[0] != '/' {
		return nil, errkind.New(errkind.InvalidPath, p)
	}
	raw := strings.Split(p, "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return nil, errkind.New(errkind.InvalidPath, p)
		}
		if len(seg) > MaxSegmentLength {
			return nil, errkind.New(errkind.NameTooLong, seg)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// Split returns (parent_path, final_segment) for a normalised path.
// Splitting the root ("/") fails: the root has no parent and no final
// segment.
func Split(p string) (parent string, name string, err error) {
	norm, err := Normalise(p)
	if err != nil {
		return "", "", err
	}
	if norm == "/" {
		return "", "", errkind.New(errkind.InvalidPath, p)
	}
	idx := strings.LastIndexByte(norm, '/')
	name = norm[idx+1:]
	if idx == 0 {
		parent = "/"
	} else {
		parent = norm[:idx]
	}
	return parent, name, nil
}

// Join normalises parent + "/" + name.
func Join(parent, name string) (string, error) {
	if parent == "/" {
		return Normalise("/" + name)
	}
	return Normalise(parent + "/" + name)
}

// IsPrefix reports whether ancestor is a component-wise path-prefix of
// p (not a byte-wise prefix: "/data" is not a prefix of "/database").
// Every path is a prefix of itself.
func IsPrefix(ancestor, p string) bool {
	aSegs, errA := Components(ancestor)
	pSegs, errP := Components(p)
	if errA != nil || errP != nil {
		return false
	}
	if len(aSegs) > len(pSegs) {
		return false
	}
	for i, seg := range aSegs {
		if pSegs[i] != seg {
			return false
		}
	}
	return true
}

// Parent returns the parent path of p: the normalised path with its
// final segment removed, "/" for a top-level entry. The root itself
// has no parent and fails with InvalidPath.
func Parent(p string) (string, error) {
	parent, _, err := Split(p)
	if err != nil {
		if norm, nerr := Normalise(p); nerr == nil && norm == "/" {
			return "", errkind.New(errkind.InvalidPath, p)
		}
		return "", err
	}
	return parent, nil
}
