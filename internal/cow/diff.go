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

package cow

import "github.com/tarboxfs/tarbox/internal/types"

// diffLines computes TextChanges via a longest-common-subsequence diff
// over old and new lines, per §4.4: paired insert/delete pairs are
// reported as modified, the remainder as pure adds and deletes.
func diffLines(old, new_ []string) types.TextChanges {
	if len(old) == 0 {
		return types.TextChanges{LinesAdded: len(new_), TotalLines: len(new_)}
	}

	lcs := lcsTable(old, new_)
	adds, dels := 0, 0
	i, j := len(old), len(new_)
	for i > 0 && j > 0 {
		switch {
		case old[i-1] == new_[j-1]:
			i--
			j--
		case lcs[i-1][j] >= lcs[i][j-1]:
			dels++
			i--
		default:
			adds++
			j--
		}
	}
	adds += j
	dels += i

	modified := adds
	if dels < modified {
		modified = dels
	}
	return types.TextChanges{
		LinesAdded:    adds - modified,
		LinesDeleted:  dels - modified,
		LinesModified: modified,
		TotalLines:    len(new_),
	}
}

// lcsTable builds the classic dynamic-programming LCS length table,
// lcs[i][j] = length of the LCS of old[:i] and new[:j].
func lcsTable(old, new_ []string) [][]int {
	n, m := len(old), len(new_)
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if old[i-1] == new_[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] >= table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}
	return table
}
