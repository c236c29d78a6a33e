/*******************************************************************************
 * Copyright (c) 2026 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

// Package retention bounds how many versions of a scope are kept, and removes
// version directories that no manifest refers to.
package retention

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/wtsi-hgi/coursearchive/manifest"
)

// Candidates returns the ids Prune would remove from m to leave at most
// maxCount versions, oldest first.
func Candidates(m *manifest.Scope, maxCount int) []string {
	ids := m.IDs()

	excess := len(ids) - max(maxCount, 0)
	if excess <= 0 {
		return nil
	}

	return ids[:excess]
}

// Prune removes the oldest versions from m until at most maxCount remain,
// deleting the directory of each removed version from scopeDir.
//
// Directories that are already gone are ignored. Any other deletion failure
// does not stop pruning; all such failures are returned together as a
// *multierror.Error once every candidate has been dealt with. The returned ids
// have been removed from m regardless.
func Prune(m *manifest.Scope, scopeDir string, maxCount int) ([]string, error) {
	removed := Candidates(m, maxCount)

	var merr *multierror.Error

	for _, id := range removed {
		m.Remove(id)

		if err := os.RemoveAll(filepath.Join(scopeDir, id)); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to remove version %s: %w", id, err))
		}
	}

	return removed, merr.ErrorOrNil()
}
