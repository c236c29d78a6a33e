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

package retention

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/wtsi-hgi/coursearchive/manifest"
)

// StagingPrefix is prepended to a version id to name the directory a version
// is written to before it is moved into place.
const StagingPrefix = "."

// FindOrphans returns the names of version directories directly under
// scopeDir that m does not list. That includes staging directories left by
// an interrupted publish, and committed-looking directories whose manifest
// entry was never written or was pruned while their deletion failed.
//
// Entries that aren't directories, or whose names aren't version ids (with or
// without the staging prefix), are never considered orphans.
func FindOrphans(scopeDir string, m *manifest.Scope) ([]string, error) {
	entries, err := os.ReadDir(scopeDir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var orphans []string

	for _, entry := range entries {
		if isOrphan(entry, m) {
			orphans = append(orphans, entry.Name())
		}
	}

	slices.Sort(orphans)

	return orphans, nil
}

func isOrphan(entry fs.DirEntry, m *manifest.Scope) bool {
	if !entry.IsDir() {
		return false
	}

	id, staging := SplitVersionDirName(entry.Name())
	if id == "" {
		return false
	}

	return staging || !m.Has(id)
}

// SplitVersionDirName returns the version id a directory name refers to, and
// whether it is a staging directory. id is "" if name isn't a version
// directory name.
func SplitVersionDirName(name string) (id string, staging bool) {
	id, staging = strings.CutPrefix(name, StagingPrefix)

	if !manifest.IsVersionID(id) {
		return "", false
	}

	return id, staging
}

// CleanOrphans deletes every directory FindOrphans returns, continuing past
// failures, which are returned together. It returns the names it removed.
func CleanOrphans(scopeDir string, m *manifest.Scope) ([]string, error) {
	orphans, err := FindOrphans(scopeDir, m)
	if err != nil {
		return nil, err
	}

	var (
		merr    *multierror.Error
		removed []string
	)

	for _, name := range orphans {
		if err := os.RemoveAll(filepath.Join(scopeDir, name)); err != nil {
			merr = multierror.Append(merr, err)

			continue
		}

		removed = append(removed, name)
	}

	return removed, merr.ErrorOrNil()
}
