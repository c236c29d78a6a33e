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

package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/index"
	"github.com/wtsi-hgi/coursearchive/manifest"
	"github.com/wtsi-hgi/coursearchive/retention"
)

// Maintenance describes what Maintain did, or would do, to one scope.
type Maintenance struct {
	Scope   string
	Pruned  []string
	Orphans []string
	Exports []string
}

// Maintain brings the given scopes (every scope in the root manifest if none
// are given) back in line with the archive's invariants: it prunes each to at
// most keep versions (the configured maximum if keep isn't positive), removes
// orphaned version directories, recreates any missing exports of kept
// versions, and finally rebuilds the path index.
//
// With dryRun, nothing is changed and the returned Maintenance describes what
// would be removed.
func (p *Pipeline) Maintain(scopes []string, keep int, dryRun bool) ([]*Maintenance, error) {
	if keep <= 0 {
		keep = p.maxHistory
	}

	if len(scopes) == 0 {
		r, err := manifest.LoadRoot(filepath.Join(p.root, manifest.Basename))
		if err != nil {
			return nil, err
		}

		scopes = r.Scopes()
	}

	if dryRun {
		return p.planMaintenance(scopes, keep)
	}

	unlock, err := p.lock()
	if err != nil {
		return nil, err
	}

	defer unlock()

	var (
		results []*Maintenance
		merr    *multierror.Error
	)

	for _, scope := range scopes {
		mt, err := p.maintainScope(scope, keep)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", scope, err))
		}

		if mt != nil {
			results = append(results, mt)
		}
	}

	if _, err := index.Write(p.root); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("failed to rebuild path index: %w", err))
	}

	return results, merr.ErrorOrNil()
}

func (p *Pipeline) planMaintenance(scopes []string, keep int) ([]*Maintenance, error) {
	results := make([]*Maintenance, 0, len(scopes))

	for _, scope := range scopes {
		if err := manifest.ValidateScope(scope); err != nil {
			return nil, err
		}

		scopeDir := archive.ScopeDir(p.root, scope)

		m, err := manifest.LoadScope(filepath.Join(scopeDir, manifest.Basename))
		if err != nil {
			return nil, err
		}

		orphans, err := retention.FindOrphans(scopeDir, m)
		if err != nil {
			return nil, err
		}

		results = append(results, &Maintenance{
			Scope:   scope,
			Pruned:  retention.Candidates(m, keep),
			Orphans: orphans,
		})
	}

	return results, nil
}

func (p *Pipeline) maintainScope(scope string, keep int) (*Maintenance, error) {
	if err := manifest.ValidateScope(scope); err != nil {
		return nil, err
	}

	logger := p.logger.New("scope", scope)
	scopeDir := archive.ScopeDir(p.root, scope)
	manifestPath := filepath.Join(scopeDir, manifest.Basename)

	m, err := manifest.LoadScope(manifestPath)
	if err != nil {
		return nil, err
	}

	mt := &Maintenance{Scope: scope}

	var merr *multierror.Error

	mt.Pruned, err = retention.Prune(m, scopeDir, keep)
	if err != nil {
		merr = multierror.Append(merr, err)
	}

	if len(mt.Pruned) > 0 {
		logger.Info("pruned old versions", "versions", mt.Pruned)

		if err := saveScope(m, manifestPath); err != nil {
			return mt, err
		}
	}

	mt.Orphans, err = retention.CleanOrphans(scopeDir, m)
	if err != nil {
		merr = multierror.Append(merr, err)
	}

	if len(mt.Orphans) > 0 {
		logger.Info("removed orphaned version directories", "dirs", mt.Orphans)
	}

	for _, id := range m.IDs() {
		created, err := archive.EnsureExports(archive.VersionDir(p.root, scope, id))
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("version %s: %w", id, err))
		}

		for _, name := range created {
			mt.Exports = append(mt.Exports, filepath.Join(id, name))
		}
	}

	if len(mt.Exports) > 0 {
		logger.Info("recreated missing exports", "files", mt.Exports)
	}

	return mt, merr.ErrorOrNil()
}

// RebuildIndex rewrites the path index of the archive.
func (p *Pipeline) RebuildIndex() (index.Tree, error) {
	unlock, err := p.lock()
	if err != nil {
		return nil, err
	}

	defer unlock()

	return index.Write(p.root)
}
