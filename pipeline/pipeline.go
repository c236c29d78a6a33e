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

// Package pipeline ties acquisition, change detection, retention, artifact
// writing and indexing together into a single publishing run against an
// archive root.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/juju/fslock"
	"github.com/wtsi-hgi/coursearchive/acquire"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/diff"
	"github.com/wtsi-hgi/coursearchive/index"
	"github.com/wtsi-hgi/coursearchive/internal/fsutil"
	"github.com/wtsi-hgi/coursearchive/manifest"
	"github.com/wtsi-hgi/coursearchive/retention"
	"github.com/wtsi-hgi/coursearchive/runlog"
)

// Error is the type of the constant Err* variables.
type Error string

// Error returns a string version of the error.
func (e Error) Error() string { return string(e) }

const (
	ErrAcquisition  = Error("acquisition failed")
	ErrEmptyDataset = Error("acquired dataset is empty")
	ErrLocked       = Error("archive is locked by another process")
)

const (
	DefaultPageSize   = 20
	DefaultMaxHistory = 5
	DefaultRoot       = "data"

	// LockBasename is the file in the archive root that is locked while the
	// archive is being modified.
	LockBasename = ".lock"
)

// saveScope persists a scope manifest.
var saveScope = func(m *manifest.Scope, path string) error { //nolint:gochecknoglobals
	return m.Save(path)
}

// Outcome says what a run did.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeCollision Outcome = "collision"
	OutcomeFailed    Outcome = "failed"
)

// Config configures a Pipeline.
type Config struct {
	// Root is the archive root directory. It is created if missing.
	Root string

	PageSize   int
	MaxHistory int

	// Now is used to generate version ids; defaults to time.Now.
	Now func() time.Time

	Logger log15.Logger

	// RunLog, if set, receives an entry for every Run and Publish.
	RunLog *runlog.Log
}

// Result describes a completed run.
type Result struct {
	Outcome   Outcome
	Scope     string
	VersionID string
	Records   int
	Removed   []string
	Report    *diff.Report
	Artifacts *archive.Artifacts
}

// Pipeline publishes datasets into an archive.
type Pipeline struct {
	root       string
	pageSize   int
	maxHistory int
	now        func() time.Time
	logger     log15.Logger
	runLog     *runlog.Log
}

// New returns a Pipeline using cfg, with defaults for unset fields.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		root:       cfg.Root,
		pageSize:   cfg.PageSize,
		maxHistory: cfg.MaxHistory,
		now:        cfg.Now,
		logger:     cfg.Logger,
		runLog:     cfg.RunLog,
	}

	if p.root == "" {
		p.root = DefaultRoot
	}

	if p.pageSize <= 0 {
		p.pageSize = DefaultPageSize
	}

	if p.maxHistory <= 0 {
		p.maxHistory = DefaultMaxHistory
	}

	if p.now == nil {
		p.now = time.Now
	}

	if p.logger == nil {
		p.logger = log15.New()
		p.logger.SetHandler(log15.DiscardHandler())
	}

	return p
}

// Root returns the archive root.
func (p *Pipeline) Root() string {
	return p.root
}

// Run acquires a dataset with acq and publishes it. Acquisition happens before
// the archive is touched, so an acquisition failure, returned wrapped in
// ErrAcquisition, leaves the archive unchanged.
func (p *Pipeline) Run(ctx context.Context, acq acquire.Acquirer, req acquire.Request,
	progress acquire.Progress) (*Result, error) {
	started := p.now()

	p.logger.Info("acquiring dataset", "scope", req.Scope, "max_pages", req.MaxPages)

	acquired, err := acq.Acquire(ctx, req, progress)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAcquisition, err)
		p.record(started, &Result{Scope: req.Scope, Outcome: OutcomeFailed}, err)

		return nil, err
	}

	res, err := p.publish(acquired.Scope, acquired.Records)
	p.record(started, res, err)

	return res, err
}

// Publish publishes an already acquired dataset as a new version of scope,
// unless it is identical to the latest version.
func (p *Pipeline) Publish(scope string, snap dataset.Snapshot) (*Result, error) {
	started := p.now()

	res, err := p.publish(scope, snap)
	p.record(started, res, err)

	return res, err
}

func (p *Pipeline) publish(scope string, snap dataset.Snapshot) (*Result, error) { //nolint:funlen,gocyclo
	res := &Result{Scope: scope, Records: len(snap), Outcome: OutcomeFailed}

	if err := manifest.ValidateScope(scope); err != nil {
		return res, err
	}

	if len(snap) == 0 {
		return res, ErrEmptyDataset
	}

	unlock, err := p.lock()
	if err != nil {
		return res, err
	}

	defer unlock()

	logger := p.logger.New("scope", scope)
	scopeDir := archive.ScopeDir(p.root, scope)
	manifestPath := filepath.Join(scopeDir, manifest.Basename)

	m, err := manifest.LoadScope(manifestPath)
	if err != nil {
		return res, err
	}

	p.cleanOrphans(logger, scopeDir, m)

	old, err := p.latestSnapshot(logger, scope, m)
	if err != nil {
		return res, err
	}

	res.Report = diff.Diff(old, snap)

	if old != nil && res.Report.IsEmpty() {
		res.Outcome = OutcomeUnchanged
		res.VersionID = m.Latest()

		logger.Info("dataset unchanged; nothing published", "latest", m.Latest(), "records", len(snap))

		return res, nil
	}

	now := p.now()

	id, ok := m.AddVersion(now)
	if !ok {
		res.Outcome = OutcomeCollision
		res.VersionID = now.UTC().Format(manifest.VersionIDFormat)

		logger.Warn("version already exists; skipping publish", "version", res.VersionID)

		return res, nil
	}

	res.VersionID = id
	logger = logger.New("version", id)

	res.Removed = p.prune(logger, scopeDir, manifestPath, m, id)

	w := &archive.Writer{Root: p.root, PageSize: p.pageSize}

	res.Artifacts, err = w.Publish(scope, id, snap, res.Report)
	if err != nil {
		return res, fmt.Errorf("failed to write version %s: %w", id, err)
	}

	if err = saveScope(m, manifestPath); err != nil {
		if errr := os.RemoveAll(res.Artifacts.Dir); errr != nil {
			logger.Warn("failed to remove uncommitted version", "err", errr)
		}

		return res, fmt.Errorf("failed to commit version %s: %w", id, err)
	}

	if err = p.addScopeToRoot(scope); err != nil {
		return res, err
	}

	res.Outcome = OutcomePublished

	added, removed, changed := res.Report.Counts()
	logger.Info("published version", "records", len(snap), "pages", res.Artifacts.Info.PageCount,
		"added", added, "removed", removed, "changed", changed, "pruned", len(res.Removed))

	if _, err = index.Write(p.root); err != nil {
		return res, fmt.Errorf("failed to rebuild path index: %w", err)
	}

	return res, nil
}

// latestSnapshot loads the latest committed snapshot of scope, or returns nil
// if there isn't one. A version listed in the manifest whose files are missing
// is treated as absent.
func (p *Pipeline) latestSnapshot(logger log15.Logger, scope string, m *manifest.Scope) (dataset.Snapshot, error) {
	latest := m.Latest()
	if latest == "" {
		return nil, nil
	}

	old, err := archive.LoadSnapshot(p.root, scope, latest)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("latest version missing from disk; treating as first publish", "latest", latest)

		return nil, nil
	}

	return old, err
}

func (p *Pipeline) cleanOrphans(logger log15.Logger, scopeDir string, m *manifest.Scope) {
	removed, err := retention.CleanOrphans(scopeDir, m)
	if err != nil {
		logger.Warn("failed to remove orphaned version directories", "err", err)
	}

	if len(removed) > 0 {
		logger.Info("removed orphaned version directories", "dirs", removed)
	}
}

// prune applies the retention bound to m, which already contains the new
// version id. If anything was removed, the manifest without the new version
// is saved straight away so that it never lists deleted directories.
func (p *Pipeline) prune(logger log15.Logger, scopeDir, manifestPath string, m *manifest.Scope, id string) []string {
	removed, err := retention.Prune(m, scopeDir, p.maxHistory)
	if err != nil {
		logger.Warn("failed to delete some pruned versions", "err", err)
	}

	if len(removed) == 0 {
		return nil
	}

	logger.Info("pruned old versions", "versions", removed)

	if err := saveScope(m.Without(id), manifestPath); err != nil {
		logger.Warn("failed to save pruned manifest", "err", err)
	}

	return removed
}

func (p *Pipeline) addScopeToRoot(scope string) error {
	rootPath := filepath.Join(p.root, manifest.Basename)

	r, err := manifest.LoadRoot(rootPath)
	if err != nil {
		return err
	}

	if !r.AddScope(scope) && fsutil.Exists(rootPath) {
		return nil
	}

	if err := r.Save(rootPath); err != nil {
		return fmt.Errorf("failed to update root manifest: %w", err)
	}

	return nil
}

// lock takes the exclusive archive lock, creating the root if needed.
func (p *Pipeline) lock() (func(), error) {
	if err := os.MkdirAll(p.root, fsutil.DirPerms); err != nil {
		return nil, err
	}

	l := fslock.New(filepath.Join(p.root, LockBasename))

	if err := l.TryLock(); err != nil {
		if errors.Is(err, fslock.ErrLocked) {
			return nil, ErrLocked
		}

		return nil, err
	}

	return func() {
		if err := l.Unlock(); err != nil {
			p.logger.Warn("failed to release archive lock", "err", err)
		}
	}, nil
}

func (p *Pipeline) record(started time.Time, res *Result, err error) {
	if p.runLog == nil || res == nil {
		return
	}

	if !fsutil.Exists(p.root) {
		p.logger.Debug("archive root missing; run not recorded", "outcome", res.Outcome)

		return
	}

	e := &runlog.Entry{
		Started:   started,
		Finished:  p.now(),
		Scope:     res.Scope,
		Outcome:   string(res.Outcome),
		VersionID: res.VersionID,
		Records:   res.Records,
		Removed:   res.Removed,
	}

	if err != nil {
		e.Error = err.Error()
	}

	if errr := p.runLog.Record(e); errr != nil {
		p.logger.Warn("failed to record run", "err", errr)
	}
}
