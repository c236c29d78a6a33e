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

// Package archive writes the on-disk artifacts of a published dataset
// version: the full snapshot, its pages, tabular exports of both, a small
// info file and the textual diff against the previous version.
//
// A version is written into a hidden staging directory and only renamed to
// its final name once every artifact is in place, so a version directory that
// is visible under its id is always complete.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/diff"
	"github.com/wtsi-hgi/coursearchive/internal/fsutil"
	"github.com/wtsi-hgi/coursearchive/retention"
)

// Error is the type of the constant Err* variables.
type Error string

// Error returns a string version of the error.
func (e Error) Error() string { return string(e) }

const (
	ErrEmptySnapshot = Error("snapshot has no records")
	ErrVersionExists = Error("version directory already exists")
	ErrBadPageName   = Error("not a page file")
)

const (
	AllBasename  = "all"
	InfoBasename = "info.json"
	DiffBasename = "diff.txt"

	jsonExt     = ".json"
	csvExt      = ".csv"
	pagePrefix  = "page_"
	defaultSize = 20
)

// Info is the content of a version's info.json.
type Info struct {
	PageCount   int    `json:"page_count"`
	PageSize    int    `json:"page_size"`
	RecordCount int    `json:"record_count"`
	Updated     string `json:"updated"`
}

// Artifacts describes a published version.
type Artifacts struct {
	Dir   string
	Info  Info
	Files []string
}

// Writer publishes versions under Root.
type Writer struct {
	Root     string
	PageSize int
}

// ScopeDir returns the directory holding every version of scope.
func ScopeDir(root, scope string) string {
	return filepath.Join(root, scope)
}

// VersionDir returns the directory of version id of scope.
func VersionDir(root, scope, id string) string {
	return filepath.Join(root, scope, id)
}

// PageBasename returns the file name of the nth (1-based) page with the given
// extension, eg. page_3.json.
func PageBasename(n int, ext string) string {
	return pagePrefix + strconv.Itoa(n) + ext
}

// PageNumber parses a name created by PageBasename.
func PageNumber(name string) (int, error) {
	stem, ok := strings.CutPrefix(strings.TrimSuffix(name, filepath.Ext(name)), pagePrefix)
	if !ok {
		return 0, ErrBadPageName
	}

	n, err := strconv.Atoi(stem)
	if err != nil || n < 1 {
		return 0, ErrBadPageName
	}

	return n, nil
}

func (w *Writer) pageSize() int {
	if w.PageSize <= 0 {
		return defaultSize
	}

	return w.PageSize
}

// Publish writes snap as version id of scope, along with the human readable
// form of report (which may be nil). The scope directory is created if
// needed.
//
// Nothing is written for an empty snapshot. If writing fails part way, the
// staging directory is removed and the error returned; no directory named id
// is left behind.
func (w *Writer) Publish(scope, id string, snap dataset.Snapshot, report *diff.Report) (*Artifacts, error) {
	if len(snap) == 0 {
		return nil, ErrEmptySnapshot
	}

	final := VersionDir(w.Root, scope, id)
	if fsutil.Exists(final) {
		return nil, fmt.Errorf("%s: %w", final, ErrVersionExists)
	}

	staging := filepath.Join(ScopeDir(w.Root, scope), retention.StagingPrefix+id)

	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(staging, fsutil.DirPerms); err != nil {
		return nil, err
	}

	a, err := w.writeVersion(staging, id, snap, report)
	if err == nil {
		err = fsutil.SyncDir(staging)
	}

	if err == nil {
		err = os.Rename(staging, final)
	}

	if err != nil {
		os.RemoveAll(staging)

		return nil, err
	}

	if err = fsutil.SyncDir(ScopeDir(w.Root, scope)); err != nil {
		os.RemoveAll(final)

		return nil, err
	}

	a.Dir = final

	return a, nil
}

func (w *Writer) writeVersion(dir, id string, snap dataset.Snapshot, report *diff.Report) (*Artifacts, error) {
	pages := snap.Paginate(w.pageSize())
	a := &Artifacts{
		Info: Info{
			PageCount:   len(pages),
			PageSize:    w.pageSize(),
			RecordCount: len(snap),
			Updated:     id,
		},
	}

	if err := writeJSON(dir, AllBasename+jsonExt, snap, a); err != nil {
		return nil, err
	}

	for n, page := range pages {
		if err := writeJSON(dir, PageBasename(n+1, jsonExt), page, a); err != nil {
			return nil, err
		}
	}

	exports, err := EnsureExports(dir)
	if err != nil {
		return nil, err
	}

	a.Files = append(a.Files, exports...)

	if err := writeJSON(dir, InfoBasename, a.Info, a); err != nil {
		return nil, err
	}

	if err := writeDiff(dir, report, a); err != nil {
		return nil, err
	}

	return a, nil
}

func writeJSON(dir, name string, v any, a *Artifacts) error {
	data, err := dataset.Marshal(v)
	if err != nil {
		return err
	}

	if err := fsutil.WriteFileSync(filepath.Join(dir, name), data); err != nil {
		return err
	}

	a.Files = append(a.Files, name)

	return nil
}

func writeDiff(dir string, report *diff.Report, a *Artifacts) error {
	var text string

	if report != nil {
		text = report.Pretty()
	}

	if err := fsutil.WriteFileSync(filepath.Join(dir, DiffBasename), []byte(text)); err != nil {
		return err
	}

	a.Files = append(a.Files, DiffBasename)

	return nil
}

// ReadInfo reads the info.json of the version directory dir.
func ReadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoBasename))
	if err != nil {
		return nil, err
	}

	info := new(Info)

	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	return info, nil
}

// LoadSnapshot reads the full snapshot of version id of scope.
func LoadSnapshot(root, scope, id string) (dataset.Snapshot, error) {
	return loadJSON(filepath.Join(VersionDir(root, scope, id), AllBasename+jsonExt))
}

// LoadPages reads every page of a version directory, in order, according to
// its info.json.
func LoadPages(dir string) ([]dataset.Snapshot, error) {
	info, err := ReadInfo(dir)
	if err != nil {
		return nil, err
	}

	pages := make([]dataset.Snapshot, info.PageCount)

	for n := range pages {
		if pages[n], err = loadJSON(filepath.Join(dir, PageBasename(n+1, jsonExt))); err != nil {
			return nil, err
		}
	}

	return pages, nil
}

func loadJSON(path string) (dataset.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap, err := dataset.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return snap, nil
}
