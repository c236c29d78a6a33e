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

package acquire

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/manifest"
)

const (
	jsonExt = ".json"
	gzExt   = ".gz"
)

// FileSource reads datasets from JSON files, optionally gzip compressed.
//
// Path is either a single file, or a directory holding one <scope>.json or
// <scope>.json.gz file per scope. With a directory and no requested scope,
// the newest scope is used.
type FileSource struct {
	Path string

	// PageSize is the number of records a source page is taken to hold when
	// applying Request.MaxPages.
	PageSize int
}

// Acquire implements Acquirer.
func (f *FileSource) Acquire(ctx context.Context, req Request, progress Progress) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, scope, err := f.resolve(req.Scope)
	if err != nil {
		return nil, err
	}

	records, err := readSnapshotFile(path)
	if err != nil {
		return nil, err
	}

	records = f.capRecords(records, req.MaxPages)
	pages := dataset.PageCount(len(records), f.pageSize())
	progressOrNop(progress).Fetched(pages, pages)

	return &Result{Scope: scope, Records: records}, nil
}

func (f *FileSource) pageSize() int {
	if f.PageSize <= 0 {
		return 20
	}

	return f.PageSize
}

func (f *FileSource) capRecords(records dataset.Snapshot, maxPages int) dataset.Snapshot {
	if maxPages <= 0 {
		return records
	}

	return records[:min(len(records), maxPages*f.pageSize())]
}

func (f *FileSource) resolve(scope string) (string, string, error) {
	fi, err := os.Stat(f.Path)
	if err != nil {
		return "", "", err
	}

	if !fi.IsDir() {
		named := scopeFromFilename(filepath.Base(f.Path))

		if scope == "" {
			scope = named
		} else if scope != named {
			return "", "", fmt.Errorf("%s: %w", scope, ErrInvalidScope)
		}

		return f.Path, scope, validate(scope)
	}

	if scope == "" {
		return f.newest()
	}

	if err := validate(scope); err != nil {
		return "", "", err
	}

	for _, ext := range []string{jsonExt, jsonExt + gzExt} {
		path := filepath.Join(f.Path, scope+ext)
		if _, err := os.Stat(path); err == nil {
			return path, scope, nil
		}
	}

	return "", "", fmt.Errorf("%s: %w", scope, ErrInvalidScope)
}

func validate(scope string) error {
	if err := manifest.ValidateScope(scope); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScope, err)
	}

	return nil
}

func (f *FileSource) newest() (string, string, error) {
	entries, err := os.ReadDir(f.Path)
	if err != nil {
		return "", "", err
	}

	var bestName, bestScope string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !isSnapshotFilename(name) {
			continue
		}

		scope := scopeFromFilename(name)
		if bestName == "" || compareScopes(scope, bestScope) > 0 {
			bestName, bestScope = name, scope
		}
	}

	if bestName == "" {
		return "", "", fmt.Errorf("no scope files in %s: %w", f.Path, ErrInvalidScope)
	}

	return filepath.Join(f.Path, bestName), bestScope, nil
}

func isSnapshotFilename(name string) bool {
	return strings.HasSuffix(name, jsonExt) || strings.HasSuffix(name, jsonExt+gzExt)
}

func scopeFromFilename(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, gzExt), jsonExt)
}

func readSnapshotFile(path string) (dataset.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f

	if strings.HasSuffix(path, gzExt) {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()

		r = gz
	}

	snap, err := dataset.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return snap, nil
}
