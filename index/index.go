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

// Package index builds the path index of the archive: a single JSON document
// at the archive root describing every file beneath it.
package index

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/internal/fsutil"
)

// Basename is the name of the index file at the archive root.
const Basename = "paths.json"

// Tree describes a directory. Subdirectories are Trees, files map to their
// size in bytes.
type Tree map[string]any

// Build walks root and returns its Tree. Hidden entries (staging directories,
// locks, the run ledger) and the index file itself are left out.
func Build(root string) (Tree, error) {
	return buildDir(root, true)
}

func buildDir(dir string, isRoot bool) (Tree, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	tree := make(Tree, len(entries))

	for _, entry := range entries {
		name := entry.Name()

		if strings.HasPrefix(name, ".") || (isRoot && name == Basename) {
			continue
		}

		if entry.IsDir() {
			sub, err := buildDir(filepath.Join(dir, name), false)
			if err != nil {
				return nil, err
			}

			tree[name] = sub

			continue
		}

		info, err := entry.Info()
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		if info.Mode().IsRegular() {
			tree[name] = info.Size()
		}
	}

	return tree, nil
}

// Write rebuilds the index of root and replaces root's paths.json with it.
func Write(root string) (Tree, error) {
	tree, err := Build(root)
	if err != nil {
		return nil, err
	}

	data, err := dataset.Marshal(tree)
	if err != nil {
		return nil, err
	}

	return tree, fsutil.WriteFileAtomic(filepath.Join(root, Basename), data)
}

// Files returns the slash separated paths of every file in the tree, relative
// to its root, in no particular order.
func (t Tree) Files() []string {
	var files []string

	t.walk("", func(path string) {
		files = append(files, path)
	})

	return files
}

func (t Tree) walk(prefix string, fn func(string)) {
	for name, v := range t {
		path := prefix + name

		if sub, ok := v.(Tree); ok {
			sub.walk(path+"/", fn)

			continue
		}

		fn(path)
	}
}

// Size returns the total size of every file in the tree.
func (t Tree) Size() int64 {
	var size int64

	for _, v := range t {
		switch v := v.(type) {
		case Tree:
			size += v.Size()
		case int64:
			size += v
		}
	}

	return size
}
