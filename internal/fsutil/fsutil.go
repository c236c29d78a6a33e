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

// Package fsutil contains small filesystem helpers shared by the archive
// packages.
package fsutil

import (
	"os"
	"path/filepath"
)

const (
	// DirPerms are the permissions used for every directory in the archive.
	DirPerms = 0755

	// FilePerms are the permissions used for every file in the archive.
	FilePerms = 0644
)

// WriteFileAtomic writes data to a temporary file next to path and then
// renames it over path, so readers only ever see the old or the new contents.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return err
	}

	if err = f.Chmod(FilePerms); err != nil {
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	if err = os.Rename(f.Name(), path); err != nil {
		return err
	}

	return SyncDir(dir)
}

// WriteFileSync creates or truncates path, writes data to it and syncs it to
// disk before closing.
func WriteFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePerms)
	if err != nil {
		return err
	}

	if _, err = f.Write(data); err != nil {
		f.Close()

		return err
	}

	if err = f.Sync(); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

// SyncDir syncs the directory entries of dir to disk, making prior creates
// and renames within it durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}

	if err = d.Sync(); err != nil {
		d.Close()

		return err
	}

	return d.Close()
}

// Exists returns true if something exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
