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

package archive

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/internal/fsutil"
)

// EnsureExports writes a .csv export next to every snapshot JSON file (all.json
// and page_n.json) in the version directory dir that does not already have
// one. Existing exports are never rewritten. It returns the names of the
// exports it created.
func EnsureExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var created []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSnapshotFile(name) {
			continue
		}

		csvName := strings.TrimSuffix(name, jsonExt) + csvExt
		if fsutil.Exists(filepath.Join(dir, csvName)) {
			continue
		}

		if err := exportFile(filepath.Join(dir, name), filepath.Join(dir, csvName)); err != nil {
			return created, err
		}

		created = append(created, csvName)
	}

	return created, nil
}

func isSnapshotFile(name string) bool {
	if name == AllBasename+jsonExt {
		return true
	}

	if filepath.Ext(name) != jsonExt {
		return false
	}

	_, err := PageNumber(name)

	return err == nil
}

func exportFile(jsonPath, csvPath string) error {
	snap, err := loadJSON(jsonPath)
	if err != nil {
		return err
	}

	data, err := EncodeCSV(snap)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(csvPath, data)
}

// EncodeCSV renders snap as CSV. The header is the field names of the first
// record, in order. Fields a later record lacks are left empty, and fields
// not in the header are dropped. Lists and nested records are written as
// compact JSON.
func EncodeCSV(snap dataset.Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	if len(snap) == 0 {
		return nil, nil
	}

	cw := csv.NewWriter(&buf)
	header := snap[0].Keys()

	if err := cw.Write(header); err != nil {
		return nil, err
	}

	row := make([]string, len(header))

	for _, rec := range snap {
		for n, key := range header {
			v, _ := rec.Get(key)

			cell, err := csvCell(v)
			if err != nil {
				return nil, err
			}

			row[n] = cell
		}

		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}

	cw.Flush()

	return buf.Bytes(), cw.Error()
}

func csvCell(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}

		return "false", nil
	}

	b, err := dataset.Marshal(v)

	return string(b), err
}
