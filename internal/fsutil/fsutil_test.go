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

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWrites(t *testing.T) {
	Convey("Given a directory", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "page_1.json")

		Convey("WriteFileSync creates and then truncates a file", func() {
			So(WriteFileSync(path, []byte(`[{"a":"1"},{"a":"2"}]`)), ShouldBeNil)
			So(WriteFileSync(path, []byte(`[]`)), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, `[]`)
		})

		Convey("WriteFileAtomic replaces a file and leaves no temporary files", func() {
			So(WriteFileAtomic(path, []byte(`old`)), ShouldBeNil)
			So(WriteFileAtomic(path, []byte(`new`)), ShouldBeNil)

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "new")

			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})

		Convey("SyncDir syncs an existing directory and fails for a missing one", func() {
			So(SyncDir(dir), ShouldBeNil)
			So(SyncDir(filepath.Join(dir, "missing")), ShouldNotBeNil)
		})

		Convey("WriteFileSync fails in a missing directory", func() {
			So(WriteFileSync(filepath.Join(dir, "missing", "all.json"), nil), ShouldNotBeNil)
			So(Exists(filepath.Join(dir, "missing")), ShouldBeFalse)
		})
	})
}
