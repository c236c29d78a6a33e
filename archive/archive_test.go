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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/diff"
)

const testID = "20240101000000"

func courses(n int) dataset.Snapshot {
	snap := make(dataset.Snapshot, n)
	for i := range snap {
		snap[i] = dataset.NewRecord().
			Set("Number", fmt.Sprintf("C%03d", i)).
			Set("Name", fmt.Sprintf("Course %d", i)).
			Set("Credits", i%4+1)
	}

	return snap
}

func TestPublish(t *testing.T) {
	Convey("Given a writer with a page size of 20", t, func() {
		root := t.TempDir()
		w := &Writer{Root: root, PageSize: 20}
		snap := courses(45)

		Convey("publishing 45 records writes 3 pages with exports", func() {
			a, err := w.Publish("2024", testID, snap, diff.Diff(nil, snap))
			So(err, ShouldBeNil)
			So(a.Dir, ShouldEqual, filepath.Join(root, "2024", testID))
			So(a.Info, ShouldResemble, Info{PageCount: 3, PageSize: 20, RecordCount: 45, Updated: testID})
			So(a.Files, ShouldResemble, []string{
				"all.json", "page_1.json", "page_2.json", "page_3.json",
				"all.csv", "page_1.csv", "page_2.csv", "page_3.csv",
				"info.json", "diff.txt",
			})

			entries, err := os.ReadDir(filepath.Join(root, "2024"))
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].Name(), ShouldEqual, testID)

			info, err := os.ReadFile(filepath.Join(a.Dir, InfoBasename))
			So(err, ShouldBeNil)
			So(string(info), ShouldEqual, `{"page_count":3,"page_size":20,"record_count":45,"updated":"20240101000000"}`)

			readInfo, err := ReadInfo(a.Dir)
			So(err, ShouldBeNil)
			So(*readInfo, ShouldResemble, a.Info)

			d, err := os.ReadFile(filepath.Join(a.Dir, DiffBasename))
			So(err, ShouldBeNil)
			So(string(d), ShouldEqual, "Initial snapshot: 45 records.\n")

			Convey("and the pages concatenate to the full snapshot", func() {
				all, err := os.ReadFile(filepath.Join(a.Dir, "all.json"))
				So(err, ShouldBeNil)
				So(bytes.HasSuffix(all, []byte("\n")), ShouldBeFalse)

				pages, err := LoadPages(a.Dir)
				So(err, ShouldBeNil)
				So(len(pages), ShouldEqual, 3)
				So(len(pages[0]), ShouldEqual, 20)
				So(len(pages[1]), ShouldEqual, 20)
				So(len(pages[2]), ShouldEqual, 5)

				var joined dataset.Snapshot
				for _, page := range pages {
					joined = append(joined, page...)
				}

				rejoined, err := dataset.Marshal(joined)
				So(err, ShouldBeNil)
				So(string(rejoined), ShouldEqual, string(all))

				loaded, err := LoadSnapshot(root, "2024", testID)
				So(err, ShouldBeNil)
				So(len(loaded), ShouldEqual, 45)
			})

			Convey("and the CSV exports have a header and one row per record", func() {
				data, err := os.ReadFile(filepath.Join(a.Dir, "page_3.csv"))
				So(err, ShouldBeNil)

				lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
				So(len(lines), ShouldEqual, 6)
				So(lines[0], ShouldEqual, "Number,Name,Credits")
				So(lines[1], ShouldEqual, "C040,Course 40,1")
			})

			Convey("and publishing the same id again fails", func() {
				_, err := w.Publish("2024", testID, snap, nil)
				So(errors.Is(err, ErrVersionExists), ShouldBeTrue)
			})
		})

		Convey("a nil report gives an empty diff.txt", func() {
			a, err := w.Publish("2024", testID, snap[:1], nil)
			So(err, ShouldBeNil)
			So(a.Info.PageCount, ShouldEqual, 1)

			d, err := os.ReadFile(filepath.Join(a.Dir, DiffBasename))
			So(err, ShouldBeNil)
			So(d, ShouldBeEmpty)
		})

		Convey("an empty snapshot writes nothing", func() {
			_, err := w.Publish("2024", testID, dataset.Snapshot{}, nil)
			So(err, ShouldEqual, ErrEmptySnapshot)

			_, err = os.Stat(filepath.Join(root, "2024"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("a write failure leaves neither a staging nor a version dir", func() {
			snap[30].Set("bad", make(chan int))

			_, err := w.Publish("2024", testID, snap, nil)
			So(err, ShouldNotBeNil)

			entries, err := os.ReadDir(filepath.Join(root, "2024"))
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})
	})
}

func TestExports(t *testing.T) {
	Convey("EnsureExports never rewrites an existing export", t, func() {
		root := t.TempDir()
		w := &Writer{Root: root, PageSize: 2}

		a, err := w.Publish("s", testID, courses(3), nil)
		So(err, ShouldBeNil)

		page1 := filepath.Join(a.Dir, "page_1.csv")
		So(os.WriteFile(page1, []byte("edited"), 0600), ShouldBeNil)
		So(os.Remove(filepath.Join(a.Dir, "page_2.csv")), ShouldBeNil)

		created, err := EnsureExports(a.Dir)
		So(err, ShouldBeNil)
		So(created, ShouldResemble, []string{"page_2.csv"})

		data, err := os.ReadFile(page1)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "edited")

		created, err = EnsureExports(a.Dir)
		So(err, ShouldBeNil)
		So(created, ShouldBeEmpty)
	})

	Convey("EncodeCSV follows the first record's fields", t, func() {
		snap := dataset.Snapshot{
			dataset.NewRecord().
				Set("Name", "Intro, part 1").
				Set("Tags", []string{"a", "b"}).
				Set("Open", true).
				Set("Room", nil),
			dataset.NewRecord().
				Set("Extra", "dropped").
				Set("Name", `say "hi"`).
				Set("Open", false),
		}

		data, err := EncodeCSV(snap)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "Name,Tags,Open,Room\n"+
			`"Intro, part 1","[""a"",""b""]",true,`+"\n"+
			`"say ""hi""",,false,`+"\n")

		data, err = EncodeCSV(nil)
		So(err, ShouldBeNil)
		So(data, ShouldBeEmpty)
	})

	Convey("PageNumber parses page file names", t, func() {
		n, err := PageNumber("page_12.json")
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 12)

		_, err = PageNumber("all.json")
		So(err, ShouldEqual, ErrBadPageName)

		_, err = PageNumber("page_0.csv")
		So(err, ShouldEqual, ErrBadPageName)
	})
}
