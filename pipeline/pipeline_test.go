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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/fslock"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/wtsi-hgi/coursearchive/acquire"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/dataset"
	"github.com/wtsi-hgi/coursearchive/index"
	"github.com/wtsi-hgi/coursearchive/manifest"
	"github.com/wtsi-hgi/coursearchive/runlog"
)

const testScope = "2024"

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance() { c.t = c.t.Add(time.Hour) }

type staticSource struct {
	scope   string
	records dataset.Snapshot
	err     error
}

func (s *staticSource) Acquire(_ context.Context, _ acquire.Request, p acquire.Progress) (*acquire.Result, error) {
	if s.err != nil {
		return nil, s.err
	}

	if p != nil {
		p.Fetched(1, 1)
	}

	return &acquire.Result{Scope: s.scope, Records: s.records}, nil
}

func courses(n int) dataset.Snapshot {
	snap := make(dataset.Snapshot, n)
	for i := range snap {
		snap[i] = dataset.NewRecord().
			Set("Number", fmt.Sprintf("C%03d", i)).
			Set("Name", fmt.Sprintf("Course %d", i)).
			Set("Lecturer", "Lecturer A")
	}

	return snap
}

func versionDirs(root string) []string {
	entries, err := os.ReadDir(filepath.Join(root, testScope))
	So(err, ShouldBeNil)

	var dirs []string

	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}

	return dirs
}

func loadScope(root string) *manifest.Scope {
	m, err := manifest.LoadScope(filepath.Join(root, testScope, manifest.Basename))
	So(err, ShouldBeNil)

	return m
}

func TestPipeline(t *testing.T) {
	Convey("Given a pipeline on an empty archive", t, func() {
		root := filepath.Join(t.TempDir(), "data")
		c := &clock{t: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
		p := New(Config{Root: root, Now: c.now})
		ctx := context.Background()

		v1 := c.t.Format(manifest.VersionIDFormat)

		res, err := p.Run(ctx, &staticSource{scope: testScope, records: courses(45)}, acquire.Request{}, nil)
		So(err, ShouldBeNil)

		Convey("the first run publishes a complete version", func() {
			So(res.Outcome, ShouldEqual, OutcomePublished)
			So(res.VersionID, ShouldEqual, v1)
			So(res.Report.Initial, ShouldBeTrue)

			So(loadScope(root).IDs(), ShouldResemble, []string{v1})

			rootManifest, err := os.ReadFile(filepath.Join(root, manifest.Basename))
			So(err, ShouldBeNil)
			So(string(rootManifest), ShouldEqual, `["2024"]`)

			entries, err := os.ReadDir(filepath.Join(root, testScope, v1))
			So(err, ShouldBeNil)

			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}

			So(names, ShouldResemble, []string{
				"all.csv", "all.json", "diff.txt", "info.json",
				"page_1.csv", "page_1.json", "page_2.csv", "page_2.json", "page_3.csv", "page_3.json",
			})

			info, err := archive.ReadInfo(filepath.Join(root, testScope, v1))
			So(err, ShouldBeNil)
			So(info.PageCount, ShouldEqual, 3)
			So(info.RecordCount, ShouldEqual, 45)

			tree, err := index.Build(root)
			So(err, ShouldBeNil)

			written, err := os.ReadFile(filepath.Join(root, index.Basename))
			So(err, ShouldBeNil)

			expected, err := dataset.Marshal(tree)
			So(err, ShouldBeNil)
			So(string(written), ShouldEqual, string(expected))
		})

		Convey("publishing the same data again changes nothing", func() {
			before, err := os.ReadFile(filepath.Join(root, index.Basename))
			So(err, ShouldBeNil)

			c.advance()

			res, err := p.Publish(testScope, courses(45))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, OutcomeUnchanged)
			So(res.VersionID, ShouldEqual, v1)
			So(loadScope(root).Len(), ShouldEqual, 1)
			So(versionDirs(root), ShouldResemble, []string{v1})

			after, err := os.ReadFile(filepath.Join(root, index.Basename))
			So(err, ShouldBeNil)
			So(string(after), ShouldEqual, string(before))
		})

		Convey("publishing one more record creates a second version with a diff", func() {
			c.advance()

			res, err := p.Publish(testScope, courses(46))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, OutcomePublished)

			v2 := c.t.Format(manifest.VersionIDFormat)
			So(res.VersionID, ShouldEqual, v2)
			So(loadScope(root).IDs(), ShouldResemble, []string{v1, v2})

			d, err := os.ReadFile(filepath.Join(root, testScope, v2, archive.DiffBasename))
			So(err, ShouldBeNil)
			So(string(d), ShouldStartWith, "45 -> 46 records: 1 added, 0 removed, 0 changed.\nItem root[45] added: ")

			Convey("and six more distinct versions leave only the newest five", func() {
				var ids []string

				for n := range 6 {
					c.advance()

					res, err := p.Publish(testScope, courses(47+n))
					So(err, ShouldBeNil)
					So(res.Outcome, ShouldEqual, OutcomePublished)

					ids = append(ids, res.VersionID)

					So(loadScope(root).Len(), ShouldBeLessThanOrEqualTo, DefaultMaxHistory)
				}

				m := loadScope(root)
				So(m.IDs(), ShouldResemble, ids[1:])
				So(versionDirs(root), ShouldResemble, ids[1:])

				_, err := os.Stat(filepath.Join(root, testScope, v1))
				So(os.IsNotExist(err), ShouldBeTrue)

				paths, err := os.ReadFile(filepath.Join(root, index.Basename))
				So(err, ShouldBeNil)
				So(string(paths), ShouldNotContainSubstring, v1)
				So(string(paths), ShouldNotContainSubstring, v2)
				So(string(paths), ShouldContainSubstring, ids[5])

				rootManifest, err := manifest.LoadRoot(filepath.Join(root, manifest.Basename))
				So(err, ShouldBeNil)
				So(rootManifest.Scopes(), ShouldResemble, []string{testScope})
			})
		})

		Convey("a changed dataset in the same second is a collision", func() {
			res, err := p.Publish(testScope, courses(46))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, OutcomeCollision)
			So(res.VersionID, ShouldEqual, v1)
			So(loadScope(root).Len(), ShouldEqual, 1)
		})

		Convey("a second scope is added to the root manifest", func() {
			c.advance()

			_, err := p.Publish("2025", courses(1))
			So(err, ShouldBeNil)

			r, err := manifest.LoadRoot(filepath.Join(root, manifest.Basename))
			So(err, ShouldBeNil)
			So(r.Scopes(), ShouldResemble, []string{testScope, "2025"})
		})

		Convey("staging directories left by an interrupted publish are removed", func() {
			staging := filepath.Join(root, testScope, ".20240901130000")
			So(os.MkdirAll(staging, 0755), ShouldBeNil)

			c.advance()

			_, err := p.Publish(testScope, courses(46))
			So(err, ShouldBeNil)

			_, err = os.Stat(staging)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("a failed manifest commit removes the new version", func() {
			c.advance()
			v2 := c.t.Format(manifest.VersionIDFormat)

			errSave := errors.New("disk full")

			saveScope = func(m *manifest.Scope, path string) error {
				if m.Has(v2) {
					return errSave
				}

				return m.Save(path)
			}

			defer func() {
				saveScope = func(m *manifest.Scope, path string) error { return m.Save(path) }
			}()

			res, err := p.Publish(testScope, courses(46))
			So(errors.Is(err, errSave), ShouldBeTrue)
			So(res.VersionID, ShouldEqual, v2)
			So(res.Outcome, ShouldNotEqual, OutcomePublished)

			_, err = os.Stat(filepath.Join(root, testScope, v2))
			So(os.IsNotExist(err), ShouldBeTrue)

			So(loadScope(root).IDs(), ShouldResemble, []string{v1})
			So(versionDirs(root), ShouldResemble, []string{v1})
		})

		Convey("a held archive lock stops publishing", func() {
			l := fslock.New(filepath.Join(root, LockBasename))
			So(l.TryLock(), ShouldBeNil)

			defer l.Unlock() //nolint:errcheck

			c.advance()

			_, err := p.Publish(testScope, courses(46))
			So(err, ShouldEqual, ErrLocked)
			So(loadScope(root).Len(), ShouldEqual, 1)
		})

		Convey("Maintain prunes, removes orphans and restores exports", func() {
			for n := range 3 {
				c.advance()

				_, err := p.Publish(testScope, courses(50+n))
				So(err, ShouldBeNil)
			}

			ids := loadScope(root).IDs()
			So(len(ids), ShouldEqual, 4)

			orphan := "20200101000000"
			So(os.Mkdir(filepath.Join(root, testScope, orphan), 0755), ShouldBeNil)

			latest := ids[3]
			So(os.Remove(filepath.Join(root, testScope, latest, "page_2.csv")), ShouldBeNil)

			Convey("a dry run changes nothing", func() {
				plan, err := p.Maintain(nil, 2, true)
				So(err, ShouldBeNil)
				So(len(plan), ShouldEqual, 1)
				So(plan[0].Pruned, ShouldResemble, ids[:2])
				So(plan[0].Orphans, ShouldResemble, []string{orphan})
				So(loadScope(root).Len(), ShouldEqual, 4)
			})

			Convey("a real run applies the plan", func() {
				done, err := p.Maintain(nil, 2, false)
				So(err, ShouldBeNil)
				So(len(done), ShouldEqual, 1)
				So(done[0].Pruned, ShouldResemble, ids[:2])
				So(done[0].Orphans, ShouldResemble, []string{orphan})
				So(done[0].Exports, ShouldResemble, []string{filepath.Join(latest, "page_2.csv")})

				So(loadScope(root).IDs(), ShouldResemble, ids[2:])
				So(versionDirs(root), ShouldResemble, ids[2:])

				paths, err := os.ReadFile(filepath.Join(root, index.Basename))
				So(err, ShouldBeNil)
				So(string(paths), ShouldNotContainSubstring, ids[0])
				So(string(paths), ShouldNotContainSubstring, orphan)
			})
		})

		Convey("RebuildIndex reflects files removed outside the pipeline", func() {
			So(os.Remove(filepath.Join(root, testScope, v1, archive.DiffBasename)), ShouldBeNil)

			tree, err := p.RebuildIndex()
			So(err, ShouldBeNil)

			for _, f := range tree.Files() {
				So(strings.HasSuffix(f, archive.DiffBasename), ShouldBeFalse)
			}
		})
	})

	Convey("Failures leave the archive untouched", t, func() {
		root := filepath.Join(t.TempDir(), "data")

		l, err := runlog.Open(filepath.Join(root, runlog.Basename))
		So(err, ShouldBeNil)

		p := New(Config{Root: root, RunLog: l})

		Convey("when acquisition fails", func() {
			cause := errors.New("captcha not solved")

			_, err := p.Run(context.Background(), &staticSource{err: cause}, acquire.Request{Scope: testScope}, nil)
			So(errors.Is(err, ErrAcquisition), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)

			_, err = os.Stat(root)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("when the dataset is empty", func() {
			_, err := p.Run(context.Background(), &staticSource{scope: testScope}, acquire.Request{}, nil)
			So(err, ShouldEqual, ErrEmptyDataset)

			_, err = os.Stat(root)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("when the scope is invalid", func() {
			_, err := p.Publish("../escape", courses(1))
			So(errors.Is(err, manifest.ErrInvalidScope), ShouldBeTrue)

			_, err = os.Stat(root)
			So(os.IsNotExist(err), ShouldBeTrue)
		})
	})

	Convey("Runs are recorded in the run ledger", t, func() {
		dir := t.TempDir()

		l, err := runlog.Open(filepath.Join(dir, runlog.Basename))
		So(err, ShouldBeNil)

		defer l.Close()

		c := &clock{t: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
		p := New(Config{Root: filepath.Join(dir, "data"), Now: c.now, RunLog: l})
		src := &staticSource{scope: testScope, records: courses(3)}

		_, err = p.Run(context.Background(), src, acquire.Request{}, nil)
		So(err, ShouldBeNil)

		c.advance()

		_, err = p.Run(context.Background(), src, acquire.Request{}, nil)
		So(err, ShouldBeNil)

		c.advance()

		_, err = p.Run(context.Background(), &staticSource{err: errors.New("down")}, acquire.Request{}, nil)
		So(err, ShouldNotBeNil)

		entries, err := l.Recent(0)
		So(err, ShouldBeNil)
		So(len(entries), ShouldEqual, 3)
		So(entries[0].Outcome, ShouldEqual, string(OutcomeFailed))
		So(entries[0].Error, ShouldContainSubstring, "down")
		So(entries[1].Outcome, ShouldEqual, string(OutcomeUnchanged))
		So(entries[2].Outcome, ShouldEqual, string(OutcomePublished))
		So(entries[2].Records, ShouldEqual, 3)
		So(entries[2].VersionID, ShouldEqual, "20240901120000")
	})
}
