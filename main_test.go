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

package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/manifest"
)

const app = "coursearchive_test"

func TestMain(m *testing.M) {
	d1 := buildSelf()
	if d1 == nil {
		return
	}

	defer os.Exit(m.Run())
	defer d1()
}

func buildSelf() func() {
	cmd := exec.Command(
		"go", "build",
		"-ldflags=-X github.com/wtsi-hgi/coursearchive/cmd.Version=TESTVERSION",
		"-o", app,
	)

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		failMainTest(err.Error())

		return nil
	}

	return func() {
		os.Remove(app)
	}
}

func failMainTest(err string) {
	fmt.Println(err) //nolint:forbidigo
}

func TestVersion(t *testing.T) {
	Convey("coursearchive prints the correct version", t, func() {
		output, stderr, err := runCourseArchive("version")
		So(err, ShouldBeNil)
		So(strings.TrimSpace(output), ShouldEqual, "TESTVERSION")
		So(stderr, ShouldBeBlank)
	})
}

func TestPublish(t *testing.T) {
	Convey("Given a directory of gzipped course data", t, func() {
		src := t.TempDir()
		root := filepath.Join(t.TempDir(), "archive")

		writeCourses(t, filepath.Join(src, "2023.json.gz"), 3, "")
		writeCourses(t, filepath.Join(src, "2024.json.gz"), 45, "")

		Convey("publish writes a version of the newest scope", func() {
			_, stderr, err := runCourseArchive("publish", "--root", root, "--source", src)
			So(err, ShouldBeNil)
			So(stderr, ShouldContainSubstring, "2024: published")

			compareFileContents(t, filepath.Join(root, manifest.Basename), `["2024"]`)

			m, err := manifest.LoadScope(filepath.Join(root, "2024", manifest.Basename))
			So(err, ShouldBeNil)
			So(m.Len(), ShouldEqual, 1)

			dir := archive.VersionDir(root, "2024", m.Latest())

			inf, err := archive.ReadInfo(dir)
			So(err, ShouldBeNil)
			So(inf.RecordCount, ShouldEqual, 45)
			So(inf.PageCount, ShouldEqual, 3)

			compareFileContents(t, filepath.Join(dir, archive.DiffBasename), "Initial snapshot: 45 records.\n")

			for _, name := range []string{"all.json", "all.csv", "page_3.json", "page_3.csv"} {
				_, err = os.Stat(filepath.Join(dir, name))
				So(err, ShouldBeNil)
			}

			var paths map[string]any

			data, err := os.ReadFile(filepath.Join(root, "paths.json"))
			So(err, ShouldBeNil)
			So(json.Unmarshal(data, &paths), ShouldBeNil)
			So(paths, ShouldContainKey, "2024")
			So(paths, ShouldContainKey, manifest.Basename)

			Convey("publishing the same data again changes nothing", func() {
				_, stderr, err = runCourseArchive("publish", "--root", root, "--source", src, "--scope", "2024")
				So(err, ShouldBeNil)
				So(stderr, ShouldContainSubstring, "2024: unchanged")

				m, err = manifest.LoadScope(filepath.Join(root, "2024", manifest.Basename))
				So(err, ShouldBeNil)
				So(m.Len(), ShouldEqual, 1)

				Convey("while changed data gets a new version which diff describes", func() {
					time.Sleep(time.Second)
					writeCourses(t, filepath.Join(src, "2024.json.gz"), 45, "Advanced ")

					_, stderr, err = runCourseArchive("publish", "--root", root, "--source", src, "--scope", "2024")
					So(err, ShouldBeNil)
					So(stderr, ShouldContainSubstring, "2024: published")

					stdout, _, err := runCourseArchive("diff", "--root", root, "2024")
					So(err, ShouldBeNil)
					So(stdout, ShouldContainSubstring, "Advanced Course 1")

					stdout, _, err = runCourseArchive("history", "--root", root, "2024")
					So(err, ShouldBeNil)
					So(stdout, ShouldContainSubstring, m.Latest())

					stdout, _, err = runCourseArchive("runs", "--root", root)
					So(err, ShouldBeNil)
					So(strings.Count(stdout, "published"), ShouldEqual, 2)
					So(stdout, ShouldContainSubstring, "unchanged")
				})
			})

			Convey("prune --view lists orphaned version directories", func() {
				orphan := filepath.Join(root, "2024", "20200101000000")
				So(os.Mkdir(orphan, 0755), ShouldBeNil)

				stdout, _, err := runCourseArchive("prune", "--root", root, "--view")
				So(err, ShouldBeNil)
				So(stdout, ShouldEqual, "2024/20200101000000\n")

				_, err = os.Stat(orphan)
				So(err, ShouldBeNil)

				_, stderr, err = runCourseArchive("prune", "--root", root)
				So(err, ShouldBeNil)
				So(stderr, ShouldContainSubstring, "20200101000000")

				_, err = os.Stat(orphan)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("a later failed publish is recorded in the run ledger", func() {
				_, stderr, err = runCourseArchive("publish", "--root", root, "--source", src, "--scope", "1999")
				So(err, ShouldNotBeNil)
				So(stderr, ShouldContainSubstring, "publish failed")

				stdout, _, err := runCourseArchive("runs", "--root", root)
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "failed")
				So(stdout, ShouldContainSubstring, "published")
			})

			Convey("index rebuilds the path index", func() {
				So(os.Remove(filepath.Join(root, "paths.json")), ShouldBeNil)

				_, stderr, err = runCourseArchive("index", "--root", root)
				So(err, ShouldBeNil)
				So(stderr, ShouldContainSubstring, "indexed 12 files")

				_, err = os.Stat(filepath.Join(root, "paths.json"))
				So(err, ShouldBeNil)
			})
		})

		Convey("publish of an unknown scope fails without creating the archive", func() {
			_, stderr, err := runCourseArchive("publish", "--root", root, "--source", src, "--scope", "1999")
			So(err, ShouldNotBeNil)
			So(stderr, ShouldContainSubstring, "publish failed")

			_, err = os.Stat(root)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("the scope can be given in the environment", func() {
			t.Setenv("ACADEMIC_YEAR", "2023")

			_, stderr, err := runCourseArchive("publish", "--root", root, "--source", src)
			So(err, ShouldBeNil)
			So(stderr, ShouldContainSubstring, "2023: published")
		})
	})
}

func writeCourses(t *testing.T, path string, n int, prefix string) {
	t.Helper()

	f, err := os.Create(path)
	So(err, ShouldBeNil)

	gz := gzip.NewWriter(f)

	courses := make([]map[string]any, n)
	for i := range courses {
		courses[i] = map[string]any{"code": fmt.Sprintf("C%03d", i+1), "title": fmt.Sprintf("%sCourse %d", prefix, i+1)}
	}

	So(json.NewEncoder(gz).Encode(courses), ShouldBeNil)
	So(gz.Close(), ShouldBeNil)
	So(f.Close(), ShouldBeNil)
}

func runCourseArchive(args ...string) (string, string, error) {
	var stdout, stderr strings.Builder

	cmd := exec.CommandContext(context.Background(), "./"+app, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func compareFileContents(t *testing.T, path, expectation string) {
	t.Helper()

	contents, err := os.ReadFile(path)
	So(err, ShouldBeNil)

	So(string(contents), ShouldEqual, expectation)
}
