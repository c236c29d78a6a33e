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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize" //nolint:misspell
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/index"
	"github.com/wtsi-hgi/coursearchive/manifest"
)

// historyCmd represents the history command.
var historyCmd = &cobra.Command{
	Use:   "history [scope]",
	Short: "Show the published scopes or the versions of one scope",
	Long: `Show the published scopes or the versions of one scope.

With no argument, every scope ever published is listed with its number of kept
versions and details of its latest version.

With a scope argument, each kept version of that scope is listed, oldest first,
with its record and page counts and the disk space it uses.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		setCLIFormat()

		var err error

		if len(args) == 0 {
			err = printScopes()
		} else {
			err = printVersions(args[0])
		}

		if err != nil {
			die("%s", err)
		}
	},
}

func loadScopeManifest(scope string) (*manifest.Scope, error) {
	if err := manifest.ValidateScope(scope); err != nil {
		return nil, err
	}

	return manifest.LoadScope(filepath.Join(archive.ScopeDir(archiveRoot, scope), manifest.Basename))
}

func printScopes() error {
	r, err := manifest.LoadRoot(filepath.Join(archiveRoot, manifest.Basename))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Scope", "Versions", "Latest", "Records", "Updated"})

	for _, scope := range r.Scopes() {
		m, err := loadScopeManifest(scope)
		if err != nil {
			return err
		}

		row := []string{scope, strconv.Itoa(m.Len()), "-", "-", "-"}

		if versions := m.Versions(); len(versions) > 0 {
			latest := versions[len(versions)-1]
			row[2] = latest.ID
			row[3] = recordCount(scope, latest.ID)
			row[4] = humanize.Time(latest.Created)
		}

		table.Append(row)
	}

	table.Render()

	return nil
}

func printVersions(scope string) error {
	m, err := loadScopeManifest(scope)
	if err != nil {
		return err
	}

	if m.Len() == 0 {
		return fmt.Errorf("no versions of %s in %s", scope, archiveRoot) //nolint:err113
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Version", "Created", "Records", "Pages", "Size"})

	for _, v := range m.Versions() {
		dir := archive.VersionDir(archiveRoot, scope, v.ID)
		row := []string{v.ID, humanize.Time(v.Created), "-", "-", "-"}

		if inf, err := archive.ReadInfo(dir); err == nil {
			row[2] = humanize.Comma(int64(inf.RecordCount))
			row[3] = strconv.Itoa(inf.PageCount)
		}

		if tree, err := index.Build(dir); err == nil {
			row[4] = humanize.IBytes(uint64(tree.Size())) //nolint:gosec
		}

		table.Append(row)
	}

	table.Render()

	return nil
}

func recordCount(scope, id string) string {
	inf, err := archive.ReadInfo(archive.VersionDir(archiveRoot, scope, id))
	if err != nil {
		return "-"
	}

	return humanize.Comma(int64(inf.RecordCount))
}

func init() {
	RootCmd.AddCommand(historyCmd)
}
