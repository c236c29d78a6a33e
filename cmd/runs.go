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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize" //nolint:misspell
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/runlog"
)

const (
	defaultRuns       = 20
	durationPrecision = time.Millisecond
)

var runsLimit int

// runsCmd represents the runs command.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent publish runs",
	Long: `Show recent publish runs.

Every publish attempt, whether from 'publish' or 'watch', is recorded in a
ledger in the archive root. This lists the most recent, newest first, with what
each run did and any error it hit.`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		setCLIFormat()

		entries, err := runlog.ReadRecent(filepath.Join(archiveRoot, runlog.Basename), runsLimit)
		if err != nil {
			die("%s", err)
		}

		if len(entries) == 0 {
			info("no runs recorded in %s", archiveRoot)

			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Started", "Took", "Scope", "Outcome", "Version", "Records", "Removed", "Error"})

		for _, e := range entries {
			table.Append([]string{
				humanize.Time(e.Started),
				e.Duration().Round(durationPrecision).String(),
				e.Scope,
				e.Outcome,
				e.VersionID,
				humanize.Comma(int64(e.Records)),
				strings.Join(e.Removed, " "),
				e.Error,
			})
		}

		table.Render()
	},
}

func init() {
	RootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "number", "n", defaultRuns, "show this many runs; 0 for all")
}
