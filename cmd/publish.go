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
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/pipeline"
)

var (
	sourcePath string
	scopeName  string
	maxPages   int
)

// publishCmd represents the publish command.
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Acquire the dataset and publish it if it changed",
	Long: `Acquire the dataset and publish it if it changed.

The dataset is read from --source, which is either a local JSON file (optionally
gzipped), a directory of <scope>.json[.gz] files, or an http(s) URL of a paged
JSON endpoint.

The scope (academic year) is taken from --scope or $ACADEMIC_YEAR; if neither
is set, the source's current scope is used. --max-pages or $MAX_PAGE limits
how many source pages are read.

If the dataset is identical to the latest published version of its scope,
nothing is written. Otherwise a new version is written, the oldest versions are
pruned so that at most 5 remain, and the path index is rebuilt.

Every run is recorded in the archive's run ledger; see the 'runs' subcommand.`,
	Run: func(_ *cobra.Command, _ []string) {
		acq, req, err := acquisitionFromFlagsAndEnv(sourcePath, scopeName, maxPages)
		if err != nil {
			die("%s", err)
		}

		p, closeLedger, err := openPipeline()
		if err != nil {
			die("%s", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		res, err := p.Run(ctx, acq, req, progressLogger{})

		stop()
		closeLedger()

		if err != nil {
			if errors.Is(err, pipeline.ErrLocked) {
				die("another process is modifying %s", archiveRoot)
			}

			die("publish failed: %s", err)
		}

		info("%s: %s (version %s, %d records)", res.Scope, res.Outcome, res.VersionID, res.Records)
	},
}

// progressLogger logs acquisition progress.
type progressLogger struct{}

func (progressLogger) Fetched(done, total int) {
	appLogger.Debug("fetched source page", "done", done, "total", total)
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sourcePath, "source", "s", "",
		"dataset file, directory or URL (default $"+envSource+")")
	cmd.Flags().StringVarP(&scopeName, "scope", "y", "",
		"academic year to publish (default $"+envScope+" or the source's current one)")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "m", 0,
		"read at most this many source pages (default $"+envMaxPages+" or all)")
}

func init() {
	RootCmd.AddCommand(publishCmd)

	addSourceFlags(publishCmd)
}
