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
	"time"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/pipeline"
	"github.com/wtsi-hgi/coursearchive/watch"
)

var watchInterval time.Duration

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Publish the dataset periodically",
	Long: `Publish the dataset periodically.

This does what 'publish' does immediately, and then again every --interval
until interrupted. It takes the same source, scope and page options.

A failed run is logged and does not stop watching. If the archive is locked by
another process when a run is due, that run is skipped.`,
	Run: func(_ *cobra.Command, _ []string) {
		acq, req, err := acquisitionFromFlagsAndEnv(sourcePath, scopeName, maxPages)
		if err != nil {
			die("%s", err)
		}

		p, closeLedger, err := openPipeline()
		if err != nil {
			die("%s", err)
		}

		defer closeLedger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := watch.RunnerFunc(func(ctx context.Context) (*pipeline.Result, error) {
			return p.Run(ctx, acq, req, progressLogger{})
		})

		if err := watch.Watch(ctx, runner, watchInterval, appLogger); err != nil && !errors.Is(err, context.Canceled) {
			die("%s", err)
		}

		info("stopped watching")
	},
}

func init() {
	RootCmd.AddCommand(watchCmd)

	addSourceFlags(watchCmd)
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", watch.DefaultInterval, "time between runs")
}
