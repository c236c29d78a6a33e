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

// Package watch runs the publishing pipeline periodically.
package watch

import (
	"context"
	"errors"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/wtsi-hgi/coursearchive/pipeline"
)

// DefaultInterval is how long Watch waits between runs if not told otherwise.
const DefaultInterval = time.Hour

// Runner performs one publishing run.
type Runner interface {
	RunOnce(ctx context.Context) (*pipeline.Result, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context) (*pipeline.Result, error)

// RunOnce calls f.
func (f RunnerFunc) RunOnce(ctx context.Context) (*pipeline.Result, error) {
	return f(ctx)
}

var newTicker = func(d time.Duration) (<-chan time.Time, func()) { //nolint:gochecknoglobals
	t := time.NewTicker(d)

	return t.C, t.Stop
}

// Watch runs r immediately and then once per interval until ctx is cancelled.
// Runs never overlap: a tick that arrives while a run is in progress is
// dropped. Failed runs are logged and do not stop watching.
//
// Watch returns ctx's error once it is done.
func Watch(ctx context.Context, r Runner, interval time.Duration, logger log15.Logger) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticks, stop := newTicker(interval)
	defer stop()

	for {
		runOnce(ctx, r, logger)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
		}
	}
}

func runOnce(ctx context.Context, r Runner, logger log15.Logger) {
	if ctx.Err() != nil {
		return
	}

	res, err := r.RunOnce(ctx)

	switch {
	case errors.Is(err, pipeline.ErrLocked):
		logger.Warn("archive busy; skipping run")
	case errors.Is(err, context.Canceled):
		logger.Info("run cancelled")
	case err != nil:
		logger.Error("run failed", "err", err)
	case res != nil:
		logger.Info("run complete", "scope", res.Scope, "outcome", res.Outcome, "version", res.VersionID)
	}
}
