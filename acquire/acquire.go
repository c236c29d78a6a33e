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

// Package acquire defines how a dataset is obtained for publishing, and
// provides sources that read it from local JSON files or fetch it page by page
// from an HTTP JSON endpoint.
package acquire

import (
	"context"
	"strconv"
	"strings"

	"github.com/wtsi-hgi/coursearchive/dataset"
)

// Error is the type of the constant Err* variables.
type Error string

// Error returns a string version of the error.
func (e Error) Error() string { return string(e) }

const (
	ErrInvalidScope     = Error("scope could not be resolved")
	ErrRetriesExhausted = Error("retries exhausted")
	ErrBadResponse      = Error("malformed source response")
)

// Request says what to acquire. An empty Scope lets the source pick the
// current one. MaxPages, if positive, caps how many source pages are read.
type Request struct {
	Scope    string
	MaxPages int
}

// Result is a fully acquired dataset and the scope it belongs to.
type Result struct {
	Scope   string
	Records dataset.Snapshot
}

// Progress receives updates as source pages are acquired.
type Progress interface {
	Fetched(done, total int)
}

// Acquirer obtains a complete dataset. Implementations must either return the
// whole dataset or an error; partial results are never returned.
type Acquirer interface {
	Acquire(ctx context.Context, req Request, progress Progress) (*Result, error)
}

type noProgress struct{}

func (noProgress) Fetched(int, int) {}

func progressOrNop(p Progress) Progress {
	if p == nil {
		return noProgress{}
	}

	return p
}

// compareScopes orders scope names numerically when both are integers, with
// numeric names newer than non-numeric ones, and lexically otherwise.
func compareScopes(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)

	switch {
	case aErr == nil && bErr == nil:
		return ai - bi
	case aErr == nil:
		return 1
	case bErr == nil:
		return -1
	default:
		return strings.Compare(a, b)
	}
}
