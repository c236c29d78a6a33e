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

package acquire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/wtsi-hgi/coursearchive/dataset"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxAttempts = 3
	defaultConcurrency = 4
	defaultMinBackoff  = 500 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
	maxResponseBytes   = 64 << 20
)

// HTTPSource fetches a dataset from a paginated JSON endpoint. Page n of a
// scope is requested as GET <BaseURL>?page=n&scope=<scope> and must return
//
//	{"scope": "...", "page_count": N, "records": [{...}, ...]}
//
// The first page is fetched alone to learn the scope and the number of pages;
// the rest are fetched concurrently and reassembled in page order.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client

	// MaxAttempts bounds how many times a page is requested before giving up.
	MaxAttempts int

	// Concurrency bounds how many pages are fetched at once.
	Concurrency int

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type pageResponse struct {
	Scope     string          `json:"scope"`
	PageCount int             `json:"page_count"`
	Records   json.RawMessage `json:"records"`
}

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return "unexpected status: " + strconv.Itoa(e.code) + " " + http.StatusText(e.code)
}

// Acquire implements Acquirer.
func (h *HTTPSource) Acquire(ctx context.Context, req Request, progress Progress) (*Result, error) {
	progress = progressOrNop(progress)

	first, records, err := h.fetchPage(ctx, req.Scope, 1)
	if err != nil {
		return nil, err
	}

	scope, err := resolveScope(req.Scope, first.Scope)
	if err != nil {
		return nil, err
	}

	total := max(first.PageCount, 1)
	if req.MaxPages > 0 {
		total = min(total, req.MaxPages)
	}

	pages := make([]dataset.Snapshot, total)
	pages[0] = records

	var (
		mu   sync.Mutex
		done = 1
	)

	progress.Fetched(done, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency())

	for n := 2; n <= total; n++ {
		g.Go(func() error {
			_, recs, err := h.fetchPage(gctx, scope, n)
			if err != nil {
				return fmt.Errorf("page %d: %w", n, err)
			}

			pages[n-1] = recs

			mu.Lock()
			done++
			progress.Fetched(done, total)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all dataset.Snapshot
	for _, page := range pages {
		all = append(all, page...)
	}

	return &Result{Scope: scope, Records: all}, nil
}

func resolveScope(requested, reported string) (string, error) {
	switch {
	case requested == "" && reported == "":
		return "", fmt.Errorf("source reported no scope: %w", ErrInvalidScope)
	case requested == "":
		return reported, validate(reported)
	case reported != "" && reported != requested:
		return "", fmt.Errorf("requested %q, source has %q: %w", requested, reported, ErrInvalidScope)
	}

	return requested, validate(requested)
}

func (h *HTTPSource) concurrency() int {
	if h.Concurrency <= 0 {
		return defaultConcurrency
	}

	return h.Concurrency
}

func (h *HTTPSource) maxAttempts() int {
	if h.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}

	return h.MaxAttempts
}

func (h *HTTPSource) backoff() *backoff.Backoff {
	b := &backoff.Backoff{
		Min:    h.MinBackoff,
		Max:    h.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	if b.Min <= 0 {
		b.Min = defaultMinBackoff
	}

	if b.Max <= 0 {
		b.Max = defaultMaxBackoff
	}

	return b
}

// fetchPage requests a page, retrying transient failures with exponential
// backoff until MaxAttempts is reached.
func (h *HTTPSource) fetchPage(ctx context.Context, scope string, n int) (*pageResponse, dataset.Snapshot, error) {
	b := h.backoff()

	for attempt := 1; ; attempt++ {
		resp, records, err := h.getPage(ctx, scope, n)
		if err == nil {
			return resp, records, nil
		}

		if !retryable(err) {
			return nil, nil, err
		}

		if attempt >= h.maxAttempts() {
			return nil, nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError || se.code == http.StatusTooManyRequests
	}

	return !errors.Is(err, ErrBadResponse) && !errors.Is(err, ErrInvalidScope)
}

func (h *HTTPSource) pageURL(scope string, n int) (string, error) {
	u, err := url.Parse(h.BaseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("page", strconv.Itoa(n))

	if scope != "" {
		q.Set("scope", scope)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (h *HTTPSource) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}

	return h.Client
}

func (h *HTTPSource) getPage(ctx context.Context, scope string, n int) (*pageResponse, dataset.Snapshot, error) {
	u, err := h.pageURL(scope, n)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("Accept", "application/json")

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, fmt.Errorf("%q: %w", scope, ErrInvalidScope)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, statusError{code: resp.StatusCode}
	}

	return decodePage(io.LimitReader(resp.Body, maxResponseBytes))
}

func decodePage(r io.Reader) (*pageResponse, dataset.Snapshot, error) {
	var page pageResponse

	if err := json.NewDecoder(r).Decode(&page); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	if page.PageCount < 0 || len(page.Records) == 0 {
		return nil, nil, fmt.Errorf("%w: missing records", ErrBadResponse)
	}

	records, err := dataset.Decode(bytes.NewReader(page.Records))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	return &page, records, nil
}
