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
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wtsi-hgi/coursearchive/acquire"
	"github.com/wtsi-hgi/coursearchive/pipeline"
	"github.com/wtsi-hgi/coursearchive/runlog"
)

const (
	envScope    = "ACADEMIC_YEAR"
	envMaxPages = "MAX_PAGE"
	envRoot     = "COURSEARCHIVE_ROOT"
	envSource   = "COURSEARCHIVE_SOURCE"

	httpTimeout = time.Minute
)

var errSourceRequired = errors.New("a dataset source is required (--source or $" + envSource + ")")

var dotEnvKeys = []string{ //nolint:gochecknoglobals
	envScope,
	envMaxPages,
	envRoot,
	envSource,
}

// loadDotEnv sets our settings from .env and then .env.local in the current
// directory, without overriding anything already set in the environment.
func loadDotEnv() {
	orig := originalEnvKeys(dotEnvKeys)

	loadDotEnvFile(".env", orig)
	loadDotEnvFile(".env.local", orig)
}

func originalEnvKeys(keys []string) map[string]struct{} {
	orig := map[string]struct{}{}

	for _, key := range keys {
		if _, ok := os.LookupEnv(key); ok {
			orig[key] = struct{}{}
		}
	}

	return orig
}

func loadDotEnvFile(path string, orig map[string]struct{}) {
	env, err := godotenv.Read(path)
	if err != nil {
		return
	}

	for _, key := range dotEnvKeys {
		val, ok := env[key]
		if !ok {
			continue
		}

		if _, ok := orig[key]; ok {
			continue
		}

		_ = os.Setenv(key, val)
	}
}

func flagOrEnv(flagValue string, envKey string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}

	return strings.TrimSpace(os.Getenv(envKey))
}

func rootFromFlagOrEnv(flagValue string) string {
	if root := flagOrEnv(flagValue, envRoot); root != "" {
		return root
	}

	return pipeline.DefaultRoot
}

// intFlagOrEnv returns flagValue if positive, otherwise the non-negative
// integer in envKey, or 0 if that is unset.
func intFlagOrEnv(flagValue int, envKey string) (int, error) {
	if flagValue > 0 {
		return flagValue, nil
	}

	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number in %s: %q", envKey, v) //nolint:err113
	}

	return n, nil
}

// acquisitionFromFlagsAndEnv works out what to acquire and where from.
func acquisitionFromFlagsAndEnv(sourceFlag, scopeFlag string, maxPagesFlag int) (acquire.Acquirer,
	acquire.Request, error) {
	source := flagOrEnv(sourceFlag, envSource)
	if source == "" {
		return nil, acquire.Request{}, errSourceRequired
	}

	maxPages, err := intFlagOrEnv(maxPagesFlag, envMaxPages)
	if err != nil {
		return nil, acquire.Request{}, err
	}

	req := acquire.Request{
		Scope:    flagOrEnv(scopeFlag, envScope),
		MaxPages: maxPages,
	}

	return newAcquirer(source), req, nil
}

func newAcquirer(source string) acquire.Acquirer { //nolint:ireturn
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return &acquire.HTTPSource{
			BaseURL: source,
			Client:  newHTTPClient(),
		}
	}

	return &acquire.FileSource{Path: source, PageSize: pipeline.DefaultPageSize}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// openPipeline returns a pipeline over the archive root, recording runs in
// the root's run ledger. The returned func closes the ledger.
func openPipeline() (*pipeline.Pipeline, func(), error) {
	rl, err := runlog.Open(filepath.Join(archiveRoot, runlog.Basename))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run ledger: %w", err)
	}

	p := pipeline.New(pipeline.Config{
		Root:   archiveRoot,
		Logger: appLogger,
		RunLog: rl,
	})

	return p, func() {
		if err := rl.Close(); err != nil {
			warn("failed to close run ledger: %s", err)
		}
	}, nil
}
