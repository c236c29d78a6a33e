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

package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/index"
	"github.com/wtsi-hgi/coursearchive/manifest"
	"github.com/wtsi-hgi/coursearchive/runlog"
)

// ScopeSummary describes a scope in the /rest/v1/scopes response.
type ScopeSummary struct {
	Scope    string        `json:"scope"`
	Versions int           `json:"versions"`
	Latest   string        `json:"latest,omitempty"`
	Info     *archive.Info `json:"info,omitempty"`
}

// Version is an entry of the /rest/v1/scopes/:scope response.
type Version struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
}

func (s *Server) addRoutes() {
	s.router.GET(EndPointIndex, s.getIndex)
	s.router.GET(EndPointScopes, s.getScopes)
	s.router.GET(EndPointScope, s.getScope)
	s.router.GET(EndPointLatest, s.getLatestFile)
	s.router.GET(EndPointRuns, s.getRuns)
	s.router.StaticFS(EndPointArchive, hideDotFiles{http.Dir(s.root)})
}

// getIndex responds with the path index, building it if it has not been
// written yet.
//
// This is called when there is a GET on /rest/v1/index.
func (s *Server) getIndex(c *gin.Context) {
	p := filepath.Join(s.root, index.Basename)

	if _, err := os.Stat(p); err == nil {
		c.Header("Content-Type", "application/json")
		c.File(p)

		return
	}

	tree, err := index.Build(s.root)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

		return
	}

	c.JSON(http.StatusOK, tree)
}

// getScopes responds with a summary of every published scope.
//
// This is called when there is a GET on /rest/v1/scopes.
func (s *Server) getScopes(c *gin.Context) {
	r, err := manifest.LoadRoot(filepath.Join(s.root, manifest.Basename))
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

		return
	}

	summaries := make([]*ScopeSummary, 0, len(r.Scopes()))

	for _, scope := range r.Scopes() {
		m, err := s.loadScope(scope)
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

			return
		}

		summary := &ScopeSummary{Scope: scope, Versions: m.Len(), Latest: m.Latest()}

		if summary.Latest != "" {
			summary.Info, _ = archive.ReadInfo(archive.VersionDir(s.root, scope, summary.Latest)) //nolint:errcheck
		}

		summaries = append(summaries, summary)
	}

	c.IndentedJSON(http.StatusOK, summaries)
}

func (s *Server) loadScope(scope string) (*manifest.Scope, error) {
	return manifest.LoadScope(filepath.Join(archive.ScopeDir(s.root, scope), manifest.Basename))
}

// scopeFromParam returns the validated :scope parameter, aborting the request
// if it is invalid or not a published scope.
func (s *Server) scopeFromParam(c *gin.Context) (*manifest.Scope, string, bool) {
	scope := c.Param("scope")

	if err := manifest.ValidateScope(scope); err != nil {
		c.AbortWithError(http.StatusBadRequest, err) //nolint:errcheck

		return nil, "", false
	}

	m, err := s.loadScope(scope)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

		return nil, "", false
	}

	if m.Len() == 0 {
		c.AbortWithError(http.StatusNotFound, ErrNoVersion) //nolint:errcheck

		return nil, "", false
	}

	return m, scope, true
}

// getScope responds with the versions of a scope, oldest first.
//
// This is called when there is a GET on /rest/v1/scopes/:scope.
func (s *Server) getScope(c *gin.Context) {
	m, _, ok := s.scopeFromParam(c)
	if !ok {
		return
	}

	versions := make([]Version, 0, m.Len())

	for _, v := range m.Versions() {
		versions = append(versions, Version{ID: v.ID, Created: v.Created})
	}

	c.IndentedJSON(http.StatusOK, versions)
}

// getLatestFile serves a file from the latest version of a scope, eg.
// /rest/v1/scopes/2024/latest/page_1.json.
func (s *Server) getLatestFile(c *gin.Context) {
	m, scope, ok := s.scopeFromParam(c)
	if !ok {
		return
	}

	name := strings.TrimPrefix(c.Param("file"), "/")
	if name == "" {
		name = archive.InfoBasename
	}

	if name != path.Base(name) || strings.HasPrefix(name, ".") {
		c.AbortWithError(http.StatusBadRequest, ErrBadQuery) //nolint:errcheck

		return
	}

	p := filepath.Join(archive.VersionDir(s.root, scope, m.Latest()), name)

	if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
		c.AbortWithError(http.StatusNotFound, ErrNotFound) //nolint:errcheck

		return
	}

	c.File(p)
}

// getRuns responds with the most recent runs from the run ledger. The number
// returned can be set with the n query parameter.
//
// This is called when there is a GET on /rest/v1/runs.
func (s *Server) getRuns(c *gin.Context) {
	n := defaultRunsLimit

	if ns := c.Query("n"); ns != "" {
		var err error

		if n, err = strconv.Atoi(ns); err != nil || n < 0 {
			c.AbortWithError(http.StatusBadRequest, ErrBadQuery) //nolint:errcheck

			return
		}
	}

	entries, err := runlog.ReadRecent(filepath.Join(s.root, runlog.Basename), n)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

		return
	}

	if entries == nil {
		entries = []*runlog.Entry{}
	}

	c.IndentedJSON(http.StatusOK, entries)
}

// hideDotFiles serves only regular files whose path has no dot-prefixed
// element, so staging directories, the lock and the run ledger stay private.
// Directory listings are never served.
type hideDotFiles struct {
	fs http.FileSystem
}

func (h hideDotFiles) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, fs.ErrNotExist
		}
	}

	f, err := h.fs.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		f.Close()

		return nil, errors.Join(fs.ErrNotExist, err)
	}

	return f, nil
}
