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

// Package server provides a read-only HTTP API over a published archive: its
// manifests, path index, latest version files and run ledger.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inconshreveable/log15"
)

// Error is the type of the constant Err* variables.
type Error string

// Error returns a string version of the error.
func (e Error) Error() string { return string(e) }

const (
	ErrNotFound  = Error("not found")
	ErrBadQuery  = Error("bad query")
	ErrNoVersion = Error("scope has no published version")
)

const (
	EndPointREST    = "/rest/v1"
	EndPointIndex   = EndPointREST + "/index"
	EndPointScopes  = EndPointREST + "/scopes"
	EndPointScope   = EndPointScopes + "/:scope"
	EndPointLatest  = EndPointScope + "/latest/*file"
	EndPointRuns    = EndPointREST + "/runs"
	EndPointArchive = "/archive"

	defaultRunsLimit  = 20
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server serves the archive under root.
type Server struct {
	root   string
	router *gin.Engine
	logger log15.Logger
	srv    *http.Server
}

// New returns a Server for the archive at root with all routes registered.
func New(root string, logger log15.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		root:   root,
		router: gin.New(),
		logger: logger,
	}

	s.router.Use(s.logRequests, gin.Recovery())
	s.addRoutes()

	return s
}

// Router returns the gin engine, for use in tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves on addr until Stop is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("serving archive", "addr", addr, "root", s.root)

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Stop gracefully shuts down a started server.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()

	c.Next()

	s.logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
		"status", c.Writer.Status(), "took", time.Since(start))

	for _, err := range c.Errors {
		s.logger.Warn("request failed", "path", c.Request.URL.Path, "err", err.Err)
	}
}
