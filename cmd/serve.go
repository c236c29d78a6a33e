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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/server"
)

const defaultBind = ":8080"

var serverBind string

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive over HTTP",
	Long: `Serve the archive over HTTP.

Starts a read-only web server over the archive root. The published files are
available under /archive/, and a JSON API under /rest/v1/ lists the scopes, the
versions of each scope, the latest files of a scope, the path index and recent
runs:

  /rest/v1/index
  /rest/v1/scopes
  /rest/v1/scopes/<scope>
  /rest/v1/scopes/<scope>/latest/<file>
  /rest/v1/runs?n=<number>

The server can be left running while 'publish' or 'watch' update the archive.
Stop it with ctrl-c or SIGTERM.`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		s := server.New(archiveRoot, appLogger)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		go func() {
			<-sig
			info("shutting down")

			if err := s.Stop(); err != nil {
				warn("server shutdown: %s", err)
			}
		}()

		if err := s.Start(serverBind); err != nil {
			die("server failed: %s", err)
		}
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serverBind, "bind", "b", defaultBind, "address to bind to, eg host:port")
}
