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
	"strings"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/pipeline"
)

var (
	keepVersions int
	viewOnly     bool
)

// pruneCmd represents the prune command.
var pruneCmd = &cobra.Command{
	Use:   "prune [scope...]",
	Short: "Remove old versions and repair the archive",
	Long: `Remove old versions and repair the archive.

For each given scope (or every published scope if none are given), this keeps
only the newest --keep versions, deletes version directories that no manifest
refers to (such as those left by an interrupted publish), and recreates any
missing CSV exports. The path index is then rebuilt.

The --view/-v flag can be used to list the versions and directories that would
be removed, without removing anything.`,
	Run: func(_ *cobra.Command, args []string) {
		p, closeLedger, err := openPipeline()
		if err != nil {
			die("%s", err)
		}

		defer closeLedger()

		results, err := p.Maintain(args, keepVersions, viewOnly)

		for _, mt := range results {
			if viewOnly {
				for _, id := range mt.Pruned {
					cliPrint("%s/%s\n", mt.Scope, id)
				}

				for _, dir := range mt.Orphans {
					cliPrint("%s/%s\n", mt.Scope, dir)
				}

				continue
			}

			info("%s: pruned [%s], removed orphans [%s], recreated %d exports", mt.Scope,
				strings.Join(mt.Pruned, " "), strings.Join(mt.Orphans, " "), len(mt.Exports))
		}

		if errors.Is(err, pipeline.ErrLocked) {
			die("another process is modifying %s", archiveRoot)
		} else if err != nil {
			die("prune failed: %s", err)
		}
	},
}

// indexCmd represents the index command.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the archive's path index",
	Long: `Rebuild the archive's path index.

The path index, paths.json in the archive root, describes every file in the
archive and its size. It is rebuilt after every publish and prune; this command
rebuilds it after manual changes to the archive.`,
	Run: func(_ *cobra.Command, _ []string) {
		p, closeLedger, err := openPipeline()
		if err != nil {
			die("%s", err)
		}

		defer closeLedger()

		tree, err := p.RebuildIndex()
		if errors.Is(err, pipeline.ErrLocked) {
			die("another process is modifying %s", archiveRoot)
		} else if err != nil {
			die("failed to rebuild path index: %s", err)
		}

		info("indexed %d files", len(tree.Files()))
	},
}

func init() {
	RootCmd.AddCommand(pruneCmd)
	RootCmd.AddCommand(indexCmd)

	pruneCmd.Flags().IntVarP(&keepVersions, "keep", "k", pipeline.DefaultMaxHistory,
		"number of versions of each scope to keep")
	pruneCmd.Flags().BoolVarP(&viewOnly, "view", "v", false,
		"show what would be removed without deleting anything")
}
