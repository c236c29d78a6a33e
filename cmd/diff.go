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
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/wtsi-hgi/coursearchive/archive"
	"github.com/wtsi-hgi/coursearchive/diff"
)

// diffCmd represents the diff command.
var diffCmd = &cobra.Command{
	Use:   "diff scope [old [new]]",
	Short: "Compare two versions of a scope",
	Long: `Compare two versions of a scope.

With only a scope, the latest version is compared to the one before it. With an
old version id, that version is compared to the latest. With both, old is
compared to new.

The output has the same form as the diff.txt written with each version.`,
	Args: cobra.RangeArgs(1, 3), //nolint:mnd
	Run: func(_ *cobra.Command, args []string) {
		setCLIFormat()

		scope := args[0]

		oldID, newID, err := versionsToCompare(scope, args[1:])
		if err != nil {
			die("%s", err)
		}

		oldSnap, err := archive.LoadSnapshot(archiveRoot, scope, oldID)
		if err != nil {
			die("%s", err)
		}

		newSnap, err := archive.LoadSnapshot(archiveRoot, scope, newID)
		if err != nil {
			die("%s", err)
		}

		if _, err := diff.Diff(oldSnap, newSnap).WriteTo(os.Stdout); err != nil {
			die("%s", err)
		}
	},
}

func versionsToCompare(scope string, ids []string) (string, string, error) {
	m, err := loadScopeManifest(scope)
	if err != nil {
		return "", "", err
	}

	kept := m.IDs()

	if len(ids) == 0 && len(kept) < 2 { //nolint:mnd
		return "", "", fmt.Errorf("%s has fewer than 2 versions to compare", scope) //nolint:err113
	}

	oldID, newID := "", m.Latest()

	switch len(ids) {
	case 0:
		oldID = kept[len(kept)-2]
	case 1:
		oldID = ids[0]
	default:
		oldID, newID = ids[0], ids[1]
	}

	for _, id := range []string{oldID, newID} {
		if !slices.Contains(kept, id) {
			return "", "", fmt.Errorf("%s has no version %q", scope, id) //nolint:err113
		}
	}

	return oldID, newID, nil
}

func init() {
	RootCmd.AddCommand(diffCmd)
}
