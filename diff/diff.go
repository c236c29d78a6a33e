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

// Package diff computes structural differences between two dataset snapshots.
//
// Records are compared as a multiset: two snapshots that hold the same records
// in a different order are equal. Within a record, field order is ignored and
// list-valued fields are compared as multisets, so reordering list elements
// is not a change but adding another copy of an element is.
package diff

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/wtsi-hgi/coursearchive/dataset"
)

// Kind says what happened to the value at an Entry's Path.
type Kind uint8

const (
	Added Kind = iota
	Removed
	Changed
)

// String returns a lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	}

	return "unknown"
}

// pairThreshold is the fraction of fields two unmatched records must share
// before they are reported as one changed record rather than a removal and an
// addition.
const pairThreshold = 0.5

// maxPairings bounds the work spent pairing unmatched records; beyond it,
// unmatched records are reported as plain removals and additions.
const maxPairings = 1 << 22

// Entry is a single difference. Path is rooted at "root", with list indexes
// in brackets and field names quoted, eg. root[3]['Lecturer'][0]. Indexes of
// Added values refer to the new snapshot, those of Removed values to the old.
type Entry struct {
	Kind Kind
	Path string
	Old  any
	New  any
}

// Report is the result of comparing two snapshots.
type Report struct {
	// Initial is true when there was no previous snapshot.
	Initial  bool
	OldCount int
	NewCount int
	Entries  []Entry
}

// IsEmpty returns true if no record was added, removed or modified.
func (r *Report) IsEmpty() bool {
	return len(r.Entries) == 0
}

// Counts returns the number of added, removed and changed entries.
func (r *Report) Counts() (added, removed, changed int) {
	for _, e := range r.Entries {
		switch e.Kind {
		case Added:
			added++
		case Removed:
			removed++
		case Changed:
			changed++
		}
	}

	return added, removed, changed
}

// Diff compares old against new. A nil old means there was no previous
// snapshot, which yields an Initial report with every new record added.
func Diff(old, new dataset.Snapshot) *Report {
	r := &Report{
		Initial:  old == nil,
		OldCount: len(old),
		NewCount: len(new),
	}

	unmatchedOld, unmatchedNew := matchRecords(old, new)

	r.pairAndCompare(old, new, unmatchedOld, unmatchedNew)

	sort.SliceStable(r.Entries, func(i, j int) bool {
		return entryLess(r.Entries[i], r.Entries[j])
	})

	return r
}

// matchRecords removes records that appear in both snapshots, honouring
// repetition, and returns the indexes left over on each side.
func matchRecords(old, new dataset.Snapshot) ([]int, []int) {
	buckets := make(map[string][]int, len(old))

	for n, rec := range old {
		key := dataset.Canonical(rec)
		buckets[key] = append(buckets[key], n)
	}

	var unmatchedNew []int

	for n, rec := range new {
		key := dataset.Canonical(rec)

		if idxs := buckets[key]; len(idxs) > 0 {
			buckets[key] = idxs[1:]

			continue
		}

		unmatchedNew = append(unmatchedNew, n)
	}

	var unmatchedOld []int

	for _, idxs := range buckets {
		unmatchedOld = append(unmatchedOld, idxs...)
	}

	sort.Ints(unmatchedOld)

	return unmatchedOld, unmatchedNew
}

type pair struct {
	old, new   int
	similarity float64
}

func (r *Report) pairAndCompare(old, new dataset.Snapshot, unmatchedOld, unmatchedNew []int) {
	pairs := candidatePairs(old, new, unmatchedOld, unmatchedNew)
	usedOld := make(map[int]bool)
	usedNew := make(map[int]bool)

	for _, p := range pairs {
		if usedOld[p.old] || usedNew[p.new] {
			continue
		}

		usedOld[p.old] = true
		usedNew[p.new] = true

		r.compare(recordPath(p.new), old[p.old], new[p.new])
	}

	for _, n := range unmatchedOld {
		if !usedOld[n] {
			r.add(Removed, recordPath(n), old[n], nil)
		}
	}

	for _, n := range unmatchedNew {
		if !usedNew[n] {
			r.add(Added, recordPath(n), nil, new[n])
		}
	}
}

func candidatePairs(old, new dataset.Snapshot, unmatchedOld, unmatchedNew []int) []pair {
	if len(unmatchedOld) == 0 || len(unmatchedNew) == 0 || len(unmatchedOld)*len(unmatchedNew) > maxPairings {
		return nil
	}

	var pairs []pair

	for _, o := range unmatchedOld {
		for _, n := range unmatchedNew {
			if s := similarity(old[o], new[n]); s >= pairThreshold {
				pairs = append(pairs, pair{old: o, new: n, similarity: s})
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].similarity != pairs[j].similarity {
			return pairs[i].similarity > pairs[j].similarity
		}

		if pairs[i].old != pairs[j].old {
			return pairs[i].old < pairs[j].old
		}

		return pairs[i].new < pairs[j].new
	})

	return pairs
}

// similarity is the fraction of the union of both records' fields that have
// equal values in both.
func similarity(a, b *dataset.Record) float64 {
	union := make(map[string]struct{}, a.Len()+b.Len())
	same := 0

	for _, k := range a.Keys() {
		union[k] = struct{}{}

		av, _ := a.Get(k)

		if bv, ok := b.Get(k); ok && dataset.Canonical(av) == dataset.Canonical(bv) {
			same++
		}
	}

	for _, k := range b.Keys() {
		union[k] = struct{}{}
	}

	if len(union) == 0 {
		return 1
	}

	return float64(same) / float64(len(union))
}

func (r *Report) add(kind Kind, path string, old, new any) {
	r.Entries = append(r.Entries, Entry{Kind: kind, Path: path, Old: old, New: new})
}

// compare recursively records the differences between two values found at
// path.
func (r *Report) compare(path string, a, b any) {
	ar, aIsRecord := a.(*dataset.Record)
	br, bIsRecord := b.(*dataset.Record)

	if aIsRecord && bIsRecord {
		r.compareRecords(path, ar, br)

		return
	}

	al, aIsList := a.([]any)
	bl, bIsList := b.([]any)

	if aIsList && bIsList {
		r.compareLists(path, al, bl)

		return
	}

	if dataset.Canonical(a) != dataset.Canonical(b) {
		r.add(Changed, path, a, b)
	}
}

func (r *Report) compareRecords(path string, a, b *dataset.Record) {
	for _, k := range a.Keys() {
		av, _ := a.Get(k)

		bv, ok := b.Get(k)
		if !ok {
			r.add(Removed, fieldPath(path, k), av, nil)

			continue
		}

		r.compare(fieldPath(path, k), av, bv)
	}

	for _, k := range b.Keys() {
		if _, ok := a.Get(k); !ok {
			bv, _ := b.Get(k)
			r.add(Added, fieldPath(path, k), nil, bv)
		}
	}
}

// compareLists treats both lists as multisets: each surplus occurrence of an
// element in a is a removal, each surplus occurrence in b an addition.
func (r *Report) compareLists(path string, a, b []any) {
	counts := make(map[string]int)

	for _, v := range a {
		counts[dataset.Canonical(v)]++
	}

	for _, v := range b {
		counts[dataset.Canonical(v)]--
	}

	removals := make(map[string]int)
	additions := make(map[string]int)

	for k, c := range counts {
		if c > 0 {
			removals[k] = c
		} else if c < 0 {
			additions[k] = -c
		}
	}

	for n := len(a) - 1; n >= 0; n-- {
		if k := dataset.Canonical(a[n]); removals[k] > 0 {
			removals[k]--
			r.add(Removed, indexPath(path, n), a[n], nil)
		}
	}

	for n := len(b) - 1; n >= 0; n-- {
		if k := dataset.Canonical(b[n]); additions[k] > 0 {
			additions[k]--
			r.add(Added, indexPath(path, n), nil, b[n])
		}
	}
}

func recordPath(n int) string {
	return indexPath("root", n)
}

func indexPath(path string, n int) string {
	return path + "[" + strconv.Itoa(n) + "]"
}

func fieldPath(path, field string) string {
	return path + "['" + strings.ReplaceAll(field, "'", `\'`) + "']"
}

func entryLess(a, b Entry) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}

	return pathLess(a.Path, b.Path)
}

// pathLess orders paths so that root[2] sorts before root[10].
func pathLess(a, b string) bool {
	ai, aok := leadingIndex(a)
	bi, bok := leadingIndex(b)

	if aok && bok && ai != bi {
		return ai < bi
	}

	return a < b
}

func leadingIndex(path string) (int, bool) {
	rest, ok := strings.CutPrefix(path, "root[")
	if !ok {
		return 0, false
	}

	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return 0, false
	}

	n, err := strconv.Atoi(rest[:end])

	return n, err == nil
}

// Pretty returns a human readable description of the report.
func (r *Report) Pretty() string {
	var sb strings.Builder

	r.WriteTo(&sb) //nolint:errcheck

	return sb.String()
}

// WriteTo writes Pretty output to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}

	if r.Initial {
		fmt.Fprintf(cw, "Initial snapshot: %d records.\n", r.NewCount)

		return cw.n, cw.err
	}

	added, removed, changed := r.Counts()

	fmt.Fprintf(cw, "%d -> %d records: %d added, %d removed, %d changed.\n",
		r.OldCount, r.NewCount, added, removed, changed)

	for _, e := range r.Entries {
		switch e.Kind {
		case Added:
			fmt.Fprintf(cw, "Item %s added: %s\n", e.Path, render(e.New))
		case Removed:
			fmt.Fprintf(cw, "Item %s removed: %s\n", e.Path, render(e.Old))
		case Changed:
			fmt.Fprintf(cw, "Value of %s changed from %s to %s.\n", e.Path, render(e.Old), render(e.New))
		}
	}

	return cw.n, cw.err
}

func render(v any) string {
	b, err := dataset.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(b)
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}

	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err

	return n, err
}
