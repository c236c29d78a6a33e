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

// Package manifest implements the version manifests of the archive: the root
// manifest listing every scope ever published, and the per-scope manifest
// listing the versions of that scope currently kept on disk.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wtsi-hgi/coursearchive/internal/fsutil"
)

// Error is the type of the constant Err* variables.
type Error string

// Error returns a string version of the error.
func (e Error) Error() string { return string(e) }

const (
	ErrInvalidScope = Error("invalid scope name")
	ErrBadManifest  = Error("malformed manifest")

	// VersionIDFormat is the time layout version ids are generated with.
	VersionIDFormat = "20060102150405"

	// Basename is the file name of both root and scope manifests.
	Basename = "version.json"
)

// Version is one entry of a scope manifest.
type Version struct {
	ID      string
	Created time.Time
}

// Scope is the ordered version history of one scope, oldest first.
type Scope struct {
	versions []Version
}

// LoadScope reads the scope manifest at path. A missing file results in an
// empty manifest.
func LoadScope(path string) (*Scope, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Scope{}, nil
	} else if err != nil {
		return nil, err
	}

	s := &Scope{}

	if err := s.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

// UnmarshalJSON decodes an object of version id to unix creation time,
// keeping the object's order.
func (s *Scope) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ErrBadManifest
	}

	var versions []Version

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		id, _ := tok.(string) //nolint:errcheck

		var created json.Number

		if err := dec.Decode(&created); err != nil {
			return fmt.Errorf("version %s: %w", id, ErrBadManifest)
		}

		secs, err := created.Int64()
		if err != nil || !IsVersionID(id) {
			return fmt.Errorf("version %s: %w", id, ErrBadManifest)
		}

		versions = append(versions, Version{ID: id, Created: time.Unix(secs, 0).UTC()})
	}

	s.versions = versions

	return nil
}

// MarshalJSON encodes the manifest as an object of version id to unix
// creation time, in chronological order.
func (s *Scope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for n, v := range s.versions {
		if n > 0 {
			buf.WriteByte(',')
		}

		buf.WriteString(strconv.Quote(v.ID))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(v.Created.Unix(), 10))
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Save atomically writes the manifest to path.
func (s *Scope) Save(path string) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, data)
}

// Latest returns the id of the newest version, or "" if there are none.
func (s *Scope) Latest() string {
	if len(s.versions) == 0 {
		return ""
	}

	return s.versions[len(s.versions)-1].ID
}

// AddVersion allocates a version id from now and appends it. It returns false,
// leaving the manifest unchanged, if that id is already present.
func (s *Scope) AddVersion(now time.Time) (string, bool) {
	id := now.UTC().Format(VersionIDFormat)

	if s.Has(id) {
		return "", false
	}

	s.versions = append(s.versions, Version{ID: id, Created: now.UTC().Truncate(time.Second)})

	return id, true
}

// Has returns true if id is in the manifest.
func (s *Scope) Has(id string) bool {
	return slices.ContainsFunc(s.versions, func(v Version) bool { return v.ID == id })
}

// Remove deletes id from the manifest, returning false if it wasn't there.
func (s *Scope) Remove(id string) bool {
	n := len(s.versions)

	s.versions = slices.DeleteFunc(s.versions, func(v Version) bool { return v.ID == id })

	return len(s.versions) != n
}

// Without returns a copy of the manifest that does not contain id.
func (s *Scope) Without(id string) *Scope {
	c := s.Clone()
	c.Remove(id)

	return c
}

// Clone returns an independent copy of the manifest.
func (s *Scope) Clone() *Scope {
	return &Scope{versions: slices.Clone(s.versions)}
}

// Versions returns the versions, oldest first.
func (s *Scope) Versions() []Version {
	return slices.Clone(s.versions)
}

// IDs returns the version ids, oldest first.
func (s *Scope) IDs() []string {
	ids := make([]string, len(s.versions))

	for n, v := range s.versions {
		ids[n] = v.ID
	}

	return ids
}

// Len returns the number of versions.
func (s *Scope) Len() int {
	return len(s.versions)
}

// Root is the append-only list of every scope that has been published.
type Root struct {
	scopes []string
}

// LoadRoot reads the root manifest at path. A missing file results in an
// empty manifest.
func LoadRoot(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Root{}, nil
	} else if err != nil {
		return nil, err
	}

	var scopes []string

	if err := json.Unmarshal(data, &scopes); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrBadManifest, err)
	}

	return &Root{scopes: scopes}, nil
}

// AddScope registers name, returning true if it was not already known.
func (r *Root) AddScope(name string) bool {
	if r.Has(name) {
		return false
	}

	r.scopes = append(r.scopes, name)

	return true
}

// Has returns true if name is a known scope.
func (r *Root) Has(name string) bool {
	return slices.Contains(r.scopes, name)
}

// Scopes returns the known scopes in the order they were added.
func (r *Root) Scopes() []string {
	return slices.Clone(r.scopes)
}

// Save atomically writes the manifest to path.
func (r *Root) Save(path string) error {
	scopes := r.scopes
	if scopes == nil {
		scopes = []string{}
	}

	data, err := json.Marshal(scopes)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, data)
}

// ValidateScope checks that name can be used as a directory directly under
// the archive root.
func ValidateScope(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) ||
		strings.ContainsRune(name, 0) {
		return fmt.Errorf("%q: %w", name, ErrInvalidScope)
	}

	return nil
}

// IsVersionID returns true if s looks like an id generated by AddVersion.
func IsVersionID(s string) bool {
	if len(s) != len(VersionIDFormat) {
		return false
	}

	_, err := time.Parse(VersionIDFormat, s)

	return err == nil
}
