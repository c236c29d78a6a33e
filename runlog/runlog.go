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

// Package runlog keeps a ledger of every publish attempt in a bolt database,
// so operators can see when the archive was last refreshed and why a run did
// or did not produce a new version.
package runlog

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
	bolt "go.etcd.io/bbolt"
)

const (
	// Basename is the ledger's file name in the archive root. It is hidden so
	// that it is not part of the published archive.
	Basename = ".runs.db"

	runsBucket    = "runs"
	boltFilePerms = 0o640
	openTimeout   = 5 * time.Second
	keyLen        = 8 + 16
)

// Entry describes one run.
type Entry struct {
	ID        string    `json:"id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Scope     string    `json:"scope"`
	Outcome   string    `json:"outcome"`
	VersionID string    `json:"version,omitempty"`
	Records   int       `json:"records"`
	Removed   []string  `json:"removed,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (e *Entry) Duration() time.Duration {
	return e.Finished.Sub(e.Started)
}

// Log is a ledger. The underlying database is only held open for the duration
// of each call, so that other processes can read it between runs.
type Log struct {
	path     string
	readOnly bool
	ch       codec.Handle
}

// Open returns the ledger at path for reading and writing. Nothing is created
// on disk until the first entry is recorded.
func Open(path string) (*Log, error) {
	l := &Log{path: path, ch: new(codec.BincHandle)}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return l, nil
	} else if err != nil {
		return nil, err
	}

	if err := l.update(createBucket); err != nil {
		return nil, err
	}

	return l, nil
}

func createBucket(tx *bolt.Tx) error {
	_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))

	return err
}

// OpenReadOnly returns an existing ledger for reading. It returns an error
// matching fs.ErrNotExist if there is no ledger at path.
func OpenReadOnly(path string) (*Log, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	return &Log{path: path, readOnly: true, ch: new(codec.BincHandle)}, nil
}

func (l *Log) open() (*bolt.DB, error) {
	return bolt.Open(l.path, boltFilePerms, &bolt.Options{ReadOnly: l.readOnly, Timeout: openTimeout})
}

func (l *Log) update(fn func(*bolt.Tx) error) error {
	db, err := l.open()
	if err != nil {
		return err
	}

	if err = db.Update(fn); err != nil {
		db.Close()

		return err
	}

	return db.Close()
}

func (l *Log) view(fn func(*bolt.Tx) error) error {
	db, err := l.open()
	if err != nil {
		return err
	}

	defer db.Close()

	return db.View(fn)
}

// Record stores e, assigning it an ID if it has none. Entries are ordered by
// their Started time.
func (l *Log) Record(e *Entry) error {
	id := uuid.New()

	if e.ID == "" {
		e.ID = id.String()
	} else if parsed, err := uuid.Parse(e.ID); err == nil {
		id = parsed
	}

	var encoded []byte

	if err := codec.NewEncoderBytes(&encoded, l.ch).Encode(e); err != nil {
		return err
	}

	return l.update(func(tx *bolt.Tx) error {
		if err := createBucket(tx); err != nil {
			return err
		}

		return tx.Bucket([]byte(runsBucket)).Put(entryKey(e.Started, id), encoded)
	})
}

func entryKey(started time.Time, id uuid.UUID) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key, uint64(started.UnixNano())) //nolint:gosec
	copy(key[8:], id[:])

	return key
}

// Recent returns up to n entries, most recently started first. n <= 0 returns
// every entry.
func (l *Log) Recent(n int) ([]*Entry, error) {
	var entries []*Entry

	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	err := l.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		if b == nil {
			return nil
		}

		c := b.Cursor()

		for k, v := c.Last(); k != nil && (n <= 0 || len(entries) < n); k, v = c.Prev() {
			e := new(Entry)

			if err := codec.NewDecoderBytes(v, l.ch).Decode(e); err != nil {
				return err
			}

			entries = append(entries, e)
		}

		return nil
	})

	return entries, err
}

// Close releases the ledger. The database is not held open between calls, so
// this always returns nil.
func (l *Log) Close() error {
	return nil
}

// ReadRecent opens the ledger at path read-only and returns its n most recent
// entries. A missing ledger has no entries.
func ReadRecent(path string, n int) ([]*Entry, error) {
	l, err := OpenReadOnly(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return l.Recent(n)
}
