// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package bccache is a content-addressed cache of compiled bytecode
// blobs, keyed by a hash of the source the bytecode was compiled from:
// recompiling an unchanged module is wasted work once a program spans
// many modules, so a build tool can stash the compiler's serialized
// output here and skip straight to linking on a cache hit.
//
// The cache itself is agnostic to how a *vm.Code is serialized (that
// is the build tool's concern, e.g. a flatbuffer or a Go gob scheme
// registered against the compiler's own instruction types); bccache
// only owns the compress/decompress and content-addressing.
package bccache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// Key identifies one cache entry: the blake2b-256 digest of the
// module source bytes the cached blob was compiled from.
type Key [32]byte

// Sum computes the Key for src.
func Sum(src []byte) Key {
	return blake2b.Sum256(src)
}

func (k Key) String() string {
	return fmt.Sprintf("%x", k[:])
}

// Cache is a directory of zstd-compressed blobs, one file per Key.
// Compiled instruction streams compress well (long runs of
// structurally similar instructions), which is why the corpus reaches
// for klauspost/compress here rather than storing entries raw.
type Cache struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open prepares a Cache rooted at dir, creating it if necessary.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bccache: creating %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("bccache: init encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("bccache: init decoder: %w", err)
	}
	return &Cache{dir: dir, encoder: enc, decoder: dec}, nil
}

func (c *Cache) path(k Key) string {
	return filepath.Join(c.dir, k.String()+".bc")
}

// Has reports whether k has a cached entry, without reading it.
func (c *Cache) Has(k Key) bool {
	_, err := os.Stat(c.path(k))
	return err == nil
}

// Put compresses and stores blob under k, overwriting any existing
// entry.
func (c *Cache) Put(k Key, blob []byte) error {
	compressed := c.encoder.EncodeAll(blob, make([]byte, 0, len(blob)))
	return os.WriteFile(c.path(k), compressed, 0o644)
}

// Get decompresses and returns the blob stored under k. A cache miss
// reports a wrapped os.ErrNotExist, matching os.ReadFile's contract.
func (c *Cache) Get(k Key) ([]byte, error) {
	compressed, err := os.ReadFile(c.path(k))
	if err != nil {
		return nil, fmt.Errorf("bccache: %w", err)
	}
	blob, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("bccache: decompressing entry %s: %w", k, err)
	}
	return blob, nil
}

// Evict removes k's cached entry, if any; a missing entry is not an
// error.
func (c *Cache) Evict(k Key) error {
	err := os.Remove(c.path(k))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bccache: evicting %s: %w", k, err)
	}
	return nil
}

// Close releases the cache's zstd decoder goroutines.
func (c *Cache) Close() {
	c.decoder.Close()
}
