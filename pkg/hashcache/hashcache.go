// Package hashcache implements the path -> digest map that the orchestrator
// diffs against a freshly downloaded remote manifest. It keeps a flat
// content-addressable view of a tree rather than a recursive entry tree,
// because synchronization only ever needs leaf digests, never directory
// structure comparison.
package hashcache

import (
	"fmt"
	"os"
	"sync"

	"github.com/patchkit-io/patchkit/pkg/digest"
	"github.com/patchkit-io/patchkit/pkg/fsutil"
	"github.com/patchkit-io/patchkit/pkg/manifest"
)

// Cache maps relative paths to digests, optionally bound to a root
// directory for lazy, on-demand digestion of entries it doesn't yet hold.
type Cache struct {
	root    string
	bound   bool
	entries map[string]digest.Digest
	mu      sync.Mutex
}

// New creates an empty, unbound cache.
func New() *Cache {
	return &Cache{entries: make(map[string]digest.Digest)}
}

// NewBound creates an empty cache bound to root, so every query lazily
// digests the corresponding file on disk. The orchestrator uses this on a
// first run (no stored manifest yet) so that comparison happens against
// live on-disk content rather than treating every remote file as missing.
func NewBound(root string) *Cache {
	return &Cache{root: root, bound: true, entries: make(map[string]digest.Digest)}
}

// FromDirectory walks root and digests every regular file found, producing
// a fully populated cache bound to root. This is what the manifest
// generator CLI uses to build a fresh manifest from scratch; the
// orchestrator instead builds its local view with Load or NewBound.
func FromDirectory(root string) (*Cache, error) {
	cache := &Cache{root: root, bound: true, entries: make(map[string]digest.Digest)}

	err := fsutil.WalkRegularFiles(root, func(relativePath string, _ os.FileInfo) error {
		path, err := fsutil.JoinRelative(root, relativePath)
		if err != nil {
			return err
		}
		d, err := digest.FromFile(path)
		if err != nil {
			return fmt.Errorf("unable to digest %q: %w", relativePath, err)
		}
		cache.entries[relativePath] = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cache, nil
}

// Load decodes a manifest file at manifestPath into a cache. If root is
// non-empty, the cache is bound to root for lazy digestion of paths it
// doesn't contain; an empty root leaves the cache unbound, so queries for
// unknown keys simply report absence. transform, if non-nil, is applied to
// each decoded path before it's used as a map key -- this supports path
// remapping in callers that need it, though the orchestrator itself passes
// nil for ordinary manifest loads.
func Load(manifestPath string, root string, transform func(string) string) (*Cache, error) {
	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open manifest: %w", err)
	}
	defer file.Close()

	entries, err := manifest.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("unable to decode manifest: %w", err)
	}

	cache := &Cache{root: root, bound: root != "", entries: make(map[string]digest.Digest, len(entries))}
	for _, entry := range entries {
		path := entry.Path
		if transform != nil {
			path = transform(path)
		}
		cache.entries[path] = entry.Digest
	}

	return cache, nil
}

// Write encodes the cache's current entries as a manifest and writes it to
// path.
func (c *Cache) Write(path string) error {
	c.mu.Lock()
	entries := make([]manifest.Entry, 0, len(c.entries))
	for p, d := range c.entries {
		entries = append(entries, manifest.Entry{Digest: d, Path: p})
	}
	c.mu.Unlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create manifest file: %w", err)
	}
	defer file.Close()

	if err := manifest.Encode(file, entries); err != nil {
		return fmt.Errorf("unable to encode manifest: %w", err)
	}

	return nil
}

// Get returns the digest for path, lazily digesting the underlying file if
// the cache is bound to a root and doesn't yet hold an entry for path. A
// missing file under a bound root is reported as "no entry" (ok == false),
// not an error.
func (c *Cache) Get(path string) (digest.Digest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(path)
}

// getLocked performs the Get logic; callers must hold c.mu.
func (c *Cache) getLocked(path string) (digest.Digest, bool) {
	if d, ok := c.entries[path]; ok {
		return d, true
	}
	if !c.bound {
		return digest.Digest{}, false
	}

	full, err := fsutil.JoinRelative(c.root, path)
	if err != nil {
		return digest.Digest{}, false
	}
	d, err := digest.FromFile(full)
	if err != nil {
		return digest.Digest{}, false
	}

	c.entries[path] = d
	return d, true
}

// Difference enumerates peer's keys and returns those for which the
// receiver either has no entry or holds a different digest. This is
// deliberately asymmetric -- paths the receiver holds that peer doesn't
// mention are never reported. Callers wanting both sides call it twice
// with the operands swapped.
func (c *Cache) Difference(peer *Cache) []string {
	peer.mu.Lock()
	peerPaths := make([]string, 0, len(peer.entries))
	peerDigests := make(map[string]digest.Digest, len(peer.entries))
	for p, d := range peer.entries {
		peerPaths = append(peerPaths, p)
		peerDigests[p] = d
	}
	peer.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var result []string
	for _, path := range peerPaths {
		ours, ok := c.getLocked(path)
		if !ok || !ours.Equal(peerDigests[path]) {
			result = append(result, path)
		}
	}
	return result
}

// Paths returns every path currently held in the cache, without performing
// any lazy digestion. Used by the orchestrator to enumerate local files
// that might need deletion (those present locally but absent from the
// remote manifest).
func (c *Cache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	return paths
}

// Set records digest d for path, overwriting any existing entry. Used by
// the orchestrator to update the in-memory cache after a successful
// download, so a subsequent Write reflects the new state without requiring
// a full re-walk.
func (c *Cache) Set(path string, d digest.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = d
}

// Delete removes path's entry, if any.
func (c *Cache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
