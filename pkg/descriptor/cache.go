package descriptor

import (
	"path"
	"sync"

	"tsxkit/pkg/host"
)

// Cache loads manifests lazily per package directory and caches them for the
// lifetime of the engine instance. Source trees are not expected to mutate
// mid-run; invalidation happens only through Reset.
type Cache struct {
	fs    host.FileStore
	mutex sync.RWMutex
	byDir map[string]*cachedManifest
}

type cachedManifest struct {
	desc    *Descriptor
	err     error
	missing bool
}

// NewCache creates a manifest cache over the given file store.
func NewCache(fs host.FileStore) *Cache {
	return &Cache{fs: fs, byDir: make(map[string]*cachedManifest)}
}

// Load returns the manifest of the package rooted at dir. The second return
// is false when dir has no package.json. Parse failures are cached too, so a
// broken manifest fails consistently rather than intermittently.
func (c *Cache) Load(dir string) (*Descriptor, bool, error) {
	key := path.Clean(dir)

	c.mutex.RLock()
	entry, ok := c.byDir[key]
	c.mutex.RUnlock()
	if ok {
		return entry.desc, !entry.missing, entry.err
	}

	entry = &cachedManifest{}
	data, err := c.fs.ReadFile(path.Join(key, "package.json"))
	if err != nil {
		entry.missing = true
	} else {
		entry.desc, entry.err = Parse(data)
	}

	c.mutex.Lock()
	c.byDir[key] = entry
	c.mutex.Unlock()
	return entry.desc, !entry.missing, entry.err
}

// Reset drops every cached manifest.
func (c *Cache) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.byDir = make(map[string]*cachedManifest)
}

// Size returns the number of cached directories, including negative entries.
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.byDir)
}
