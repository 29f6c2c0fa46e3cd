package extract

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360studio/tsproject/project"
)

// DefaultCacheSize is the number of extraction results a Cached extractor keeps.
const DefaultCacheSize = 1024

// Cached memoizes extraction results by path and content hash. Graphs that share a file,
// and reloads that leave content unchanged, skip the parse.
type Cached struct {
	next  project.ReferenceExtractor
	cache *lru.Cache[string, project.References]
}

// NewCached wraps next with an LRU cache holding up to size results.
func NewCached(next project.ReferenceExtractor, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, project.References](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: cache}, nil
}

// Extract returns the cached result for this path and content, extracting on a miss.
// Failures are not cached.
func (c *Cached) Extract(filePath, content string) (project.References, error) {
	key := filePath + "\x00" + ComputeHash([]byte(content))
	if refs, ok := c.cache.Get(key); ok {
		return refs, nil
	}
	refs, err := c.next.Extract(filePath, content)
	if err != nil {
		return refs, err
	}
	c.cache.Add(key, refs)
	return refs, nil
}

// Len returns the number of cached results.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// ComputeHash computes a SHA256 hash of the given content.
func ComputeHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
