// Package gitinfo resolves git metadata for session working directories so
// the dashboard can label sessions with their repository and branch.
package gitinfo

import (
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Info is git metadata for one directory.
type Info struct {
	RepoRoot  string
	Branch    string
	Remote    string
	UpdatedAt time.Time
}

// Cache memoizes Resolve results per directory with a TTL, since git
// subprocess calls are too slow to run on every session listing. Misses are
// cached too: an entry with an empty RepoRoot means "not a repository", so
// non-repo directories do not re-run git on every listing.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	cache   map[string]*Info
	resolve func(string) *Info
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		cache:   make(map[string]*Info),
		resolve: Resolve,
	}
}

// Lookup returns cached-or-freshly-resolved git info for dir. Returns nil
// for directories outside any git repository.
func (c *Cache) Lookup(dir string) *Info {
	c.mu.RLock()
	cached, ok := c.cache[dir]
	c.mu.RUnlock()
	if ok && time.Since(cached.UpdatedAt) <= c.ttl {
		if cached.RepoRoot == "" {
			return nil
		}
		return cached
	}

	info := c.resolve(dir)
	stored := info
	if stored == nil {
		stored = &Info{UpdatedAt: time.Now()}
	}

	c.mu.Lock()
	c.cache[dir] = stored
	c.mu.Unlock()
	return info
}

// Resolve gets git metadata for a directory, or nil if it is not in a repo.
func Resolve(dir string) *Info {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return nil
	}

	info := &Info{
		RepoRoot:  strings.TrimSpace(string(out)),
		UpdatedAt: time.Now(),
	}

	if out, err := exec.Command("git", "-C", info.RepoRoot, "rev-parse", "--abbrev-ref", "HEAD").Output(); err == nil {
		info.Branch = strings.TrimSpace(string(out))
	}
	if out, err := exec.Command("git", "-C", info.RepoRoot, "remote", "get-url", "origin").Output(); err == nil {
		info.Remote = strings.TrimSpace(string(out))
	}

	return info
}
