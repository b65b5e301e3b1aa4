package gitinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCachesHits(t *testing.T) {
	calls := 0
	c := NewCache(time.Minute)
	c.resolve = func(dir string) *Info {
		calls++
		return &Info{RepoRoot: dir, Branch: "main", UpdatedAt: time.Now()}
	}

	first := c.Lookup("/work/repo")
	require.NotNil(t, first)
	second := c.Lookup("/work/repo")
	require.NotNil(t, second)

	assert.Equal(t, "main", second.Branch)
	assert.Equal(t, 1, calls, "second lookup must come from the cache")
}

func TestLookupCachesMisses(t *testing.T) {
	calls := 0
	c := NewCache(time.Minute)
	c.resolve = func(string) *Info {
		calls++
		return nil
	}

	assert.Nil(t, c.Lookup("/tmp/not-a-repo"))
	assert.Nil(t, c.Lookup("/tmp/not-a-repo"))
	assert.Equal(t, 1, calls, "non-repo directories must not re-run git")
}

func TestLookupRefreshesAfterTTL(t *testing.T) {
	calls := 0
	c := NewCache(time.Nanosecond)
	c.resolve = func(dir string) *Info {
		calls++
		return &Info{RepoRoot: dir, UpdatedAt: time.Now()}
	}

	c.Lookup("/work/repo")
	time.Sleep(time.Millisecond)
	c.Lookup("/work/repo")
	assert.Equal(t, 2, calls)
}
