package state

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFreshDirectory(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	st := store.Snapshot()
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.ActiveProject)
	assert.Empty(t, st.RecentProjects)
}

func TestSetActiveProjectRecency(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SetActiveProject("/work/alpha"))
	require.NoError(t, store.SetActiveProject("/work/beta"))
	require.NoError(t, store.SetActiveProject("/work/alpha"))

	st := store.Snapshot()
	assert.Equal(t, "/work/alpha", st.ActiveProject)
	// Re-activation moves to the front without duplicating.
	assert.Equal(t, []string{"/work/alpha", "/work/beta"}, st.RecentProjects)
}

func TestRecentProjectsCapped(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < maxRecentProjects+5; i++ {
		require.NoError(t, store.SetActiveProject(fmt.Sprintf("/work/p%d", i)))
	}

	st := store.Snapshot()
	assert.Len(t, st.RecentProjects, maxRecentProjects)
	assert.Equal(t, fmt.Sprintf("/work/p%d", maxRecentProjects+4), st.RecentProjects[0])
}

func TestTouchProjectKeepsActive(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.SetActiveProject("/work/alpha"))
	require.NoError(t, store.TouchProject("/work/beta"))

	st := store.Snapshot()
	assert.Equal(t, "/work/alpha", st.ActiveProject)
	assert.Equal(t, []string{"/work/beta", "/work/alpha"}, st.RecentProjects)

	// Touches are durable.
	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/beta", "/work/alpha"}, reopened.Snapshot().RecentProjects)
}

func TestRecordExit(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.RecordExit("/work/alpha", 0))
	assert.Empty(t, store.Snapshot().LastError)

	require.NoError(t, store.RecordExit("/work/alpha", 137))
	assert.Contains(t, store.Snapshot().LastError, "code 137")

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Contains(t, reopened.Snapshot().LastError, "/work/alpha")
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SetActiveProject("/work/alpha"))
	require.NoError(t, store.SetStatus(StatusReady, ""))

	reopened, err := Open(dir)
	require.NoError(t, err)
	st := reopened.Snapshot()
	assert.Equal(t, "/work/alpha", st.ActiveProject)
	assert.Equal(t, StatusReady, st.Status)
}

func TestCorruptStateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o644))

	store, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, store.Snapshot().Status)
}

func TestStatusErrorKeepsLastError(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(StatusError, "spawn failed"))
	assert.Equal(t, "spawn failed", store.Snapshot().LastError)

	require.NoError(t, store.SetStatus(StatusReady, ""))
	assert.Empty(t, store.Snapshot().LastError)
}

func TestLoadOrCreateToken(t *testing.T) {
	dir := t.TempDir()

	token, err := LoadOrCreateToken(dir)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	// Stable across calls.
	again, err := LoadOrCreateToken(dir)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	info, err := os.Stat(filepath.Join(dir, "token"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
