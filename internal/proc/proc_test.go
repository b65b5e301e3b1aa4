package proc

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForegroundCommandAndHasDescendant(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Wait()
	defer cmd.Process.Kill()

	snap := TakeSnapshot()

	fg := snap.ForegroundCommand(os.Getpid())
	assert.True(t, strings.Contains(fg, "sleep"), "foreground command was %q", fg)

	assert.True(t, snap.HasDescendant(os.Getpid(), []string{"sleep"}))
	assert.False(t, snap.HasDescendant(os.Getpid(), []string{"no-such-binary"}))
}

func TestSnapshotUnknownPid(t *testing.T) {
	snap := TakeSnapshot()
	assert.Empty(t, snap.ForegroundCommand(-1))
	assert.False(t, snap.HasDescendant(0, []string{"sleep"}))
}

func TestParseStat(t *testing.T) {
	comm, ppid, ok := parseStat("123 (sh (wrapped)) S 42 1 1 0")
	require.True(t, ok)
	assert.Equal(t, "sh (wrapped)", comm)
	assert.Equal(t, 42, ppid)

	_, _, ok = parseStat("garbage")
	assert.False(t, ok)
}
