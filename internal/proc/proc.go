// Package proc reads /proc to discover what a session's shell is running,
// so listings can show a busy flag and the current foreground command.
package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type entry struct {
	pid     int
	ppid    int
	cmdline string
	comm    string
}

// Snapshot is a one-shot view of the process table.
type Snapshot struct {
	entries  map[int]*entry
	children map[int][]int
}

// TakeSnapshot scans /proc. On platforms or failures where /proc is not
// readable it returns an empty snapshot; lookups then report nothing running.
func TakeSnapshot() *Snapshot {
	entries := make(map[int]*entry)
	children := make(map[int][]int)

	dirs, err := os.ReadDir("/proc")
	if err != nil {
		return &Snapshot{entries: entries, children: children}
	}

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		pid, ok := parsePID(dir.Name())
		if !ok {
			continue
		}

		stat, err := os.ReadFile(filepath.Join("/proc", dir.Name(), "stat"))
		if err != nil {
			continue
		}
		comm, ppid, ok := parseStat(string(stat))
		if !ok {
			continue
		}

		entries[pid] = &entry{
			pid:     pid,
			ppid:    ppid,
			cmdline: readCmdline(pid),
			comm:    comm,
		}
		children[ppid] = append(children[ppid], pid)
	}

	return &Snapshot{entries: entries, children: children}
}

// ForegroundCommand returns the command line of the first direct child of
// pid, or empty when the shell has nothing running. A shell with a child is
// considered busy.
func (s *Snapshot) ForegroundCommand(pid int) string {
	if s == nil || pid <= 0 {
		return ""
	}
	kids := s.children[pid]
	if len(kids) == 0 {
		return ""
	}
	child, ok := s.entries[kids[0]]
	if !ok {
		return ""
	}
	if child.cmdline != "" {
		return child.cmdline
	}
	return child.comm
}

// HasDescendant reports whether any process under pid (transitively) has a
// command line containing one of the given substrings.
func (s *Snapshot) HasDescendant(pid int, substrings []string) bool {
	if s == nil || pid <= 0 {
		return false
	}

	queue := []int{pid}
	visited := make(map[int]struct{})
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		if e, ok := s.entries[current]; ok {
			haystack := strings.ToLower(e.cmdline)
			if haystack == "" {
				haystack = strings.ToLower(e.comm)
			}
			for _, substr := range substrings {
				if substr != "" && strings.Contains(haystack, strings.ToLower(substr)) {
					return true
				}
			}
		}

		queue = append(queue, s.children[current]...)
	}
	return false
}

func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for _, ch := range name {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(name)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// parseStat extracts comm and ppid from /proc/<pid>/stat; comm is
// parenthesized and may itself contain parens, hence the LastIndex.
func parseStat(stat string) (string, int, bool) {
	stat = strings.TrimSpace(stat)
	if stat == "" {
		return "", 0, false
	}

	lparen := strings.Index(stat, "(")
	rparen := strings.LastIndex(stat, ")")
	if lparen == -1 || rparen == -1 || rparen <= lparen {
		return "", 0, false
	}

	comm := stat[lparen+1 : rparen]
	rest := strings.Fields(stat[rparen+2:])
	if len(rest) < 2 {
		return comm, 0, false
	}

	ppid, err := strconv.Atoi(rest[1])
	if err != nil {
		return comm, 0, false
	}
	return comm, ppid, true
}

func readCmdline(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(data) == 0 {
		return ""
	}
	var fields []string
	for _, part := range strings.Split(string(data), "\x00") {
		if part != "" {
			fields = append(fields, part)
		}
	}
	return strings.Join(fields, " ")
}
