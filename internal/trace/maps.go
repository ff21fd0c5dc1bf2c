package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MappedAt returns the lowest address at which the file path is mapped
// into process pid, from /proc/<pid>/maps. For a position-independent
// executable this is its load bias.
func MappedAt(pid int, path string) (uint64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return mappedAt(f, abs)
}

// mappedAt scans lines of the form
//
//	start-end perms offset dev inode path
func mappedAt(r io.Reader, path string) (uint64, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || strings.Join(fields[5:], " ") != path {
			continue
		}
		start, _, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}
		off, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil || off != 0 {
			continue
		}
		addr, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad mapping %q: %w", sc.Text(), err)
		}
		return addr, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s is not mapped", path)
}
