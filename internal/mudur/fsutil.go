package mudur

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// loadFile returns the contents of a file with comments and empty
// lines stripped. Unreadable files read as empty.
func loadFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(string(b), "\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// loadFileRaw returns the file contents untouched, empty when
// unreadable.
func loadFileRaw(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func writeToFile(path, data string) error {
	return os.WriteFile(path, []byte(data), 0644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// touch updates the modification time, creating the file if needed.
// Returns false when the filesystem refuses (typically read-only).
func touch(path string) bool {
	if exists(path) {
		now := time.Now()
		return os.Chtimes(path, now, now) == nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func mtime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// mdirtime returns the newest modification time of a directory or any
// file directly inside it. Directory mtimes alone miss file rewrites,
// and env.d style directories are flat.
func mdirtime(dir string) time.Time {
	newest := mtime(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest
	}
	for _, e := range entries {
		if t := mtime(filepath.Join(dir, e.Name())); t.After(newest) {
			newest = t
		}
	}
	return newest
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
