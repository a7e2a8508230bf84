package security

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FS is the slice of the filesystem the sandbox probes. Every method must
// report a missing entry with an error matching fs.ErrNotExist.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	Lstat(name string) (fs.FileInfo, error)
	// RealPath returns the absolute, symlink-free location of name.
	RealPath(name string) (string, error)
	Readlink(name string) (string, error)
	// LinkCount returns the number of hard links to the file at name.
	LinkCount(name string) (uint64, error)
}

// OSFS is the FS of the running process.
type OSFS struct{}

var _ FS = OSFS{}

func (OSFS) Stat(name string) (fs.FileInfo, error)  { return os.Stat(name) }
func (OSFS) Lstat(name string) (fs.FileInfo, error) { return os.Lstat(name) }
func (OSFS) Readlink(name string) (string, error)   { return os.Readlink(name) }

// onDiskCase respells the absolute path p component by component with the
// names list reports for each parent, preferring an exact match over a
// case-insensitive one. Components that cannot be listed or matched are
// kept as given.
func onDiskCase(p string, list func(dir string) ([]string, error)) string {
	sep := string(filepath.Separator)
	vol := filepath.VolumeName(p)
	rest := strings.TrimPrefix(p[len(vol):], sep)
	if rest == "" {
		return p
	}
	cur := vol + sep
	for _, comp := range strings.Split(rest, sep) {
		cur = filepath.Join(cur, matchName(comp, cur, list))
	}
	return cur
}

func matchName(comp, dir string, list func(string) ([]string, error)) string {
	names, err := list(dir)
	if err != nil {
		return comp
	}
	folded := ""
	for _, name := range names {
		if name == comp {
			return name
		}
		if folded == "" && strings.EqualFold(name, comp) {
			folded = name
		}
	}
	if folded != "" {
		return folded
	}
	return comp
}

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
