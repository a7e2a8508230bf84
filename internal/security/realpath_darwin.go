package security

import "path/filepath"

// RealPath resolves symlinks and then restores the on-disk spelling of each
// component. EvalSymlinks keeps the caller's case, which on a
// case-insensitive volume would let "/USERS/ME" through as its own spelling.
func (OSFS) RealPath(name string) (string, error) {
	resolved, err := filepath.EvalSymlinks(name)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	return onDiskCase(abs, readDirNames), nil
}
