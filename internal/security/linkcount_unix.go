//go:build unix

package security

import "golang.org/x/sys/unix"

func (OSFS) LinkCount(name string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return 0, err
	}
	return uint64(st.Nlink), nil
}
