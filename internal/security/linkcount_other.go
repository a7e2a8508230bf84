//go:build !unix && !windows

package security

// Link counts are not exposed here; report a single link.
func (OSFS) LinkCount(name string) (uint64, error) {
	return 1, nil
}
