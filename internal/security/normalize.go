package security

import (
	"os"
	"strings"
)

// Normalizer performs the syntactic path rewrites that precede every check.
// None of its methods touch the filesystem and none of them fail: when a
// rewrite does not apply the input comes back unchanged.
type Normalizer struct {
	Convention Convention
	// Home resolves the current user's home directory.
	Home func() (string, error)
}

// NewNormalizer returns a Normalizer for conv that expands "~" with os.UserHomeDir.
func NewNormalizer(conv Convention) *Normalizer {
	return &Normalizer{Convention: conv, Home: os.UserHomeDir}
}

// ExpandHome replaces a leading "~" with the home directory.
func (n *Normalizer) ExpandHome(raw string) string {
	if !strings.HasPrefix(raw, "~") || n.Home == nil {
		return raw
	}
	home, err := n.Home()
	if err != nil || home == "" {
		return raw
	}
	return home + raw[1:]
}

// ReconcileForeignSpelling rewrites Unix-shell spellings of drive paths
// (/mnt/c/x, /c/x, c:/x) into native drive paths (C:\x). It is the identity
// unless the convention uses drive letters.
func (n *Normalizer) ReconcileForeignSpelling(raw string) string {
	if !n.Convention.DriveLetters {
		return raw
	}
	if rest, ok := strings.CutPrefix(raw, "/mnt/"); ok {
		if drive, tail, ok := splitDriveSegment(rest); ok {
			return driveRooted(drive, tail)
		}
	}
	if strings.HasPrefix(raw, "/") && len(raw) > 3 {
		if drive, tail, ok := splitDriveSegment(raw[1:]); ok && tail != "" {
			return driveRooted(drive, tail)
		}
	}
	if len(raw) >= 3 && isDriveLetter(raw[0]) && raw[1] == ':' && raw[2] == '/' {
		return strings.ToUpper(raw[:1]) + ":" + strings.ReplaceAll(raw[2:], "/", `\`)
	}
	return raw
}

// Normalize reconciles foreign spellings and then cleans the path lexically.
func (n *Normalizer) Normalize(raw string) string {
	return n.Convention.Clean(n.ReconcileForeignSpelling(raw))
}

// splitDriveSegment splits "c/rest" or "c" into the drive letter and "/rest".
func splitDriveSegment(s string) (byte, string, bool) {
	if s == "" || !isDriveLetter(s[0]) {
		return 0, "", false
	}
	if len(s) == 1 {
		return s[0], "", true
	}
	if s[1] != '/' {
		return 0, "", false
	}
	return s[0], s[1:], true
}

func driveRooted(drive byte, tail string) string {
	if tail == "" {
		tail = "/"
	}
	return strings.ToUpper(string(drive)) + ":" + strings.ReplaceAll(tail, "/", `\`)
}
