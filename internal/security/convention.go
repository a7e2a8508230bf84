package security

import (
	"fmt"
	"path"
	"runtime"
	"strings"

	"golang.org/x/text/cases"
)

// Convention describes how the target filesystem spells and compares paths.
// It is chosen once at startup and injected everywhere a lexical path
// operation happens, so the validation code never branches on the host OS.
type Convention struct {
	// DriveLetters selects drive-rooted paths (C:\dir) with backslash separators.
	DriveLetters bool
	// CaseFold makes path comparison case-insensitive.
	CaseFold bool
}

var (
	PosixConvention       = Convention{}
	PosixNoCaseConvention = Convention{CaseFold: true}
	WindowsConvention     = Convention{DriveLetters: true, CaseFold: true}
)

// HostConvention returns the convention of the filesystem this process runs on.
func HostConvention() Convention {
	switch runtime.GOOS {
	case "windows":
		return WindowsConvention
	case "darwin", "ios":
		return PosixNoCaseConvention
	default:
		return PosixConvention
	}
}

// ParseConvention maps a configuration value to a Convention.
// An empty value or "auto" selects HostConvention.
func ParseConvention(name string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return HostConvention(), nil
	case "posix":
		return PosixConvention, nil
	case "posix-nocase":
		return PosixNoCaseConvention, nil
	case "windows":
		return WindowsConvention, nil
	default:
		return Convention{}, fmt.Errorf("unknown path convention %q", name)
	}
}

// Separator returns the native separator of the convention.
func (c Convention) Separator() string {
	if c.DriveLetters {
		return `\`
	}
	return "/"
}

func (c Convention) toSlash(p string) string {
	if c.DriveLetters {
		return strings.ReplaceAll(p, `\`, "/")
	}
	return p
}

func (c Convention) fromSlash(p string) string {
	if c.DriveLetters {
		return strings.ReplaceAll(p, "/", `\`)
	}
	return p
}

// volume returns the leading drive ("C:") or UNC ("\\host\share") prefix.
func (c Convention) volume(p string) string {
	if !c.DriveLetters {
		return ""
	}
	if len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':' {
		return p[:2]
	}
	s := c.toSlash(p)
	if strings.HasPrefix(s, "//") && !strings.HasPrefix(s, "///") {
		rest := s[2:]
		host, share, ok := strings.Cut(rest, "/")
		if !ok || host == "" {
			return ""
		}
		share, _, _ = strings.Cut(share, "/")
		if share == "" {
			return ""
		}
		return p[:2+len(host)+1+len(share)]
	}
	return ""
}

// Clean collapses "." and ".." segments and duplicate separators without touching the filesystem.
func (c Convention) Clean(p string) string {
	vol := c.volume(p)
	rest := p[len(vol):]
	if rest == "" {
		if vol == "" {
			return "."
		}
		return vol
	}
	cleaned := path.Clean(c.toSlash(rest))
	if vol != "" && strings.HasPrefix(vol, `\\`) && cleaned == "." {
		return vol
	}
	return vol + c.fromSlash(cleaned)
}

// IsAbs reports whether p is rooted: "/x" for posix, "C:\x" or a UNC share for drive-letter filesystems.
func (c Convention) IsAbs(p string) bool {
	if !c.DriveLetters {
		return strings.HasPrefix(p, "/")
	}
	vol := c.volume(p)
	if vol == "" {
		return false
	}
	if strings.HasPrefix(c.toSlash(vol), "//") {
		return true
	}
	rest := p[len(vol):]
	return strings.HasPrefix(rest, `\`) || strings.HasPrefix(rest, "/")
}

// Join joins the non-empty elements with the native separator and cleans the result.
func (c Convention) Join(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e != "" {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return c.Clean(strings.Join(parts, c.Separator()))
}

// Dir returns all but the last element of p.
func (c Convention) Dir(p string) string {
	vol := c.volume(p)
	dir := path.Dir(c.toSlash(p[len(vol):]))
	if strings.HasPrefix(c.toSlash(vol), "//") && (dir == "/" || dir == ".") {
		return vol
	}
	return vol + c.fromSlash(dir)
}

// Base returns the last element of p.
func (c Convention) Base(p string) string {
	vol := c.volume(p)
	return c.fromSlash(path.Base(c.toSlash(p[len(vol):])))
}

// Key returns the comparison form of p: cleaned, and case-folded when the convention folds case.
func (c Convention) Key(p string) string {
	k := c.Clean(p)
	if c.DriveLetters {
		k = c.fromSlash(k)
	}
	if c.CaseFold {
		// Casers keep state, so each call gets its own.
		k = cases.Fold().String(k)
	}
	return k
}

// Equal reports whether a and b name the same path under the convention.
func (c Convention) Equal(a, b string) bool {
	return c.Key(a) == c.Key(b)
}

// Within reports whether target is root itself or a descendant of it.
// The test is purely lexical: the path of target relative to root must not
// climb with a ".." step and must not switch to another root or drive.
func (c Convention) Within(root, target string) bool {
	r := c.Key(root)
	t := c.Key(target)
	if r == t {
		return true
	}
	sep := c.Separator()
	prefix := r
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	return strings.HasPrefix(t, prefix)
}

// WithinAny reports whether target is within at least one of roots.
func (c Convention) WithinAny(roots []string, target string) bool {
	for _, root := range roots {
		if c.Within(root, target) {
			return true
		}
	}
	return false
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
