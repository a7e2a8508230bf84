package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// RelativeMode selects how a relative requested path is made absolute.
type RelativeMode int

const (
	// RelativeToWorkingDir resolves against the process working directory.
	RelativeToWorkingDir RelativeMode = iota
	// RelativeToRoots tries each allowed directory in order and takes the
	// first one that lexically contains the joined path.
	RelativeToRoots
)

// ParseRelativeMode maps "cwd" (or "") and "roots" to a RelativeMode.
func ParseRelativeMode(s string) (RelativeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cwd":
		return RelativeToWorkingDir, nil
	case "roots":
		return RelativeToRoots, nil
	default:
		return 0, fmt.Errorf("unknown relative path mode %q", s)
	}
}

// Validator decides whether a requested path may be touched given a set of
// allowed directories. It holds no allowed set of its own: every call gets
// the snapshot it must use.
type Validator struct {
	norm   *Normalizer
	fs     FS
	mode   RelativeMode
	getwd  func() (string, error)
	logger zerolog.Logger
}

// NewValidator returns a Validator. A nil fsys means OSFS.
func NewValidator(norm *Normalizer, fsys FS, mode RelativeMode, logger zerolog.Logger) *Validator {
	if fsys == nil {
		fsys = OSFS{}
	}
	return &Validator{norm: norm, fs: fsys, mode: mode, getwd: os.Getwd, logger: logger}
}

// Validate returns the canonical form of requested, or the reason it must not be touched.
func (v *Validator) Validate(requested string, allowed []string) Outcome {
	conv := v.norm.Convention
	if detail := checkPathString(requested); detail != "" {
		return deny(InvalidPath, "Invalid path - "+detail)
	}

	p := v.norm.Normalize(v.norm.ExpandHome(requested))
	if !conv.IsAbs(p) {
		abs, out, ok := v.absolutize(p, allowed)
		if !ok {
			return out
		}
		p = abs
	}

	// Lexical containment first, so malformed paths never reach a syscall.
	if !conv.WithinAny(allowed, p) {
		return deny(OutsideAllowed, fmt.Sprintf(
			"Access denied - path outside allowed directories: %s not in %s", p, strings.Join(allowed, ", ")))
	}

	real, err := v.fs.RealPath(p)
	if err == nil {
		real = v.norm.Normalize(real)
		if !conv.WithinAny(allowed, real) {
			return deny(SymlinkEscape, "Access denied - symlink target outside allowed directories: "+real)
		}
		out := approve(real)
		v.adviseHardLinks(&out)
		return out
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return deny(Unreadable, fmt.Sprintf("Access denied - cannot resolve %s: %v", p, err))
	}

	if out, ok := v.checkDanglingLink(p, allowed); !ok {
		return out
	}

	parent := conv.Dir(p)
	realParent, err := v.fs.RealPath(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return deny(ParentMissing, "Parent directory does not exist: "+parent)
		}
		return deny(Unreadable, fmt.Sprintf("Access denied - cannot resolve parent %s: %v", parent, err))
	}
	realParent = v.norm.Normalize(realParent)
	if !conv.WithinAny(allowed, realParent) {
		return deny(ParentOutsideAllowed, "Access denied - parent directory outside allowed directories: "+realParent)
	}
	return approve(p)
}

func (v *Validator) absolutize(p string, allowed []string) (string, Outcome, bool) {
	conv := v.norm.Convention
	if v.mode == RelativeToRoots {
		for _, root := range allowed {
			candidate := conv.Join(root, p)
			if conv.Within(root, candidate) {
				return candidate, Outcome{}, true
			}
		}
		return "", deny(NoRootMatch, "Access denied - no allowed directory contains relative path: "+p), false
	}
	wd, err := v.getwd()
	if err != nil {
		return "", deny(Unreadable, fmt.Sprintf("Access denied - cannot determine working directory: %v", err)), false
	}
	return conv.Join(v.norm.Normalize(wd), p), Outcome{}, true
}

// maxLinkHops bounds how far a dangling symlink chain is followed.
const maxLinkHops = 40

// checkDanglingLink rejects a symlink whose target does not exist yet but
// would land outside the allowed set once created. Every hop of the chain
// must stay inside, and the final missing target's parent must resolve
// inside too, since a directory symlink along the way can still lead out.
func (v *Validator) checkDanglingLink(p string, allowed []string) (Outcome, bool) {
	conv := v.norm.Convention
	cur := p
	for hop := 0; ; hop++ {
		info, err := v.fs.Lstat(cur)
		if err != nil || info.Mode()&fs.ModeSymlink == 0 {
			break
		}
		if hop == maxLinkHops {
			return deny(Unreadable, "Access denied - too many levels of symbolic links: "+p), false
		}
		target, err := v.fs.Readlink(cur)
		if err != nil {
			return deny(Unreadable, fmt.Sprintf("Access denied - cannot read link %s: %v", cur, err)), false
		}
		target = v.norm.Normalize(target)
		if !conv.IsAbs(target) {
			target = conv.Join(conv.Dir(cur), target)
		}
		if !conv.WithinAny(allowed, target) {
			return deny(SymlinkEscape, "Access denied - symlink target outside allowed directories: "+target), false
		}
		cur = target
	}
	if cur == p {
		return Outcome{}, true
	}

	parent := conv.Dir(cur)
	realParent, err := v.fs.RealPath(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return deny(ParentMissing, "Parent directory of symlink target does not exist: "+parent), false
		}
		return deny(Unreadable, fmt.Sprintf("Access denied - cannot resolve %s: %v", parent, err)), false
	}
	realParent = v.norm.Normalize(realParent)
	if !conv.WithinAny(allowed, realParent) {
		return deny(SymlinkEscape, "Access denied - symlink target outside allowed directories: "+
			conv.Join(realParent, conv.Base(cur))), false
	}
	return Outcome{}, true
}

// adviseHardLinks flags regular files with more than one hard link. A second
// link may live outside the allowed directories, but nothing here can tell,
// so the file stays approved and the caller gets a warning.
func (v *Validator) adviseHardLinks(out *Outcome) {
	info, err := v.fs.Stat(out.Path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	n, err := v.fs.LinkCount(out.Path)
	if err != nil {
		v.logger.Debug().Err(err).Str("path", out.Path).Msg("link count unavailable")
		return
	}
	out.LinkCount = n
	if n > 1 {
		v.logger.Warn().Str("path", out.Path).Uint64("links", n).
			Msg("file has multiple hard links; other links may lie outside allowed directories")
	}
}

func checkPathString(p string) string {
	if strings.TrimSpace(p) == "" {
		return "path cannot be empty"
	}
	if strings.IndexByte(p, 0) != -1 {
		return "path contains null byte"
	}
	if !utf8.ValidString(p) {
		return "path is not valid UTF-8"
	}
	return ""
}
