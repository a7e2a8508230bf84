package security

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// RootProposal is one entry of a client root announcement.
type RootProposal struct {
	URI  string `json:"uri" mapstructure:"uri"`
	Name string `json:"name,omitempty" mapstructure:"name"`
}

// Resolver turns directory proposals into canonical allowed directories.
type Resolver struct {
	norm   *Normalizer
	fs     FS
	getwd  func() (string, error)
	logger zerolog.Logger
}

// NewResolver returns a Resolver. A nil fsys means OSFS.
func NewResolver(norm *Normalizer, fsys FS, logger zerolog.Logger) *Resolver {
	if fsys == nil {
		fsys = OSFS{}
	}
	return &Resolver{norm: norm, fs: fsys, getwd: os.Getwd, logger: logger}
}

// Resolve keeps the proposals that name existing directories, in order,
// canonicalized and without duplicates. A bad proposal is logged and
// skipped; it never affects the others.
func (r *Resolver) Resolve(proposals []RootProposal) []string {
	conv := r.norm.Convention
	var out []string
	seen := make(map[string]struct{}, len(proposals))
	for _, prop := range proposals {
		dir, err := r.resolveOne(prop.URI)
		if err != nil {
			r.logger.Warn().Str("uri", prop.URI).Str("name", prop.Name).Err(err).Msg("skipping invalid root")
			continue
		}
		key := conv.Key(dir)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, dir)
	}
	return out
}

func (r *Resolver) resolveOne(uri string) (string, error) {
	if strings.IndexByte(uri, 0) != -1 {
		return "", fmt.Errorf("path contains null byte")
	}
	p, err := r.stripFileScheme(uri)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := r.absolute(p)
	if err != nil {
		return "", err
	}
	real, err := r.fs.RealPath(abs)
	if err != nil {
		return "", err
	}
	real = r.norm.Normalize(real)
	info, err := r.fs.Stat(real)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", real)
	}
	return real, nil
}

const fileScheme = "file://"

// stripFileScheme turns file:///x, file://localhost/x and file:///C:/x into
// plain paths. file://host/share becomes a UNC path where the convention has
// them and is refused otherwise. Anything else is taken to be a path already.
func (r *Resolver) stripFileScheme(uri string) (string, error) {
	if len(uri) < len(fileScheme) || !strings.EqualFold(uri[:len(fileScheme)], fileScheme) {
		return uri, nil
	}
	conv := r.norm.Convention
	rest := uri[len(fileScheme):]
	if conv.DriveLetters && len(rest) >= 2 && isDriveLetter(rest[0]) && rest[1] == ':' {
		return unescapePath(rest), nil
	}

	host, p := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, p = rest[:i], rest[i:]
	}
	p = unescapePath(p)
	switch {
	case host == "" || strings.EqualFold(host, "localhost"):
	case !conv.DriveLetters:
		return "", fmt.Errorf("file URI names remote host %q", host)
	case strings.Trim(p, "/") == "":
		return "", fmt.Errorf("file URI names host %q without a share", host)
	default:
		return `\\` + host + strings.ReplaceAll(p, "/", `\`), nil
	}
	if conv.DriveLetters && len(p) >= 3 && p[0] == '/' && isDriveLetter(p[1]) && p[2] == ':' {
		p = p[1:]
	}
	return p, nil
}

func unescapePath(p string) string {
	if decoded, err := url.PathUnescape(p); err == nil {
		return decoded
	}
	return p
}

func (r *Resolver) absolute(p string) (string, error) {
	conv := r.norm.Convention
	p = r.norm.Normalize(r.norm.ExpandHome(p))
	if conv.IsAbs(p) {
		return p, nil
	}
	wd, err := r.getwd()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return conv.Join(r.norm.Normalize(wd), p), nil
}

// StartupDirectories canonicalizes directories given on the command line.
// Entries that cannot be resolved yet are kept in normalized absolute form so
// that a directory may be declared before it exists; VerifyDirectories is
// the caller's check that they all exist by the time serving starts.
func (r *Resolver) StartupDirectories(args []string) []string {
	conv := r.norm.Convention
	var out []string
	seen := make(map[string]struct{}, len(args))
	for _, arg := range args {
		abs, err := r.absolute(arg)
		if err != nil {
			r.logger.Warn().Str("dir", arg).Err(err).Msg("cannot absolutize directory")
			abs = r.norm.Normalize(r.norm.ExpandHome(arg))
		}
		dir := abs
		if real, err := r.fs.RealPath(abs); err == nil {
			dir = r.norm.Normalize(real)
		}
		key := conv.Key(dir)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, dir)
	}
	return out
}

// VerifyDirectories returns an error naming the first entry that does not
// exist or is not a directory.
func (r *Resolver) VerifyDirectories(dirs []string) error {
	for _, dir := range dirs {
		info, err := r.fs.Stat(dir)
		if err != nil {
			return fmt.Errorf("error accessing directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("error: %s is not a directory", dir)
		}
	}
	return nil
}
