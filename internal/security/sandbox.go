package security

import (
	"errors"

	"github.com/rs/zerolog"
)

// ErrNoAllowedDirectories is returned by file operations while the allowed set is empty.
var ErrNoAllowedDirectories = errors.New(
	"no allowed directories available: start the server with directory arguments " +
		"or connect a client that provides roots")

// Options configure a Sandbox.
type Options struct {
	Convention   Convention
	RelativeMode RelativeMode
	// FS defaults to OSFS.
	FS     FS
	Logger zerolog.Logger
	// OnRootsReplaced, when set, is told about every replacement of the allowed set.
	OnRootsReplaced func(source string, dirs []string)
}

// Sandbox is the consumer-facing gate: it owns the allowed-directory registry
// and validates paths against whatever snapshot is current at call time.
type Sandbox struct {
	registry        *Registry
	norm            *Normalizer
	validator       *Validator
	resolver        *Resolver
	logger          zerolog.Logger
	onRootsReplaced func(string, []string)
}

// NewSandbox builds a sandbox whose allowed set starts as initial.
// initial must already be canonical (see Resolver.StartupDirectories).
func NewSandbox(initial []string, opts Options) *Sandbox {
	norm := NewNormalizer(opts.Convention)
	return &Sandbox{
		registry:        NewRegistry(initial),
		norm:            norm,
		validator:       NewValidator(norm, opts.FS, opts.RelativeMode, opts.Logger),
		resolver:        NewResolver(norm, opts.FS, opts.Logger),
		logger:          opts.Logger,
		onRootsReplaced: opts.OnRootsReplaced,
	}
}

// Validate checks path against the allowed set current at the time of the call.
// Callers that read file content must call it again right before the read.
func (s *Sandbox) Validate(path string) Outcome {
	allowed := s.registry.Snapshot()
	var out Outcome
	if len(allowed) == 0 {
		out = deny(OutsideAllowed, "Access denied - "+ErrNoAllowedDirectories.Error())
	} else {
		out = s.validator.Validate(path, allowed)
	}
	if !out.OK() {
		s.logger.Debug().Str("path", path).Stringer("reason", out.Reason).Msg("path denied")
	}
	return out
}

// ListAllowed returns the current allowed directories.
func (s *Sandbox) ListAllowed() []string {
	return s.registry.Snapshot()
}

// Ready reports whether at least one allowed directory is configured.
func (s *Sandbox) Ready() bool {
	return s.registry.Len() > 0
}

// ApplyRoots resolves a root announcement and, when at least one proposal
// survives, replaces the allowed set with it. An empty result leaves the
// current set untouched.
func (s *Sandbox) ApplyRoots(source string, proposals []RootProposal) ([]string, bool) {
	dirs := s.resolver.Resolve(proposals)
	if len(dirs) == 0 {
		s.logger.Warn().Str("source", source).Int("proposed", len(proposals)).
			Msg("no valid root directories provided by client")
		return nil, false
	}
	s.Replace(source, dirs)
	s.logger.Info().Str("source", source).Int("count", len(dirs)).Strs("dirs", dirs).
		Msg("updated allowed directories from roots")
	return dirs, true
}

// Replace installs dirs, which must already be canonical, as the allowed set.
// The callback gets its own copy of dirs, not a re-read of the registry,
// which a concurrent Replace may already have moved on from.
func (s *Sandbox) Replace(source string, dirs []string) {
	installed := append([]string(nil), dirs...)
	s.registry.Replace(installed)
	if s.onRootsReplaced != nil {
		s.onRootsReplaced(source, installed)
	}
}

// Resolver exposes the root resolver, e.g. for startup directory handling.
func (s *Sandbox) Resolver() *Resolver {
	return s.resolver
}

// Convention returns the path convention the sandbox was built with.
func (s *Sandbox) Convention() Convention {
	return s.norm.Convention
}
