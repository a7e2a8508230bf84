package security

import "errors"

// ErrAccessDenied matches every *DenialError.
var ErrAccessDenied = errors.New("access denied")

// Reason classifies a validation outcome.
type Reason int

const (
	Approved Reason = iota
	// OutsideAllowed: the lexical check failed before any filesystem access.
	OutsideAllowed
	// SymlinkEscape: the resolved real path lies outside every allowed directory.
	SymlinkEscape
	// ParentOutsideAllowed: the target is missing and its resolved parent lies outside.
	ParentOutsideAllowed
	// ParentMissing: neither the target nor its parent exists.
	ParentMissing
	// NoRootMatch: a relative path fits under none of the allowed directories.
	NoRootMatch
	// Unreadable: resolution failed for a reason other than non-existence.
	Unreadable
	// InvalidPath: empty, NUL-bearing or non-UTF-8 input.
	InvalidPath
)

var reasonNames = map[Reason]string{
	Approved:             "approved",
	OutsideAllowed:       "outside_allowed",
	SymlinkEscape:        "symlink_escape",
	ParentOutsideAllowed: "parent_outside_allowed",
	ParentMissing:        "parent_missing",
	NoRootMatch:          "no_root_match",
	Unreadable:           "unreadable",
	InvalidPath:          "invalid_path",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Outcome is the result of one validation: an approved canonical path or a denial.
type Outcome struct {
	// Path is the canonical path when approved, empty otherwise.
	Path   string
	Reason Reason
	// Detail is a human-readable account of a denial.
	Detail string
	// LinkCount is the hard-link count of an approved existing regular file, 0 if unknown.
	LinkCount uint64
}

// OK reports whether the path was approved.
func (o Outcome) OK() bool {
	return o.Reason == Approved
}

// Err returns nil for an approved outcome and a *DenialError otherwise.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &DenialError{Reason: o.Reason, Detail: o.Detail}
}

// DenialError carries a denial through error-returning call chains.
type DenialError struct {
	Reason Reason
	Detail string
}

func (e *DenialError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "Access denied - " + e.Reason.String()
}

// Is makes errors.Is(err, ErrAccessDenied) true for every denial.
func (e *DenialError) Is(target error) bool {
	return target == ErrAccessDenied
}

func approve(path string) Outcome {
	return Outcome{Path: path, Reason: Approved}
}

func deny(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}
