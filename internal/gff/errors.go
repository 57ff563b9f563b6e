package gff

import (
	"fmt"
)

// FormatError reports a line that violates the GFF3 syntax accepted by the loader.
// It is always fatal.
type FormatError struct {
	Line int
	Rule string
	Err  error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("line %d: %s", e.Line, e.Rule)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(line int, rule string, args ...any) *FormatError {
	return &FormatError{Line: line, Rule: fmt.Sprintf(rule, args...)}
}

// IntegrityError reports a duplicate uniquename not covered by a collision rule.
type IntegrityError struct {
	Line       int
	Uniquename string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("line %d: duplicate feature identifier %q", e.Line, e.Uniquename)
}

// ReferenceKind names what a ReferenceError failed to resolve.
type ReferenceKind string

const (
	RefLandmark    ReferenceKind = "landmark"
	RefParent      ReferenceKind = "parent"
	RefDerivesFrom ReferenceKind = "derives_from"
	RefTarget      ReferenceKind = "target"
	RefOrganism    ReferenceKind = "organism"
	RefType        ReferenceKind = "type"
)

// ReferenceError reports a name that could not be resolved to a feature,
// landmark or organism.
type ReferenceError struct {
	Line   int // 0 when the reference is not tied to one line
	Kind   ReferenceKind
	Name   string
	Reason string
}

func (e *ReferenceError) Error() string {
	msg := fmt.Sprintf("unresolved %s %q", e.Kind, e.Name)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

// ResourceError reports a failure of the file or cache backing the import.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// RowSkip records a feature excluded from the load by a recoverable error.
type RowSkip struct {
	Line       int
	Uniquename string
	Reason     string
}
