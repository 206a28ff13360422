// Package apperr defines the error kinds shared by the dataset preparation pipeline.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidName   = errors.New("invalid name")

	// Input shape errors.
	ErrEmptyDataset        = errors.New("empty dataset")
	ErrPartitionDegenerate = errors.New("partition degenerate")
	ErrUnsafePath          = errors.New("unsafe path")
	ErrMalformedAnnotation = errors.New("malformed annotation")

	// Data integrity errors.
	ErrRegistryCorrupt = errors.New("registry corrupt")
	ErrHistoryCorrupt  = errors.New("history corrupt")
	ErrClassMismatch   = errors.New("class mismatch")

	// Persistence errors.
	ErrPersistence = errors.New("persistence error")
)

// Error ties an error kind to the stage and file that produced it.
type Error struct {
	Kind  error
	Stage string
	Path  string
	Err   error
}

// New returns an *Error of the given kind.
func New(kind error, stage, path string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Path: path, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ClassMismatchError reports the exact difference between two class sets.
type ClassMismatchError struct {
	Missing []string // present in the registry, absent from the candidate
	Extra   []string // present in the candidate, absent from the registry
}

func (e *ClassMismatchError) Error() string {
	return fmt.Sprintf("class mismatch: missing %v, extra %v", e.Missing, e.Extra)
}

// Is reports whether target is ErrClassMismatch.
func (e *ClassMismatchError) Is(target error) bool {
	return target == ErrClassMismatch
}
