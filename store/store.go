// Package store defines the narrow object-store capability the core engine
// consumes (spec.md §4.A) and the typed error kinds it can fail with.
package store

import (
	"context"
	"fmt"
	"io"

	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/vcsid"
)

// ErrorKind categorizes a BackendError, mirroring the behavioral error
// categories of spec.md §7 rather than introducing one Go type per kind.
type ErrorKind int8

const (
	ReadObject ErrorKind = iota
	WriteObject
	InvalidObject
	Io
)

func (k ErrorKind) String() string {
	switch k {
	case ReadObject:
		return "read-object"
	case WriteObject:
		return "write-object"
	case InvalidObject:
		return "invalid-object"
	case Io:
		return "io"
	default:
		return "unknown"
	}
}

// BackendError is the error type every store method fails with. Path is
// carried for diagnostic context only, per spec.md §4.A ("path is passed for
// diagnostic/error context only; the store is content-addressed").
type BackendError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("store: %s at %q: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError builds a BackendError, matching the teacher's
// NewErrNotExist-style constructor pattern in modules/zeta/error.go.
func NewBackendError(kind ErrorKind, path string, err error) *BackendError {
	return &BackendError{Kind: kind, Path: path, Err: err}
}

// IsNotFound reports whether err is a BackendError signalling a missing
// object (spec.md §7, "Object not found").
func IsNotFound(err error) bool {
	var be *BackendError
	if ok := asBackendError(err, &be); ok {
		return be.Kind == ReadObject
	}
	return false
}

func asBackendError(err error, target **BackendError) bool {
	for err != nil {
		if be, ok := err.(*BackendError); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ByteStream is the streaming byte source/sink used for blob content,
// matching spec.md §4.A's ByteStream type.
type ByteStream = io.ReadCloser

// Store is the capability set the core consumes from the object backend
// (spec.md §4.A). path parameters are for diagnostics only.
type Store interface {
	GetCommit(ctx context.Context, id vcsid.CommitId) (*object.Commit, error)
	GetTree(ctx context.Context, path string, id vcsid.TreeId) (*object.Tree, error)
	// GetTreeAsync is the async variant used by the streaming diff
	// (spec.md §4.C, "Async streaming diff"). It returns a function which,
	// when called, blocks until the tree is available.
	GetTreeAsync(ctx context.Context, path string, id vcsid.TreeId) (func() (*object.Tree, error), error)
	ReadFile(ctx context.Context, path string, id vcsid.FileId) (ByteStream, error)
	WriteFile(ctx context.Context, path string, r io.Reader) (vcsid.FileId, error)
	ReadConflict(ctx context.Context, path string, id vcsid.ConflictId) ([]object.TreeValue, error)
	WriteConflict(ctx context.Context, path string, values []object.TreeValue) (vcsid.ConflictId, error)
	WriteTree(ctx context.Context, path string, tree *object.Tree) (vcsid.TreeId, error)
	EmptyTreeID() vcsid.TreeId
	// Concurrency hints the maximum number of simultaneously in-flight
	// GetTreeAsync calls the streaming diff should issue.
	Concurrency() int
}
