// Package vcsid defines the opaque, content-addressed identifier types used
// throughout the core: CommitId, TreeId, FileId, ConflictId, and ChangeId.
package vcsid

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// DigestSize is the length in bytes of every identifier in this package.
const DigestSize = 32

// ID is the common representation shared by every identifier kind: a BLAKE3
// digest of the object's canonical encoding. The distinct named types below
// exist so the compiler rejects mixing, e.g., a TreeId where a CommitId is
// expected, even though the underlying representation is identical.
type ID [DigestSize]byte

// String renders the identifier as lowercase hex, matching the teacher's
// plumbing.Hash.String convention.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns the raw digest bytes.
func (id ID) Bytes() []byte {
	return id[:]
}

// Less provides a total order over identifiers.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// FromHex parses a hex string into an ID, failing if the length or alphabet
// is wrong.
func FromHex(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("vcsid: invalid hex identifier %q: %w", s, err)
	}
	if len(b) != DigestSize {
		return id, fmt.Errorf("vcsid: identifier %q has %d bytes, want %d", s, len(b), DigestSize)
	}
	copy(id[:], b)
	return id, nil
}

// Hash computes the content-addressed ID of an arbitrary byte encoding. Every
// object kind below (commit records, tree records, file blobs, conflict
// records) is addressed by calling Hash on its canonical serialization.
func Hash(data []byte) ID {
	var id ID
	sum := blake3.Sum256(data)
	copy(id[:], sum[:])
	return id
}

// CommitId identifies an immutable commit record by the hash of its fields.
type CommitId struct{ ID }

// TreeId identifies an immutable tree record.
type TreeId struct{ ID }

// FileId identifies an opaque blob retrievable from the store.
type FileId struct{ ID }

// ConflictId identifies a persisted Merge[TreeValue], written only when
// materializing legacy inline conflicts (spec.md §3, "Conflict object").
type ConflictId struct{ ID }

// ChangeId identifies a logical change. Many CommitIds may share one ChangeId
// across rewrites; unlike the other identifier kinds it is not necessarily a
// content hash of anything currently stored, so it has no dedicated Hash
// constructor here.
type ChangeId struct{ ID }

// NewCommitId content-addresses a commit record.
func NewCommitId(encoded []byte) CommitId { return CommitId{Hash(encoded)} }

// NewTreeId content-addresses a tree record.
func NewTreeId(encoded []byte) TreeId { return TreeId{Hash(encoded)} }

// NewFileId content-addresses a blob.
func NewFileId(encoded []byte) FileId { return FileId{Hash(encoded)} }

// NewConflictId content-addresses a conflict record.
func NewConflictId(encoded []byte) ConflictId { return ConflictId{Hash(encoded)} }

// RootCommitId is the well-known identifier of the repository's single root
// commit: all-zeros by convention (spec.md §6, "Well-known identifiers").
var RootCommitId = CommitId{}

// emptyTreeEncoding is the canonical (empty) encoding of a tree with no
// entries; EmptyTreeId is its content hash, computed once at init time so
// every store implementation agrees on the same well-known value without
// needing to re-derive it (spec.md §4.A, "empty_tree_id").
var emptyTreeEncoding = []byte{}

// EmptyTreeId is the fixed, well-known identifier returned by
// store.Store.EmptyTreeID.
var EmptyTreeId = NewTreeId(emptyTreeEncoding)
