// Package matcher implements the bi-level path predicate the diff and
// revset engines consult for pruning (spec.md §6, "Matcher capability"),
// grounded on the prune/visit split in
// modules/merkletrie/noder/sparse.go's NewSparseTreeMatcher.
package matcher

import "strings"

// VisitResult tells the diff driver how to treat a directory: skip it
// entirely, descend and re-check each child, or take everything beneath it
// without further checks.
type VisitResult int8

const (
	// Nothing means the directory (and everything beneath it) should be
	// skipped entirely on both sides of a diff.
	Nothing VisitResult = iota
	// Specific means descend into the directory and consult Matches/Visit
	// again for each child.
	Specific
	// AllRecursively means take every descendant without further checks.
	AllRecursively
)

// Matcher is a predicate over paths supporting early directory pruning.
type Matcher interface {
	// Matches reports whether the given file path should be included.
	Matches(path string) bool
	// Visit reports how a directory path should be treated before
	// descending into it.
	Visit(dir string) VisitResult
}

// Everything matches every path; used when no restriction is requested.
type everything struct{}

func (everything) Matches(string) bool       { return true }
func (everything) Visit(string) VisitResult  { return AllRecursively }

// Everything is the singleton no-op matcher.
var Everything Matcher = everything{}

// prefixSet matches a fixed set of path prefixes (files or directories),
// the most common matcher shape callers construct: "restrict the diff/revset
// File() predicate to these paths."
type prefixSet struct {
	prefixes []string
}

// NewPrefixSet builds a Matcher that matches any path equal to, or nested
// under, one of the given prefixes. An empty prefix list matches nothing.
func NewPrefixSet(prefixes []string) Matcher {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		cleaned = append(cleaned, strings.TrimSuffix(p, "/"))
	}
	return &prefixSet{prefixes: cleaned}
}

func (m *prefixSet) Matches(path string) bool {
	for _, p := range m.prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (m *prefixSet) Visit(dir string) VisitResult {
	if len(m.prefixes) == 0 {
		return Nothing
	}
	for _, p := range m.prefixes {
		switch {
		case dir == p:
			return AllRecursively
		case strings.HasPrefix(dir, p+"/"):
			return AllRecursively
		case strings.HasPrefix(p, dir+"/"):
			return Specific
		case dir == "":
			return Specific
		}
	}
	return Nothing
}
