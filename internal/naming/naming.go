// Package naming resolves sheet name collisions. Hosts treat sheet
// names case-insensitively, so every comparison here uses Unicode case
// folding.
package naming

import (
	"fmt"

	"golang.org/x/text/cases"
)

// copySuffix is appended to duplicated sheets and folders.
const copySuffix = " Copy"

// Fold returns the case-folded form of name used for comparisons.
func Fold(name string) string {
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(name)
}

// Equal reports whether two names collide on the host.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Set is a case-insensitive set of sheet names.
type Set map[string]struct{}

// NewSet builds a Set from the given names.
func NewSet(names []string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s.Add(n)
	}

	return s
}

// Add inserts name into the set.
func (s Set) Add(name string) {
	s[Fold(name)] = struct{}{}
}

// Has reports whether name collides with any member.
func (s Set) Has(name string) bool {
	_, ok := s[Fold(name)]
	return ok
}

// Exists reports whether name collides with any of existing.
func Exists(name string, existing []string) bool {
	for _, e := range existing {
		if Equal(name, e) {
			return true
		}
	}

	return false
}

// ResolveUnique returns candidate when it does not collide with any
// existing name, otherwise the first of "candidate (2)", "candidate (3)"
// and so on that is free. At most len(existing)+1 probes are made.
func ResolveUnique(candidate string, existing []string) string {
	taken := NewSet(existing)
	if !taken.Has(candidate) {
		return candidate
	}

	for counter := 2; ; counter++ {
		name := fmt.Sprintf("%s (%d)", candidate, counter)
		if !taken.Has(name) {
			return name
		}
	}
}

// CopyName returns the name for a duplicate of the sheet called name:
// "name Copy", then "name Copy (2)" and so on.
func CopyName(name string, existing []string) string {
	return ResolveUnique(name+copySuffix, existing)
}

// FolderCopyLabel returns the label for a duplicated folder. Folders
// live only in the tree so no uniqueness is required.
func FolderCopyLabel(label string) string {
	return label + copySuffix
}
