// Package pyname implements PEP 503 package-name normalization and the
// PEP 427/PEP 503 distribution filename codec: parsing and reconstructing
// the sdist and wheel filenames Python tooling uses to carry a package's
// name, version and platform/ABI compatibility inside an opaque filename.
package pyname

import (
	"regexp"
	"strings"
)

var normalizeRun = regexp.MustCompile(`[-_.]+`)

// Normalize implements the PEP 503 name normalization rule: lowercase, with
// any run of "-", "_" or "." collapsed to a single "-". Normalize is
// idempotent: Normalize(Normalize(n)) == Normalize(n).
func Normalize(name string) string {
	return normalizeRun.ReplaceAllString(strings.ToLower(name), "-")
}

// PackageName carries a package name in both the form a client supplied and
// its normalized form. Equality and registry-path lookups use Normalized;
// Raw is kept only to echo the name back to clients as they spelled it.
type PackageName struct {
	Raw        string
	Normalized string
}

// NewPackageName normalizes raw and returns the resulting PackageName.
func NewPackageName(raw string) PackageName {
	return PackageName{Raw: raw, Normalized: Normalize(raw)}
}

// Equal reports whether two names refer to the same package after
// normalization.
func (n PackageName) Equal(other PackageName) bool {
	return n.Normalized == other.Normalized
}

// String returns the normalized form, which is what should appear in an OCI
// repository path.
func (n PackageName) String() string {
	return n.Normalized
}
