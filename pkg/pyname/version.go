package pyname

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SortVersionsDescending orders version strings newest-first on a
// best-effort basis for index rendering. Versions that parse as semver sort
// by semantic value; versions that don't parse (PEP 440 allows shapes
// semver does not, e.g. epochs or ".postN") keep a stable lexical order and
// sort after every parseable version. Parsing failure never rejects a
// version for listing purposes — spec.md is explicit that this proxy does
// not validate PEP 440 versions; this is ordering sugar only.
func SortVersionsDescending(versions []string) []string {
	type entry struct {
		raw string
		sv  *semver.Version
	}
	entries := make([]entry, len(versions))
	for i, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			entries[i] = entry{raw: v}
			continue
		}
		entries[i] = entry{raw: v, sv: sv}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.sv != nil && b.sv != nil:
			return a.sv.GreaterThan(b.sv)
		case a.sv != nil:
			return true
		case b.sv != nil:
			return false
		default:
			return a.raw < b.raw
		}
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.raw
	}
	return out
}
