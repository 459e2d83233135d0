package pyname

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two distribution filename shapes this package
// understands.
type Kind int

const (
	// KindUnknown is the zero value; never returned from a successful parse.
	KindUnknown Kind = iota
	// KindSdist is a source distribution: <project>-<version>.tar.gz.
	KindSdist
	// KindWheel is a built distribution: <project>-<version>(-<build>)?-<py>-<abi>-<platform>.whl.
	KindWheel
)

func (k Kind) String() string {
	switch k {
	case KindSdist:
		return "sdist"
	case KindWheel:
		return "wheel"
	default:
		return "unknown"
	}
}

// Distribution is the decoded form of a distribution filename. Arch is the
// token stored as an OCI platform.architecture: the literal ".tar.gz" for
// sdists, or the "<py>-<abi>-<platform>" triple for wheels.
type Distribution struct {
	Name    string
	Version string
	Build   string // optional wheel build tag; always empty for sdists
	Arch    string
	Kind    Kind
}

// ParseFilename decodes a distribution filename. declaredName is the
// package name the caller already believes this file belongs to (e.g. from
// the URL path or the upload's "name" field); parsing fails unless the
// filename's own project token normalizes to the same name, since an
// uploader or registry mismatch here would silently cross-link packages.
func ParseFilename(filename, declaredName string) (Distribution, error) {
	switch {
	case strings.HasSuffix(filename, ".tar.gz"):
		return parseSdist(filename, declaredName)
	case strings.HasSuffix(filename, ".whl"):
		return parseWheel(filename, declaredName)
	default:
		return Distribution{}, fmt.Errorf("pyname: %q is neither a .tar.gz nor a .whl filename", filename)
	}
}

// parseSdist splits "<project>-<version>.tar.gz" by scanning for the
// leftmost "-" whose prefix normalizes to declaredName; a version token
// very rarely contains a dash but a project name commonly does, so the
// narrowest possible name wins.
func parseSdist(filename, declaredName string) (Distribution, error) {
	stem := strings.TrimSuffix(filename, ".tar.gz")
	if stem == "" {
		return Distribution{}, fmt.Errorf("pyname: empty sdist filename")
	}
	declaredNorm := Normalize(declaredName)
	for i := 0; i < len(stem); i++ {
		if stem[i] != '-' {
			continue
		}
		name, version := stem[:i], stem[i+1:]
		if name == "" || version == "" {
			continue
		}
		if Normalize(name) == declaredNorm {
			return Distribution{Name: name, Version: version, Arch: ".tar.gz", Kind: KindSdist}, nil
		}
	}
	return Distribution{}, fmt.Errorf("pyname: sdist filename %q does not match declared package %q", filename, declaredName)
}

// parseWheel splits "<project>-<version>(-<build>)?-<py>-<abi>-<platform>.whl"
// per PEP 427. Wheel filenames escape "-" in the project name and version as
// "_", which Normalize already treats as equivalent to "-".
func parseWheel(filename, declaredName string) (Distribution, error) {
	stem := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(stem, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return Distribution{}, fmt.Errorf("pyname: wheel filename %q has %d '-'-separated fields, want 5 or 6", filename, len(parts))
	}

	name, version := parts[0], parts[1]
	if name == "" || version == "" {
		return Distribution{}, fmt.Errorf("pyname: wheel filename %q has an empty name or version field", filename)
	}
	if Normalize(name) != Normalize(declaredName) {
		return Distribution{}, fmt.Errorf("pyname: wheel filename %q does not match declared package %q", filename, declaredName)
	}

	var build string
	tagParts := parts[2:]
	if len(parts) == 6 {
		build = parts[2]
		if build == "" {
			return Distribution{}, fmt.Errorf("pyname: wheel filename %q has an empty build tag field", filename)
		}
		tagParts = parts[3:]
	}

	py, abi, platform := tagParts[0], tagParts[1], tagParts[2]
	if py == "" || abi == "" || platform == "" {
		return Distribution{}, fmt.Errorf("pyname: wheel filename %q has an empty compatibility tag field", filename)
	}

	return Distribution{
		Name:    name,
		Version: version,
		Build:   build,
		Arch:    strings.Join([]string{py, abi, platform}, "-"),
		Kind:    KindWheel,
	}, nil
}

// FormatFilename is the inverse of ParseFilename: for any filename s
// accepted by ParseFilename, FormatFilename(ParseFilename(s, name)) == s.
func FormatFilename(d Distribution) (string, error) {
	switch d.Kind {
	case KindSdist:
		return fmt.Sprintf("%s-%s.tar.gz", d.Name, d.Version), nil
	case KindWheel:
		tag := strings.SplitN(d.Arch, "-", 3)
		if len(tag) != 3 {
			return "", fmt.Errorf("pyname: invalid wheel arch token %q, want <py>-<abi>-<platform>", d.Arch)
		}
		if d.Build != "" {
			return fmt.Sprintf("%s-%s-%s-%s-%s-%s.whl", d.Name, d.Version, d.Build, tag[0], tag[1], tag[2]), nil
		}
		return fmt.Sprintf("%s-%s-%s-%s-%s.whl", d.Name, d.Version, tag[0], tag[1], tag[2]), nil
	default:
		return "", fmt.Errorf("pyname: cannot format distribution of unknown kind")
	}
}
