// Package digest wraps github.com/opencontainers/go-digest with the two
// usage patterns spec.md §4.C needs: verify-while-streaming an upload, and
// a canonical sha256:<hex> formatter used by internal/ociclient.
package digest

import (
	"fmt"
	"io"

	godigest "github.com/opencontainers/go-digest"
)

// Algorithm is the only digest algorithm this proxy speaks; OCI registries
// are not required to support anything else for us to interoperate with.
const Algorithm = godigest.Canonical

// Accumulator computes a SHA-256 digest and byte count as data flows
// through it, without buffering. Wrap it around the reader being streamed
// to the registry (verify-while-proxying) or around the reader being
// streamed out to the client (compute-and-record).
type Accumulator struct {
	r        io.Reader
	digester godigest.Digester
	n        int64
}

// NewAccumulator wraps r so reads through the Accumulator update the
// running digest and byte count.
func NewAccumulator(r io.Reader) *Accumulator {
	return &Accumulator{r: r, digester: Algorithm.Digester()}
}

func (a *Accumulator) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.n += int64(n)
		_, _ = a.digester.Hash().Write(p[:n])
	}
	return n, err
}

// Digest returns the running digest. Only meaningful after the wrapped
// reader has been fully drained (read to EOF).
func (a *Accumulator) Digest() godigest.Digest {
	return a.digester.Digest()
}

// Size returns the number of bytes read so far.
func (a *Accumulator) Size() int64 {
	return a.n
}

// Verify compares the accumulated digest against want, the sha256_digest
// (or full "sha256:<hex>" string) the uploader supplied. An empty want
// skips verification — the field is optional per spec.md §4.C.
func (a *Accumulator) Verify(want string) error {
	if want == "" {
		return nil
	}
	expected, err := Parse(want)
	if err != nil {
		return err
	}
	got := a.Digest()
	if got != expected {
		return fmt.Errorf("digest mismatch: computed %s, uploader declared %s", got, expected)
	}
	return nil
}

// Parse accepts either a bare hex digest or a fully qualified
// "sha256:<hex>" string and returns the canonical digest.Digest.
func Parse(s string) (godigest.Digest, error) {
	if s == "" {
		return "", fmt.Errorf("digest: empty value")
	}
	if godigest.Digest(s).Validate() == nil {
		return godigest.Digest(s), nil
	}
	withPrefix := godigest.Digest(Algorithm.String() + ":" + s)
	if err := withPrefix.Validate(); err != nil {
		return "", fmt.Errorf("digest: invalid value %q: %w", s, err)
	}
	return withPrefix, nil
}

// Hex returns the bare hex-encoded digest, without the "sha256:" prefix —
// the form spec.md's com.pyoci.sha256_digest annotation stores.
func Hex(d godigest.Digest) string {
	return d.Encoded()
}

// FromBytes computes the digest of a fully in-memory buffer, used for the
// small JSON documents (manifests, image indexes) spec.md §4.D says are
// buffered rather than streamed.
func FromBytes(b []byte) godigest.Digest {
	return Algorithm.FromBytes(b)
}
