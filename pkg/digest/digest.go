// Package digest implements the fixed-width SHA-256 content digest used
// throughout patchkit to identify file contents.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	godigest "github.com/opencontainers/go-digest"
)

// Size is the length, in bytes, of a Digest.
const Size = sha256.Size

// Digest is a 256-bit SHA-256 content digest. The zero Digest represents no
// digest and is distinct from any real hash output.
type Digest [Size]byte

// Equal reports whether two digests are byte-wise identical.
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String renders the digest in OCI-style "sha256:<hex>" form, which is
// convenient for log lines and diagnostics even though the wire format
// (pkg/manifest) stores only the raw 32 bytes.
func (d Digest) String() string {
	return "sha256:" + hex.EncodeToString(d[:])
}

// OCI returns the digest as an opencontainers/go-digest value, for
// interoperability with tooling that expects that representation.
func (d Digest) OCI() godigest.Digest {
	return godigest.NewDigestFromBytes(godigest.SHA256, d[:])
}

// FromBytes computes the digest of an in-memory byte slice.
func FromBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// FromReader computes the digest of everything read from r, streaming the
// data through the hasher rather than buffering it, so memory use stays
// constant regardless of input size and there is no size at which the
// digest stops covering the real file contents.
func FromReader(r io.Reader) (Digest, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, fmt.Errorf("unable to read content: %w", err)
	}
	var result Digest
	copy(result[:], hasher.Sum(nil))
	return result, nil
}

// FromFile computes the digest of the regular file at path.
func FromFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("unable to open file: %w", err)
	}
	defer file.Close()
	return FromReader(file)
}

// FromSlice constructs a Digest from a raw 32-byte slice, as read off the
// wire by pkg/manifest. It returns an error if the slice isn't exactly Size
// bytes long.
func FromSlice(data []byte) (Digest, error) {
	if len(data) != Size {
		return Digest{}, errors.New("invalid digest length")
	}
	var result Digest
	copy(result[:], data)
	return result, nil
}
