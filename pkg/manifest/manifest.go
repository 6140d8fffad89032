// Package manifest implements the binary codec for the hash manifest: an
// ordered-but-order-insensitive list of (digest, relative path) entries
// published by the archive server and consumed by the client to drive an
// update.
//
// The wire format uses big-endian (network byte order) int32 fields,
// keeping the output byte-compatible with manifests already published by
// deployed server generators:
//
//	manifest := count:int32(BE), entry{count}
//	entry    := digest:byte[32], path_len:int32(BE), path:byte[path_len]
//
// There is no framing, checksum, or version tag. EOF must coincide exactly
// with the end of the last entry.
package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/patchkit-io/patchkit/pkg/digest"
)

// ErrManifestMalformed is returned by Decode when the input does not
// conform to the manifest wire format, or exceeds the maximum supported
// size.
var ErrManifestMalformed = errors.New("manifest malformed")

// MaxFileSize is the largest manifest file Decode will accept, bounding
// the single in-memory buffer the decoder holds. This cap applies only to
// the manifest file itself; per-file content digests (pkg/digest) are
// unbounded.
const MaxFileSize = math.MaxInt32

// Entry is a single (digest, relative path) pair.
type Entry struct {
	Digest digest.Digest
	Path   string
}

// Encode writes entries to w in manifest wire format. Entries are written
// in the order given; callers that care about reproducible output should
// sort beforehand, but the format itself has no ordering requirement.
func Encode(w io.Writer, entries []Entry) error {
	if len(entries) > math.MaxInt32 {
		return fmt.Errorf("too many entries to encode: %d", len(entries))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(entries)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("unable to write entry count: %w", err)
	}

	for _, entry := range entries {
		if _, err := w.Write(entry.Digest[:]); err != nil {
			return fmt.Errorf("unable to write digest for %q: %w", entry.Path, err)
		}

		pathBytes := []byte(entry.Path)
		if len(pathBytes) > math.MaxInt32 {
			return fmt.Errorf("path too long to encode: %q", entry.Path)
		}

		var pathLen [4]byte
		binary.BigEndian.PutUint32(pathLen[:], uint32(len(pathBytes)))
		if _, err := w.Write(pathLen[:]); err != nil {
			return fmt.Errorf("unable to write path length for %q: %w", entry.Path, err)
		}
		if _, err := w.Write(pathBytes); err != nil {
			return fmt.Errorf("unable to write path %q: %w", entry.Path, err)
		}
	}

	return nil
}

// Decode reads a full manifest from r. The entire stream is buffered in
// memory before parsing, bounded by MaxFileSize, so a malformed manifest
// never leaves a half-consumed reader behind.
//
// Decode additionally rejects, as ErrManifestMalformed, any path that is
// absolute or contains a ".." segment: a manifest is server-controlled
// input that will be turned into filesystem writes and deletes, and must
// not be able to address anything outside the synchronization root.
func Decode(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read manifest: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: exceeds maximum manifest size", ErrManifestMalformed)
	}

	buffer := bytes.NewReader(data)

	var header [4]byte
	if _, err := io.ReadFull(buffer, header[:]); err != nil {
		return nil, fmt.Errorf("%w: unable to read entry count: %v", ErrManifestMalformed, err)
	}
	count := binary.BigEndian.Uint32(header[:])

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var entry Entry

		var digestBytes [digest.Size]byte
		if _, err := io.ReadFull(buffer, digestBytes[:]); err != nil {
			return nil, fmt.Errorf("%w: unable to read digest for entry %d: %v", ErrManifestMalformed, i, err)
		}
		entry.Digest = digest.Digest(digestBytes)

		var pathLenBytes [4]byte
		if _, err := io.ReadFull(buffer, pathLenBytes[:]); err != nil {
			return nil, fmt.Errorf("%w: unable to read path length for entry %d: %v", ErrManifestMalformed, i, err)
		}
		pathLen := int32(binary.BigEndian.Uint32(pathLenBytes[:]))
		if pathLen < 0 || int64(pathLen) > int64(buffer.Len()) {
			return nil, fmt.Errorf("%w: invalid path length for entry %d: %d", ErrManifestMalformed, i, pathLen)
		}

		pathBytes := make([]byte, pathLen)
		if _, err := io.ReadFull(buffer, pathBytes); err != nil {
			return nil, fmt.Errorf("%w: unable to read path for entry %d: %v", ErrManifestMalformed, i, err)
		}
		entry.Path = string(pathBytes)

		if err := validatePath(entry.Path); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrManifestMalformed, i, err)
		}

		entries = append(entries, entry)
	}

	if buffer.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing data after last entry", ErrManifestMalformed)
	}

	return entries, nil
}

// validatePath rejects paths that could escape the synchronization root.
func validatePath(path string) error {
	if strings.HasPrefix(path, "/") {
		return errors.New("absolute path not allowed")
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return errors.New("path contains \"..\" segment")
		}
	}
	return nil
}
