// Package pathenc implements the deliberately narrow percent-encoding used
// to turn a manifest-relative path into a URL suffix safe to append after
// an archive URL prefix. It is a fixed subset of RFC 3986 percent-encoding,
// not a general-purpose URL encoder: reserved characters such as '?', '#',
// and '&' are percent-encoded rather than treated as delimiters, since a
// relative path is opaque data here, not a URL component being parsed.
package pathenc

import (
	"strings"
	"unicode/utf8"
)

// isUnreserved reports whether r belongs to the unreserved set that passes
// through Encode unchanged: [A-Za-z0-9\-_.~].
func isUnreserved(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == '~':
		return true
	default:
		return false
	}
}

const hexDigits = "0123456789abcdef"

// Encode percent-encodes a relative path into a URL suffix. Both '/' and
// '\' are treated as path separators and emitted as '/'; everything outside
// the unreserved set is percent-encoded byte-by-byte in lowercase hex,
// after the string is considered as its UTF-8 byte representation.
func Encode(relativePath string) string {
	var builder strings.Builder
	builder.Grow(len(relativePath))

	for _, r := range relativePath {
		switch {
		case isUnreserved(r):
			builder.WriteRune(r)
		case r == '/' || r == '\\':
			builder.WriteByte('/')
		default:
			var buf [utf8.UTFMax]byte
			n := utf8.EncodeRune(buf[:], r)
			for _, b := range buf[:n] {
				builder.WriteByte('%')
				builder.WriteByte(hexDigits[b>>4])
				builder.WriteByte(hexDigits[b&0x0f])
			}
		}
	}

	return builder.String()
}
