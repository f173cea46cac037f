// Package encoding decodes the legacy text found in binary model formats:
// fixed-size, NUL-padded names in EUC-KR (Ragnarok Online) or Latin-1
// (3DS, MD3) as well as archive paths.
package encoding

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// Charset identifies the legacy encoding of a name field.
type Charset int

const (
	// UTF8 passes bytes through, replacing invalid sequences.
	UTF8 Charset = iota
	// EUCKR is used by Ragnarok Online model, ground and world files.
	EUCKR
	// Latin1 is used by 3DS and MD3 names.
	Latin1
)

func (c Charset) decoder() *encoding.Decoder {
	switch c {
	case EUCKR:
		return korean.EUCKR.NewDecoder()
	case Latin1:
		return charmap.ISO8859_1.NewDecoder()
	default:
		return nil
	}
}

// Decode converts data in charset c to a UTF-8 string. Data that fails to
// decode is returned with invalid bytes replaced.
func (c Charset) Decode(data []byte) string {
	if isASCII(data) {
		return string(data)
	}
	if dec := c.decoder(); dec != nil {
		if result, _, err := transform.Bytes(dec, data); err == nil {
			return string(result)
		}
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}

// FixedString decodes a fixed-size field, stopping at the first NUL.
func (c Charset) FixedString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return c.Decode(data)
}

// EUCKRToUTF8 converts EUC-KR encoded bytes to a UTF-8 string.
func EUCKRToUTF8(data []byte) string {
	return EUCKR.Decode(data)
}

// UTF8ToEUCKR converts a UTF-8 string to EUC-KR bytes, returning the input
// unchanged if it cannot be represented.
func UTF8ToEUCKR(s string) []byte {
	result, _, err := transform.Bytes(korean.EUCKR.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return result
}

// NormalizePath normalizes a resource path for case-insensitive lookup:
// backslashes become slashes, leading "./" and "/" are dropped and the
// result is lowercased.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	path = strings.TrimLeft(path, "/")
	return strings.ToLower(path)
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}
