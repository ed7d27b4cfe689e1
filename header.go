package rosbag

import (
	"bytes"
	"fmt"
)

const (
	// lenInBytes is the width of every length prefix in the framing and
	// header grammars (record header/data lengths, header field lengths,
	// string/array element counts): a little-endian int32.
	lenInBytes = 4

	headerFieldDelimiter = '='

	// maxHeaderBytes and maxFieldBytes are sanity caps: anything larger
	// signals corruption rather than a legitimately large bag.
	maxHeaderBytes = 100_000
	maxFieldBytes  = 100_000
)

// Header is a parsed `name=value` field map, as found in both the top-level
// record header and a CONNECTION record's nested data header. Values are
// kept as raw bytes; typed accessors decode on demand.
type Header map[string][]byte

// parseHeader splits raw into length-prefixed "name=value" entries. The
// separator is the first '=' scanning left to right within each entry, so
// values themselves may contain '='.
func parseHeader(raw []byte) (Header, error) {
	if len(raw) > maxHeaderBytes {
		return nil, newBagError(KindCorrupt, "header", -1, "", fmt.Errorf("header of %d bytes exceeds cap of %d", len(raw), maxHeaderBytes))
	}

	header := make(Header)
	err := iterateHeaderFields(raw, func(key, value []byte) bool {
		header[string(key)] = value
		return true
	})
	if err != nil {
		return nil, newBagError(KindCorrupt, "header", -1, "", err)
	}
	return header, nil
}

// iterateHeaderFields walks the length-prefixed field list in header,
// invoking cb(key, value) for each entry until cb returns false or the
// buffer is exhausted.
func iterateHeaderFields(header []byte, cb func(key, value []byte) bool) error {
	for len(header) > 0 {
		if len(header) < lenInBytes {
			return fmt.Errorf("missing header field length")
		}

		fieldLen := int(endian.Uint32(header))
		if fieldLen < 0 || fieldLen > maxFieldBytes {
			return fmt.Errorf("header field length %d exceeds cap of %d", fieldLen, maxFieldBytes)
		}
		header = header[lenInBytes:]
		if len(header) < fieldLen {
			return fmt.Errorf("expected header field len to be %d, but got %d", fieldLen, len(header))
		}

		i := bytes.IndexByte(header[:fieldLen], headerFieldDelimiter)
		if i == -1 {
			return fmt.Errorf("invalid header field format, expected the key and value is separated by a '%c'", headerFieldDelimiter)
		}

		if !cb(header[:i], header[i+1:fieldLen]) {
			break
		}
		header = header[fieldLen:]
	}

	return nil
}

func (h Header) find(key string) ([]byte, error) {
	value, ok := h[key]
	if !ok {
		return nil, newBagError(KindUnknownField, "header", -1, key, nil)
	}
	return value, nil
}

// Bytes returns the raw value bytes for key.
func (h Header) Bytes(key string) ([]byte, error) {
	return h.find(key)
}

// String decodes key's value as a UTF-8 string.
func (h Header) String(key string) (string, error) {
	v, err := h.find(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Int32 decodes key's value as a little-endian int32.
func (h Header) Int32(key string) (int32, error) {
	v, err := h.find(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 4 {
		return 0, newBagError(KindCorrupt, "header field", -1, key, fmt.Errorf("want 4 bytes, got %d", len(v)))
	}
	return int32(endian.Uint32(v)), nil
}

// Uint32 decodes key's value as a little-endian uint32.
func (h Header) Uint32(key string) (uint32, error) {
	v, err := h.Int32(key)
	return uint32(v), err
}

// Int64 decodes key's value as a little-endian int64.
func (h Header) Int64(key string) (int64, error) {
	v, err := h.find(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 8 {
		return 0, newBagError(KindCorrupt, "header field", -1, key, fmt.Errorf("want 8 bytes, got %d", len(v)))
	}
	return int64(endian.Uint64(v)), nil
}

// Uint64 decodes key's value as a little-endian uint64.
func (h Header) Uint64(key string) (uint64, error) {
	v, err := h.Int64(key)
	return uint64(v), err
}

// Time decodes key's value as a (sec:i32, nsec:i32) Timestamp.
func (h Header) Time(key string) (Timestamp, error) {
	v, err := h.find(key)
	if err != nil {
		return Timestamp{}, err
	}
	if len(v) < 8 {
		return Timestamp{}, newBagError(KindCorrupt, "header field", -1, key, fmt.Errorf("want 8 bytes, got %d", len(v)))
	}
	return extractTimestamp(v), nil
}

// FirstByte returns the first byte of key's value, used for the single-byte
// `op` discriminator.
func (h Header) FirstByte(key string) (byte, error) {
	v, err := h.find(key)
	if err != nil {
		return 0, err
	}
	if len(v) < 1 {
		return 0, newBagError(KindCorrupt, "header field", -1, key, fmt.Errorf("empty value"))
	}
	return v[0], nil
}

// Has reports whether key is present, for optional header fields (caller_id,
// latching).
func (h Header) Has(key string) bool {
	_, ok := h[key]
	return ok
}
