package rosbag

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// decompressChunk materializes a CHUNK record's payload, dispatching on the
// compression header field. For bz2 and lz4 it fully decompresses into a
// buffer of exactly expectedSize bytes; a length mismatch is a
// DecompressionFailure. Unknown compression tokens are treated as opaque:
// the raw bytes are returned unchanged and the caller must not rely on them
// being message data.
func decompressChunk(compression Compression, raw []byte, expectedSize uint32) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if uint32(len(raw)) != expectedSize {
			return nil, newBagError(KindDecompressionFailure, "chunk", -1, "none", fmt.Errorf("expected %d bytes, got %d", expectedSize, len(raw)))
		}
		return raw, nil
	case CompressionBZ2:
		return readExactly(bzip2.NewReader(bytes.NewReader(raw)), expectedSize, "bz2")
	case CompressionLZ4:
		return readExactly(lz4.NewReader(bytes.NewReader(raw)), expectedSize, "lz4")
	default:
		// Unknown token: opaque passthrough.
		return raw, nil
	}
}

func readExactly(r io.Reader, size uint32, label string) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, newBagError(KindDecompressionFailure, "chunk", -1, label, err)
	}
	if uint32(n) != size {
		return nil, newBagError(KindDecompressionFailure, "chunk", -1, label, fmt.Errorf("expected %d decompressed bytes, got %d", size, n))
	}

	// Confirm the stream doesn't have trailing bytes beyond expectedSize;
	// legitimate streams end exactly at size.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m > 0 {
		return nil, newBagError(KindDecompressionFailure, "chunk", -1, label, fmt.Errorf("decompressed size exceeds declared %d bytes", size))
	}

	return buf, nil
}
