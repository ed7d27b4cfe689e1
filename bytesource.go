package rosbag

import (
	"bytes"
	"io"
	"os"
)

// ByteSource is a seekable byte-buffer abstraction over either a file or an
// in-memory buffer. It only offers positioned reads (ReadAt) and holds no
// cursor of its own; the sequential read position lives in RecordFramer.
type ByteSource interface {
	io.ReaderAt
	// Size returns the total number of bytes available from the source.
	Size() (int64, error)
	// Close releases any underlying OS resources. A ByteSource backed by an
	// in-memory buffer treats Close as a no-op.
	Close() error
}

// fileByteSource wraps an *os.File.
type fileByteSource struct {
	f *os.File
}

// OpenFile opens path for reading and returns a ByteSource over it. The
// caller owns the returned ByteSource and must Close it.
func OpenFile(path string) (ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileByteSource{f: f}, nil
}

func (s *fileByteSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileByteSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *fileByteSource) Close() error {
	return s.f.Close()
}

// memByteSource wraps an in-memory buffer, useful for tests and for callers
// that have already slurped a small bag into memory.
type memByteSource struct {
	r *bytes.Reader
}

// NewMemoryByteSource returns a ByteSource over buf. buf is not copied; the
// caller must not mutate it while the ByteSource is in use.
func NewMemoryByteSource(buf []byte) ByteSource {
	return &memByteSource{r: bytes.NewReader(buf)}
}

func (s *memByteSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

func (s *memByteSource) Size() (int64, error) {
	return s.r.Size(), nil
}

func (s *memByteSource) Close() error {
	return nil
}
