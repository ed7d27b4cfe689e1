package rosbag

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/lherman-cs/go-rosbag/internal/warn"
)

const (
	headerLenInBytes = 4
	dataLenInBytes   = 4
)

// RecordFramer walks a seekable ByteSource, lazily materializing RawRecords,
// and supports random access via RecordAt for chunk_pos / INDEX_DATA offsets.
// It is not thread-safe; each concurrent reader needs its own RecordFramer
// over its own ByteSource.
type RecordFramer struct {
	src    ByteSource
	cursor int64
	warn   warn.Sink
}

// SetWarnSink installs sink as the target for non-fatal framing diagnostics,
// currently just the legacy zero-length-header skip.
func (f *RecordFramer) SetWarnSink(sink warn.Sink) { f.warn = sink }

// NewRecordFramer returns a RecordFramer reading from src, with its cursor
// positioned right after the 13-byte version magic, which it validates.
func NewRecordFramer(src ByteSource) (*RecordFramer, error) {
	magic := make([]byte, versionLineLen)
	n, err := src.ReadAt(magic, 0)
	if err != nil && err != io.EOF {
		return nil, newBagError(KindCorrupt, "magic", 0, "", err)
	}
	if n < versionLineLen {
		return nil, newBagError(KindNotABag, "magic", 0, "", fmt.Errorf("file too short"))
	}

	var version Version
	if _, err := fmt.Sscanf(string(magic), versionFormat, &version.Major, &version.Minor); err != nil {
		return nil, newBagError(KindNotABag, "magic", 0, "", err)
	}
	if version.Major != supportedVersion.Major || version.Minor != supportedVersion.Minor {
		return nil, newBagError(KindNotABag, "magic", 0, "", fmt.Errorf("%s is not supported, %s is the current supported version", version, supportedVersion))
	}

	return &RecordFramer{src: src, cursor: versionLineLen}, nil
}

func (f *RecordFramer) readAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := f.src.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && read == n) {
		return nil, err
	}
	return buf, nil
}

func (f *RecordFramer) readUint32At(off int64) (uint32, error) {
	buf, err := f.readAt(off, 4)
	if err != nil {
		return 0, err
	}
	return endian.Uint32(buf), nil
}

// frameAt reads one record's framing starting at off, WITHOUT reading the
// data payload. It returns the record and the offset immediately following
// it, for sequential callers to advance their cursor.
func (f *RecordFramer) frameAt(off int64) (*RawRecord, int64, error) {
	headerLen, err := f.readUint32At(off)
	if err != nil {
		return nil, 0, newBagError(KindCorrupt, "record", off, "", fmt.Errorf("truncated header length: %w", err))
	}

	if headerLen == 0 {
		// Legacy zero-length header. Old writers emitted these as a
		// skip-forward marker; their meaning in a well-formed file is
		// undefined, so warn and treat it as an op-less record the caller
		// skips.
		warn.Emit(f.warn, "zero-length record header at offset %d, skipping", off)
		next := off + headerLenInBytes
		return &RawRecord{Header: Header{}, Op: OpInvalid, framer: f, dataOffset: next, dataLen: 0}, next, nil
	}
	if headerLen > maxHeaderBytes {
		return nil, 0, newBagError(KindCorrupt, "record", off, "", fmt.Errorf("header length %d exceeds cap of %d", headerLen, maxHeaderBytes))
	}

	headerOff := off + headerLenInBytes
	headerBytes, err := f.readAt(headerOff, int(headerLen))
	if err != nil {
		return nil, 0, newBagError(KindCorrupt, "record", headerOff, "", fmt.Errorf("truncated header: %w", err))
	}

	header, err := parseHeader(headerBytes)
	if err != nil {
		return nil, 0, err
	}

	dataLenOff := headerOff + int64(headerLen)
	dataLen, err := f.readUint32At(dataLenOff)
	if err != nil {
		return nil, 0, newBagError(KindCorrupt, "record", dataLenOff, "", fmt.Errorf("truncated data length: %w", err))
	}

	dataOff := dataLenOff + dataLenInBytes
	nextOff := dataOff + int64(dataLen)

	op := OpInvalid
	if opByte, err := header.FirstByte("op"); err == nil {
		op = Op(opByte)
	}

	return &RawRecord{
		Header:     header,
		Op:         op,
		framer:     f,
		dataOffset: dataOff,
		dataLen:    dataLen,
	}, nextOff, nil
}

// Next reads the next record from the framer's internal cursor, advancing it
// past the record. It returns io.EOF once the source is exhausted.
func (f *RecordFramer) Next() (*RawRecord, error) {
	size, err := f.src.Size()
	if err != nil {
		return nil, err
	}
	if f.cursor >= size {
		return nil, io.EOF
	}

	record, next, err := f.frameAt(f.cursor)
	if err != nil {
		return nil, err
	}
	f.cursor = next
	return record, nil
}

// RecordAt seeks to offset and reads one record without disturbing the
// framer's sequential cursor, used for random access from chunk_pos and
// INDEX_DATA offsets.
func (f *RecordFramer) RecordAt(offset int64) (*RawRecord, error) {
	record, _, err := f.frameAt(offset)
	return record, err
}

// Seek repositions the framer's sequential cursor, used by BagIndex to jump
// directly to index_pos after reading BAG_HEADER.
func (f *RecordFramer) Seek(offset int64) {
	f.cursor = offset
}

// Offset returns the framer's current sequential cursor.
func (f *RecordFramer) Offset() int64 {
	return f.cursor
}

// Decoder is a convenience sequential reader over a plain io.Reader (not a
// seekable ByteSource): it checks the version line and then scans top-level
// records one at a time, performing no decompression and no random access.
// BagFile (backed by a ByteSource and RecordFramer) is the entry point for
// full structural indexing and message iteration; Decoder remains for
// callers that only want to walk a bag top to bottom over a stream, matching
// the shape of the original streaming API this package exposed.
type Decoder struct {
	scanner        *bufio.Scanner
	checkedVersion bool
	record         *RawRecord
	err            error
}

// NewDecoder returns a Decoder that reads records sequentially from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHeaderBytes*2)
	decoder := &Decoder{scanner: scanner}
	// bufio.Scanner takes a single split function, set before the first
	// Scan: it splits off the version line first and whole records after.
	scanRecords := newScanRecords(func(rec *RawRecord) { decoder.record = rec })
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if !decoder.checkedVersion {
			return scanStrictLines(data, atEOF)
		}
		return scanRecords(data, atEOF)
	})
	return decoder
}

// Next returns the next top-level record. It returns io.EOF once the stream
// is exhausted.
func (decoder *Decoder) Next() (*RawRecord, error) {
	if decoder.err != nil {
		return nil, decoder.err
	}

	if !decoder.checkedVersion {
		if err := decoder.checkVersion(); err != nil {
			decoder.err = err
			return nil, err
		}
		decoder.checkedVersion = true
	}

	decoder.record = nil
	if !decoder.scanner.Scan() {
		if err := decoder.scanner.Err(); err != nil {
			decoder.err = err
			return nil, err
		}
		return nil, io.EOF
	}
	return decoder.record, nil
}

func (decoder *Decoder) checkVersion() error {
	var version Version

	if !decoder.scanner.Scan() {
		err := decoder.scanner.Err()
		if err == nil {
			err = fmt.Errorf("failed to find version new line character delimiter")
		}
		return newBagError(KindNotABag, "magic", 0, "", err)
	}

	versionLine := decoder.scanner.Text()
	if _, err := fmt.Sscanf(versionLine, versionFormat, &version.Major, &version.Minor); err != nil {
		return newBagError(KindNotABag, "magic", 0, "", err)
	}

	if version.Major != supportedVersion.Major || version.Minor != supportedVersion.Minor {
		return newBagError(KindNotABag, "magic", 0, "", fmt.Errorf("%s is not supported, %s is the current supported version", version, supportedVersion))
	}

	return nil
}

// scanStrictLines is similar to bufio.ScanLines but it's more strict: it
// requires a trailing newline and doesn't accept CR, only '\n'.
func scanStrictLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

func newScanRecords(cb func(record *RawRecord)) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			// Clean end of stream: no partial record is left over.
			return 0, nil, nil
		}
		defer func() {
			if advance == 0 && atEOF {
				err = fmt.Errorf("corrupted record data")
			}
		}()

		var recordLen int
		if len(data) < headerLenInBytes {
			return 0, nil, nil
		}
		headerLen := endian.Uint32(data[recordLen : recordLen+headerLenInBytes])
		recordLen += headerLenInBytes

		if uint32(len(data[recordLen:])) < headerLen {
			return 0, nil, nil
		}
		headerBytes := data[recordLen : recordLen+int(headerLen)]
		recordLen += int(headerLen)

		if len(data[recordLen:]) < dataLenInBytes {
			return 0, nil, nil
		}
		dataLen := endian.Uint32(data[recordLen : recordLen+dataLenInBytes])
		recordLen += dataLenInBytes

		if uint32(len(data[recordLen:])) < dataLen {
			return 0, nil, nil
		}
		dataBytes := data[recordLen : recordLen+int(dataLen)]
		recordLen += int(dataLen)

		header, herr := parseHeader(headerBytes)
		if herr != nil {
			return 0, nil, herr
		}
		op := OpInvalid
		if b, ferr := header.FirstByte("op"); ferr == nil {
			op = Op(b)
		}

		buf := make([]byte, len(dataBytes))
		copy(buf, dataBytes)
		cb(&RawRecord{Header: header, Op: op, data: buf})
		return recordLen, data[:recordLen], nil
	}
}
