package rosbag

import "fmt"

// RecordBagHeader wraps the BAG_HEADER record, which occurs exactly once as
// the first record in a valid bag.
type RecordBagHeader struct {
	Raw *RawRecord
}

func (r RecordBagHeader) IndexPos() (uint64, error)  { return r.Raw.Header.Uint64("index_pos") }
func (r RecordBagHeader) ConnCount() (uint32, error) { return r.Raw.Header.Uint32("conn_count") }
func (r RecordBagHeader) ChunkCount() (uint32, error) {
	return r.Raw.Header.Uint32("chunk_count")
}

// RecordChunk wraps a CHUNK record: a compressed container of CONNECTION
// and/or MESSAGE_DATA records.
type RecordChunk struct {
	Raw *RawRecord
}

func (r RecordChunk) Compression() (Compression, error) {
	v, err := r.Raw.Header.String("compression")
	return Compression(v), err
}

func (r RecordChunk) Size() (uint32, error) { return r.Raw.Header.Uint32("size") }

// Decompress materializes and decompresses the chunk's payload. The returned
// buffer is exactly Size() bytes.
func (r RecordChunk) Decompress() ([]byte, error) {
	compression, err := r.Compression()
	if err != nil {
		return nil, err
	}
	size, err := r.Size()
	if err != nil {
		return nil, err
	}
	raw, err := r.Raw.Data()
	if err != nil {
		return nil, err
	}
	return decompressChunk(compression, raw, size)
}

// InnerRecords decodes the chunk's decompressed payload into the sequence of
// embedded CONNECTION/MESSAGE_DATA records it contains, concatenated without
// padding.
func (r RecordChunk) InnerRecords() ([]*RawRecord, error) {
	payload, err := r.Decompress()
	if err != nil {
		return nil, err
	}
	return scanInnerRecords(payload)
}

func scanInnerRecords(payload []byte) ([]*RawRecord, error) {
	var records []*RawRecord
	offset := 0
	for offset < len(payload) {
		if len(payload)-offset < headerLenInBytes {
			return nil, newBagError(KindCorrupt, "chunk payload", int64(offset), "", fmt.Errorf("truncated inner header length"))
		}
		headerLen := endian.Uint32(payload[offset : offset+headerLenInBytes])
		offset += headerLenInBytes

		if headerLen > maxHeaderBytes || uint32(len(payload)-offset) < headerLen {
			return nil, newBagError(KindCorrupt, "chunk payload", int64(offset), "", fmt.Errorf("invalid inner header length %d", headerLen))
		}
		headerBytes := payload[offset : offset+int(headerLen)]
		offset += int(headerLen)

		if len(payload)-offset < dataLenInBytes {
			return nil, newBagError(KindCorrupt, "chunk payload", int64(offset), "", fmt.Errorf("truncated inner data length"))
		}
		dataLen := endian.Uint32(payload[offset : offset+dataLenInBytes])
		offset += dataLenInBytes

		if uint32(len(payload)-offset) < dataLen {
			return nil, newBagError(KindCorrupt, "chunk payload", int64(offset), "", fmt.Errorf("truncated inner data"))
		}
		dataBytes := payload[offset : offset+int(dataLen)]
		offset += int(dataLen)

		header, err := parseHeader(headerBytes)
		if err != nil {
			return nil, err
		}
		op := OpInvalid
		if b, ferr := header.FirstByte("op"); ferr == nil {
			op = Op(b)
		}

		records = append(records, &RawRecord{Header: header, Op: op, data: dataBytes})
	}
	return records, nil
}

// RecordConnection wraps a CONNECTION record: metadata and schema text for
// one logical stream of same-typed messages.
type RecordConnection struct {
	Raw *RawRecord
}

func (r RecordConnection) Conn() (uint32, error)    { return r.Raw.Header.Uint32("conn") }
func (r RecordConnection) Topic() (string, error)   { return r.Raw.Header.String("topic") }
func (r RecordConnection) ConnectionHeader() (*ConnectionHeader, error) {
	data, err := r.Raw.Data()
	if err != nil {
		return nil, err
	}
	return parseConnectionHeader(data)
}

// RecordMessageData wraps a MESSAGE_DATA record: one serialized message.
type RecordMessageData struct {
	Raw *RawRecord
}

func (r RecordMessageData) Conn() (uint32, error) { return r.Raw.Header.Uint32("conn") }

// Time returns the timestamp at which this message was recorded (not the
// message's own header stamp, if any).
func (r RecordMessageData) Time() (Timestamp, error) { return r.Raw.Header.Time("time") }

// RecordIndexData wraps an INDEX_DATA record: a per-chunk, per-connection
// list of (time, offset) pairs.
type RecordIndexData struct {
	Raw *RawRecord
}

func (r RecordIndexData) Conn() (uint32, error)  { return r.Raw.Header.Uint32("conn") }
func (r RecordIndexData) Ver() (uint32, error)   { return r.Raw.Header.Uint32("ver") }
func (r RecordIndexData) Count() (uint32, error) { return r.Raw.Header.Uint32("count") }

// IndexEntry is one (time, offset) pair inside an INDEX_DATA record's data.
type IndexEntry struct {
	Time   Timestamp
	Offset uint32
}

// Entries decodes the count x (sec:i32, nsec:i32, offset:i32) data payload.
func (r RecordIndexData) Entries() ([]IndexEntry, error) {
	count, err := r.Count()
	if err != nil {
		return nil, err
	}
	data, err := r.Raw.Data()
	if err != nil {
		return nil, err
	}
	const entrySize = 12
	if uint64(len(data)) < uint64(count)*entrySize {
		return nil, newBagError(KindCorrupt, "index data", r.Raw.DataOffset(), "", fmt.Errorf("expected %d bytes, got %d", uint64(count)*entrySize, len(data)))
	}

	entries := make([]IndexEntry, count)
	for i := uint32(0); i < count; i++ {
		off := i * entrySize
		entries[i] = IndexEntry{
			Time:   extractTimestamp(data[off : off+8]),
			Offset: endian.Uint32(data[off+8 : off+12]),
		}
	}
	return entries, nil
}

// RecordChunkInfo wraps a CHUNK_INFO record: structural metadata about which
// connections contributed to a chunk and how many messages each sent.
type RecordChunkInfo struct {
	Raw *RawRecord
}

func (r RecordChunkInfo) Ver() (uint32, error)      { return r.Raw.Header.Uint32("ver") }
func (r RecordChunkInfo) ChunkPos() (uint64, error) { return r.Raw.Header.Uint64("chunk_pos") }
func (r RecordChunkInfo) StartTime() (Timestamp, error) {
	return r.Raw.Header.Time("start_time")
}
func (r RecordChunkInfo) EndTime() (Timestamp, error) { return r.Raw.Header.Time("end_time") }
func (r RecordChunkInfo) Count() (uint32, error)      { return r.Raw.Header.Uint32("count") }

// ChunkInfoEntry is one (conn, msg_count) pair inside a CHUNK_INFO record's
// data.
type ChunkInfoEntry struct {
	Conn     uint32
	MsgCount uint32
}

// Entries decodes the count x (conn:i32, msg_count:i32) data payload.
func (r RecordChunkInfo) Entries() ([]ChunkInfoEntry, error) {
	count, err := r.Count()
	if err != nil {
		return nil, err
	}
	data, err := r.Raw.Data()
	if err != nil {
		return nil, err
	}
	const entrySize = 8
	if uint64(len(data)) < uint64(count)*entrySize {
		return nil, newBagError(KindCorrupt, "chunk info", r.Raw.DataOffset(), "", fmt.Errorf("expected %d bytes, got %d", uint64(count)*entrySize, len(data)))
	}

	entries := make([]ChunkInfoEntry, count)
	for i := uint32(0); i < count; i++ {
		off := i * entrySize
		entries[i] = ChunkInfoEntry{
			Conn:     endian.Uint32(data[off : off+4]),
			MsgCount: endian.Uint32(data[off+4 : off+8]),
		}
	}
	return entries, nil
}
