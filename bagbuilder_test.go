package rosbag

import (
	"bytes"
	"encoding/binary"
)

// The tests in this package have no binary fixture files to read, so this
// file assembles minimal, valid rosbag byte buffers by hand, built field by
// field rather than copied from a real recording.

func u32b(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64b(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func timeb(sec, nsec uint32) []byte {
	return append(u32b(sec), u32b(nsec)...)
}

func headerField(name string, value []byte) []byte {
	entry := append([]byte(name+"="), value...)
	return append(u32b(uint32(len(entry))), entry...)
}

func buildHeader(fields ...[]byte) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.Write(f)
	}
	return buf.Bytes()
}

func buildRecord(header, data []byte) []byte {
	var buf bytes.Buffer
	buf.Write(u32b(uint32(len(header))))
	buf.Write(header)
	buf.Write(u32b(uint32(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

// testConnection describes one connection's worth of synthetic CONNECTION
// record content.
type testConnection struct {
	conn              uint32
	topic             string
	msgType           string
	md5sum            string
	messageDefinition string
}

func (c testConnection) headerData() []byte {
	return buildHeader(
		headerField("topic", []byte(c.topic)),
		headerField("type", []byte(c.msgType)),
		headerField("md5sum", []byte(c.md5sum)),
		headerField("message_definition", []byte(c.messageDefinition)),
	)
}

func (c testConnection) record() []byte {
	h := buildHeader(
		headerField("op", []byte{byte(OpConnection)}),
		headerField("conn", u32b(c.conn)),
		headerField("topic", []byte(c.topic)),
	)
	return buildRecord(h, c.headerData())
}

func messageDataRecord(conn uint32, sec, nsec uint32, payload []byte) []byte {
	h := buildHeader(
		headerField("op", []byte{byte(OpMessageData)}),
		headerField("conn", u32b(conn)),
		headerField("time", timeb(sec, nsec)),
	)
	return buildRecord(h, payload)
}

func bagHeaderRecord(indexPos uint64, connCount, chunkCount uint32) []byte {
	h := buildHeader(
		headerField("op", []byte{byte(OpBagHeader)}),
		headerField("index_pos", u64b(indexPos)),
		headerField("conn_count", u32b(connCount)),
		headerField("chunk_count", u32b(chunkCount)),
	)
	return buildRecord(h, nil)
}

func chunkRecord(payload []byte) []byte {
	h := buildHeader(
		headerField("op", []byte{byte(OpChunk)}),
		headerField("compression", []byte(CompressionNone)),
		headerField("size", u32b(uint32(len(payload)))),
	)
	return buildRecord(h, payload)
}

func chunkInfoRecordBytes(chunkPos uint64, startSec, endSec uint32, entries []ChunkInfoEntry) []byte {
	h := buildHeader(
		headerField("op", []byte{byte(OpChunkInfo)}),
		headerField("ver", u32b(1)),
		headerField("chunk_pos", u64b(chunkPos)),
		headerField("start_time", timeb(startSec, 0)),
		headerField("end_time", timeb(endSec, 0)),
		headerField("count", u32b(uint32(len(entries)))),
	)
	var data bytes.Buffer
	for _, e := range entries {
		data.Write(u32b(e.Conn))
		data.Write(u32b(e.MsgCount))
	}
	return buildRecord(h, data.Bytes())
}

func indexDataRecordBytes(conn uint32, sec, nsec uint32, offset uint32) []byte {
	h := buildHeader(
		headerField("op", []byte{byte(OpIndexData)}),
		headerField("conn", u32b(conn)),
		headerField("ver", u32b(1)),
		headerField("count", u32b(1)),
	)
	data := buildHeader(timeb(sec, nsec), u32b(offset))
	return buildRecord(h, data)
}

// buildSingleMessageBag assembles a complete, valid, single-connection,
// single-chunk, single-message bag with one uncompressed chunk: the shape a
// tiny real recording (one std_msgs message on one topic) would have.
func buildSingleMessageBag(conn testConnection, sec, nsec uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(versionFmtLine())

	// index_pos is a fixed-width field, so a placeholder value is enough to
	// measure the bag header record's length before its real value is known.
	bagHeaderLen := len(bagHeaderRecord(0, 1, 1))

	chunkPayload := buildHeader(conn.record(), messageDataRecord(conn.conn, sec, nsec, payload))
	chunkBytes := chunkRecord(chunkPayload)
	chunkOffset := uint64(13 + bagHeaderLen)

	indexPos := chunkOffset + uint64(len(chunkBytes))

	buf.Write(bagHeaderRecord(indexPos, 1, 1))
	buf.Write(chunkBytes)
	buf.Write(conn.record())
	buf.Write(chunkInfoRecordBytes(chunkOffset, sec, sec, []ChunkInfoEntry{{Conn: conn.conn, MsgCount: 1}}))
	buf.Write(indexDataRecordBytes(conn.conn, sec, nsec, 0))

	return buf.Bytes()
}

// buildSingleMessageBagNoIndexData is buildSingleMessageBag with the
// INDEX_DATA record omitted. Real recordings sometimes lack index data
// entirely, so per-topic lookups must fall back to CHUNK_INFO plus chunk
// scanning rather than depend on it.
func buildSingleMessageBagNoIndexData(conn testConnection, sec, nsec uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(versionFmtLine())

	bagHeaderLen := len(bagHeaderRecord(0, 1, 1))

	chunkPayload := buildHeader(conn.record(), messageDataRecord(conn.conn, sec, nsec, payload))
	chunkBytes := chunkRecord(chunkPayload)
	chunkOffset := uint64(13 + bagHeaderLen)

	indexPos := chunkOffset + uint64(len(chunkBytes))

	buf.Write(bagHeaderRecord(indexPos, 1, 1))
	buf.Write(chunkBytes)
	buf.Write(conn.record())
	buf.Write(chunkInfoRecordBytes(chunkOffset, sec, sec, []ChunkInfoEntry{{Conn: conn.conn, MsgCount: 1}}))

	return buf.Bytes()
}

func versionFmtLine() string {
	return "#ROSBAG V2.0\n"
}

// testMessage is one (time, payload) pair to embed in buildMultiMessageBag's
// chunk.
type testMessage struct {
	sec, nsec uint32
	payload   []byte
}

// buildMultiMessageBag is buildSingleMessageBag generalized to an arbitrary
// number of messages on one connection, all packed into a single chunk, in
// the order given.
func buildMultiMessageBag(conn testConnection, messages []testMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString(versionFmtLine())

	bagHeaderLen := len(bagHeaderRecord(0, 1, 1))

	var chunkPayload bytes.Buffer
	chunkPayload.Write(conn.record())
	for _, m := range messages {
		chunkPayload.Write(messageDataRecord(conn.conn, m.sec, m.nsec, m.payload))
	}
	chunkBytes := chunkRecord(chunkPayload.Bytes())
	chunkOffset := uint64(13 + bagHeaderLen)

	indexPos := chunkOffset + uint64(len(chunkBytes))

	buf.Write(bagHeaderRecord(indexPos, 1, 1))
	buf.Write(chunkBytes)
	buf.Write(conn.record())

	startSec, endSec := messages[0].sec, messages[0].sec
	for _, m := range messages {
		if m.sec < startSec {
			startSec = m.sec
		}
		if m.sec > endSec {
			endSec = m.sec
		}
	}
	buf.Write(chunkInfoRecordBytes(chunkOffset, startSec, endSec, []ChunkInfoEntry{{Conn: conn.conn, MsgCount: uint32(len(messages))}}))
	for _, m := range messages {
		buf.Write(indexDataRecordBytes(conn.conn, m.sec, m.nsec, 0))
	}

	return buf.Bytes()
}
