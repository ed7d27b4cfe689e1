package rosbag

import (
	"github.com/lherman-cs/go-rosbag/internal/warn"
)

// VisitResult is returned by a message visitor to control whether scanning
// continues.
type VisitResult int

const (
	VisitContinue VisitResult = iota
	VisitStop
)

// MessageIterator walks an ordered list of connections over a BagIndex's
// chunks, yielding (connection, decoded message) pairs. It owns one reused
// Message per connection and mutates it in place on every Next call: callers
// must extract required values before calling Next again.
type MessageIterator struct {
	index  *BagIndex
	framer *RecordFramer
	warn   warn.Sink

	connIDs []uint32
	connPos int

	current      *Connection
	decoder      *MessageDecoder
	message      *Message
	chunkInfos   []*chunkInfoRecord
	chunkPos     int
	innerRecords []*RawRecord
	innerPos     int
}

// NewMessageIterator constructs an iterator over connIDs' messages, reading
// chunk payloads through framer. A fresh RecordFramer (and thus a fresh
// ByteSource) is required per concurrent iterator.
func NewMessageIterator(index *BagIndex, framer *RecordFramer, connIDs []uint32, sink warn.Sink) *MessageIterator {
	return &MessageIterator{index: index, framer: framer, connIDs: connIDs, warn: sink}
}

// Next advances the iterator and returns the connection and decoded message
// for the next MESSAGE_DATA record across connIDs. It returns
// (nil, nil, false, nil) once every connection is exhausted.
func (it *MessageIterator) Next() (*Connection, *Message, bool, error) {
	for {
		if it.current == nil {
			if !it.openNextConnection() {
				return nil, nil, false, nil
			}
		}

		if it.innerPos >= len(it.innerRecords) {
			if !it.loadNextChunk() {
				it.current = nil
				continue
			}
		}

		rec := it.innerRecords[it.innerPos]
		it.innerPos++

		if rec.Op != OpMessageData {
			continue
		}
		md := RecordMessageData{Raw: rec}
		conn, err := md.Conn()
		if err != nil || conn != it.current.ID {
			continue
		}

		data, err := rec.Data()
		if err != nil {
			it.warnf("skipping message on conn %d: %v", it.current.ID, err)
			continue
		}
		if err := it.decoder.decodeInto(it.message, &decodeCursor{buf: data}); err != nil {
			it.warnf("skipping message on conn %d: %v", it.current.ID, err)
			continue
		}
		return it.current, it.message, true, nil
	}
}

// openNextConnection advances to the next connection, building its decoder
// tree and chunk cursor. A connection whose decoder cannot be built is
// skipped with a warning.
func (it *MessageIterator) openNextConnection() bool {
	for it.connPos < len(it.connIDs) {
		id := it.connIDs[it.connPos]
		it.connPos++

		conn, ok := it.index.connections[id]
		if !ok {
			continue
		}
		top, err := conn.registry.Top()
		if err != nil {
			it.warnf("skipping connection %d (%s): %v", id, conn.Topic, err)
			continue
		}

		it.current = conn
		it.decoder = NewMessageDecoder(top)
		it.message = &Message{}
		it.chunkInfos = it.index.chunkInfosForConn(id)
		it.chunkPos = 0
		it.innerRecords = nil
		it.innerPos = 0
		return true
	}
	return false
}

// loadNextChunk advances to the next chunk in this connection's cursor,
// decompressing it and scanning its inner records. A chunk that fails to
// load is skipped with a warning.
func (it *MessageIterator) loadNextChunk() bool {
	for it.chunkPos < len(it.chunkInfos) {
		ci := it.chunkInfos[it.chunkPos]
		it.chunkPos++

		rec, err := it.framer.RecordAt(int64(ci.chunkPos))
		if err != nil {
			it.warnf("skipping chunk at %d: %v", ci.chunkPos, err)
			continue
		}
		if rec.Op != OpChunk {
			it.warnf("skipping chunk at %d: record is not a CHUNK", ci.chunkPos)
			continue
		}

		inner, err := (RecordChunk{Raw: rec}).InnerRecords()
		if err != nil {
			it.warnf("skipping chunk at %d: %v", ci.chunkPos, err)
			continue
		}

		it.innerRecords = inner
		it.innerPos = 0
		return true
	}
	return false
}

func (it *MessageIterator) warnf(format string, args ...interface{}) {
	warn.Emit(it.warn, format, args...)
}
