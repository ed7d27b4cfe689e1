package rosbag

import (
	"fmt"
	"io"
	"sort"

	"github.com/k0kubun/pp/v3"

	"github.com/lherman-cs/go-rosbag/internal/warn"
)

// OpenOptions configures Open/OpenSource.
type OpenOptions struct {
	// WarnSink receives the library's internally-recovered diagnostics:
	// per-chunk skip, per-connection decoder-build skip, and
	// count-mismatch-at-end-of-scan. Nil (the default) is silent.
	WarnSink warn.Sink
}

// BagFile is the library's main entry point: a structurally indexed,
// read-only handle on one rosbag file.
type BagFile struct {
	src ByteSource
	idx *BagIndex

	topicIndexCache map[string][]topicMessageLoc
}

type topicMessageLoc struct {
	chunkOffset int64
	innerOffset int
}

// Open parses path's structural records and returns a BagFile handle.
func Open(path string, opts OpenOptions) (*BagFile, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return openSource(src, opts)
}

// OpenSource is like Open but over an already-constructed ByteSource (e.g. an
// in-memory buffer from NewMemoryByteSource, used heavily in tests).
func OpenSource(src ByteSource, opts OpenOptions) (*BagFile, error) {
	return openSource(src, opts)
}

func openSource(src ByteSource, opts OpenOptions) (*BagFile, error) {
	idx, err := newBagIndex(src, opts.WarnSink)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &BagFile{src: src, idx: idx}, nil
}

// Close releases the underlying ByteSource.
func (b *BagFile) Close() error { return b.src.Close() }

// SetWarnSink installs sink as the target for internally-recovered
// diagnostics raised while iterating this file.
func (b *BagFile) SetWarnSink(sink warn.Sink) { b.idx.SetWarnSink(sink) }

// Connections returns every resolved connection.
func (b *BagFile) Connections() []*Connection { return b.idx.Connections() }

// Topics aggregates connections by topic.
func (b *BagFile) Topics() []TopicInfo { return b.idx.Topics() }

// Chunks returns the offset of every CHUNK record, in file order.
func (b *BagFile) Chunks() []int64 {
	out := make([]int64, len(b.idx.chunkOrder))
	copy(out, b.idx.chunkOrder)
	return out
}

// ChunkInfo summarizes one CHUNK_INFO record.
type ChunkInfo struct {
	ChunkPos    uint64
	StartTime   Timestamp
	EndTime     Timestamp
	Count       uint32
	Connections []ChunkInfoEntry
}

// ChunkInfos returns every CHUNK_INFO record, in file order.
func (b *BagFile) ChunkInfos() []ChunkInfo {
	out := make([]ChunkInfo, len(b.idx.chunkInfos))
	for i, ci := range b.idx.chunkInfos {
		out[i] = ChunkInfo{ChunkPos: ci.chunkPos, StartTime: ci.startTime, EndTime: ci.endTime, Count: ci.count, Connections: ci.conns}
	}
	return out
}

// IndexSummary summarizes one INDEX_DATA record.
type IndexSummary struct {
	ChunkPos uint64
	Conn     uint32
	Ver      uint32
	Count    uint32
	Entries  []IndexEntry
}

// Indexes returns every INDEX_DATA record, grouped by the chunk it belongs
// to, in chunk file order.
func (b *BagFile) Indexes() []IndexSummary {
	var out []IndexSummary
	for _, offset := range b.idx.chunkOrder {
		for _, rec := range b.idx.indexData[uint64(offset)] {
			out = append(out, IndexSummary{ChunkPos: uint64(offset), Conn: rec.conn, Ver: rec.ver, Count: rec.count, Entries: rec.entries})
		}
	}
	return out
}

// MessageCount returns the total message count across every connection.
func (b *BagFile) MessageCount() uint64 { return b.idx.MessageCount() }

// DurationSeconds returns the file's overall time span.
func (b *BagFile) DurationSeconds() float64 { return b.idx.DurationSeconds() }

// StartTime returns the earliest observed timestamp, if any.
func (b *BagFile) StartTime() (Timestamp, bool) { return b.idx.StartTime() }

// EndTime returns the latest observed timestamp, if any.
func (b *BagFile) EndTime() (Timestamp, bool) { return b.idx.EndTime() }

// CompressionType reports the codec used by the file's chunks.
func (b *BagFile) CompressionType() Compression { return b.idx.CompressionType() }

// UniqueIdentifier returns the file's content fingerprint: a stable hash of
// structural metadata, never chunk payload bytes.
func (b *BagFile) UniqueIdentifier() (string, error) { return b.idx.Fingerprint() }

func (b *BagFile) newIterator(connIDs []uint32) *MessageIterator {
	return NewMessageIterator(b.idx, b.idx.framer, connIDs, b.idx.warnSink)
}

// ForMessagesOfType visits every decoded message whose connection's type
// matches msgType, in the iterator's connection/chunk-info order. visitor
// controls continuation via its returned VisitResult.
func (b *BagFile) ForMessagesOfType(msgType string, visitor func(*Connection, *Message) VisitResult) error {
	return b.forEach(b.idx.connectionsForType(msgType), visitor)
}

// ForMessagesOnTopic visits every decoded message published on topic.
func (b *BagFile) ForMessagesOnTopic(topic string, visitor func(*Connection, *Message) VisitResult) error {
	return b.forEach(b.idx.connectionsForTopic(topic), visitor)
}

func (b *BagFile) forEach(connIDs []uint32, visitor func(*Connection, *Message) VisitResult) error {
	it := b.newIterator(connIDs)
	for {
		conn, msg, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if visitor(conn, msg) == VisitStop {
			return nil
		}
	}
}

// FirstMessageOfType returns the first decoded message of msgType, or
// (nil, false, nil) if none exist.
func (b *BagFile) FirstMessageOfType(msgType string) (*Message, bool, error) {
	var found *Message
	err := b.ForMessagesOfType(msgType, func(_ *Connection, msg *Message) VisitResult {
		// Copy out of the reused buffer before the iterator mutates it
		// again: the caller gets ownership of a stable snapshot.
		found = snapshotMessage(msg)
		return VisitStop
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// MessageOnTopicAtIndex returns the i-th message (0-based, file order)
// published on topic, building and caching a per-topic message index on
// first use.
func (b *BagFile) MessageOnTopicAtIndex(topic string, i int) (*Message, error) {
	locs, err := b.topicMessageLocs(topic)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(locs) {
		return nil, newBagError(KindIndexOutOfRange, "topic index", -1, fmt.Sprintf("%s[%d]", topic, i), nil)
	}
	loc := locs[i]

	rec, err := b.idx.framer.RecordAt(loc.chunkOffset)
	if err != nil {
		return nil, err
	}
	inner, err := (RecordChunk{Raw: rec}).InnerRecords()
	if err != nil {
		return nil, err
	}
	if loc.innerOffset >= len(inner) {
		return nil, newBagError(KindCorrupt, "topic index", loc.chunkOffset, topic, fmt.Errorf("stale cached inner offset"))
	}

	msgRec := inner[loc.innerOffset]
	connIDs := b.idx.connectionsForTopic(topic)
	var conn *Connection
	for _, id := range connIDs {
		if c, ok := b.idx.connections[id]; ok && b.connMatchesRecord(c, msgRec) {
			conn = c
			break
		}
	}
	if conn == nil {
		return nil, newBagError(KindUnknownMessage, "topic index", loc.chunkOffset, topic, nil)
	}

	top, err := conn.registry.Top()
	if err != nil {
		return nil, err
	}
	data, err := msgRec.Data()
	if err != nil {
		return nil, err
	}
	return NewMessageDecoder(top).Decode(data)
}

func (b *BagFile) connMatchesRecord(c *Connection, rec *RawRecord) bool {
	md := RecordMessageData{Raw: rec}
	conn, err := md.Conn()
	return err == nil && conn == c.ID
}

// topicMessageLocs builds (or returns the cached) per-topic message index by
// scanning every chunk that CHUNK_INFO attributes to the topic's connections.
// INDEX_DATA records are not consulted: they are often absent or partial, so
// the chunk scan is the source of truth.
func (b *BagFile) topicMessageLocs(topic string) ([]topicMessageLoc, error) {
	if b.topicIndexCache == nil {
		b.topicIndexCache = make(map[string][]topicMessageLoc)
	}
	if cached, ok := b.topicIndexCache[topic]; ok {
		return cached, nil
	}

	connIDs := b.idx.connectionsForTopic(topic)
	connSet := make(map[uint32]bool, len(connIDs))
	for _, id := range connIDs {
		connSet[id] = true
	}

	seenChunks := make(map[int64]bool)
	var locs []topicMessageLoc
	for _, id := range connIDs {
		for _, ci := range b.idx.chunkInfosForConn(id) {
			offset := int64(ci.chunkPos)
			if seenChunks[offset] {
				continue
			}
			seenChunks[offset] = true

			rec, err := b.idx.framer.RecordAt(offset)
			if err != nil {
				continue
			}
			inner, err := (RecordChunk{Raw: rec}).InnerRecords()
			if err != nil {
				continue
			}
			for i, r := range inner {
				if r.Op != OpMessageData {
					continue
				}
				md := RecordMessageData{Raw: r}
				conn, err := md.Conn()
				if err != nil || !connSet[conn] {
					continue
				}
				locs = append(locs, topicMessageLoc{chunkOffset: offset, innerOffset: i})
			}
		}
	}

	sort.Slice(locs, func(i, j int) bool {
		if locs[i].chunkOffset != locs[j].chunkOffset {
			return locs[i].chunkOffset < locs[j].chunkOffset
		}
		return locs[i].innerOffset < locs[j].innerOffset
	})

	b.topicIndexCache[topic] = locs
	return locs, nil
}

func snapshotMessage(msg *Message) *Message {
	values := make([]Value, len(msg.values))
	copy(values, msg.values)
	index := make(map[string]int, len(msg.index))
	for k, v := range msg.index {
		index[k] = v
	}
	return &Message{schema: msg.schema, values: values, index: index}
}

// Dump writes a structural summary of the bag file to w: record counts,
// time range, and per-topic message counts, via pp's pretty-printer.
func (b *BagFile) Dump(w io.Writer) error {
	start, hasStart := b.StartTime()
	end, hasEnd := b.EndTime()

	summary := struct {
		Chunks      int
		Connections int
		Messages    uint64
		Compression Compression
		HasStart    bool
		Start       Timestamp
		HasEnd      bool
		End         Timestamp
		Duration    float64
		Topics      []TopicInfo
	}{
		Chunks:      len(b.idx.chunkOrder),
		Connections: len(b.idx.connOrder),
		Messages:    b.MessageCount(),
		Compression: b.CompressionType(),
		HasStart:    hasStart,
		Start:       start,
		HasEnd:      hasEnd,
		End:         end,
		Duration:    b.DurationSeconds(),
		Topics:      b.Topics(),
	}

	printer := pp.New()
	printer.SetOutput(w)
	_, err := printer.Println(summary)
	return err
}
