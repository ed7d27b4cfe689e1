package rosbag

import (
	"errors"
	"fmt"
	"io"

	"github.com/lherman-cs/go-rosbag/internal/warn"
)

// Connection is one logical stream of same-typed messages, resolved from a
// CONNECTION record plus its nested schema registry.
type Connection struct {
	ID                uint32
	Topic             string
	Type              string
	MD5Sum            string
	MessageDefinition string
	CallerID          string
	HasCallerID       bool
	Latching          bool
	HasLatching       bool

	registry     *SchemaRegistry
	messageCount uint64
}

// Registry returns the connection's resolved schema registry.
func (c *Connection) Registry() *SchemaRegistry { return c.registry }

// MessageCount returns the number of messages recorded on this connection,
// accumulated from every CHUNK_INFO entry naming it.
func (c *Connection) MessageCount() uint64 { return c.messageCount }

// TopicInfo summarizes one topic: its type, md5, and aggregate counts across
// every connection that publishes it.
type TopicInfo struct {
	Name            string
	Type            string
	MD5             string
	MessageCount    uint64
	ConnectionCount int
}

type chunkEntry struct {
	offset      int64 // file offset of the CHUNK record (== chunk_pos)
	compression Compression
	size        uint32
}

type chunkInfoRecord struct {
	chunkPos  uint64
	startTime Timestamp
	endTime   Timestamp
	count     uint32
	conns     []ChunkInfoEntry
}

type indexDataRecord struct {
	conn    uint32
	ver     uint32
	count   uint32
	entries []IndexEntry
}

// BagIndex is the structural, file-wide first-pass scan result: every
// CONNECTION, CHUNK position, CHUNK_INFO, and INDEX_DATA record in the file,
// plus the derived time bounds. It is build-once, read-many: once NewBagIndex
// returns, it never mutates, and may be shared read-only across goroutines
// each opening their own ByteSource over the same file.
type BagIndex struct {
	framer *RecordFramer

	indexPos       uint64
	connCountWant  uint32
	chunkCountWant uint32

	connections map[uint32]*Connection
	connOrder   []uint32

	chunks     map[int64]*chunkEntry
	chunkOrder []int64

	chunkInfos []*chunkInfoRecord
	indexData  map[uint64][]*indexDataRecord

	startTime *Timestamp
	endTime   *Timestamp

	warnSink warn.Sink
}

// SetWarnSink installs sink as the target for internally-recovered
// diagnostics: per-chunk skip, per-connection decoder-build skip, and
// count-mismatch-at-end-of-scan. A nil sink (the default) is silent.
func (idx *BagIndex) SetWarnSink(sink warn.Sink) {
	idx.warnSink = sink
	idx.framer.SetWarnSink(sink)
}

func (idx *BagIndex) warnf(format string, args ...interface{}) {
	warn.Emit(idx.warnSink, format, args...)
}

// NewBagIndex runs the first-pass structural scan over src.
func NewBagIndex(src ByteSource) (*BagIndex, error) {
	return newBagIndex(src, nil)
}

// newBagIndex is NewBagIndex with the warning sink already in place, so
// scan-time diagnostics (count mismatch, legacy zero-length headers) reach
// the sink rather than being lost before SetWarnSink could run.
func newBagIndex(src ByteSource, sink warn.Sink) (*BagIndex, error) {
	framer, err := NewRecordFramer(src)
	if err != nil {
		return nil, err
	}
	framer.SetWarnSink(sink)

	idx := &BagIndex{
		framer:      framer,
		warnSink:    sink,
		connections: make(map[uint32]*Connection),
		chunks:      make(map[int64]*chunkEntry),
		indexData:   make(map[uint64][]*indexDataRecord),
	}

	if err := idx.scanHeader(); err != nil {
		return nil, err
	}
	if err := idx.scanChunksBeforeIndex(); err != nil {
		return nil, err
	}
	if err := idx.scanIndexSection(); err != nil {
		return nil, err
	}
	idx.computeTimeBounds()
	idx.accumulateMessageCounts()
	idx.checkCounts()

	return idx, nil
}

func (idx *BagIndex) scanHeader() error {
	rec, err := idx.framer.Next()
	if err != nil {
		return err
	}
	if rec.Op != OpBagHeader {
		return newBagError(KindCorrupt, "bag header", 0, rec.Op.String(), fmt.Errorf("expected BAG_HEADER as the first record"))
	}

	bh := RecordBagHeader{Raw: rec}
	indexPos, err := bh.IndexPos()
	if err != nil {
		return err
	}
	if indexPos == 0 {
		return newBagError(KindUnindexed, "bag header", 0, "", fmt.Errorf("index_pos == 0, file was not closed cleanly"))
	}
	idx.indexPos = indexPos

	if connCount, err := bh.ConnCount(); err == nil {
		idx.connCountWant = connCount
	}
	if chunkCount, err := bh.ChunkCount(); err == nil {
		idx.chunkCountWant = chunkCount
	}
	return nil
}

// scanChunksBeforeIndex walks records between the bag header and index_pos,
// recording every CHUNK's offset without decompressing it.
func (idx *BagIndex) scanChunksBeforeIndex() error {
	for int64(idx.indexPos) > idx.framer.Offset() {
		offset := idx.framer.Offset()
		rec, err := idx.framer.Next()
		if err != nil {
			return err
		}
		if rec.Op != OpChunk {
			continue
		}

		chunk := RecordChunk{Raw: rec}
		compression, err := chunk.Compression()
		if err != nil {
			return err
		}
		size, err := chunk.Size()
		if err != nil {
			return err
		}

		idx.chunks[offset] = &chunkEntry{offset: offset, compression: compression, size: size}
		idx.chunkOrder = append(idx.chunkOrder, offset)
	}
	idx.framer.Seek(int64(idx.indexPos))
	return nil
}

// scanIndexSection reads CONNECTION / CHUNK_INFO / INDEX_DATA records from
// index_pos to EOF, which is where the structural metadata lives.
func (idx *BagIndex) scanIndexSection() error {
	var currentChunkInfo *chunkInfoRecord

	for {
		rec, err := idx.framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		switch rec.Op {
		case OpConnection:
			if err := idx.addConnection(rec); err != nil {
				return err
			}
		case OpChunkInfo:
			ci, err := idx.addChunkInfo(rec)
			if err != nil {
				return err
			}
			currentChunkInfo = ci
		case OpIndexData:
			if currentChunkInfo == nil {
				return newBagError(KindCorrupt, "index data", rec.DataOffset(), "", fmt.Errorf("INDEX_DATA with no preceding CHUNK_INFO"))
			}
			if err := idx.addIndexData(rec, currentChunkInfo.chunkPos); err != nil {
				return err
			}
		default:
			// Unexpected op in the index section: ignored, not fatal.
		}
	}
	return nil
}

func (idx *BagIndex) addConnection(rec *RawRecord) error {
	rc := RecordConnection{Raw: rec}
	id, err := rc.Conn()
	if err != nil {
		return err
	}
	hdr, err := rc.ConnectionHeader()
	if err != nil {
		return err
	}

	registry, err := ParseSchemaRegistry(hdr.Type, hdr.MessageDefinition)
	if err != nil {
		return err
	}

	conn := &Connection{
		ID:                id,
		Topic:             hdr.Topic,
		Type:              hdr.Type,
		MD5Sum:            hdr.MD5Sum,
		MessageDefinition: hdr.MessageDefinition,
		CallerID:          hdr.CallerID,
		HasCallerID:       hdr.HasCallerID,
		Latching:          hdr.Latching,
		HasLatching:       hdr.HasLatching,
		registry:          registry,
	}

	if _, exists := idx.connections[id]; !exists {
		idx.connOrder = append(idx.connOrder, id)
	}
	idx.connections[id] = conn
	return nil
}

func (idx *BagIndex) addChunkInfo(rec *RawRecord) (*chunkInfoRecord, error) {
	rc := RecordChunkInfo{Raw: rec}
	chunkPos, err := rc.ChunkPos()
	if err != nil {
		return nil, err
	}
	start, err := rc.StartTime()
	if err != nil {
		return nil, err
	}
	end, err := rc.EndTime()
	if err != nil {
		return nil, err
	}
	count, err := rc.Count()
	if err != nil {
		return nil, err
	}
	entries, err := rc.Entries()
	if err != nil {
		return nil, err
	}

	ci := &chunkInfoRecord{chunkPos: chunkPos, startTime: start, endTime: end, count: count, conns: entries}
	idx.chunkInfos = append(idx.chunkInfos, ci)
	return ci, nil
}

func (idx *BagIndex) addIndexData(rec *RawRecord, chunkPos uint64) error {
	rc := RecordIndexData{Raw: rec}
	conn, err := rc.Conn()
	if err != nil {
		return err
	}
	ver, err := rc.Ver()
	if err != nil {
		return err
	}
	count, err := rc.Count()
	if err != nil {
		return err
	}
	entries, err := rc.Entries()
	if err != nil {
		return err
	}

	idx.indexData[chunkPos] = append(idx.indexData[chunkPos], &indexDataRecord{
		conn: conn, ver: ver, count: count, entries: entries,
	})
	return nil
}

// computeTimeBounds derives the file's overall time range from every
// chunk-info and index-data timestamp.
func (idx *BagIndex) computeTimeBounds() {
	observe := func(t Timestamp) {
		if idx.startTime == nil || t.Before(*idx.startTime) {
			tc := t
			idx.startTime = &tc
		}
		if idx.endTime == nil || t.After(*idx.endTime) {
			tc := t
			idx.endTime = &tc
		}
	}

	for _, ci := range idx.chunkInfos {
		observe(ci.startTime)
		observe(ci.endTime)
	}
	for _, records := range idx.indexData {
		for _, rec := range records {
			for _, e := range rec.entries {
				observe(e.Time)
			}
		}
	}
}

// accumulateMessageCounts sums each CHUNK_INFO's per-connection counts into
// the matching Connection.
func (idx *BagIndex) accumulateMessageCounts() {
	for _, ci := range idx.chunkInfos {
		for _, entry := range ci.conns {
			if conn, ok := idx.connections[entry.Conn]; ok {
				conn.messageCount += uint64(entry.MsgCount)
			}
		}
	}
}

// checkCounts verifies the scanned chunk/connection counts against the bag
// header's declared counts: a warning, not a hard error, since a
// partially-written file may legitimately under-report.
func (idx *BagIndex) checkCounts() {
	if uint32(len(idx.chunkOrder)) != idx.chunkCountWant {
		idx.warnf("chunk_count mismatch: bag header declares %d, scan found %d", idx.chunkCountWant, len(idx.chunkOrder))
	}
	if uint32(len(idx.connections)) != idx.connCountWant {
		idx.warnf("conn_count mismatch: bag header declares %d, scan found %d", idx.connCountWant, len(idx.connections))
	}
}

// Connections returns every resolved connection, in first-seen order.
func (idx *BagIndex) Connections() []*Connection {
	out := make([]*Connection, len(idx.connOrder))
	for i, id := range idx.connOrder {
		out[i] = idx.connections[id]
	}
	return out
}

// Topics aggregates connections by topic name.
func (idx *BagIndex) Topics() []TopicInfo {
	byTopic := make(map[string]*TopicInfo)
	var order []string
	for _, id := range idx.connOrder {
		c := idx.connections[id]
		t, ok := byTopic[c.Topic]
		if !ok {
			t = &TopicInfo{Name: c.Topic, Type: c.Type, MD5: c.MD5Sum}
			byTopic[c.Topic] = t
			order = append(order, c.Topic)
		}
		t.MessageCount += c.messageCount
		t.ConnectionCount++
	}
	out := make([]TopicInfo, len(order))
	for i, name := range order {
		out[i] = *byTopic[name]
	}
	return out
}

// MessageCount returns the total message count across every connection.
func (idx *BagIndex) MessageCount() uint64 {
	var total uint64
	for _, id := range idx.connOrder {
		total += idx.connections[id].messageCount
	}
	return total
}

// StartTime returns the earliest observed timestamp, if any.
func (idx *BagIndex) StartTime() (Timestamp, bool) {
	if idx.startTime == nil {
		return Timestamp{}, false
	}
	return *idx.startTime, true
}

// EndTime returns the latest observed timestamp, if any.
func (idx *BagIndex) EndTime() (Timestamp, bool) {
	if idx.endTime == nil {
		return Timestamp{}, false
	}
	return *idx.endTime, true
}

// DurationSeconds returns end_time - start_time in seconds, or 0 if the file
// carries no timestamps at all.
func (idx *BagIndex) DurationSeconds() float64 {
	if idx.startTime == nil || idx.endTime == nil {
		return 0
	}
	return idx.endTime.ToTime().Sub(idx.startTime.ToTime()).Seconds()
}

// CompressionType reports the compression codec used by the file's chunks.
// A bag's chunks are expected to share one codec; the first chunk's codec is
// reported, "none" if the file has no chunks.
func (idx *BagIndex) CompressionType() Compression {
	if len(idx.chunkOrder) == 0 {
		return CompressionNone
	}
	return idx.chunks[idx.chunkOrder[0]].compression
}

// connectionsForTopic returns every connection id publishing topic.
func (idx *BagIndex) connectionsForTopic(topic string) []uint32 {
	var ids []uint32
	for _, id := range idx.connOrder {
		if idx.connections[id].Topic == topic {
			ids = append(ids, id)
		}
	}
	return ids
}

// connectionsForType returns every connection id whose message type matches.
func (idx *BagIndex) connectionsForType(msgType string) []uint32 {
	var ids []uint32
	for _, id := range idx.connOrder {
		if idx.connections[id].Type == msgType {
			ids = append(ids, id)
		}
	}
	return ids
}

// chunkInfosForConn returns every chunk-info entry listing conn, in the
// file's chunk-info order, not time order.
func (idx *BagIndex) chunkInfosForConn(conn uint32) []*chunkInfoRecord {
	var out []*chunkInfoRecord
	for _, ci := range idx.chunkInfos {
		for _, e := range ci.conns {
			if e.Conn == conn {
				out = append(out, ci)
				break
			}
		}
	}
	return out
}
