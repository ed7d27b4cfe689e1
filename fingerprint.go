package rosbag

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
)

// Fingerprint computes the file's content fingerprint: a stable MD5-based
// identifier over structural metadata only (never chunk payload bytes),
// updated in a fixed order so two bags with identical structure hash
// identically. index_pos and every chunk_pos are part of the hashed data, so
// a bag whose chunks sit at different file offsets hashes differently.
func (idx *BagIndex) Fingerprint() (string, error) {
	h := md5.New()

	fmt.Fprintf(h, "header:%d:%d:%d\n", idx.chunkCountWant, idx.connCountWant, idx.indexPos)

	for _, offset := range idx.chunkOrder {
		c := idx.chunks[offset]
		fmt.Fprintf(h, "chunk:%s:%d\n", c.compression, c.size)
	}

	for _, id := range idx.connOrder {
		c := idx.connections[id]
		fmt.Fprintf(h, "conn:%s:%d:%s:%s:%s\n", c.CallerID, c.ID, c.MD5Sum, c.Topic, c.MessageDefinition)
	}

	if err := idx.hashMessageData(h); err != nil {
		return "", err
	}

	for _, offset := range idx.chunkOrder {
		for _, rec := range idx.indexData[uint64(offset)] {
			fmt.Fprintf(h, "index:%d:%d", rec.conn, rec.count)
			for _, e := range rec.entries {
				fmt.Fprintf(h, ":%d,%d,%d", e.Time.Sec, e.Time.Nsec, e.Offset)
			}
			fmt.Fprintln(h)
		}
	}

	for _, ci := range idx.chunkInfos {
		fmt.Fprintf(h, "chunkinfo:%d:%d:%d,%d:%d,%d", ci.chunkPos, ci.count,
			ci.startTime.Sec, ci.startTime.Nsec, ci.endTime.Sec, ci.endTime.Nsec)
		for _, e := range ci.conns {
			fmt.Fprintf(h, ":%d,%d", e.Conn, e.MsgCount)
		}
		fmt.Fprintln(h)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashMessageData walks every chunk in file order, decompressing each to
// read its inner MESSAGE_DATA headers (conn, time), never the serialized
// message bytes themselves.
func (idx *BagIndex) hashMessageData(h hash.Hash) error {
	for _, offset := range idx.chunkOrder {
		rec, err := idx.framer.RecordAt(offset)
		if err != nil {
			return err
		}
		if rec.Op != OpChunk {
			continue
		}
		inner, err := (RecordChunk{Raw: rec}).InnerRecords()
		if err != nil {
			return err
		}
		for _, r := range inner {
			if r.Op != OpMessageData {
				continue
			}
			msgData := RecordMessageData{Raw: r}
			conn, err := msgData.Conn()
			if err != nil {
				continue
			}
			t, err := msgData.Time()
			if err != nil {
				continue
			}
			millis := int64(t.Sec)*1000 + int64(t.Nsec)/1_000_000
			fmt.Fprintf(h, "msg:%d:%d\n", conn, millis)
		}
	}
	return nil
}
