// rosbag implements Rosbag Format Version 2.0, http://wiki.ros.org/Bags/Format/2.0.
// This package only implements the decoder: structural indexing, schema
// resolution, and message-by-message decoding. Writing or appending to bag
// files is out of scope.
package rosbag

import (
	"fmt"
)

const (
	versionFormat  = "#ROSBAG V%d.%d\n"
	versionLineLen = 13
)

var (
	supportedVersion = Version{
		Major: 2,
		Minor: 0,
	}
)

// Op discriminates the six record variants the format defines.
type Op uint8

const (
	// OpInvalid is an extension from the standard, marking an unrecognized op.
	OpInvalid     Op = 0x00
	OpMessageData Op = 0x02
	OpBagHeader   Op = 0x03
	OpIndexData   Op = 0x04
	OpChunk       Op = 0x05
	OpChunkInfo   Op = 0x06
	OpConnection  Op = 0x07
)

func (op Op) String() string {
	switch op {
	case OpBagHeader:
		return "BAG_HEADER"
	case OpChunk:
		return "CHUNK"
	case OpConnection:
		return "CONNECTION"
	case OpMessageData:
		return "MESSAGE_DATA"
	case OpIndexData:
		return "INDEX_DATA"
	case OpChunkInfo:
		return "CHUNK_INFO"
	default:
		return "INVALID"
	}
}

// Compression identifies a CHUNK's payload codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionBZ2  Compression = "bz2"
	CompressionLZ4  Compression = "lz4"
)

// Version is the bag format version declared in the 13-byte magic line.
type Version struct {
	Major uint
	Minor uint
}

func (version Version) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// RawRecord is one framed (header, data) pair read off a ByteSource, before
// it's interpreted as one of the six record variants. The data payload is
// not read until requested via Data().
type RawRecord struct {
	Header     Header
	Op         Op
	framer     *RecordFramer
	dataOffset int64
	dataLen    uint32
	data       []byte // cached once materialized
}

// Data reads and caches the record's data payload.
func (r *RawRecord) Data() ([]byte, error) {
	if r.data != nil {
		return r.data, nil
	}
	data, err := r.framer.readAt(r.dataOffset, int(r.dataLen))
	if err != nil {
		return nil, newBagError(KindCorrupt, "record data", r.dataOffset, "", err)
	}
	r.data = data
	return data, nil
}

// DataOffset returns the file offset of this record's data region, reported
// in corruption errors about the record.
func (r *RawRecord) DataOffset() int64 {
	return r.dataOffset
}

// ConnectionHeader describes a CONNECTION record's nested data header: the
// message type, its MD5 fingerprint, its textual schema, and optional
// publisher metadata.
type ConnectionHeader struct {
	Topic             string
	Type              string
	MD5Sum            string
	MessageDefinition string
	CallerID          string
	HasCallerID       bool
	Latching          bool
	HasLatching       bool
}

func (header *ConnectionHeader) String() string {
	return fmt.Sprintf("topic  : %s\ntype   : %s\nmd5sum : %s\n", header.Topic, header.Type, header.MD5Sum)
}

func parseConnectionHeader(data []byte) (*ConnectionHeader, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	var hdr ConnectionHeader
	hdr.Topic, err = h.String("topic")
	if err != nil {
		return nil, newBagError(KindCorrupt, "connection header", -1, "topic", err)
	}
	hdr.Type, err = h.String("type")
	if err != nil {
		return nil, newBagError(KindCorrupt, "connection header", -1, "type", err)
	}
	hdr.MD5Sum, err = h.String("md5sum")
	if err != nil {
		return nil, newBagError(KindCorrupt, "connection header", -1, "md5sum", err)
	}
	hdr.MessageDefinition, err = h.String("message_definition")
	if err != nil {
		return nil, newBagError(KindCorrupt, "connection header", -1, "message_definition", err)
	}
	if h.Has("callerid") {
		hdr.CallerID, _ = h.String("callerid")
		hdr.HasCallerID = true
	}
	if h.Has("latching") {
		v, _ := h.String("latching")
		hdr.Latching = v == "1"
		hdr.HasLatching = true
	}
	return &hdr, nil
}
