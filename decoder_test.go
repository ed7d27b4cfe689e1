package rosbag

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleConnection() testConnection {
	return testConnection{
		conn:              0,
		topic:             "/data",
		msgType:           "std_msgs/UInt8",
		md5sum:            "7c8164229e7d2c17eb95e9231617fdee",
		messageDefinition: "uint8 data\n",
	}
}

func TestRecordFramerRejectsNonBagFile(t *testing.T) {
	src := NewMemoryByteSource([]byte("not a rosbag at all"))
	_, err := NewRecordFramer(src)
	require.Error(t, err)

	var bagErr *BagError
	require.ErrorAs(t, err, &bagErr)
	assert.Equal(t, KindNotABag, bagErr.Kind)
}

func TestRecordFramerRejectsUnsupportedVersion(t *testing.T) {
	src := NewMemoryByteSource([]byte("#ROSBAG V1.2\n"))
	_, err := NewRecordFramer(src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotABag))
}

func TestRecordFramerSequentialScan(t *testing.T) {
	conn := simpleConnection()
	bag := buildSingleMessageBag(conn, 10, 20, []byte{180})

	src := NewMemoryByteSource(bag)
	framer, err := NewRecordFramer(src)
	require.NoError(t, err)

	var ops []Op
	for {
		rec, err := framer.Next()
		if err != nil {
			require.True(t, errors.Is(err, io.EOF))
			break
		}
		ops = append(ops, rec.Op)
	}

	assert.Equal(t, []Op{OpBagHeader, OpChunk, OpConnection, OpChunkInfo, OpIndexData}, ops)
}

func TestRecordFramerRecordAtIsRandomAccess(t *testing.T) {
	conn := simpleConnection()
	bag := buildSingleMessageBag(conn, 10, 20, []byte{180})

	src := NewMemoryByteSource(bag)
	framer, err := NewRecordFramer(src)
	require.NoError(t, err)

	first, err := framer.RecordAt(13)
	require.NoError(t, err)
	assert.Equal(t, OpBagHeader, first.Op)

	// RecordAt must not disturb the sequential cursor.
	next, err := framer.Next()
	require.NoError(t, err)
	assert.Equal(t, OpBagHeader, next.Op)
}

func TestRecordFramerWarnsOnZeroLengthHeader(t *testing.T) {
	// A zero header length is a legacy skip-forward marker: the framer must
	// warn, yield an op-less record, and resume framing right after the
	// length word.
	buf := append([]byte(versionFmtLine()), u32b(0)...)
	buf = append(buf, bagHeaderRecord(42, 0, 0)...)

	framer, err := NewRecordFramer(NewMemoryByteSource(buf))
	require.NoError(t, err)

	var warnings []string
	framer.SetWarnSink(func(msg string) { warnings = append(warnings, msg) })

	rec, err := framer.Next()
	require.NoError(t, err)
	assert.Equal(t, OpInvalid, rec.Op)
	require.Len(t, warnings, 1)

	next, err := framer.Next()
	require.NoError(t, err)
	assert.Equal(t, OpBagHeader, next.Op)
}

func TestDecoderSequentialScan(t *testing.T) {
	conn := simpleConnection()
	bag := buildSingleMessageBag(conn, 10, 20, []byte{180})

	decoder := NewDecoder(bytes.NewReader(bag))

	var ops []Op
	for {
		rec, err := decoder.Next()
		if err != nil {
			require.True(t, errors.Is(err, io.EOF))
			break
		}
		ops = append(ops, rec.Op)
	}

	assert.Equal(t, []Op{OpBagHeader, OpChunk, OpConnection, OpChunkInfo, OpIndexData}, ops)
}

func TestDecoderRejectsNonBagFile(t *testing.T) {
	decoder := NewDecoder(bytes.NewReader([]byte("garbage\nmore garbage\n")))
	_, err := decoder.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotABag))
}
