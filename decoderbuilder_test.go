package rosbag

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16b(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func f32b(v float32) []byte { return u32b(math.Float32bits(v)) }
func f64b(v float64) []byte { return u64b(math.Float64bits(v)) }

func schemaWithFields(t *testing.T, fields ...string) *Schema {
	t.Helper()
	var def string
	for _, f := range fields {
		def += f + "\n"
	}
	registry, err := ParseSchemaRegistry("test_msgs/Scalars", def)
	require.NoError(t, err)
	top, err := registry.Top()
	require.NoError(t, err)
	return top
}

func TestMessageDecoderScalarRoundTrip(t *testing.T) {
	schema := schemaWithFields(t,
		"bool a", "int8 b", "uint8 c", "int16 d", "uint16 e",
		"int32 f", "uint32 g", "int64 h", "uint64 i",
		"float32 j", "float64 k", "string l", "time m", "duration n",
	)
	decoder := NewMessageDecoder(schema)

	var buf []byte
	buf = append(buf, 1)                    // a: bool true
	var bVal int8 = -5
	buf = append(buf, byte(bVal))            // b: int8
	buf = append(buf, 200)                   // c: uint8
	var dVal int16 = -7
	buf = append(buf, u16b(uint16(dVal))...) // d: int16
	buf = append(buf, u16b(60000)...)        // e: uint16
	var fVal int32 = -123456
	buf = append(buf, u32b(uint32(fVal))...) // f: int32
	buf = append(buf, u32b(4000000000)...)   // g: uint32
	var hVal int64 = -1234567890123
	buf = append(buf, u64b(uint64(hVal))...) // h: int64
	buf = append(buf, u64b(18000000000000000000)...)          // i: uint64
	buf = append(buf, f32b(3.5)...)          // j: float32
	buf = append(buf, f64b(2.25)...)         // k: float64
	buf = append(buf, u32b(5)...)            // l: string length
	buf = append(buf, []byte("hello")...)    // l: string bytes
	buf = append(buf, u32b(10)...)           // m: time sec
	buf = append(buf, u32b(20)...)           // m: time nsec
	buf = append(buf, u32b(1)...)            // n: duration sec
	buf = append(buf, u32b(500000000)...)    // n: duration nsec

	msg, err := decoder.Decode(buf)
	require.NoError(t, err)

	get := func(name string) Field {
		f, err := msg.Field(name)
		require.NoError(t, err)
		return f
	}

	b, err := get("a").Bool()
	require.NoError(t, err)
	assert.True(t, b)

	i8, err := get("b").Int8()
	require.NoError(t, err)
	assert.EqualValues(t, -5, i8)

	u8, err := get("c").Uint8()
	require.NoError(t, err)
	assert.EqualValues(t, 200, u8)

	i16, err := get("d").Int16()
	require.NoError(t, err)
	assert.EqualValues(t, -7, i16)

	u16, err := get("e").Uint16()
	require.NoError(t, err)
	assert.EqualValues(t, 60000, u16)

	i32, err := get("f").Int32()
	require.NoError(t, err)
	assert.EqualValues(t, -123456, i32)

	u32, err := get("g").Uint32()
	require.NoError(t, err)
	assert.EqualValues(t, 4000000000, u32)

	i64, err := get("h").Int64()
	require.NoError(t, err)
	assert.EqualValues(t, -1234567890123, i64)

	u64, err := get("i").Uint64()
	require.NoError(t, err)
	assert.EqualValues(t, uint64(18000000000000000000), u64)

	f32, err := get("j").Float32()
	require.NoError(t, err)
	assert.EqualValues(t, 3.5, f32)

	f64, err := get("k").Float64()
	require.NoError(t, err)
	assert.EqualValues(t, 2.25, f64)

	s, err := get("l").String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	ts, err := get("m").Time()
	require.NoError(t, err)
	assert.Equal(t, Timestamp{Sec: 10, Nsec: 20}, ts)

	dur, err := get("n").Duration()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, dur)
}

func TestMessageDecoderConstantField(t *testing.T) {
	schema := schemaWithFields(t, "uint8 DEBUG=1", "uint8 level")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode([]byte{42})
	require.NoError(t, err)

	debug, err := msg.Field("DEBUG")
	require.NoError(t, err)
	v, err := debug.Uint8()
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	level, err := msg.Field("level")
	require.NoError(t, err)
	v, err = level.Uint8()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func TestMessageDecoderVariableArray(t *testing.T) {
	schema := schemaWithFields(t, "uint16[] values")
	decoder := NewMessageDecoder(schema)

	var buf []byte
	buf = append(buf, u32b(3)...)
	buf = append(buf, u16b(1)...)
	buf = append(buf, u16b(2)...)
	buf = append(buf, u16b(65535)...)

	msg, err := decoder.Decode(buf)
	require.NoError(t, err)

	field, err := msg.Field("values")
	require.NoError(t, err)
	arr, err := field.Array()
	require.NoError(t, err)
	require.Equal(t, 3, arr.Len())

	widened, err := arr.Uint16Widened()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 65535}, widened)
}

func TestMessageDecoderFixedArray(t *testing.T) {
	schema := schemaWithFields(t, "float64[3] xyz")
	decoder := NewMessageDecoder(schema)

	var buf []byte
	buf = append(buf, f64b(1)...)
	buf = append(buf, f64b(2)...)
	buf = append(buf, f64b(3)...)

	msg, err := decoder.Decode(buf)
	require.NoError(t, err)

	field, err := msg.Field("xyz")
	require.NoError(t, err)
	arr, err := field.Array()
	require.NoError(t, err)
	require.Equal(t, 3, arr.Len())

	vals, err := arr.Float64()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vals)
}

func TestMessageDecoderNestedMessage(t *testing.T) {
	def := "geometry_msgs/Point position\n" +
		"================================================================================\n" +
		"MSG: geometry_msgs/Point\n" +
		"float64 x\nfloat64 y\nfloat64 z\n"
	registry, err := ParseSchemaRegistry("geometry_msgs/Pose", def)
	require.NoError(t, err)
	top, err := registry.Top()
	require.NoError(t, err)

	decoder := NewMessageDecoder(top)

	var buf []byte
	buf = append(buf, f64b(1)...)
	buf = append(buf, f64b(2)...)
	buf = append(buf, f64b(3)...)

	msg, err := decoder.Decode(buf)
	require.NoError(t, err)

	field, err := msg.Field("position")
	require.NoError(t, err)
	nested, err := field.Nested()
	require.NoError(t, err)

	x, err := mustField(t, nested, "x").Float64()
	require.NoError(t, err)
	assert.Equal(t, 1.0, x)
}

// pointField mirrors sensor_msgs/PointField's fields, projected out of the
// decoded Message tree for comparison purposes only.
type pointField struct {
	Name     string
	Offset   uint32
	Datatype uint8
	Count    uint32
}

// TestMessageDecoderNestedArrayOfMessages exercises the PointCloud2 shape:
// a fields array of 5 PointField entries, checked against the expected
// projection with cmp.Diff.
func TestMessageDecoderNestedArrayOfMessages(t *testing.T) {
	def := "uint32 width\n" +
		"sensor_msgs/PointField[] fields\n" +
		"================================================================================\n" +
		"MSG: sensor_msgs/PointField\n" +
		"string name\nuint32 offset\nuint8 datatype\nuint32 count\n"
	registry, err := ParseSchemaRegistry("sensor_msgs/PointCloud2", def)
	require.NoError(t, err)
	top, err := registry.Top()
	require.NoError(t, err)

	decoder := NewMessageDecoder(top)

	want := []pointField{
		{Name: "x", Offset: 0, Datatype: 7, Count: 1},
		{Name: "y", Offset: 4, Datatype: 7, Count: 1},
		{Name: "z", Offset: 8, Datatype: 7, Count: 1},
		{Name: "intensity", Offset: 16, Datatype: 7, Count: 1},
		{Name: "ring", Offset: 20, Datatype: 4, Count: 1},
	}

	var buf []byte
	buf = append(buf, u32b(124914)...) // width
	buf = append(buf, u32b(uint32(len(want)))...)
	for _, pf := range want {
		buf = append(buf, u32b(uint32(len(pf.Name)))...)
		buf = append(buf, []byte(pf.Name)...)
		buf = append(buf, u32b(pf.Offset)...)
		buf = append(buf, pf.Datatype)
		buf = append(buf, u32b(pf.Count)...)
	}

	msg, err := decoder.Decode(buf)
	require.NoError(t, err)

	width, err := mustField(t, msg, "width").Uint32()
	require.NoError(t, err)
	assert.EqualValues(t, 124914, width)

	arr, err := mustField(t, msg, "fields").Array()
	require.NoError(t, err)
	require.Equal(t, len(want), arr.Len())

	elements, err := arr.Elements()
	require.NoError(t, err)

	got := make([]pointField, len(elements))
	for i, el := range elements {
		sub, err := el.Nested()
		require.NoError(t, err)

		name, err := mustField(t, sub, "name").String()
		require.NoError(t, err)
		offset, err := mustField(t, sub, "offset").Uint32()
		require.NoError(t, err)
		datatype, err := mustField(t, sub, "datatype").Uint8()
		require.NoError(t, err)
		count, err := mustField(t, sub, "count").Uint32()
		require.NoError(t, err)

		got[i] = pointField{Name: name, Offset: offset, Datatype: datatype, Count: count}
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("decoded fields mismatch (-want +got):\n%s", diff)
	}
}

func mustField(t *testing.T, msg *Message, name string) Field {
	t.Helper()
	f, err := msg.Field(name)
	require.NoError(t, err)
	return f
}

// TestMessageDecoderInt32RoundTripFuzz exercises the round-trip integer
// coverage property across many random int32 payloads, reusing the
// decoder tree across iterations the way MessageIterator does.
func TestMessageDecoderInt32RoundTripFuzz(t *testing.T) {
	schema := schemaWithFields(t, "int32 value")
	decoder := NewMessageDecoder(schema)
	fuzzer := fuzz.New()

	for i := 0; i < 200; i++ {
		var want int32
		fuzzer.Fuzz(&want)

		msg, err := decoder.Decode(u32b(uint32(want)))
		require.NoError(t, err)

		got, err := mustField(t, msg, "value").Int32()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMessageDecoderReusesSharedMessageAcrossDecodeInto(t *testing.T) {
	schema := schemaWithFields(t, "int32 value")
	decoder := NewMessageDecoder(schema)

	msg := &Message{}
	require.NoError(t, decoder.decodeInto(msg, &decodeCursor{buf: u32b(1)}))
	v1, _ := msg.Field("value")
	n1, _ := v1.Int32()
	assert.EqualValues(t, 1, n1)

	require.NoError(t, decoder.decodeInto(msg, &decodeCursor{buf: u32b(2)}))
	v2, _ := msg.Field("value")
	n2, _ := v2.Int32()
	assert.EqualValues(t, 2, n2)
}

func TestMessageDecoderNegativeArrayCount(t *testing.T) {
	// A wire count with the high bit set must surface as a corrupt-payload
	// error, not a panic, on both array storage paths.
	for _, fieldLine := range []string{"string[] names", "uint16[] values"} {
		schema := schemaWithFields(t, fieldLine)
		decoder := NewMessageDecoder(schema)

		_, err := decoder.Decode(u32b(0xFFFFFFFF))
		require.Error(t, err, fieldLine)

		var bagErr *BagError
		require.ErrorAs(t, err, &bagErr, fieldLine)
		assert.Equal(t, KindCorrupt, bagErr.Kind, fieldLine)
	}
}

func TestMessageDecoderTruncatedPayload(t *testing.T) {
	schema := schemaWithFields(t, "int32 value")
	decoder := NewMessageDecoder(schema)

	_, err := decoder.Decode([]byte{1, 2})
	require.Error(t, err)

	var bagErr *BagError
	require.ErrorAs(t, err, &bagErr)
	assert.Equal(t, KindCorrupt, bagErr.Kind)
}
