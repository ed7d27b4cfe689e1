package rosbag

import (
	"fmt"
	"math"
	"math/big"
)

// primitiveWidth returns the fixed byte width a primitive kind consumes off
// the wire. KindString is variable-length and has no fixed width.
func primitiveWidth(k PrimitiveKind) int {
	switch k {
	case KindBool, KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64, KindTime, KindDuration:
		return 8
	default:
		return -1
	}
}

// decodeCursor is a forward-only read position over one message's data
// payload, handed to a MessageDecoder tree during Decode.
type decodeCursor struct {
	buf []byte
	off int
}

func (c *decodeCursor) readN(n int) ([]byte, error) {
	if n < 0 || c.off+n > len(c.buf) {
		return nil, newBagError(KindCorrupt, "message data", int64(c.off), "", fmt.Errorf("need %d bytes, have %d", n, len(c.buf)-c.off))
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *decodeCursor) readInt32() (int32, error) {
	b, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return int32(endian.Uint32(b)), nil
}

// fieldPlan is one precompiled field of a MessageDecoder: the field's spec
// plus, when the field (or its array element) is a nested message, the
// child decoder built once at construction time rather than rebuilt per
// Decode call.
type fieldPlan struct {
	field MessageField
	child *MessageDecoder
}

// MessageDecoder is the compiled decode plan for one Schema, built once by
// NewMessageDecoder and reused across every message on a connection.
// It carries no mutable state of its own: Decode takes the
// payload and returns a fresh *Message, so the same MessageDecoder is safe
// to call repeatedly, and "resetting" it is simply starting the next
// Decode call. Building a MessageDecoder from the same Schema a second time
// produces a structurally independent tree, since NewMessageDecoder never
// shares fieldPlan or child decoder state with any prior build.
type MessageDecoder struct {
	schema *Schema
	fields []fieldPlan
}

// NewMessageDecoder compiles schema (and, recursively, every nested schema
// it references directly or through arrays) into a decoder tree.
func NewMessageDecoder(schema *Schema) *MessageDecoder {
	md := &MessageDecoder{schema: schema, fields: make([]fieldPlan, len(schema.Fields))}
	for i, f := range schema.Fields {
		plan := fieldPlan{field: f}
		if nested := nestedSchemaOf(f.Spec); nested != nil {
			plan.child = NewMessageDecoder(nested)
		}
		md.fields[i] = plan
	}
	return md
}

func nestedSchemaOf(spec *FieldSpec) *Schema {
	switch spec.Tag {
	case FieldNested:
		return spec.NestedSchema
	case FieldArray:
		return nestedSchemaOf(spec.Element)
	default:
		return nil
	}
}

// Decode decodes one serialized message payload into a freshly allocated
// Message, per the field layout schema declares. Constant fields never
// consume bytes; they surface their parsed default value directly.
func (md *MessageDecoder) Decode(data []byte) (*Message, error) {
	msg := &Message{}
	if err := md.decodeInto(msg, &decodeCursor{buf: data}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (md *MessageDecoder) decode(cur *decodeCursor) (*Message, error) {
	msg := &Message{}
	if err := md.decodeInto(msg, cur); err != nil {
		return nil, err
	}
	return msg, nil
}

// decodeInto decodes into an existing Message, reusing its backing slice
// and index map when they already match this decoder's shape. MessageIterator
// uses this to mutate one Message in place across an entire connection's
// worth of decode calls, so the per-message allocation cost stays flat.
func (md *MessageDecoder) decodeInto(msg *Message, cur *decodeCursor) error {
	if msg.schema != md.schema || msg.index == nil {
		msg.schema = md.schema
		msg.values = make([]Value, len(md.fields))
		msg.index = make(map[string]int, len(md.fields))
		for i, plan := range md.fields {
			msg.index[plan.field.Name] = i
		}
	}

	for i, plan := range md.fields {
		if plan.field.IsConstant {
			v, err := constantValue(plan.field.Spec, plan.field.Default)
			if err != nil {
				return err
			}
			msg.values[i] = v
			continue
		}
		v, err := md.decodeField(plan, cur)
		if err != nil {
			return err
		}
		msg.values[i] = v
	}
	return nil
}

func (md *MessageDecoder) decodeField(plan fieldPlan, cur *decodeCursor) (Value, error) {
	spec := plan.field.Spec
	switch spec.Tag {
	case FieldPrimitive:
		return decodeScalar(cur, spec)
	case FieldNested:
		sub, err := plan.child.decode(cur)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, nested: sub}, nil
	case FieldArray:
		return md.decodeArray(plan, cur)
	default:
		return Value{}, fmt.Errorf("unknown field tag %d", spec.Tag)
	}
}

func (md *MessageDecoder) decodeArray(plan fieldPlan, cur *decodeCursor) (Value, error) {
	spec := plan.field.Spec
	n := spec.FixedLen
	if n < 0 {
		count, err := cur.readInt32()
		if err != nil {
			return Value{}, err
		}
		if count < 0 {
			return Value{}, newBagError(KindCorrupt, "message data", int64(cur.off), plan.field.Name, fmt.Errorf("negative array length %d", count))
		}
		n = int(count)
	}

	elem := spec.Element
	if elem.Tag == FieldPrimitive && elem.Primitive != KindString {
		width := primitiveWidth(elem.Primitive)
		raw, err := cur.readN(n * width)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, len(raw))
		copy(buf, raw)
		return Value{spec: spec, array: &ArrayValue{elemSpec: elem, raw: buf, length: n}}, nil
	}

	elements := make([]Value, n)
	for i := 0; i < n; i++ {
		var (
			v   Value
			err error
		)
		switch elem.Tag {
		case FieldNested:
			var sub *Message
			sub, err = plan.child.decode(cur)
			if err == nil {
				v = Value{spec: elem, nested: sub}
			}
		default:
			v, err = decodeScalar(cur, elem)
		}
		if err != nil {
			return Value{}, err
		}
		elements[i] = v
	}
	return Value{spec: spec, array: &ArrayValue{elemSpec: elem, elements: elements, length: n}}, nil
}

func decodeScalar(cur *decodeCursor, spec *FieldSpec) (Value, error) {
	switch spec.Primitive {
	case KindBool:
		b, err := cur.readN(1)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: b[0] != 0}, nil
	case KindInt8:
		b, err := cur.readN(1)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: int8(b[0])}, nil
	case KindUint8:
		b, err := cur.readN(1)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: uint8(b[0])}, nil
	case KindInt16:
		b, err := cur.readN(2)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: int16(endian.Uint16(b))}, nil
	case KindUint16:
		b, err := cur.readN(2)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: endian.Uint16(b)}, nil
	case KindInt32:
		b, err := cur.readN(4)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: int32(endian.Uint32(b))}, nil
	case KindUint32:
		b, err := cur.readN(4)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: endian.Uint32(b)}, nil
	case KindFloat32:
		b, err := cur.readN(4)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: math.Float32frombits(endian.Uint32(b))}, nil
	case KindInt64:
		b, err := cur.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: int64(endian.Uint64(b))}, nil
	case KindUint64:
		b, err := cur.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: endian.Uint64(b)}, nil
	case KindFloat64:
		b, err := cur.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: math.Float64frombits(endian.Uint64(b))}, nil
	case KindString:
		length, err := cur.readInt32()
		if err != nil {
			return Value{}, err
		}
		b, err := cur.readN(int(length))
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: string(b)}, nil
	case KindTime:
		b, err := cur.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: extractTimestamp(b)}, nil
	case KindDuration:
		b, err := cur.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Value{spec: spec, scalar: extractDuration(b)}, nil
	default:
		return Value{}, fmt.Errorf("unknown primitive kind %d", spec.Primitive)
	}
}

// constantValue parses a field's textual default into a Value of the field's
// declared type. Constants are always primitive per the message-definition
// grammar.
func constantValue(spec *FieldSpec, text string) (Value, error) {
	if spec.Tag != FieldPrimitive {
		return Value{}, newBagError(KindInvalidDefinition, "constant", -1, text, fmt.Errorf("constants must be primitive"))
	}
	switch spec.Primitive {
	case KindString:
		return Value{spec: spec, scalar: text}, nil
	case KindBool:
		return Value{spec: spec, scalar: text != "0" && text != ""}, nil
	default:
		var n big.Int
		if _, ok := n.SetString(text, 10); ok {
			return constantFromBigInt(spec, &n)
		}
		var f float64
		if _, err := fmt.Sscanf(text, "%g", &f); err == nil {
			return constantFromFloat(spec, f)
		}
		return Value{}, newBagError(KindInvalidDefinition, "constant", -1, text, fmt.Errorf("unparsable constant value"))
	}
}

func constantFromBigInt(spec *FieldSpec, n *big.Int) (Value, error) {
	switch spec.Primitive {
	case KindInt8:
		return Value{spec: spec, scalar: int8(n.Int64())}, nil
	case KindUint8:
		return Value{spec: spec, scalar: uint8(n.Int64())}, nil
	case KindInt16:
		return Value{spec: spec, scalar: int16(n.Int64())}, nil
	case KindUint16:
		return Value{spec: spec, scalar: uint16(n.Int64())}, nil
	case KindInt32:
		return Value{spec: spec, scalar: int32(n.Int64())}, nil
	case KindUint32:
		return Value{spec: spec, scalar: uint32(n.Int64())}, nil
	case KindInt64:
		return Value{spec: spec, scalar: n.Int64()}, nil
	case KindUint64:
		return Value{spec: spec, scalar: n.Uint64()}, nil
	case KindFloat32:
		f, _ := new(big.Float).SetInt(n).Float32()
		return Value{spec: spec, scalar: f}, nil
	case KindFloat64:
		f, _ := new(big.Float).SetInt(n).Float64()
		return Value{spec: spec, scalar: f}, nil
	default:
		return Value{}, newBagError(KindInvalidDefinition, "constant", -1, "", fmt.Errorf("unsupported constant kind %s", spec.Primitive))
	}
}

func constantFromFloat(spec *FieldSpec, f float64) (Value, error) {
	switch spec.Primitive {
	case KindFloat32:
		return Value{spec: spec, scalar: float32(f)}, nil
	case KindFloat64:
		return Value{spec: spec, scalar: f}, nil
	default:
		return Value{}, newBagError(KindInvalidDefinition, "constant", -1, "", fmt.Errorf("non-integer constant for kind %s", spec.Primitive))
	}
}

// ArrayValue is a decoded array field, holding either a raw byte buffer (for
// bulk-primitive element types) or pre-decoded elements (for string/nested
// element types), widened to typed slices on demand.
type ArrayValue struct {
	elemSpec *FieldSpec
	raw      []byte
	elements []Value
	length   int
}

// Len returns the number of elements in the array.
func (a *ArrayValue) Len() int { return a.length }

func (a *ArrayValue) kindMismatch(want PrimitiveKind) error {
	return newBagError(KindUninitializedField, "array value", -1,
		fmt.Sprintf("want %s, have %s", want, a.elemSpec.Primitive), nil)
}

// Int8 widens a bool/int8/uint8 array to a signed 8-bit slice.
func (a *ArrayValue) Int8() ([]int8, error) {
	switch a.elemSpec.Primitive {
	case KindBool, KindInt8, KindUint8:
	default:
		return nil, a.kindMismatch(KindInt8)
	}
	out := make([]int8, a.length)
	for i := range out {
		out[i] = int8(a.raw[i])
	}
	return out, nil
}

// Uint8 exposes a uint8-element array as an unsigned 8-bit slice.
func (a *ArrayValue) Uint8() ([]uint8, error) {
	if a.elemSpec.Primitive != KindUint8 {
		return nil, a.kindMismatch(KindUint8)
	}
	out := make([]uint8, a.length)
	copy(out, a.raw)
	return out, nil
}

// Int16 exposes an int16-element array.
func (a *ArrayValue) Int16() ([]int16, error) {
	if a.elemSpec.Primitive != KindInt16 {
		return nil, a.kindMismatch(KindInt16)
	}
	out := make([]int16, a.length)
	for i := range out {
		out[i] = int16(endian.Uint16(a.raw[i*2 : i*2+2]))
	}
	return out, nil
}

// Uint16Widened exposes a uint16-element array widened to the next larger
// signed type, so no value is misread as negative.
func (a *ArrayValue) Uint16Widened() ([]int32, error) {
	if a.elemSpec.Primitive != KindUint16 {
		return nil, a.kindMismatch(KindUint16)
	}
	out := make([]int32, a.length)
	for i := range out {
		out[i] = int32(endian.Uint16(a.raw[i*2 : i*2+2]))
	}
	return out, nil
}

// Int32 exposes an int32-element array.
func (a *ArrayValue) Int32() ([]int32, error) {
	if a.elemSpec.Primitive != KindInt32 {
		return nil, a.kindMismatch(KindInt32)
	}
	out := make([]int32, a.length)
	for i := range out {
		out[i] = int32(endian.Uint32(a.raw[i*4 : i*4+4]))
	}
	return out, nil
}

// Uint32Widened exposes a uint32-element array widened to 64-bit signed.
func (a *ArrayValue) Uint32Widened() ([]int64, error) {
	if a.elemSpec.Primitive != KindUint32 {
		return nil, a.kindMismatch(KindUint32)
	}
	out := make([]int64, a.length)
	for i := range out {
		out[i] = int64(endian.Uint32(a.raw[i*4 : i*4+4]))
	}
	return out, nil
}

// Float32 exposes a float32-element array.
func (a *ArrayValue) Float32() ([]float32, error) {
	if a.elemSpec.Primitive != KindFloat32 {
		return nil, a.kindMismatch(KindFloat32)
	}
	out := make([]float32, a.length)
	for i := range out {
		out[i] = math.Float32frombits(endian.Uint32(a.raw[i*4 : i*4+4]))
	}
	return out, nil
}

// Int64 exposes an int64-element array.
func (a *ArrayValue) Int64() ([]int64, error) {
	if a.elemSpec.Primitive != KindInt64 {
		return nil, a.kindMismatch(KindInt64)
	}
	out := make([]int64, a.length)
	for i := range out {
		out[i] = int64(endian.Uint64(a.raw[i*8 : i*8+8]))
	}
	return out, nil
}

// Uint64Widened exposes a uint64-element array widened to arbitrary
// precision, since no built-in signed type can hold the full unsigned range.
func (a *ArrayValue) Uint64Widened() ([]*big.Int, error) {
	if a.elemSpec.Primitive != KindUint64 {
		return nil, a.kindMismatch(KindUint64)
	}
	out := make([]*big.Int, a.length)
	for i := range out {
		v := endian.Uint64(a.raw[i*8 : i*8+8])
		out[i] = new(big.Int).SetUint64(v)
	}
	return out, nil
}

// Float64 exposes a float64-element array.
func (a *ArrayValue) Float64() ([]float64, error) {
	if a.elemSpec.Primitive != KindFloat64 {
		return nil, a.kindMismatch(KindFloat64)
	}
	out := make([]float64, a.length)
	for i := range out {
		out[i] = math.Float64frombits(endian.Uint64(a.raw[i*8 : i*8+8]))
	}
	return out, nil
}

// Timestamps exposes a time-element array as decoded (sec, nsec) pairs.
func (a *ArrayValue) Timestamps() ([]Timestamp, error) {
	if a.elemSpec.Primitive != KindTime {
		return nil, a.kindMismatch(KindTime)
	}
	out := make([]Timestamp, a.length)
	for i := range out {
		out[i] = extractTimestamp(a.raw[i*8 : i*8+8])
	}
	return out, nil
}

// DurationSeconds exposes a duration-element array as seconds-as-f64.
func (a *ArrayValue) DurationSeconds() ([]float64, error) {
	if a.elemSpec.Primitive != KindDuration {
		return nil, a.kindMismatch(KindDuration)
	}
	out := make([]float64, a.length)
	for i := range out {
		out[i] = extractDuration(a.raw[i*8 : i*8+8]).Seconds()
	}
	return out, nil
}

// Elements returns the decoded element values of a string or nested-message
// array, where elements are decoded one-by-one rather than bulk-stored.
func (a *ArrayValue) Elements() ([]Value, error) {
	if a.elements == nil {
		return nil, newBagError(KindUninitializedField, "array value", -1, "elements", fmt.Errorf("array holds a bulk-primitive raw buffer, not decoded elements"))
	}
	return a.elements, nil
}
