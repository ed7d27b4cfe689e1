package rosbag

import (
	"fmt"
	"time"
)

// Field is the public name for one decoded value. It's an alias for Value:
// the same type MessageDecoder builds while decoding, exposed under the name
// Message.Field returns it as.
type Field = Value

// Value is a decoded field: exactly one of a scalar primitive, a nested
// Message, or an ArrayValue, discriminated by Spec.Tag.
type Value struct {
	spec   *FieldSpec
	scalar interface{}
	nested *Message
	array  *ArrayValue
}

// Spec returns the field's declared type.
func (v Value) Spec() *FieldSpec { return v.spec }

func (v Value) typeMismatch(want string) error {
	return newBagError(KindUninitializedField, "field value", -1, want, fmt.Errorf("field holds a different shape"))
}

// Bool returns a bool-typed scalar value.
func (v Value) Bool() (bool, error) {
	b, ok := v.scalar.(bool)
	if !ok {
		return false, v.typeMismatch("bool")
	}
	return b, nil
}

// Int8 returns an int8-typed scalar value.
func (v Value) Int8() (int8, error) {
	n, ok := v.scalar.(int8)
	if !ok {
		return 0, v.typeMismatch("int8")
	}
	return n, nil
}

// Uint8 returns a uint8-typed scalar value.
func (v Value) Uint8() (uint8, error) {
	n, ok := v.scalar.(uint8)
	if !ok {
		return 0, v.typeMismatch("uint8")
	}
	return n, nil
}

// Int16 returns an int16-typed scalar value.
func (v Value) Int16() (int16, error) {
	n, ok := v.scalar.(int16)
	if !ok {
		return 0, v.typeMismatch("int16")
	}
	return n, nil
}

// Uint16 returns a uint16-typed scalar value.
func (v Value) Uint16() (uint16, error) {
	n, ok := v.scalar.(uint16)
	if !ok {
		return 0, v.typeMismatch("uint16")
	}
	return n, nil
}

// Int32 returns an int32-typed scalar value.
func (v Value) Int32() (int32, error) {
	n, ok := v.scalar.(int32)
	if !ok {
		return 0, v.typeMismatch("int32")
	}
	return n, nil
}

// Uint32 returns a uint32-typed scalar value.
func (v Value) Uint32() (uint32, error) {
	n, ok := v.scalar.(uint32)
	if !ok {
		return 0, v.typeMismatch("uint32")
	}
	return n, nil
}

// Int64 returns an int64-typed scalar value.
func (v Value) Int64() (int64, error) {
	n, ok := v.scalar.(int64)
	if !ok {
		return 0, v.typeMismatch("int64")
	}
	return n, nil
}

// Uint64 returns a uint64-typed scalar value. Callers that need to round-trip
// the full unsigned range (e.g. 18446744073709551615) should use this
// directly rather than Int64.
func (v Value) Uint64() (uint64, error) {
	n, ok := v.scalar.(uint64)
	if !ok {
		return 0, v.typeMismatch("uint64")
	}
	return n, nil
}

// Float32 returns a float32-typed scalar value.
func (v Value) Float32() (float32, error) {
	f, ok := v.scalar.(float32)
	if !ok {
		return 0, v.typeMismatch("float32")
	}
	return f, nil
}

// Float64 returns a float64-typed scalar value.
func (v Value) Float64() (float64, error) {
	f, ok := v.scalar.(float64)
	if !ok {
		return 0, v.typeMismatch("float64")
	}
	return f, nil
}

// String returns a string-typed scalar value.
func (v Value) String() (string, error) {
	s, ok := v.scalar.(string)
	if !ok {
		return "", v.typeMismatch("string")
	}
	return s, nil
}

// Time returns a time-typed scalar value.
func (v Value) Time() (Timestamp, error) {
	t, ok := v.scalar.(Timestamp)
	if !ok {
		return Timestamp{}, v.typeMismatch("time")
	}
	return t, nil
}

// Duration returns a duration-typed scalar value.
func (v Value) Duration() (time.Duration, error) {
	d, ok := v.scalar.(time.Duration)
	if !ok {
		return 0, v.typeMismatch("duration")
	}
	return d, nil
}

// Nested returns the decoded sub-message for a FieldNested value.
func (v Value) Nested() (*Message, error) {
	if v.nested == nil {
		return nil, v.typeMismatch("nested message")
	}
	return v.nested, nil
}

// Array returns the decoded ArrayValue for a FieldArray value.
func (v Value) Array() (*ArrayValue, error) {
	if v.array == nil {
		return nil, v.typeMismatch("array")
	}
	return v.array, nil
}

// Message is one decoded message instance: an ordered set of field values
// bound to the Schema they were decoded against.
type Message struct {
	schema *Schema
	values []Value
	index  map[string]int
}

// Type returns the message's qualified type name, e.g. "std_msgs/UInt8".
func (m *Message) Type() string { return m.schema.Type() }

// MD5 returns the message type's canonical md5sum.
func (m *Message) MD5() string { return m.schema.MD5 }

// FieldNames returns the message's field names in declaration order.
func (m *Message) FieldNames() []string {
	names := make([]string, len(m.schema.Fields))
	for i, f := range m.schema.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the decoded value bound to name.
func (m *Message) Field(name string) (Field, error) {
	i, ok := m.index[name]
	if !ok {
		return Value{}, newBagError(KindUnknownField, "message", -1, name, nil)
	}
	return m.values[i], nil
}
