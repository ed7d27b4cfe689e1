package rosbag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeAndMD5(t *testing.T) {
	schema := schemaWithFields(t, "uint8 data")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode([]byte{1})
	require.NoError(t, err)

	assert.Equal(t, "test_msgs/Scalars", msg.Type())
	assert.Equal(t, schema.MD5, msg.MD5())
	assert.NotEmpty(t, msg.MD5())
}

func TestMessageFieldNamesPreserveDeclarationOrder(t *testing.T) {
	schema := schemaWithFields(t, "uint8 c", "uint8 a", "uint8 b")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode([]byte{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, msg.FieldNames())
}

func TestMessageFieldUnknownName(t *testing.T) {
	schema := schemaWithFields(t, "uint8 data")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode([]byte{1})
	require.NoError(t, err)

	_, err = msg.Field("missing")
	require.Error(t, err)

	var bagErr *BagError
	require.ErrorAs(t, err, &bagErr)
	assert.Equal(t, KindUnknownField, bagErr.Kind)
}

func TestValueAccessorTypeMismatch(t *testing.T) {
	schema := schemaWithFields(t, "uint8 data")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode([]byte{42})
	require.NoError(t, err)

	field, err := msg.Field("data")
	require.NoError(t, err)

	_, err = field.Int32()
	require.Error(t, err)

	var bagErr *BagError
	require.ErrorAs(t, err, &bagErr)
	assert.Equal(t, KindUninitializedField, bagErr.Kind)

	// The correctly-typed accessor still works on the same Value.
	v, err := field.Uint8()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func TestValueArrayAccessorOnScalarFails(t *testing.T) {
	schema := schemaWithFields(t, "uint8 data")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode([]byte{1})
	require.NoError(t, err)

	field, err := msg.Field("data")
	require.NoError(t, err)

	_, err = field.Array()
	require.Error(t, err)

	_, err = field.Nested()
	require.Error(t, err)
}

func TestValueSpecReportsDeclaredType(t *testing.T) {
	schema := schemaWithFields(t, "int32[] values")
	decoder := NewMessageDecoder(schema)

	msg, err := decoder.Decode(u32b(0))
	require.NoError(t, err)

	field, err := msg.Field("values")
	require.NoError(t, err)
	assert.Equal(t, FieldArray, field.Spec().Tag)
	assert.Equal(t, KindInt32, field.Spec().Element.Primitive)
}
