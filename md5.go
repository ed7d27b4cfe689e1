package rosbag

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// computeRegistryMD5s computes every schema's canonical md5sum, walking
// nested references first so a schema's canonical text can substitute its
// dependencies' already-known md5 hex digests, exactly the way the
// resolution pass in ParseSchemaRegistry already ordered schema
// construction.
func computeRegistryMD5s(registry *SchemaRegistry) error {
	visiting := make(map[*Schema]bool, len(registry.schemas))
	for _, s := range registry.schemas {
		if err := computeSchemaMD5(s, visiting); err != nil {
			return err
		}
	}
	for _, s := range registry.schemas {
		registry.registerMD5(s)
	}
	return nil
}

func computeSchemaMD5(s *Schema, visiting map[*Schema]bool) error {
	if s.MD5 != "" {
		return nil
	}
	if visiting[s] {
		return newBagError(KindInvalidDefinition, "schema", -1, s.Type(), fmt.Errorf("circular message dependency"))
	}
	visiting[s] = true
	defer delete(visiting, s)

	for _, f := range s.Fields {
		if err := ensureNestedMD5(f.Spec, visiting); err != nil {
			return err
		}
	}

	text, err := canonicalSchemaText(s)
	if err != nil {
		return err
	}
	sum := md5.Sum([]byte(text))
	s.MD5 = hex.EncodeToString(sum[:])
	return nil
}

func ensureNestedMD5(spec *FieldSpec, visiting map[*Schema]bool) error {
	switch spec.Tag {
	case FieldNested:
		return computeSchemaMD5(spec.NestedSchema, visiting)
	case FieldArray:
		return ensureNestedMD5(spec.Element, visiting)
	default:
		return nil
	}
}

// canonicalSchemaText builds the text that gets hashed for a schema's
// md5sum, following the ROS convention: constant lines first (in declaration
// order), then field lines, each field line written as "<type> <name>" with
// non-primitive types substituted by the referenced schema's own md5.
// Comments and blank lines never reach this stage since they were dropped
// when the field list was first parsed; a string constant's value keeps any
// '#' text it carried, which the convention treats as part of the value.
func canonicalSchemaText(s *Schema) (string, error) {
	var constants, fields []string

	for _, f := range s.Fields {
		token, err := canonicalTypeToken(f.Spec)
		if err != nil {
			return "", err
		}
		line := token + " " + f.Name
		if f.IsConstant {
			line += "=" + f.Default
			constants = append(constants, line)
		} else {
			fields = append(fields, line)
		}
	}

	lines := append(constants, fields...)
	return strings.Join(lines, "\n"), nil
}

func canonicalTypeToken(spec *FieldSpec) (string, error) {
	switch spec.Tag {
	case FieldPrimitive:
		return spec.Primitive.String(), nil
	case FieldNested:
		if spec.NestedSchema.MD5 == "" {
			return "", newBagError(KindUnknownMessage, "schema", -1, spec.NestedTypeName, fmt.Errorf("dependency md5 not yet resolved"))
		}
		return spec.NestedSchema.MD5, nil
	case FieldArray:
		// For a non-primitive element the entire type token is replaced by
		// the nested schema's md5, brackets included; only an array of
		// primitives keeps "<type>[]"/"<type>[N]" intact.
		if spec.Element.Tag == FieldNested {
			if spec.Element.NestedSchema.MD5 == "" {
				return "", newBagError(KindUnknownMessage, "schema", -1, spec.Element.NestedTypeName, fmt.Errorf("dependency md5 not yet resolved"))
			}
			return spec.Element.NestedSchema.MD5, nil
		}
		inner, err := canonicalTypeToken(spec.Element)
		if err != nil {
			return "", err
		}
		if spec.FixedLen < 0 {
			return inner + "[]", nil
		}
		return fmt.Sprintf("%s[%d]", inner, spec.FixedLen), nil
	default:
		return "", fmt.Errorf("unknown field tag %d", spec.Tag)
	}
}
