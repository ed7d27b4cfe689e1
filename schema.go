package rosbag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PrimitiveKind enumerates the closed set of wire primitive types. byte and
// char are aliases for int8 and uint8 respectively; the alias is resolved at
// parse time so the rest of the pipeline only ever sees the canonical kind.
type PrimitiveKind int

const (
	KindBool PrimitiveKind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindTime
	KindDuration
)

func (k PrimitiveKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindUint8:
		return "uint8"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	default:
		return "invalid"
	}
}

var primitiveKinds = map[string]PrimitiveKind{
	"bool":     KindBool,
	"int8":     KindInt8,
	"byte":     KindInt8,
	"uint8":    KindUint8,
	"char":     KindUint8,
	"int16":    KindInt16,
	"uint16":   KindUint16,
	"int32":    KindInt32,
	"uint32":   KindUint32,
	"int64":    KindInt64,
	"uint64":   KindUint64,
	"float32":  KindFloat32,
	"float64":  KindFloat64,
	"string":   KindString,
	"time":     KindTime,
	"duration": KindDuration,
}

// FieldTag discriminates the three FieldSpec variants.
type FieldTag int

const (
	FieldPrimitive FieldTag = iota
	FieldArray
	FieldNested
)

// FieldSpec is the tagged variant `Primitive(kind) | Array(element,
// fixed_len) | Nested(schema_ref)`. Go has no sum types, so Tag
// discriminates which of the remaining fields is meaningful.
type FieldSpec struct {
	Tag FieldTag

	// valid when Tag == FieldPrimitive
	Primitive PrimitiveKind

	// valid when Tag == FieldArray
	Element  *FieldSpec
	FixedLen int // -1 means variable-length

	// valid when Tag == FieldNested
	NestedTypeName string // as written in the schema text, possibly qualified
	NestedSchema   *Schema
}

// MessageField is one ordered (name, type, default?) entry in a Schema.
type MessageField struct {
	Name       string
	Spec       *FieldSpec
	IsConstant bool
	Default    string // raw text of the default value, only set when IsConstant
}

// Schema is one resolved message definition: a package/type name, its
// fields in declaration order, and (once computed) its canonical MD5sum.
type Schema struct {
	Package string
	Name    string
	MD5     string
	Fields  []MessageField
}

// Type returns the qualified "package/Name" type string.
func (s *Schema) Type() string {
	if s.Package == "" {
		return s.Name
	}
	return s.Package + "/" + s.Name
}

// SchemaRegistry is the per-connection collection of resolved schemas,
// indexed by bare name, qualified (package, name), and md5.
type SchemaRegistry struct {
	topType     string
	byName      map[string]*Schema
	byQualified map[string]*Schema
	byMD5       map[string]*Schema
	schemas     []*Schema // registration order, for deterministic MD5 computation
}

// Top returns the connection's top-level schema.
func (reg *SchemaRegistry) Top() (*Schema, error) {
	s, ok := reg.byQualified[reg.topType]
	if !ok {
		s, ok = reg.byName[reg.topType]
	}
	if !ok {
		return nil, newBagError(KindUnknownMessage, "schema registry", -1, reg.topType, nil)
	}
	return s, nil
}

// Lookup resolves a nested type reference the way field lines do: exact
// (package, name) match if the reference is qualified, else bare name.
func (reg *SchemaRegistry) Lookup(ref string) (*Schema, bool) {
	if strings.Contains(ref, "/") {
		if s, ok := reg.byQualified[ref]; ok {
			return s, true
		}
		// fall through to bare-name lookup on the unqualified tail, in case
		// the dependency was registered under a different package alias.
		parts := strings.SplitN(ref, "/", 2)
		if s, ok := reg.byName[parts[1]]; ok {
			return s, true
		}
		return nil, false
	}
	s, ok := reg.byName[ref]
	return s, ok
}

// ByMD5 resolves a schema by its canonical md5sum.
func (reg *SchemaRegistry) ByMD5(md5 string) (*Schema, bool) {
	s, ok := reg.byMD5[md5]
	return s, ok
}

func (reg *SchemaRegistry) register(s *Schema) {
	reg.byName[s.Name] = s
	if s.Package != "" {
		reg.byQualified[s.Type()] = s
	}
	reg.schemas = append(reg.schemas, s)
}

func (reg *SchemaRegistry) registerMD5(s *Schema) {
	if s.MD5 != "" {
		reg.byMD5[s.MD5] = s
	}
}

// --- SchemaParser ---

var (
	fieldLineRegexp = regexp.MustCompile(`^\s*([\w/\[\]]+)\s+(\w+)\s*(?:=\s*(\S+))?.*$`)
	separatorLine   = strings.Repeat("=", 80)
)

type rawField struct {
	TypeToken  string
	Name       string
	Default    string
	HasDefault bool
}

type rawBlock struct {
	Package string
	Name    string
	Fields  []rawField
}

// ParseSchemaRegistry parses a connection's message_definition text into a
// closed SchemaRegistry rooted at topType, resolving forward references by
// repeated worklist passes and computing every schema's canonical MD5 along
// the way.
func ParseSchemaRegistry(topType string, messageDefinition string) (*SchemaRegistry, error) {
	blocks, err := splitDefinitionBlocks(topType, messageDefinition)
	if err != nil {
		return nil, err
	}

	rawBlocks := make([]rawBlock, 0, len(blocks))
	for _, b := range blocks {
		fields, err := parseBlockFields(b.body)
		if err != nil {
			return nil, newBagError(KindInvalidDefinition, "schema", -1, b.typeName, err)
		}
		pkg, name := splitQualifiedType(b.typeName)
		rawBlocks = append(rawBlocks, rawBlock{Package: pkg, Name: name, Fields: fields})
	}

	registry := &SchemaRegistry{
		topType:     topType,
		byName:      make(map[string]*Schema),
		byQualified: make(map[string]*Schema),
		byMD5:       make(map[string]*Schema),
	}

	// Process in reverse order: the simplest dependencies tend to appear
	// last in the definition text, so reversing gives the worklist a head
	// start toward convergence, though the repeated-pass loop below
	// converges regardless of initial order.
	worklist := make([]rawBlock, len(rawBlocks))
	for i, b := range rawBlocks {
		worklist[len(rawBlocks)-1-i] = b
	}

	for len(worklist) > 0 {
		var stillUnresolved []rawBlock
		progressed := false

		for _, blk := range worklist {
			schema, err := buildSchema(blk, registry)
			if err == errUnresolvedNested {
				stillUnresolved = append(stillUnresolved, blk)
				continue
			}
			if err != nil {
				return nil, newBagError(KindInvalidDefinition, "schema", -1, blk.Name, err)
			}
			registry.register(schema)
			progressed = true
		}

		if len(stillUnresolved) == 0 {
			break
		}
		if !progressed {
			names := make([]string, len(stillUnresolved))
			for i, b := range stillUnresolved {
				names[i] = b.Name
			}
			return nil, newBagError(KindInvalidDefinition, "schema", -1, strings.Join(names, ","),
				fmt.Errorf("dependency resolution did not converge"))
		}
		worklist = stillUnresolved
	}

	// Now that every schema's nested references are resolved, compute MD5s
	// in the same dependency order (leaves first) so a schema's canonical
	// form can substitute its nested schemas' already-known md5s.
	if err := computeRegistryMD5s(registry); err != nil {
		return nil, err
	}

	return registry, nil
}

type definitionBlock struct {
	typeName string
	body     string
}

func splitDefinitionBlocks(topType, messageDefinition string) ([]definitionBlock, error) {
	lines := strings.Split(messageDefinition, "\n")

	var chunks [][]string
	current := []string{}
	for _, line := range lines {
		if strings.TrimRight(line, "\r") == separatorLine {
			chunks = append(chunks, current)
			current = []string{}
			continue
		}
		current = append(current, line)
	}
	chunks = append(chunks, current)

	blocks := make([]definitionBlock, 0, len(chunks))
	blocks = append(blocks, definitionBlock{typeName: topType, body: strings.Join(chunks[0], "\n")})

	for _, chunk := range chunks[1:] {
		if len(chunk) == 0 {
			continue
		}
		header := strings.TrimSpace(chunk[0])
		if !strings.HasPrefix(header, "MSG:") {
			return nil, newBagError(KindInvalidDefinition, "schema", -1, "", fmt.Errorf("expected MSG: header, got %q", header))
		}
		typeName := strings.TrimSpace(strings.TrimPrefix(header, "MSG:"))
		blocks = append(blocks, definitionBlock{typeName: typeName, body: strings.Join(chunk[1:], "\n")})
	}
	return blocks, nil
}

func splitQualifiedType(t string) (pkg, name string) {
	if i := strings.LastIndex(t, "/"); i >= 0 {
		return t[:i], t[i+1:]
	}
	return "", t
}

func parseBlockFields(body string) ([]rawField, error) {
	var fields []rawField
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		matches := fieldLineRegexp.FindStringSubmatch(line)
		if matches == nil {
			return nil, fmt.Errorf("malformed field line: %q", line)
		}

		f := rawField{
			TypeToken:  matches[1],
			Name:       matches[2],
			Default:    matches[3],
			HasDefault: matches[3] != "",
		}
		if f.HasDefault {
			if f.TypeToken == "string" {
				// A string constant's value is everything after the first
				// '=', whitespace-trimmed, with any '#' text kept verbatim:
				// it is part of the value, not a comment.
				eq := strings.IndexByte(line, '=')
				f.Default = strings.TrimSpace(line[eq+1:])
			} else if i := strings.IndexByte(f.Default, '#'); i >= 0 {
				// Non-string constants drop a glued-on trailing comment.
				f.Default = f.Default[:i]
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

var errUnresolvedNested = fmt.Errorf("unresolved nested type")

func buildSchema(blk rawBlock, registry *SchemaRegistry) (*Schema, error) {
	schema := &Schema{Package: blk.Package, Name: blk.Name}

	for _, f := range blk.Fields {
		spec, err := buildFieldSpec(f.TypeToken, registry)
		if err != nil {
			return nil, err
		}
		schema.Fields = append(schema.Fields, MessageField{
			Name:       f.Name,
			Spec:       spec,
			IsConstant: f.HasDefault,
			Default:    f.Default,
		})
	}

	return schema, nil
}

func buildFieldSpec(typeToken string, registry *SchemaRegistry) (*FieldSpec, error) {
	isArray, baseType, fixedLen := parseArrayType(typeToken)

	elementSpec, err := buildScalarFieldSpec(baseType, registry)
	if err != nil {
		return nil, err
	}

	if !isArray {
		return elementSpec, nil
	}
	return &FieldSpec{Tag: FieldArray, Element: elementSpec, FixedLen: fixedLen}, nil
}

func buildScalarFieldSpec(baseType string, registry *SchemaRegistry) (*FieldSpec, error) {
	if kind, ok := primitiveKinds[baseType]; ok {
		return &FieldSpec{Tag: FieldPrimitive, Primitive: kind}, nil
	}

	nested, ok := registry.Lookup(baseType)
	if !ok {
		return nil, errUnresolvedNested
	}
	return &FieldSpec{Tag: FieldNested, NestedTypeName: baseType, NestedSchema: nested}, nil
}

// parseArrayType splits "T[]" / "T[N]" into (isArray, T, N); N==-1 means
// variable length, and only the literal absence of a size produces it.
// Non-array and malformed tokens return (false, s, 0).
func parseArrayType(s string) (isArray bool, baseType string, fixedLen int) {
	left := strings.IndexByte(s, '[')
	right := strings.IndexByte(s, ']')
	if left < 0 || right < 0 || right < left {
		return false, s, 0
	}
	baseType = s[:left]
	sizeText := s[left+1 : right]
	if sizeText == "" {
		return true, baseType, -1
	}
	n, err := strconv.Atoi(sizeText)
	if err != nil || n < 0 {
		return false, s, 0
	}
	return true, baseType, n
}
