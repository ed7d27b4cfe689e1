package rosbag

import "fmt"

// Kind classifies a BagError into one of the taxonomy entries a caller can
// branch on with errors.Is.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotABag
	KindUnindexed
	KindCorrupt
	KindInvalidDefinition
	KindUnknownMessage
	KindUnknownField
	KindUninitializedField
	KindIndexOutOfRange
	KindDecompressionFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotABag:
		return "not a bag"
	case KindUnindexed:
		return "unindexed"
	case KindCorrupt:
		return "corrupt"
	case KindInvalidDefinition:
		return "invalid definition"
	case KindUnknownMessage:
		return "unknown message"
	case KindUnknownField:
		return "unknown field"
	case KindUninitializedField:
		return "uninitialized field"
	case KindIndexOutOfRange:
		return "index out of range"
	case KindDecompressionFailure:
		return "decompression failure"
	default:
		return "unknown"
	}
}

// sentinel errors for errors.Is comparisons against a *BagError's Kind.
// these carry no offset/op; they exist purely as comparison targets.
var (
	ErrNotABag              = &BagError{Kind: KindNotABag}
	ErrUnindexed            = &BagError{Kind: KindUnindexed}
	ErrCorrupt              = &BagError{Kind: KindCorrupt}
	ErrInvalidDefinition    = &BagError{Kind: KindInvalidDefinition}
	ErrUnknownMessage       = &BagError{Kind: KindUnknownMessage}
	ErrUnknownField         = &BagError{Kind: KindUnknownField}
	ErrUninitializedField   = &BagError{Kind: KindUninitializedField}
	ErrIndexOutOfRange      = &BagError{Kind: KindIndexOutOfRange}
	ErrDecompressionFailure = &BagError{Kind: KindDecompressionFailure}
)

// BagError is the typed error surfaced at every I/O, framing, and schema
// boundary. Op/Offset/Name are filled in when known; zero values are omitted
// from the message.
type BagError struct {
	Kind   Kind
	Op     string // e.g. "record", "chunk", "header field"
	Offset int64  // byte offset, -1 if not applicable
	Name   string // e.g. a header key or message type name
	Err    error  // wrapped cause, may be nil
}

func (e *BagError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " in " + e.Op
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" (%s)", e.Name)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BagError) Unwrap() error {
	return e.Err
}

// Is makes ErrCorrupt, ErrNotABag, etc. valid errors.Is targets: two
// *BagError values are "the same" for comparison purposes when they share a
// Kind, regardless of Op/Offset/Name/Err.
func (e *BagError) Is(target error) bool {
	other, ok := target.(*BagError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newBagError(kind Kind, op string, offset int64, name string, err error) *BagError {
	return &BagError{Kind: kind, Op: op, Offset: offset, Name: name, Err: err}
}
