// Package warn provides the non-fatal diagnostic sink used by RecordFramer,
// BagIndex and MessageIterator: skipping a legacy zero-length header,
// reporting a bag-header count mismatch, and skipping a chunk, a message or
// a connection that cannot be read or decoded.
package warn

import (
	"fmt"

	"github.com/k0kubun/colorstring"
)

// Sink receives a formatted warning string. A nil Sink is valid and silent.
type Sink func(msg string)

// Emit calls sink with msg colorized via colorstring if sink is non-nil. It
// is a no-op when sink is nil, so the default cost of warnings is zero.
func Emit(sink Sink, format string, args ...interface{}) {
	if sink == nil {
		return
	}
	sink(colorstring.Color(fmt.Sprintf("[yellow]warn[reset]: "+format, args...)))
}
