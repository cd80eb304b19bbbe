package stream

import "strings"

// Accumulator keeps the running text of one in-flight assistant message. Deltas are appended verbatim
// in arrival order.
type Accumulator struct {
	sb strings.Builder
}

// Append adds delta to the running text and returns the new accumulated value.
func (a *Accumulator) Append(delta string) string {
	a.sb.WriteString(delta)
	return a.sb.String()
}

// String returns the accumulated text.
func (a *Accumulator) String() string {
	return a.sb.String()
}

// Len returns the length in bytes of the accumulated text.
func (a *Accumulator) Len() int {
	return a.sb.Len()
}
