package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Framing selects how decoded text is cut into frames. The producer decides the framing; a session is
// configured with the one matching its endpoint.
type Framing int

const (
	// FramingSSE expects blank-line separated blocks carrying "data:" lines, terminated by a [DONE]
	// payload.
	FramingSSE Framing = iota
	// FramingLines treats every non-empty newline-terminated line as one frame.
	FramingLines
	// FramingText passes every decoded fragment through verbatim, without structured decoding.
	FramingText
)

// DoneSentinel is the SSE payload that marks the explicit end of a stream.
const DoneSentinel = "[DONE]"

const dataField = "data"

var (
	errMalformedPayload = errors.New("payload is not valid JSON")
	errNotObject        = errors.New("payload is not a JSON object")
)

func (f Framing) String() string {
	switch f {
	case FramingSSE:
		return "sse"
	case FramingLines:
		return "lines"
	case FramingText:
		return "text"
	}
	return fmt.Sprintf("framing(%d)", int(f))
}

// ParseFraming maps a configuration value to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sse", "":
		return FramingSSE, nil
	case "lines", "line":
		return FramingLines, nil
	case "text", "plain":
		return FramingText, nil
	}
	return 0, fmt.Errorf("unknown framing: %q", s)
}

// Frame is one parsed unit of streamed data.
type Frame struct {
	// Payload is the frame body: the joined data lines of an SSE block, a whole line, or a raw fragment.
	Payload string
	// Raw frames are content as-is and must not be decoded as structured payloads.
	Raw bool
	// Done marks the termination sentinel. A Done frame carries no payload.
	Done bool
}

// Parser extracts frames from decoded text fragments. Parsers buffer incomplete input between calls, so
// the frames produced do not depend on where the transport split the bytes.
type Parser interface {
	// Feed consumes a fragment and returns the frames it completes, in order.
	Feed(fragment string) []Frame
	// Flush returns the frame held in the buffer at end of stream, if any.
	Flush() []Frame
	// Done reports whether the termination sentinel has been seen. A done parser ignores all input.
	Done() bool
}

// NewParser returns a parser for the given framing.
func NewParser(f Framing) Parser {
	switch f {
	case FramingLines:
		return &lineParser{}
	case FramingText:
		return &textParser{}
	default:
		return &sseParser{}
	}
}

type sseParser struct {
	pending string
	done    bool
}

func (p *sseParser) Feed(fragment string) []Frame {
	if p.done || fragment == "" {
		return nil
	}
	p.pending = strings.ReplaceAll(p.pending+fragment, "\r\n", "\n")

	var frames []Frame
	for !p.done {
		idx := strings.Index(p.pending, "\n\n")
		if idx < 0 {
			break
		}
		block := p.pending[:idx]
		p.pending = p.pending[idx+2:]
		frames = p.block(block, frames)
	}
	if p.done {
		p.pending = ""
	}
	return frames
}

func (p *sseParser) Flush() []Frame {
	if p.done {
		return nil
	}
	block := strings.TrimRight(p.pending, "\r\n")
	p.pending = ""
	if block == "" {
		return nil
	}
	return p.block(block, nil)
}

func (p *sseParser) Done() bool {
	return p.done
}

// block appends the frame carried by one SSE block. Consecutive data lines are joined with a newline;
// a data line holding the sentinel ends the block and the stream, after emitting any data collected
// before it.
func (p *sseParser) block(block string, frames []Frame) []Frame {
	var data []string
	for _, line := range strings.Split(block, "\n") {
		value, ok := dataValue(line)
		if !ok {
			continue
		}
		if value == DoneSentinel {
			if len(data) > 0 {
				frames = append(frames, Frame{Payload: strings.Join(data, "\n")})
			}
			p.done = true
			return append(frames, Frame{Done: true})
		}
		data = append(data, value)
	}
	if len(data) == 0 {
		return frames
	}
	return append(frames, Frame{Payload: strings.Join(data, "\n")})
}

func dataValue(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == dataField {
		return "", true
	}
	value, ok := strings.CutPrefix(line, dataField+":")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(value, " "), true
}

type lineParser struct {
	pending string
}

func (p *lineParser) Feed(fragment string) []Frame {
	p.pending += fragment

	var frames []Frame
	for {
		idx := strings.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(p.pending[:idx], "\r")
		p.pending = p.pending[idx+1:]
		if line != "" {
			frames = append(frames, Frame{Payload: line})
		}
	}
	return frames
}

func (p *lineParser) Flush() []Frame {
	line := strings.TrimSuffix(p.pending, "\r")
	p.pending = ""
	if line == "" {
		return nil
	}
	return []Frame{{Payload: line}}
}

func (p *lineParser) Done() bool {
	return false
}

type textParser struct{}

func (textParser) Feed(fragment string) []Frame {
	if fragment == "" {
		return nil
	}
	return []Frame{{Payload: fragment, Raw: true}}
}

func (textParser) Flush() []Frame {
	return nil
}

func (textParser) Done() bool {
	return false
}

// DecodeError reports a payload that could not be decoded as a structured delta. The payload has still
// been used verbatim as the delta.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeDelta returns the content delta carried by a payload. A JSON object yields its "content" string
// field, or an empty delta when the field is absent or not a string. Any other payload is returned
// verbatim together with a *DecodeError describing why it was not structured.
func DecodeDelta(payload string) (string, error) {
	if !gjson.Valid(payload) {
		return payload, &DecodeError{Payload: payload, Err: errMalformedPayload}
	}
	res := gjson.Parse(payload)
	if !res.IsObject() {
		return payload, &DecodeError{Payload: payload, Err: errNotObject}
	}
	content := res.Get("content")
	if content.Type != gjson.String {
		return "", nil
	}
	return content.Str, nil
}

// FrameDelta returns the delta carried by a frame, honouring raw frames.
func FrameDelta(f Frame) (string, error) {
	if f.Done {
		return "", nil
	}
	if f.Raw {
		return f.Payload, nil
	}
	return DecodeDelta(f.Payload)
}
