package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readBufferSize = 4096

// ErrClosed is returned by Reader.Next after the reader has been closed before reaching a terminal
// state.
var ErrClosed = errors.New("stream: reader closed")

// TransportError wraps a failure of the underlying byte stream. It is fatal to the session that owns
// the reader.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Reader turns a byte-chunked response body into a lazy, finite sequence of decoded text fragments.
// The UTF-8 decoder keeps its state between calls, so a multi-byte character split across two chunks
// is emitted whole in the fragment that completes it. A Reader cannot be restarted.
type Reader struct {
	body    io.ReadCloser
	decoded io.Reader
	buf     []byte

	err       error
	closeOnce sync.Once
	closeErr  error
}

// NewReader wraps body. The caller must call Close on every exit path; Close is idempotent.
func NewReader(body io.ReadCloser) *Reader {
	return &Reader{
		body:    body,
		decoded: transform.NewReader(body, unicode.UTF8.NewDecoder()),
		buf:     make([]byte, readBufferSize),
	}
}

// Next returns the next decoded fragment, which may be empty. At the end of the stream it returns
// io.EOF; a failing transport yields a *TransportError. Once a terminal error has been returned every
// subsequent call returns it again.
func (r *Reader) Next(ctx context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return "", err
	}

	n, err := r.decoded.Read(r.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.err = io.EOF
		} else {
			r.err = &TransportError{Err: err}
		}
		if n == 0 {
			return "", r.err
		}
	}
	return string(r.buf[:n]), nil
}

// Close releases the underlying body. It is safe to call multiple times and from any exit path; only
// the first call reaches the body.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.body.Close()
		if r.err == nil {
			r.err = ErrClosed
		}
	})
	return r.closeErr
}
