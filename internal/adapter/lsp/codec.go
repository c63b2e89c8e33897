package lsp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	// maxHeaderBytes bounds the header block; a server sending more without
	// a blank line is not speaking LSP framing.
	maxHeaderBytes = 8 * 1024
	// maxBodyBytes bounds a single message body.
	maxBodyBytes = 256 << 20
)

var headerTerminator = []byte("\r\n\r\n")

// Encode frames body for the wire: a Content-Length header, a blank line,
// then body verbatim.
func Encode(body []byte) []byte {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	return append(out, body...)
}

// Decoder reassembles message bodies from an arbitrarily chunked byte
// stream. Once it reports a framing error it stays failed: there is no
// resynchronization.
type Decoder struct {
	buf  []byte
	need int // body length of the frame being read; -1 while in headers
	err  error
}

// NewDecoder returns a Decoder waiting for the first header block.
func NewDecoder() *Decoder {
	return &Decoder{need: -1}
}

// Feed appends chunk to the internal buffer. Input is ignored after a
// framing error.
func (d *Decoder) Feed(chunk []byte) {
	if d.err != nil {
		return
	}
	d.buf = append(d.buf, chunk...)
}

// Next yields the next complete body. ok is false when more input is
// needed. A non-nil error wraps ErrFraming and is returned on every
// subsequent call.
func (d *Decoder) Next() (body []byte, ok bool, err error) {
	if d.err != nil {
		return nil, false, d.err
	}

	if d.need < 0 {
		end := bytes.Index(d.buf, headerTerminator)
		if end < 0 {
			if len(d.buf) > maxHeaderBytes {
				return nil, false, d.fail(fmt.Errorf("header block exceeds %d bytes", maxHeaderBytes))
			}
			return nil, false, nil
		}
		n, err := parseHeaders(d.buf[:end])
		if err != nil {
			return nil, false, d.fail(err)
		}
		d.need = n
		d.buf = d.buf[end+len(headerTerminator):]
	}

	if len(d.buf) < d.need {
		return nil, false, nil
	}

	body = make([]byte, d.need)
	copy(body, d.buf[:d.need])
	d.buf = d.buf[d.need:]
	d.need = -1
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return body, true, nil
}

// Buffered returns the number of bytes held but not yet yielded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Err returns the sticky framing error, if any.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(cause error) error {
	d.err = fmt.Errorf("%w: %w", ErrFraming, cause)
	d.buf = nil
	return d.err
}

// parseHeaders extracts Content-Length from a header block. Other headers
// (Content-Type) are accepted and ignored.
func parseHeaders(block []byte) (int, error) {
	length := -1
	for _, line := range strings.Split(string(block), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			return 0, fmt.Errorf("malformed header line %q", line)
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("parse Content-Length %q: %w", value, err)
		}
		if n < 0 || n > maxBodyBytes {
			return 0, fmt.Errorf("Content-Length %d out of range", n)
		}
		length = n
	}
	if length < 0 {
		return 0, fmt.Errorf("missing Content-Length header")
	}
	return length, nil
}
