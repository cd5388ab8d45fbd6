// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxEventSize caps a single event payload. A server pushing an
// unbounded line would otherwise grow the buffer without limit.
const MaxEventSize = 64 * 1024

// ErrEventTooLarge is returned when a single event exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("stream event exceeds maximum size")

// Reader decodes the line-oriented event protocol: each event is a
// "data: <payload>" line terminated by a newline. The underlying
// bufio.Reader buffers partial lines, so events split across arbitrary
// read boundaries reassemble correctly.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for event decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadEvent returns the payload of the next data line. Lines without
// the data prefix (comments, blank keep-alives, other fields) are
// skipped. io.EOF signals the end of the stream; a final data line
// without a trailing newline is still delivered before EOF.
func (r *Reader) ReadEvent() (string, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF && line != "" {
				if payload, ok := dataPayload(line); ok {
					return payload, nil
				}
			}
			return "", err
		}
		if payload, ok := dataPayload(line); ok {
			return payload, nil
		}
	}
}

// readLine reads one line, accumulating across internal buffer refills
// so the size guard applies to the whole logical line.
func (r *Reader) readLine() (string, error) {
	var sb strings.Builder
	for {
		frag, err := r.r.ReadSlice('\n')
		sb.Write(frag)
		if sb.Len() > MaxEventSize {
			return "", ErrEventTooLarge
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return strings.TrimRight(sb.String(), "\r\n"), err
	}
}

func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), true
}
