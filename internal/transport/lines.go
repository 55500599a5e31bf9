package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

const readChunkSize = 256

var ErrLineTooLong = errors.New("line exceeds maximum message size")

// lineReader splits a byte stream into newline-terminated messages. Reads
// returning no data (serial read timeouts) are retried until ctx is done.
type lineReader struct {
	r       io.Reader
	max     int
	chunk   []byte
	pending []byte
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{r: r, max: max, chunk: make([]byte, readChunkSize)}
}

func (l *lineReader) next(ctx context.Context) ([]byte, error) {
	for {
		if idx := bytes.IndexByte(l.pending, '\n'); idx >= 0 {
			line := bytes.TrimSuffix(l.pending[:idx], []byte{'\r'})
			l.pending = l.pending[idx+1:]
			if len(line) == 0 {
				continue
			}
			if len(line) > l.max {
				return nil, ErrLineTooLong
			}

			return append([]byte(nil), line...), nil
		}
		if len(l.pending) > l.max {
			l.pending = l.pending[:0]

			return nil, ErrLineTooLong
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := l.r.Read(l.chunk)
		if n > 0 {
			l.pending = append(l.pending, l.chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("read line: %w", err)
		}
	}
}

func encodeLine(payload []byte) ([]byte, error) {
	if bytes.ContainsAny(payload, "\r\n") {
		return nil, errors.New("payload must not contain line breaks")
	}
	if len(payload) > maxMessageSize {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)

	return append(line, '\n'), nil
}
