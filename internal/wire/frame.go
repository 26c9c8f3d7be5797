// internal/wire/frame.go
package wire

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Frame is one raw server-sent event: optional frame-level id and event
// name from the field lines, plus the joined data segment. ID is 0 when
// the frame carried no parseable id field.
type Frame struct {
	ID    int64
	Event string
	Data  []byte
}

// FrameReader splits an event-stream body into frames. Frames are delimited
// by a blank line; "id:", "event:", and "data:" fields are collected,
// multiple data lines are joined with newlines, comment lines (leading ':')
// and unknown fields are ignored.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps the stream body.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next returns the next complete frame. It returns io.EOF at clean end of
// stream; a trailing partial frame with no delimiter is discarded.
func (fr *FrameReader) Next() (*Frame, error) {
	var (
		id        int64
		event     string
		dataLines []string
		seen      bool
	)

	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil, io.EOF
			}
			if err == io.EOF {
				// Partial frame without its delimiter; treat as end of stream.
				return nil, io.EOF
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			return &Frame{
				ID:    id,
				Event: event,
				Data:  []byte(strings.Join(dataLines, "\n")),
			}, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
				id = n
			}
			seen = true
		case "event":
			event = value
			seen = true
		case "data":
			dataLines = append(dataLines, value)
			seen = true
		}
	}
}
