// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// =============================================================================
// SSE CONSTANTS
// =============================================================================

// DefaultMaxEventBytes bounds a single event (all of its lines) at 1 MiB.
const DefaultMaxEventBytes = 1 << 20

// ErrEventTooLarge is returned when an event exceeds the reader's limit.
var ErrEventTooLarge = errors.New("event exceeds maximum size")

// =============================================================================
// SSE READER
// =============================================================================

// Frame is one parsed server-sent event.
type Frame struct {
	Event string // value of the last "event:" line, may be empty
	Data  string // "data:" lines joined with "\n"
}

// SSEReader parses server-sent events from a byte stream.
type SSEReader struct {
	reader   *bufio.Reader
	maxBytes int

	// OnUnknownField, when set, is called with the name of every line that is
	// not a recognised SSE field.
	OnUnknownField func(field string)
}

// NewSSEReader creates a reader. maxBytes <= 0 selects DefaultMaxEventBytes.
func NewSSEReader(r io.Reader, maxBytes int) *SSEReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxEventBytes
	}
	return &SSEReader{
		reader:   bufio.NewReader(r),
		maxBytes: maxBytes,
	}
}

// Next returns the next event carrying data. Events without data lines
// (heartbeats, bare "event:" lines) are skipped. A final event that is not
// followed by a blank line is still returned before io.EOF.
func (s *SSEReader) Next() (Frame, error) {
	var (
		frame   Frame
		data    bytes.Buffer
		hasData bool
		size    int
	)

	for {
		line, err := s.readLine(s.maxBytes - size)
		if err != nil {
			if err == io.EOF && hasData {
				frame.Data = data.String()
				return frame, nil
			}
			if err == ErrEventTooLarge {
				return Frame{}, fmt.Errorf("%w (limit %d bytes)", err, s.maxBytes)
			}
			return Frame{}, err
		}
		size += len(line)

		if len(line) == 0 {
			if hasData {
				frame.Data = data.String()
				return frame, nil
			}
			frame.Event = ""
			size = 0
			continue
		}

		// Comment lines are keep-alives.
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			frame.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		case "id", "retry":
		default:
			if s.OnUnknownField != nil {
				s.OnUnknownField(field)
			}
		}
	}
}

// readLine reads one line without its terminator, failing once more than
// budget bytes are consumed.
func (s *SSEReader) readLine(budget int) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > budget {
			return nil, ErrEventTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// splitField splits "name: value" per the SSE grammar: a single space after
// the colon is dropped, a line with no colon is a field with an empty value.
func splitField(line []byte) (string, []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
