// Package sse decodes text/event-stream bodies incrementally.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Done is the data payload that marks the end of an OpenAI-style stream.
const Done = "[DONE]"

const maxLineSize = 1 << 20

// Event is one blank-line-terminated block. Every data line is kept as its
// own payload, in arrival order.
type Event struct {
	Name string
	ID   string
	Data []string
}

type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder reads events from r. Lines may be split across reads and end in
// either \n or \r\n; a trailing event without a blank line is still returned
// once r reports EOF.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next non-empty event, or io.EOF.
func (d *Decoder) Next() (Event, error) {
	var ev Event
	seen := false
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if seen {
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		seen = true
		field, value := splitField(line)
		switch field {
		case "data":
			ev.Data = append(ev.Data, value)
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("sse read: %w", err)
	}
	if seen {
		return ev, nil
	}
	return Event{}, io.EOF
}

func splitField(line string) (string, string) {
	field, value, ok := strings.Cut(line, ":")
	if !ok {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}

// IsDone reports whether payload is the [DONE] sentinel.
func IsDone(payload string) bool {
	return strings.TrimSpace(payload) == Done
}
