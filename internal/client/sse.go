package client

import (
	"bufio"
	"io"
	"strings"
)

// Message is one dispatched Server-Sent Event.
type Message struct {
	Event string
	Data  string
	ID    string
}

// SSEReader splits a text/event-stream body into messages.
type SSEReader struct {
	r *bufio.Reader
}

// NewSSEReader wraps r.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReader(r)}
}

// Next returns the next message. Comment lines (heartbeats) and retry fields
// are consumed silently. io.EOF is returned once the stream ends; a partial
// message without its terminating blank line is discarded.
func (s *SSEReader) Next() (Message, error) {
	var (
		msg     Message
		data    []string
		hasData bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && (line == "" || err != io.EOF) {
			return Message{}, err
		}
		if err == io.EOF {
			// Last line without newline terminator; the message is incomplete.
			return Message{}, io.EOF
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasData {
				msg = Message{}
				continue
			}
			msg.Data = strings.Join(data, "\n")
			if msg.Event == "" {
				msg.Event = "message"
			}
			return msg, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			msg.ID = value
		case "retry":
		}
	}
}
