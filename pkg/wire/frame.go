// Package wire implements the peer-to-peer frame codec described in the
// talker spec: one CRLF-terminated line per frame, pipe-delimited fields,
// with a bounded split so the payload may itself contain '|'.
package wire

import (
	"errors"
	"strconv"
	"strings"
)

// Frame is a single unit of the peer wire protocol.
type Frame struct {
	Source    string
	MessageID int64
	Broadcast bool
	Target    string
	Payload   string
}

// ErrMalformed is returned by Decode when a line cannot be parsed.
var ErrMalformed = errors.New("wire: malformed frame")

// Encode renders f back into its wire form. The caller's transport is
// responsible for appending the line's CRLF terminator; Encode deals only
// in the line's content, matching the convention used throughout this
// codebase's line-buffered sockets.
func (f Frame) Encode() string {
	var b strings.Builder
	if !f.Broadcast {
		b.WriteByte('!')
	}
	b.WriteString(f.Source)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.MessageID, 10))
	b.WriteByte('|')
	b.WriteString(f.Target)
	b.WriteByte('|')
	b.WriteString(f.Payload)
	return b.String()
}

// Decode parses one line (without its trailing CRLF) into a Frame.
//
// Splitting is bounded to at most three separators (four fields: source,
// message id, target, payload), so a payload containing '|' passes through
// untouched. An empty TARGET field is written and read explicitly (as two
// adjacent '|' characters) rather than omitted outright, which keeps the
// split unambiguous without requiring lookahead into the payload.
func Decode(line string) (Frame, error) {
	broadcast := true
	if strings.HasPrefix(line, "!") {
		broadcast = false
		line = line[1:]
	}

	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return Frame{}, ErrMalformed
	}

	source, idStr, target, payload := parts[0], parts[1], parts[2], parts[3]
	if source == "" {
		return Frame{}, ErrMalformed
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Frame{}, ErrMalformed
	}

	return Frame{
		Source:    source,
		MessageID: id,
		Broadcast: broadcast,
		Target:    target,
		Payload:   payload,
	}, nil
}

// SplitMethod splits an observer payload of the form "method|rest" into its
// method name and remaining payload. If there is no '|', the whole string
// is the method and the remaining payload is empty.
func SplitMethod(payload string) (method, rest string) {
	method, rest, found := strings.Cut(payload, "|")
	if !found {
		return method, ""
	}
	return method, rest
}
