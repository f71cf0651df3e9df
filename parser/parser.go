// Package parser turns raw decoder output lines into structured messages.
//
// Two grammars are supported, matching what multimon-ng emits:
//
//	FLEX|<time>|<mode>|<frame>|<capcodes>|<type>|<text>
//	POCSAG<baud>: Address: <capcode>  Function: <n>  Alpha: <text>
//
// Anything else is a parse failure. Parse failures are expected steady-state
// noise on a radio link and carry a reason so callers can count them.
package parser

import (
	"fmt"
	"strings"

	"github.com/aoi-validoku/p2000/errors"
	"github.com/aoi-validoku/p2000/pkg/timestamp"
)

// Decoder protocols as they appear at the start of a line.
const (
	ProtocolFLEX   = "FLEX"
	ProtocolPOCSAG = "POCSAG"
)

// Parse-failure reasons, used as metric labels.
const (
	ReasonEmptyLine       = "empty_line"
	ReasonUnknownProtocol = "unknown_protocol"
	ReasonTooFewFields    = "too_few_fields"
	ReasonNoCapcodes      = "no_capcodes"
	ReasonEmptyBody       = "empty_body"
)

// Message is one decoded pager transmission, not yet classified.
type Message struct {
	Protocol    string   // FLEX or POCSAG
	Timestamp   int64    // arrival time, unix ms
	DecoderTime string   // decoder-reported timestamp, verbatim
	Capcodes    []string // raw decoder tokens, order preserved
	MessageType string   // decoder payload type, e.g. ALN
	Body        string
}

// ParseError reports why a line could not be parsed. It unwraps to the
// package sentinel so callers can classify it without string matching.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse line: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	if e.Reason == ReasonEmptyLine {
		return errors.ErrEmptyLine
	}
	return errors.ErrParsingFailed
}

func fail(reason, line string) (Message, error) {
	return Message{}, &ParseError{Reason: reason, Line: line}
}

// Reason extracts the parse-failure reason from err, or "" if err is not a
// ParseError.
func Reason(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// Parse parses one raw decoder line. Leading and trailing whitespace is
// ignored. The returned message shares no memory with the input line's
// surrounding buffer.
func Parse(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return fail(ReasonEmptyLine, line)
	}

	var (
		msg Message
		err error
	)
	switch {
	case strings.HasPrefix(line, ProtocolFLEX):
		msg, err = parseFLEX(line)
	case strings.HasPrefix(line, ProtocolPOCSAG):
		msg, err = parsePOCSAG(line)
	default:
		return fail(ReasonUnknownProtocol, line)
	}
	if err != nil {
		return Message{}, err
	}

	msg.Timestamp = timestamp.Now()
	return msg, nil
}

// parseFLEX handles pipe-delimited FLEX lines. The capcode field may carry
// several whitespace-separated addresses for group messages; the text field
// may itself contain pipes, so only the first six separators split.
func parseFLEX(line string) (Message, error) {
	fields := strings.SplitN(line, "|", 7)
	if len(fields) < 7 {
		return fail(ReasonTooFewFields, line)
	}

	capcodes := strings.Fields(fields[4])
	if len(capcodes) == 0 {
		return fail(ReasonNoCapcodes, line)
	}

	body := strings.TrimSpace(fields[6])
	if body == "" {
		return fail(ReasonEmptyBody, line)
	}

	return Message{
		Protocol:    ProtocolFLEX,
		DecoderTime: strings.TrimSpace(fields[1]),
		Capcodes:    capcodes,
		MessageType: strings.TrimSpace(fields[5]),
		Body:        body,
	}, nil
}

// parsePOCSAG handles multimon-ng POCSAG lines. Only Alpha payloads carry a
// readable body; numeric-only pages fail with an empty body.
func parsePOCSAG(line string) (Message, error) {
	rest, ok := cutField(line, "Address:")
	if !ok {
		return fail(ReasonTooFewFields, line)
	}

	capcode, rest := nextToken(rest)
	if capcode == "" {
		return fail(ReasonNoCapcodes, line)
	}

	var msgType, body string
	if alpha, ok := cutField(rest, "Alpha:"); ok {
		msgType = "Alpha"
		body = strings.TrimSpace(alpha)
	}
	if body == "" {
		return fail(ReasonEmptyBody, line)
	}

	return Message{
		Protocol:    ProtocolPOCSAG,
		Capcodes:    []string{capcode},
		MessageType: msgType,
		Body:        body,
	}, nil
}

func cutField(s, marker string) (string, bool) {
	_, after, found := strings.Cut(s, marker)
	if !found {
		return "", false
	}
	return strings.TrimLeft(after, " \t"), true
}

func nextToken(s string) (token, rest string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", s
	}
	idx := strings.Index(s, fields[0])
	return fields[0], s[idx+len(fields[0]):]
}
