// Package control encodes and classifies the JSON control envelope spoken
// with the device: {"type":"ping"}, {"type":"pong"} and
// {"type":"message","content":"..."}. Anything else is plain user content.
package control

import (
	"encoding/json"
	"strings"
)

const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeMessage  = "message"
	TypeResponse = "response"
)

// Kind is the classification of an inbound payload.
type Kind int

const (
	// KindRaw is a payload that is not a JSON object with a string type.
	KindRaw Kind = iota
	KindPing
	KindPong
	KindMessage
	// KindOther is a well-formed envelope with an application-defined type.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindMessage:
		return "message"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Frame is the parse result for one payload. Raw always holds the payload
// text as received.
type Frame struct {
	Kind    Kind
	Type    string
	Content string
	Raw     string
}

type envelope struct {
	Type string `json:"type"`
}

type contentEnvelope struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type probe struct {
	Type    *string         `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Parse classifies payload. It never fails: payloads that are not control
// envelopes come back as KindRaw.
func Parse(payload []byte) Frame {
	frame := Frame{Kind: KindRaw, Raw: string(payload)}

	trimmed := strings.TrimSpace(frame.Raw)
	if !strings.HasPrefix(trimmed, "{") {
		return frame
	}

	var p probe
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil || p.Type == nil {
		return frame
	}

	frame.Type = *p.Type
	if len(p.Content) > 0 {
		var text string
		if err := json.Unmarshal(p.Content, &text); err == nil {
			frame.Content = text
		} else {
			frame.Content = string(p.Content)
		}
	}

	switch frame.Type {
	case TypePing:
		frame.Kind = KindPing
	case TypePong:
		frame.Kind = KindPong
	case TypeMessage:
		frame.Kind = KindMessage
	default:
		frame.Kind = KindOther
	}

	return frame
}

func EncodePing() []byte {
	return mustEncode(envelope{Type: TypePing})
}

func EncodePong() []byte {
	return mustEncode(envelope{Type: TypePong})
}

// EncodeMessage wraps user text in the message envelope.
func EncodeMessage(content string) []byte {
	return mustEncode(contentEnvelope{Type: TypeMessage, Content: content})
}

func EncodeResponse(content string) []byte {
	return mustEncode(contentEnvelope{Type: TypeResponse, Content: content})
}

func mustEncode(v any) []byte {
	// Envelopes hold only strings, Marshal cannot fail.
	raw, _ := json.Marshal(v)

	return raw
}
