package llm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DonePayload is the data payload of the terminal success frame.
const DonePayload = "[DONE]"

// ErrUnknownFrame is returned by DecodeEvent for well-formed JSON that is
// neither a text nor an error frame.
var ErrUnknownFrame = errors.New("unknown stream frame")

type textFrame struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type errorFrame struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// wireFrame is the decode-side union of textFrame and errorFrame.
type wireFrame struct {
	Text    *string `json:"text"`
	Done    bool    `json:"done"`
	Error   bool    `json:"error"`
	Message string  `json:"message"`
	Code    int     `json:"code"`
}

// EncodeEvent returns the SSE data payload for ev:
//
//	{"text":"...","done":false}
//	{"error":true,"message":"...","code":503}
//	[DONE]
func EncodeEvent(ev StreamEvent) ([]byte, error) {
	switch e := ev.(type) {
	case TextDelta:
		return json.Marshal(textFrame{Text: e.Text})
	case *TextDelta:
		return json.Marshal(textFrame{Text: e.Text})
	case StreamError:
		return json.Marshal(errorFrame{Error: true, Message: e.Message, Code: e.Code})
	case *StreamError:
		return json.Marshal(errorFrame{Error: true, Message: e.Message, Code: e.Code})
	case StreamDone, *StreamDone:
		return []byte(DonePayload), nil
	default:
		return nil, fmt.Errorf("cannot encode stream event %T", ev)
	}
}

// DecodeEvent parses an SSE data payload produced by EncodeEvent.
// Malformed or unrecognized payloads return an error so callers can skip them.
func DecodeEvent(data string) (StreamEvent, error) {
	if data == DonePayload {
		return StreamDone{}, nil
	}

	var f wireFrame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("decoding stream frame: %w", err)
	}

	switch {
	case f.Error:
		return StreamError{Message: f.Message, Code: f.Code}, nil
	case f.Text != nil:
		return TextDelta{Text: *f.Text}, nil
	default:
		return nil, ErrUnknownFrame
	}
}
