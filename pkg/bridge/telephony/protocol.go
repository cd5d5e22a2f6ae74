// Package telephony implements the carrier media-stream wire protocol:
// JSON-framed events over a persistent duplex websocket, carrying
// base64 g711 mu-law audio at 8kHz. Frame payloads have no internal
// framing, so concatenating them is codec-safe.
package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Start carries the call identity. CustomParameters re-delivers the
// agent selector and auth token because query parameters may be
// stripped by upstream proxies.
type Start struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid"`
	Start          struct {
		AccountSid       string            `json:"accountSid,omitempty"`
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		Tracks           []string          `json:"tracks,omitempty"`
		MediaFormat      MediaFormat       `json:"mediaFormat"`
		CustomParameters map[string]string `json:"customParameters,omitempty"`
	} `json:"start"`
}

func (s Start) Parameter(name string) string {
	return strings.TrimSpace(s.Start.CustomParameters[name])
}

type Media struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid"`
	Media          struct {
		Track     string `json:"track,omitempty"`
		Chunk     string `json:"chunk,omitempty"`
		Timestamp string `json:"timestamp,omitempty"`
		Payload   string `json:"payload"`
	} `json:"media"`
}

type Stop struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Stop      struct {
		AccountSid string `json:"accountSid,omitempty"`
		CallSid    string `json:"callSid,omitempty"`
	} `json:"stop"`
}

type Mark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Decode parses one inbound carrier frame into its typed form.
// Unknown event names are an error the caller counts and drops.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badFrame("missing event", "event")
	}

	switch event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid connected frame", "")
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid start frame", "")
		}
		if msg.StreamSid == "" {
			msg.StreamSid = msg.Start.StreamSid
		}
		if strings.TrimSpace(msg.StreamSid) == "" {
			return nil, badFrame("start.streamSid is required", "streamSid")
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Media.Payload) == "" {
			return nil, badFrame("media.payload is required", "media.payload")
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid stop frame", "")
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid mark frame", "")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported event", "event")
	}
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// EncodeMedia builds an outbound media frame for streamSid. The caller
// supplies the payload already base64-encoded.
func EncodeMedia(streamSid, payloadB64 string) ([]byte, error) {
	if strings.TrimSpace(streamSid) == "" {
		return nil, badFrame("streamSid is required", "streamSid")
	}
	msg := outboundMedia{Event: EventMedia, StreamSid: streamSid}
	msg.Media.Payload = payloadB64
	return json.Marshal(msg)
}

type outboundMark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

func EncodeMark(streamSid, name string) ([]byte, error) {
	msg := outboundMark{Event: EventMark, StreamSid: streamSid}
	msg.Mark.Name = name
	return json.Marshal(msg)
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// EncodeClear tells the carrier to discard buffered playback, used on
// barge-in when the caller starts speaking over the assistant.
func EncodeClear(streamSid string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: EventClear, StreamSid: streamSid})
}
