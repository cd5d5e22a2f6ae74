// Package speech implements the realtime session protocol spoken by the
// speech-AI provider: a duplex websocket event stream interleaving
// audio deltas, transcription events, and streamed tool invocations.
package speech

import (
	"encoding/json"
	"strings"
)

const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventAudioDelta             = "response.audio.delta"
	EventFunctionArgsDelta      = "response.function_call_arguments.delta"
	EventOutputItemAdded        = "response.output_item.added"
	EventOutputItemDone         = "response.output_item.done"
	EventResponseDone           = "response.done"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventError                  = "error"

	itemTypeFunctionCall = "function_call"
)

// Item is one response output item. Only function_call items matter to
// the bridge; message items are ignored.
type Item struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

func (it Item) IsFunctionCall() bool {
	return it.Type == itemTypeFunctionCall && strings.TrimSpace(it.CallID) != ""
}

type AudioDelta struct {
	Delta string
}

type FunctionArgsDelta struct {
	CallID string
	ItemID string
	Delta  string
}

// OutputItem covers both output_item.added (name may be known before
// arguments) and output_item.done (authoritative full snapshot).
type OutputItem struct {
	Item Item
	Done bool
}

// ResponseDone enumerates every output item of the finished response.
// It is the second authoritative source of completed tool calls.
type ResponseDone struct {
	Items []Item
}

type SpeechStarted struct{}

type TranscriptionCompleted struct {
	ItemID     string
	Transcript string
}

type ErrorEvent struct {
	Type    string
	Code    string
	Message string
}

// Decode parses one upstream frame. Event types the bridge does not
// consume decode to nil with no error; callers skip them silently.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	switch envelope.Type {
	case EventAudioDelta:
		var msg struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return AudioDelta{Delta: msg.Delta}, nil

	case EventFunctionArgsDelta:
		var msg struct {
			CallID string `json:"call_id"`
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return FunctionArgsDelta{CallID: msg.CallID, ItemID: msg.ItemID, Delta: msg.Delta}, nil

	case EventOutputItemAdded, EventOutputItemDone:
		var msg struct {
			Item Item `json:"item"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return OutputItem{Item: msg.Item, Done: envelope.Type == EventOutputItemDone}, nil

	case EventResponseDone:
		var msg struct {
			Response struct {
				Output []Item `json:"output"`
			} `json:"response"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return ResponseDone{Items: msg.Response.Output}, nil

	case EventSpeechStarted:
		return SpeechStarted{}, nil

	case EventTranscriptionCompleted:
		var msg struct {
			ItemID     string `json:"item_id"`
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return TranscriptionCompleted{ItemID: msg.ItemID, Transcript: strings.TrimSpace(msg.Transcript)}, nil

	case EventError:
		var msg struct {
			Error struct {
				Type    string `json:"type"`
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return ErrorEvent{Type: msg.Error.Type, Code: msg.Error.Code, Message: msg.Error.Message}, nil

	default:
		return nil, nil
	}
}

// Tool is the function schema advertised in the session configuration.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

type SessionConfig struct {
	Voice             string
	Instructions      string
	Tools             []Tool
	Temperature       float64
	VADThreshold      float64
	SilenceDurationMS int
}

// EncodeSessionUpdate builds the session-configuration message sent once
// after the upstream leg opens: voice, telephony audio formats, server
// VAD thresholds, and the complete tool schema.
func EncodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	type transcription struct {
		Model string `json:"model"`
	}
	type sessionBody struct {
		Modalities              []string       `json:"modalities"`
		Instructions            string         `json:"instructions"`
		Voice                   string         `json:"voice"`
		InputAudioFormat        string         `json:"input_audio_format"`
		OutputAudioFormat       string         `json:"output_audio_format"`
		InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
		TurnDetection           *TurnDetection `json:"turn_detection"`
		Tools                   []Tool         `json:"tools,omitempty"`
		Temperature             float64        `json:"temperature,omitempty"`
	}

	vad := &TurnDetection{Type: "server_vad"}
	if cfg.VADThreshold > 0 {
		vad.Threshold = cfg.VADThreshold
	}
	if cfg.SilenceDurationMS > 0 {
		vad.SilenceDurationMS = cfg.SilenceDurationMS
	}

	return json.Marshal(struct {
		Type    string      `json:"type"`
		Session sessionBody `json:"session"`
	}{
		Type: "session.update",
		Session: sessionBody{
			Modalities:              []string{"text", "audio"},
			Instructions:            cfg.Instructions,
			Voice:                   cfg.Voice,
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			InputAudioTranscription: &transcription{Model: "whisper-1"},
			TurnDetection:           vad,
			Tools:                   cfg.Tools,
			Temperature:             cfg.Temperature,
		},
	})
}

// EncodeAudioAppend wraps an aggregated base64 payload for the upstream
// input buffer.
func EncodeAudioAppend(audioB64 string) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{Type: "input_audio_buffer.append", Audio: audioB64})
}

// EncodeFunctionResult injects a tool result back into the session as a
// function_call_output conversation item. No new turn is requested; the
// upstream protocol continues on its own, and forcing one while a
// response is active is itself a protocol error.
func EncodeFunctionResult(callID string, output any) ([]byte, error) {
	payload, err := json.Marshal(output)
	if err != nil {
		payload = []byte(`{"error":"unserializable tool result"}`)
	}
	type item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Item item   `json:"item"`
	}{
		Type: "conversation.item.create",
		Item: item{Type: "function_call_output", CallID: callID, Output: string(payload)},
	})
}
