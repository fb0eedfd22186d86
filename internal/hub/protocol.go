package hub

import (
	"encoding/json"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

// MessageType represents the type of a viewer message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeInput  MessageType = "input"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types
	MessageTypeScrollback MessageType = "scrollback"
	MessageTypeOutput     MessageType = "output"
	MessageTypeExit       MessageType = "exit"
	MessageTypePong       MessageType = "pong"
)

// ClientMessage is a frame sent by a viewer.
type ClientMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
	Cols int         `json:"cols,omitempty"`
	Rows int         `json:"rows,omitempty"`
}

// DataMessage carries terminal output. Data is always present, even when empty.
type DataMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// ExitMessage is the final frame a viewer receives.
type ExitMessage struct {
	Type     MessageType `json:"type"`
	ExitCode *int        `json:"exitCode"`
	Signal   *string     `json:"signal"`
}

// DecodeClientMessage parses a viewer frame. ok is false for malformed JSON
// and for types a viewer may not send.
func DecodeClientMessage(frame []byte) (msg ClientMessage, ok bool) {
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ClientMessage{}, false
	}
	switch msg.Type {
	case MessageTypeInput, MessageTypeResize, MessageTypePing:
		return msg, true
	}
	return ClientMessage{}, false
}

// EncodeScrollback builds the scrollback frame.
func EncodeScrollback(data []byte) []byte {
	return encode(DataMessage{Type: MessageTypeScrollback, Data: string(data)})
}

// EncodeOutput builds a live output frame.
func EncodeOutput(data []byte) []byte {
	return encode(DataMessage{Type: MessageTypeOutput, Data: string(data)})
}

// EncodeExit builds the exit frame.
func EncodeExit(status model.ExitStatus) []byte {
	return encode(ExitMessage{Type: MessageTypeExit, ExitCode: status.Code, Signal: status.Signal})
}

// EncodePong builds the reply to a viewer ping.
func EncodePong() []byte {
	return []byte(`{"type":"pong"}`)
}

func encode(v any) []byte {
	// Only strings and ints are marshalled here, which cannot fail.
	data, _ := json.Marshal(v)
	return data
}
