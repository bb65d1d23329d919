package ws

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

const (
	// FrameMessage carries a payload for a topic, in either direction.
	FrameMessage = "message"
	// FrameSubscribe asks the server to start delivering a topic.
	FrameSubscribe = "subscribe"
	// FrameUnsubscribe asks the server to stop delivering a topic.
	FrameUnsubscribe = "unsubscribe"
)

// Frame is the unit of the socket protocol. Body is left raw here and
// decoded into a concrete type by the topic handler.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func decodeFrame(t int, r io.Reader) (*Frame, error) {
	if t != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected message type: %d", t)
	}

	var frame Frame
	if err := json.NewDecoder(r).Decode(&frame); err != nil {
		return nil, fmt.Errorf("json.Decoder.Decode: %w", err)
	}
	return &frame, nil
}

func encodeFrame(f func(t int) (io.WriteCloser, error), frame *Frame) error {
	w, err := f(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("NextWriter: %w", err)
	}
	defer w.Close()

	if err := json.NewEncoder(w).Encode(frame); err != nil {
		return fmt.Errorf("json.Encoder.Encode: %w", err)
	}

	return nil
}
