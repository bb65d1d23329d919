// Package ws implements the client side of the chat server's websocket
// protocol: a persistent connection multiplexing topic subscriptions
// (/sub/...) and publications (/pub/...) as JSON frames.
package ws

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNotConnected is returned when a frame is published while the
	// socket is not connected.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrClosed is returned when the client has been closed for good.
	ErrClosed = errors.New("ws: closed")
)

// Handler consumes the body of a frame delivered on a subscribed topic.
// Handlers run on the read loop goroutine; they must not block.
type Handler func(destination string, body json.RawMessage)
