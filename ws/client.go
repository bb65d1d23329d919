package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10
)

// Client is a websocket connection to the chat server. Topics registered
// with Subscribe survive the connection: dialing again after a disconnect
// resubscribes them.
//
// Reconnection policy is the embedder's concern; the client only reports
// connects and disconnects through its callbacks.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger
	router *Router

	onConnect    func()
	onDisconnect func()

	mu        sync.Mutex
	conn      *websocket.Conn
	out       chan *Frame
	done      chan struct{}
	subs      map[string]struct{}
	connected bool
	dialing   bool
	closed    bool
	wg        sync.WaitGroup
}

// New builds a client for the server's /ws endpoint. serverURL is the
// http(s) base URL shared with the api package.
func New(serverURL string, header http.Header, opts ...ClientOption) *Client {
	c := &Client{
		url:    wsURL(serverURL) + "/ws",
		header: header,
		dialer: websocket.DefaultDialer,
		logger: slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})),
		subs: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.router = NewRouter(c.logger)
	return c
}

type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

func wsURL(serverURL string) string {
	serverURL = strings.TrimRight(serverURL, "/")
	if strings.HasPrefix(serverURL, "https://") {
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(serverURL, "http://")
}

func (c *Client) OnConnect(f func()) {
	c.onConnect = f
}

func (c *Client) OnDisconnect(f func()) {
	c.onDisconnect = f
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the server and starts the read and write loops. Calling
// Connect while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	// A concurrent Connect that lost the race is a no-op, like calling
	// Connect while connected.
	if c.connected || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("Dial: %w", err)
	}
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.out = make(chan *Frame, 64)
	c.done = make(chan struct{})
	c.connected = true
	for dest := range c.subs {
		c.out <- &Frame{Type: FrameSubscribe, Destination: dest}
	}
	out, done := c.out, c.done
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(conn, done)
	}()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop(conn, out, done)
	}()

	c.logger.Info("socket connected", slog.String("url", c.url))
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Subscribe registers a handler for a topic and, when connected, asks the
// server to start delivering it.
func (c *Client) Subscribe(destination string, h Handler) {
	c.router.On(destination, h)
	c.mu.Lock()
	c.subs[destination] = struct{}{}
	c.mu.Unlock()
	if err := c.send(&Frame{Type: FrameSubscribe, Destination: destination}); err != nil {
		c.logger.Debug("subscribe deferred until connect",
			slog.String("destination", destination))
	}
}

// Unsubscribe removes the topic handler and tells the server to stop
// delivering the topic. Frames already in flight are dropped by the
// router.
func (c *Client) Unsubscribe(destination string) {
	c.router.Off(destination)
	c.mu.Lock()
	delete(c.subs, destination)
	c.mu.Unlock()
	if err := c.send(&Frame{Type: FrameUnsubscribe, Destination: destination}); err != nil {
		c.logger.Debug("unsubscribe while disconnected",
			slog.String("destination", destination))
	}
}

// Publish sends a payload to a /pub destination.
func (c *Client) Publish(destination string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("Marshal: %w", err)
	}
	return c.send(&Frame{Type: FrameMessage, Destination: destination, Body: b})
}

func (c *Client) send(frame *Frame) error {
	c.mu.Lock()
	out, done, connected := c.out, c.done, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case out <- frame:
		return nil
	case <-done:
		return ErrNotConnected
	}
}

// Close shuts the client down for good and waits for the loops to exit,
// with a timeout.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.teardown(conn)
	}

	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()
	exited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
		c.logger.Info("socket closed gracefully")
	case <-timer.C:
		c.logger.Info("socket closed with timeout")
	}
}

// teardown retires one physical connection. Only the first caller for a
// given connection proceeds; later callers (read loop error racing Close)
// are no-ops.
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	close(c.done)
	c.mu.Unlock()

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	conn.Close()

	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.teardown(conn)
		c.logger.Info("exited read loop")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		mt, r, err := conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			select {
			case <-done:
			default:
				c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			}
			return
		}

		frame, err := decodeFrame(mt, r)
		if err != nil {
			c.logger.Error(fmt.Sprintf("DecodeFrame: %v", err))
			continue
		}
		c.router.Dispatch(frame.Destination, frame.Body)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, out chan *Frame, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.logger.Info("exited write loop")
	}()

	for {
		select {
		case <-done:
			return
		case frame := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := encodeFrame(conn.NextWriter, frame); err != nil {
				c.logger.Error(fmt.Sprintf("EncodeFrame: %v", err))
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("WritePing: %v", err))
				return
			}
		}
	}
}
