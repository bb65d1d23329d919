// Package demo runs an in-process chat broker so the CLI can be tried
// without a real server. It speaks the same REST and socket contract the
// SDK expects, backed by generated data.
package demo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yhkim-dev/brandtalk/mockdata"
	"github.com/yhkim-dev/brandtalk/models"
)

const pageSize = 20

type frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	topics map[string]bool
}

func (c *conn) send(destination string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("Marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(&frame{Type: "message", Destination: destination, Body: body})
}

// Broker is a single-brand, in-memory chat server.
type Broker struct {
	brandID  string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	history map[string][]models.Message
	rooms   []models.Room
	conns   map[*conn]struct{}
}

func NewBroker(brandID string) *Broker {
	b := &Broker{
		brandID:  brandID,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		history:  make(map[string][]models.Message),
		conns:    make(map[*conn]struct{}),
	}

	b.rooms = mockdata.Rooms(3)
	for i := range b.rooms {
		roomID := b.rooms[i].RoomID
		msgs := mockdata.Messages(roomID, 60)
		// Keep terminating notices out of the seed so the demo rooms
		// stay open for sending.
		for j := range msgs {
			if msgs[j].SystemActivityType.Terminated() {
				msgs[j].SystemActivityType = models.ActivityDateChange
			}
		}
		b.history[roomID] = msgs
		b.rooms[i].LatestChat = msgs[len(msgs)-1]
	}
	return b
}

func (b *Broker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	r.Get("/{brandID}/chat_room", b.listRooms)
	r.Get("/{brandID}/chat_room/{roomID}/chat_logs", b.chatLogs)
	r.Post("/{brandID}/chat/{roomID}/file", b.uploadFile)
	r.Get("/ws", b.serveWS)
	return r
}

func (b *Broker) listRooms(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	rooms := make([]models.Room, len(b.rooms))
	copy(rooms, b.rooms)
	b.mu.Unlock()
	writeJSON(w, map[string]any{"data": rooms})
}

// chatLogs pages history newest first. The offset is the index of the
// oldest message already handed out; -1 means exhausted.
func (b *Broker) chatLogs(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	b.mu.Lock()
	h := b.history[roomID]
	start := len(h)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > len(h) {
			b.mu.Unlock()
			http.Error(w, "bad offset", http.StatusBadRequest)
			return
		}
		start = parsed
	}
	lo := start - pageSize
	if lo < 0 {
		lo = 0
	}
	page := make([]models.Message, 0, start-lo)
	for i := start - 1; i >= lo; i-- {
		page = append(page, h[i])
	}
	b.mu.Unlock()

	next := int64(lo)
	if lo == 0 {
		next = models.NoMoreHistory
	}
	writeJSON(w, map[string]any{"data": page, "nextOffset": next})
}

func (b *Broker) uploadFile(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	_, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}

	msg := mockdata.UserMessage(roomID)
	msg.Type = "FILE"
	msg.Text = header.Filename
	b.appendAndBroadcast(roomID, msg)
	writeJSON(w, map[string]any{"data": msg})
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: sock, topics: make(map[string]bool)}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		sock.Close()
	}()

	for {
		var f frame
		if err := sock.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "subscribe":
			b.mu.Lock()
			c.topics[f.Destination] = true
			b.mu.Unlock()
		case "unsubscribe":
			b.mu.Lock()
			delete(c.topics, f.Destination)
			b.mu.Unlock()
		case "message":
			b.handlePublish(f)
		}
	}
}

func (b *Broker) handlePublish(f frame) {
	switch f.Destination {
	case "/pub/message":
		var env models.MessageEnvelope
		if err := json.Unmarshal(f.Body, &env); err != nil {
			b.logger.Error(fmt.Sprintf("Unmarshal envelope: %v", err))
			return
		}
		msg := models.Message{
			ID:          uuid.NewString()[:8],
			ChatRoomID:  env.ChatRoomID,
			Speaker:     models.SpeakerUser,
			Type:        "TEXT",
			Status:      "SUCCESS",
			SpeakerName: "agent",
			Text:        env.MessageText,
			SentAt:      models.MessageTime(time.Now()),
		}
		b.appendAndBroadcast(env.ChatRoomID, msg)
	case "/pub/room_activity":
		var env models.ActivityEnvelope
		if err := json.Unmarshal(f.Body, &env); err != nil {
			b.logger.Error(fmt.Sprintf("Unmarshal activity: %v", err))
			return
		}
		act := models.RoomActivity{
			ID:         "agent",
			Name:       "agent",
			ChatRoomID: env.ChatRoomID,
			Writing:    env.Writing,
		}
		b.broadcast(fmt.Sprintf("/sub/room_activity/%s", env.ChatRoomID), act)
	}
}

func (b *Broker) appendAndBroadcast(roomID string, msg models.Message) {
	b.mu.Lock()
	b.history[roomID] = append(b.history[roomID], msg)
	for i := range b.rooms {
		if b.rooms[i].RoomID == roomID {
			b.rooms[i].LatestChat = msg
		}
	}
	b.mu.Unlock()

	b.broadcast(fmt.Sprintf("/sub/room/%s", roomID), msg)
	if room, ok := b.room(roomID); ok {
		b.broadcast(fmt.Sprintf("/sub/brand/%s", b.brandID), room)
	}
}

func (b *Broker) room(roomID string) (models.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.rooms {
		if r.RoomID == roomID {
			return r, true
		}
	}
	return models.Room{}, false
}

func (b *Broker) broadcast(destination string, v any) {
	b.mu.Lock()
	targets := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		if c.topics[destination] {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.send(destination, v); err != nil {
			b.logger.Error(fmt.Sprintf("send: %v", err))
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("Encode: %v", err))
	}
}
