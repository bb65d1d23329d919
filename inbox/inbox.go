// Package inbox maintains the brand-level room list: which conversations
// exist, which still await a reply, and live updates pushed on the brand
// notification channel.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/yhkim-dev/brandtalk/models"
	"github.com/yhkim-dev/brandtalk/ws"
)

// BrandTopic is the cross-room notification topic of a brand.
func BrandTopic(brandID string) string {
	return fmt.Sprintf("/sub/brand/%s", brandID)
}

// RoomAPI is the REST surface the inbox needs. *api.Client implements it.
type RoomAPI interface {
	ChatRooms(ctx context.Context) ([]models.Room, error)
}

// Socket is the streaming surface the inbox needs. *ws.Client implements
// it.
type Socket interface {
	Subscribe(destination string, h ws.Handler)
	Unsubscribe(destination string)
}

// Inbox is the room list of one brand. Rooms awaiting a reply sort ahead
// of the rest; within each group newest activity comes first.
type Inbox struct {
	api     RoomAPI
	brandID string
	logger  *slog.Logger

	mu       sync.Mutex
	rooms    []models.Room
	waiting  int
	onChange func(rooms []models.Room, waiting int)
}

func New(api RoomAPI, brandID string, opts ...Option) *Inbox {
	ib := &Inbox{
		api:     api,
		brandID: brandID,
		logger: slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(ib)
	}
	return ib
}

type Option func(*Inbox)

func WithLogger(logger *slog.Logger) Option {
	return func(ib *Inbox) {
		ib.logger = logger
	}
}

// OnChange registers the callback invoked with the re-sorted room list
// and waiting count after every refresh or pushed update. Safe to call
// while updates are already flowing.
func (ib *Inbox) OnChange(f func(rooms []models.Room, waiting int)) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.onChange = f
}

// Refresh fetches the room list from the server. A failed fetch leaves
// the current list untouched.
func (ib *Inbox) Refresh(ctx context.Context) error {
	rooms, err := ib.api.ChatRooms(ctx)
	if err != nil {
		ib.logger.Error(fmt.Sprintf("ChatRooms: %v", err))
		return err
	}

	ib.mu.Lock()
	ib.rooms = sortRooms(rooms)
	ib.waiting = countWaiting(ib.rooms)
	rooms, waiting, cb := ib.snapshotLocked()
	ib.mu.Unlock()

	if cb != nil {
		cb(rooms, waiting)
	}
	return nil
}

// Attach subscribes the inbox to the brand notification topic so pushed
// room updates keep the list current.
func (ib *Inbox) Attach(socket Socket) {
	socket.Subscribe(BrandTopic(ib.brandID), ib.handleRoomEvent)
}

// Detach removes the brand topic subscription.
func (ib *Inbox) Detach(socket Socket) {
	socket.Unsubscribe(BrandTopic(ib.brandID))
}

// Apply upserts one room, by room id, and re-sorts the list.
func (ib *Inbox) Apply(room models.Room) {
	ib.mu.Lock()
	idx := -1
	for i := range ib.rooms {
		if ib.rooms[i].RoomID == room.RoomID {
			idx = i
			break
		}
	}
	if idx == -1 {
		ib.rooms = append(ib.rooms, room)
	} else {
		ib.rooms[idx] = room
	}
	ib.rooms = sortRooms(ib.rooms)
	ib.waiting = countWaiting(ib.rooms)
	rooms, waiting, cb := ib.snapshotLocked()
	ib.mu.Unlock()

	if cb != nil {
		cb(rooms, waiting)
	}
}

// Rooms returns a copy of the current list, unanswered first.
func (ib *Inbox) Rooms() []models.Room {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	out := make([]models.Room, len(ib.rooms))
	copy(out, ib.rooms)
	return out
}

// Waiting is the number of rooms counting towards the unanswered badge.
func (ib *Inbox) Waiting() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.waiting
}

func (ib *Inbox) snapshotLocked() ([]models.Room, int, func([]models.Room, int)) {
	rooms := make([]models.Room, len(ib.rooms))
	copy(rooms, ib.rooms)
	return rooms, ib.waiting, ib.onChange
}

func (ib *Inbox) handleRoomEvent(_ string, body json.RawMessage) {
	var room models.Room
	if err := json.Unmarshal(body, &room); err != nil {
		ib.logger.Error(fmt.Sprintf("Unmarshal room event: %v", err))
		return
	}
	if room.RoomID == "" {
		ib.logger.Error("room event without id dropped")
		return
	}
	ib.Apply(room)
}

// sortRooms partitions rooms into unanswered and answered, sorts each
// group by latest chat time descending, and concatenates them.
func sortRooms(rooms []models.Room) []models.Room {
	unanswered := make([]models.Room, 0, len(rooms))
	answered := make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.UnansweredChats > 0 {
			unanswered = append(unanswered, r)
		} else {
			answered = append(answered, r)
		}
	}

	byLatest := func(rs []models.Room) func(i, j int) bool {
		return func(i, j int) bool {
			return rs[i].LatestChat.SentAt.Time().After(rs[j].LatestChat.SentAt.Time())
		}
	}
	sort.SliceStable(unanswered, byLatest(unanswered))
	sort.SliceStable(answered, byLatest(answered))

	return append(unanswered, answered...)
}

func countWaiting(rooms []models.Room) int {
	var n int
	for _, r := range rooms {
		if r.AwaitingReply() {
			n++
		}
	}
	return n
}
