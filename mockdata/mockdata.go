// Package mockdata generates fake rooms and messages for tests and the
// CLI demo broker.
package mockdata

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yhkim-dev/brandtalk/models"
)

var words = []string{
	"order", "delivery", "refund", "thanks", "hello", "please", "coupon",
	"arrived", "waiting", "question", "size", "color", "tomorrow", "sorry",
	"receipt", "address", "change", "cancel", "okay", "great",
}

func sentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[rand.Intn(len(words))]
	}
	return strings.Join(parts, " ")
}

func newID() string {
	return uuid.NewString()[:8]
}

// CustomerMessage fabricates a customer-side text message.
func CustomerMessage(roomID string) models.Message {
	return models.Message{
		ID:              newID(),
		ChatRoomID:      roomID,
		Speaker:         models.SpeakerCustomer,
		Type:            "TEXT",
		Status:          "SUCCESS",
		SpeakerName:     words[rand.Intn(len(words))],
		SpeakerImageURL: "https://picsum.photos/200",
		Text:            sentence(6),
		SentAt:          models.MessageTime(time.Now()),
	}
}

// UserMessage fabricates a brand-side text message.
func UserMessage(roomID string) models.Message {
	m := CustomerMessage(roomID)
	m.Speaker = models.SpeakerUser
	return m
}

// SystemMessage fabricates a system notice; roughly half of them are
// date separators, the rest blocks.
func SystemMessage(roomID string) models.Message {
	m := CustomerMessage(roomID)
	m.Speaker = models.SpeakerSystem
	m.SpeakerName = ""
	m.SpeakerImageURL = ""
	m.Text = sentence(2)
	if rand.Intn(2) == 1 {
		m.SystemActivityType = models.ActivityDateChange
	} else {
		m.SystemActivityType = models.ActivityUserBlocked
	}
	return m
}

// Messages fabricates size messages of mixed speakers.
func Messages(roomID string, size int) []models.Message {
	out := make([]models.Message, 0, size)
	for i := 0; i < size; i++ {
		switch rand.Intn(3) {
		case 0:
			out = append(out, CustomerMessage(roomID))
		case 1:
			out = append(out, UserMessage(roomID))
		default:
			out = append(out, SystemMessage(roomID))
		}
	}
	return out
}

// Rooms fabricates size rooms with a latest chat each.
func Rooms(size int) []models.Room {
	out := make([]models.Room, 0, size)
	for i := 0; i < size; i++ {
		roomID := fmt.Sprintf("room-%d", i)
		out = append(out, models.Room{
			RoomID:          roomID,
			CustomerName:    words[rand.Intn(len(words))],
			UnansweredChats: rand.Intn(3),
			LatestChat:      CustomerMessage(roomID),
		})
	}
	return out
}
