package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SpeakerCustomer indicates that the message was sent by the customer
	// on the other side of the room.
	SpeakerCustomer Speaker = "CUSTOMER"
	// SpeakerUser indicates that the message was sent by the local user
	// (the brand-side agent).
	SpeakerUser Speaker = "USER"
	// SpeakerSystem indicates a message generated by the chat server itself,
	// e.g. session lifecycle notices and date separators.
	SpeakerSystem Speaker = "SYSTEM"
)

// Speaker identifies which party of a room produced a message.
type Speaker string

const (
	ActivityUserBlocked SystemActivityType = "USER_BLOCKED"
	ActivityEndSession  SystemActivityType = "END_SESSION"
	ActivityDateChange  SystemActivityType = "DATE_CHANGE"
)

// SystemActivityType describes what a SYSTEM message announces.
// It is empty for non-system messages.
type SystemActivityType string

// Terminated reports whether the activity ends the conversation for good.
// A room whose most recent message carries a terminating activity no longer
// accepts outbound messages.
func (t SystemActivityType) Terminated() bool {
	return t == ActivityUserBlocked || t == ActivityEndSession
}

// NoMoreHistory is the cursor value the server returns when there are no
// older chat logs left to page through.
const NoMoreHistory int64 = -1

// messageTimeLayout is the wire format of message timestamps.
const messageTimeLayout = "01/02/2006 15:04:05"

// MessageTime wraps time.Time with the server's timestamp encoding.
type MessageTime time.Time

func (t MessageTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Time(t).Format(messageTimeLayout))), nil
}

func (t *MessageTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = MessageTime(time.Time{})
		return nil
	}
	parsed, err := time.Parse(messageTimeLayout, s)
	if err != nil {
		return fmt.Errorf("parse message time: %w", err)
	}
	*t = MessageTime(parsed)
	return nil
}

func (t MessageTime) Time() time.Time {
	return time.Time(t)
}

// Message is a single chat entry within a room. The ID is assigned by the
// server and stays stable across edits: an inbound message whose ID is
// already present in the timeline is an update of that entry, not a new one.
type Message struct {
	ID                 string             `json:"id"`
	ChatRoomID         string             `json:"chatRoomId"`
	Speaker            Speaker            `json:"speaker"`
	Type               string             `json:"messageType"`
	Status             string             `json:"status"`
	Text               string             `json:"messageText"`
	SpeakerName        string             `json:"speakerName"`
	SpeakerImageURL    string             `json:"speakerImageUrl"`
	RefKey             string             `json:"refKey,omitempty"`
	SentAt             MessageTime        `json:"messageDt"`
	SystemActivityType SystemActivityType `json:"systemActivityType,omitempty"`

	// SameSpeakerAsPrevious is derived at merge time against the entry's
	// immediate predecessor in the timeline. It is never sent on the wire
	// and must be recomputed whenever the predecessor changes.
	SameSpeakerAsPrevious bool `json:"-"`
}

// MessageEnvelope is the payload published to /pub/message when the local
// user sends a text message.
type MessageEnvelope struct {
	ChatRoomID  string  `json:"chatRoomId"`
	MessageText string  `json:"messageText"`
	RefKey      *string `json:"refKey"`
	BotEvent    *string `json:"botEvent"`
}

// RoomActivity is a presence event on the room activity channel.
// ID identifies the user whose composing state changed.
type RoomActivity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ChatRoomID string `json:"chatRoomId"`
	Writing    bool   `json:"writing"`
}

// ActivityEnvelope is the payload published to /pub/room_activity to
// report the local user's composing state.
type ActivityEnvelope struct {
	ChatRoomID string `json:"chatRoomId"`
	Writing    bool   `json:"writing"`
}
