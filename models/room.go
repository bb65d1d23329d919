package models

// Room is one conversation between a customer and the brand, as returned by
// the room list endpoint and pushed on the brand notification channel.
type Room struct {
	RoomID          string  `json:"roomId"`
	CustomerName    string  `json:"customerName"`
	UnansweredChats int     `json:"unansweredChats"`
	LatestChat      Message `json:"latestChat"`
	// SessionExpired is absent on rooms that never had a session close.
	SessionExpired *bool `json:"sessionExpired,omitempty"`
}

// AwaitingReply reports whether the room should count towards the
// unanswered badge. Rooms whose session was ended and not expired are
// settled and do not count.
func (r Room) AwaitingReply() bool {
	if r.UnansweredChats == 0 {
		return false
	}
	if r.LatestChat.SystemActivityType == ActivityEndSession &&
		r.SessionExpired != nil && !*r.SessionExpired {
		return false
	}
	return true
}
