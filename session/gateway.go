package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/yhkim-dev/brandtalk/models"
)

const (
	defaultInputHeight = 22
	maxInputHeight     = 126
)

// SendText publishes a text message to the room. Empty or whitespace-only
// input is a no-op; sends while not connected fail with ErrNotConnected.
// On success the input affordance state is reset.
func (s *Session) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	state := s.state
	s.mu.Unlock()
	if !state.CanSend() {
		return ErrNotConnected
	}

	envelope := models.MessageEnvelope{
		ChatRoomID:  s.cfg.RoomID,
		MessageText: text,
	}
	if err := s.cfg.Socket.Publish(pubMessage, envelope); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	s.mu.Lock()
	s.inputHeight = defaultInputHeight
	s.mu.Unlock()
	return nil
}

// SendFile uploads a file to the room's upload endpoint. No timeline
// entry is created here; the resulting message, if any, arrives over the
// socket. Failures are logged and reported without disturbing the
// timeline.
func (s *Session) SendFile(ctx context.Context, filename string, r io.Reader) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	state := s.state
	s.mu.Unlock()
	if !state.CanSend() {
		return ErrNotConnected
	}

	if err := s.cfg.API.UploadFile(ctx, s.cfg.RoomID, filename, r); err != nil {
		s.logger.Error(fmt.Sprintf("UploadFile: %v", err))
		return err
	}
	s.logger.Info("file sent", slog.String("file", filename))
	return nil
}

// publishActivity reports the local user's composing state. Failures are
// soft: a dropped activity event only delays the remote indicator.
func (s *Session) publishActivity(writing bool) {
	envelope := models.ActivityEnvelope{
		ChatRoomID: s.cfg.RoomID,
		Writing:    writing,
	}
	if err := s.cfg.Socket.Publish(pubActivity, envelope); err != nil {
		s.logger.Debug(fmt.Sprintf("publish activity: %v", err))
	}
}
