package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/yhkim-dev/brandtalk/models"
)

// ChatLogPage is one page of room history. Data is reverse-chronological
// as served; callers are expected to reverse it before merging.
type ChatLogPage struct {
	Data       []models.Message `json:"data"`
	NextOffset int64            `json:"nextOffset"`
}

// ChatLogs fetches one page of history for a room. A nil offset requests
// the most recent page; subsequent pages use the NextOffset of the
// previous response. An offset of models.NoMoreHistory is a caller error
// and returns an empty page from the server.
func (c *Client) ChatLogs(ctx context.Context, roomID string, offset *int64) (*ChatLogPage, error) {
	url := fmt.Sprintf("%s/%s/chat_room/%s/chat_logs", c.serverURL, c.brandID, roomID)
	if offset != nil {
		url = fmt.Sprintf("%s?offset=%d", url, *offset)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	c.applyHeaders(req)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer res.Body.Close()

	if !success(res.StatusCode) {
		body, _ := io.ReadAll(res.Body)
		return nil, &StatusError{Code: res.StatusCode, Body: string(body)}
	}

	var page ChatLogPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return &page, nil
}

// UploadFile posts a file to the room's upload endpoint as a multipart
// request. The resulting chat message, if the server creates one, arrives
// over the socket like any other; no message is returned here.
func (c *Client) UploadFile(ctx context.Context, roomID, filename string, r io.Reader) error {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	url := fmt.Sprintf("%s/%s/chat/%s/file", c.serverURL, c.brandID, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return fmt.Errorf("NewRequest: %w", err)
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Do: %w", err)
	}
	defer res.Body.Close()

	if !success(res.StatusCode) {
		body, _ := io.ReadAll(res.Body)
		return &StatusError{Code: res.StatusCode, Body: string(body)}
	}

	c.logger.Info("file uploaded",
		slog.String("room.id", roomID), slog.String("file", filename))
	return nil
}
