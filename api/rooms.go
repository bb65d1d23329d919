package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/yhkim-dev/brandtalk/models"
)

type roomListResponse struct {
	Data []models.Room `json:"data"`
}

// ChatRooms fetches every room of the brand. Ordering is up to the caller;
// see the inbox package.
func (c *Client) ChatRooms(ctx context.Context) ([]models.Room, error) {
	url := fmt.Sprintf("%s/%s/chat_room", c.serverURL, c.brandID)
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

	var list roomListResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return list.Data, nil
}
