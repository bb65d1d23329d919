// Package api implements the REST side of the brand chat server: history
// pages, file uploads, and the room list. The streaming side lives in ws.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to one brand's chat server. It is safe for concurrent use.
type Client struct {
	serverURL string
	brandID   string
	headers   http.Header
	http      *http.Client
	logger    *slog.Logger
}

func New(serverURL, brandID string, headers http.Header, opts ...ClientOption) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		brandID:   brandID,
		headers:   headers,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}
