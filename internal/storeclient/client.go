// Package storeclient is a store.RoomStore backed by the pad server's REST
// API. Change notifications come from a separate store.ChangeFeed, normally
// the websocket client.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/store"
	"github.com/cwrk-planet/pad/pkg/httputil"
)

type Client struct {
	base string
	http *http.Client
	feed store.ChangeFeed
}

// New builds a client for baseURL. feed may be nil, in which case
// SubscribeToChanges never fires.
func New(baseURL string, feed store.ChangeFeed, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("storeclient: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("storeclient: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: timeout},
		feed: feed,
	}, nil
}

func (c *Client) roomURL(id string) string {
	return c.base + "/rooms/" + url.PathEscape(id)
}

func (c *Client) Get(ctx context.Context, id string) (domain.Room, error) {
	if id == "" {
		return domain.Room{}, domain.ErrEmptyRoomID
	}
	var room domain.Room
	if err := c.do(ctx, http.MethodGet, c.roomURL(id), nil, &room); err != nil {
		return domain.Room{}, err
	}
	return normalize(room)
}

func (c *Client) InsertIfAbsent(ctx context.Context, room domain.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	status, err := c.send(ctx, http.MethodPost, c.base+"/rooms", room, nil)
	if err != nil {
		return err
	}
	// 200 carries the row someone else wrote first.
	if status != http.StatusCreated {
		return domain.ErrRoomExists
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, room domain.Room) (domain.Room, error) {
	if err := room.Validate(); err != nil {
		return domain.Room{}, err
	}
	var stored domain.Room
	if err := c.do(ctx, http.MethodPut, c.roomURL(room.ID), room, &stored); err != nil {
		return domain.Room{}, err
	}
	return normalize(stored)
}

func (c *Client) SubscribeToChanges(roomID string, fn func(domain.Room)) func() {
	if c.feed == nil {
		return func() {}
	}
	return c.feed.SubscribeToChanges(roomID, fn)
}

// List and Delete make the client a store.Lister for the CLI's admin
// commands.
func (c *Client) List(ctx context.Context, limit int, cursor string) ([]domain.RoomSummary, string, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page struct {
		Items      []domain.RoomSummary `json:"items"`
		NextCursor string               `json:"nextCursor"`
	}
	if err := c.do(ctx, http.MethodGet, c.base+"/rooms?"+q.Encode(), nil, &page); err != nil {
		return nil, "", err
	}
	return page.Items, page.NextCursor, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.roomURL(id), nil, nil)
}

// normalize runs a server response through the same validation as any other
// persisted snapshot.
func normalize(room domain.Room) (domain.Room, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
	}
	return domain.DecodeRoom(data)
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	_, err := c.send(ctx, method, u, in, out)
	return err
}

// send performs one request and returns the response status.
func (c *Client) send(ctx context.Context, method, u string, in, out any) (int, error) {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("storeclient: encode: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("storeclient: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("storeclient: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, domain.ErrRoomNotFound
	case resp.StatusCode == http.StatusConflict:
		return resp.StatusCode, domain.ErrRoomExists
	case resp.StatusCode >= 400:
		e := httputil.DecodeError(resp.StatusCode, resp.Body)
		return resp.StatusCode, fmt.Errorf("storeclient: %s %s: %d %w", method, req.URL.Path, resp.StatusCode, e)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := httputil.DecodeData(resp.Body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", domain.ErrMalformedSnapshot, err)
	}
	return resp.StatusCode, nil
}
