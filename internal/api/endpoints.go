package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rickgao/remote-input/internal/wire"
)

// DefaultPressDuration is the key hold time used when none is given.
const DefaultPressDuration = 50

// Action is one entry of a batch key sequence.
type Action struct {
	Key      string `json:"key"`
	Duration int    `json:"duration,omitempty"`
}

// Press presses key for durationMS milliseconds and returns the response text.
func (c *Client) Press(ctx context.Context, key string, durationMS int) (string, error) {
	if durationMS <= 0 {
		durationMS = DefaultPressDuration
	}
	query := url.Values{}
	query.Set("key", key)
	query.Set("duration", strconv.Itoa(durationMS))

	data, err := c.Call(ctx, http.MethodGet, "/press?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Type types text on the remote keyboard.
func (c *Client) Type(ctx context.Context, text string) (string, error) {
	data, err := c.Call(ctx, http.MethodPost, "/type", wire.TypeText{Text: text})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Actions submits a batch of key presses. The service queues them and answers "queued".
func (c *Client) Actions(ctx context.Context, actions []Action) (string, error) {
	if len(actions) == 0 {
		return "", errors.New("no actions")
	}
	data, err := c.Call(ctx, http.MethodPost, "/actions", actions)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// TouchpadMove moves the pointer by a relative delta.
func (c *Client) TouchpadMove(ctx context.Context, move wire.TouchpadMove) error {
	_, err := c.Call(ctx, http.MethodPost, "/touchpad/move", move)
	return err
}

// TouchpadClick clicks a pointer button.
func (c *Client) TouchpadClick(ctx context.Context, click wire.TouchpadClick) error {
	_, err := c.Call(ctx, http.MethodPost, "/touchpad/click", click)
	return err
}

// TouchpadScroll scrolls by a raw wheel delta.
func (c *Client) TouchpadScroll(ctx context.Context, scroll wire.TouchpadScroll) error {
	_, err := c.Call(ctx, http.MethodPost, "/touchpad/scroll", scroll)
	return err
}

// WebSocketURL derives the duplex channel URL from the HTTP base URL:
// http becomes ws, https becomes wss, and the path is /ws.
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.New("unsupported scheme " + strconv.Quote(u.Scheme))
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}

	u.Path = "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
