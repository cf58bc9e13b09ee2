// Package deepgram synthesizes speech with Deepgram Aura over the speak
// websocket, collecting the streamed audio into a single clip.
package deepgram

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	providerName    = "deepgram"
	defaultSpeakURL = "wss://api.deepgram.com/v1/speak"
)

type Client struct {
	speakURL string
	dialer   *websocket.Dialer
}

type ClientOption func(*Client)

func WithSpeakURL(speakURL string) ClientOption {
	return func(c *Client) {
		if speakURL = strings.TrimSpace(speakURL); speakURL != "" {
			c.speakURL = speakURL
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		speakURL: defaultSpeakURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
