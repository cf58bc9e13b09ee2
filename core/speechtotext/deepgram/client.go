// Package deepgram implements continuous speech recognition over the Deepgram
// listen websocket. Audio is pulled from a speechtotext.AudioSource for the
// duration of each recognition session.
package deepgram

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
)

type Recognizer struct {
	apiKey    string
	listenURL string
	model     string
	dialer    *websocket.Dialer

	source speechtotext.AudioSource

	mu      sync.Mutex
	session *session
}

type RecognizerOption func(*Recognizer)

func WithAPIKey(apiKey string) RecognizerOption {
	return func(r *Recognizer) { r.apiKey = apiKey }
}

func WithModel(model string) RecognizerOption {
	return func(r *Recognizer) {
		if model != "" {
			r.model = model
		}
	}
}

// WithListenURL points the recognizer at a different listen endpoint, e.g. a
// self-hosted deployment.
func WithListenURL(listenURL string) RecognizerOption {
	return func(r *Recognizer) {
		if listenURL != "" {
			r.listenURL = listenURL
		}
	}
}

func WithDialer(dialer *websocket.Dialer) RecognizerOption {
	return func(r *Recognizer) {
		if dialer != nil {
			r.dialer = dialer
		}
	}
}

func NewRecognizer(source speechtotext.AudioSource, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		listenURL: defaultListenURL,
		model:     defaultModel,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		source:    source,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsRunning reports whether a recognition session is currently open.
func (r *Recognizer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}
