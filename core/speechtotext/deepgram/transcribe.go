package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const closeStreamTimeout = 5 * time.Second

type session struct {
	conn      *websocket.Conn
	connMu    sync.Mutex
	lastMsgTs time.Time

	options  speechtotext.RecognitionOptions
	encoding audio.EncodingInfo
	cancel   context.CancelFunc

	heardSpeech bool
	aborted     atomic.Bool
	closing     atomic.Bool
}

// Start opens a recognition session and starts streaming microphone audio
// into it. Calling Start while a session is open is a noop; a session that
// is being stopped or aborted no longer counts as open.
func (r *Recognizer) Start(ctx context.Context, opts ...speechtotext.RecognitionOption) error {
	ctx, span := tracer.Start(ctx, "start recognition")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return nil
	}

	if r.apiKey == "" {
		err := fmt.Errorf("deepgram api key not configured: %w", speechtotext.ErrRecognitionUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing api key")
		return err
	}
	if r.source == nil {
		return fmt.Errorf("no audio source: %w", speechtotext.ErrRecognitionUnavailable)
	}

	options := speechtotext.NewRecognitionOptions(opts...)
	if sourceEncoding := r.source.EncodingInfo(); !sourceEncoding.IsZero() {
		options.EncodingInfo = sourceEncoding
	}
	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}
	span.SetAttributes(
		attribute.String("recognition.language", options.Language),
		attribute.Int("recognition.sample_rate", encoding.sampleRate),
	)

	conn, err := r.connect(ctx, encoding, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to connect")
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:      conn,
		lastMsgTs: time.Now(),
		options:   options,
		encoding:  options.EncodingInfo,
		cancel:    cancel,
	}

	if err := r.source.StartCapture(sessionCtx, s.sendAudio); err != nil {
		cancel()
		conn.Close()
		err = fmt.Errorf("failed to start audio capture: %w: %w", speechtotext.ErrPermissionDenied, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start capture")
		return err
	}

	r.session = s
	go r.run(sessionCtx, s)
	return nil
}

// Stop asks the service to flush pending results and close the session.
// Final results may still arrive until the end callback is called.
func (r *Recognizer) Stop() error {
	s := r.currentSession()
	if s == nil {
		return nil
	}
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	r.detach(s)

	captureErr := r.source.StopCapture()
	if err := s.writeJSON(closeStreamMessage()); err != nil {
		s.conn.Close()
		return errors.Join(captureErr, fmt.Errorf("failed to close deepgram stream: %w", err))
	}
	time.AfterFunc(closeStreamTimeout, func() { s.conn.Close() })
	return captureErr
}

// Abort closes the session immediately, dropping pending results.
func (r *Recognizer) Abort() error {
	s := r.currentSession()
	if s == nil {
		return nil
	}
	s.aborted.Store(true)
	s.closing.Store(true)
	r.detach(s)

	captureErr := r.source.StopCapture()
	s.conn.Close()
	return captureErr
}

func (r *Recognizer) currentSession() *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// detach forgets s so the next Start opens a fresh session while s winds
// down on its own goroutine.
func (r *Recognizer) detach(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == s {
		r.session = nil
	}
}

func (r *Recognizer) connect(ctx context.Context, encoding listenEncoding, options speechtotext.RecognitionOptions) (*websocket.Conn, error) {
	listenURL, err := url.Parse(r.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.format)
	queryParams.Set("sample_rate", strconv.Itoa(encoding.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", r.model)
	queryParams.Set("language", options.Language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	if options.InterimResults {
		queryParams.Set("interim_results", "true")
		queryParams.Set("utterance_end_ms", "1000")
	}
	listenURL.RawQuery = queryParams.Encode()

	conn, resp, err := r.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + r.apiKey}})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("deepgram rejected credentials (%d): %w", resp.StatusCode, speechtotext.ErrRecognitionUnavailable)
		}
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (r *Recognizer) run(ctx context.Context, s *session) {
	silenceCtx, silenceCancel := context.WithCancel(ctx)
	go s.generateSilence(silenceCtx)

	readErr := s.readMessages()

	silenceCancel()
	s.cancel()
	s.conn.Close()
	if !s.closing.Load() {
		if err := r.source.StopCapture(); err != nil {
			logger.Warn("failed to stop audio capture", "error", err)
		}
	}

	r.detach(s)

	switch {
	case s.aborted.Load():
	case readErr != nil && !s.closing.Load():
		logger.Warn("deepgram connection lost", "error", readErr)
		s.options.ErrorCallback(fmt.Errorf("deepgram connection lost: %w", readErr))
	case !s.heardSpeech:
		s.options.ErrorCallback(speechtotext.ErrNoSpeech)
	}
	s.options.EndCallback()
}

// readMessages processes server messages in order until the connection
// closes. A normal closure is not an error.
func (s *session) readMessages() error {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		s.processMessage(msg)
	}
}

func (s *session) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram transcript", "error", err)
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}
		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if len(transcript) == 0 {
			return
		}

		s.heardSpeech = true
		if msgResp.IsFinal {
			s.options.ResultCallback(transcript, true)
		} else if s.options.InterimResults {
			s.options.ResultCallback(transcript, false)
		}

	case api.TypeSpeechStartedResponse:
		s.options.SpeechStartedCallback()

	case api.TypeUtteranceEndResponse:
		logger.Debug("deepgram utterance end")

	default:
		logger.Debug("unhandled deepgram message", "type", parsedMsg.Type)
	}
}

func (s *session) sendAudio(audio []byte) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closing.Load() {
		return
	}
	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		logger.Debug("failed to write audio to deepgram", "error", err)
	}
}

func (s *session) sendSilence(chunk []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write silence to deepgram: %w", err)
	}
	return nil
}

func (s *session) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) sinceLastAudio() time.Duration {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return time.Since(s.lastMsgTs)
}

type controlMessage struct {
	Type string `json:"type"`
}

func closeStreamMessage() controlMessage {
	return controlMessage{Type: string(api.TypeCloseStreamResponse)}
}

func keepAliveMessage() controlMessage {
	return controlMessage{Type: "KeepAlive"}
}

// generateSilence fills short gaps in the microphone stream with silence so
// endpointing keeps working, and falls back to keepalive messages once the
// gap is long enough that the service would otherwise time out.
func (s *session) generateSilence(ctx context.Context) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const chunkDuration = 50 * time.Millisecond
	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	chunk := make([]byte, s.encoding.BytesPerSecond()*int(chunkDuration/time.Millisecond)/1000)
	for i := range chunk {
		chunk[i] = s.encoding.SilenceValue()
	}

	var state = silenceGeneratorStateWaiting
	var firstSilenceTime *time.Time
	var lastKeepAliveTime *time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.closing.Load() {
				continue
			}

			sinceLastAudio := s.sinceLastAudio()
			switch state {
			case silenceGeneratorStateWaiting:
				if sinceLastAudio > chunkDuration {
					state = silenceGeneratorStateSilence
					firstSilenceTime = utils.Ptr(time.Now())
				}

			case silenceGeneratorStateSilence:
				if sinceLastAudio < chunkDuration {
					state = silenceGeneratorStateWaiting
					firstSilenceTime = nil
					continue
				}
				if time.Since(*firstSilenceTime) >= time.Second {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = utils.Ptr(time.Now())
					firstSilenceTime = nil
					continue
				}

				if err := s.sendSilence(chunk); err != nil {
					logger.Debug("sending silence failed", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if sinceLastAudio < chunkDuration {
					state = silenceGeneratorStateWaiting
					continue
				}

				if time.Since(*lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = utils.Ptr(time.Now())
					if err := s.writeJSON(keepAliveMessage()); err != nil {
						logger.Debug("sending keepalive failed", "error", err)
					}
				}
			}
		}
	}
}
