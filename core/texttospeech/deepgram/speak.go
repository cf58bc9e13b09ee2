package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

type serverMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code"`
	ErrCode     string `json:"err_code"`
	ErrMsg      string `json:"err_msg"`
}

// Synthesize speaks text with the voice model named by voice.VoiceID and
// returns the full utterance once the service confirms the flush.
func (c *Client) Synthesize(ctx context.Context, text string, voice texttospeech.VoiceConfig, opts ...texttospeech.SynthesisOption) (audio.Clip, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()

	if strings.TrimSpace(voice.APIKey) == "" {
		return audio.Clip{}, fmt.Errorf("%s: api key is required: %w", providerName, texttospeech.ErrMissingCredentials)
	}
	model, ok := resolveVoice(voice.VoiceID)
	if !ok {
		return audio.Clip{}, &texttospeech.ProviderError{
			Provider: providerName,
			Status:   "voice_not_found",
			Message:  fmt.Sprintf("unknown voice %q", voice.VoiceID),
			Err:      texttospeech.ErrVoiceNotFound,
		}
	}

	options := texttospeech.NewSynthesisOptions(opts...)
	encodingInfo := audio.EncodingInfo{SampleRate: options.EncodingInfo.SampleRate, Format: audio.EncodingLinear16}
	span.SetAttributes(
		attribute.String("tts.voice_id", string(model)),
		attribute.Int("tts.text_length", len(text)),
	)

	conn, err := c.connect(ctx, voice.APIKey, model, encodingInfo)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return audio.Clip{}, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to connect")
		return audio.Clip{}, err
	}

	req := &speakRequest{ws: conn}
	defer req.close()

	stop := context.AfterFunc(ctx, req.close)
	defer stop()

	var data []byte
	err = req.send(speakMessage{Type: "Speak", Text: text})
	if err == nil {
		err = req.send(flushMsg)
	}
	if err == nil {
		data, err = req.collect()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return audio.Clip{}, ctxErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return audio.Clip{}, err
	}
	if len(data) == 0 {
		return audio.Clip{}, fmt.Errorf("%s: empty audio response: %w", providerName, texttospeech.ErrUnknown)
	}

	return audio.NewPCMClip(data, encodingInfo), nil
}

func (c *Client) connect(ctx context.Context, apiKey string, model deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}
	urlValues := speakURL.Query()
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(model))
	speakURL.RawQuery = urlValues.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		if resp != nil {
			return nil, handshakeError(resp)
		}
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

func handshakeError(resp *http.Response) error {
	providerErr := &texttospeech.ProviderError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Err:        texttospeech.ErrUnknown,
	}

	var payload serverMessage
	if resp.Body != nil && json.NewDecoder(resp.Body).Decode(&payload) == nil {
		providerErr.Message = payload.ErrMsg
		if payload.ErrCode != "" {
			providerErr.Status = payload.ErrCode
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		providerErr.Err = texttospeech.ErrMissingCredentials
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		providerErr.Err = texttospeech.ErrQuotaExceeded
	case http.StatusBadRequest, http.StatusNotFound:
		if strings.Contains(strings.ToLower(providerErr.Message), "model") {
			providerErr.Err = texttospeech.ErrVoiceNotFound
		}
	}
	return providerErr
}

type speakRequest struct {
	ws *websocket.Conn
	mu sync.Mutex

	closeOnce sync.Once
}

func (r *speakRequest) send(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

// collect gathers binary audio frames until the flush is confirmed.
func (r *speakRequest) collect() ([]byte, error) {
	var data []byte
	for {
		msgType, msg, err := r.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(data) > 0 {
				return data, nil
			}
			return nil, fmt.Errorf("%s: websocket read failed: %w", providerName, err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			data = append(data, msg...)
		case websocket.TextMessage:
			var parsedMsg serverMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				if err := r.send(closeMsg); err != nil {
					logger.Debug("failed to send close message", "error", err)
				}
				return data, nil
			case "Warning":
				logger.Warn("deepgram speak warning", "description", parsedMsg.Description, "code", parsedMsg.Code)
			case "Error":
				return nil, &texttospeech.ProviderError{
					Provider: providerName,
					Status:   parsedMsg.Code,
					Message:  parsedMsg.Description,
					Err:      texttospeech.StatusError(strings.ToLower(parsedMsg.Code)),
				}
			}
		}
	}
}

func (r *speakRequest) close() {
	r.closeOnce.Do(func() {
		_ = r.ws.Close()
	})
}
