// Package elevenlabs synthesizes speech with the ElevenLabs text-to-speech
// HTTP API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	providerName   = "elevenlabs"
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModelID = "eleven_flash_v2_5"

	maxErrorBodySize = 64 << 10
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

type errorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Synthesize renders text with the given voice and returns raw linear16 PCM.
func (c *Client) Synthesize(ctx context.Context, text string, voice texttospeech.VoiceConfig, opts ...texttospeech.SynthesisOption) (audio.Clip, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()

	if strings.TrimSpace(voice.APIKey) == "" || strings.TrimSpace(voice.VoiceID) == "" {
		return audio.Clip{}, fmt.Errorf("%s: api key and voice id are required: %w", providerName, texttospeech.ErrMissingCredentials)
	}

	options := texttospeech.NewSynthesisOptions(opts...)
	sampleRate := outputSampleRate(options.EncodingInfo.SampleRate)
	modelID := voice.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}
	span.SetAttributes(
		attribute.String("tts.voice_id", voice.VoiceID),
		attribute.String("tts.model_id", modelID),
		attribute.Int("tts.text_length", len(text)),
	)

	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: modelID})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		c.baseURL, url.PathEscape(voice.VoiceID), sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("xi-api-key", voice.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return audio.Clip{}, fmt.Errorf("%s: request failed: %w", providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := decodeError(resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider error")
		return audio.Clip{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%s: failed to read audio: %w", providerName, err)
	}
	if len(data) == 0 {
		return audio.Clip{}, fmt.Errorf("%s: empty audio response: %w", providerName, texttospeech.ErrUnknown)
	}

	return audio.NewPCMClip(data, audio.EncodingInfo{SampleRate: sampleRate, Format: audio.EncodingLinear16}), nil
}

func decodeError(resp *http.Response) error {
	providerErr := &texttospeech.ProviderError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Err:        texttospeech.ErrUnknown,
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		var detail errorDetail
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			providerErr.Status = detail.Status
			providerErr.Message = detail.Message
		} else {
			var message string
			if err := json.Unmarshal(payload.Detail, &message); err == nil {
				providerErr.Message = message
			}
		}
	}

	switch {
	case providerErr.Status != "":
		providerErr.Err = texttospeech.StatusError(providerErr.Status)
	case resp.StatusCode == http.StatusUnauthorized:
		providerErr.Err = texttospeech.ErrMissingCredentials
	case resp.StatusCode == http.StatusNotFound:
		providerErr.Err = texttospeech.ErrVoiceNotFound
	case resp.StatusCode == http.StatusPaymentRequired:
		providerErr.Err = texttospeech.ErrQuotaExceeded
	}
	if providerErr.Status == "" {
		providerErr.Status = http.StatusText(resp.StatusCode)
	}

	return providerErr
}

// outputSampleRate picks the closest pcm output the API offers at or below
// the requested rate.
func outputSampleRate(requested int) int {
	supported := []int{8000, 16000, 22050, 24000, 44100}
	best := supported[0]
	for _, rate := range supported {
		if rate <= requested {
			best = rate
		}
	}
	return best
}
