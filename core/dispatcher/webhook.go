package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultWebhookTimeout = 60 * time.Second
	maxResponseSize       = 32 << 20
	maxErrorBodyInError   = 512
)

// Webhook posts each utterance to an agent endpoint as
// {"message", "sessionId", "agentId"} JSON.
type Webhook struct {
	url        string
	agentID    string
	headers    http.Header
	httpClient *http.Client
}

type WebhookOption func(*Webhook)

func WithAgentID(agentID string) WebhookOption {
	return func(w *Webhook) { w.agentID = agentID }
}

// WithHeader adds a static header to every request, e.g. an authorization
// token expected by the agent.
func WithHeader(key, value string) WebhookOption {
	return func(w *Webhook) { w.headers.Add(key, value) }
}

func WithHTTPClient(httpClient *http.Client) WebhookOption {
	return func(w *Webhook) {
		if httpClient != nil {
			w.httpClient = httpClient
		}
	}
}

func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     strings.TrimSpace(url),
		headers: http.Header{},
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultWebhookTimeout,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId,omitempty"`
}

func (w *Webhook) Dispatch(ctx context.Context, req Request) (Reply, error) {
	ctx, span := tracer.Start(ctx, "dispatch webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("request.text_length", len(req.Text)),
	)

	if w.url == "" {
		return Reply{}, fmt.Errorf("webhook url not configured: %w", ErrNetwork)
	}

	body, err := json.Marshal(webhookRequest{Message: req.Text, SessionID: req.SessionID, AgentID: w.agentID})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode webhook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to build webhook request: %w: %w", ErrNetwork, err)
	}
	for key, values := range w.headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Reply{}, fmt.Errorf("webhook request failed: %w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read webhook response: %w: %w", ErrNetwork, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(respBody)), maxErrorBodyInError)}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, "unexpected status")
		return Reply{}, statusErr
	}

	reply, err := Normalize(resp.Header.Get("Content-Type"), resp.Header, respBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		return Reply{}, err
	}
	span.SetAttributes(attribute.String("reply.shape", string(reply.Shape)))
	logger.Debug("webhook reply normalized", "shape", reply.Shape, "has_audio", reply.Audio != nil)

	return reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
