package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookEchoRoundTrip(t *testing.T) {
	var got webhookRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": got.Message})
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, WithAgentID("agent-7"), WithHeader("Authorization", "Bearer t"))
	reply, err := webhook.Dispatch(context.Background(), Request{Text: "hello", SessionID: "session-1"})
	if err != nil {
		t.Fatalf("expected dispatch to succeed, got %v", err)
	}

	if got.Message != "hello" || got.SessionID != "session-1" || got.AgentID != "agent-7" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
	if gotAuth != "Bearer t" {
		t.Fatalf("expected static header to be sent, got %q", gotAuth)
	}
	if reply.Text != "hello" {
		t.Fatalf("expected echoed text, got %q", reply.Text)
	}
}

func TestWebhookNonSuccessStatusIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent offline", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewWebhook(server.URL).Dispatch(context.Background(), Request{Text: "hi", SessionID: "s"})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status error 502, got %v", err)
	}
}

func TestWebhookTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewWebhook(url).Dispatch(context.Background(), Request{Text: "hi", SessionID: "s"})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestWebhookEmptySuccessIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewWebhook(server.URL).Dispatch(context.Background(), Request{Text: "hi", SessionID: "s"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}
