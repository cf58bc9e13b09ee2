package config_test

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/internal/config"
)

func env(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  backend: chat
  api_key: sk-test
  model: gpt-4o-mini
  max_history: 6
voice:
  provider: deepgram
  api_key: dg-voice
  voice_id: aura-2-thalia-en
speech:
  api_key: dg-speech
  language: hr-HR
conversation:
  welcome: Hello!
  final_pause: 1.5s
  interim_pause: 2500ms
  auto_capture: false
audio:
  capture: portaudio
log:
  level: debug
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml), nil)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if cfg.Agent.Backend != config.BackendChat || cfg.Agent.MaxHistory != 6 {
		t.Fatalf("unexpected agent config: %+v", cfg.Agent)
	}
	if cfg.Voice.Provider != config.VoiceDeepgram || cfg.Voice.VoiceID != "aura-2-thalia-en" {
		t.Fatalf("unexpected voice config: %+v", cfg.Voice)
	}
	if cfg.Conversation.FinalPause.Std() != 1500*time.Millisecond {
		t.Fatalf("expected final pause of 1.5s, got %s", cfg.Conversation.FinalPause.Std())
	}
	if cfg.Conversation.InterimPause.Std() != 2500*time.Millisecond {
		t.Fatalf("expected interim pause of 2.5s, got %s", cfg.Conversation.InterimPause.Std())
	}
	if cfg.Conversation.AutoCapture == nil || *cfg.Conversation.AutoCapture {
		t.Fatalf("expected auto capture to be explicitly disabled")
	}
	if cfg.Conversation.AutoRestart != nil {
		t.Fatalf("expected auto restart to be left unset")
	}
	if cfg.Audio.Capture != config.CapturePortaudio || cfg.Audio.BufferSize != config.DefaultBufferSize {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  webhook_url: https://agent.example
  webhok_url: typo
`
	_, err := config.LoadFromReader(strings.NewReader(yaml), nil)
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "webhok_url") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  webhook_url: https://agent.example
conversation:
  final_pause: soon
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml), nil); err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  backend: carrier-pigeon
voice:
  provider: festival
audio:
  capture: tape
log:
  level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml), nil)
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{"agent.backend", "voice.provider", "audio.capture", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_BackendRequirements(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("agent:\n  backend: webhook\n"), nil)
	if err == nil || !strings.Contains(err.Error(), "webhook_url") {
		t.Fatalf("expected webhook backend to require a url, got %v", err)
	}

	_, err = config.LoadFromReader(strings.NewReader("agent:\n  backend: chat\n"), nil)
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected chat backend to require an api key, got %v", err)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  webhook_url: https://file.example
voice:
  api_key: from-file
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml), env(map[string]string{
		config.EnvWebhookURL:       "https://env.example",
		config.EnvElevenLabsAPIKey: "from-env",
		config.EnvDeepgramAPIKey:   "dg",
	}))
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Agent.WebhookURL != "https://env.example" {
		t.Fatalf("expected webhook url from the environment, got %q", cfg.Agent.WebhookURL)
	}
	if cfg.Voice.APIKey != "from-env" {
		t.Fatalf("expected ElevenLabs key from the environment, got %q", cfg.Voice.APIKey)
	}
	if cfg.Speech.APIKey != "dg" {
		t.Fatalf("expected Deepgram key for speech, got %q", cfg.Speech.APIKey)
	}
}

func TestEnvironmentSelectsChatBackend(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""), env(map[string]string{
		config.EnvOpenAIAPIKey: "sk-test",
	}))
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Agent.Backend != config.BackendChat {
		t.Fatalf("expected chat backend without a webhook url, got %q", cfg.Agent.Backend)
	}
	if cfg.Speech.Language != config.DefaultLanguage || cfg.Log.Level != config.LogInfo {
		t.Fatalf("expected defaults to be applied, got %+v", cfg)
	}
}

func TestDeepgramVoiceUsesDeepgramKey(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  webhook_url: https://agent.example
voice:
  provider: deepgram
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml), env(map[string]string{
		config.EnvDeepgramAPIKey:   "dg",
		config.EnvElevenLabsAPIKey: "el",
	}))
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Voice.APIKey != "dg" {
		t.Fatalf("expected Deepgram key for a Deepgram voice, got %q", cfg.Voice.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ema-voice.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  webhook_url: https://agent.example\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Agent.Backend != config.BackendWebhook {
		t.Fatalf("expected webhook backend, got %q", cfg.Agent.Backend)
	}
}

func TestLoadEnvFiles_SkipsMissingFiles(t *testing.T) {
	t.Parallel()

	if err := config.LoadEnvFiles(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("expected missing env file to be skipped, got %v", err)
	}
}

func TestSchema(t *testing.T) {
	t.Parallel()

	raw, err := config.Schema()
	if err != nil {
		t.Fatalf("expected schema, got %v", err)
	}

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("expected valid json, got %v", err)
	}
	for _, key := range []string{"agent", "voice", "speech", "conversation", "audio", "log"} {
		if _, ok := schema.Properties[key]; !ok {
			t.Errorf("expected schema property %q", key)
		}
	}
	if !strings.Contains(string(raw), "webhook_url") {
		t.Errorf("expected yaml field names in schema")
	}
}
