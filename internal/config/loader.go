package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overlaid on top of the file.
const (
	EnvElevenLabsAPIKey = "ELEVENLABS_API_KEY"
	EnvDeepgramAPIKey   = "DEEPGRAM_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvWebhookURL       = "EMA_WEBHOOK_URL"
	EnvAgentID          = "EMA_AGENT_ID"
)

const (
	DefaultLanguage   = "en-US"
	DefaultBufferSize = 1024
	DefaultLogFile    = "ema-voice.log"
)

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables that are already set are kept.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var errs []error
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("config: load %q: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads the YAML file at path, overlays the environment read through
// lookup and validates the result. An empty path starts from defaults.
func Load(path string, lookup LookupFunc) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""), lookup)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. Unknown keys are rejected.
func LoadFromReader(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if lookup != nil {
		applyEnv(cfg, lookup)
	}
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the environment override credentials and the agent endpoint.
func applyEnv(cfg *Config, lookup LookupFunc) {
	set := func(target *string, key string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}

	set(&cfg.Agent.WebhookURL, EnvWebhookURL)
	set(&cfg.Agent.AgentID, EnvAgentID)
	set(&cfg.Agent.APIKey, EnvOpenAIAPIKey)
	set(&cfg.Speech.APIKey, EnvDeepgramAPIKey)

	switch cfg.Voice.Provider {
	case VoiceDeepgram:
		set(&cfg.Voice.APIKey, EnvDeepgramAPIKey)
	case VoiceElevenLabs, "":
		set(&cfg.Voice.APIKey, EnvElevenLabsAPIKey)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Backend == "" {
		cfg.Agent.Backend = BackendWebhook
		if cfg.Agent.WebhookURL == "" && cfg.Agent.APIKey != "" {
			cfg.Agent.Backend = BackendChat
		}
	}
	if cfg.Voice.Provider == "" {
		cfg.Voice.Provider = VoiceElevenLabs
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = DefaultLanguage
	}
	if cfg.Audio.Capture == "" {
		cfg.Audio.Capture = CaptureMiniaudio
	}
	if cfg.Audio.BufferSize == 0 {
		cfg.Audio.BufferSize = DefaultBufferSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.File == "" {
		cfg.Log.File = DefaultLogFile
	}
}

// Validate checks that cfg is coherent. It returns every problem found,
// joined. Missing speech credentials are only logged: the client still works
// with typed text and without spoken replies.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Agent.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("agent.backend %q is invalid; valid values: webhook, chat", cfg.Agent.Backend))
	}
	switch cfg.Agent.Backend {
	case BackendWebhook:
		if cfg.Agent.WebhookURL == "" {
			errs = append(errs, fmt.Errorf("agent.webhook_url is required for the webhook backend (or set %s)", EnvWebhookURL))
		}
	case BackendChat:
		if cfg.Agent.APIKey == "" {
			errs = append(errs, fmt.Errorf("agent.api_key is required for the chat backend (or set %s)", EnvOpenAIAPIKey))
		}
	}
	if cfg.Agent.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("agent.max_history %d must not be negative", cfg.Agent.MaxHistory))
	}

	if !cfg.Voice.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("voice.provider %q is invalid; valid values: elevenlabs, deepgram", cfg.Voice.Provider))
	}
	if cfg.Voice.APIKey == "" {
		slog.Warn("voice.api_key is empty; replies will not be spoken", "provider", cfg.Voice.Provider)
	}
	if cfg.Speech.APIKey == "" {
		slog.Warn("speech.api_key is empty; only typed input will be available")
	}

	for _, field := range []struct {
		name  string
		value Duration
	}{
		{"conversation.final_pause", cfg.Conversation.FinalPause},
		{"conversation.interim_pause", cfg.Conversation.InterimPause},
		{"conversation.restart_cooldown", cfg.Conversation.RestartCooldown},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", field.name, field.value.Std()))
		}
	}

	if !cfg.Audio.Capture.IsValid() {
		errs = append(errs, fmt.Errorf("audio.capture %q is invalid; valid values: miniaudio, portaudio", cfg.Audio.Capture))
	}
	if cfg.Audio.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size %d must not be negative", cfg.Audio.BufferSize))
	}
	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}
