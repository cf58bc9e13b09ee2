// Package config loads the terminal client's configuration from a YAML file
// and the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a log/slog level. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AgentBackend selects how utterances reach the agent.
type AgentBackend string

const (
	// BackendWebhook posts each utterance to an HTTP endpoint.
	BackendWebhook AgentBackend = "webhook"
	// BackendChat talks to an OpenAI compatible chat completion API.
	BackendChat AgentBackend = "chat"
)

func (b AgentBackend) IsValid() bool {
	return b == BackendWebhook || b == BackendChat
}

type VoiceProvider string

const (
	VoiceElevenLabs VoiceProvider = "elevenlabs"
	VoiceDeepgram   VoiceProvider = "deepgram"
)

func (p VoiceProvider) IsValid() bool {
	return p == VoiceElevenLabs || p == VoiceDeepgram
}

type CaptureBackend string

const (
	CaptureMiniaudio CaptureBackend = "miniaudio"
	CapturePortaudio CaptureBackend = "portaudio"
)

func (b CaptureBackend) IsValid() bool {
	return b == CaptureMiniaudio || b == CapturePortaudio
}

// Config is the root configuration of the terminal client.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	Voice        VoiceConfig        `yaml:"voice"`
	Speech       SpeechConfig       `yaml:"speech"`
	Conversation ConversationConfig `yaml:"conversation"`
	Audio        AudioConfig        `yaml:"audio"`
	Log          LogConfig          `yaml:"log"`
}

type AgentConfig struct {
	Backend AgentBackend `yaml:"backend" jsonschema:"enum=webhook,enum=chat"`
	// AgentID is sent with every webhook request. Changing it restarts the
	// conversation.
	AgentID string `yaml:"agent_id"`

	WebhookURL string            `yaml:"webhook_url"`
	Headers    map[string]string `yaml:"headers"`

	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxHistory   int    `yaml:"max_history" jsonschema:"minimum=0"`
}

type VoiceConfig struct {
	Provider VoiceProvider `yaml:"provider" jsonschema:"enum=elevenlabs,enum=deepgram"`
	APIKey   string        `yaml:"api_key"`
	VoiceID  string        `yaml:"voice_id"`
	ModelID  string        `yaml:"model_id"`
}

type SpeechConfig struct {
	// APIKey is the Deepgram key used for recognition. Without it the client
	// only accepts typed text.
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	ListenURL string `yaml:"listen_url"`
}

type ConversationConfig struct {
	Welcome         string   `yaml:"welcome"`
	FallbackReply   string   `yaml:"fallback_reply"`
	FinalPause      Duration `yaml:"final_pause"`
	InterimPause    Duration `yaml:"interim_pause"`
	RestartCooldown Duration `yaml:"restart_cooldown"`
	AutoCapture     *bool    `yaml:"auto_capture"`
	AutoRestart     *bool    `yaml:"auto_restart"`
	StartMuted      bool     `yaml:"start_muted"`
}

type AudioConfig struct {
	Capture    CaptureBackend `yaml:"capture" jsonschema:"enum=miniaudio,enum=portaudio"`
	BufferSize int            `yaml:"buffer_size" jsonschema:"minimum=0"`
}

type LogConfig struct {
	Level LogLevel `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// File receives the log; the terminal is owned by the UI.
	File string `yaml:"file"`
}

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Go duration, e.g. 1.2s or 500ms",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
	}
}
