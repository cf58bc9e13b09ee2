package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/dispatcher"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	sttdeepgram "github.com/koscakluka/ema-voice/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/ema-voice/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-voice/core/texttospeech/elevenlabs"
	"github.com/koscakluka/ema-voice/internal/config"

	tea "github.com/charmbracelet/bubbletea"
)

const defaultConfigPath = "ema-voice.yaml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("ema-voice", flag.ContinueOnError)
	configPath := flags.String("config", defaultConfigPath, "path to the YAML configuration file")
	envPath := flags.String("env", ".env", "path to a .env file with API keys")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.Arg(0) == "schema" {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(schema))
		return err
	}

	if err := config.LoadEnvFiles(*envPath); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runClient(ctx, cfg)
}

// loadConfig reads path. The default file is optional; an explicit one is
// not.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path, os.LookupEnv)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		return config.Load("", os.LookupEnv)
	}
	return cfg, err
}

func setupLogging(cfg config.LogConfig) (func(), error) {
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: cfg.Level.SlogLevel()})))
	return func() { _ = f.Close() }, nil
}

func runClient(ctx context.Context, cfg *config.Config) error {
	device, err := miniaudio.NewClient()
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer func() {
		if err := device.Close(); err != nil {
			slog.Warn("failed to close audio device", "error", err)
		}
	}()

	agent, err := newDispatcher(cfg.Agent)
	if err != nil {
		return err
	}

	synth := orchestration.NewSpeechSynthesizer(newTextToSpeech(cfg.Voice), device)
	defer synth.Close()

	opts := []orchestration.OrchestratorOption{
		orchestration.WithSpeechSynthesizer(synth),
		orchestration.WithSessionConfig(orchestration.SessionConfig{
			AgentID: cfg.Agent.AgentID,
			Voice: texttospeech.VoiceConfig{
				APIKey:  cfg.Voice.APIKey,
				VoiceID: cfg.Voice.VoiceID,
				ModelID: cfg.Voice.ModelID,
			},
			Dispatcher: agent,
		}),
		orchestration.WithLanguage(cfg.Speech.Language),
		orchestration.WithPauses(cfg.Conversation.FinalPause.Std(), cfg.Conversation.InterimPause.Std()),
		orchestration.WithWelcomeMessage(cfg.Conversation.Welcome),
		orchestration.WithFallbackReply(cfg.Conversation.FallbackReply),
		orchestration.WithStartMuted(cfg.Conversation.StartMuted),
	}
	if cfg.Conversation.RestartCooldown > 0 {
		opts = append(opts, orchestration.WithRestartCooldown(cfg.Conversation.RestartCooldown.Std()))
	}
	if cfg.Conversation.AutoCapture != nil {
		opts = append(opts, orchestration.WithAutoCapture(*cfg.Conversation.AutoCapture))
	}
	if cfg.Conversation.AutoRestart != nil {
		opts = append(opts, orchestration.WithAutoRestart(*cfg.Conversation.AutoRestart))
	}

	if cfg.Speech.APIKey != "" {
		source, closeSource, err := newAudioSource(cfg.Audio, device)
		if err != nil {
			return err
		}
		defer closeSource()

		opts = append(opts, orchestration.WithRecognizer(sttdeepgram.NewRecognizer(source,
			sttdeepgram.WithAPIKey(cfg.Speech.APIKey),
			sttdeepgram.WithModel(cfg.Speech.Model),
			sttdeepgram.WithListenURL(cfg.Speech.ListenURL),
		)))
	}

	orchestrator := orchestration.NewOrchestrator(opts...)
	program := tea.NewProgram(newModel(orchestrator), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	orchestrator.Orchestrate(ctx, uiCallbacks(program)...)
	_, err = program.Run()
	orchestrator.Close()

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newDispatcher(cfg config.AgentConfig) (dispatcher.Dispatcher, error) {
	switch cfg.Backend {
	case config.BackendChat:
		return dispatcher.NewChatCompletion(cfg.APIKey,
			dispatcher.WithBaseURL(cfg.BaseURL),
			dispatcher.WithModel(cfg.Model),
			dispatcher.WithSystemPrompt(cfg.SystemPrompt),
			dispatcher.WithMaxHistory(cfg.MaxHistory),
		)
	default:
		opts := []dispatcher.WebhookOption{dispatcher.WithAgentID(cfg.AgentID)}
		for key, value := range cfg.Headers {
			opts = append(opts, dispatcher.WithHeader(key, value))
		}
		return dispatcher.NewWebhook(cfg.WebhookURL, opts...), nil
	}
}

func newTextToSpeech(cfg config.VoiceConfig) orchestration.TextToSpeech {
	if cfg.Provider == config.VoiceDeepgram {
		return ttsdeepgram.NewClient()
	}
	return elevenlabs.NewClient()
}

// newAudioSource picks the microphone the recognizer reads from. miniaudio
// shares the playback device; portaudio opens its own stream.
func newAudioSource(cfg config.AudioConfig, device *miniaudio.Client) (speechtotext.AudioSource, func(), error) {
	if cfg.Capture != config.CapturePortaudio {
		return device, func() {}, nil
	}

	microphone, err := portaudio.NewMicrophone(cfg.BufferSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	return microphone, func() {
		if err := microphone.Close(); err != nil {
			slog.Warn("failed to close microphone", "error", err)
		}
	}, nil
}
