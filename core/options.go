package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/dispatcher"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

const (
	DefaultFinalPause      = 1200 * time.Millisecond
	DefaultInterimPause    = 2200 * time.Millisecond
	DefaultRestartCooldown = 3 * time.Second
	DefaultSettleDelay     = 300 * time.Millisecond
	DefaultRestartDelay    = 500 * time.Millisecond
	DefaultFallbackReply   = "Sorry, I couldn't reach the agent. Please try again."
)

// Recognizer is the speech recognition primitive driven by the capture
// controller. Callbacks passed through the options may be called from any
// goroutine.
type Recognizer interface {
	Start(ctx context.Context, opts ...speechtotext.RecognitionOption) error
	Stop() error
	Abort() error
}

// AudioElement is the single playback element owned by the synthesizer.
type AudioElement interface {
	Load(clip audio.Clip) error
	Play() error
	Pause() error
	Stop() error
	Unload()
	SetPlaybackCallback(callback func(audio.PlaybackEvent))
}

type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, voice texttospeech.VoiceConfig, opts ...texttospeech.SynthesisOption) (audio.Clip, error)
}

// SessionConfig selects the agent and the voice used for a conversation.
// Changing either restarts the conversation.
type SessionConfig struct {
	AgentID string
	Voice   texttospeech.VoiceConfig
	// Dispatcher replaces the current dispatcher when set.
	Dispatcher dispatcher.Dispatcher
}

type OrchestratorOption func(*Orchestrator)

func WithRecognizer(recognizer Recognizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recognizer = recognizer
	}
}

// WithSpeechSynthesizer injects the shared synthesizer. The orchestrator
// does not close an injected synthesizer.
func WithSpeechSynthesizer(synth *SpeechSynthesizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.synth = synth
	}
}

func WithDispatcher(d dispatcher.Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.dispatcher = d
	}
}

func WithSessionConfig(cfg SessionConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.agentID = cfg.AgentID
		o.voice = cfg.Voice
		if cfg.Dispatcher != nil {
			o.dispatcher = cfg.Dispatcher
		}
	}
}

func WithLanguage(language string) OrchestratorOption {
	return func(o *Orchestrator) {
		if language != "" {
			o.config.language = language
		}
	}
}

// WithPauses sets how long the capture waits after a final and after an
// interim result before closing the utterance.
func WithPauses(finalPause, interimPause time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if finalPause > 0 {
			o.config.finalPause = finalPause
		}
		if interimPause > 0 {
			o.config.interimPause = interimPause
		}
	}
}

func WithRestartCooldown(cooldown time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config.restartCooldown = cooldown
	}
}

// WithSettleDelay sets the wait between the end of playback and listening
// again.
func WithSettleDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay >= 0 {
			o.config.settleDelay = delay
		}
	}
}

func WithRestartDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay >= 0 {
			o.config.restartDelay = delay
		}
	}
}

// WithWelcomeMessage sets the utterance spoken when a session starts. An
// empty message skips the greeting.
func WithWelcomeMessage(message string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config.welcome = message
	}
}

func WithFallbackReply(reply string) OrchestratorOption {
	return func(o *Orchestrator) {
		if reply != "" {
			o.config.fallbackReply = reply
		}
	}
}

func WithAutoCapture(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.autoCapture = enabled
	}
}

func WithAutoRestart(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config.autoRestart = enabled
	}
}

func WithStartMuted(muted bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.muted = muted
	}
}

type OrchestrateOptions struct {
	onStateChanged          func(State)
	onMessage               func(Message)
	onInterimTranscript     func(string)
	onTranscript            func(string)
	onCaptureStateChanged   func(CaptureState)
	onSynthesisStateChanged func(SynthesisState)
	onError                 func(error)
	onEvent                 func(events.Event)
}

type OrchestrateOption func(*OrchestrateOptions)

func WithStateChangedCallback(callback func(State)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStateChanged = callback
	}
}

// WithMessageCallback is called for every message appended to the log.
func WithMessageCallback(callback func(Message)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onMessage = callback
	}
}

func WithInterimTranscriptCallback(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onInterimTranscript = callback
	}
}

func WithTranscriptCallback(callback func(string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTranscript = callback
	}
}

func WithCaptureStateCallback(callback func(CaptureState)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onCaptureStateChanged = callback
	}
}

func WithSynthesisStateCallback(callback func(SynthesisState)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onSynthesisStateChanged = callback
	}
}

func WithErrorCallback(callback func(error)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onError = callback
	}
}

// WithEventHandler receives every event emitted by the orchestrator, after
// the typed callbacks.
func WithEventHandler(handler func(events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onEvent = handler
	}
}
