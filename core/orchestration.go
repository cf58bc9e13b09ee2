package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/dispatcher"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoDispatcher = errors.New("no dispatcher configured")

type orchestratorConfig struct {
	language        string
	finalPause      time.Duration
	interimPause    time.Duration
	restartCooldown time.Duration
	autoRestart     bool
	settleDelay     time.Duration
	restartDelay    time.Duration
	welcome         string
	fallbackReply   string
}

// Orchestrator runs the conversation loop: listen, dispatch, speak, listen
// again. Its state is owned by one goroutine that handles queued events in
// order; every public method only enqueues.
type Orchestrator struct {
	recognizer Recognizer
	synth      *SpeechSynthesizer
	capture    *speechCapture

	conversation *Conversation
	config       orchestratorConfig

	closeOnce    sync.Once
	orchestrated atomic.Bool
	runtime      *conversationRuntime
	emit         eventEmitter
	baseContext  context.Context

	unsubscribeSynth func()
	removeYieldHook  func()

	mu        sync.RWMutex
	state     State
	sessionID string

	// Owned by the runtime goroutine.
	dispatcher    dispatcher.Dispatcher
	agentID       string
	voice         texttospeech.VoiceConfig
	autoCapture   bool
	muted         bool
	initialized   bool
	restarting    bool
	ended         bool
	rearmGen      uint64
	requestSeq    uint64
	lastSpeechErr error
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		conversation: NewConversation(),
		config: orchestratorConfig{
			finalPause:      DefaultFinalPause,
			interimPause:    DefaultInterimPause,
			restartCooldown: DefaultRestartCooldown,
			autoRestart:     true,
			settleDelay:     DefaultSettleDelay,
			restartDelay:    DefaultRestartDelay,
			fallbackReply:   DefaultFallbackReply,
		},
		runtime:     newConversationRuntime(),
		emit:        noopEventEmitter,
		baseContext: context.Background(),
		state:       StateIdle,
		sessionID:   uuid.NewString(),
		autoCapture: true,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.synth != nil && !o.voice.IsZero() {
		o.synth.Configure(o.voice)
	}

	o.capture = newSpeechCapture(o.recognizer, o.audioActive,
		captureConfig{
			language:        o.config.language,
			finalPause:      o.config.finalPause,
			interimPause:    o.config.interimPause,
			restartCooldown: o.config.restartCooldown,
			autoRestart:     o.config.autoRestart,
		},
		captureCallbacks{
			onSpeechStarted: func() { o.runtime.enqueue(speechStarted{}) },
			onInterim:       func(transcript string) { o.runtime.enqueue(interimTranscriptUpdated{text: transcript}) },
			onFinal:         func(transcript string) { o.runtime.enqueue(transcriptFinalized{text: transcript}) },
			onError:         func(err error) { o.runtime.enqueue(captureErrored{err: err}) },
			onStateChanged:  func(state CaptureState) { o.runtime.enqueue(captureStateChanged{state: state}) },
			onEnded:         func(restarted bool) { o.runtime.enqueue(captureEnded{restarted: restarted}) },
		},
	)
	o.capture.muted = o.muted

	return o
}

// Orchestrate starts the conversation and greets the user.
//
// ctx is used as a base context for dispatcher and synthesis calls; the
// orchestrator closes itself once it is done. Only the first call has an
// effect.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) {
	if o.runtime.isClosed() {
		logger.Warn("orchestrator already closed, skipping Orchestrate")
		return
	}
	if !o.orchestrated.CompareAndSwap(false, true) {
		logger.Warn("orchestrator already running, skipping Orchestrate")
		return
	}

	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	o.emit = newCallbackEventEmitter(options, o)
	o.baseContext = ctx
	if o.synth != nil {
		o.unsubscribeSynth = o.synth.Subscribe(func(state SynthesisState) {
			o.runtime.enqueue(synthesisChanged{state: state})
		})
		// The microphone has to be released before audio reaches the
		// speakers; the state change follows on the driver.
		o.removeYieldHook = o.synth.OnBeforePlay(func() {
			if err := o.capture.Stop(); err != nil {
				logger.Warn("failed to stop capture before playback", "error", err)
			}
		})
	}

	o.runtime.enqueue(initializeRequested{sessionID: o.SessionID()})
	if started := o.runtime.start(o.handle); started {
		withContextCancelHook(ctx, o.Close)
	}
}

// Close ends the conversation and waits for the runtime to stop. It must
// not be called from an orchestrator callback; use End there.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.runtime.started.Load() {
			done := make(chan struct{})
			if o.runtime.enqueue(endRequested{done: done}) {
				<-done
			}
		} else {
			o.shutdown()
		}

		o.runtime.end()
		o.runtime.waitUntilEnded()
	})
}

// End stops the conversation without waiting.
func (o *Orchestrator) End() { o.runtime.enqueue(endRequested{}) }

func (o *Orchestrator) SendText(text string)   { o.runtime.enqueue(textSubmitted{text: text}) }
func (o *Orchestrator) StartListening()        { o.runtime.enqueue(listeningRequested{mode: listenStart}) }
func (o *Orchestrator) StopListening()         { o.runtime.enqueue(listeningRequested{mode: listenStop}) }
func (o *Orchestrator) ToggleListening()       { o.runtime.enqueue(listeningRequested{mode: listenToggle}) }
func (o *Orchestrator) SetMuted(muted bool)    { o.runtime.enqueue(muteRequested{muted: muted}) }
func (o *Orchestrator) ToggleMute()            { o.runtime.enqueue(muteRequested{toggle: true}) }
func (o *Orchestrator) SetAutoCapture(on bool) { o.runtime.enqueue(autoCaptureRequested{enabled: on}) }
func (o *Orchestrator) TogglePlayback()        { o.runtime.enqueue(playbackToggleRequested{}) }
func (o *Orchestrator) StopSpeaking()          { o.runtime.enqueue(stopSpeakingRequested{}) }
func (o *Orchestrator) RestartConversation()   { o.runtime.enqueue(restartRequested{}) }

// UpdateConfig applies a new agent or voice. The conversation restarts when
// either changed.
func (o *Orchestrator) UpdateConfig(cfg SessionConfig) {
	o.runtime.enqueue(configUpdated{config: cfg})
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessionID
}

// Messages returns a copy of the current session's message log.
func (o *Orchestrator) Messages() []Message { return o.conversation.Messages() }

func (o *Orchestrator) CaptureState() CaptureState { return o.capture.State() }

func (o *Orchestrator) SynthesisState() SynthesisState {
	if o.synth == nil {
		return SynthesisState{}
	}
	return o.synth.State()
}

func (o *Orchestrator) message(id string) (Message, bool) { return o.conversation.Message(id) }

func (o *Orchestrator) handle(event any, queuedAt time.Time) {
	if o.ended {
		if end, ok := event.(endRequested); ok && end.done != nil {
			close(end.done)
		}
		return
	}

	switch typedEvent := event.(type) {
	case initializeRequested:
		o.initialize(typedEvent.sessionID)
	case textSubmitted:
		o.handleUserText(typedEvent.text)
	case transcriptFinalized:
		o.handleTranscript(typedEvent.text)
	case interimTranscriptUpdated:
		o.emit(events.NewUserTranscriptInterimUpdated(typedEvent.text))
	case speechStarted:
		o.emit(events.NewUserSpeechStarted())
	case captureStateChanged:
		state := typedEvent.state
		o.emit(events.NewCaptureStateChanged(state.Listening, state.MutedByUser, state.PermissionDenied, state.Unavailable, state.Transcript))
	case captureErrored:
		o.reportError(typedEvent.err)
	case captureEnded:
		o.handleCaptureEnded(typedEvent.restarted)
	case synthesisChanged:
		o.handleSynthesisChanged(typedEvent.state)
	case replyReceived:
		o.handleReply(typedEvent, queuedAt)
	case clipGenerated:
		if err := o.conversation.AttachAudio(typedEvent.messageID, typedEvent.clip); err != nil {
			logger.Debug("generated audio not attached", "error", err)
		}
	case rearmTimerFired:
		if typedEvent.generation == o.rearmGen {
			o.rearm()
		}
	case listeningRequested:
		o.handleListeningRequest(typedEvent.mode)
	case muteRequested:
		muted := typedEvent.muted
		if typedEvent.toggle {
			muted = !o.muted
		}
		o.handleMute(muted)
	case autoCaptureRequested:
		o.autoCapture = typedEvent.enabled
		if o.autoCapture && o.State() == StateStandby {
			o.rearm()
		}
	case playbackToggleRequested:
		if o.synth != nil {
			o.synth.TogglePlayback()
		}
	case stopSpeakingRequested:
		if o.synth != nil {
			o.synth.Stop()
		}
	case restartRequested:
		o.restart()
	case configUpdated:
		o.applyConfig(typedEvent.config)
	case endRequested:
		o.shutdown()
		if typedEvent.done != nil {
			close(typedEvent.done)
		}
	}
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	from := o.state
	if from == state {
		o.mu.Unlock()
		return
	}
	o.state = state
	o.mu.Unlock()

	logger.Debug("conversation state changed", "from", from, "to", state)
	o.emit(events.NewConversationStateChanged(string(from), string(state)))
}

func (o *Orchestrator) audioActive() bool {
	return o.synth != nil && o.synth.State().Active()
}

func (o *Orchestrator) reportError(err error) {
	if err == nil {
		return
	}
	logger.Warn("conversation error", "error", err)
	o.emit(events.NewErrorReported(err))
}

// shutdown stops every subsystem and moves to the terminal state.
func (o *Orchestrator) shutdown() {
	if o.ended {
		return
	}
	o.ended = true
	o.rearmGen++
	o.requestSeq++

	if err := o.stopActivity(o.SessionID()); err != nil {
		recordedErr := errors.Join(errors.New("failed to stop conversation cleanly"), err)
		span := trace.SpanFromContext(o.baseContext)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		span.SetAttributes(attribute.Int("conversation.queued_events", o.runtime.queuedEventCount()))
		logger.Warn("failed to stop conversation cleanly", "error", err)
	}
	if o.unsubscribeSynth != nil {
		o.unsubscribeSynth()
	}
	if o.removeYieldHook != nil {
		o.removeYieldHook()
	}

	o.setState(StateEnded)
	o.emit(events.NewConversationEnded())
}
