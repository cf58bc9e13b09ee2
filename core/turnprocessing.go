package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/dispatcher"
	"github.com/koscakluka/ema-voice/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Events handled by the runtime goroutine.
type (
	initializeRequested      struct{ sessionID string }
	textSubmitted            struct{ text string }
	transcriptFinalized      struct{ text string }
	interimTranscriptUpdated struct{ text string }
	speechStarted            struct{}
	captureStateChanged      struct{ state CaptureState }
	captureErrored           struct{ err error }
	captureEnded             struct{ restarted bool }
	synthesisChanged         struct{ state SynthesisState }
	rearmTimerFired          struct{ generation uint64 }
	muteRequested            struct{ muted, toggle bool }
	autoCaptureRequested     struct{ enabled bool }
	playbackToggleRequested  struct{}
	stopSpeakingRequested    struct{}
	restartRequested         struct{}
	configUpdated            struct{ config SessionConfig }
	endRequested             struct{ done chan struct{} }

	listeningRequested struct{ mode listenMode }

	// replyReceived carries the session and request it was dispatched for.
	replyReceived struct {
		sequence   uint64
		sessionID  string
		reply      dispatcher.Reply
		err        error
		dispatched time.Time
	}

	clipGenerated struct {
		messageID string
		clip      audio.Clip
	}
)

type listenMode int

const (
	listenStart listenMode = iota
	listenStop
	listenToggle
)

func (o *Orchestrator) initialize(sessionID string) {
	if sessionID != o.SessionID() {
		return
	}
	o.restarting = false
	o.initialized = true

	// A muted session still logs the welcome; speak skips it.
	if o.config.welcome != "" {
		message := o.appendMessage(RoleAssistant, o.config.welcome)
		if o.speak(message, nil) {
			return
		}
	}
	o.rearm()
}

func (o *Orchestrator) handleUserText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.emit(events.NewUserTextSubmitted(text))
	o.beginTurn(text)
}

func (o *Orchestrator) handleTranscript(text string) {
	if o.State() != StateListening || o.muted {
		logger.Debug("ignoring transcript outside of listening", "state", o.State())
		return
	}
	o.emit(events.NewUserTranscriptFinal(text))
	o.beginTurn(text)
}

// beginTurn logs the user message and hands it to the dispatcher. Capture
// is stopped before the request leaves so the reply cannot be heard back.
func (o *Orchestrator) beginTurn(text string) {
	o.rearmGen++
	if err := o.capture.Stop(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}
	if o.synth != nil {
		o.synth.Stop()
	}

	o.appendMessage(RoleUser, text)
	o.setState(StateProcessing)

	o.requestSeq++
	sequence := o.requestSeq
	sessionID := o.SessionID()
	agent := o.dispatcher
	ctx := o.baseContext

	turnCounter.Add(ctx, 1)
	o.emit(events.NewDispatchStarted(sessionID, text))

	go func() {
		ctx, span := tracer.Start(ctx, "process turn")
		defer span.End()
		span.SetAttributes(attribute.String("session.id", sessionID))

		dispatched := time.Now()
		var reply dispatcher.Reply
		err := panicSafeNamedWorker("dispatch", func(ctx context.Context) error {
			if agent == nil {
				return ErrNoDispatcher
			}
			var err error
			reply, err = agent.Dispatch(ctx, dispatcher.Request{Text: text, SessionID: sessionID})
			return err
		})(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
		}

		o.runtime.enqueue(replyReceived{
			sequence:   sequence,
			sessionID:  sessionID,
			reply:      reply,
			err:        err,
			dispatched: dispatched,
		})
	}()
}

func (o *Orchestrator) handleReply(reply replyReceived, queuedAt time.Time) {
	if reply.sessionID != o.SessionID() || reply.sequence != o.requestSeq {
		logger.Debug("discarding stale reply", "session_id", reply.sessionID)
		o.emit(events.NewDispatchDiscarded(reply.sessionID))
		return
	}
	logger.Debug("reply received",
		"dispatch_time", queuedAt.Sub(reply.dispatched),
		"queued_time", time.Since(queuedAt))

	if reply.err != nil {
		dispatchFailureCounter.Add(o.baseContext, 1)
		o.emit(events.NewDispatchFailed(reply.sessionID, reply.err))
		o.appendMessage(RoleAssistant, o.config.fallbackReply, WithRawResponse(reply.err.Error()))
		if o.State() == StateProcessing {
			o.rearm()
		}
		return
	}

	o.emit(events.NewDispatchCompleted(reply.sessionID, string(reply.reply.Shape)))
	message := o.appendMessage(RoleAssistant, reply.reply.Text,
		WithMessageAudio(reply.reply.Audio),
		WithRawResponse(reply.reply.Diagnostic))

	if o.State() != StateProcessing {
		return
	}
	if o.speak(message, reply.reply.Audio) {
		return
	}
	o.rearm()
}

// speak plays clip, or synthesizes the message text when there is no clip.
// It reports whether audio is on its way.
func (o *Orchestrator) speak(message Message, clip *audio.Clip) bool {
	if o.synth == nil || o.muted {
		return false
	}
	if clip == nil && strings.TrimSpace(message.Text) == "" {
		return false
	}

	if err := o.capture.Stop(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}

	var err error
	if clip != nil {
		err = o.synth.PlayClip(*clip)
	} else {
		messageID := message.ID
		err = o.synth.Generate(o.baseContext, message.Text, WithClipCallback(func(clip audio.Clip) {
			o.runtime.enqueue(clipGenerated{messageID: messageID, clip: clip})
		}))
	}
	if err != nil {
		o.reportSpeechError(fmt.Errorf("failed to speak reply: %w", err))
		return false
	}

	o.setState(StateSpeaking)
	return true
}

// reportSpeechError reports each synthesis failure once, so a remembered
// quota or voice failure is not repeated on every turn.
func (o *Orchestrator) reportSpeechError(err error) {
	if err == nil {
		return
	}
	if o.lastSpeechErr != nil && (errors.Is(err, o.lastSpeechErr) || errors.Is(o.lastSpeechErr, err)) {
		return
	}
	o.lastSpeechErr = err
	o.reportError(err)
}

func (o *Orchestrator) handleSynthesisChanged(state SynthesisState) {
	o.emit(events.NewSynthesisStateChanged(state.Generating, state.Playing, state.Paused, state.LastError))
	if state.LastError != nil {
		o.reportSpeechError(state.LastError)
	}

	if state.Active() {
		o.yieldToAudio()
		return
	}
	if o.State() != StateSpeaking || o.audioActive() {
		return
	}
	o.scheduleRearm(o.config.settleDelay)
}

// yieldToAudio stops capture when someone else drives the shared
// synthesizer while the user is being heard. Listening resumes through the
// usual re-arm once the audio is done.
func (o *Orchestrator) yieldToAudio() {
	if !o.audioActive() {
		return
	}
	if o.State() != StateListening && !o.capture.Listening() {
		return
	}
	if err := o.capture.Stop(); err != nil {
		logger.Warn("failed to stop capture", "error", err)
	}
	o.rearmGen++
	if state := o.State(); state == StateListening || state == StateStandby {
		o.setState(StateSpeaking)
	}
}

func (o *Orchestrator) handleCaptureEnded(restarted bool) {
	if restarted || o.State() != StateListening || o.capture.Listening() {
		return
	}
	o.setState(StateStandby)
}

func (o *Orchestrator) scheduleRearm(delay time.Duration) {
	o.rearmGen++
	generation := o.rearmGen
	time.AfterFunc(delay, func() {
		o.runtime.enqueue(rearmTimerFired{generation: generation})
	})
}

// rearm settles the conversation after a turn. It checks the current
// mute, auto-capture and audio state, not the state when it was scheduled.
func (o *Orchestrator) rearm() {
	o.rearmGen++
	if o.ended || o.restarting || !o.initialized {
		return
	}

	switch {
	case o.audioActive():
		o.setState(StateSpeaking)
	case o.muted:
		o.setState(StateMuted)
	case !o.autoCapture:
		o.setState(StateStandby)
	default:
		if err := o.capture.Start(o.baseContext); err != nil || !o.capture.Listening() {
			o.setState(StateStandby)
			return
		}
		o.setState(StateListening)
	}
}

func (o *Orchestrator) handleListeningRequest(mode listenMode) {
	if mode == listenToggle {
		mode = listenStart
		if o.capture.Listening() {
			mode = listenStop
		}
	}

	switch mode {
	case listenStart:
		if o.restarting || !o.initialized || o.muted || o.State() == StateProcessing {
			return
		}
		if err := o.capture.Start(o.baseContext); err != nil || !o.capture.Listening() {
			return
		}
		o.rearmGen++
		o.setState(StateListening)
	case listenStop:
		if err := o.capture.Stop(); err != nil {
			logger.Warn("failed to stop capture", "error", err)
		}
		if o.State() == StateListening {
			o.rearmGen++
			o.setState(StateStandby)
		}
	}
}

func (o *Orchestrator) handleMute(muted bool) {
	if muted == o.muted {
		return
	}
	o.muted = muted
	o.capture.SetMuted(muted)

	state := o.State()
	if muted {
		if state == StateListening || state == StateStandby {
			o.rearmGen++
			o.setState(StateMuted)
		}
		return
	}
	if state == StateMuted {
		o.rearm()
	}
}

// restart starts a new session: the log is cleared, everything in flight
// is stopped and the conversation is initialized again after a short delay.
// Restarts requested while one is pending are dropped.
func (o *Orchestrator) restart() {
	if o.restarting {
		logger.Debug("restart already in progress")
		return
	}
	o.restarting = true

	previousSessionID := o.SessionID()
	sessionID := uuid.NewString()
	o.mu.Lock()
	o.sessionID = sessionID
	o.mu.Unlock()

	o.rearmGen++
	o.requestSeq++
	o.lastSpeechErr = nil
	o.conversation.Clear()

	if err := o.stopActivity(previousSessionID); err != nil {
		o.reportError(fmt.Errorf("failed to stop previous session: %w", err))
	}

	o.setState(StateIdle)
	o.emit(events.NewConversationRestarted(sessionID))

	time.AfterFunc(o.config.restartDelay, func() {
		o.runtime.enqueue(initializeRequested{sessionID: sessionID})
	})
}

func (o *Orchestrator) applyConfig(cfg SessionConfig) {
	voiceChanged := cfg.Voice != o.voice
	agentChanged := cfg.AgentID != o.agentID
	o.voice = cfg.Voice
	o.agentID = cfg.AgentID

	// Configure forgets remembered failures, so it only runs for a new voice.
	if o.synth != nil && voiceChanged {
		o.synth.Configure(cfg.Voice)
	}
	if (voiceChanged || agentChanged) && o.initialized {
		o.restart()
	}
	if cfg.Dispatcher != nil {
		o.dispatcher = cfg.Dispatcher
	}
}

// stopActivity stops capture, synthesis and the dispatcher session at once.
func (o *Orchestrator) stopActivity(sessionID string) error {
	g, ctx := errgroup.WithContext(context.WithoutCancel(o.baseContext))

	g.Go(func() error {
		return panicSafeNamedWorker("capture", func(context.Context) error {
			return o.capture.Stop()
		})(ctx)
	})
	if o.synth != nil {
		g.Go(func() error {
			return panicSafeNamedWorker("synthesis", func(context.Context) error {
				o.synth.Stop()
				return nil
			})(ctx)
		})
	}
	if ender, ok := o.dispatcher.(dispatcher.SessionEnder); ok {
		g.Go(func() error {
			return panicSafeNamedWorker("dispatcher session", func(context.Context) error {
				ender.EndSession(sessionID)
				return nil
			})(ctx)
		})
	}

	return g.Wait()
}

func (o *Orchestrator) appendMessage(role Role, text string, opts ...MessageOption) Message {
	message := o.conversation.Append(role, text, opts...)
	o.emit(events.NewMessageAppended(message.ID, string(role), text))
	return message
}
