package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/speechtotext"
)

// CaptureState is a snapshot of the speech capture. Transcript holds the
// finalized segments plus the current interim tail of the open utterance.
type CaptureState struct {
	Listening        bool
	MutedByUser      bool
	Transcript       string
	PermissionDenied bool
	Unavailable      bool
}

type permissionState int

const (
	permissionUnknown permissionState = iota
	permissionGranted
	permissionDenied
)

type captureConfig struct {
	language        string
	finalPause      time.Duration
	interimPause    time.Duration
	restartCooldown time.Duration
	autoRestart     bool
}

type captureCallbacks struct {
	onSpeechStarted func()
	onInterim       func(transcript string)
	onFinal         func(transcript string)
	onError         func(err error)
	onStateChanged  func(CaptureState)
	// onEnded is called when recognition ends on its own. restarted is set
	// when capture resumed right away.
	onEnded func(restarted bool)
}

type speechCapture struct {
	recognizer  Recognizer
	audioActive func() bool
	config      captureConfig
	callbacks   captureCallbacks

	mu            sync.Mutex
	ctx           context.Context
	listening     bool
	wantListening bool
	muted         bool
	permission    permissionState
	unavailable   bool
	// session invalidates callbacks from recognition sessions that were
	// stopped.
	session uint64

	finals   []string
	interim  string
	timer    *time.Timer
	timerGen uint64

	lastRestart         time.Time
	deniedReported      bool
	unavailableReported bool
}

func newSpeechCapture(recognizer Recognizer, audioActive func() bool, config captureConfig, callbacks captureCallbacks) *speechCapture {
	if audioActive == nil {
		audioActive = func() bool { return false }
	}
	if config.language == "" {
		config.language = speechtotext.DefaultLanguage
	}
	if config.finalPause <= 0 {
		config.finalPause = DefaultFinalPause
	}
	if config.interimPause <= 0 {
		config.interimPause = DefaultInterimPause
	}
	if callbacks.onSpeechStarted == nil {
		callbacks.onSpeechStarted = func() {}
	}
	if callbacks.onInterim == nil {
		callbacks.onInterim = func(string) {}
	}
	if callbacks.onFinal == nil {
		callbacks.onFinal = func(string) {}
	}
	if callbacks.onError == nil {
		callbacks.onError = func(error) {}
	}
	if callbacks.onStateChanged == nil {
		callbacks.onStateChanged = func(CaptureState) {}
	}
	if callbacks.onEnded == nil {
		callbacks.onEnded = func(bool) {}
	}

	return &speechCapture{
		recognizer:  recognizer,
		audioActive: audioActive,
		config:      config,
		callbacks:   callbacks,
		ctx:         context.Background(),
	}
}

// Start begins continuous recognition. It does nothing while audio is
// active, while muted, when already listening, or once the microphone was
// denied or recognition turned out to be unavailable. Without a recognizer
// recognition is reported unavailable.
func (c *speechCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.canStartLocked() {
		c.mu.Unlock()
		return nil
	}
	if c.recognizer == nil {
		c.mu.Unlock()
		err := fmt.Errorf("no recognizer configured: %w", speechtotext.ErrRecognitionUnavailable)
		c.reportError(err)
		c.emitState()
		return err
	}
	needsPermission := c.permission == permissionUnknown
	c.mu.Unlock()

	if needsPermission {
		if err := c.requestPermission(ctx); err != nil {
			return err
		}
	}

	return c.startRecognition(ctx)
}

func (c *speechCapture) canStartLocked() bool {
	return !c.listening &&
		!c.muted &&
		c.permission != permissionDenied &&
		!c.unavailable &&
		!c.audioActive()
}

func (c *speechCapture) requestPermission(ctx context.Context) error {
	requester, ok := c.recognizer.(interface{ RequestPermission(context.Context) error })
	if !ok {
		return nil
	}

	err := requester.RequestPermission(ctx)
	c.mu.Lock()
	if err != nil {
		c.permission = permissionDenied
	} else {
		c.permission = permissionGranted
	}
	c.mu.Unlock()

	if err != nil {
		if !errors.Is(err, speechtotext.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", speechtotext.ErrPermissionDenied, err)
		}
		c.reportError(err)
		c.emitState()
		return err
	}
	return nil
}

func (c *speechCapture) startRecognition(ctx context.Context) error {
	c.mu.Lock()
	if c.recognizer == nil || !c.canStartLocked() {
		c.mu.Unlock()
		return nil
	}
	c.session++
	session := c.session
	c.listening = true
	c.wantListening = true
	c.ctx = ctx
	c.resetBufferLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	err := c.recognizer.Start(ctx,
		speechtotext.WithLanguage(c.config.language),
		speechtotext.WithContinuous(true),
		speechtotext.WithInterimResults(true),
		speechtotext.WithResultCallback(func(transcript string, isFinal bool) {
			c.handleResult(session, transcript, isFinal)
		}),
		speechtotext.WithSpeechStartedCallback(func() {
			if c.isCurrent(session) {
				c.callbacks.onSpeechStarted()
			}
		}),
		speechtotext.WithErrorCallback(func(err error) {
			if c.isCurrent(session) {
				c.reportError(err)
			}
		}),
		speechtotext.WithEndCallback(func() { c.handleEnd(session) }),
	)
	if err != nil {
		c.mu.Lock()
		if c.session == session {
			c.listening = false
			c.wantListening = false
		}
		if errors.Is(err, speechtotext.ErrPermissionDenied) {
			c.permission = permissionDenied
		} else if c.permission == permissionUnknown {
			c.permission = permissionGranted
		}
		c.mu.Unlock()

		c.reportError(err)
		c.emitState()
		return err
	}

	c.mu.Lock()
	if c.permission == permissionUnknown {
		c.permission = permissionGranted
	}
	c.mu.Unlock()

	c.callbacks.onStateChanged(state)
	return nil
}

// Stop halts recognition and drops the open utterance. Calling it when not
// listening does nothing.
func (c *speechCapture) Stop() error {
	c.mu.Lock()
	c.wantListening = false
	wasListening := c.listening
	c.listening = false
	c.session++
	c.resetBufferLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	if !wasListening {
		return nil
	}

	err := c.recognizer.Abort()
	c.callbacks.onStateChanged(state)
	return err
}

func (c *speechCapture) SetMuted(muted bool) {
	c.mu.Lock()
	changed := c.muted != muted
	c.muted = muted
	c.mu.Unlock()

	if muted {
		if err := c.Stop(); err != nil {
			logger.Warn("failed to stop capture on mute", "error", err)
		}
	}
	if changed {
		c.emitState()
	}
}

func (c *speechCapture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *speechCapture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *speechCapture) handleResult(session uint64, transcript string, isFinal bool) {
	transcript = strings.TrimSpace(transcript)

	c.mu.Lock()
	if session != c.session || !c.listening {
		c.mu.Unlock()
		return
	}
	if isFinal {
		if transcript != "" {
			c.finals = append(c.finals, transcript)
		}
		c.interim = ""
		c.armFinalizationLocked(c.config.finalPause)
	} else {
		c.interim = transcript
		c.armFinalizationLocked(c.config.interimPause)
	}
	text := c.transcriptLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	c.callbacks.onInterim(text)
	c.callbacks.onStateChanged(state)
}

func (c *speechCapture) armFinalizationLocked(pause time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	generation := c.timerGen
	c.timer = time.AfterFunc(pause, func() { c.finalize(generation) })
}

// finalize closes the open utterance once the speaker paused.
func (c *speechCapture) finalize(generation uint64) {
	c.mu.Lock()
	if generation != c.timerGen || !c.listening {
		c.mu.Unlock()
		return
	}
	text := c.transcriptLocked()
	c.resetBufferLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	if text != "" {
		c.callbacks.onFinal(text)
	}
	c.callbacks.onStateChanged(state)
}

func (c *speechCapture) handleEnd(session uint64) {
	c.mu.Lock()
	if session != c.session || !c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = false
	pending := c.transcriptLocked()
	c.resetBufferLocked()

	restart := pending == "" &&
		c.wantListening &&
		c.config.autoRestart &&
		!c.muted &&
		c.permission != permissionDenied &&
		!c.unavailable &&
		!c.audioActive() &&
		time.Since(c.lastRestart) >= c.config.restartCooldown
	if restart {
		c.lastRestart = time.Now()
	} else {
		c.wantListening = false
	}
	ctx := c.ctx
	c.mu.Unlock()

	if pending != "" {
		c.callbacks.onFinal(pending)
	}

	restarted := false
	if restart {
		if err := c.startRecognition(ctx); err != nil {
			logger.Warn("failed to restart recognition", "error", err)
		}
		restarted = c.Listening()
	}
	if !restarted {
		c.emitState()
	}
	c.callbacks.onEnded(restarted)
}

// reportError forwards recognition errors. Denied permission and
// unavailable recognition are reported once; missing speech is not an error.
func (c *speechCapture) reportError(err error) {
	switch {
	case errors.Is(err, speechtotext.ErrNoSpeech):
		return
	case errors.Is(err, speechtotext.ErrPermissionDenied):
		c.mu.Lock()
		c.permission = permissionDenied
		reported := c.deniedReported
		c.deniedReported = true
		c.mu.Unlock()
		if reported {
			return
		}
	case errors.Is(err, speechtotext.ErrRecognitionUnavailable):
		c.mu.Lock()
		c.unavailable = true
		reported := c.unavailableReported
		c.unavailableReported = true
		c.mu.Unlock()
		if reported {
			return
		}
	}
	c.callbacks.onError(err)
}

func (c *speechCapture) isCurrent(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session == c.session && c.listening
}

func (c *speechCapture) emitState() {
	c.callbacks.onStateChanged(c.State())
}

func (c *speechCapture) resetBufferLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.finals = nil
	c.interim = ""
}

func (c *speechCapture) transcriptLocked() string {
	parts := make([]string, 0, len(c.finals)+1)
	parts = append(parts, c.finals...)
	if c.interim != "" {
		parts = append(parts, c.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (c *speechCapture) stateLocked() CaptureState {
	return CaptureState{
		Listening:        c.listening,
		MutedByUser:      c.muted,
		Transcript:       c.transcriptLocked(),
		PermissionDenied: c.permission == permissionDenied,
		Unavailable:      c.unavailable,
	}
}
