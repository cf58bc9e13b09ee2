package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/speechtotext"
)

type captureRecorder struct {
	mu     sync.Mutex
	finals []string
	errs   []error
	states []CaptureState
	ends   []bool
}

func (r *captureRecorder) callbacks() captureCallbacks {
	return captureCallbacks{
		onFinal: func(transcript string) {
			r.mu.Lock()
			r.finals = append(r.finals, transcript)
			r.mu.Unlock()
		},
		onError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		onStateChanged: func(state CaptureState) {
			r.mu.Lock()
			r.states = append(r.states, state)
			r.mu.Unlock()
		},
		onEnded: func(restarted bool) {
			r.mu.Lock()
			r.ends = append(r.ends, restarted)
			r.mu.Unlock()
		},
	}
}

func (r *captureRecorder) finalTranscripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finals...)
}

func (r *captureRecorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *captureRecorder) stateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *captureRecorder) endings() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.ends...)
}

// permissionRecognizer asks for microphone access before starting.
type permissionRecognizer struct {
	stubRecognizer
	permissionErr error
	requests      atomic.Int32
}

func (r *permissionRecognizer) RequestPermission(context.Context) error {
	r.requests.Add(1)
	return r.permissionErr
}

func testCaptureConfig() captureConfig {
	return captureConfig{
		finalPause:   20 * time.Millisecond,
		interimPause: 40 * time.Millisecond,
		autoRestart:  true,
	}
}

func TestCaptureJoinsFinalSegmentsAfterPause(t *testing.T) {
	recognizer := &stubRecognizer{}
	recorder := &captureRecorder{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), recorder.callbacks())

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	recognizer.result("turn on", true)
	recognizer.result("the lights", true)

	if got := capture.State().Transcript; got != "turn on the lights" {
		t.Fatalf("expected open utterance to be buffered, got %q", got)
	}
	waitForCondition(t, time.Second, func() bool { return len(recorder.finalTranscripts()) == 1 }, "utterance should close")
	if got := recorder.finalTranscripts()[0]; got != "turn on the lights" {
		t.Fatalf("expected joined transcript, got %q", got)
	}
	if capture.State().Transcript != "" {
		t.Fatalf("expected buffer to be cleared after finalization")
	}
}

func TestCaptureUsesContinuousInterimRecognition(t *testing.T) {
	recognizer := &stubRecognizer{}
	config := testCaptureConfig()
	config.language = "hr-HR"
	capture := newSpeechCapture(recognizer, nil, config, captureCallbacks{})

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	recognizer.mu.Lock()
	options := recognizer.options
	recognizer.mu.Unlock()
	if !options.Continuous || !options.InterimResults || options.Language != "hr-HR" {
		t.Fatalf("unexpected recognition options: %+v", options)
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	recognizer := &stubRecognizer{}
	recorder := &captureRecorder{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), recorder.callbacks())

	if err := capture.Stop(); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if recorder.stateCount() != 0 || recognizer.abortCount() != 0 {
		t.Fatalf("expected stopping an idle capture to do nothing")
	}

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	recognizer.result("half a sent", false)
	capture.Stop()
	capture.Stop()

	if recognizer.abortCount() != 1 {
		t.Fatalf("expected one abort, got %d", recognizer.abortCount())
	}
	time.Sleep(60 * time.Millisecond)
	if len(recorder.finalTranscripts()) != 0 {
		t.Fatalf("expected the open utterance to be dropped on stop")
	}
}

func TestCaptureDoesNotStartWhileAudioIsActive(t *testing.T) {
	recognizer := &stubRecognizer{}
	var active atomic.Bool
	active.Store(true)
	capture := newSpeechCapture(recognizer, active.Load, testCaptureConfig(), captureCallbacks{})

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected start to be skipped quietly, got %v", err)
	}
	if recognizer.startCount() != 0 || capture.Listening() {
		t.Fatalf("expected capture to stay off while audio is active")
	}

	active.Store(false)
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if !capture.Listening() {
		t.Fatalf("expected capture to listen once audio stopped")
	}
}

func TestCaptureReportsDeniedPermissionOnce(t *testing.T) {
	recognizer := &permissionRecognizer{permissionErr: errors.New("user said no")}
	recorder := &captureRecorder{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), recorder.callbacks())

	err := capture.Start(context.Background())
	if !errors.Is(err, speechtotext.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected denied capture to stay off quietly, got %v", err)
	}

	if recognizer.requests.Load() != 1 {
		t.Fatalf("expected permission to be requested once, got %d", recognizer.requests.Load())
	}
	if recognizer.startCount() != 0 {
		t.Fatalf("expected recognition not to start without permission")
	}
	if errs := recorder.errors(); len(errs) != 1 {
		t.Fatalf("expected one reported error, got %v", errs)
	}
	if !capture.State().PermissionDenied {
		t.Fatalf("expected denied permission in state")
	}
}

func TestCaptureCachesGrantedPermission(t *testing.T) {
	recognizer := &permissionRecognizer{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), captureCallbacks{})

	capture.Start(context.Background())
	capture.Stop()
	capture.Start(context.Background())

	if recognizer.requests.Load() != 1 {
		t.Fatalf("expected permission to be requested once, got %d", recognizer.requests.Load())
	}
	if recognizer.startCount() != 2 {
		t.Fatalf("expected two recognition sessions, got %d", recognizer.startCount())
	}
}

func TestCaptureSwallowsNoSpeech(t *testing.T) {
	recognizer := &stubRecognizer{}
	recorder := &captureRecorder{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), recorder.callbacks())

	capture.Start(context.Background())
	recognizer.mu.Lock()
	onError := recognizer.options.ErrorCallback
	recognizer.mu.Unlock()

	onError(speechtotext.ErrNoSpeech)
	onError(speechtotext.ErrRecognitionUnavailable)
	onError(speechtotext.ErrRecognitionUnavailable)

	errs := recorder.errors()
	if len(errs) != 1 || !errors.Is(errs[0], speechtotext.ErrRecognitionUnavailable) {
		t.Fatalf("expected only one unavailable error, got %v", errs)
	}
}

func TestCaptureRestartsAfterEndOncePerCooldown(t *testing.T) {
	recognizer := &stubRecognizer{}
	recorder := &captureRecorder{}
	config := testCaptureConfig()
	config.restartCooldown = time.Hour
	capture := newSpeechCapture(recognizer, nil, config, recorder.callbacks())

	capture.Start(context.Background())
	recognizer.end()
	if !capture.Listening() || recognizer.startCount() != 2 {
		t.Fatalf("expected recognition to restart after ending")
	}

	recognizer.end()
	if capture.Listening() || recognizer.startCount() != 2 {
		t.Fatalf("expected no second restart within the cooldown")
	}
	if ends := recorder.endings(); len(ends) != 2 || !ends[0] || ends[1] {
		t.Fatalf("unexpected end notifications: %v", ends)
	}
}

func TestCaptureFlushesPendingTextOnEnd(t *testing.T) {
	recognizer := &stubRecognizer{}
	recorder := &captureRecorder{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), recorder.callbacks())

	capture.Start(context.Background())
	recognizer.result("good night", false)
	recognizer.end()

	if finals := recorder.finalTranscripts(); len(finals) != 1 || finals[0] != "good night" {
		t.Fatalf("expected pending text to be delivered, got %v", finals)
	}
	if capture.Listening() || recognizer.startCount() != 1 {
		t.Fatalf("expected no restart when an utterance was flushed")
	}
}

func TestCaptureMuteStopsAndBlocksStart(t *testing.T) {
	recognizer := &stubRecognizer{}
	capture := newSpeechCapture(recognizer, nil, testCaptureConfig(), captureCallbacks{})

	capture.Start(context.Background())
	capture.SetMuted(true)
	if capture.Listening() || !capture.State().MutedByUser {
		t.Fatalf("expected mute to stop capture")
	}

	capture.Start(context.Background())
	if recognizer.startCount() != 1 {
		t.Fatalf("expected no start while muted")
	}
}

func TestCaptureWithoutRecognizerReportsUnavailableOnce(t *testing.T) {
	recorder := &captureRecorder{}
	capture := newSpeechCapture(nil, nil, testCaptureConfig(), recorder.callbacks())

	err := capture.Start(context.Background())
	if !errors.Is(err, speechtotext.ErrRecognitionUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected later starts to be skipped quietly, got %v", err)
	}

	errs := recorder.errors()
	if len(errs) != 1 || !errors.Is(errs[0], speechtotext.ErrRecognitionUnavailable) {
		t.Fatalf("expected one unavailable error, got %v", errs)
	}
	state := capture.State()
	if !state.Unavailable || state.Listening {
		t.Fatalf("expected capture to be marked unavailable, got %+v", state)
	}
	if err := capture.Stop(); err != nil {
		t.Fatalf("expected stop without a recognizer to be a noop, got %v", err)
	}
}

func TestCaptureWithoutRecognizerStaysQuietWhileMuted(t *testing.T) {
	recorder := &captureRecorder{}
	capture := newSpeechCapture(nil, nil, testCaptureConfig(), recorder.callbacks())
	capture.SetMuted(true)

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("expected muted start to be skipped, got %v", err)
	}
	if errs := recorder.errors(); len(errs) != 0 {
		t.Fatalf("expected no error while muted, got %v", errs)
	}
}
