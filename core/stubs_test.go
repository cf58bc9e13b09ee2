package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/dispatcher"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/texttospeech"
)

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", message)
}

// overlapGuard records whether capture and playback were ever active at
// the same time.
type overlapGuard struct {
	mu         sync.Mutex
	violations int
}

func (g *overlapGuard) violate() {
	g.mu.Lock()
	g.violations++
	g.mu.Unlock()
}

func (g *overlapGuard) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.violations
}

type stubRecognizer struct {
	mu       sync.Mutex
	running  bool
	starts   int
	aborts   int
	options  speechtotext.RecognitionOptions
	startErr error

	element *stubElement
	guard   *overlapGuard
}

func (r *stubRecognizer) Start(_ context.Context, opts ...speechtotext.RecognitionOption) error {
	if r.element != nil && r.guard != nil && r.element.isPlaying() {
		r.guard.violate()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.running = true
	r.starts++
	r.options = speechtotext.NewRecognitionOptions(opts...)
	return nil
}

func (r *stubRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	return nil
}

func (r *stubRecognizer) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.aborts++
	}
	r.running = false
	return nil
}

func (r *stubRecognizer) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *stubRecognizer) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

func (r *stubRecognizer) abortCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborts
}

func (r *stubRecognizer) result(transcript string, isFinal bool) {
	r.mu.Lock()
	options := r.options
	r.mu.Unlock()
	options.ResultCallback(transcript, isFinal)
}

// end simulates the recognition session ending on its own.
func (r *stubRecognizer) end() {
	r.mu.Lock()
	r.running = false
	options := r.options
	r.mu.Unlock()
	options.EndCallback()
}

type stubTTS struct {
	mu      sync.Mutex
	texts   []string
	voices  []texttospeech.VoiceConfig
	err     error
	release chan struct{}
}

func (s *stubTTS) Synthesize(ctx context.Context, text string, voice texttospeech.VoiceConfig, _ ...texttospeech.SynthesisOption) (audio.Clip, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.voices = append(s.voices, voice)
	err := s.err
	release := s.release
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	return audio.NewPCMClip([]byte("speech:"+text), audio.GetDefaultEncodingInfo()), nil
}

func (s *stubTTS) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func (s *stubTTS) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// stubElement delivers playback events in order on its own goroutine, like
// the real device does.
type stubElement struct {
	mu       sync.Mutex
	loaded   *audio.Clip
	playing  bool
	plays    int
	playErr  error
	callback func(audio.PlaybackEvent)
	// holdPlaying keeps Play from reporting Playing so tests can
	// interleave events.
	holdPlaying bool

	events *orderedNotifier[audio.PlaybackEvent]

	recognizer *stubRecognizer
	guard      *overlapGuard
}

func newStubElement() *stubElement {
	e := &stubElement{events: newOrderedNotifier[audio.PlaybackEvent]()}
	e.events.subscribe(func(event audio.PlaybackEvent) {
		e.mu.Lock()
		callback := e.callback
		e.mu.Unlock()
		if callback != nil {
			callback(event)
		}
	})
	return e
}

func (e *stubElement) SetPlaybackCallback(callback func(audio.PlaybackEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback = callback
}

func (e *stubElement) Load(clip audio.Clip) error {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = &clip
	return nil
}

func (e *stubElement) Play() error {
	if e.recognizer != nil && e.guard != nil && e.recognizer.isRunning() {
		e.guard.violate()
	}

	e.mu.Lock()
	if e.playErr != nil {
		e.mu.Unlock()
		return e.playErr
	}
	if e.loaded == nil || e.playing {
		e.mu.Unlock()
		return nil
	}
	e.playing = true
	e.plays++
	hold := e.holdPlaying
	e.mu.Unlock()

	if !hold {
		e.events.publish(audio.PlaybackEvent{Kind: audio.PlaybackPlaying})
	}
	return nil
}

func (e *stubElement) report(kind audio.PlaybackEventKind) {
	e.events.publish(audio.PlaybackEvent{Kind: kind})
}

func (e *stubElement) Pause() error {
	e.mu.Lock()
	wasPlaying := e.playing
	e.playing = false
	e.mu.Unlock()
	if wasPlaying {
		e.events.publish(audio.PlaybackEvent{Kind: audio.PlaybackPaused})
	}
	return nil
}

func (e *stubElement) Stop() error {
	return e.Pause()
}

func (e *stubElement) Unload() {
	e.Stop()
	e.mu.Lock()
	e.loaded = nil
	e.mu.Unlock()
}

// finish simulates the clip playing to the end.
func (e *stubElement) finish() {
	e.mu.Lock()
	wasPlaying := e.playing
	e.playing = false
	e.mu.Unlock()
	if wasPlaying {
		e.events.publish(audio.PlaybackEvent{Kind: audio.PlaybackEnded})
	}
}

func (e *stubElement) isPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *stubElement) loadedClip() *audio.Clip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *stubElement) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plays
}

type stubDispatcher struct {
	mu       sync.Mutex
	requests []dispatcher.Request
	ended    []string
	respond  func(ctx context.Context, req dispatcher.Request) (dispatcher.Reply, error)
}

func (d *stubDispatcher) Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.Reply, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	respond := d.respond
	d.mu.Unlock()

	if respond == nil {
		return dispatcher.Reply{Text: req.Text, Shape: dispatcher.ShapePlainText}, nil
	}
	return respond(ctx, req)
}

func (d *stubDispatcher) EndSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ended = append(d.ended, sessionID)
}

func (d *stubDispatcher) requestList() []dispatcher.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.Request(nil), d.requests...)
}

func (d *stubDispatcher) endedSessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ended...)
}

type harness struct {
	recognizer *stubRecognizer
	element    *stubElement
	tts        *stubTTS
	dispatcher *stubDispatcher
	synth      *SpeechSynthesizer
	guard      *overlapGuard
}

func newHarness() *harness {
	guard := &overlapGuard{}
	element := newStubElement()
	recognizer := &stubRecognizer{element: element, guard: guard}
	element.recognizer = recognizer
	element.guard = guard
	tts := &stubTTS{}

	return &harness{
		recognizer: recognizer,
		element:    element,
		tts:        tts,
		dispatcher: &stubDispatcher{},
		synth:      NewSpeechSynthesizer(tts, element, WithVoice(texttospeech.VoiceConfig{APIKey: "key", VoiceID: "voice"})),
		guard:      guard,
	}
}

func (h *harness) orchestrator(opts ...OrchestratorOption) *Orchestrator {
	base := []OrchestratorOption{
		WithRecognizer(h.recognizer),
		WithSpeechSynthesizer(h.synth),
		WithDispatcher(h.dispatcher),
		WithPauses(20*time.Millisecond, 40*time.Millisecond),
		WithSettleDelay(0),
		WithRestartDelay(20 * time.Millisecond),
	}
	return NewOrchestrator(append(base, opts...)...)
}

type eventRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
}

func (r *eventRecorder) options() []OrchestrateOption {
	return []OrchestrateOption{
		WithStateChangedCallback(func(state State) {
			r.mu.Lock()
			r.states = append(r.states, state)
			r.mu.Unlock()
		}),
		WithErrorCallback(func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		}),
	}
}

func (r *eventRecorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *eventRecorder) stateHistory() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
