package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrSynthesizerClosed = errors.New("speech synthesizer closed")

// SynthesisState is a snapshot of the shared synthesizer. LastError is kept
// until the next request starts.
type SynthesisState struct {
	Generating bool
	Playing    bool
	Paused     bool
	LastError  error
}

// Active reports whether audio is being generated, played or held paused.
func (s SynthesisState) Active() bool {
	return s.Generating || s.Playing || s.Paused
}

type playbackIntent int

const (
	intentIdle playbackIntent = iota
	intentPlaying
	intentPaused
)

type generateOptions struct {
	onClip func(audio.Clip)
}

type GenerateOption func(*generateOptions)

// WithClipCallback is called with the synthesized clip right before it is
// played. It is not called for superseded requests.
func WithClipCallback(callback func(audio.Clip)) GenerateOption {
	return func(o *generateOptions) {
		o.onClip = callback
	}
}

type SynthesizerOption func(*SpeechSynthesizer)

func WithVoice(voice texttospeech.VoiceConfig) SynthesizerOption {
	return func(s *SpeechSynthesizer) {
		s.voice = voice
	}
}

// SpeechSynthesizer turns text into speech and plays it on the one audio
// element it owns. Construct it once and share it; a new request always
// replaces the previous one.
type SpeechSynthesizer struct {
	tts      TextToSpeech
	element  AudioElement
	encoding audio.EncodingInfo

	// elementMu serializes commands sent to the element.
	elementMu sync.Mutex

	mu         sync.Mutex
	voice      texttospeech.VoiceConfig
	state      SynthesisState
	intent     playbackIntent
	generation uint64
	cancel     context.CancelFunc
	sticky     map[string]error
	closed     bool

	notifier *orderedNotifier[SynthesisState]

	hooksMu    sync.Mutex
	beforePlay map[uint64]func()
	nextHookID uint64
}

func NewSpeechSynthesizer(tts TextToSpeech, element AudioElement, opts ...SynthesizerOption) *SpeechSynthesizer {
	s := &SpeechSynthesizer{
		tts:        tts,
		element:    element,
		sticky:     map[string]error{},
		notifier:   newOrderedNotifier[SynthesisState](),
		beforePlay: map[uint64]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}

	if withEncoding, ok := element.(interface{ EncodingInfo() audio.EncodingInfo }); ok {
		s.encoding = withEncoding.EncodingInfo()
	}
	element.SetPlaybackCallback(s.handlePlayback)

	return s
}

// Generate synthesizes text and plays it once ready, cancelling whatever
// was generating or playing. It returns right away; progress is reported to
// subscribers. A remembered quota or voice failure for the current voice is
// returned without contacting the provider.
func (s *SpeechSynthesizer) Generate(ctx context.Context, text string, opts ...GenerateOption) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	options := generateOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSynthesizerClosed
	}
	voice := s.voice
	if err := s.stickyErrorLocked(voice); err != nil {
		s.mu.Unlock()
		return err
	}

	s.cancelLocked()
	generation := s.generation
	requestCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.intent = intentIdle
	s.state = SynthesisState{Generating: true}
	state := s.state
	s.mu.Unlock()

	s.stopElement()
	s.notifier.publish(state)

	go s.generate(requestCtx, generation, text, voice, options)
	return nil
}

func (s *SpeechSynthesizer) generate(ctx context.Context, generation uint64, text string, voice texttospeech.VoiceConfig, options generateOptions) {
	ctx, span := tracer.Start(ctx, "generate speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice.id", voice.VoiceID),
		attribute.Int("text.length", len(text)),
	)

	var synthesisOpts []texttospeech.SynthesisOption
	if !s.encoding.IsZero() {
		synthesisOpts = append(synthesisOpts, texttospeech.WithEncodingInfo(s.encoding))
	}

	clip, err := s.tts.Synthesize(ctx, text, voice, synthesisOpts...)

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	if err != nil {
		lastErr := classifySynthesisError(err)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			lastErr = nil
		}
		if texttospeech.IsSticky(lastErr) {
			s.sticky[stickyKey(lastErr, voice)] = lastErr
		}
		s.state = SynthesisState{LastError: lastErr}
		state := s.state
		s.mu.Unlock()

		if lastErr != nil {
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, "synthesis failed")
			synthesisFailureCounter.Add(ctx, 1)
			logger.Warn("speech synthesis failed", "error", lastErr)
		}
		s.notifier.publish(state)
		return
	}
	s.mu.Unlock()

	if options.onClip != nil {
		options.onClip(clip)
	}

	if err := s.play(generation, clip); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback failed")
	}
}

// PlayClip plays ready audio, such as an agent's audio reply, replacing the
// current request.
func (s *SpeechSynthesizer) PlayClip(clip audio.Clip) error {
	if clip.IsEmpty() {
		return fmt.Errorf("empty clip: %w", texttospeech.ErrPlaybackFailed)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSynthesizerClosed
	}
	s.cancelLocked()
	generation := s.generation
	s.intent = intentIdle
	s.state = SynthesisState{Generating: true}
	state := s.state
	s.mu.Unlock()

	s.stopElement()
	s.notifier.publish(state)

	return s.play(generation, clip)
}

// play loads and starts clip unless a newer request arrived meanwhile.
// Generating stays set until the element reports that playback started.
func (s *SpeechSynthesizer) play(generation uint64, clip audio.Clip) error {
	s.elementMu.Lock()
	defer s.elementMu.Unlock()

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.intent = intentPlaying
	s.mu.Unlock()

	s.runBeforePlay()
	err := s.element.Load(clip)
	if err == nil {
		err = s.element.Play()
	}
	if err == nil {
		return nil
	}

	err = fmt.Errorf("%w: %w", texttospeech.ErrPlaybackFailed, err)
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.intent = intentIdle
	s.state = SynthesisState{LastError: err}
	state := s.state
	s.mu.Unlock()

	synthesisFailureCounter.Add(context.Background(), 1)
	s.notifier.publish(state)
	return err
}

// Stop cancels generation and playback. It is safe to call at any time.
func (s *SpeechSynthesizer) Stop() {
	s.mu.Lock()
	s.cancelLocked()
	wasActive := s.state.Active()
	s.intent = intentIdle
	s.state = SynthesisState{LastError: s.state.LastError}
	state := s.state
	s.mu.Unlock()

	s.stopElement()
	if wasActive {
		s.notifier.publish(state)
	}
}

// TogglePlayback pauses playing audio or resumes paused audio.
func (s *SpeechSynthesizer) TogglePlayback() {
	s.elementMu.Lock()
	defer s.elementMu.Unlock()

	s.mu.Lock()
	switch {
	case s.intent == intentPlaying && s.state.Playing:
		s.intent = intentPaused
		s.mu.Unlock()
		if err := s.element.Pause(); err != nil {
			logger.Warn("failed to pause playback", "error", err)
		}
	case s.intent == intentPaused:
		s.intent = intentPlaying
		s.mu.Unlock()
		s.runBeforePlay()
		if err := s.element.Play(); err != nil {
			logger.Warn("failed to resume playback", "error", err)
		}
	default:
		s.mu.Unlock()
	}
}

// Configure switches the voice and forgets remembered failures for it, so
// the next request reaches the provider again.
func (s *SpeechSynthesizer) Configure(voice texttospeech.VoiceConfig) {
	s.mu.Lock()
	s.voice = voice
	delete(s.sticky, stickyKey(texttospeech.ErrQuotaExceeded, voice))
	delete(s.sticky, stickyKey(texttospeech.ErrVoiceNotFound, voice))
	clearedErr := texttospeech.IsSticky(s.state.LastError)
	if clearedErr {
		s.state.LastError = nil
	}
	state := s.state
	s.mu.Unlock()

	if clearedErr {
		s.notifier.publish(state)
	}
}

func (s *SpeechSynthesizer) Voice() texttospeech.VoiceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *SpeechSynthesizer) State() SynthesisState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers callback for every state change. Callbacks run on a
// single goroutine in broadcast order.
func (s *SpeechSynthesizer) Subscribe(callback func(SynthesisState)) (unsubscribe func()) {
	return s.notifier.subscribe(callback)
}

// OnBeforePlay registers callback to run synchronously right before the
// element starts or resumes playing. Subscribers only learn about playback
// afterwards, so anything that must be released before audio comes out,
// like a live microphone, belongs here.
func (s *SpeechSynthesizer) OnBeforePlay(callback func()) (remove func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.nextHookID++
	id := s.nextHookID
	s.beforePlay[id] = callback
	return func() {
		s.hooksMu.Lock()
		defer s.hooksMu.Unlock()
		delete(s.beforePlay, id)
	}
}

func (s *SpeechSynthesizer) runBeforePlay() {
	s.hooksMu.Lock()
	callbacks := make([]func(), 0, len(s.beforePlay))
	for _, callback := range s.beforePlay {
		callbacks = append(callbacks, callback)
	}
	s.hooksMu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

// Close stops playback, unloads the element and drops all subscribers.
func (s *SpeechSynthesizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelLocked()
	s.intent = intentIdle
	s.state = SynthesisState{}
	s.mu.Unlock()

	s.elementMu.Lock()
	s.element.Unload()
	s.elementMu.Unlock()
	s.notifier.close()
}

func (s *SpeechSynthesizer) handlePlayback(event audio.PlaybackEvent) {
	s.mu.Lock()
	switch event.Kind {
	case audio.PlaybackPlaying:
		if s.intent != intentPlaying {
			s.mu.Unlock()
			return
		}
		s.state.Generating = false
		s.state.Playing = true
		s.state.Paused = false

	case audio.PlaybackPaused:
		if s.intent == intentPaused {
			s.state.Playing = false
			s.state.Paused = true
		} else if s.state.Playing {
			s.state.Playing = false
		} else {
			s.mu.Unlock()
			return
		}

	case audio.PlaybackEnded:
		// Every clip reports Playing before it ends, so an end seen while
		// the current clip is still loading belongs to the one it replaced.
		stale := s.state.Generating && !s.state.Playing
		if stale || (s.intent == intentIdle && !s.state.Playing) {
			s.mu.Unlock()
			return
		}
		s.intent = intentIdle
		s.state = SynthesisState{}

	case audio.PlaybackFailed:
		if s.intent == intentIdle {
			s.mu.Unlock()
			return
		}
		s.intent = intentIdle
		s.state = SynthesisState{LastError: fmt.Errorf("%w: %w", texttospeech.ErrPlaybackFailed, event.Err)}
		synthesisFailureCounter.Add(context.Background(), 1)
	}
	state := s.state
	s.mu.Unlock()

	s.notifier.publish(state)
}

func (s *SpeechSynthesizer) cancelLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *SpeechSynthesizer) stopElement() {
	s.elementMu.Lock()
	defer s.elementMu.Unlock()
	if err := s.element.Stop(); err != nil {
		logger.Debug("failed to stop playback", "error", err)
	}
}

func (s *SpeechSynthesizer) stickyErrorLocked(voice texttospeech.VoiceConfig) error {
	if err, ok := s.sticky[stickyKey(texttospeech.ErrQuotaExceeded, voice)]; ok {
		return err
	}
	if err, ok := s.sticky[stickyKey(texttospeech.ErrVoiceNotFound, voice)]; ok {
		return err
	}
	return nil
}

// stickyKey scopes quota failures to the API key and voice failures to the
// API key and voice pair.
func stickyKey(err error, voice texttospeech.VoiceConfig) string {
	if errors.Is(err, texttospeech.ErrQuotaExceeded) {
		return "quota\x00" + voice.APIKey
	}
	return "voice\x00" + voice.APIKey + "\x00" + voice.VoiceID
}

func classifySynthesisError(err error) error {
	class := texttospeech.Classify(err)
	if errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}
