package miniaudio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

func TestProcessAudioReportsPlayingThenEnded(t *testing.T) {
	client, recorder := newTestPlaybackClient(t)
	client.samples = []byte{1, 0, 2, 0, 3, 0}
	client.state = playbackPlaying

	process := client.processAudio(2)
	out := make([]byte, 4)
	process(out, nil, 2)
	process(out, nil, 2)

	recorder.waitFor(t, 2)
	kinds := recorder.kinds()
	if kinds[0] != audio.PlaybackPlaying || kinds[1] != audio.PlaybackEnded {
		t.Fatalf("expected [playing ended], got %v", kinds)
	}
	if client.state != playbackStopped || client.position != 0 {
		t.Fatalf("expected playback to rewind after ending, got state %d position %d", client.state, client.position)
	}
}

func TestProcessAudioOutputsSilenceWhenPaused(t *testing.T) {
	client, recorder := newTestPlaybackClient(t)
	client.samples = []byte{9, 9, 9, 9}
	client.state = playbackPaused

	out := []byte{7, 7, 7, 7}
	client.processAudio(2)(out, nil, 2)

	for i, b := range out {
		if b != 0 {
			t.Fatalf("expected silence at byte %d, got %d", i, b)
		}
	}
	if got := len(recorder.kinds()); got != 0 {
		t.Fatalf("expected no events while paused, got %d", got)
	}
}

func TestPauseAndStopAreIdempotent(t *testing.T) {
	client, recorder := newTestPlaybackClient(t)
	client.samples = []byte{1, 0}
	client.state = playbackPlaying

	client.pause()
	client.pause()
	client.stop()
	client.stop()

	recorder.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	if kinds := recorder.kinds(); len(kinds) != 1 || kinds[0] != audio.PlaybackPaused {
		t.Fatalf("expected a single paused event, got %v", kinds)
	}
}

func TestPlayWithoutClipFails(t *testing.T) {
	client, _ := newTestPlaybackClient(t)

	if err := client.play(); !errors.Is(err, ErrNothingLoaded) {
		t.Fatalf("expected ErrNothingLoaded, got %v", err)
	}
}

func newTestPlaybackClient(t *testing.T) (*playbackClient, *playbackRecorder) {
	t.Helper()

	recorder := &playbackRecorder{}
	client := &playbackClient{encodingInfo: audio.GetDefaultEncodingInfo()}
	client.events.start()
	client.setCallback(recorder.record)
	t.Cleanup(client.events.close)
	return client, recorder
}

type playbackRecorder struct {
	mu     sync.Mutex
	events []audio.PlaybackEventKind
}

func (r *playbackRecorder) record(event audio.PlaybackEvent) {
	r.mu.Lock()
	r.events = append(r.events, event.Kind)
	r.mu.Unlock()
}

func (r *playbackRecorder) kinds() []audio.PlaybackEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.PlaybackEventKind(nil), r.events...)
}

func (r *playbackRecorder) waitFor(t *testing.T, count int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.kinds()) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d playback events, got %v", count, r.kinds())
}
