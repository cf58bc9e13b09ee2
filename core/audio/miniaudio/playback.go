package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

var ErrNothingLoaded = errors.New("no audio loaded")

type playbackState int

const (
	playbackStopped playbackState = iota
	playbackPlaying
	playbackPaused
)

// playbackClient is a single playable element: one clip loaded at a time,
// explicit play/pause/stop, and lifecycle events reported from the device
// callback itself.
type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	samples  []byte
	position int
	state    playbackState
	// startReported is reset on every Play and flipped by the device callback
	// once the first frame of the clip has actually been pulled.
	startReported bool

	events eventPump

	mu       sync.Mutex
	deviceMu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	c.encodingInfo = encodingInfo
	sampleRate := uint32(encodingInfo.SampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	c.events.start()
	return nil
}

func (c *playbackClient) setCallback(callback func(audio.PlaybackEvent)) {
	c.events.setCallback(callback)
}

func (c *playbackClient) load(clip audio.Clip) error {
	samples, err := clip.PCM(c.encodingInfo)
	if err != nil {
		return fmt.Errorf("failed to decode clip: %w", err)
	}

	c.mu.Lock()
	wasPlaying := c.state == playbackPlaying
	c.samples = samples
	c.position = 0
	c.state = playbackStopped
	c.mu.Unlock()

	if wasPlaying {
		c.events.push(audio.PlaybackEvent{Kind: audio.PlaybackPaused})
	}
	return nil
}

func (c *playbackClient) play() error {
	c.mu.Lock()
	if len(c.samples) == 0 {
		c.mu.Unlock()
		return ErrNothingLoaded
	}
	if c.state == playbackPlaying {
		c.mu.Unlock()
		return nil
	}
	c.state = playbackPlaying
	c.startReported = false
	c.mu.Unlock()

	if err := c.ensureDeviceStarted(); err != nil {
		c.mu.Lock()
		c.state = playbackStopped
		c.mu.Unlock()
		c.events.push(audio.PlaybackEvent{Kind: audio.PlaybackFailed, Err: err})
		return err
	}

	return nil
}

func (c *playbackClient) pause() {
	c.mu.Lock()
	wasPlaying := c.state == playbackPlaying
	if wasPlaying {
		c.state = playbackPaused
	}
	c.mu.Unlock()

	if wasPlaying {
		c.events.push(audio.PlaybackEvent{Kind: audio.PlaybackPaused})
	}
}

func (c *playbackClient) stop() {
	c.mu.Lock()
	wasPlaying := c.state == playbackPlaying
	c.state = playbackStopped
	c.position = 0
	c.mu.Unlock()

	if wasPlaying {
		c.events.push(audio.PlaybackEvent{Kind: audio.PlaybackPaused})
	}
}

func (c *playbackClient) unload() {
	c.stop()

	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}

func (c *playbackClient) ensureDeviceStarted() error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}
	if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Uninit() error {
	c.stop()

	c.deviceMu.Lock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.deviceMu.Unlock()

	c.events.close()
	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) func(pOutput, _ []byte, frameCount uint32) {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		clear(pOutput)

		c.mu.Lock()
		if c.state != playbackPlaying {
			c.mu.Unlock()
			return
		}

		if !c.startReported {
			c.startReported = true
			c.events.push(audio.PlaybackEvent{Kind: audio.PlaybackPlaying})
		}

		n := copy(pOutput[:min(need, len(pOutput))], c.samples[c.position:])
		c.position += n
		ended := c.position >= len(c.samples)
		if ended {
			c.state = playbackStopped
			c.position = 0
		}
		c.mu.Unlock()

		if ended {
			c.events.push(audio.PlaybackEvent{Kind: audio.PlaybackEnded})
		}
	}
}

// eventPump delivers playback events in order on its own goroutine so the
// device callback never blocks on a consumer.
type eventPump struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []audio.PlaybackEvent
	callback func(audio.PlaybackEvent)
	closed   bool
	started  bool
}

func (p *eventPump) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.cond = sync.NewCond(&p.mu)
	go p.run()
}

func (p *eventPump) setCallback(callback func(audio.PlaybackEvent)) {
	p.mu.Lock()
	p.callback = callback
	p.mu.Unlock()
}

func (p *eventPump) push(event audio.PlaybackEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.cond == nil {
		return
	}
	p.pending = append(p.pending, event)
	p.cond.Signal()
}

func (p *eventPump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.cond != nil {
		p.cond.Broadcast()
	}
}

func (p *eventPump) run() {
	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		event := p.pending[0]
		p.pending = p.pending[1:]
		callback := p.callback
		p.mu.Unlock()

		if callback != nil {
			callback(event)
		}
	}
}
