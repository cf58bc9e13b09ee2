// Package miniaudio provides the local audio devices used by the voice
// client: a single shared playback element and a microphone.
package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo

	playback playbackClient
	capture  captureClient
}

type ClientOption func(*Client)

// WithEncodingInfo overrides the device sample rate. Only linear16 is
// supported by the devices.
func WithEncodingInfo(encodingInfo audio.EncodingInfo) ClientOption {
	return func(c *Client) {
		if encodingInfo.SampleRate > 0 && encodingInfo.Format == audio.EncodingLinear16 {
			c.encodingInfo = encodingInfo
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{encodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(client)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	if err := client.playback.Init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.capture.Init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.capture.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.capture.Stop()
}

func (c *Client) Load(clip audio.Clip) error { return c.playback.load(clip) }
func (c *Client) Play() error                { return c.playback.play() }
func (c *Client) Pause() error               { c.playback.pause(); return nil }
func (c *Client) Stop() error                { c.playback.stop(); return nil }
func (c *Client) Unload()                    { c.playback.unload() }

func (c *Client) SetPlaybackCallback(callback func(audio.PlaybackEvent)) {
	c.playback.setCallback(callback)
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}

func (c *Client) Close() error {
	var errs error
	if err := c.capture.Uninit(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := c.playback.Uninit(); err != nil {
		errs = errors.Join(errs, err)
	}
	if c.audioContext != nil {
		if err := c.audioContext.Uninit(); err != nil {
			errs = errors.Join(errs, err)
		}
		c.audioContext.Free()
		c.audioContext = nil
	}
	return errs
}
