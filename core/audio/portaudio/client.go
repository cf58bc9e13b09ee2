// Package portaudio provides a PortAudio microphone. It is an alternative to
// the miniaudio capture device on systems where PortAudio is preferred.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

type Microphone struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMicrophone(bufferSize int) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	return &Microphone{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
	}, nil
}

// StartCapture starts reading the default input device and calls onAudio with
// little-endian linear16 chunks until StopCapture is called or ctx ends.
func (m *Microphone) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.read(ctx, onAudio, m.done)
	return nil
}

func (m *Microphone) read(ctx context.Context, onAudio func(audio []byte), done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			logger.Warn("failed to read from portaudio stream", "error", err)
			continue
		}

		audioBuffer := bytes.Buffer{}
		_ = binary.Write(&audioBuffer, binary.LittleEndian, m.in)
		onAudio(audioBuffer.Bytes())
	}
}

func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	if err := m.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

func (m *Microphone) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}

func (m *Microphone) Close() error {
	stopErr := m.StopCapture()
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("failed to close portaudio stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}
	return stopErr
}
