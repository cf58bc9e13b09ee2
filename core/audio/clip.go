package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	ErrEmptyClip          = errors.New("audio clip is empty")
	ErrUnsupportedFormat  = errors.New("unsupported audio format")
	ErrMalformedContainer = errors.New("malformed audio container")
)

const (
	MIMETypePCM = "audio/pcm"
	MIMETypeL16 = "audio/L16"
	MIMETypeWAV = "audio/wav"
	MIMETypeMP3 = "audio/mpeg"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// Clip is a self-contained, ready-to-play piece of audio. Clips are treated as
// immutable once created; the playback element copies what it needs.
type Clip struct {
	Data     []byte
	MIMEType string
	// Encoding describes raw PCM data. It is ignored for containers that carry
	// their own header (WAV, MP3).
	Encoding EncodingInfo
}

// NewPCMClip wraps raw mono PCM samples.
func NewPCMClip(data []byte, encoding EncodingInfo) Clip {
	return Clip{Data: data, MIMEType: MIMETypePCM, Encoding: encoding}
}

// IsAudioMIMEType reports whether the declared content type is an audio type.
func IsAudioMIMEType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "audio/")
}

func (c Clip) IsEmpty() bool { return len(c.Data) == 0 }

// Duration estimates the playback length in seconds for raw PCM clips. It
// returns 0 when it cannot be known without decoding.
func (c Clip) Duration() float64 {
	if f := c.format(); f != formatPCM && f != formatL16 && f != formatUnknown {
		return 0
	}
	if bps := c.Encoding.BytesPerSecond(); bps > 0 {
		return float64(len(c.Data)) / float64(bps)
	}
	return 0
}

type clipFormat int

const (
	formatUnknown clipFormat = iota
	formatWAV
	formatMP3
	formatPCM
	// formatL16 is big-endian linear16 (RFC 2586).
	formatL16
)

// Playable reports whether PCM can decode the clip.
func (c Clip) Playable() bool {
	return !c.IsEmpty() && c.format() != formatUnknown
}

// PCM decodes the clip into mono linear16 samples at the target sample rate.
func (c Clip) PCM(target EncodingInfo) ([]byte, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyClip
	}
	if target.Format != EncodingLinear16 {
		return nil, fmt.Errorf("%w: target %q", ErrUnsupportedFormat, target.Format)
	}

	var (
		samples    []byte
		sampleRate int
		err        error
	)
	switch c.format() {
	case formatWAV:
		samples, sampleRate, err = decodeWAV(c.Data)
	case formatMP3:
		samples, sampleRate, err = decodeMP3(c.Data)
	case formatPCM, formatL16:
		if c.Encoding.Format != "" && c.Encoding.Format != EncodingLinear16 {
			return nil, fmt.Errorf("%w: raw %q", ErrUnsupportedFormat, c.Encoding.Format)
		}
		sampleRate = c.rawSampleRate()
		samples = c.Data
		if c.format() == formatL16 {
			samples = swapLinear16(samples)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.MIMEType)
	}
	if err != nil {
		return nil, err
	}

	if sampleRate != target.SampleRate {
		samples = ResampleLinear16(samples, sampleRate, target.SampleRate)
	}
	return samples, nil
}

func (c Clip) mediaType() (string, map[string]string) {
	mediaType, params, err := mime.ParseMediaType(c.MIMEType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(c.MIMEType)), nil
	}
	return mediaType, params
}

// format prefers the declared type and falls back to sniffing the data.
func (c Clip) format() clipFormat {
	switch mediaType, _ := c.mediaType(); mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return formatWAV
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return formatMP3
	case "audio/pcm", "audio/x-pcm", "audio/raw":
		return formatPCM
	case "audio/l16":
		return formatL16
	}

	switch {
	case bytes.HasPrefix(c.Data, []byte("RIFF")):
		return formatWAV
	case bytes.HasPrefix(c.Data, []byte("ID3")),
		len(c.Data) > 1 && c.Data[0] == 0xFF && c.Data[1]&0xE0 == 0xE0:
		return formatMP3
	}
	return formatUnknown
}

func (c Clip) rawSampleRate() int {
	if _, params := c.mediaType(); params != nil {
		if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
			return rate
		}
	}
	if c.Encoding.SampleRate > 0 {
		return c.Encoding.SampleRate
	}
	return DefaultSampleRate
}

// decodeWAV reads integer PCM of any bit depth and returns mono linear16.
func decodeWAV(data []byte) ([]byte, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a wav file", ErrMalformedContainer)
	}
	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		return nil, 0, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, decoder.WavAudioFormat)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedContainer, err)
	}

	toLinear16 := func(v int) int16 { return int16(v) }
	switch decoder.BitDepth {
	case 8:
		toLinear16 = func(v int) int16 { return int16((v - 128) << 8) }
	case 16:
	case 24:
		toLinear16 = func(v int) int16 { return int16(v >> 8) }
	case 32:
		toLinear16 = func(v int) int16 { return int16(v >> 16) }
	default:
		return nil, 0, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, decoder.BitDepth)
	}

	samples := make([]byte, 0, len(buffer.Data)*2)
	for _, v := range buffer.Data {
		samples = binary.LittleEndian.AppendUint16(samples, uint16(toLinear16(v)))
	}
	return downmixLinear16(samples, int(decoder.NumChans)), int(decoder.SampleRate), nil
}

// decodeMP3 returns mono linear16; the decoder always yields stereo.
func decodeMP3(data []byte) ([]byte, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedContainer, err)
	}
	samples, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedContainer, err)
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("%w: no mp3 frames", ErrMalformedContainer)
	}
	return downmixLinear16(samples, 2), decoder.SampleRate(), nil
}

func swapLinear16(samples []byte) []byte {
	out := make([]byte, len(samples)&^1)
	for i := 0; i+1 < len(samples); i += 2 {
		out[i], out[i+1] = samples[i+1], samples[i]
	}
	return out
}

func downmixLinear16(samples []byte, channels int) []byte {
	if channels <= 1 {
		return samples
	}

	frameSize := 2 * channels
	out := make([]byte, 0, len(samples)/channels)
	for i := 0; i+frameSize <= len(samples); i += frameSize {
		sum := 0
		for ch := range channels {
			sum += int(int16(binary.LittleEndian.Uint16(samples[i+2*ch:])))
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(sum/channels)))
	}
	return out
}

// ResampleLinear16 converts mono linear16 samples between sample rates using
// linear interpolation.
func ResampleLinear16(samples []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to || len(samples) < 4 {
		return samples
	}

	inCount := len(samples) / 2
	outCount := int(int64(inCount) * int64(to) / int64(from))
	out := make([]byte, 0, outCount*2)
	sampleAt := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(samples[2*i:])))
	}

	step := float64(from) / float64(to)
	for i := range outCount {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= inCount-1 {
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(sampleAt(inCount-1))))
			continue
		}
		frac := pos - float64(idx)
		value := sampleAt(idx)*(1-frac) + sampleAt(idx+1)*frac
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(value)))
	}
	return out
}
