package deepgram

import (
	"fmt"

	"github.com/koscakluka/ema-voice/core/audio"
)

type listenEncoding struct {
	sampleRate int
	format     string
}

// convertEncoding maps the capture encoding onto the encodings the listen
// endpoint accepts for raw audio.
func convertEncoding(encoding audio.EncodingInfo) (listenEncoding, error) {
	converted := listenEncoding{}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.sampleRate = encoding.SampleRate
	default:
		return listenEncoding{}, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.format = "linear16"
	case audio.EncodingALaw, audio.EncodingMulaw:
		if converted.sampleRate != 8000 {
			return listenEncoding{}, fmt.Errorf("unsupported sample rate %d for %s encoding", converted.sampleRate, encoding.Format.Name())
		}
		converted.format = encoding.Format.Name()
	default:
		return listenEncoding{}, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	return converted, nil
}
