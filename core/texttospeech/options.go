package texttospeech

import "github.com/koscakluka/ema-voice/core/audio"

// VoiceConfig selects the account and voice a provider speaks with.
type VoiceConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
}

func (c VoiceConfig) IsZero() bool {
	return c == VoiceConfig{}
}

type SynthesisOptions struct {
	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func NewSynthesisOptions(opts ...SynthesisOption) SynthesisOptions {
	options := SynthesisOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithEncodingInfo requests audio in the given encoding. Providers that
// cannot produce it fall back to their closest supported output and label
// the returned clip accordingly.
func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}
