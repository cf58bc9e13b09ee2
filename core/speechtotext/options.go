package speechtotext

import (
	"context"

	"github.com/koscakluka/ema-voice/core/audio"
)

const DefaultLanguage = "en-US"

type RecognitionOptions struct {
	// ResultCallback is called for every recognition result. isFinal is set
	// when the recognizer considers the text stable.
	ResultCallback func(transcript string, isFinal bool)
	// EndCallback is called once the recognition session stops, whether it
	// was asked to or not.
	EndCallback func()
	// ErrorCallback is called for recognition failures. Errors are classified
	// against the sentinel errors of this package.
	ErrorCallback func(err error)

	SpeechStartedCallback func()

	Language       string
	Continuous     bool
	InterimResults bool

	EncodingInfo audio.EncodingInfo
}

type RecognitionOption func(*RecognitionOptions)

// NewRecognitionOptions applies opts on top of the defaults: continuous,
// interim results enabled, English locale and noop callbacks.
func NewRecognitionOptions(opts ...RecognitionOption) RecognitionOptions {
	options := RecognitionOptions{
		ResultCallback:        func(string, bool) {},
		EndCallback:           func() {},
		ErrorCallback:         func(error) {},
		SpeechStartedCallback: func() {},
		Language:              DefaultLanguage,
		Continuous:            true,
		InterimResults:        true,
		EncodingInfo:          audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithResultCallback(callback func(transcript string, isFinal bool)) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.ResultCallback = callback
		}
	}
}

func WithEndCallback(callback func()) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.EndCallback = callback
		}
	}
}

func WithErrorCallback(callback func(err error)) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.ErrorCallback = callback
		}
	}
}

func WithSpeechStartedCallback(callback func()) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.SpeechStartedCallback = callback
		}
	}
}

func WithLanguage(language string) RecognitionOption {
	return func(o *RecognitionOptions) {
		if language != "" {
			o.Language = language
		}
	}
}

func WithContinuous(continuous bool) RecognitionOption {
	return func(o *RecognitionOptions) { o.Continuous = continuous }
}

func WithInterimResults(interimResults bool) RecognitionOption {
	return func(o *RecognitionOptions) { o.InterimResults = interimResults }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) RecognitionOption {
	return func(o *RecognitionOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// AudioSource is a microphone the recognizer can pull audio from.
type AudioSource interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}
