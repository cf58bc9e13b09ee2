package orchestration

import "github.com/koscakluka/ema-voice/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// newCallbackEventEmitter routes events to the typed callbacks. Snapshot
// callbacks receive the live state the event was produced from.
func newCallbackEventEmitter(opts OrchestrateOptions, o *Orchestrator) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.ConversationStateChanged:
			if opts.onStateChanged != nil {
				opts.onStateChanged(State(typedEvent.To))
			}
		case events.MessageAppended:
			if opts.onMessage != nil {
				if message, ok := o.message(typedEvent.MessageID); ok {
					opts.onMessage(message)
				}
			}
		case events.UserTranscriptInterimUpdated:
			if opts.onInterimTranscript != nil {
				opts.onInterimTranscript(typedEvent.Transcript)
			}
		case events.UserTranscriptFinal:
			if opts.onTranscript != nil {
				opts.onTranscript(typedEvent.Transcript)
			}
		case events.CaptureStateChanged:
			if opts.onCaptureStateChanged != nil {
				opts.onCaptureStateChanged(CaptureState{
					Listening:        typedEvent.Listening,
					MutedByUser:      typedEvent.MutedByUser,
					Transcript:       typedEvent.Transcript,
					PermissionDenied: typedEvent.PermissionDenied,
					Unavailable:      typedEvent.Unavailable,
				})
			}
		case events.SynthesisStateChanged:
			if opts.onSynthesisStateChanged != nil {
				opts.onSynthesisStateChanged(SynthesisState{
					Generating: typedEvent.Generating,
					Playing:    typedEvent.Playing,
					Paused:     typedEvent.Paused,
					LastError:  typedEvent.Err,
				})
			}
		case events.ErrorReported:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		case events.DispatchFailed:
			if opts.onError != nil {
				opts.onError(typedEvent.Err)
			}
		}

		if opts.onEvent != nil {
			opts.onEvent(event)
		}
	}
}
