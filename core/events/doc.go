// Package events defines the typed event contract emitted by the
// conversation orchestrator.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - capture.*
//   - synthesis.*
//   - dispatch.*
//   - conversation.*
//
// Semantics used across the package:
//
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable text for the current utterance.
//   - StateChanged: full state snapshot, not a delta.
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): speech activity began.
//   - UserTranscriptInterimUpdated (user_input.transcript_interim_updated):
//     finalized segments plus the current interim tail.
//   - UserTranscriptFinal (user_input.transcript_final): utterance closed by
//     a pause and handed off for dispatch.
//   - UserTextSubmitted (user_input.text_submitted): typed input.
//
// capture and synthesis events
//
//   - CaptureStateChanged (capture.state_changed)
//   - SynthesisStateChanged (synthesis.state_changed)
//
// dispatch events
//
//   - DispatchStarted (dispatch.started)
//   - DispatchCompleted (dispatch.completed)
//   - DispatchFailed (dispatch.failed): the fallback reply was logged instead.
//   - DispatchDiscarded (dispatch.discarded): a reply arrived for a session
//     or turn that no longer exists.
//
// conversation events
//
//   - ConversationStateChanged (conversation.state_changed)
//   - MessageAppended (conversation.message_appended)
//   - ConversationRestarted (conversation.restarted): carries the new
//     session id.
//   - ConversationEnded (conversation.ended)
//   - ErrorReported (conversation.error_reported)
package events
