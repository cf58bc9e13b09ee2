package events

// KindCaptureStateChanged identifies speech capture state snapshots.
const KindCaptureStateChanged Kind = "capture.state_changed"

type CaptureStateChanged struct {
	Base
	Listening        bool
	MutedByUser      bool
	PermissionDenied bool
	Unavailable      bool
	Transcript       string
}

func NewCaptureStateChanged(listening, mutedByUser, permissionDenied, unavailable bool, transcript string) CaptureStateChanged {
	return CaptureStateChanged{
		Base:             NewBase(KindCaptureStateChanged),
		Listening:        listening,
		MutedByUser:      mutedByUser,
		PermissionDenied: permissionDenied,
		Unavailable:      unavailable,
		Transcript:       transcript,
	}
}
