package peer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nlazarev/visavis/internal/proto"
)

// Description and Candidate are opaque negotiation payloads. The engine
// moves them between the relay and the transport without parsing them.
type (
	Description = json.RawMessage
	Candidate   = json.RawMessage
)

var (
	// ErrBusy is returned for a second Invite while a session exists.
	ErrBusy = errors.New("a session is already active")

	// Benign media failures: the user declined or has no hardware.
	// They abort the call quietly instead of surfacing an error.
	ErrNoDevice         = errors.New("no media device")
	ErrPermissionDenied = errors.New("media permission denied")
)

// IsBenignMediaError reports whether a media-acquisition failure should
// abort silently rather than be shown to the user.
func IsBenignMediaError(err error) bool {
	return errors.Is(err, ErrNoDevice) || errors.Is(err, ErrPermissionDenied)
}

// StreamHandle is an acquired local or remote media stream. The engine
// owns local handles once acquired and releases them on teardown.
type StreamHandle interface {
	Close() error
}

// MediaSource acquires local media (camera/microphone). Failures are
// classified through ErrNoDevice / ErrPermissionDenied.
type MediaSource interface {
	Acquire(ctx context.Context) (StreamHandle, error)
}

// RenderSink consumes remote media. Fire-and-forget.
type RenderSink interface {
	Attach(StreamHandle)
}

// TransportCallbacks are the notification sources a PeerTransport feeds
// back into the engine. They may fire from transport-owned goroutines;
// the engine serializes them onto its event loop.
type TransportCallbacks struct {
	OnNegotiationNeeded func()
	OnICECandidate      func(Candidate)
	OnTrack             func(StreamHandle)
	OnClosed            func()
}

// PeerTransport is the underlying peer-connection primitive. Every
// operation may fail and every failure is classified by the engine.
type PeerTransport interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	// Rollback resets the local description to the neutral state, used
	// to resolve offer glare.
	Rollback() error
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	AttachStream(StreamHandle) error
	// LocalDescription returns the committed local description as it
	// should appear on the wire.
	LocalDescription() Description
	Close() error
}

// TransportFactory builds one PeerTransport per session with the
// engine's callbacks already bound.
type TransportFactory func(TransportCallbacks) (PeerTransport, error)

// Sender delivers an envelope to the relay.
type Sender interface {
	Send(proto.Envelope) error
}
