package rtc

import "github.com/pion/webrtc/v4"

// RemoteStream is the handle handed to the render sink when a remote
// track arrives. Closing it is a no-op; the PeerConnection owns the
// receiver's lifetime.
type RemoteStream struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

func (s *RemoteStream) Kind() string { return s.Track.Kind().String() }

func (s *RemoteStream) Close() error { return nil }
