// Package rtc adapts pion/webrtc to the peer-transport primitive the
// negotiation engine drives, and provides local media capture.
package rtc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/peer"
)

var ErrNotTrackSource = errors.New("stream handle carries no local tracks")

// TrackSource is what AttachStream expects from a local stream handle.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewFactory builds the TransportFactory the engine uses, one
// PeerConnection per session. populate registers codecs on the media
// engine; pass nil for pion's defaults.
func NewFactory(cfg webrtc.Configuration, populate func(*webrtc.MediaEngine) error) peer.TransportFactory {
	return func(cb peer.TransportCallbacks) (peer.PeerTransport, error) {
		me := &webrtc.MediaEngine{}
		if populate != nil {
			if err := populate(me); err != nil {
				return nil, fmt.Errorf("populate media engine: %w", err)
			}
		} else if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}

		ir := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
			return nil, fmt.Errorf("register interceptors: %w", err)
		}

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(me),
			webrtc.WithInterceptorRegistry(ir),
		)
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}

		t := &Transport{pc: pc}
		t.bind(cb)
		return t, nil
	}
}

// Transport wraps one *webrtc.PeerConnection behind the engine's
// opaque-description interface. Descriptions and candidates cross this
// boundary as raw JSON and are decoded into pion types here only.
type Transport struct {
	pc *webrtc.PeerConnection
}

func (t *Transport) bind(cb peer.TransportCallbacks) {
	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if cb.OnClosed != nil {
				cb.OnClosed()
			}
		}
	})

	t.pc.OnNegotiationNeeded(func() {
		if cb.OnNegotiationNeeded != nil {
			cb.OnNegotiationNeeded()
		}
	})

	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || cb.OnICECandidate == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("marshal candidate")
			return
		}
		cb.OnICECandidate(data)
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track received")
		if cb.OnTrack != nil {
			cb.OnTrack(&RemoteStream{Track: track, Receiver: receiver})
		}
	})
}

func (t *Transport) CreateOffer() (peer.Description, error) {
	sd, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sd)
}

func (t *Transport) CreateAnswer() (peer.Description, error) {
	sd, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sd)
}

func (t *Transport) SetLocalDescription(desc peer.Description) error {
	sd, err := decodeDescription(desc)
	if err != nil {
		return err
	}
	return t.pc.SetLocalDescription(sd)
}

func (t *Transport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *Transport) SetRemoteDescription(desc peer.Description) error {
	sd, err := decodeDescription(desc)
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(sd)
}

func (t *Transport) AddICECandidate(cand peer.Candidate) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return t.pc.AddICECandidate(ci)
}

func (t *Transport) AttachStream(h peer.StreamHandle) error {
	src, ok := h.(TrackSource)
	if !ok {
		return ErrNotTrackSource
	}
	for _, track := range src.Tracks() {
		if _, err := t.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			return fmt.Errorf("add transceiver: %w", err)
		}
	}
	return nil
}

func (t *Transport) LocalDescription() peer.Description {
	sd := t.pc.LocalDescription()
	if sd == nil {
		return nil
	}
	data, err := json.Marshal(sd)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("marshal local description")
		return nil
	}
	return data
}

func (t *Transport) Close() error {
	return t.pc.Close()
}

func decodeDescription(desc peer.Description) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode description: %w", err)
	}
	return sd, nil
}
