//go:build linux

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/peer"
)

// CaptureSource acquires camera/microphone media via pion/mediadevices
// (V4L2 + malgo on Linux). It implements peer.MediaSource.
type CaptureSource struct {
	selector *mediadevices.CodecSelector
}

func NewCaptureSource() (*CaptureSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &CaptureSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the capture codecs on a transport's media engine.
// The same selector must serve both capture and PeerConnection, or the
// SDP will not reference the encoded tracks.
func (c *CaptureSource) Populate(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

// Acquire captures local media. GetUserMedia fails as a unit if either
// requested track can't be opened, so try video+audio first, then
// video-only, then audio-only; a busy microphone shouldn't keep the
// camera from working and vice versa.
func (c *CaptureSource) Acquire(_ context.Context) (peer.StreamHandle, error) {
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices enumerated: %w", peer.ErrNoDevice)
	}
	for _, d := range devices {
		log.Debug().Str("module", "rtc.capture").Str("label", d.Label).Msg("media device")
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// Raw formats only: some cameras expose an MJPEG node
				// that produces malformed frames and poisons the VP8
				// encoder.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: 640}
				mc.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "rtc.capture").Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		log.Info().Str("module", "rtc.capture").Str("attempt", a.label).Int("tracks", len(stream.GetTracks())).Msg("local media captured")
		return &LocalStream{stream: stream}, nil
	}

	return nil, fmt.Errorf("all capture attempts failed (%v): %w", lastErr, peer.ErrNoDevice)
}

// LocalStream owns the captured tracks; Close releases the hardware.
type LocalStream struct {
	stream mediadevices.MediaStream
}

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	tracks := s.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (s *LocalStream) Close() error {
	for _, t := range s.stream.GetTracks() {
		t.Close()
	}
	return nil
}
