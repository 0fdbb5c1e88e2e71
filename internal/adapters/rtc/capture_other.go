//go:build !linux

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/nlazarev/visavis/internal/peer"
)

// CaptureSource on non-Linux platforms reports no device: capture via
// pion/mediadevices needs platform drivers (V4L2/malgo) we only wire on
// Linux. The engine treats this as a benign failure.
type CaptureSource struct{}

func NewCaptureSource() (*CaptureSource, error) { return &CaptureSource{}, nil }

func (c *CaptureSource) Populate(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *CaptureSource) Acquire(_ context.Context) (peer.StreamHandle, error) {
	return nil, fmt.Errorf("capture unsupported on this platform: %w", peer.ErrNoDevice)
}
