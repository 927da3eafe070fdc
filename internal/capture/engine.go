// Package capture acquires local media tracks from physical devices via
// pion/mediadevices. It owns codec selection; the resulting tracks are
// handed to the transport layer for negotiation.
package capture

import (
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
)

// Track is a locally captured media track. Stop releases the hardware
// capture; Local exposes the negotiable pion track.
type Track interface {
	ID() string
	Kind() Kind
	Stop() error
	Local() webrtc.TrackLocal
}

// Capturer acquires a track of the given kind under the given configuration.
type Capturer interface {
	Capture(kind Kind, cfg Config) (Track, error)
}

// Engine is the mediadevices-backed Capturer.
type Engine struct {
	selector *mediadevices.CodecSelector
	log      *zap.Logger
}

// NewEngine builds the codec selector for cfg and returns a ready Capturer.
func NewEngine(cfg Config) (*Engine, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = cfg.Preset.TargetBitrate()
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = time.Millisecond * 200

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}
	opusParams.BitRate = cfg.AudioBitRate
	opusParams.Latency = opus.Latency20ms // 20 ms frame size for real-time use

	return &Engine{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: zap.L().Named("capture"),
	}, nil
}

// Selector exposes the codec selector so the transport layer can populate
// its media engine with the same codecs.
func (e *Engine) Selector() *mediadevices.CodecSelector {
	return e.selector
}

// Capture opens the configured device for the kind and returns its track.
func (e *Engine) Capture(kind Kind, cfg Config) (Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: e.selector}

	switch kind {
	case Video:
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if id := cfg.VideoDeviceID; id != "" {
				c.DeviceID = prop.String(id)
			}
			c.Width = prop.Int(cfg.Preset.Resolution.Width)
			c.Height = prop.Int(cfg.Preset.Resolution.Height)
			c.FrameRate = prop.Float(cfg.Preset.FrameRate)
			c.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
		}
	case Audio:
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if id := cfg.AudioDeviceID; id != "" {
				c.DeviceID = prop.String(id)
			}
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
			c.IsFloat = prop.BoolExact(false)
			c.IsBigEndian = prop.BoolExact(false)
			c.IsInterleaved = prop.BoolExact(true)
			c.Latency = prop.Duration(20 * time.Millisecond)
		}
	default:
		return nil, fmt.Errorf("unknown media kind: %s", kind)
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to get user media for %s: %w", kind, err)
	}

	var tracks []mediadevices.Track
	if kind == Video {
		tracks = stream.GetVideoTracks()
	} else {
		tracks = stream.GetAudioTracks()
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no %s track produced by device", kind)
	}

	e.log.Info("captured track",
		zap.String("kind", kind.String()),
		zap.String("track_id", tracks[0].ID()),
		zap.String("device_id", cfg.DeviceID(kind)))

	return &deviceTrack{kind: kind, inner: tracks[0]}, nil
}

type deviceTrack struct {
	kind  Kind
	inner mediadevices.Track
}

func (t *deviceTrack) ID() string               { return t.inner.ID() }
func (t *deviceTrack) Kind() Kind               { return t.kind }
func (t *deviceTrack) Stop() error              { return t.inner.Close() }
func (t *deviceTrack) Local() webrtc.TrackLocal { return t.inner }
