package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rtcbridge/sfuclient/internal/capture"
	"github.com/rtcbridge/sfuclient/internal/rtc"
	"github.com/rtcbridge/sfuclient/internal/signaling"
)

// PublishSession owns locally captured tracks and drives the publish
// negotiation: offer creation, ICE-gated one-shot transmission, and
// renegotiation on topology changes. At most one track per kind is active
// at any time.
type PublishSession struct {
	MediaSession

	capturer     capture.Capturer
	newTransport rtc.Factory

	// negotiating covers both the initial offer exchange and server-driven
	// renegotiation; whichever path holds it excludes the other.
	negotiating atomic.Bool

	// guarded by MediaSession.mu
	cfg    capture.Config
	tracks map[capture.Kind]capture.Track

	errs chan error
}

// NewPublishSession creates an idle session. No device is opened until
// Publish or Unmute captures a track.
func NewPublishSession(d signaling.Dispatcher, capturer capture.Capturer, factory rtc.Factory, cfg capture.Config) *PublishSession {
	return &PublishSession{
		MediaSession: newMediaSession("publish", d),
		capturer:     capturer,
		newTransport: factory,
		cfg:          cfg,
		tracks:       make(map[capture.Kind]capture.Track),
		errs:         make(chan error, 8),
	}
}

// Errors delivers failures from renegotiation cycles, which run inside the
// transport's negotiation-needed callback and so have no direct caller to
// return to. A failed renegotiation does not tear down the media line.
func (s *PublishSession) Errors() <-chan error { return s.errs }

// Tracks returns a snapshot of the active track collection.
func (s *PublishSession) Tracks() map[capture.Kind]capture.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[capture.Kind]capture.Track, len(s.tracks))
	for k, t := range s.tracks {
		out[k] = t
	}
	return out
}

type negotiationOutcome struct {
	reply signaling.NegotiationReply
	err   error
}

// Publish binds a fresh transport, adds all captured tracks, and runs the
// offer exchange. The offer is installed locally right away but only
// transmitted on the transport's first ICE-gathering-progress signal, so a
// complete description is sent exactly once. On success the session holds
// the server-assigned media line id.
func (s *PublishSession) Publish(ctx context.Context, routingID string) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return &PreconditionError{Op: "publish", Reason: "session already torn down"}
	}
	if s.transport != nil {
		s.mu.Unlock()
		return &PreconditionError{Op: "publish", Reason: "a negotiation is already bound"}
	}
	if routingID == "" {
		s.mu.Unlock()
		return &PreconditionError{Op: "publish", Reason: "routing id is required"}
	}
	cfg := s.cfg
	s.mu.Unlock()

	// Capture any enabled kind that has no live track yet, before any
	// negotiation state exists.
	for _, kind := range cfg.Kinds() {
		s.mu.Lock()
		_, have := s.tracks[kind]
		s.mu.Unlock()
		if have {
			continue
		}
		track, err := s.capturer.Capture(kind, cfg)
		if err != nil {
			return &CaptureError{Kind: kind, Err: err}
		}
		s.mu.Lock()
		s.tracks[kind] = track
		s.mu.Unlock()
	}

	tr, err := s.newTransport()
	if err != nil {
		return fmt.Errorf("failed to bind transport: %w", err)
	}

	s.negotiating.Store(true)
	defer s.negotiating.Store(false)

	s.mu.Lock()
	s.routingID = routingID
	s.transport = tr
	s.mu.Unlock()

	s.bindRenegotiation(tr)

	abort := func() {
		_ = tr.Close()
		s.mu.Lock()
		s.transport = nil
		s.routingID = ""
		s.mu.Unlock()
	}

	for _, kind := range cfg.Kinds() {
		s.mu.Lock()
		track := s.tracks[kind]
		s.mu.Unlock()
		if track == nil {
			continue
		}
		if _, err := tr.AddTrack(track); err != nil {
			abort()
			return fmt.Errorf("failed to add %s track: %w", kind, err)
		}
	}

	// Receive nothing: a publish transport only sends.
	offer, err := tr.CreateOffer(rtc.OfferOptions{})
	if err != nil {
		abort()
		return fmt.Errorf("failed to create offer: %w", err)
	}

	done := make(chan negotiationOutcome, 1)
	var sent atomic.Bool
	tr.OnICEGatheringProgress(func() {
		// One-shot latch: test and consume in a single atomic step, so the
		// request goes out exactly once however often the signal fires.
		if !sent.CompareAndSwap(false, true) {
			return
		}
		var reply signaling.NegotiationReply
		err := s.dispatcher.Request(ctx, signaling.MethodPublish, &signaling.PublishRequest{
			RoutingID: routingID,
			Offer:     &offer,
			Codec:     cfg.VideoCodec,
			Bandwidth: cfg.Bandwidth(),
		}, &reply)
		done <- negotiationOutcome{reply: reply, err: err}
	})

	if err := tr.SetLocalDescription(offer); err != nil {
		abort()
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			// Transport state is partially advanced; the caller retries or
			// calls Close.
			return &SignalingError{Method: signaling.MethodPublish, Err: out.err}
		}
		if out.reply.Answer == nil {
			return &SignalingError{Method: signaling.MethodPublish, Err: errors.New("server returned no answer")}
		}
		if err := tr.SetRemoteDescription(*out.reply.Answer); err != nil {
			return fmt.Errorf("failed to set remote description: %w", err)
		}
		s.mu.Lock()
		s.mediaLineID = out.reply.MediaLineID
		s.mu.Unlock()
		s.log.Info("published",
			zap.String("routing_id", routingID),
			zap.String("media_line_id", out.reply.MediaLineID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bindRenegotiation reacts to the transport's negotiation-needed signal,
// raised by topology changes such as mute/unmute. Renegotiation is not
// gated on ICE gathering: the transport's paths are already established.
func (s *PublishSession) bindRenegotiation(tr rtc.Transport) {
	tr.OnNegotiationNeeded(func() {
		if !s.negotiating.CompareAndSwap(false, true) {
			s.log.Debug("skipping negotiation, another negotiation is in progress")
			return
		}
		defer s.negotiating.Store(false)

		if err := s.renegotiate(tr); err != nil {
			s.log.Error("renegotiation failed", zap.Error(err))
			select {
			case s.errs <- err:
			default:
			}
		}
	})
}

func (s *PublishSession) renegotiate(tr rtc.Transport) error {
	s.mu.Lock()
	routingID := s.routingID
	published := s.mediaLineID != ""
	cfg := s.cfg
	s.mu.Unlock()

	if !published {
		// Topology changed before the initial exchange finished; the
		// pending offer already reflects it.
		return nil
	}

	offer, err := tr.CreateOffer(rtc.OfferOptions{})
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := tr.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	var reply signaling.NegotiationReply
	if err := s.dispatcher.Request(context.Background(), signaling.MethodPublish, &signaling.PublishRequest{
		RoutingID: routingID,
		Offer:     &offer,
		Codec:     cfg.VideoCodec,
		Bandwidth: cfg.Bandwidth(),
	}, &reply); err != nil {
		return &SignalingError{Method: signaling.MethodPublish, Err: err}
	}
	if reply.Answer == nil {
		return &SignalingError{Method: signaling.MethodPublish, Err: errors.New("server returned no answer")}
	}
	if err := tr.SetRemoteDescription(*reply.Answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	s.log.Info("renegotiated", zap.String("routing_id", routingID))
	return nil
}

// Unpublish closes the transport, tells the server to drop the media line,
// and leaves the session terminal. It requires a completed negotiation.
func (s *PublishSession) Unpublish(ctx context.Context) error {
	s.mu.Lock()
	if s.routingID == "" || s.mediaLineID == "" {
		s.mu.Unlock()
		return &PreconditionError{Op: "unpublish", Reason: "no negotiated media line"}
	}
	routingID := s.routingID
	mediaLineID := s.mediaLineID
	tr := s.transport
	s.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			s.log.Warn("transport close failed", zap.Error(err))
		}
	}

	if err := s.dispatcher.Request(ctx, signaling.MethodUnpublish, &signaling.UnpublishRequest{
		RoutingID:   routingID,
		MediaLineID: mediaLineID,
	}, nil); err != nil {
		return &SignalingError{Method: signaling.MethodUnpublish, Err: err}
	}

	s.mu.Lock()
	s.routingID = ""
	s.mediaLineID = ""
	s.transport = nil
	s.terminal = true
	tracks := s.tracks
	s.tracks = make(map[capture.Kind]capture.Track)
	s.mu.Unlock()

	for kind, track := range tracks {
		if err := track.Stop(); err != nil {
			s.log.Warn("failed to stop track", zap.String("kind", kind.String()), zap.Error(err))
		}
	}

	s.log.Info("unpublished", zap.String("routing_id", routingID), zap.String("media_line_id", mediaLineID))
	return nil
}

// Close abandons the session without signaling. Captured tracks are
// stopped as well, so no device keeps running after a failed negotiation.
func (s *PublishSession) Close() error {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = make(map[capture.Kind]capture.Track)
	s.mu.Unlock()

	for kind, track := range tracks {
		if err := track.Stop(); err != nil {
			s.log.Warn("failed to stop track", zap.String("kind", kind.String()), zap.Error(err))
		}
	}

	return s.MediaSession.Close()
}

// SwitchDevice captures the kind from a different device and swaps it into
// the live sender in place. Same topology, different source: the media line
// id is preserved and no signaling request is issued.
func (s *PublishSession) SwitchDevice(kind capture.Kind, deviceID string) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return &PreconditionError{Op: "switch-device", Reason: "session already torn down"}
	}
	if !s.cfg.Enabled(kind) {
		s.mu.Unlock()
		return &PreconditionError{Op: "switch-device", Reason: fmt.Sprintf("%s capture not enabled", kind)}
	}
	s.cfg.MergeDevice(kind, deviceID)
	cfg := s.cfg
	_, live := s.tracks[kind]
	s.mu.Unlock()

	if !live {
		// Kind is currently muted: no sender to feed, so don't open the
		// device. The merged id takes effect when Unmute captures again.
		s.log.Info("switched device", zap.String("kind", kind.String()), zap.String("device_id", deviceID))
		return nil
	}

	track, err := s.capturer.Capture(kind, cfg)
	if err != nil {
		return &CaptureError{Kind: kind, Err: err}
	}

	s.mu.Lock()
	old := s.tracks[kind]
	s.tracks[kind] = track
	tr := s.transport
	published := s.mediaLineID != ""
	s.mu.Unlock()

	if old != nil {
		if err := old.Stop(); err != nil {
			s.log.Warn("failed to stop replaced track", zap.String("kind", kind.String()), zap.Error(err))
		}
	}

	if tr != nil && published {
		if err := replaceSenderTrack(tr, kind, track); err != nil {
			return err
		}
	}

	s.log.Info("switched device", zap.String("kind", kind.String()), zap.String("device_id", deviceID))
	return nil
}

func replaceSenderTrack(tr rtc.Transport, kind capture.Kind, track capture.Track) error {
	for _, sender := range tr.Senders() {
		if sender.Kind() == kind {
			if err := sender.ReplaceTrack(track); err != nil {
				return fmt.Errorf("failed to replace %s sender track: %w", kind, err)
			}
			return nil
		}
	}
	return fmt.Errorf("no %s sender on transport", kind)
}

// Mute stops the kind's capture and removes its sender from the transport.
// Removing a sender changes the media-line topology, so the transport
// raises negotiation-needed and a full renegotiation follows.
func (s *PublishSession) Mute(kind capture.Kind) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return &PreconditionError{Op: "mute", Reason: "session already torn down"}
	}
	track := s.tracks[kind]
	if track == nil {
		s.mu.Unlock()
		return &PreconditionError{Op: "mute", Reason: fmt.Sprintf("no active %s track", kind)}
	}
	delete(s.tracks, kind)
	tr := s.transport
	published := s.mediaLineID != ""
	s.mu.Unlock()

	if err := track.Stop(); err != nil {
		s.log.Warn("failed to stop muted track", zap.String("kind", kind.String()), zap.Error(err))
	}

	if tr != nil && published {
		for _, sender := range tr.Senders() {
			if sender.Kind() == kind {
				if err := tr.RemoveTrack(sender); err != nil {
					return fmt.Errorf("failed to remove %s sender: %w", kind, err)
				}
				break
			}
		}
	}

	s.log.Info("muted", zap.String("kind", kind.String()))
	return nil
}

// Unmute captures a fresh track under the stored configuration and adds it
// to the transport as a new track, provoking renegotiation.
func (s *PublishSession) Unmute(kind capture.Kind) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return &PreconditionError{Op: "unmute", Reason: "session already torn down"}
	}
	if _, have := s.tracks[kind]; have {
		s.mu.Unlock()
		return &PreconditionError{Op: "unmute", Reason: fmt.Sprintf("%s track already active", kind)}
	}
	cfg := s.cfg
	s.mu.Unlock()

	track, err := s.capturer.Capture(kind, cfg)
	if err != nil {
		return &CaptureError{Kind: kind, Err: err}
	}

	s.mu.Lock()
	s.tracks[kind] = track
	tr := s.transport
	published := s.mediaLineID != ""
	s.mu.Unlock()

	if tr != nil && published {
		if _, err := tr.AddTrack(track); err != nil {
			return fmt.Errorf("failed to add %s track: %w", kind, err)
		}
	}

	s.log.Info("unmuted", zap.String("kind", kind.String()))
	return nil
}
