package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rtcbridge/sfuclient/internal/rtc"
	"github.com/rtcbridge/sfuclient/internal/signaling"
)

// SubscribeSession receives one published media line. Unlike publishing,
// the media line id is the caller-supplied subscribe target, not assigned
// by the server.
type SubscribeSession struct {
	MediaSession

	// guarded by MediaSession.mu
	remote    rtc.RemoteTrack
	streamIDs []string
}

// GetRemoteMedia binds a receive-only transport, negotiates the
// subscription, and resolves only once a remote track has arrived and its
// media is actually flowing. "Negotiated" and "flowing" are distinct
// states; readiness means the latter.
func GetRemoteMedia(ctx context.Context, d signaling.Dispatcher, factory rtc.Factory, routingID, mediaLineID string) (*SubscribeSession, error) {
	if routingID == "" || mediaLineID == "" {
		return nil, &PreconditionError{Op: "subscribe", Reason: "routing id and media line id are required"}
	}

	tr, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to bind transport: %w", err)
	}

	s := &SubscribeSession{MediaSession: newMediaSession("subscribe", d)}
	s.mu.Lock()
	s.routingID = routingID
	s.mediaLineID = mediaLineID
	s.transport = tr
	s.mu.Unlock()

	ready := make(chan rtc.RemoteTrack, 1)
	var resolved atomic.Bool
	tr.OnRemoteTrack(func(track rtc.RemoteTrack, streamIDs []string) {
		go func() {
			<-track.Unmuted()
			if !resolved.CompareAndSwap(false, true) {
				return
			}
			s.mu.Lock()
			s.streamIDs = streamIDs
			s.mu.Unlock()
			ready <- track
		}()
	})

	offer, err := tr.CreateOffer(rtc.OfferOptions{ReceiveAudio: true, ReceiveVideo: true})
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	done := make(chan negotiationOutcome, 1)
	var sent atomic.Bool
	tr.OnICEGatheringProgress(func() {
		// Same one-shot latch as publishing.
		if !sent.CompareAndSwap(false, true) {
			return
		}
		var reply signaling.NegotiationReply
		err := d.Request(ctx, signaling.MethodSubscribe, &signaling.SubscribeRequest{
			RoutingID:   routingID,
			Offer:       &offer,
			MediaLineID: mediaLineID,
		}, &reply)
		done <- negotiationOutcome{reply: reply, err: err}
	})

	if err := tr.SetLocalDescription(offer); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			_ = tr.Close()
			return nil, &SignalingError{Method: signaling.MethodSubscribe, Err: out.err}
		}
		if out.reply.Answer == nil {
			_ = tr.Close()
			return nil, &SignalingError{Method: signaling.MethodSubscribe, Err: errors.New("server returned no answer")}
		}
		if err := tr.SetRemoteDescription(*out.reply.Answer); err != nil {
			_ = tr.Close()
			return nil, fmt.Errorf("failed to set remote description: %w", err)
		}
	case <-ctx.Done():
		_ = tr.Close()
		return nil, ctx.Err()
	}

	select {
	case track := <-ready:
		s.mu.Lock()
		s.remote = track
		s.mu.Unlock()
		s.log.Info("subscription ready",
			zap.String("routing_id", routingID),
			zap.String("media_line_id", mediaLineID),
			zap.String("track_id", track.ID()))
		return s, nil
	case <-ctx.Done():
		_ = tr.Close()
		return nil, ctx.Err()
	}
}

// Remote returns the resolved inbound track and the stream ids it belongs
// to. Nil until GetRemoteMedia returned this session.
func (s *SubscribeSession) Remote() (rtc.RemoteTrack, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote, s.streamIDs
}

// Unsubscribe closes the transport and tells the server to stop the line.
// It requires a bound transport and leaves the session terminal.
func (s *SubscribeSession) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.transport == nil {
		s.mu.Unlock()
		return &PreconditionError{Op: "unsubscribe", Reason: "no transport bound"}
	}
	tr := s.transport
	mediaLineID := s.mediaLineID
	s.mu.Unlock()

	if err := tr.Close(); err != nil {
		s.log.Warn("transport close failed", zap.Error(err))
	}

	if err := s.dispatcher.Request(ctx, signaling.MethodUnsubscribe, &signaling.UnsubscribeRequest{
		MediaLineID: mediaLineID,
	}, nil); err != nil {
		return &SignalingError{Method: signaling.MethodUnsubscribe, Err: err}
	}

	s.mu.Lock()
	s.transport = nil
	s.routingID = ""
	s.mediaLineID = ""
	s.terminal = true
	s.mu.Unlock()

	s.log.Info("unsubscribed", zap.String("media_line_id", mediaLineID))
	return nil
}
