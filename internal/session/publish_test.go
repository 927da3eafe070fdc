package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rtcbridge/sfuclient/internal/capture"
	"github.com/rtcbridge/sfuclient/internal/quality"
	"github.com/rtcbridge/sfuclient/internal/signaling"
)

func testCaptureConfig() capture.Config {
	return capture.Config{
		Audio:        true,
		Video:        true,
		Preset:       quality.Default(),
		AudioBitRate: 32_000,
		VideoCodec:   "vp8",
	}
}

func newPublishFixture() (*PublishSession, *fakeTransport, *fakeDispatcher, *fakeCapturer) {
	tr := newFakeTransport()
	d := newFakeDispatcher()
	capt := &fakeCapturer{}
	s := NewPublishSession(d, capt, tr.factory(), testCaptureConfig())
	return s, tr, d, capt
}

func mustPublish(t *testing.T, s *PublishSession, routingID string) {
	t.Helper()
	if err := s.Publish(context.Background(), routingID); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestPublishAssignsMediaLine(t *testing.T) {
	s, tr, d, _ := newPublishFixture()

	mustPublish(t, s, "room1")

	if got := s.MediaLineID(); got != "m1" {
		t.Errorf("media line id = %q, want m1", got)
	}
	if got := s.RoutingID(); got != "room1" {
		t.Errorf("routing id = %q, want room1", got)
	}
	if n := d.callCount(signaling.MethodPublish); n != 1 {
		t.Errorf("publish requests = %d, want 1", n)
	}
	if len(tr.locals) != 1 || len(tr.remotes) != 1 {
		t.Errorf("descriptions installed: %d local, %d remote; want 1 each", len(tr.locals), len(tr.remotes))
	}
	if len(tr.senders) != 2 {
		t.Errorf("senders = %v, want audio and video", tr.senderKinds())
	}

	call, ok := d.lastCall(signaling.MethodPublish)
	if !ok {
		t.Fatal("no publish request recorded")
	}
	req := call.params.(*signaling.PublishRequest)
	if req.RoutingID != "room1" {
		t.Errorf("request routing id = %q", req.RoutingID)
	}
	if req.Offer == nil || req.Offer.SDP != tr.locals[0].SDP {
		t.Error("request does not carry the installed offer")
	}
	if req.Codec != "vp8" || req.Bandwidth <= 0 {
		t.Errorf("request codec/bandwidth = %q/%d", req.Codec, req.Bandwidth)
	}
}

func TestOfferSentExactlyOncePerNegotiation(t *testing.T) {
	s, tr, d, _ := newPublishFixture()
	tr.gatherFires = 5

	mustPublish(t, s, "room1")

	if n := d.callCount(signaling.MethodPublish); n != 1 {
		t.Fatalf("publish requests = %d, want exactly 1 despite %d signal firings", n, tr.gatherFires)
	}
}

func TestMuteDrivesOneRenegotiation(t *testing.T) {
	s, tr, d, _ := newPublishFixture()
	mustPublish(t, s, "room1")

	if err := s.Mute(capture.Video); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}

	if n := d.callCount(signaling.MethodPublish); n != 2 {
		t.Fatalf("publish requests = %d, want initial + one renegotiation", n)
	}
	call, _ := d.lastCall(signaling.MethodPublish)
	if req := call.params.(*signaling.PublishRequest); req.RoutingID != "room1" {
		t.Errorf("renegotiation routing id = %q, want room1", req.RoutingID)
	}
	if got := s.MediaLineID(); got != "m1" {
		t.Errorf("media line id changed to %q", got)
	}
	if kinds := tr.senderKinds(); len(kinds) != 1 || kinds[0] != capture.Audio {
		t.Errorf("senders after mute = %v, want only audio", kinds)
	}
	if _, have := s.Tracks()[capture.Video]; have {
		t.Error("video track still in collection after mute")
	}
}

func TestMuteStopsCapture(t *testing.T) {
	s, _, _, capt := newPublishFixture()
	mustPublish(t, s, "room1")

	if err := s.Mute(capture.Audio); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}

	for _, tk := range capt.captured {
		if tk.kind == capture.Audio && !tk.stopped {
			t.Error("muted audio track not stopped")
		}
	}
}

func TestMuteWithoutTrack(t *testing.T) {
	s, _, d, _ := newPublishFixture()
	mustPublish(t, s, "room1")
	if err := s.Mute(capture.Video); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}

	err := s.Mute(capture.Video)
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("second mute error = %v, want PreconditionError", err)
	}
	if n := d.callCount(signaling.MethodPublish); n != 2 {
		t.Errorf("publish requests = %d, failed mute must not renegotiate", n)
	}
}

func TestUnmuteDrivesOneRenegotiation(t *testing.T) {
	s, tr, d, _ := newPublishFixture()
	mustPublish(t, s, "room1")
	if err := s.Mute(capture.Video); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}

	if err := s.Unmute(capture.Video); err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}

	if n := d.callCount(signaling.MethodPublish); n != 3 {
		t.Fatalf("publish requests = %d, want initial + mute + unmute cycles", n)
	}
	if kinds := tr.senderKinds(); len(kinds) != 2 {
		t.Errorf("senders after unmute = %v, want audio and video", kinds)
	}
	if got := s.MediaLineID(); got != "m1" {
		t.Errorf("media line id changed to %q", got)
	}
}

func TestSwitchDeviceReplacesInPlace(t *testing.T) {
	s, tr, d, capt := newPublishFixture()
	mustPublish(t, s, "room1")
	requestsBefore := d.callCount(signaling.MethodPublish)

	if err := s.SwitchDevice(capture.Audio, "dev2"); err != nil {
		t.Fatalf("SwitchDevice failed: %v", err)
	}

	if n := d.callCount(signaling.MethodPublish); n != requestsBefore {
		t.Errorf("device switch issued %d signaling requests, want none", n-requestsBefore)
	}
	if got := s.MediaLineID(); got != "m1" {
		t.Errorf("media line id changed to %q", got)
	}
	if capt.lastCfg.AudioDeviceID != "dev2" {
		t.Errorf("capture config device = %q, want merged dev2", capt.lastCfg.AudioDeviceID)
	}

	var audioSender *fakeSender
	for _, snd := range tr.senders {
		if snd.kind == capture.Audio {
			audioSender = snd
		}
	}
	if audioSender == nil || audioSender.replaced != 1 {
		t.Fatal("audio sender track not replaced in place")
	}

	old := capt.captured[0] // first audio capture
	if old.kind != capture.Audio {
		old = capt.captured[1]
	}
	if !old.stopped {
		t.Error("previous audio track not stopped")
	}
	if got := s.Tracks()[capture.Audio]; got == nil || got.ID() == old.id {
		t.Error("track collection still holds the old audio track")
	}
}

func TestSwitchDeviceWhileMutedDefersCapture(t *testing.T) {
	s, tr, d, capt := newPublishFixture()
	mustPublish(t, s, "room1")
	if err := s.Mute(capture.Video); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}
	capturesBefore := len(capt.captured)
	requestsBefore := d.callCount(signaling.MethodPublish)

	if err := s.SwitchDevice(capture.Video, "dev2"); err != nil {
		t.Fatalf("SwitchDevice on muted kind failed: %v", err)
	}

	if len(capt.captured) != capturesBefore {
		t.Error("device switch on a muted kind opened the device")
	}
	if _, have := s.Tracks()[capture.Video]; have {
		t.Error("muted kind gained a track from a device switch")
	}
	if n := d.callCount(signaling.MethodPublish); n != requestsBefore {
		t.Errorf("device switch issued %d signaling requests, want none", n-requestsBefore)
	}

	// The merged device id must take effect on resume.
	if err := s.Unmute(capture.Video); err != nil {
		t.Fatalf("Unmute after device switch failed: %v", err)
	}
	if capt.lastCfg.VideoDeviceID != "dev2" {
		t.Errorf("resume captured from %q, want merged dev2", capt.lastCfg.VideoDeviceID)
	}
	if kinds := tr.senderKinds(); len(kinds) != 2 {
		t.Errorf("senders after resume = %v, want audio and video", kinds)
	}
}

func TestCloseStopsCapturedTracks(t *testing.T) {
	s, tr, d, capt := newPublishFixture()
	d.failWith[signaling.MethodPublish] = errors.New("room full")

	err := s.Publish(context.Background(), "room1")
	var sigErr *SignalingError
	if !errors.As(err, &sigErr) {
		t.Fatalf("error = %v, want SignalingError", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, tk := range capt.captured {
		if !tk.stopped {
			t.Errorf("%s track still running after Close", tk.kind)
		}
	}
	if !tr.closed {
		t.Error("transport not closed")
	}
	if len(s.Tracks()) != 0 {
		t.Error("track collection not cleared by Close")
	}
}

func TestUnpublishRequiresNegotiation(t *testing.T) {
	s, _, d, _ := newPublishFixture()

	err := s.Unpublish(context.Background())
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("error = %v, want PreconditionError", err)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatcher called %d times on failed precondition", len(d.calls))
	}
	if s.RoutingID() != "" || s.MediaLineID() != "" {
		t.Error("identity fields mutated by failed unpublish")
	}
}

func TestUnpublishTearsDown(t *testing.T) {
	s, tr, d, _ := newPublishFixture()
	mustPublish(t, s, "room1")

	if err := s.Unpublish(context.Background()); err != nil {
		t.Fatalf("Unpublish failed: %v", err)
	}

	if !tr.closed {
		t.Error("transport not closed")
	}
	call, ok := d.lastCall(signaling.MethodUnpublish)
	if !ok {
		t.Fatal("no unpublish request recorded")
	}
	req := call.params.(*signaling.UnpublishRequest)
	if req.RoutingID != "room1" || req.MediaLineID != "m1" {
		t.Errorf("unpublish carried %q/%q", req.RoutingID, req.MediaLineID)
	}
	if s.RoutingID() != "" || s.MediaLineID() != "" {
		t.Error("identity fields not cleared")
	}

	// terminal: the session must not be reusable
	err := s.Publish(context.Background(), "room2")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("publish after unpublish = %v, want PreconditionError", err)
	}
}

func TestPublishSignalingErrorLeavesNoMediaLine(t *testing.T) {
	s, _, d, _ := newPublishFixture()
	d.failWith[signaling.MethodPublish] = errors.New("room full")

	err := s.Publish(context.Background(), "room1")
	var sigErr *SignalingError
	if !errors.As(err, &sigErr) {
		t.Fatalf("error = %v, want SignalingError", err)
	}
	if s.MediaLineID() != "" {
		t.Error("media line id set after failed negotiation")
	}
}

func TestPublishCaptureErrorLeavesCollectionUntouched(t *testing.T) {
	s, _, d, capt := newPublishFixture()
	capt.err = errors.New("device busy")

	err := s.Publish(context.Background(), "room1")
	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("error = %v, want CaptureError", err)
	}
	if len(s.Tracks()) != 0 {
		t.Error("track collection mutated despite capture failure")
	}
	if len(d.calls) != 0 {
		t.Error("signaling reached despite capture failure")
	}
}

func TestRenegotiationFailureKeepsMediaLine(t *testing.T) {
	s, tr, d, _ := newPublishFixture()
	mustPublish(t, s, "room1")

	d.failWith[signaling.MethodPublish] = errors.New("line busy")
	if err := s.Mute(capture.Video); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}

	select {
	case err := <-s.Errors():
		var sigErr *SignalingError
		if !errors.As(err, &sigErr) {
			t.Fatalf("renegotiation error = %v, want SignalingError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("renegotiation failure not reported")
	}

	if got := s.MediaLineID(); got != "m1" {
		t.Errorf("media line torn down by failed renegotiation: %q", got)
	}
	if kinds := tr.senderKinds(); len(kinds) != 1 {
		t.Errorf("senders = %v, sender removal should stand", kinds)
	}
}
