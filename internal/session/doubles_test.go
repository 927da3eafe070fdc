package session

import (
	"context"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/rtcbridge/sfuclient/internal/capture"
	"github.com/rtcbridge/sfuclient/internal/rtc"
	"github.com/rtcbridge/sfuclient/internal/signaling"
)

// Test doubles. The fake transport emulates the collaborator behavior the
// real one exhibits: the first local description starts ICE gathering and
// fires the gathering-progress signal (as many times as configured), and
// adding or removing a sender raises negotiation-needed synchronously.
// Tests drive the session from a single goroutine, so the fakes skip
// locking on purpose.

type fakeTrack struct {
	id      string
	kind    capture.Kind
	stopped bool
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Kind() capture.Kind       { return t.kind }
func (t *fakeTrack) Stop() error              { t.stopped = true; return nil }
func (t *fakeTrack) Local() webrtc.TrackLocal { return nil }

type fakeCapturer struct {
	err      error
	seq      int
	captured []*fakeTrack
	lastCfg  capture.Config
}

func (c *fakeCapturer) Capture(kind capture.Kind, cfg capture.Config) (capture.Track, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.lastCfg = cfg
	c.seq++
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, c.seq), kind: kind}
	c.captured = append(c.captured, t)
	return t, nil
}

type fakeSender struct {
	kind     capture.Kind
	track    capture.Track
	replaced int
}

func (s *fakeSender) Kind() capture.Kind { return s.kind }

func (s *fakeSender) ReplaceTrack(track capture.Track) error {
	s.track = track
	s.replaced++
	return nil
}

type fakeRemoteTrack struct {
	id      string
	kind    capture.Kind
	unmuted chan struct{}
}

func newFakeRemoteTrack(id string, kind capture.Kind, flowing bool) *fakeRemoteTrack {
	t := &fakeRemoteTrack{id: id, kind: kind, unmuted: make(chan struct{})}
	if flowing {
		close(t.unmuted)
	}
	return t
}

func (t *fakeRemoteTrack) ID() string                    { return t.id }
func (t *fakeRemoteTrack) Kind() capture.Kind            { return t.kind }
func (t *fakeRemoteTrack) Unmuted() <-chan struct{}      { return t.unmuted }
func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) { return &rtp.Packet{}, nil }

type fakeTransport struct {
	// gatherFires is how many times the gathering-progress signal fires
	// after the first local description is installed.
	gatherFires int
	// remoteOnAnswer, when set, is delivered via OnRemoteTrack as soon as
	// the remote description is installed.
	remoteOnAnswer  *fakeRemoteTrack
	remoteStreamIDs []string

	senders    []*fakeSender
	locals     []webrtc.SessionDescription
	remotes    []webrtc.SessionDescription
	offerCount int
	lastOpts   rtc.OfferOptions
	closed     bool

	onGather    func()
	onNegotiate func()
	onRemote    func(rtc.RemoteTrack, []string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{gatherFires: 1}
}

func (t *fakeTransport) factory() rtc.Factory {
	return func() (rtc.Transport, error) { return t, nil }
}

func (t *fakeTransport) CreateOffer(opts rtc.OfferOptions) (webrtc.SessionDescription, error) {
	t.offerCount++
	t.lastOpts = opts
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", t.offerCount),
	}, nil
}

func (t *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.locals = append(t.locals, desc)
	if len(t.locals) == 1 && t.onGather != nil {
		for i := 0; i < t.gatherFires; i++ {
			t.onGather()
		}
	}
	return nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.remotes = append(t.remotes, desc)
	if len(t.remotes) == 1 && t.remoteOnAnswer != nil && t.onRemote != nil {
		t.onRemote(t.remoteOnAnswer, t.remoteStreamIDs)
	}
	return nil
}

func (t *fakeTransport) AddTrack(track capture.Track) (rtc.Sender, error) {
	s := &fakeSender{kind: track.Kind(), track: track}
	t.senders = append(t.senders, s)
	if t.onNegotiate != nil {
		t.onNegotiate()
	}
	return s, nil
}

func (t *fakeTransport) Senders() []rtc.Sender {
	out := make([]rtc.Sender, len(t.senders))
	for i, s := range t.senders {
		out[i] = s
	}
	return out
}

func (t *fakeTransport) RemoveTrack(sender rtc.Sender) error {
	for i, s := range t.senders {
		if rtc.Sender(s) == sender {
			t.senders = append(t.senders[:i], t.senders[i+1:]...)
			if t.onNegotiate != nil {
				t.onNegotiate()
			}
			return nil
		}
	}
	return fmt.Errorf("sender not found")
}

func (t *fakeTransport) senderKinds() []capture.Kind {
	var kinds []capture.Kind
	for _, s := range t.senders {
		kinds = append(kinds, s.kind)
	}
	return kinds
}

func (t *fakeTransport) OnICEGatheringProgress(fn func()) { t.onGather = fn }
func (t *fakeTransport) OnNegotiationNeeded(fn func())    { t.onNegotiate = fn }

func (t *fakeTransport) OnRemoteTrack(fn func(rtc.RemoteTrack, []string)) { t.onRemote = fn }

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

type dispatchedCall struct {
	method string
	params any
}

type fakeDispatcher struct {
	mediaLineID string
	failWith    map[string]error
	calls       []dispatchedCall
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{mediaLineID: "m1", failWith: make(map[string]error)}
}

func (d *fakeDispatcher) Request(ctx context.Context, method string, params, result any) error {
	d.calls = append(d.calls, dispatchedCall{method: method, params: params})

	if err := d.failWith[method]; err != nil {
		return err
	}

	switch method {
	case signaling.MethodPublish, signaling.MethodSubscribe:
		if reply, ok := result.(*signaling.NegotiationReply); ok {
			reply.MediaLineID = d.mediaLineID
			reply.Answer = &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}
		}
	}
	return nil
}

func (d *fakeDispatcher) callCount(method string) int {
	n := 0
	for _, c := range d.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (d *fakeDispatcher) lastCall(method string) (dispatchedCall, bool) {
	for i := len(d.calls) - 1; i >= 0; i-- {
		if d.calls[i].method == method {
			return d.calls[i], true
		}
	}
	return dispatchedCall{}, false
}
