package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/rtcbridge/sfuclient/internal/capture"
)

const signalLogCapacity = 64

// Config configures a peer-connection transport.
type Config struct {
	// ICEServers are STUN/TURN URLs. A public STUN server is used when empty.
	ICEServers []string
	// Codec optionally registers the capture layer's codecs with the media
	// engine, so locally captured tracks negotiate the encoders that
	// produced them.
	Codec *mediadevices.CodecSelector
}

// NewFactory returns a Factory producing peer-connection transports with
// the given config.
func NewFactory(cfg Config) Factory {
	return func() (Transport, error) {
		return NewPeerTransport(cfg)
	}
}

// PeerTransport adapts a pion PeerConnection to the Transport contract.
type PeerTransport struct {
	pc      *webrtc.PeerConnection
	log     *zap.Logger
	signals *SignalLog

	mu            sync.RWMutex
	onGathering   func()
	onNegotiation func()
	onRemoteTrack func(RemoteTrack, []string)
}

// NewPeerTransport builds a peer connection and wires its callbacks onto
// the Transport signal surface.
func NewPeerTransport(cfg Config) (*PeerTransport, error) {
	mediaEngine := webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}
	if cfg.Codec != nil {
		cfg.Codec.Populate(&mediaEngine)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(&mediaEngine))

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         []webrtc.ICEServer{{URLs: iceServers}},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &PeerTransport{
		pc:      pc,
		log:     zap.L().Named("rtc"),
		signals: NewSignalLog(signalLogCapacity),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks gathering completion, not progress
		if candidate == nil {
			return
		}
		t.signals.Record(SignalGatheringProgress, candidate.Typ.String())
		if fn := t.gatheringHandler(); fn != nil {
			fn()
		}
	})

	pc.OnNegotiationNeeded(func() {
		t.signals.Record(SignalNegotiationNeeded, "")
		if fn := t.negotiationHandler(); fn != nil {
			fn()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.signals.Record(SignalRemoteTrack, track.ID())
		t.log.Info("remote track arrived",
			zap.String("track_id", track.ID()),
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		if fn := t.remoteTrackHandler(); fn != nil {
			fn(newRemoteTrack(track), []string{track.StreamID()})
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.log.Debug("ICE connection state changed", zap.String("state", state.String()))
	})

	return t, nil
}

// Signals exposes the recent transport signal history for diagnostics.
func (t *PeerTransport) Signals() *SignalLog { return t.signals }

func (t *PeerTransport) CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error) {
	if opts.ReceiveAudio {
		if _, err := t.pc.AddTransceiverFromKind(
			webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
		); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}
	if opts.ReceiveVideo {
		if _, err := t.pc.AddTransceiverFromKind(
			webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
		); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return offer, nil
}

func (t *PeerTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *PeerTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *PeerTransport) AddTrack(track capture.Track) (Sender, error) {
	local := track.Local()
	if local == nil {
		return nil, fmt.Errorf("track %s has no negotiable form", track.ID())
	}

	rtpSender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("failed to add track %s: %w", track.ID(), err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := rtpSender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	return &peerSender{kind: track.Kind(), sender: rtpSender}, nil
}

func (t *PeerTransport) Senders() []Sender {
	var senders []Sender
	for _, s := range t.pc.GetSenders() {
		track := s.Track()
		if track == nil {
			continue
		}
		senders = append(senders, &peerSender{kind: capture.KindOf(track.Kind()), sender: s})
	}
	return senders
}

func (t *PeerTransport) RemoveTrack(sender Sender) error {
	ps, ok := sender.(*peerSender)
	if !ok {
		return fmt.Errorf("sender does not belong to this transport")
	}
	return t.pc.RemoveTrack(ps.sender)
}

func (t *PeerTransport) OnICEGatheringProgress(fn func()) {
	t.mu.Lock()
	t.onGathering = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnNegotiationNeeded(fn func()) {
	t.mu.Lock()
	t.onNegotiation = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnRemoteTrack(fn func(RemoteTrack, []string)) {
	t.mu.Lock()
	t.onRemoteTrack = fn
	t.mu.Unlock()
}

func (t *PeerTransport) Close() error {
	return t.pc.Close()
}

func (t *PeerTransport) gatheringHandler() func() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onGathering
}

func (t *PeerTransport) negotiationHandler() func() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onNegotiation
}

func (t *PeerTransport) remoteTrackHandler() func(RemoteTrack, []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onRemoteTrack
}

type peerSender struct {
	kind   capture.Kind
	sender *webrtc.RTPSender
}

func (s *peerSender) Kind() capture.Kind { return s.kind }

func (s *peerSender) ReplaceTrack(track capture.Track) error {
	local := track.Local()
	if local == nil {
		return fmt.Errorf("track %s has no negotiable form", track.ID())
	}
	return s.sender.ReplaceTrack(local)
}

// remoteTrack watches an inbound pion track and reports "unmuted" once the
// first RTP packet is read, i.e. once media actually flows.
type remoteTrack struct {
	track   *webrtc.TrackRemote
	unmuted chan struct{}

	mu      sync.Mutex
	pending *rtp.Packet // first packet, buffered for the consumer
}

func newRemoteTrack(track *webrtc.TrackRemote) *remoteTrack {
	r := &remoteTrack{
		track:   track,
		unmuted: make(chan struct{}),
	}
	go r.watch()
	return r
}

func (r *remoteTrack) watch() {
	pkt, _, err := r.track.ReadRTP()
	if err != nil {
		return
	}
	r.mu.Lock()
	r.pending = pkt
	r.mu.Unlock()
	close(r.unmuted)
}

func (r *remoteTrack) ID() string               { return r.track.ID() }
func (r *remoteTrack) Kind() capture.Kind       { return capture.KindOf(r.track.Kind()) }
func (r *remoteTrack) Unmuted() <-chan struct{} { return r.unmuted }

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	r.mu.Lock()
	if p := r.pending; p != nil {
		r.pending = nil
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}
