// Package rtc wraps the peer-connection transport used by media sessions.
// Transport only defines the subset of peer-connection behavior sessions
// need, which also keeps it mockable in tests.
package rtc

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/rtcbridge/sfuclient/internal/capture"
)

// OfferOptions selects what the transport should be prepared to receive.
// Publish transports receive nothing; subscribe transports receive both
// kinds.
type OfferOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

// Sender is the sending side of one negotiated track.
type Sender interface {
	Kind() capture.Kind
	// ReplaceTrack swaps the outgoing track in place, without renegotiation.
	ReplaceTrack(track capture.Track) error
}

// RemoteTrack is an inbound track. Unmuted is closed once media is actually
// flowing, which is a later condition than "negotiated".
type RemoteTrack interface {
	ID() string
	Kind() capture.Kind
	Unmuted() <-chan struct{}
	ReadRTP() (*rtp.Packet, error)
}

// Transport is one network transport bound to a single session. Signal
// handlers must be registered before the call that triggers them; handlers
// may be invoked from the transport's own goroutines.
type Transport interface {
	CreateOffer(opts OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error

	AddTrack(track capture.Track) (Sender, error)
	Senders() []Sender
	RemoveTrack(sender Sender) error

	// OnICEGatheringProgress fires each time a network candidate is
	// discovered. Sessions use the first firing as the "description is
	// complete enough to send" signal.
	OnICEGatheringProgress(fn func())
	// OnNegotiationNeeded fires when the track topology changed and a fresh
	// offer/answer exchange is required.
	OnNegotiationNeeded(fn func())
	// OnRemoteTrack fires when an inbound track arrives.
	OnRemoteTrack(fn func(track RemoteTrack, streamIDs []string))

	Close() error
}

// Factory binds a fresh Transport for one negotiation. A session never
// reuses a transport across negotiations.
type Factory func() (Transport, error)
