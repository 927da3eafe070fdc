// Package session is the media-session orchestration core: publish and
// subscribe lifecycles around a Transport and a signaling Dispatcher.
package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rtcbridge/sfuclient/internal/rtc"
	"github.com/rtcbridge/sfuclient/internal/signaling"
)

// MediaSession carries the identity and lifecycle state shared by publish
// and subscribe sessions. mediaLineID is set exactly while a negotiation
// with the server is live: assigned on success, cleared on teardown.
type MediaSession struct {
	id         string
	dispatcher signaling.Dispatcher
	log        *zap.Logger

	mu          *sync.Mutex
	routingID   string
	mediaLineID string
	transport   rtc.Transport
	terminal    bool
}

func newMediaSession(component string, d signaling.Dispatcher) MediaSession {
	id := uuid.NewString()
	return MediaSession{
		id:         id,
		dispatcher: d,
		log:        zap.L().Named(component).With(zap.String("session_id", id)),
		mu:         &sync.Mutex{},
	}
}

// ID is the local identifier of this session object, for logs only.
func (s *MediaSession) ID() string { return s.id }

// RoutingID returns the logical room/line this session targets, empty when
// unset or torn down.
func (s *MediaSession) RoutingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routingID
}

// MediaLineID returns the server-correlated media line id, empty when no
// negotiation is live.
func (s *MediaSession) MediaLineID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaLineID
}

// Close abandons the session without signaling: it closes a bound transport
// and marks the session terminal. Used to clean up after a failed
// negotiation, where unpublish/unsubscribe would fail their preconditions.
func (s *MediaSession) Close() error {
	s.mu.Lock()
	tr := s.transport
	s.transport = nil
	s.routingID = ""
	s.mediaLineID = ""
	s.terminal = true
	s.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}
