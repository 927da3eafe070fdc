// Package signaling is the RPC channel to the session-management server.
package signaling

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Methods understood by the session-management server.
const (
	MethodPublish     = "publish"
	MethodUnpublish   = "unpublish"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
)

// Dispatcher performs one request/response call against the server.
// Failures carry the server-supplied reason. No retries, no timeouts: a
// caller that wants either wraps the context or the call.
type Dispatcher interface {
	Request(ctx context.Context, method string, params, result any) error
}

// PublishRequest announces a local offer for a routing id.
type PublishRequest struct {
	RoutingID string                     `json:"routingId"`
	Offer     *webrtc.SessionDescription `json:"offer"`
	Codec     string                     `json:"codec,omitempty"`
	Bandwidth int                        `json:"bandwidth,omitempty"`
}

// NegotiationReply is the server's answer to a publish or subscribe
// request: the media-line id it assigned (or confirmed) plus its answer
// description.
type NegotiationReply struct {
	MediaLineID string                     `json:"mediaLineId"`
	Answer      *webrtc.SessionDescription `json:"answer"`
}

// UnpublishRequest tears down a published media line.
type UnpublishRequest struct {
	RoutingID   string `json:"routingId"`
	MediaLineID string `json:"mediaLineId"`
}

// SubscribeRequest asks to receive an already-published media line.
type SubscribeRequest struct {
	RoutingID   string                     `json:"routingId"`
	Offer       *webrtc.SessionDescription `json:"offer"`
	MediaLineID string                     `json:"mediaLineId"`
}

// UnsubscribeRequest stops receiving a subscribed media line.
type UnsubscribeRequest struct {
	MediaLineID string `json:"mediaLineId"`
}
