// Package config holds client configuration and its validation.
package config

import (
	"github.com/rtcbridge/sfuclient/internal/capture"
	"github.com/rtcbridge/sfuclient/internal/quality"
)

// Config holds all client configuration
type Config struct {
	// SignalAddr is the host:port of the signaling server.
	SignalAddr string
	// RoutingID identifies the logical room/line on the server.
	RoutingID string
	// ICEServers are STUN/TURN URLs handed to the transport.
	ICEServers []string
	// Capture is the initial capture configuration for publish sessions.
	Capture capture.Config
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		SignalAddr: "localhost:7000",
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Capture: capture.Config{
			Audio:        true,
			Video:        true,
			Preset:       quality.Default(),
			AudioBitRate: 32_000,
			VideoCodec:   "vp8",
		},
	}
}
