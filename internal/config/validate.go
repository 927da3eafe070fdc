package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rtcbridge/sfuclient/internal/quality"
)

// Bitrate hints outside this window are rejected by most SFUs.
const (
	minBitrate = 100_000   // 100 kbps
	maxBitrate = 6_000_000 // 6 Mbps
)

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// Validate delegates to per-section validators.
func Validate(cfg *Config) error {
	v := &Validator{}

	validateNetwork(v, cfg)
	validateCapture(v, cfg)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

func validateNetwork(v *Validator, cfg *Config) {
	if cfg.SignalAddr == "" {
		v.AddError("signal address is required")
	} else if _, _, err := net.SplitHostPort(cfg.SignalAddr); err != nil {
		v.AddError("signal address %q is not host:port: %v", cfg.SignalAddr, err)
	}

	for _, u := range cfg.ICEServers {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			v.AddError("ICE server %q has an unsupported scheme", u)
		}
	}
}

func validateCapture(v *Validator, cfg *Config) {
	c := cfg.Capture

	if !c.Audio && !c.Video {
		v.AddError("at least one media kind must be enabled")
	}

	if c.Video {
		if _, err := quality.Lookup(c.Preset.Name); err != nil {
			v.AddError("video preset: %v", err)
		}
		if bw := c.Bandwidth(); bw < minBitrate || bw > maxBitrate {
			v.AddError("video bandwidth hint %d outside allowed range (%d-%d)", bw, minBitrate, maxBitrate)
		}
	}

	if c.Audio && (c.AudioBitRate < 6_000 || c.AudioBitRate > 510_000) {
		v.AddError("audio bitrate %d outside Opus range", c.AudioBitRate)
	}
}
