package capture

import "github.com/rtcbridge/sfuclient/internal/quality"

// Config is the stored capture configuration of a publish session: which
// kinds are wanted, which devices feed them, and how the media is encoded.
// Device switching merges the chosen device id back in here so a later
// unmute reuses it.
type Config struct {
	Audio bool
	Video bool

	AudioDeviceID string
	VideoDeviceID string

	// Preset drives video resolution/framerate constraints and the
	// bandwidth hint sent to the server.
	Preset quality.Preset

	AudioBitRate int    // bps
	VideoCodec   string // mime subtype, e.g. "vp8"
}

// Kinds lists the enabled media kinds.
func (c Config) Kinds() []Kind {
	var kinds []Kind
	if c.Audio {
		kinds = append(kinds, Audio)
	}
	if c.Video {
		kinds = append(kinds, Video)
	}
	return kinds
}

// Enabled reports whether the given kind is part of this configuration.
func (c Config) Enabled(kind Kind) bool {
	switch kind {
	case Audio:
		return c.Audio
	case Video:
		return c.Video
	}
	return false
}

// DeviceID returns the configured device for the kind, empty meaning
// "any device".
func (c Config) DeviceID(kind Kind) string {
	switch kind {
	case Audio:
		return c.AudioDeviceID
	case Video:
		return c.VideoDeviceID
	}
	return ""
}

// MergeDevice records deviceID as the device to capture the kind from.
func (c *Config) MergeDevice(kind Kind, deviceID string) {
	switch kind {
	case Audio:
		c.AudioDeviceID = deviceID
	case Video:
		c.VideoDeviceID = deviceID
	}
}

// Bandwidth is the bandwidth hint carried in publish requests, in bps.
func (c Config) Bandwidth() int {
	return c.Preset.TargetBitrate()
}
