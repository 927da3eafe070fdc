// Package quality holds the static resolution presets used to build capture
// constraints and bandwidth hints. Pure configuration lookups, no behavior.
package quality

import "fmt"

// Resolution represents video dimensions
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// BitrateRange is a min/max bitrate window in Kbps
type BitrateRange struct {
	Min int
	Max int
}

// Preset ties a named resolution/framerate pair to its bitrate window
type Preset struct {
	Name         string
	Resolution   Resolution
	FrameRate    float32
	BitrateRange BitrateRange
}

// TargetBitrate returns the bitrate hint sent to the server, in bps.
// Midpoint of the range; the server may clamp further.
func (p Preset) TargetBitrate() int {
	return (p.BitrateRange.Min + p.BitrateRange.Max) / 2 * 1000
}

// Presets returns all available presets, ordered from highest to lowest
// quality. Bitrate ranges follow the usual SFU guidance:
// - 1080p @ 30fps: 3500-5000 Kbps
// - 720p @ 30fps: 2500-4000 Kbps (drop 500 Kbps for 24fps)
// - 480p and below are fallbacks for constrained networks
func Presets() []Preset {
	return []Preset{
		{
			Name:         "1080p@30",
			Resolution:   Resolution{Width: 1920, Height: 1080},
			FrameRate:    30,
			BitrateRange: BitrateRange{Min: 3500, Max: 5000},
		},
		{
			Name:         "720p@30",
			Resolution:   Resolution{Width: 1280, Height: 720},
			FrameRate:    30,
			BitrateRange: BitrateRange{Min: 2500, Max: 4000},
		},
		{
			Name:         "720p@24",
			Resolution:   Resolution{Width: 1280, Height: 720},
			FrameRate:    24,
			BitrateRange: BitrateRange{Min: 2000, Max: 3500},
		},
		{
			Name:         "480p@30",
			Resolution:   Resolution{Width: 854, Height: 480},
			FrameRate:    30,
			BitrateRange: BitrateRange{Min: 1500, Max: 2500},
		},
		{
			Name:         "360p@20",
			Resolution:   Resolution{Width: 640, Height: 360},
			FrameRate:    20,
			BitrateRange: BitrateRange{Min: 800, Max: 1500},
		},
	}
}

// Lookup finds a preset by name.
func Lookup(name string) (Preset, error) {
	for _, p := range Presets() {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown quality preset: %s", name)
}

// Default returns the preset used when the caller does not pick one.
func Default() Preset {
	p, _ := Lookup("480p@30")
	return p
}
