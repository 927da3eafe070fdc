package capture

import "github.com/pion/webrtc/v4"

// Kind identifies a media kind. At most one active track per kind exists in
// a publish session at any time.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

func (k Kind) String() string { return string(k) }

// RTPCodecType maps the kind onto pion's codec type.
func (k Kind) RTPCodecType() webrtc.RTPCodecType {
	switch k {
	case Audio:
		return webrtc.RTPCodecTypeAudio
	case Video:
		return webrtc.RTPCodecTypeVideo
	default:
		return webrtc.RTPCodecType(0)
	}
}

// KindOf is the inverse of RTPCodecType.
func KindOf(t webrtc.RTPCodecType) Kind {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return Audio
	case webrtc.RTPCodecTypeVideo:
		return Video
	default:
		return ""
	}
}
