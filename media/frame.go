// Package media defines the packet and format types that flow from the
// encoders through the drain goroutines into the muxer.
package media

import "fmt"

// Queue depths shared by producers and consumers. The audio queue holds one
// buffer per 100 ms slice, so five buffers absorb half a second of jitter.
const (
	AudioQueueDepth       = 5
	DefaultVideoQueueSize = 5
)

// ExternalTextureID is the external-OES texture name the camera source
// streams into.
const ExternalTextureID = 10

// PacketFlags mark the role of an encoded packet.
type PacketFlags uint8

// Packet flag bits.
const (
	FlagKeyFrame PacketFlags = 1 << iota
	FlagCodecConfig
	FlagEndOfStream
)

// Has reports whether all bits of x are set.
func (f PacketFlags) Has(x PacketFlags) bool { return f&x == x }

func (f PacketFlags) String() string {
	s := ""
	if f.Has(FlagKeyFrame) {
		s += "K"
	}
	if f.Has(FlagCodecConfig) {
		s += "C"
	}
	if f.Has(FlagEndOfStream) {
		s += "E"
	}
	if s == "" {
		return "-"
	}
	return s
}

// TrackKind identifies the elementary stream a packet belongs to.
type TrackKind int

// Track kinds.
const (
	TrackVideo TrackKind = iota
	TrackAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	}
	return fmt.Sprintf("track(%d)", int(k))
}

// Packet is one encoded unit leaving an encoder. Video payloads are Annex B
// (start-code prefixed) NAL units; audio payloads are raw AAC access units.
// Codec-config packets carry SPS+PPS for video and an AudioSpecificConfig
// for audio.
type Packet struct {
	Data  []byte
	PTS   int64 // microseconds
	Flags PacketFlags
	Track int
}

// IsKeyFrame reports whether the packet is a random access point.
func (p *Packet) IsKeyFrame() bool { return p.Flags.Has(FlagKeyFrame) }

// IsCodecConfig reports whether the packet carries decoder configuration.
func (p *Packet) IsCodecConfig() bool { return p.Flags.Has(FlagCodecConfig) }

// IsEndOfStream reports whether the packet terminates its stream.
func (p *Packet) IsEndOfStream() bool { return p.Flags.Has(FlagEndOfStream) }
