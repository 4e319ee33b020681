// Package hls implements parsing, serialization, and ad-insertion rewriting
// of HLS playlists per RFC 8216. Playlists are represented as an indexed
// segment list with side tables for program-date-time and discontinuities;
// rewriters never mutate the parsed origin.
package hls

import (
	"strings"
	"time"
)

// Segment is one media segment of a media playlist.
type Segment struct {
	URI         string
	DurationSec float64
	Title       string

	// Discontinuity marks an EXT-X-DISCONTINUITY immediately before this
	// segment.
	Discontinuity bool

	// PDT is the parsed EXT-X-PROGRAM-DATE-TIME for this segment, if the tag
	// was explicitly present.
	PDT *time.Time

	// InfRaw holds the original EXTINF line so origin segments re-serialize
	// verbatim. Empty for synthesized (ad) segments.
	InfRaw string

	// Prefix holds raw tag lines (PDT, DATERANGE, KEY, ...) preceding the
	// segment, emitted verbatim in order.
	Prefix []string
}

// MediaPlaylist is a parsed variant (media) playlist.
type MediaPlaylist struct {
	Version               int
	TargetDuration        int
	MediaSequence         int64
	DiscontinuitySequence int64
	HasDiscoSequence      bool
	EndList               bool
	Segments              []Segment

	// HeaderLines are raw header tags not modeled above (e.g.
	// EXT-X-INDEPENDENT-SEGMENTS), emitted verbatim after the known header
	// tags.
	HeaderLines []string
}

// Variant is one EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URI          string
	Bandwidth    int64
	AvgBandwidth int64
	Resolution   string
	Codecs       string
	AudioGroup   string
}

// IsVideo reports whether the variant carries video: it has a RESOLUTION
// attribute or a known video codec.
func (v *Variant) IsVideo() bool {
	if v.Resolution != "" {
		return true
	}
	codecs := strings.ToLower(v.Codecs)
	for _, marker := range []string{"avc", "hvc", "hev", "vp"} {
		if strings.Contains(codecs, marker) {
			return true
		}
	}
	return false
}

// MasterPlaylist is a parsed master (multivariant) playlist.
type MasterPlaylist struct {
	Variants       []Variant
	IFrameVariants []Variant
	MediaLines     []string // EXT-X-MEDIA lines, verbatim
}

// IsMasterPlaylist reports whether the manifest text is a master playlist.
func IsMasterPlaylist(text string) bool {
	return strings.Contains(text, "#EXT-X-STREAM-INF:")
}
