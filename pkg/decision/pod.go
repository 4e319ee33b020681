// Package decision resolves ad requests to ad pods through a waterfall:
// VAST resolution, object-store pods, and finally the channel's slate.
package decision

import (
	"github.com/openvideo-live/splicer/pkg/vast"
)

// Pod sources reported in decisions.
const (
	SourceVAST  = "vast"
	SourceStore = "store"
	SourceSlate = "slate"
	SourceURL   = "url"
)

// Segment is one media segment of an ad rendition.
type Segment struct {
	URI         string  `json:"uri"`
	DurationSec float64 `json:"durationSec"`
}

// AdPodItem is one rendition of the pod's creative. Stored pods carry their
// segment lists inline; VAST-derived items carry a playlist URL that is
// hydrated before SSAI insertion.
type AdPodItem struct {
	AdID        string          `json:"adId"`
	BitrateBps  int64           `json:"bitrateBps"`
	IsAudioOnly bool            `json:"isAudioOnly"`
	PlaylistURL string          `json:"playlistUrl"`
	DurationSec float64         `json:"durationSec"`
	Segments    []Segment       `json:"segments,omitempty"`
	Trackers    vast.TrackerSet `json:"trackers"`
}

// AdPod is an ordered set of renditions for one ad break.
type AdPod struct {
	PodID       string      `json:"podId"`
	DurationSec float64     `json:"durationSec"`
	Items       []AdPodItem `json:"items"`
	Source      string      `json:"source,omitempty"`
}
