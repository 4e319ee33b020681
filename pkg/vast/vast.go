// Package vast parses VAST 3.0/4.x ad responses and resolves wrapper chains
// into inline ads with merged tracking URLs.
package vast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MIME types recognized for media file selection.
const (
	MIMEAppleHLS = "application/vnd.apple.mpegurl"
	MIMEMP4      = "video/mp4"
)

// MediaFile is one rendition of a creative.
type MediaFile struct {
	URL        string
	MIMEType   string
	BitrateBps int64
	Width      int
	Height     int
	Codec      string
	Delivery   string
}

// IsAudioOnly reports whether the media file carries no video. VAST has no
// dedicated flag, so zero dimensions plus an audio codec or MIME is the
// signal.
func (m MediaFile) IsAudioOnly() bool {
	if m.Width > 0 || m.Height > 0 {
		return false
	}
	if strings.HasPrefix(m.MIMEType, "audio/") {
		return true
	}
	codec := strings.ToLower(m.Codec)
	return strings.Contains(codec, "mp4a") || strings.Contains(codec, "aac") ||
		strings.Contains(codec, "ac-3") || strings.Contains(codec, "opus")
}

// TrackerSet holds the event URLs collected from one ad, including every
// wrapper on the path to its inline creative.
type TrackerSet struct {
	Impression    []string
	Start         []string
	FirstQuartile []string
	Midpoint      []string
	ThirdQuartile []string
	Complete      []string
	ClickTracking []string
	Error         []string
}

// Merge appends all of other's URLs.
func (t *TrackerSet) Merge(other TrackerSet) {
	t.Impression = append(t.Impression, other.Impression...)
	t.Start = append(t.Start, other.Start...)
	t.FirstQuartile = append(t.FirstQuartile, other.FirstQuartile...)
	t.Midpoint = append(t.Midpoint, other.Midpoint...)
	t.ThirdQuartile = append(t.ThirdQuartile, other.ThirdQuartile...)
	t.Complete = append(t.Complete, other.Complete...)
	t.ClickTracking = append(t.ClickTracking, other.ClickTracking...)
	t.Error = append(t.Error, other.Error...)
}

// ForEvent returns the URLs for a named tracking event.
func (t *TrackerSet) ForEvent(event string) []string {
	switch event {
	case "impression", "imp":
		return t.Impression
	case "start":
		return t.Start
	case "firstQuartile":
		return t.FirstQuartile
	case "midpoint":
		return t.Midpoint
	case "thirdQuartile":
		return t.ThirdQuartile
	case "complete":
		return t.Complete
	case "clickTracking", "click":
		return t.ClickTracking
	case "error":
		return t.Error
	}
	return nil
}

// Ad is a fully resolved inline ad.
type Ad struct {
	ID         string
	Title      string
	Duration   time.Duration
	Sequence   int
	MediaFiles []MediaFile
	Trackers   TrackerSet

	// Tier is a seller-defined priority carried in an extension element.
	// Zero means unrestricted.
	Tier uint32
}

// wrapper is the intermediate form of a VAST Wrapper ad.
type wrapper struct {
	AdTagURI string
	Trackers TrackerSet
	Tier     uint32
}

// response is one parsed VAST document.
type response struct {
	Version  string
	Inline   []Ad
	Wrappers []wrapper
}

// parseVASTDuration parses HH:MM:SS or HH:MM:SS.mmm.
func parseVASTDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("vast: bad duration %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("vast: bad duration %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("vast: bad duration %q", s)
	}
	secPart := parts[2]
	var ms int
	if sec, msPart, ok := strings.Cut(secPart, "."); ok {
		secPart = sec
		for len(msPart) < 3 {
			msPart += "0"
		}
		ms, err = strconv.Atoi(msPart[:3])
		if err != nil {
			return 0, fmt.Errorf("vast: bad duration %q", s)
		}
	}
	sec, err := strconv.Atoi(secPart)
	if err != nil {
		return 0, fmt.Errorf("vast: bad duration %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(ms)*time.Millisecond, nil
}
