package hls

import (
	"fmt"
	"strings"
	"time"
)

// Serialize renders a media playlist with LF line endings. Origin segments
// keep their original EXTINF and prefix lines; synthesized segments are
// formatted with millisecond precision.
func (p *MediaPlaylist) Serialize() string {
	var b strings.Builder
	b.WriteString(tagHeader + "\n")
	if p.Version > 0 {
		fmt.Fprintf(&b, "%s%d\n", tagVersion, p.Version)
	}
	if p.TargetDuration > 0 {
		fmt.Fprintf(&b, "%s%d\n", tagTargetDuration, p.TargetDuration)
	}
	fmt.Fprintf(&b, "%s%d\n", tagMediaSequence, p.MediaSequence)
	if p.HasDiscoSequence || p.DiscontinuitySequence > 0 {
		fmt.Fprintf(&b, "%s%d\n", tagDiscoSequence, p.DiscontinuitySequence)
	}
	for _, line := range p.HeaderLines {
		b.WriteString(line + "\n")
	}
	for i := range p.Segments {
		seg := &p.Segments[i]
		if seg.Discontinuity {
			b.WriteString(tagDiscontinuity + "\n")
		}
		for _, line := range seg.Prefix {
			b.WriteString(line + "\n")
		}
		if seg.InfRaw != "" {
			b.WriteString(seg.InfRaw + "\n")
		} else {
			fmt.Fprintf(&b, "%s%.3f,%s\n", tagInf, seg.DurationSec, seg.Title)
		}
		b.WriteString(seg.URI + "\n")
	}
	if p.EndList {
		b.WriteString(tagEndList + "\n")
	}
	return b.String()
}

// FormatPDT renders a time as an EXT-X-PROGRAM-DATE-TIME value with
// millisecond precision in UTC.
func FormatPDT(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// FormatDateRangeDuration renders a DURATION attribute value rounded to
// milliseconds.
func FormatDateRangeDuration(sec float64) string {
	return fmt.Sprintf("%.3f", sec)
}
