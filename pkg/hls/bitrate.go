package hls

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// minReportedVideoBps filters noise renditions (trick play, thumbnails)
	// out of ladder reporting.
	minReportedVideoBps = 200_000

	// audioOnlyMaxBps is the bitrate at or below which a variant without
	// video markers is treated as audio-only.
	audioOnlyMaxBps = 256_000
)

// VideoBitrates reports the bitrate ladder of the master's video variants in
// ascending order. Audio-only variants and sub-200 kbps renditions are
// excluded from reporting but stay available for ad matching.
func (m *MasterPlaylist) VideoBitrates() []int64 {
	var out []int64
	for i := range m.Variants {
		v := &m.Variants[i]
		if !v.IsVideo() || v.Bandwidth < minReportedVideoBps {
			continue
		}
		out = append(out, v.Bandwidth)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AudioOnlyVariants returns the variants without video, preserved for
// audio-only viewer paths.
func (m *MasterPlaylist) AudioOnlyVariants() []Variant {
	var out []Variant
	for i := range m.Variants {
		if !m.Variants[i].IsVideo() {
			out = append(out, m.Variants[i])
		}
	}
	return out
}

var (
	videoBpsRe   = regexp.MustCompile(`(?:^|[-_=/])video=(\d+)`)
	genericBpsRe = regexp.MustCompile(`=(\d{5,9})(?:\.m3u8|$|[-_.])`)
	audioMarkRe  = regexp.MustCompile(`(?i)(?:^|[-_/])audio`)
)

// ViewerProfile describes what could be inferred about the requesting
// viewer's variant.
type ViewerProfile struct {
	BitrateBps int64
	AudioOnly  bool
}

// InferViewerProfile extracts the viewer's current bitrate and stream type
// from the requested variant URI and query parameters. An explicit
// ?bitrate= override wins over URI components.
func InferViewerProfile(variantPath string, query url.Values) ViewerProfile {
	var p ViewerProfile

	if raw := query.Get("bitrate"); raw != "" {
		if bps, err := strconv.ParseInt(raw, 10, 64); err == nil && bps > 0 {
			p.BitrateBps = bps
		}
	}
	if p.BitrateBps == 0 {
		if m := videoBpsRe.FindStringSubmatch(variantPath); m != nil {
			p.BitrateBps, _ = strconv.ParseInt(m[1], 10, 64)
		} else if m := genericBpsRe.FindStringSubmatch(variantPath); m != nil {
			p.BitrateBps, _ = strconv.ParseInt(m[1], 10, 64)
		}
	}

	hasAudioMarker := audioMarkRe.MatchString(variantPath)
	hasVideoMarker := strings.Contains(variantPath, "video=") ||
		strings.Contains(strings.ToLower(variantPath), "avc") ||
		strings.Contains(strings.ToLower(variantPath), "hvc")
	if hasAudioMarker && !hasVideoMarker {
		p.AudioOnly = true
	} else if p.BitrateBps > 0 && p.BitrateBps <= audioOnlyMaxBps && !hasVideoMarker {
		p.AudioOnly = true
	}
	return p
}
