package hls

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Playlist tags handled by the reader. Unrecognized tags are preserved as
// raw lines.
const (
	tagHeader         = "#EXTM3U"
	tagVersion        = "#EXT-X-VERSION:"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE:"
	tagDiscoSequence  = "#EXT-X-DISCONTINUITY-SEQUENCE:"
	tagPDT            = "#EXT-X-PROGRAM-DATE-TIME:"
	tagInf            = "#EXTINF:"
	tagDiscontinuity  = "#EXT-X-DISCONTINUITY"
	tagEndList        = "#EXT-X-ENDLIST"
	tagStreamInf      = "#EXT-X-STREAM-INF:"
	tagIFrameStream   = "#EXT-X-I-FRAME-STREAM-INF:"
	tagMedia          = "#EXT-X-MEDIA:"
)

// ParseMediaPlaylist parses a variant playlist. It is tolerant of unknown
// tags, which are carried through verbatim.
func ParseMediaPlaylist(text string) (*MediaPlaylist, error) {
	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != tagHeader {
		return nil, fmt.Errorf("hls: missing %s header", tagHeader)
	}

	p := &MediaPlaylist{}
	var cur Segment
	var curInf bool
	inHeader := true

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, tagVersion):
			p.Version, _ = strconv.Atoi(strings.TrimPrefix(line, tagVersion))
		case strings.HasPrefix(line, tagTargetDuration):
			p.TargetDuration, _ = strconv.Atoi(strings.TrimPrefix(line, tagTargetDuration))
		case strings.HasPrefix(line, tagMediaSequence):
			p.MediaSequence, _ = strconv.ParseInt(strings.TrimPrefix(line, tagMediaSequence), 10, 64)
		case strings.HasPrefix(line, tagDiscoSequence):
			p.DiscontinuitySequence, _ = strconv.ParseInt(strings.TrimPrefix(line, tagDiscoSequence), 10, 64)
			p.HasDiscoSequence = true
		case line == tagEndList:
			p.EndList = true
		case strings.HasPrefix(line, tagPDT):
			raw := strings.TrimPrefix(line, tagPDT)
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				tt := t.UTC()
				cur.PDT = &tt
			}
			cur.Prefix = append(cur.Prefix, line)
			inHeader = false
		case line == tagDiscontinuity:
			cur.Discontinuity = true
			inHeader = false
		case strings.HasPrefix(line, tagInf):
			cur.InfRaw = line
			dur, title := parseExtInf(line)
			cur.DurationSec = dur
			cur.Title = title
			curInf = true
			inHeader = false
		case strings.HasPrefix(line, "#"):
			if inHeader && !curInf {
				p.HeaderLines = append(p.HeaderLines, line)
			} else {
				cur.Prefix = append(cur.Prefix, line)
			}
		default:
			// Segment URI.
			cur.URI = line
			p.Segments = append(p.Segments, cur)
			cur = Segment{}
			curInf = false
			inHeader = false
		}
	}
	return p, nil
}

// ParseMasterPlaylist parses a master playlist into its variants.
func ParseMasterPlaylist(text string) (*MasterPlaylist, error) {
	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != tagHeader {
		return nil, fmt.Errorf("hls: missing %s header", tagHeader)
	}
	m := &MasterPlaylist{}
	var pending *Variant
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, tagStreamInf):
			v := variantFromAttrs(parseAttributeList(strings.TrimPrefix(line, tagStreamInf)))
			pending = &v
		case strings.HasPrefix(line, tagIFrameStream):
			attrs := parseAttributeList(strings.TrimPrefix(line, tagIFrameStream))
			v := variantFromAttrs(attrs)
			v.URI = attrs["URI"]
			m.IFrameVariants = append(m.IFrameVariants, v)
		case strings.HasPrefix(line, tagMedia):
			m.MediaLines = append(m.MediaLines, line)
		case strings.HasPrefix(line, "#"):
			// Other master tags are not needed for ad decisions.
		default:
			if pending != nil {
				pending.URI = line
				m.Variants = append(m.Variants, *pending)
				pending = nil
			}
		}
	}
	return m, nil
}

func variantFromAttrs(attrs map[string]string) Variant {
	var v Variant
	v.Bandwidth, _ = strconv.ParseInt(attrs["BANDWIDTH"], 10, 64)
	v.AvgBandwidth, _ = strconv.ParseInt(attrs["AVERAGE-BANDWIDTH"], 10, 64)
	v.Resolution = attrs["RESOLUTION"]
	v.Codecs = attrs["CODECS"]
	v.AudioGroup = attrs["AUDIO"]
	return v
}

func parseExtInf(line string) (float64, string) {
	body := strings.TrimPrefix(line, tagInf)
	durPart, title, _ := strings.Cut(body, ",")
	dur, _ := strconv.ParseFloat(strings.TrimSpace(durPart), 64)
	return dur, title
}

func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

// parseAttributeList splits an HLS attribute list into a key/value map,
// honoring quoted values.
func parseAttributeList(s string) map[string]string {
	attrs := make(map[string]string)
	var key, val strings.Builder
	inKey := true
	inQuotes := false
	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			attrs[k] = val.String()
		}
		key.Reset()
		val.Reset()
		inKey = true
	}
	for _, r := range s {
		switch {
		case inQuotes:
			if r == '"' {
				inQuotes = false
			} else {
				val.WriteRune(r)
			}
		case r == '"':
			inQuotes = true
		case inKey && r == '=':
			inKey = false
		case r == ',':
			flush()
		case inKey:
			key.WriteRune(r)
		default:
			val.WriteRune(r)
		}
	}
	flush()
	return attrs
}
