package hls

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

// Defaults for the resume-PDT search window. The search is bounded by
// cumulative EXTINF seconds (break duration + grace) with a hard line cap.
const (
	DefaultPDTGraceSec = 4.0
	DefaultPDTMaxLines = 30
)

// maxPadSegments caps slate padding of a short pod.
const maxPadSegments = 32

const classSCTE35Out = "com.apple.hls.scte35.out"

// AdSegment is one segment of the ad rendition selected for insertion.
type AdSegment struct {
	URI         string
	DurationSec float64
}

// RewriteRequest parameterizes a rewrite of one origin variant playlist.
type RewriteRequest struct {
	StartPDT            time.Time
	ContractDurationSec float64
	AdSegments          []AdSegment

	// PersistedSkip is the skip count fixed by the first successful SSAI
	// rewrite of this break. When set it is reused verbatim so concurrent
	// viewers and quality switchers stay aligned.
	PersistedSkip *int

	// PadSegments extend a pod that runs more than a second short of the
	// contract duration. They cycle until the gap closes.
	PadSegments []AdSegment

	// SCTE35CueOut carries the synthesized splice_info_section of an
	// operator or schedule break, announced as an SCTE-35 DATERANGE at the
	// splice point so downstream consumers see the cue that opened it.
	SCTE35CueOut []byte

	// SGAI fields.
	InterstitialID       string
	AssetURI             string
	AnnouncedDurationSec float64 // floor for DATERANGE DURATION within a break
	PlayoutRestrictions  string  // X-RESTRICT attribute value, optional

	PDTGraceSec float64
	PDTMaxLines int
}

// RewriteResult reports the outcome of a rewrite. PassThrough means the
// origin manifest is returned unmodified; Diagnostics explain why.
type RewriteResult struct {
	Manifest           string
	PassThrough        bool
	Skipped            int
	SkippedDurationSec float64
	AdDurationSec      float64
	Diagnostics        []string
}

func passThrough(originText string, diags ...string) RewriteResult {
	return RewriteResult{Manifest: originText, PassThrough: true, Diagnostics: diags}
}

// BuildPDTIndex computes the effective program date time of every segment:
// explicit tags where present, otherwise the previous anchor advanced by the
// intervening EXTINF durations. Segments before the first anchor have no
// effective PDT.
func BuildPDTIndex(p *MediaPlaylist) []*time.Time {
	idx := make([]*time.Time, len(p.Segments))
	var cursor *time.Time
	for i := range p.Segments {
		seg := &p.Segments[i]
		if seg.PDT != nil {
			t := *seg.PDT
			cursor = &t
		}
		if cursor != nil {
			t := *cursor
			idx[i] = &t
			next := cursor.Add(time.Duration(seg.DurationSec * float64(time.Second)))
			cursor = &next
		}
	}
	return idx
}

// PDTCache memoizes PDT indexes by manifest hash for the duration of one
// viewer request. It must be discarded afterwards.
type PDTCache struct {
	entries map[uint64][]*time.Time
}

func NewPDTCache() *PDTCache {
	return &PDTCache{entries: make(map[uint64][]*time.Time)}
}

func (c *PDTCache) Index(manifestText string, p *MediaPlaylist) []*time.Time {
	h := fnv.New64a()
	_, _ = h.Write([]byte(manifestText))
	key := h.Sum64()
	if idx, ok := c.entries[key]; ok {
		return idx
	}
	idx := BuildPDTIndex(p)
	c.entries[key] = idx
	return idx
}

func adDuration(segs []AdSegment) float64 {
	var sum float64
	for _, s := range segs {
		sum += s.DurationSec
	}
	return sum
}

// RewriteSSAI replaces origin content segments with ad segments at the splice
// point. Every failure is recoverable and yields a pass-through result with
// diagnostics; fabricated playlists are never returned.
func RewriteSSAI(origin *MediaPlaylist, originText string, pdtIndex []*time.Time, req RewriteRequest) RewriteResult {
	if len(req.AdSegments) == 0 {
		return passThrough(originText, "no ad segments to insert")
	}
	spliceIdx := findSpliceIndex(pdtIndex, req.StartPDT)
	if spliceIdx < 0 {
		return passThrough(originText, "no PDT anchor covering splice point")
	}

	var diags []string
	adSegs := req.AdSegments
	actualAdSec := adDuration(adSegs)
	if req.ContractDurationSec-actualAdSec > 1.0 && len(req.PadSegments) > 0 {
		padded := make([]AdSegment, len(adSegs), len(adSegs)+maxPadSegments)
		copy(padded, adSegs)
		for i := 0; req.ContractDurationSec-actualAdSec > 1.0 && i < maxPadSegments; i++ {
			pad := req.PadSegments[i%len(req.PadSegments)]
			if pad.DurationSec <= 0 {
				break
			}
			padded = append(padded, pad)
			actualAdSec += pad.DurationSec
		}
		diags = append(diags, fmt.Sprintf("padded pod with %d slate segments to %.3fs",
			len(padded)-len(adSegs), actualAdSec))
		adSegs = padded
	}
	if diff := math.Abs(actualAdSec - req.ContractDurationSec); diff > 1.0 {
		// The actual pod duration governs the skip, not the cue's contract.
		diags = append(diags, fmt.Sprintf("ad pod duration %.3fs deviates from cue duration %.3fs",
			actualAdSec, req.ContractDurationSec))
	}

	var skip int
	if req.PersistedSkip != nil {
		skip = *req.PersistedSkip
	} else {
		avg := sampleAvgDuration(origin.Segments, spliceIdx)
		if avg <= 0 {
			return passThrough(originText, "cannot derive average segment duration")
		}
		skip = int(math.Ceil(actualAdSec/avg - 1e-9))
		if skip < 1 {
			skip = 1
		}
	}
	if spliceIdx+skip > len(origin.Segments) {
		skip = len(origin.Segments) - spliceIdx
	}
	target := spliceIdx + skip

	var skippedSec float64
	for _, seg := range origin.Segments[spliceIdx:target] {
		skippedSec += seg.DurationSec
	}

	// The resume PDT must be a real origin tag; fabricating one corrupts
	// player timelines.
	if target < len(origin.Segments) {
		if _, ok := findResumePDT(origin.Segments, target, actualAdSec, req); !ok {
			return passThrough(originText, "no resume PDT within search window")
		}
	}

	// The disco sequence advances by exactly the number of DISCONTINUITY
	// tags inserted: one for the ad block, one more only when origin
	// content resumes after it.
	discoInserted := int64(1)
	if target < len(origin.Segments) {
		discoInserted = 2
	}

	out := &MediaPlaylist{
		Version:               origin.Version,
		TargetDuration:        origin.TargetDuration,
		MediaSequence:         origin.MediaSequence,
		DiscontinuitySequence: origin.DiscontinuitySequence + discoInserted,
		HasDiscoSequence:      true,
		EndList:               origin.EndList,
		HeaderLines:           origin.HeaderLines,
	}
	for _, ad := range adSegs {
		if d := int(math.Ceil(ad.DurationSec)); d > out.TargetDuration {
			out.TargetDuration = d
		}
	}

	out.Segments = append(out.Segments, origin.Segments[:spliceIdx]...)
	for i, ad := range adSegs {
		seg := Segment{
			URI:           ad.URI,
			DurationSec:   ad.DurationSec,
			Discontinuity: i == 0,
		}
		if i == 0 {
			if line := spliceSectionLine(req); line != "" {
				seg.Prefix = []string{line}
			}
		}
		out.Segments = append(out.Segments, seg)
	}
	if target < len(origin.Segments) {
		tail := make([]Segment, len(origin.Segments)-target)
		copy(tail, origin.Segments[target:])
		tail[0].Discontinuity = true
		// A key rotation inside the skipped range must not be lost or
		// decryption fails from the resume point on.
		if key := lastKeyLine(origin.Segments[spliceIdx:target]); key != "" && !hasKeyLine(tail[0].Prefix) {
			prependPrefix(&tail[0], key)
		}
		out.Segments = append(out.Segments, tail...)
	}

	return RewriteResult{
		Manifest:           out.Serialize(),
		Skipped:            skip,
		SkippedDurationSec: skippedSec,
		AdDurationSec:      actualAdSec,
		Diagnostics:        diags,
	}
}

// RewriteSGAI leaves all origin segments intact and injects one HLS
// interstitial DATERANGE plus a companion CUE-OUT/IN pair.
func RewriteSGAI(origin *MediaPlaylist, originText string, pdtIndex []*time.Time, req RewriteRequest) RewriteResult {
	if req.AssetURI == "" {
		return passThrough(originText, "no interstitial asset URI")
	}
	actualAdSec := adDuration(req.AdSegments)
	if actualAdSec == 0 {
		actualAdSec = req.ContractDurationSec
	}
	announcedSec := actualAdSec
	if req.AnnouncedDurationSec > announcedSec {
		announcedSec = req.AnnouncedDurationSec
	}

	spliceIdx := findSpliceIndex(pdtIndex, req.StartPDT)
	if spliceIdx < 0 {
		spliceIdx = 0
	}
	endPDT := req.StartPDT.Add(time.Duration(announcedSec * float64(time.Second)))
	endIdx := findSpliceIndex(pdtIndex, endPDT)

	dateRange := fmt.Sprintf(
		"#EXT-X-DATERANGE:ID=%q,CLASS=%q,START-DATE=%q,DURATION=%s,X-ASSET-URI=%q",
		req.InterstitialID, "com.apple.hls.interstitial",
		FormatPDT(req.StartPDT), FormatDateRangeDuration(announcedSec), req.AssetURI)
	if req.PlayoutRestrictions != "" {
		dateRange += fmt.Sprintf(",X-RESTRICT=%q", req.PlayoutRestrictions)
	}
	cueOut := fmt.Sprintf("#EXT-X-CUE-OUT:%s", FormatDateRangeDuration(announcedSec))

	out := *origin
	out.Segments = make([]Segment, len(origin.Segments))
	copy(out.Segments, origin.Segments)

	spliceLines := []string{dateRange, cueOut}
	if line := spliceSectionLine(req); line != "" {
		spliceLines = append([]string{line}, spliceLines...)
	}
	prependPrefix(&out.Segments[spliceIdx], spliceLines...)
	if endIdx >= 0 && endIdx < len(out.Segments) {
		prependPrefix(&out.Segments[endIdx], "#EXT-X-CUE-IN")
	} else if len(out.Segments) > 0 {
		// Break extends past the window; close the cue on the last segment so
		// downstream tooling sees a balanced pair.
		prependPrefix(&out.Segments[len(out.Segments)-1], "#EXT-X-CUE-IN")
	}

	return RewriteResult{
		Manifest:      out.Serialize(),
		AdDurationSec: actualAdSec,
	}
}

// spliceSectionLine renders the break's synthesized splice_info_section as
// an SCTE-35 OUT daterange. Origin-signaled breaks carry their own tag and
// leave SCTE35CueOut empty.
func spliceSectionLine(req RewriteRequest) string {
	if len(req.SCTE35CueOut) == 0 {
		return ""
	}
	return fmt.Sprintf("#EXT-X-DATERANGE:ID=%q,CLASS=%q,START-DATE=%q,PLANNED-DURATION=%s,SCTE35-OUT=0x%X",
		req.InterstitialID, classSCTE35Out, FormatPDT(req.StartPDT),
		FormatDateRangeDuration(req.ContractDurationSec), req.SCTE35CueOut)
}

func lastKeyLine(segs []Segment) string {
	var key string
	for _, seg := range segs {
		for _, line := range seg.Prefix {
			if strings.HasPrefix(line, "#EXT-X-KEY:") {
				key = line
			}
		}
	}
	return key
}

func hasKeyLine(prefix []string) bool {
	for _, line := range prefix {
		if strings.HasPrefix(line, "#EXT-X-KEY:") {
			return true
		}
	}
	return false
}

func prependPrefix(seg *Segment, lines ...string) {
	prefix := make([]string, 0, len(lines)+len(seg.Prefix))
	prefix = append(prefix, lines...)
	prefix = append(prefix, seg.Prefix...)
	seg.Prefix = prefix
}

// findSpliceIndex returns the first segment whose effective PDT is at or
// after t, or -1 when no anchored segment qualifies.
func findSpliceIndex(pdtIndex []*time.Time, t time.Time) int {
	for i, pdt := range pdtIndex {
		if pdt != nil && !pdt.Before(t) {
			return i
		}
	}
	return -1
}

// sampleAvgDuration averages segment durations around the splice point
// rather than the head of the playlist, avoiding VBR bias.
func sampleAvgDuration(segs []Segment, spliceIdx int) float64 {
	lo := spliceIdx - 5
	if lo < 0 {
		lo = 0
	}
	hi := spliceIdx + 5
	if hi > len(segs) {
		hi = len(segs)
	}
	if hi <= lo {
		return 0
	}
	var sum float64
	for _, s := range segs[lo:hi] {
		sum += s.DurationSec
	}
	return sum / float64(hi-lo)
}

// findResumePDT searches forward from the skip target for the next explicit
// PDT tag, bounded by cumulative EXTINF seconds and a hard line cap.
func findResumePDT(segs []Segment, target int, adSec float64, req RewriteRequest) (int, bool) {
	grace := req.PDTGraceSec
	if grace == 0 {
		grace = DefaultPDTGraceSec
	}
	maxLines := req.PDTMaxLines
	if maxLines == 0 {
		maxLines = DefaultPDTMaxLines
	}
	budget := adSec + grace
	var elapsed float64
	for j := target; j < len(segs) && j-target < maxLines; j++ {
		if segs[j].PDT != nil {
			return j, true
		}
		elapsed += segs[j].DurationSec
		if elapsed > budget {
			break
		}
	}
	return 0, false
}
