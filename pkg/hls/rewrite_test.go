package hls

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveOrigin builds a ten-segment live playlist, 2.0s per segment, with
// explicit PDT anchors on the segment indexes given.
func liveOrigin(t *testing.T, anchors ...int) (string, *MediaPlaylist) {
	t.Helper()
	base := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
	anchorSet := make(map[int]bool, len(anchors))
	for _, a := range anchors {
		anchorSet[a] = true
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:100\n")
	for i := 0; i < 10; i++ {
		if anchorSet[i] {
			fmt.Fprintf(&b, "#EXT-X-PROGRAM-DATE-TIME:%s\n", FormatPDT(base.Add(time.Duration(i)*2*time.Second)))
		}
		fmt.Fprintf(&b, "#EXTINF:2.000,\ns%d.ts\n", i)
	}
	text := b.String()
	p, err := ParseMediaPlaylist(text)
	require.NoError(t, err)
	return text, p
}

func threeAdSegments() []AdSegment {
	return []AdSegment{
		{URI: "https://ads.example.com/pod1/a0.ts", DurationSec: 2.0},
		{URI: "https://ads.example.com/pod1/a1.ts", DurationSec: 2.0},
		{URI: "https://ads.example.com/pod1/a2.ts", DurationSec: 2.0},
	}
}

func TestRewriteSSAIHappyPath(t *testing.T) {
	text, origin := liveOrigin(t, 0, 6)
	idx := BuildPDTIndex(origin)

	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
	})
	require.False(t, res.PassThrough, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, 3, res.Skipped)
	assert.InDelta(t, 6.0, res.SkippedDurationSec, 0.001)
	assert.InDelta(t, 6.0, res.AdDurationSec, 0.001)

	out, err := ParseMediaPlaylist(res.Manifest)
	require.NoError(t, err)
	require.Len(t, out.Segments, 10)

	// s0..s2 pass through untouched.
	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("s%d.ts", i), out.Segments[i].URI)
		assert.False(t, out.Segments[i].Discontinuity)
	}
	// Ad block: discontinuity on entry, no PDT anywhere inside.
	assert.True(t, out.Segments[3].Discontinuity)
	for i := 3; i < 6; i++ {
		assert.Contains(t, out.Segments[i].URI, "ads.example.com")
		assert.Nil(t, out.Segments[i].PDT)
		assert.Empty(t, out.Segments[i].Prefix)
	}
	// Resume: discontinuity, then the origin PDT of s6 verbatim.
	assert.True(t, out.Segments[6].Discontinuity)
	assert.Equal(t, "s6.ts", out.Segments[6].URI)
	require.NotNil(t, out.Segments[6].PDT)
	assert.Equal(t, time.Date(2025, 11, 12, 10, 0, 12, 0, time.UTC), *out.Segments[6].PDT)
	assert.Equal(t, "s9.ts", out.Segments[9].URI)

	assert.Contains(t, res.Manifest, "#EXT-X-PROGRAM-DATE-TIME:2025-11-12T10:00:12.000Z")
	assert.Contains(t, res.Manifest, "#EXTINF:2.000,")
	// Two discontinuities inserted, so the sequence advances by two.
	assert.Equal(t, int64(2), out.DiscontinuitySequence)
	assert.Equal(t, int64(100), out.MediaSequence)
	assert.Equal(t, 2, strings.Count(res.Manifest, "#EXT-X-DISCONTINUITY\n"))
}

func TestRewriteSSAINoPDTAnchorPassesThrough(t *testing.T) {
	text, origin := liveOrigin(t) // no anchors at all
	idx := BuildPDTIndex(origin)

	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
	})
	assert.True(t, res.PassThrough)
	assert.Equal(t, text, res.Manifest, "pass-through must be byte-identical")
	assert.NotEmpty(t, res.Diagnostics)
}

func TestRewriteSSAINoResumePDTPassesThrough(t *testing.T) {
	// One anchor on s0 only; nothing after the skip target carries a PDT.
	text, origin := liveOrigin(t, 0)
	idx := BuildPDTIndex(origin)

	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
	})
	assert.True(t, res.PassThrough)
	assert.Equal(t, text, res.Manifest)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "resume PDT")
}

func TestRewriteSSAIPersistedSkipWinsOverRecalculation(t *testing.T) {
	text, origin := liveOrigin(t, 0, 5, 6)
	idx := BuildPDTIndex(origin)
	persisted := 2

	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
		PersistedSkip:       &persisted,
	})
	require.False(t, res.PassThrough)
	assert.Equal(t, 2, res.Skipped)
	assert.InDelta(t, 4.0, res.SkippedDurationSec, 0.001)
}

func TestRewriteSSAIActualDurationGovernsSkip(t *testing.T) {
	text, origin := liveOrigin(t, 0, 6)
	idx := BuildPDTIndex(origin)

	// Cue promised 10s but the resolved pod is 6s of media.
	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 10.0,
		AdSegments:          threeAdSegments(),
	})
	require.False(t, res.PassThrough)
	assert.Equal(t, 3, res.Skipped)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "deviates")
}

func TestRewriteSSAICarriesKeyRotationAcrossSkip(t *testing.T) {
	base := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i < 10; i++ {
		if i == 0 || i == 6 {
			fmt.Fprintf(&b, "#EXT-X-PROGRAM-DATE-TIME:%s\n", FormatPDT(base.Add(time.Duration(i)*2*time.Second)))
		}
		if i == 4 {
			b.WriteString("#EXT-X-KEY:METHOD=AES-128,URI=\"https://keys.example.com/k2\"\n")
		}
		fmt.Fprintf(&b, "#EXTINF:2.000,\ns%d.ts\n", i)
	}
	text := b.String()
	origin, err := ParseMediaPlaylist(text)
	require.NoError(t, err)

	res := RewriteSSAI(origin, text, BuildPDTIndex(origin), RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
	})
	require.False(t, res.PassThrough)
	out, err := ParseMediaPlaylist(res.Manifest)
	require.NoError(t, err)
	assert.True(t, hasKeyLine(out.Segments[6].Prefix), "key rotated inside the skipped range must survive")
}

func TestRewriteSSAIWindowEndSkipSingleDiscontinuity(t *testing.T) {
	// Splice two segments before the live edge: the skip clamps to the
	// window end and no origin content resumes after the ad block.
	text, origin := liveOrigin(t, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	idx := BuildPDTIndex(origin)

	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 16, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
	})
	require.False(t, res.PassThrough, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, 2, res.Skipped)

	out, err := ParseMediaPlaylist(res.Manifest)
	require.NoError(t, err)
	// One discontinuity inserted, so the sequence advances by exactly one.
	assert.Equal(t, 1, strings.Count(res.Manifest, "#EXT-X-DISCONTINUITY\n"))
	assert.Equal(t, int64(1), out.DiscontinuitySequence)
}

func TestRewriteSSAIPadsShortPodWithSlate(t *testing.T) {
	text, origin := liveOrigin(t, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	idx := BuildPDTIndex(origin)

	// Pod covers only 4s of an 8s contract; slate fills the rest.
	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 8.0,
		AdSegments:          threeAdSegments()[:2],
		PadSegments: []AdSegment{
			{URI: "https://ads.example.com/slate/s0.ts", DurationSec: 2.0},
		},
	})
	require.False(t, res.PassThrough, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, 4, res.Skipped)
	assert.InDelta(t, 8.0, res.AdDurationSec, 0.001)
	assert.Equal(t, 2, strings.Count(res.Manifest, "slate/s0.ts"))
	require.NotEmpty(t, res.Diagnostics)
	assert.Contains(t, res.Diagnostics[0], "padded")
}

func TestRewriteAnnouncesSpliceSection(t *testing.T) {
	text, origin := liveOrigin(t, 0, 6)
	idx := BuildPDTIndex(origin)
	section := []byte{0xFC, 0x30, 0x11}

	res := RewriteSSAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		AdSegments:          threeAdSegments(),
		InterstitialID:      "break-manual-1",
		SCTE35CueOut:        section,
	})
	require.False(t, res.PassThrough)
	assert.Contains(t, res.Manifest, `#EXT-X-DATERANGE:ID="break-manual-1",CLASS="com.apple.hls.scte35.out",`+
		`START-DATE="2025-11-12T10:00:06.000Z",PLANNED-DURATION=6.000,SCTE35-OUT=0xFC3011`)

	res = RewriteSGAI(origin, text, idx, RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 6.0,
		InterstitialID:      "break-manual-1",
		AssetURI:            "https://ads.example.com/pod1/ad.m3u8",
		SCTE35CueOut:        section,
	})
	require.False(t, res.PassThrough)
	assert.Contains(t, res.Manifest, "SCTE35-OUT=0xFC3011")
	assert.Contains(t, res.Manifest, `CLASS="com.apple.hls.interstitial"`)
}

func TestRewriteSSAIEmptyPodPassesThrough(t *testing.T) {
	text, origin := liveOrigin(t, 0, 6)
	res := RewriteSSAI(origin, text, BuildPDTIndex(origin), RewriteRequest{
		StartPDT: time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
	})
	assert.True(t, res.PassThrough)
	assert.Equal(t, text, res.Manifest)
}

func TestRewriteSGAIInterstitial(t *testing.T) {
	text, origin := liveOrigin(t, 0, 6)
	idx := BuildPDTIndex(origin)

	res := RewriteSGAI(origin, text, idx, RewriteRequest{
		StartPDT:             time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec:  30.0,
		InterstitialID:       "break-ev1",
		AssetURI:             "https://ads.example.com/interstitial/ev1.m3u8?sig=abc",
		AnnouncedDurationSec: 30.0,
	})
	require.False(t, res.PassThrough)

	assert.Contains(t, res.Manifest, `#EXT-X-DATERANGE:ID="break-ev1",CLASS="com.apple.hls.interstitial",`+
		`START-DATE="2025-11-12T10:00:06.000Z",DURATION=30.000,`+
		`X-ASSET-URI="https://ads.example.com/interstitial/ev1.m3u8?sig=abc"`)
	assert.Contains(t, res.Manifest, "#EXT-X-CUE-OUT:30.000\n")
	assert.Contains(t, res.Manifest, "#EXT-X-CUE-IN\n")
	assert.NotContains(t, res.Manifest, "#EXT-X-DISCONTINUITY\n")

	// Origin segments come through unchanged.
	out, err := ParseMediaPlaylist(res.Manifest)
	require.NoError(t, err)
	require.Len(t, out.Segments, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("s%d.ts", i), out.Segments[i].URI)
	}
	// CUE-OUT attaches at the splice segment, before the break closes.
	assert.Less(t, strings.Index(res.Manifest, "#EXT-X-CUE-OUT"), strings.Index(res.Manifest, "#EXT-X-CUE-IN"))
}

func TestRewriteSGAIRequiresAssetURI(t *testing.T) {
	text, origin := liveOrigin(t, 0)
	res := RewriteSGAI(origin, text, BuildPDTIndex(origin), RewriteRequest{
		StartPDT:            time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC),
		ContractDurationSec: 30.0,
	})
	assert.True(t, res.PassThrough)
	assert.Equal(t, text, res.Manifest)
}

func TestBuildPDTIndexPropagatesAnchors(t *testing.T) {
	_, origin := liveOrigin(t, 2)
	idx := BuildPDTIndex(origin)

	assert.Nil(t, idx[0])
	assert.Nil(t, idx[1])
	require.NotNil(t, idx[2])
	assert.Equal(t, time.Date(2025, 11, 12, 10, 0, 4, 0, time.UTC), *idx[2])
	require.NotNil(t, idx[9])
	assert.Equal(t, time.Date(2025, 11, 12, 10, 0, 18, 0, time.UTC), *idx[9])
}

func TestPDTCacheReusesIndex(t *testing.T) {
	text, origin := liveOrigin(t, 0)
	cache := NewPDTCache()

	first := cache.Index(text, origin)
	second := cache.Index(text, origin)
	require.Len(t, first, 10)
	assert.Same(t, first[0], second[0], "second lookup must hit the cache")
}

func TestSampleAvgDurationNearSplice(t *testing.T) {
	segs := []Segment{
		{DurationSec: 6.0}, {DurationSec: 6.0}, {DurationSec: 6.0},
		{DurationSec: 2.0}, {DurationSec: 2.0}, {DurationSec: 2.0},
		{DurationSec: 2.0}, {DurationSec: 2.0}, {DurationSec: 2.0},
		{DurationSec: 2.0}, {DurationSec: 2.0}, {DurationSec: 2.0},
	}
	// Splice deep in the 2.0s region: the long head segments fall out of the
	// sample window.
	assert.InDelta(t, 2.0, sampleAvgDuration(segs, 9), 0.001)
}
