package scte35

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateRangeSCTE35Out(t *testing.T) {
	manifest := "#EXTM3U\n" +
		"#EXT-X-DATERANGE:ID=\"splice-1\",START-DATE=\"2025-11-12T10:00:06Z\"," +
		"PLANNED-DURATION=60.293,SCTE35-OUT=\"" + sampleSpliceInsert + "\"\n" +
		"#EXTINF:2.000,\nseg1.ts\n"

	signals := ParseDateRanges(manifest)
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, "splice-1", sig.ID)
	assert.Equal(t, SignalSpliceInsert, sig.Type)
	assert.Equal(t, time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC), sig.StartPDT)
	assert.True(t, sig.FromBinary)
	require.NotNil(t, sig.SpliceEventID)
	assert.Equal(t, uint32(0x4800008f), *sig.SpliceEventID)
	assert.Equal(t, "ev-1207959695", sig.StableID())
	// PLANNED-DURATION takes precedence over the binary break_duration.
	require.NotNil(t, sig.DurationSec)
	assert.InDelta(t, 60.293, *sig.DurationSec, 0.001)
	assert.True(t, sig.AutoReturn)
	require.NotNil(t, sig.PTS90k)
	assert.Equal(t, uint64(0x07369c02e), *sig.PTS90k)
}

func TestParseDateRangeDurationFromBinary(t *testing.T) {
	// No textual duration attribute: the decoded break_duration supplies it.
	manifest := fmt.Sprintf("#EXT-X-DATERANGE:ID=\"s2\",START-DATE=%q,SCTE35-OUT=%q\n",
		"2025-11-12T10:00:06Z", sampleSpliceInsert)
	signals := ParseDateRanges(manifest)
	require.Len(t, signals, 1)
	require.NotNil(t, signals[0].DurationSec)
	assert.InDelta(t, float64(0x52ccf5)/PTSClock, *signals[0].DurationSec, 0.0001)
}

func TestParseDateRangeAppleClass(t *testing.T) {
	manifest := "#EXT-X-DATERANGE:ID=\"c1\",CLASS=\"com.apple.hls.scte35.out\"," +
		"START-DATE=\"2025-11-12T10:00:06Z\",DURATION=30.0\n"
	signals := ParseDateRanges(manifest)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalSpliceInsert, signals[0].Type)
	assert.False(t, signals[0].FromBinary)
}

func TestParseDateRangeSegmentationTypeID(t *testing.T) {
	for _, tc := range []struct {
		typeID string
		want   SignalType
	}{
		{"0x22", SignalTimeSignal},
		{"0x30", SignalTimeSignal},
		{"0x34", SignalTimeSignal},
		{"0x23", SignalReturn},
		{"0x35", SignalReturn},
	} {
		manifest := fmt.Sprintf(
			"#EXT-X-DATERANGE:ID=\"t\",START-DATE=\"2025-11-12T10:00:06Z\",DURATION=30.0,X-SEGMENTATION-TYPE-ID=%s\n",
			tc.typeID)
		signals := ParseDateRanges(manifest)
		require.Len(t, signals, 1, "type id %s", tc.typeID)
		assert.Equal(t, tc.want, signals[0].Type, "type id %s", tc.typeID)
	}
}

func TestParseDateRangeIgnoresNonCueTags(t *testing.T) {
	manifest := "#EXT-X-DATERANGE:ID=\"ad-xyz\",CLASS=\"com.apple.hls.interstitial\"," +
		"START-DATE=\"2025-11-12T10:00:06Z\",DURATION=30.0,X-ASSET-URI=\"https://ads/pod.m3u8\"\n"
	assert.Empty(t, ParseDateRanges(manifest))
}

func TestParseDateRangeBadStartDate(t *testing.T) {
	manifest := "#EXT-X-DATERANGE:ID=\"bad\",SCTE35-OUT=\"" + sampleSpliceInsert + "\",START-DATE=\"yesterday\"\n"
	signals := ParseDateRanges(manifest)
	require.Len(t, signals, 1)
	assert.True(t, signals[0].StartPDT.IsZero())
}

func TestParseAttributeListQuotedCommas(t *testing.T) {
	attrs := parseAttributeList(`ID="a,b",DURATION=6.0,X-ASSET-URI="https://x/y?a=1,2"`)
	assert.Equal(t, "a,b", attrs["ID"])
	assert.Equal(t, "6.0", attrs["DURATION"])
	assert.Equal(t, "https://x/y?a=1,2", attrs["X-ASSET-URI"])
}
