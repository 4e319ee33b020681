package scte35

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Payloads from the SCTE-35 specification sample section.
const (
	sampleTimeSignalPOStart = "/DA0AAAAAAAA///wBQb+cr0AUAAeAhxDVUVJSAAAjn/PAAGlmbAICAAAAAAsoKGKNAIAmsnRfg=="
	sampleSpliceInsert      = "/DAvAAAAAAAA///wFAVIAACPf+/+c2nALv4AUsz1AAAAAAAKAAhDVUVJAAABNWLbowo="
	sampleTimeSignalPOEnd   = "/DAvAAAAAAAA///wBQb+dGKQoAAZAhdDVUVJSAAAjn+fCAgAAAAALKChijUCAKnMZ1g="
)

func TestDecodeSpliceInsert(t *testing.T) {
	sis, err := DecodeBase64(sampleSpliceInsert)
	require.NoError(t, err)
	require.True(t, sis.CRCValid)
	assert.Equal(t, uint32(3), sis.SAPType)
	assert.Equal(t, uint32(0xFFF), sis.Tier)
	assert.Equal(t, uint64(0), sis.PTSAdjustment)

	cmd, ok := sis.SpliceCommand.(*SpliceInsert)
	require.True(t, ok, "expected splice_insert command")
	assert.Equal(t, uint32(0x4800008f), cmd.SpliceEventID)
	assert.True(t, cmd.OutOfNetworkIndicator)
	assert.True(t, cmd.ProgramSpliceFlag)
	require.NotNil(t, cmd.SpliceTime.PTSTime)
	assert.Equal(t, uint64(0x07369c02e), *cmd.SpliceTime.PTSTime)
	require.NotNil(t, cmd.BreakDuration)
	assert.True(t, cmd.BreakDuration.AutoReturn)
	assert.Equal(t, uint64(0x00052ccf5), cmd.BreakDuration.Duration)

	// The avail descriptor in the loop is not a segmentation descriptor.
	assert.Empty(t, sis.SpliceDescriptors)
}

func TestDecodeTimeSignalWithSegmentationDescriptor(t *testing.T) {
	sis, err := DecodeBase64(sampleTimeSignalPOStart)
	require.NoError(t, err)
	require.True(t, sis.CRCValid)

	cmd, ok := sis.SpliceCommand.(*TimeSignal)
	require.True(t, ok, "expected time_signal command")
	require.NotNil(t, cmd.SpliceTime.PTSTime)
	assert.Equal(t, uint64(0x072bd0050), *cmd.SpliceTime.PTSTime)

	require.Len(t, sis.SpliceDescriptors, 1)
	sd := sis.SpliceDescriptors[0]
	assert.Equal(t, uint32(0x4800008e), sd.SegmentationEventID)
	assert.Equal(t, SegmentationTypeProviderPOStart, sd.SegmentationTypeID)
	require.NotNil(t, sd.SegmentationDuration)
	assert.Equal(t, uint64(0x0001a599b0), *sd.SegmentationDuration)
	assert.Equal(t, uint32(0x08), sd.UPIDType)
	assert.Equal(t, []byte{0, 0, 0, 0, 0x2c, 0xa0, 0xa1, 0x8a}, sd.UPID)
	assert.Equal(t, uint32(2), sd.SegmentNum)
	assert.Equal(t, uint32(0), sd.SegmentsExpected)
	require.NotNil(t, sd.DeliveryRestrictions)
	assert.False(t, sd.DeliveryRestrictions.WebDeliveryAllowed)
	assert.True(t, sd.DeliveryRestrictions.NoRegionalBlackout)
	assert.True(t, sd.DeliveryRestrictions.ArchiveAllowed)
}

func TestDecodeTimeSignalPOEnd(t *testing.T) {
	sis, err := DecodeBase64(sampleTimeSignalPOEnd)
	require.NoError(t, err)
	require.Len(t, sis.SpliceDescriptors, 1)
	assert.Equal(t, SegmentationTypeProviderPOEnd, sis.SpliceDescriptors[0].SegmentationTypeID)
	assert.True(t, IsAdEndType(sis.SpliceDescriptors[0].SegmentationTypeID))
}

// Decode → re-encode → decode must preserve the section modulo CRC
// recomputation and length normalization.
func TestSectionRoundTrip(t *testing.T) {
	for _, payload := range []string{
		sampleTimeSignalPOStart,
		sampleSpliceInsert,
		sampleTimeSignalPOEnd,
	} {
		orig, err := DecodeBase64(payload)
		require.NoError(t, err)

		redecoded, err := DecodeBytes(orig.Encode())
		require.NoError(t, err)
		require.True(t, redecoded.CRCValid, "re-encoded section must carry a valid CRC")

		assert.Equal(t, orig.Tier, redecoded.Tier)
		assert.Equal(t, orig.PTSAdjustment, redecoded.PTSAdjustment)
		assert.Equal(t, orig.SpliceCommand, redecoded.SpliceCommand)
		assert.Equal(t, orig.SpliceDescriptors, redecoded.SpliceDescriptors)
	}
}

func TestEncodeSyntheticSpliceInsert(t *testing.T) {
	pts := uint64(900000)
	sis := &SpliceInfoSection{
		SAPType: 3,
		Tier:    0xFFF,
		SpliceCommand: &SpliceInsert{
			SpliceEventID:         42,
			OutOfNetworkIndicator: true,
			ProgramSpliceFlag:     true,
			SpliceTime:            SpliceTime{PTSTime: &pts},
			BreakDuration:         &BreakDuration{AutoReturn: true, Duration: 30 * PTSClock},
			UniqueProgramID:       1,
		},
	}
	out, err := DecodeBytes(sis.Encode())
	require.NoError(t, err)
	require.True(t, out.CRCValid)
	cmd := out.SpliceCommand.(*SpliceInsert)
	assert.Equal(t, uint32(42), cmd.SpliceEventID)
	assert.Equal(t, uint64(30*PTSClock), cmd.BreakDuration.Duration)
}

func TestCRCMismatchIsNotFatal(t *testing.T) {
	data, err := decodeBase64Lenient(sampleSpliceInsert)
	require.NoError(t, err)
	// Flip a bit inside the descriptor loop; the section still parses but the
	// CRC no longer matches.
	data[len(data)-6] ^= 0x01
	sis, err := DecodeBytes(data)
	require.NoError(t, err)
	assert.False(t, sis.CRCValid)
}

func TestPTSAdjustmentWraps(t *testing.T) {
	sis := &SpliceInfoSection{PTSAdjustment: ptsWrap - 1}
	assert.Equal(t, uint64(1), sis.AdjustedPTS(2))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeBase64("not-base64!!!")
	assert.Error(t, err)

	_, err = DecodeBytes([]byte{0x47, 0x00})
	assert.Error(t, err)
}

func TestManualCueSignalSectionDecodes(t *testing.T) {
	start := time.Date(2025, 11, 12, 10, 0, 6, 0, time.UTC)
	sig := ManualCueSignal("manual-1", 7, start, 30)

	require.NotEmpty(t, sig.Payload)
	sis, err := DecodeBytes(sig.Payload)
	require.NoError(t, err)
	require.True(t, sis.CRCValid)

	cmd, ok := sis.SpliceCommand.(*SpliceInsert)
	require.True(t, ok)
	assert.Equal(t, uint32(7), cmd.SpliceEventID)
	assert.True(t, cmd.OutOfNetworkIndicator)
	require.NotNil(t, cmd.BreakDuration)
	assert.True(t, cmd.BreakDuration.AutoReturn)
	assert.InDelta(t, 30.0, float64(cmd.BreakDuration.Duration)/PTSClock, 0.001)
}

func TestApplySectionKeepsUPIDTypeForEmptyUPID(t *testing.T) {
	sis := &SpliceInfoSection{
		SpliceDescriptors: []*SegmentationDescriptor{{
			SegmentationEventID: 9,
			UPIDType:            0x01,
			SegmentationTypeID:  SegmentationTypeProviderAdStart,
		}},
	}
	var sig Signal
	sig.applySection(sis, true)

	require.NotNil(t, sig.UPIDType, "present descriptor must keep its UPID type")
	assert.Equal(t, uint32(0x01), *sig.UPIDType)
	assert.Empty(t, sig.UPID)
}

func TestCreateSpliceInsertPayloadDecodes(t *testing.T) {
	payload := CreateSpliceInsertPayload(SpliceInsertParams{
		PTSTime:               1234567,
		Duration:              15 * PTSClock,
		SpliceEventID:         77,
		Tier:                  0xFFF,
		OutOfNetworkIndicator: true,
		AutoReturn:            true,
	})
	sis, err := DecodeBytes(payload)
	require.NoError(t, err)
	require.True(t, sis.CRCValid)
	cmd, ok := sis.SpliceCommand.(*SpliceInsert)
	require.True(t, ok)
	assert.Equal(t, uint32(77), cmd.SpliceEventID)
	assert.True(t, cmd.OutOfNetworkIndicator)
	require.NotNil(t, cmd.BreakDuration)
	assert.Equal(t, uint64(15*PTSClock), cmd.BreakDuration.Duration)
}
