package scte35

import (
	"time"

	"github.com/Comcast/gots/v2"
	gotsscte35 "github.com/Comcast/gots/v2/scte35"
)

// SpliceInsertParams parameterizes a synthesized splice_insert section for
// operator-initiated (manual) ad breaks.
type SpliceInsertParams struct {
	PTSTime               uint64 // 90 kHz, wrapped to 33 bits by the encoder
	Duration              uint64 // 90 kHz ticks; 0 means no break_duration
	SpliceEventID         uint32
	Tier                  uint16
	UniqueProgramID       uint16
	AvailNum              uint8
	AvailsExpected        uint8
	OutOfNetworkIndicator bool
	SpliceImmediateFlag   bool
	AutoReturn            bool
}

// CreateSpliceInsertPayload creates a complete SCTE-35 splice_info_section
// including CRC for a manual cue.
func CreateSpliceInsertPayload(p SpliceInsertParams) []byte {
	s := gotsscte35.CreateSCTE35()
	s.SetTier(p.Tier)
	cmd := gotsscte35.CreateSpliceInsertCommand()
	cmd.SetUniqueProgramId(p.UniqueProgramID)
	cmd.SetEventID(p.SpliceEventID)
	cmd.SetAvailNum(p.AvailNum)
	cmd.SetAvailsExpected(p.AvailsExpected)
	cmd.SetIsEventCanceled(false)
	if p.Duration != 0 {
		cmd.SetHasDuration(true)
		cmd.SetDuration(gots.PTS(p.Duration))
		cmd.SetIsAutoReturn(p.AutoReturn)
	}
	cmd.SetHasPTS(true)
	cmd.SetPTS(gots.PTS(p.PTSTime % ptsWrap))
	cmd.SetIsOut(p.OutOfNetworkIndicator)
	cmd.SetSpliceImmediate(p.SpliceImmediateFlag)
	s.SetCommandInfo(cmd)
	return s.UpdateData()
}

// ManualCueSignal builds the normalized signal for an operator-started break
// together with its synthesized binary section, so manual breaks look the
// same downstream as origin-signaled ones.
func ManualCueSignal(id string, eventID uint32, start time.Time, durationSec float64) *Signal {
	dur := durationSec
	bd := uint64(durationSec * PTSClock)
	sig := &Signal{
		ID:               id,
		Type:             SignalSpliceInsert,
		StartPDT:         start.UTC(),
		DurationSec:      &dur,
		AutoReturn:       true,
		BreakDuration90k: &bd,
		FromBinary:       true,
		CRCValid:         true,
	}
	// A zero event id keeps StableID on the cue id, so distinct synthetic
	// cues never collapse into one break.
	if eventID != 0 {
		evID := eventID
		sig.SpliceEventID = &evID
	}
	sig.Payload = CreateSpliceInsertPayload(SpliceInsertParams{
		PTSTime:               uint64(start.UnixMilli()) * 90,
		Duration:              bd,
		SpliceEventID:         eventID,
		Tier:                  0xFFF,
		OutOfNetworkIndicator: true,
		AutoReturn:            true,
	})
	return sig
}
