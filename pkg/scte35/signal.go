package scte35

import (
	"fmt"
	"time"
)

// SignalType classifies a normalized cue.
type SignalType string

const (
	SignalSpliceInsert SignalType = "splice_insert"
	SignalTimeSignal   SignalType = "time_signal"
	SignalReturn       SignalType = "return_signal"
)

// Signal is the normalized form of an SCTE-35 cue, derived from either
// EXT-X-DATERANGE attributes or a decoded splice_info_section. When both are
// present the decoded binary wins.
type Signal struct {
	ID       string
	Type     SignalType
	StartPDT time.Time

	// DurationSec is nil when no duration field was present at all. A present
	// zero is kept as zero so validation can tell "absent" from "falsy".
	DurationSec *float64

	AutoReturn       bool
	SpliceEventID    *uint32
	PTS90k           *uint64 // after pts_adjustment, wrapped mod 2^33
	BreakDuration90k *uint64
	Tier             *uint32 // 12-bit
	UPID             []byte
	UPIDType         *uint32
	SegmentNum       *uint32
	SegmentsExpected *uint32

	// FromBinary reports that the fields were (over)written from a decoded
	// splice_info_section rather than attribute text only.
	FromBinary bool

	// Payload holds the encoded splice_info_section for synthesized cues,
	// so operator and schedule breaks announce a real section downstream.
	Payload []byte

	// Encrypted and CRCValid carry binary decode observations for the
	// validator.
	Encrypted bool
	CRCValid  bool
}

// StableID returns the identifier used for break dedup: the splice event id
// when the cue carries one, else the cue id.
func (s *Signal) StableID() string {
	if s.SpliceEventID != nil {
		return fmt.Sprintf("ev-%d", *s.SpliceEventID)
	}
	return s.ID
}

// IsStart reports whether the signal opens an ad break.
func (s *Signal) IsStart() bool {
	return s.Type == SignalSpliceInsert || s.Type == SignalTimeSignal
}

// applySection folds a decoded splice_info_section into the signal,
// overriding any attribute-derived fields it covers.
func (s *Signal) applySection(sis *SpliceInfoSection, out bool) {
	s.FromBinary = true
	s.Encrypted = sis.EncryptedPacket
	s.CRCValid = sis.CRCValid
	if sis.Tier != 0xFFF {
		tier := sis.Tier
		s.Tier = &tier
	}

	switch cmd := sis.SpliceCommand.(type) {
	case *SpliceInsert:
		eventID := cmd.SpliceEventID
		s.SpliceEventID = &eventID
		if cmd.OutOfNetworkIndicator && out {
			s.Type = SignalSpliceInsert
		} else if !cmd.OutOfNetworkIndicator {
			s.Type = SignalReturn
		}
		if cmd.SpliceTime.PTSTime != nil {
			pts := sis.AdjustedPTS(*cmd.SpliceTime.PTSTime)
			s.PTS90k = &pts
		}
		if cmd.BreakDuration != nil {
			bd := cmd.BreakDuration.Duration
			s.BreakDuration90k = &bd
			s.AutoReturn = cmd.BreakDuration.AutoReturn
			if s.DurationSec == nil {
				d := float64(bd) / PTSClock
				s.DurationSec = &d
			}
		}
	case *TimeSignal:
		if s.Type != SignalReturn {
			s.Type = SignalTimeSignal
		}
		if cmd.SpliceTime.PTSTime != nil {
			pts := sis.AdjustedPTS(*cmd.SpliceTime.PTSTime)
			s.PTS90k = &pts
		}
	}

	for _, sd := range sis.SpliceDescriptors {
		if sd.EventCancelIndicator {
			continue
		}
		eventID := sd.SegmentationEventID
		s.SpliceEventID = &eventID
		if IsAdEndType(sd.SegmentationTypeID) {
			s.Type = SignalReturn
		}
		if sd.SegmentationDuration != nil && s.DurationSec == nil {
			d := float64(*sd.SegmentationDuration) / PTSClock
			s.DurationSec = &d
		}
		// UPIDType is kept even for a zero-length UPID; only a missing
		// descriptor means "absent".
		s.UPID = sd.UPID
		upidType := sd.UPIDType
		s.UPIDType = &upidType
		segNum := sd.SegmentNum
		segExp := sd.SegmentsExpected
		s.SegmentNum = &segNum
		s.SegmentsExpected = &segExp
	}
}
