// Package scte35 implements the parts of ANSI/SCTE 35 needed for live ad
// insertion: binary splice_info_section decode/encode, HLS EXT-X-DATERANGE
// attribute parsing, and validation of the resulting signals.
package scte35

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	tableID = 0xFC

	// PTSClock is the 90 kHz presentation clock rate.
	PTSClock = 90000
	// ptsWrap is 2^33, the modulus of the 33-bit PTS counter.
	ptsWrap = uint64(1) << 33
)

// Splice command types per SCTE-35 Table 6.
const (
	SpliceNullType           uint32 = 0x00
	SpliceScheduleType       uint32 = 0x04
	SpliceInsertType         uint32 = 0x05
	TimeSignalType           uint32 = 0x06
	BandwidthReservationType uint32 = 0x07
	PrivateCommandType       uint32 = 0xFF
)

// SpliceCommand is the interface for splice command types.
type SpliceCommand interface {
	Type() uint32
	decode(r *bitReader) error
	encode(w *bitWriter)
	commandLength() int
}

// SpliceTime carries an optional 33-bit PTS time.
type SpliceTime struct {
	PTSTime *uint64
}

func (st *SpliceTime) decode(r *bitReader) {
	if r.readBit() {
		r.skip(6) // reserved
		pts := r.readUint64(33)
		st.PTSTime = &pts
	} else {
		r.skip(7) // reserved
	}
}

func (st *SpliceTime) encode(w *bitWriter) {
	if st.PTSTime != nil {
		w.putBit(true)
		w.putUint32(6, 0x3F) // reserved
		w.putUint64(33, *st.PTSTime)
	} else {
		w.putBit(false)
		w.putUint32(7, 0x7F) // reserved
	}
}

func (st *SpliceTime) length() int {
	if st.PTSTime != nil {
		return 5
	}
	return 1
}

// BreakDuration specifies the length of a commercial break.
type BreakDuration struct {
	AutoReturn bool
	Duration   uint64 // 33-bit, 90 kHz ticks
}

// SpliceNull is the splice_null command.
type SpliceNull struct{}

func (cmd *SpliceNull) Type() uint32              { return SpliceNullType }
func (cmd *SpliceNull) decode(r *bitReader) error { return nil }
func (cmd *SpliceNull) encode(w *bitWriter)       {}
func (cmd *SpliceNull) commandLength() int        { return 0 }

// TimeSignal provides a time-synchronized data delivery mechanism.
type TimeSignal struct {
	SpliceTime SpliceTime
}

func (cmd *TimeSignal) Type() uint32 { return TimeSignalType }

func (cmd *TimeSignal) decode(r *bitReader) error {
	cmd.SpliceTime.decode(r)
	return r.Err()
}

func (cmd *TimeSignal) encode(w *bitWriter) { cmd.SpliceTime.encode(w) }

func (cmd *TimeSignal) commandLength() int { return cmd.SpliceTime.length() }

// SpliceInsert signals a splice event, typically an ad break boundary.
type SpliceInsert struct {
	SpliceEventID         uint32
	EventCancelIndicator  bool
	OutOfNetworkIndicator bool
	ProgramSpliceFlag     bool
	SpliceImmediateFlag   bool
	SpliceTime            SpliceTime
	BreakDuration         *BreakDuration
	UniqueProgramID       uint16
	AvailNum              uint8
	AvailsExpected        uint8
}

func (cmd *SpliceInsert) Type() uint32 { return SpliceInsertType }

func (cmd *SpliceInsert) decode(r *bitReader) error {
	cmd.SpliceEventID = r.readU32()
	cmd.EventCancelIndicator = r.readBit()
	r.skip(7) // reserved
	if cmd.EventCancelIndicator {
		return r.Err()
	}
	cmd.OutOfNetworkIndicator = r.readBit()
	cmd.ProgramSpliceFlag = r.readBit()
	durationFlag := r.readBit()
	cmd.SpliceImmediateFlag = r.readBit()
	r.skip(4) // reserved
	if cmd.ProgramSpliceFlag && !cmd.SpliceImmediateFlag {
		cmd.SpliceTime.decode(r)
	}
	if !cmd.ProgramSpliceFlag {
		componentCount := int(r.readU8())
		for i := 0; i < componentCount; i++ {
			r.skip(8) // component_tag
			if !cmd.SpliceImmediateFlag {
				var st SpliceTime
				st.decode(r)
			}
		}
	}
	if durationFlag {
		bd := BreakDuration{}
		bd.AutoReturn = r.readBit()
		r.skip(6) // reserved
		bd.Duration = r.readUint64(33)
		cmd.BreakDuration = &bd
	}
	cmd.UniqueProgramID = r.readU16()
	cmd.AvailNum = r.readU8()
	cmd.AvailsExpected = r.readU8()
	return r.Err()
}

func (cmd *SpliceInsert) encode(w *bitWriter) {
	w.putUint32(32, cmd.SpliceEventID)
	w.putBit(cmd.EventCancelIndicator)
	w.putUint32(7, 0x7F) // reserved
	if cmd.EventCancelIndicator {
		return
	}
	w.putBit(cmd.OutOfNetworkIndicator)
	w.putBit(cmd.ProgramSpliceFlag)
	w.putBit(cmd.BreakDuration != nil)
	w.putBit(cmd.SpliceImmediateFlag)
	w.putUint32(4, 0xF) // reserved
	if cmd.ProgramSpliceFlag && !cmd.SpliceImmediateFlag {
		cmd.SpliceTime.encode(w)
	}
	if cmd.BreakDuration != nil {
		w.putBit(cmd.BreakDuration.AutoReturn)
		w.putUint32(6, 0x3F) // reserved
		w.putUint64(33, cmd.BreakDuration.Duration)
	}
	w.putUint32(16, uint32(cmd.UniqueProgramID))
	w.putUint32(8, uint32(cmd.AvailNum))
	w.putUint32(8, uint32(cmd.AvailsExpected))
}

func (cmd *SpliceInsert) commandLength() int {
	n := 5 // event_id + cancel/reserved
	if cmd.EventCancelIndicator {
		return n
	}
	n++ // flags
	if cmd.ProgramSpliceFlag && !cmd.SpliceImmediateFlag {
		n += cmd.SpliceTime.length()
	}
	if cmd.BreakDuration != nil {
		n += 5
	}
	n += 4 // unique_program_id + avail_num + avails_expected
	return n
}

// ScheduledSplice is one event of a splice_schedule command.
type ScheduledSplice struct {
	SpliceEventID         uint32
	EventCancelIndicator  bool
	OutOfNetworkIndicator bool
	UTCSpliceTime         uint32
	BreakDuration         *BreakDuration
	UniqueProgramID       uint16
}

// SpliceSchedule carries pre-announced splice events with UTC times.
// The events are parsed and surfaced; acting on them ahead of time is left
// to the operator.
type SpliceSchedule struct {
	Events []ScheduledSplice
}

func (cmd *SpliceSchedule) Type() uint32 { return SpliceScheduleType }

func (cmd *SpliceSchedule) decode(r *bitReader) error {
	count := int(r.readU8())
	for i := 0; i < count; i++ {
		var ev ScheduledSplice
		ev.SpliceEventID = r.readU32()
		ev.EventCancelIndicator = r.readBit()
		r.skip(7) // reserved
		if !ev.EventCancelIndicator {
			ev.OutOfNetworkIndicator = r.readBit()
			programSpliceFlag := r.readBit()
			durationFlag := r.readBit()
			r.skip(5) // reserved
			if programSpliceFlag {
				ev.UTCSpliceTime = r.readU32()
			} else {
				componentCount := int(r.readU8())
				for j := 0; j < componentCount; j++ {
					r.skip(8)  // component_tag
					r.skip(32) // utc_splice_time
				}
			}
			if durationFlag {
				bd := BreakDuration{}
				bd.AutoReturn = r.readBit()
				r.skip(6)
				bd.Duration = r.readUint64(33)
				ev.BreakDuration = &bd
			}
			ev.UniqueProgramID = r.readU16()
			r.skip(16) // avail_num + avails_expected
		}
		cmd.Events = append(cmd.Events, ev)
	}
	return r.Err()
}

func (cmd *SpliceSchedule) encode(w *bitWriter) {
	w.putUint32(8, uint32(len(cmd.Events)))
	for _, ev := range cmd.Events {
		w.putUint32(32, ev.SpliceEventID)
		w.putBit(ev.EventCancelIndicator)
		w.putUint32(7, 0x7F)
		if ev.EventCancelIndicator {
			continue
		}
		w.putBit(ev.OutOfNetworkIndicator)
		w.putBit(true) // program_splice_flag
		w.putBit(ev.BreakDuration != nil)
		w.putUint32(5, 0x1F)
		w.putUint32(32, ev.UTCSpliceTime)
		if ev.BreakDuration != nil {
			w.putBit(ev.BreakDuration.AutoReturn)
			w.putUint32(6, 0x3F)
			w.putUint64(33, ev.BreakDuration.Duration)
		}
		w.putUint32(16, uint32(ev.UniqueProgramID))
		w.putUint32(16, 0) // avail_num + avails_expected
	}
}

func (cmd *SpliceSchedule) commandLength() int {
	n := 1
	for _, ev := range cmd.Events {
		n += 5
		if ev.EventCancelIndicator {
			continue
		}
		n += 1 + 4
		if ev.BreakDuration != nil {
			n += 5
		}
		n += 4
	}
	return n
}

// BandwidthReservation is a no-payload placeholder command.
type BandwidthReservation struct{}

func (cmd *BandwidthReservation) Type() uint32              { return BandwidthReservationType }
func (cmd *BandwidthReservation) decode(r *bitReader) error { return nil }
func (cmd *BandwidthReservation) encode(w *bitWriter)       {}
func (cmd *BandwidthReservation) commandLength() int        { return 0 }

// PrivateCommand carries opaque provider-private bytes.
type PrivateCommand struct {
	Identifier uint32
	Bytes      []byte
}

func (cmd *PrivateCommand) Type() uint32 { return PrivateCommandType }

func (cmd *PrivateCommand) decode(r *bitReader) error {
	cmd.Identifier = r.readU32()
	cmd.Bytes = r.readBytes(r.bitsLeft() / 8)
	return r.Err()
}

func (cmd *PrivateCommand) encode(w *bitWriter) {
	w.putUint32(32, cmd.Identifier)
	w.putBytes(cmd.Bytes)
}

func (cmd *PrivateCommand) commandLength() int { return 4 + len(cmd.Bytes) }

// SpliceInfoSection is the top-level SCTE-35 structure.
type SpliceInfoSection struct {
	SAPType           uint32
	ProtocolVersion   uint32
	EncryptedPacket   bool
	PTSAdjustment     uint64 // 33-bit, 90 kHz ticks
	CWIndex           uint32
	Tier              uint32 // 12-bit
	SpliceCommand     SpliceCommand
	SpliceDescriptors []*SegmentationDescriptor

	// CRCValid reports whether the trailing CRC-32/MPEG-2 matched on decode.
	// A mismatch downgrades to a validation warning, not a decode failure.
	CRCValid bool
}

// DecodeBase64 decodes a base64 or base64url payload, with or without
// padding, into a SpliceInfoSection.
func DecodeBase64(payload string) (*SpliceInfoSection, error) {
	payload = strings.TrimSpace(payload)
	data, err := decodeBase64Lenient(payload)
	if err != nil {
		return nil, fmt.Errorf("scte35: base64 decode: %w", err)
	}
	return DecodeBytes(data)
}

func decodeBase64Lenient(payload string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DecodeBytes decodes a binary splice_info_section.
func DecodeBytes(data []byte) (*SpliceInfoSection, error) {
	sis := &SpliceInfoSection{}
	if err := sis.decode(data); err != nil {
		return nil, err
	}
	return sis, nil
}

func (sis *SpliceInfoSection) decode(data []byte) error {
	r := newBitReader(data)
	if id := r.readU8(); id != tableID {
		return fmt.Errorf("scte35: table_id 0x%02X, want 0x%02X", id, tableID)
	}
	r.skip(1) // section_syntax_indicator
	r.skip(1) // private_indicator
	sis.SAPType = r.readUint32(2)
	sectionLength := int(r.readUint32(12))
	if sectionLength+3 > len(data) {
		return fmt.Errorf("scte35: section_length %d exceeds %d available bytes", sectionLength, len(data)-3)
	}

	sis.ProtocolVersion = r.readUint32(8)
	sis.EncryptedPacket = r.readBit()
	r.skip(6) // encryption_algorithm
	sis.PTSAdjustment = r.readUint64(33)
	sis.CWIndex = r.readUint32(8)
	sis.Tier = r.readUint32(12)

	spliceCommandLength := int(r.readUint32(12))
	spliceCommandType := r.readUint32(8)

	cmd, err := newSpliceCommand(spliceCommandType)
	if err != nil {
		return err
	}
	if spliceCommandLength == 0xFFF {
		// Legacy encoders signal "unknown length". Decode in place and let
		// the command consume what it needs.
		if err := cmd.decode(r); err != nil {
			return fmt.Errorf("scte35: command 0x%02X: %w", spliceCommandType, err)
		}
	} else {
		cmdData := r.readBytes(spliceCommandLength)
		if r.Err() != nil {
			return fmt.Errorf("scte35: command 0x%02X: %w", spliceCommandType, r.Err())
		}
		cr := newBitReader(cmdData)
		if err := cmd.decode(cr); err != nil {
			return fmt.Errorf("scte35: command 0x%02X: %w", spliceCommandType, err)
		}
	}
	sis.SpliceCommand = cmd

	descriptorLoopLength := int(r.readU16())
	descData := r.readBytes(descriptorLoopLength)
	if r.Err() != nil {
		return fmt.Errorf("scte35: descriptor loop: %w", r.Err())
	}
	descs, err := decodeSpliceDescriptors(descData)
	if err != nil {
		return err
	}
	sis.SpliceDescriptors = descs

	sis.CRCValid = verifyCRC32(data) == nil
	return nil
}

func newSpliceCommand(cmdType uint32) (SpliceCommand, error) {
	switch cmdType {
	case SpliceNullType:
		return &SpliceNull{}, nil
	case SpliceScheduleType:
		return &SpliceSchedule{}, nil
	case SpliceInsertType:
		return &SpliceInsert{}, nil
	case TimeSignalType:
		return &TimeSignal{}, nil
	case BandwidthReservationType:
		return &BandwidthReservation{}, nil
	case PrivateCommandType:
		return &PrivateCommand{}, nil
	default:
		return nil, fmt.Errorf("scte35: unknown splice_command_type 0x%02X", cmdType)
	}
}

// Encode serializes the section to binary with a freshly computed CRC.
func (sis *SpliceInfoSection) Encode() []byte {
	sectionLen := sis.sectionLength()
	totalLen := 3 + sectionLen

	w := newBitWriter(totalLen)
	w.putUint32(8, tableID)
	w.putBit(false) // section_syntax_indicator
	w.putBit(false) // private_indicator
	w.putUint32(2, sis.SAPType)
	w.putUint32(12, uint32(sectionLen))

	w.putUint32(8, sis.ProtocolVersion)
	w.putBit(false)   // encrypted_packet (encryption not supported on encode)
	w.putUint32(6, 0) // encryption_algorithm
	w.putUint64(33, sis.PTSAdjustment)
	w.putUint32(8, sis.CWIndex)
	w.putUint32(12, sis.Tier)

	cmd := sis.SpliceCommand
	if cmd == nil {
		cmd = &SpliceNull{}
	}
	w.putUint32(12, uint32(cmd.commandLength()))
	w.putUint32(8, cmd.Type())
	cmd.encode(w)

	w.putUint32(16, uint32(sis.descriptorLoopLength()))
	for _, d := range sis.SpliceDescriptors {
		d.encode(w)
	}

	crc := crc32MPEG2(w.bytes()[:totalLen-4])
	w.putUint32(32, crc)
	return w.bytes()
}

// EncodeBase64 returns the standard base64 encoding of the section.
func (sis *SpliceInfoSection) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(sis.Encode())
}

func (sis *SpliceInfoSection) sectionLength() int {
	n := 11 // fixed fields after section_length, through splice_command_type
	if sis.SpliceCommand != nil {
		n += sis.SpliceCommand.commandLength()
	}
	n += 2 // descriptor_loop_length
	n += sis.descriptorLoopLength()
	n += 4 // CRC_32
	return n
}

func (sis *SpliceInfoSection) descriptorLoopLength() int {
	n := 0
	for _, d := range sis.SpliceDescriptors {
		n += 2 + d.descriptorLength()
	}
	return n
}

// AdjustedPTS returns pts plus the section's pts_adjustment, wrapped to
// 33 bits.
func (sis *SpliceInfoSection) AdjustedPTS(pts uint64) uint64 {
	return (pts + sis.PTSAdjustment) % ptsWrap
}
