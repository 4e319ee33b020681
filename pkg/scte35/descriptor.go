package scte35

import "fmt"

const (
	// SegmentationDescriptorTag is the splice_descriptor_tag for
	// segmentation_descriptor.
	SegmentationDescriptorTag uint32 = 0x02

	// CUEIdentifier is the CUEI ASCII identifier (0x43554549).
	CUEIdentifier uint32 = 0x43554549
)

// Segmentation type ids relevant for ad insertion, per SCTE-35 Table 23.
const (
	SegmentationTypeBreakStart           uint32 = 0x22
	SegmentationTypeBreakEnd             uint32 = 0x23
	SegmentationTypeProviderAdStart      uint32 = 0x30
	SegmentationTypeProviderAdEnd        uint32 = 0x31
	SegmentationTypeDistributorAdStart   uint32 = 0x32
	SegmentationTypeDistributorAdEnd     uint32 = 0x33
	SegmentationTypeProviderPOStart      uint32 = 0x34
	SegmentationTypeProviderPOEnd        uint32 = 0x35
	SegmentationTypeDistributorPOStart   uint32 = 0x36
	SegmentationTypeDistributorPOEnd     uint32 = 0x37
	SegmentationTypeProviderAdBlockStart uint32 = 0x44
	SegmentationTypeProviderAdBlockEnd   uint32 = 0x45
)

// IsAdStartType reports whether typeID marks the start of an ad break.
func IsAdStartType(typeID uint32) bool {
	switch typeID {
	case SegmentationTypeBreakStart,
		SegmentationTypeProviderAdStart,
		SegmentationTypeDistributorAdStart,
		SegmentationTypeProviderPOStart,
		SegmentationTypeDistributorPOStart:
		return true
	}
	return false
}

// IsAdEndType reports whether typeID marks the end of an ad break.
func IsAdEndType(typeID uint32) bool {
	switch typeID {
	case SegmentationTypeBreakEnd,
		SegmentationTypeProviderAdEnd,
		SegmentationTypeDistributorAdEnd,
		SegmentationTypeProviderPOEnd,
		SegmentationTypeDistributorPOEnd:
		return true
	}
	return false
}

// DeliveryRestrictions holds the restriction flags of a segmentation
// descriptor when delivery_not_restricted_flag is 0.
type DeliveryRestrictions struct {
	WebDeliveryAllowed bool
	NoRegionalBlackout bool
	ArchiveAllowed     bool
	DeviceRestrictions uint32
}

// SegmentationDescriptor carries segmentation information per SCTE-35 10.3.3.
type SegmentationDescriptor struct {
	SegmentationEventID  uint32
	EventCancelIndicator bool
	DeliveryRestrictions *DeliveryRestrictions
	SegmentationDuration *uint64 // 40-bit, 90 kHz ticks
	UPIDType             uint32
	UPID                 []byte
	SegmentationTypeID   uint32
	SegmentNum           uint32
	SegmentsExpected     uint32
	SubSegmentNum        *uint32
	SubSegmentsExpected  *uint32
}

// Tag returns the splice_descriptor_tag.
func (sd *SegmentationDescriptor) Tag() uint32 { return SegmentationDescriptorTag }

func (sd *SegmentationDescriptor) decode(data []byte) error {
	r := newBitReader(data)
	r.skip(8) // splice_descriptor_tag
	r.skip(8) // descriptor_length
	if id := r.readU32(); id != CUEIdentifier {
		return fmt.Errorf("scte35: segmentation descriptor identifier 0x%08X, want CUEI", id)
	}
	sd.SegmentationEventID = r.readU32()
	sd.EventCancelIndicator = r.readBit()
	r.skip(7) // reserved
	if sd.EventCancelIndicator {
		return r.Err()
	}
	programSegmentationFlag := r.readBit()
	durationFlag := r.readBit()
	deliveryNotRestricted := r.readBit()
	if !deliveryNotRestricted {
		dr := DeliveryRestrictions{}
		dr.WebDeliveryAllowed = r.readBit()
		dr.NoRegionalBlackout = r.readBit()
		dr.ArchiveAllowed = r.readBit()
		dr.DeviceRestrictions = r.readUint32(2)
		sd.DeliveryRestrictions = &dr
	} else {
		r.skip(5) // reserved
	}
	if !programSegmentationFlag {
		componentCount := int(r.readU8())
		for i := 0; i < componentCount; i++ {
			r.skip(8)  // component_tag
			r.skip(7)  // reserved
			r.skip(33) // pts_offset
		}
	}
	if durationFlag {
		dur := r.readU40()
		sd.SegmentationDuration = &dur
	}
	sd.UPIDType = uint32(r.readU8())
	upidLen := int(r.readU8())
	sd.UPID = r.readBytes(upidLen)
	sd.SegmentationTypeID = uint32(r.readU8())
	sd.SegmentNum = uint32(r.readU8())
	sd.SegmentsExpected = uint32(r.readU8())
	switch sd.SegmentationTypeID {
	case SegmentationTypeProviderPOStart, SegmentationTypeDistributorPOStart:
		// sub_segment fields are optional even for these types.
		if r.bitsLeft() >= 16 {
			ssn := uint32(r.readU8())
			sse := uint32(r.readU8())
			sd.SubSegmentNum = &ssn
			sd.SubSegmentsExpected = &sse
		}
	}
	return r.Err()
}

func (sd *SegmentationDescriptor) encode(w *bitWriter) {
	w.putUint32(8, SegmentationDescriptorTag)
	w.putUint32(8, uint32(sd.descriptorLength()))
	w.putUint32(32, CUEIdentifier)
	w.putUint32(32, sd.SegmentationEventID)
	w.putBit(sd.EventCancelIndicator)
	w.putUint32(7, 0x7F) // reserved
	if sd.EventCancelIndicator {
		return
	}
	w.putBit(true) // program_segmentation_flag
	w.putBit(sd.SegmentationDuration != nil)
	w.putBit(sd.DeliveryRestrictions == nil) // delivery_not_restricted_flag
	if sd.DeliveryRestrictions != nil {
		w.putBit(sd.DeliveryRestrictions.WebDeliveryAllowed)
		w.putBit(sd.DeliveryRestrictions.NoRegionalBlackout)
		w.putBit(sd.DeliveryRestrictions.ArchiveAllowed)
		w.putUint32(2, sd.DeliveryRestrictions.DeviceRestrictions)
	} else {
		w.putUint32(5, 0x1F) // reserved
	}
	if sd.SegmentationDuration != nil {
		w.putUint64(40, *sd.SegmentationDuration)
	}
	w.putUint32(8, sd.UPIDType)
	w.putUint32(8, uint32(len(sd.UPID)))
	w.putBytes(sd.UPID)
	w.putUint32(8, sd.SegmentationTypeID)
	w.putUint32(8, sd.SegmentNum)
	w.putUint32(8, sd.SegmentsExpected)
	if sd.SubSegmentNum != nil && sd.SubSegmentsExpected != nil {
		w.putUint32(8, *sd.SubSegmentNum)
		w.putUint32(8, *sd.SubSegmentsExpected)
	}
}

// descriptorLength returns the descriptor_length field value (bytes after the
// 2-byte tag/length header).
func (sd *SegmentationDescriptor) descriptorLength() int {
	n := 4 + 4 + 1 // identifier + event_id + cancel/reserved
	if sd.EventCancelIndicator {
		return n
	}
	n++ // flags
	if sd.SegmentationDuration != nil {
		n += 5
	}
	n += 2 + len(sd.UPID) // upid_type + upid_length + upid
	n += 3                // type_id + segment_num + segments_expected
	if sd.SubSegmentNum != nil && sd.SubSegmentsExpected != nil {
		n += 2
	}
	return n
}

func decodeSpliceDescriptors(data []byte) ([]*SegmentationDescriptor, error) {
	var descs []*SegmentationDescriptor
	offset := 0
	for offset+2 <= len(data) {
		tag := uint32(data[offset])
		length := int(data[offset+1])
		end := offset + 2 + length
		if end > len(data) {
			return descs, fmt.Errorf("scte35: descriptor at offset %d overruns loop", offset)
		}
		if tag == SegmentationDescriptorTag && length >= 4 {
			identifier := uint32(data[offset+2])<<24 | uint32(data[offset+3])<<16 |
				uint32(data[offset+4])<<8 | uint32(data[offset+5])
			if identifier == CUEIdentifier {
				sd := &SegmentationDescriptor{}
				if err := sd.decode(data[offset:end]); err != nil {
					return descs, err
				}
				descs = append(descs, sd)
			}
		}
		// Other descriptor tags (avail, DTMF, time) are skipped.
		offset = end
	}
	return descs, nil
}
