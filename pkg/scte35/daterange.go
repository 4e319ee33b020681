package scte35

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const dateRangeTag = "#EXT-X-DATERANGE:"

// Apple DATERANGE classes for SCTE-35 cues.
const (
	ClassSCTE35Out = "com.apple.hls.scte35.out"
	ClassSCTE35In  = "com.apple.hls.scte35.in"
	ClassSCTE35Cmd = "com.apple.hls.scte35.cmd"
)

// ParseDateRanges scans HLS manifest text for EXT-X-DATERANGE tags carrying
// SCTE-35 cues and returns them in normalized form. Tags that are not ad
// cues (interstitials, program metadata) are ignored. Signals with
// unparseable START-DATE are returned with a zero StartPDT so the validator
// can reject them with context.
func ParseDateRanges(manifest string) []Signal {
	var signals []Signal
	for _, line := range strings.Split(manifest, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
		if !strings.HasPrefix(line, dateRangeTag) {
			continue
		}
		attrs := parseAttributeList(line[len(dateRangeTag):])
		sig, ok := signalFromAttrs(attrs)
		if ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

func signalFromAttrs(attrs map[string]string) (Signal, bool) {
	sig := Signal{ID: attrs["ID"]}

	class := attrs["CLASS"]
	_, hasOut := attrs["SCTE35-OUT"]
	_, hasIn := attrs["SCTE35-IN"]
	_, hasCmd := attrs["SCTE35-CMD"]
	segTypeID, hasSegType := parseSegmentationTypeID(attrs)

	switch {
	case hasOut, class == ClassSCTE35Out:
		sig.Type = SignalSpliceInsert
	case hasIn, class == ClassSCTE35In:
		sig.Type = SignalReturn
	case hasSegType && IsAdStartType(segTypeID):
		sig.Type = SignalTimeSignal
	case hasSegType && IsAdEndType(segTypeID):
		sig.Type = SignalReturn
	case hasCmd, class == ClassSCTE35Cmd:
		sig.Type = SignalTimeSignal
	default:
		return sig, false
	}

	if raw, ok := attrs["START-DATE"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			sig.StartPDT = t.UTC()
		}
	}

	// Duration preference order: DURATION, PLANNED-DURATION,
	// X-BREAK-DURATION, then binary break_duration via applySection.
	for _, key := range []string{"DURATION", "PLANNED-DURATION", "X-BREAK-DURATION"} {
		if raw, ok := attrs[key]; ok {
			if d, err := strconv.ParseFloat(raw, 64); err == nil {
				dv := d
				sig.DurationSec = &dv
				break
			}
		}
	}

	if raw, ok := attrs["X-SEGMENT-NUM"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			n := uint32(v)
			sig.SegmentNum = &n
		}
	}
	if raw, ok := attrs["X-SEGMENTS-EXPECTED"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			n := uint32(v)
			sig.SegmentsExpected = &n
		}
	}

	for _, key := range []string{"SCTE35-OUT", "SCTE35-IN", "SCTE35-CMD"} {
		raw, ok := attrs[key]
		if !ok {
			continue
		}
		sis, err := decodePayload(raw)
		if err != nil {
			// Keep the attribute-derived fields; validation will flag the
			// signal if they are insufficient.
			continue
		}
		sig.applySection(sis, key == "SCTE35-OUT")
		break
	}
	return sig, true
}

func parseSegmentationTypeID(attrs map[string]string) (uint32, bool) {
	raw, ok := attrs["X-SEGMENTATION-TYPE-ID"]
	if !ok {
		return 0, false
	}
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw, base = raw[2:], 16
	}
	v, err := strconv.ParseUint(raw, base, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// decodePayload handles both encodings seen in the wild: RFC 8216 hex
// (0x-prefixed) and base64(url).
func decodePayload(raw string) (*SpliceInfoSection, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		data, err := hex.DecodeString(raw[2:])
		if err != nil {
			return nil, err
		}
		return DecodeBytes(data)
	}
	return DecodeBase64(raw)
}

// parseAttributeList splits an HLS attribute list into a key/value map.
// Quoted values keep their content without quotes; commas inside quotes do
// not split.
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
