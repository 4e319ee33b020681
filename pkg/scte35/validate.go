package scte35

import (
	"fmt"
	"time"
)

// Validation bounds for ad-break start signals.
const (
	minBreakDurationSec  = 0.1
	maxBreakDurationSec  = 300.0
	shortBreakWarningSec = 5.0
	longBreakWarningSec  = 180.0

	maxPDTPast      = 10 * time.Minute
	maxPDTFuture    = 5 * time.Minute
	stalePDTWarning = 2 * time.Minute

	maxUPIDBytes = 256
)

// ValidationResult carries the outcome of validating a signal. A signal with
// a non-empty Errors slice must be rejected; warnings are advisory.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the signal passed validation.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a normalized signal against the insertion rules. It is a
// pure function of its inputs; now is passed in so tests and the coordinator
// share one clock.
func Validate(sig *Signal, now time.Time) ValidationResult {
	var res ValidationResult

	if sig.ID == "" && sig.SpliceEventID == nil {
		res.errorf("missing cue id")
	}

	switch sig.Type {
	case SignalSpliceInsert, SignalTimeSignal, SignalReturn:
	default:
		res.errorf("unknown signal type %q", sig.Type)
	}

	if sig.IsStart() {
		// A present zero duration is distinct from an absent one; both are
		// rejected but with different diagnostics.
		switch {
		case sig.DurationSec == nil:
			res.errorf("ad-break start without duration")
		case *sig.DurationSec <= 0:
			res.errorf("ad-break duration %.3fs is not positive", *sig.DurationSec)
		case *sig.DurationSec < minBreakDurationSec || *sig.DurationSec > maxBreakDurationSec:
			res.errorf("ad-break duration %.3fs outside [%.1fs, %.0fs]",
				*sig.DurationSec, minBreakDurationSec, maxBreakDurationSec)
		case *sig.DurationSec < shortBreakWarningSec:
			res.warnf("ad-break duration %.3fs is unusually short", *sig.DurationSec)
		case *sig.DurationSec > longBreakWarningSec:
			res.warnf("ad-break duration %.3fs is unusually long", *sig.DurationSec)
		}
	}

	if sig.StartPDT.IsZero() {
		res.errorf("missing or unparseable START-DATE")
	} else {
		age := now.Sub(sig.StartPDT)
		switch {
		case age > maxPDTPast:
			res.errorf("startPDT %s is %s in the past", sig.StartPDT.Format(time.RFC3339), age.Truncate(time.Second))
		case age < -maxPDTFuture:
			res.errorf("startPDT %s is %s in the future", sig.StartPDT.Format(time.RFC3339), (-age).Truncate(time.Second))
		case age > stalePDTWarning:
			res.warnf("startPDT %s is %s in the past", sig.StartPDT.Format(time.RFC3339), age.Truncate(time.Second))
		}
	}

	if sig.SegmentNum != nil && sig.SegmentsExpected != nil && *sig.SegmentsExpected > 0 {
		if *sig.SegmentNum >= *sig.SegmentsExpected {
			res.errorf("segment_num %d >= segments_expected %d", *sig.SegmentNum, *sig.SegmentsExpected)
		}
	}

	if len(sig.UPID) > maxUPIDBytes {
		res.warnf("UPID is %d bytes (>%d)", len(sig.UPID), maxUPIDBytes)
	}

	if sig.FromBinary {
		if sig.Encrypted {
			res.warnf("encrypted_packet set; payload fields unverified")
		}
		if !sig.CRCValid {
			res.warnf("splice_info_section CRC mismatch")
		}
		if sig.Type == SignalSpliceInsert && sig.BreakDuration90k != nil && !sig.AutoReturn {
			res.warnf("splice_insert without auto_return")
		}
	}

	return res
}
