package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/openvideo-live/splicer/pkg/decision"
	"github.com/openvideo-live/splicer/pkg/storage"
)

// breakGrace extends a break's life past its contract duration so trailing
// viewer requests still see consistent state.
const breakGrace = 4 * time.Second

// decisionMaxAge bounds how long a cached pod decision is served before a
// refresh.
const decisionMaxAge = 30 * time.Second

// AdBreakState is the single cross-request mutable record of one active
// break. It is mutated only under the channel's single-writer lock.
type AdBreakState struct {
	ID    string `json:"id"`
	PodID string `json:"podId"`

	// Mode is pinned at break creation and never switches mid-break.
	Mode string `json:"mode"`

	StartPDT    time.Time `json:"startPDT"`
	StartedAtMs int64     `json:"startedAtMs"`
	EndsAtMs    int64     `json:"endsAtMs"`

	DurationSec         float64 `json:"durationSec"`         // contract
	AdActualDurationSec float64 `json:"adActualDurationSec"` // summed pod media

	// ContentSegmentsToSkip is fixed by the first successful SSAI rewrite
	// and reused verbatim for the life of the break.
	ContentSegmentsToSkip *int    `json:"contentSegmentsToSkip,omitempty"`
	SkippedDurationSec    float64 `json:"skippedDurationSec,omitempty"`

	// AnnouncedDurationSec is the largest DURATION already published in an
	// interstitial DATERANGE for this break; it must never shrink.
	AnnouncedDurationSec float64 `json:"announcedDurationSec,omitempty"`

	Decision               *decision.AdPod `json:"decision,omitempty"`
	DecisionCalculatedAtMs int64           `json:"decisionCalculatedAtMs"`

	// SCTE35Payload is the synthesized splice_info_section for operator and
	// schedule breaks, announced in rewritten playlists.
	SCTE35Payload []byte `json:"scte35Payload,omitempty"`

	ProcessedEventIds []string `json:"processedEventIds"`
}

// Active reports whether the break still owns the channel at now.
func (st *AdBreakState) Active(now time.Time) bool {
	return now.UnixMilli() < st.EndsAtMs
}

func (st *AdBreakState) HasEvent(id string) bool {
	return slices.Contains(st.ProcessedEventIds, id)
}

func (st *AdBreakState) AddEvent(id string) {
	if !st.HasEvent(id) {
		st.ProcessedEventIds = append(st.ProcessedEventIds, id)
	}
}

// DecisionFresh reports whether the cached pod is young enough to serve.
func (st *AdBreakState) DecisionFresh(now time.Time) bool {
	return st.Decision != nil &&
		now.UnixMilli()-st.DecisionCalculatedAtMs <= decisionMaxAge.Milliseconds()
}

// ManualCue is an operator-initiated break request, stored until it expires
// or an explicit stop removes it.
type ManualCue struct {
	DurationSec float64 `json:"durationSec"`
	PodID       string  `json:"podId,omitempty"`
	PodURL      string  `json:"podUrl,omitempty"` // direct rendition URL, bypasses the store
	Mode        string  `json:"mode,omitempty"`   // optional override
	StartedAtMs int64   `json:"startedAtMs"`
}

func (m *ManualCue) Expired(now time.Time) bool {
	endsAt := m.StartedAtMs + int64(m.DurationSec*1000)
	return now.UnixMilli() >= endsAt
}

// BreakStore persists break state and manual cues in the durable KV.
type BreakStore struct {
	kv storage.KV
}

func NewBreakStore(kv storage.KV) *BreakStore {
	return &BreakStore{kv: kv}
}

func breakKey(org, slug string) string {
	return fmt.Sprintf("adbreak:%s/%s", org, slug)
}

func manualCueKey(org, slug string) string {
	return fmt.Sprintf("manualcue:%s/%s", org, slug)
}

// LoadBreak returns the active break or nil. Expired records are removed on
// read.
func (bs *BreakStore) LoadBreak(ctx context.Context, org, slug string, now time.Time) (*AdBreakState, error) {
	body, err := bs.kv.Get(ctx, breakKey(org, slug))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st AdBreakState
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	if !st.Active(now) {
		_ = bs.kv.Delete(ctx, breakKey(org, slug))
		return nil, nil
	}
	return &st, nil
}

func (bs *BreakStore) SaveBreak(ctx context.Context, org, slug string, st *AdBreakState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ttl := time.Until(time.UnixMilli(st.EndsAtMs)) + breakGrace
	if ttl <= 0 {
		ttl = breakGrace
	}
	return bs.kv.Put(ctx, breakKey(org, slug), body, ttl)
}

func (bs *BreakStore) DeleteBreak(ctx context.Context, org, slug string) error {
	return bs.kv.Delete(ctx, breakKey(org, slug))
}

// LoadManualCue returns the pending manual cue or nil; expired cues are
// dropped.
func (bs *BreakStore) LoadManualCue(ctx context.Context, org, slug string, now time.Time) (*ManualCue, error) {
	body, err := bs.kv.Get(ctx, manualCueKey(org, slug))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cue ManualCue
	if err := json.Unmarshal(body, &cue); err != nil {
		return nil, err
	}
	if cue.Expired(now) {
		_ = bs.kv.Delete(ctx, manualCueKey(org, slug))
		return nil, nil
	}
	return &cue, nil
}

func (bs *BreakStore) SaveManualCue(ctx context.Context, org, slug string, cue *ManualCue) error {
	body, err := json.Marshal(cue)
	if err != nil {
		return err
	}
	ttl := time.Duration(cue.DurationSec*float64(time.Second)) + breakGrace
	return bs.kv.Put(ctx, manualCueKey(org, slug), body, ttl)
}

func (bs *BreakStore) DeleteManualCue(ctx context.Context, org, slug string) error {
	return bs.kv.Delete(ctx, manualCueKey(org, slug))
}
