package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvideo-live/splicer/pkg/beacon"
	"github.com/openvideo-live/splicer/pkg/decision"
	"github.com/openvideo-live/splicer/pkg/hls"
	"github.com/openvideo-live/splicer/pkg/scte35"
)

const (
	// lockTimeout bounds how long a request waits on the channel's
	// single-writer lock before degrading to pass-through.
	lockTimeout = 500 * time.Millisecond

	// windowBucketS stamps responses into fixed buckets so identical
	// requests within a bucket yield identical cacheable responses.
	windowBucketS = 2

	contentTypeHLS = "application/vnd.apple.mpegurl"
)

// Coordinator owns per-channel break state and drives cue detection,
// decisioning, and playlist rewriting for viewer requests.
type Coordinator struct {
	Channels *ChannelStore
	Breaks   *BreakStore
	Engine   *decision.Engine
	Origin   *OriginClient
	Beacons  *beacon.Producer

	now   func() time.Time
	locks sync.Map // channel key -> *sync.Mutex
}

func NewCoordinator(channels *ChannelStore, breaks *BreakStore, engine *decision.Engine, origin *OriginClient, beacons *beacon.Producer) *Coordinator {
	return &Coordinator{
		Channels: channels,
		Breaks:   breaks,
		Engine:   engine,
		Origin:   origin,
		Beacons:  beacons,
		now:      time.Now,
	}
}

// PlaylistResponse is the rendered result for one viewer playlist request.
type PlaylistResponse struct {
	Body        string
	MaxAgeS     int
	ETag        string
	PassThrough bool
	Diagnostics []string
}

// acquireLock takes the channel's single-writer lock, giving up after
// lockTimeout.
func (c *Coordinator) acquireLock(key string) (*sync.Mutex, bool) {
	v, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	deadline := c.now().Add(lockTimeout)
	for {
		if mu.TryLock() {
			return mu, true
		}
		if c.now().After(deadline) {
			return nil, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// HandlePlaylist serves one viewer playlist request end to end.
func (c *Coordinator) HandlePlaylist(ctx context.Context, r *http.Request, ch *ChannelConfig, variantPath string) (*PlaylistResponse, error) {
	originText, err := c.Origin.FetchPlaylist(ctx, ch.OriginURL, variantPath)
	if err != nil {
		return nil, err
	}

	now := c.now()
	bucket := now.Unix() / windowBucketS * windowBucketS

	// Master playlists are served as-is: variant URIs stay origin-relative
	// and route back through the splicer.
	if hls.IsMasterPlaylist(originText) {
		return &PlaylistResponse{
			Body:        originText,
			MaxAgeS:     c.playlistMaxAge(ch),
			ETag:        responseETag(ch.key(), variantPath, "master", 0, bucket),
			PassThrough: true,
		}, nil
	}

	profile := hls.InferViewerProfile(variantPath, r.URL.Query())
	log := slog.With("org", ch.Org, "channel", ch.Slug, "variant", variantPath)

	mu, ok := c.acquireLock(ch.key())
	if !ok {
		log.Warn("channel lock timeout, passing through", "kind", "StateConflict")
		return c.passThrough(ch, variantPath, originText, bucket, "channel lock timeout"), nil
	}
	defer mu.Unlock()

	st, err := c.reconcile(ctx, ch, originText, now, log)
	if err != nil {
		log.Warn("reconcile failed, passing through", "err", err)
		return c.passThrough(ch, variantPath, originText, bucket, err.Error()), nil
	}
	if st == nil {
		// IDLE, nothing to insert.
		return c.passThrough(ch, variantPath, originText, bucket), nil
	}

	// The request deadline must leave room for the rewrite; a partial
	// rewrite is worse than none.
	if ctx.Err() != nil {
		return c.passThrough(ch, variantPath, originText, bucket, "deadline exceeded"), nil
	}

	resp := c.renderBreak(ctx, r, ch, st, variantPath, originText, profile, bucket, log)
	if err := c.Breaks.SaveBreak(ctx, ch.Org, ch.Slug, st); err != nil {
		log.Error("persist break state", "err", err)
	}
	return resp, nil
}

// reconcile runs the cue-merge state machine under the channel lock and
// returns the active break state (nil when IDLE).
func (c *Coordinator) reconcile(ctx context.Context, ch *ChannelConfig, originText string, now time.Time, log *slog.Logger) (*AdBreakState, error) {
	st, err := c.Breaks.LoadBreak(ctx, ch.Org, ch.Slug, now)
	if err != nil {
		return nil, err
	}

	cue, cueKind, manual := c.activeCue(ctx, ch, originText, st, now, log)

	// Stop cues end a break regardless of source.
	if cue != nil && cue.Type == scte35.SignalReturn {
		if st != nil {
			log.Info("break stopped by return cue", "cueId", cue.StableID())
			_ = c.Breaks.DeleteBreak(ctx, ch.Org, ch.Slug)
		}
		return nil, nil
	}

	if st != nil {
		if cue != nil && !st.HasEvent(cue.StableID()) {
			// A new cue inside the active window folds into the break.
			st.AddEvent(cue.StableID())
		}
		if !st.DecisionFresh(now) {
			c.refreshDecision(ctx, ch, st, manual, now, log)
		}
		return st, nil
	}

	if cue == nil {
		return nil, nil
	}

	// New break from an IDLE state.
	vr := scte35.Validate(cue, now)
	if !vr.OK() {
		log.Warn("cue rejected", "cueId", cue.StableID(), "kind", "ValidationError", "errors", vr.Errors)
		return nil, nil
	}
	for _, w := range vr.Warnings {
		log.Warn("cue warning", "cueId", cue.StableID(), "warning", w)
	}

	durationSec := ch.DefaultAdDurationSec
	if cue.DurationSec != nil {
		durationSec = *cue.DurationSec
	}

	pod, err := c.Engine.Decide(ctx, decisionRequest(ch, durationSec, manual))
	if err != nil {
		log.Error("decision failed", "cueId", cue.StableID(), "kind", "DecisionEmpty", "err", err)
		return nil, nil
	}

	mode := ch.Mode
	if manual != nil && (manual.Mode == ModeSSAI || manual.Mode == ModeSGAI) {
		mode = manual.Mode
	}
	if mode == "" {
		mode = ModeAuto
	}

	st = &AdBreakState{
		ID:                     cue.StableID(),
		PodID:                  pod.PodID,
		Mode:                   mode,
		StartPDT:               cue.StartPDT,
		StartedAtMs:            now.UnixMilli(),
		EndsAtMs:               now.Add(time.Duration(durationSec*float64(time.Second)) + breakGrace).UnixMilli(),
		DurationSec:            durationSec,
		AdActualDurationSec:    podDuration(pod),
		Decision:               pod,
		DecisionCalculatedAtMs: now.UnixMilli(),
		SCTE35Payload:          cue.Payload,
		ProcessedEventIds:      []string{cue.StableID()},
	}
	log.Info("break started",
		"cueId", st.ID, "podId", st.PodID, "source", cueKind,
		"durationSec", st.DurationSec, "adDurationSec", st.AdActualDurationSec)
	if err := c.Breaks.SaveBreak(ctx, ch.Org, ch.Slug, st); err != nil {
		return nil, err
	}
	return st, nil
}

// refreshDecision replaces a stale cached pod; on failure the old decision
// keeps serving.
func (c *Coordinator) refreshDecision(ctx context.Context, ch *ChannelConfig, st *AdBreakState, manual *ManualCue, now time.Time, log *slog.Logger) {
	pod, err := c.Engine.Decide(ctx, decisionRequest(ch, st.DurationSec, manual))
	if err != nil {
		log.Warn("decision refresh failed, keeping stale pod", "cueId", st.ID, "err", err)
		return
	}
	st.Decision = pod
	st.PodID = pod.PodID
	st.AdActualDurationSec = podDuration(pod)
	st.DecisionCalculatedAtMs = now.UnixMilli()
}

func decisionRequest(ch *ChannelConfig, durationSec float64, manual *ManualCue) decision.Request {
	req := decision.Request{
		Org:         ch.Org,
		Channel:     ch.Slug,
		DurationSec: durationSec,
		ChannelTier: ch.Tier,
		VASTURL:     ch.VASTURL,
		SlatePodID:  ch.SlatePodID,
	}
	if manual != nil {
		req.PinnedPodID = manual.PodID
		req.PinnedPodURL = manual.PodURL
	}
	return req
}

// activeCue merges the three cue sources by priority: manual, SCTE-35,
// schedule. Within SCTE-35, a return cue for the active break wins over
// start cues still present in the rolling window.
func (c *Coordinator) activeCue(ctx context.Context, ch *ChannelConfig, originText string, st *AdBreakState, now time.Time, log *slog.Logger) (*scte35.Signal, string, *ManualCue) {
	if manual, err := c.Breaks.LoadManualCue(ctx, ch.Org, ch.Slug, now); err == nil && manual != nil {
		sig := scte35.ManualCueSignal(
			fmt.Sprintf("manual-%d", manual.StartedAtMs),
			0, time.UnixMilli(manual.StartedAtMs), manual.DurationSec)
		return sig, "manual", manual
	}

	if ch.SCTE35AutoInsert {
		signals := scte35.ParseDateRanges(originText)
		var start, ret *scte35.Signal
		for i := range signals {
			sig := &signals[i]
			switch {
			case sig.Type == scte35.SignalReturn:
				if st != nil && st.HasEvent(sig.StableID()) {
					return sig, "scte35", nil
				}
				if ret == nil {
					ret = sig
				}
			case sig.IsStart():
				if start == nil {
					start = sig
				}
			}
		}
		if st != nil && ret != nil {
			return ret, "scte35", nil
		}
		if start != nil {
			return start, "scte35", nil
		}
		if ret != nil {
			return ret, "scte35", nil
		}
	}

	if ch.TimeBasedAutoInsert && ch.TimeBasedCron != "" {
		sched, err := ParseSchedule(ch.TimeBasedCron)
		if err != nil {
			log.Warn("bad channel schedule", "cron", ch.TimeBasedCron, "err", err)
			return nil, "", nil
		}
		if fire, ok := sched.ActiveAt(now, ch.DefaultAdDurationSec); ok {
			sig := scte35.ManualCueSignal(scheduleCueID(fire), 0, fire, ch.DefaultAdDurationSec)
			return sig, "schedule", nil
		}
	}
	return nil, "", nil
}

// renderBreak rewrites the playlist for an active break and enqueues
// impression beacons.
func (c *Coordinator) renderBreak(ctx context.Context, r *http.Request, ch *ChannelConfig, st *AdBreakState, variantPath, originText string, profile hls.ViewerProfile, bucket int64, log *slog.Logger) *PlaylistResponse {
	if st.Decision == nil {
		return c.passThrough(ch, variantPath, originText, bucket, "no decision for break")
	}

	item, err := decision.SelectItem(st.Decision, profile.BitrateBps, profile.AudioOnly)
	if err != nil {
		if profile.AudioOnly {
			log.Info("no audio-only pod available, passing through", "podId", st.PodID)
		} else {
			log.Warn("no eligible pod item, passing through", "podId", st.PodID, "err", err)
		}
		return c.passThrough(ch, variantPath, originText, bucket, "no eligible pod item")
	}

	origin, err := hls.ParseMediaPlaylist(originText)
	if err != nil {
		log.Warn("origin playlist unparseable, passing through", "kind", "RewriteError", "err", err)
		return c.passThrough(ch, variantPath, originText, bucket, "unparseable origin playlist")
	}
	pdtCache := hls.NewPDTCache()
	pdtIndex := pdtCache.Index(originText, origin)

	mode := st.Mode
	if mode == ModeAuto {
		mode = detectMode(r, ch)
		// Pin the detected mode for the rest of the break.
		st.Mode = mode
	}

	adSegments, err := c.hydrateSegments(ctx, item)
	if err != nil {
		log.Warn("ad segments unavailable", "podId", st.PodID, "err", err)
	}

	req := hls.RewriteRequest{
		StartPDT:             st.StartPDT,
		ContractDurationSec:  st.DurationSec,
		AdSegments:           adSegments,
		PadSegments:          c.slatePadSegments(ctx, ch, st, profile),
		PersistedSkip:        st.ContentSegmentsToSkip,
		InterstitialID:       "break-" + st.ID,
		AssetURI:             item.PlaylistURL,
		AnnouncedDurationSec: st.AnnouncedDurationSec,
		PlayoutRestrictions:  ch.InterstitialControl,
		SCTE35CueOut:         st.SCTE35Payload,
	}

	var res hls.RewriteResult
	switch mode {
	case ModeSGAI:
		res = hls.RewriteSGAI(origin, originText, pdtIndex, req)
		if !res.PassThrough && res.AdDurationSec > st.AnnouncedDurationSec {
			st.AnnouncedDurationSec = res.AdDurationSec
		}
	default:
		res = hls.RewriteSSAI(origin, originText, pdtIndex, req)
		if res.PassThrough {
			// SSAI could not run; SGAI still works for clients that grok
			// interstitials.
			if isAppleNativeClient(r) {
				res = hls.RewriteSGAI(origin, originText, pdtIndex, req)
			}
		} else {
			c.persistSkip(st, &res, log)
		}
	}
	for _, d := range res.Diagnostics {
		log.Info("rewrite diagnostic", "cueId", st.ID, "detail", d)
	}
	if res.PassThrough {
		metricsInsertFailed(mode)
		return &PlaylistResponse{
			Body:        res.Manifest,
			MaxAgeS:     c.playlistMaxAge(ch),
			ETag:        responseETag(ch.key(), variantPath, "pass", st.StartedAtMs, bucket),
			PassThrough: true,
			Diagnostics: res.Diagnostics,
		}
	}

	metricsInsertOK(mode)
	c.enqueueImpressions(ctx, r, st, item, log)

	return &PlaylistResponse{
		Body:        res.Manifest,
		MaxAgeS:     c.playlistMaxAge(ch),
		ETag:        responseETag(ch.key(), variantPath, mode, st.StartedAtMs, bucket),
		Diagnostics: res.Diagnostics,
	}
}

// persistSkip records the first successful rewrite's skip count; later
// disagreements are telemetry only, never overwrites.
func (c *Coordinator) persistSkip(st *AdBreakState, res *hls.RewriteResult, log *slog.Logger) {
	if st.ContentSegmentsToSkip == nil {
		skip := res.Skipped
		st.ContentSegmentsToSkip = &skip
		st.SkippedDurationSec = res.SkippedDurationSec
		return
	}
	if *st.ContentSegmentsToSkip != res.Skipped {
		metricsSkipMismatch()
		log.Warn("skip count mismatch",
			"cueId", st.ID, "persisted", *st.ContentSegmentsToSkip, "computed", res.Skipped)
	}
}

// slatePadSegments supplies slate media for padding a short pod. A slate
// decision pads itself, so it gets none.
func (c *Coordinator) slatePadSegments(ctx context.Context, ch *ChannelConfig, st *AdBreakState, profile hls.ViewerProfile) []hls.AdSegment {
	if ch.SlatePodID == "" || st.Decision.Source == decision.SourceSlate {
		return nil
	}
	slate, err := c.Engine.LoadPod(ctx, ch.SlatePodID)
	if err != nil {
		return nil
	}
	item, err := decision.SelectItem(slate, profile.BitrateBps, profile.AudioOnly)
	if err != nil {
		return nil
	}
	segs, err := c.hydrateSegments(ctx, item)
	if err != nil {
		return nil
	}
	return segs
}

// hydrateSegments fills an item's segment list, fetching its HLS rendition
// playlist when the descriptor carries none. Hydrated lists are cached on
// the item inside the persisted decision.
func (c *Coordinator) hydrateSegments(ctx context.Context, item *decision.AdPodItem) ([]hls.AdSegment, error) {
	if len(item.Segments) == 0 && isPlaylistPath(item.PlaylistURL) {
		text, err := c.Origin.FetchPlaylist(ctx, item.PlaylistURL, "")
		if err != nil {
			return nil, err
		}
		p, err := hls.ParseMediaPlaylist(text)
		if err != nil {
			return nil, err
		}
		for _, seg := range p.Segments {
			uri := seg.URI
			if abs, err := resolveURL(item.PlaylistURL, seg.URI); err == nil {
				uri = abs
			}
			item.Segments = append(item.Segments, decision.Segment{URI: uri, DurationSec: seg.DurationSec})
		}
	}
	out := make([]hls.AdSegment, 0, len(item.Segments))
	for _, s := range item.Segments {
		out = append(out, hls.AdSegment{URI: s.URI, DurationSec: s.DurationSec})
	}
	return out, nil
}

// enqueueImpressions sends one impression beacon per viewer session. The
// consumer's dedup store absorbs rolling-manifest repeats.
func (c *Coordinator) enqueueImpressions(ctx context.Context, r *http.Request, st *AdBreakState, item *decision.AdPodItem, log *slog.Logger) {
	urls := item.Trackers.Impression
	if len(urls) == 0 {
		return
	}
	err := c.Beacons.Enqueue(ctx, beacon.Message{
		AdID:        item.AdID,
		Event:       "imp",
		SessionHint: sessionHint(r),
		TrackerURLs: urls,
	})
	if err != nil {
		// Beacon failures never fail the viewer response.
		log.Error("impression enqueue failed", "adId", item.AdID, "err", err)
	}
}

// sessionHint identifies a viewer session for beacon dedup: an explicit sid,
// the Apple playback session, or a per-connection fallback.
func sessionHint(r *http.Request) string {
	if sid := r.URL.Query().Get("sid"); sid != "" {
		return sid
	}
	if psid := r.Header.Get("X-Playback-Session-Id"); psid != "" {
		return psid
	}
	return r.RemoteAddr + "|" + r.UserAgent()
}

func podDuration(pod *decision.AdPod) float64 {
	if pod.DurationSec > 0 {
		return pod.DurationSec
	}
	var max float64
	for _, item := range pod.Items {
		if item.DurationSec > max {
			max = item.DurationSec
		}
	}
	return max
}

func (c *Coordinator) playlistMaxAge(ch *ChannelConfig) int {
	if ch.PlaylistMaxAgeS > 0 {
		return ch.PlaylistMaxAgeS
	}
	return windowBucketS
}

func (c *Coordinator) passThrough(ch *ChannelConfig, variantPath, originText string, bucket int64, diags ...string) *PlaylistResponse {
	return &PlaylistResponse{
		Body:        originText,
		MaxAgeS:     c.playlistMaxAge(ch),
		ETag:        responseETag(ch.key(), variantPath, "pass", 0, bucket),
		PassThrough: true,
		Diagnostics: diags,
	}
}

func responseETag(channelKey, variant, mode string, stateVersion, bucket int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d|%d", channelKey, variant, mode, stateVersion, bucket))
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

// newSessionID backs the cue API's returned break handles.
func newSessionID() string {
	return uuid.NewString()
}
