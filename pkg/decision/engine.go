package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openvideo-live/splicer/pkg/storage"
	"github.com/openvideo-live/splicer/pkg/vast"
)

// DefaultBudget bounds total decision wall time. On expiry the waterfall
// falls through to whatever step it has reached.
const DefaultBudget = 150 * time.Millisecond

// PodKeyPrefix is the object-store prefix for pod descriptors.
const PodKeyPrefix = "pods/"

// ErrNoPod means the whole waterfall, slate included, came up empty.
var ErrNoPod = errors.New("decision: no pod resolved")

// Request carries everything the waterfall needs for one break.
type Request struct {
	Org         string
	Channel     string
	DurationSec float64

	ViewerBitrateBps int64
	AudioOnly        bool

	// ChannelTier filters VAST ads carrying a seller tier: zero admits all.
	ChannelTier uint32

	VASTURL     string
	PinnedPodID string // manual cue override
	// PinnedPodURL names an ad rendition directly, bypassing the store.
	PinnedPodURL string
	SlatePodID   string
}

// Engine resolves requests to pods. Safe for concurrent use.
type Engine struct {
	Resolver *vast.Resolver
	Store    storage.ObjectStore
	Budget   time.Duration

	sf singleflight.Group
}

func NewEngine(resolver *vast.Resolver, store storage.ObjectStore) *Engine {
	return &Engine{Resolver: resolver, Store: store, Budget: DefaultBudget}
}

// Decide runs the waterfall: pinned pod, VAST, then slate. Each failed step
// is logged and the next one tried; only a missing slate is fatal.
func (e *Engine) Decide(ctx context.Context, req Request) (*AdPod, error) {
	budget := e.Budget
	if budget == 0 {
		budget = DefaultBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	log := slog.With("org", req.Org, "channel", req.Channel)

	if req.PinnedPodURL != "" {
		return podFromURL(req), nil
	}

	if req.PinnedPodID != "" {
		pod, err := e.LoadPod(ctx, req.PinnedPodID)
		if err == nil && e.eligible(pod, req) {
			pod.Source = SourceStore
			return pod, nil
		}
		log.Warn("pinned pod unavailable", "podId", req.PinnedPodID, "err", err)
	}

	if req.VASTURL != "" {
		pod, err := e.podFromVAST(ctx, req)
		if err == nil && e.eligible(pod, req) {
			pod.Source = SourceVAST
			return pod, nil
		}
		log.Warn("vast step failed", "vastUrl", req.VASTURL, "err", err)
	}

	if req.SlatePodID != "" {
		pod, err := e.LoadPod(ctx, req.SlatePodID)
		if err == nil && e.eligible(pod, req) {
			pod.Source = SourceSlate
			return pod, nil
		}
		log.Error("slate pod unavailable", "podId", req.SlatePodID, "err", err)
	}
	return nil, ErrNoPod
}

// eligible checks the pod can actually serve this viewer's stream type.
func (e *Engine) eligible(pod *AdPod, req Request) bool {
	if pod == nil {
		return false
	}
	_, err := SelectItem(pod, req.ViewerBitrateBps, req.AudioOnly)
	return err == nil
}

// podFromURL shapes a directly pinned rendition URL into a single-item pod.
// HLS playlists hydrate their segment lists at rewrite time; anything else
// splices as one progressive segment.
func podFromURL(req Request) *AdPod {
	sum := sha256.Sum256([]byte(req.PinnedPodURL))
	item := AdPodItem{
		AdID:        "url-" + hex.EncodeToString(sum[:4]),
		PlaylistURL: req.PinnedPodURL,
		DurationSec: req.DurationSec,
	}
	if !strings.HasSuffix(req.PinnedPodURL, ".m3u8") {
		item.Segments = []Segment{{URI: req.PinnedPodURL, DurationSec: req.DurationSec}}
	}
	return &AdPod{
		PodID:       item.AdID,
		DurationSec: req.DurationSec,
		Items:       []AdPodItem{item},
		Source:      SourceURL,
	}
}

// LoadPod hydrates a pod descriptor from the object store.
func (e *Engine) LoadPod(ctx context.Context, podID string) (*AdPod, error) {
	body, err := e.Store.Get(ctx, PodKeyPrefix+podID+"/pod.json")
	if err != nil {
		return nil, err
	}
	var pod AdPod
	if err := json.Unmarshal(body, &pod); err != nil {
		return nil, fmt.Errorf("decision: pod %s: %w", podID, err)
	}
	if pod.PodID == "" {
		pod.PodID = podID
	}
	return &pod, nil
}

// podFromVAST resolves the channel's VAST tag and shapes the first eligible
// inline ad into a pod. Concurrent requests for the same tag share one
// resolution.
func (e *Engine) podFromVAST(ctx context.Context, req Request) (*AdPod, error) {
	v, err, _ := e.sf.Do(req.VASTURL, func() (any, error) {
		return e.Resolver.Resolve(ctx, req.VASTURL)
	})
	if err != nil {
		return nil, err
	}
	ads := v.([]vast.Ad)

	sort.SliceStable(ads, func(i, j int) bool { return ads[i].Sequence < ads[j].Sequence })
	for _, ad := range ads {
		if req.ChannelTier != 0 && ad.Tier != 0 && ad.Tier != req.ChannelTier {
			continue
		}
		pod := podFromAd(ad)
		if len(pod.Items) > 0 {
			return pod, nil
		}
	}
	return nil, fmt.Errorf("decision: no tier-eligible vast ad")
}

// podFromAd turns one inline ad into a pod: HLS media files preferred, mp4 as
// fallback, items ascending by bitrate.
func podFromAd(ad vast.Ad) *AdPod {
	pod := &AdPod{
		PodID:       "vast-" + ad.ID,
		DurationSec: ad.Duration.Seconds(),
	}
	files := filesByMIME(ad.MediaFiles, vast.MIMEAppleHLS)
	if len(files) == 0 {
		files = filesByMIME(ad.MediaFiles, vast.MIMEMP4)
	}
	for _, mf := range files {
		item := AdPodItem{
			AdID:        ad.ID,
			BitrateBps:  mf.BitrateBps,
			IsAudioOnly: mf.IsAudioOnly(),
			PlaylistURL: mf.URL,
			DurationSec: ad.Duration.Seconds(),
			Trackers:    ad.Trackers,
		}
		if mf.MIMEType == vast.MIMEMP4 {
			// A progressive file splices as a single segment.
			item.Segments = []Segment{{URI: mf.URL, DurationSec: ad.Duration.Seconds()}}
		}
		pod.Items = append(pod.Items, item)
	}
	// Audio renditions can also hide among the mp4 files when the preferred
	// set was HLS.
	if len(files) > 0 && files[0].MIMEType == vast.MIMEAppleHLS {
		for _, mf := range ad.MediaFiles {
			if mf.IsAudioOnly() && mf.MIMEType != vast.MIMEAppleHLS {
				pod.Items = append(pod.Items, AdPodItem{
					AdID:        ad.ID,
					BitrateBps:  mf.BitrateBps,
					IsAudioOnly: true,
					PlaylistURL: mf.URL,
					DurationSec: ad.Duration.Seconds(),
					Segments:    []Segment{{URI: mf.URL, DurationSec: ad.Duration.Seconds()}},
					Trackers:    ad.Trackers,
				})
			}
		}
	}
	sort.SliceStable(pod.Items, func(i, j int) bool {
		return pod.Items[i].BitrateBps < pod.Items[j].BitrateBps
	})
	return pod
}

func filesByMIME(files []vast.MediaFile, mime string) []vast.MediaFile {
	var out []vast.MediaFile
	for _, f := range files {
		if f.MIMEType == mime {
			out = append(out, f)
		}
	}
	return out
}
