package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvideo-live/splicer/pkg/decision"
	"github.com/openvideo-live/splicer/pkg/vast"
)

// liveOriginServer serves a fresh 10x2.0s manifest anchored just behind wall
// clock, so manual cues land inside the window.
func liveOriginServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := time.Now().UTC().Add(-10 * time.Second).Truncate(time.Second)
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:100\n")
		for i := 0; i < 10; i++ {
			pdt := base.Add(time.Duration(i) * 2 * time.Second)
			fmt.Fprintf(&b, "#EXT-X-PROGRAM-DATE-TIME:%s\n", pdt.Format("2006-01-02T15:04:05.000Z07:00"))
			fmt.Fprintf(&b, "#EXTINF:2.000,\nseg%d.ts\n", 100+i)
		}
		w.Header().Set("Content-Type", contentTypeHLS)
		_, _ = w.Write([]byte(b.String()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedPodFile(t *testing.T, storeRoot, podID, trackerURL string) {
	t.Helper()
	pod := &decision.AdPod{
		PodID:       podID,
		DurationSec: 6,
		Items: []decision.AdPodItem{{
			AdID:        "ad1",
			BitrateBps:  2_000_000,
			PlaylistURL: "http://ads.example/ad.m3u8",
			DurationSec: 6,
			Segments: []decision.Segment{
				{URI: "http://ads.example/ad0.ts", DurationSec: 2},
				{URI: "http://ads.example/ad1.ts", DurationSec: 2},
				{URI: "http://ads.example/ad2.ts", DurationSec: 2},
			},
			Trackers: vast.TrackerSet{Impression: []string{trackerURL}},
		}},
	}
	body, err := json.Marshal(pod)
	require.NoError(t, err)
	dir := path.Join(storeRoot, "pods", podID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path.Join(dir, "pod.json"), body, 0o644))
}

func newAPITestServer(t *testing.T) (*httptest.Server, *httptest.Server) {
	t.Helper()
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(tracker.Close)

	cfg := DefaultConfig
	cfg.StoreRoot = t.TempDir()
	cfg.LogFormat = "discard"
	seedPodFile(t, cfg.StoreRoot, "slate", tracker.URL+"/imp")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	server, err := SetupServer(ctx, &cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)

	origin := liveOriginServer(t)
	return ts, origin
}

func doJSON(t *testing.T, method, url string, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestAPIChannelAndCueLifecycle(t *testing.T) {
	ts, origin := newAPITestServer(t)

	// Create the channel.
	chBody := fmt.Sprintf(`{"originUrl":%q,"mode":"ssai","slatePodId":"slate","defaultAdDurationSec":30}`,
		origin.URL+"/")
	resp, _ := doJSON(t, "PUT", ts.URL+"/api/channels/acme/news", chBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, "GET", ts.URL+"/api/channels/acme/news", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"slatePodId":"slate"`)

	// No cue yet: viewer sees the origin manifest untouched.
	resp, body = doJSON(t, "GET", ts.URL+"/acme/news/scte35-video=2000000.m3u8", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeHLS, resp.Header.Get("Content-Type"))
	assert.NotContains(t, body, "ad0.ts")

	// No active break either.
	resp, _ = doJSON(t, "GET", ts.URL+"/api/channels/acme/news/break", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Fire a manual cue and replay the viewer request.
	resp, _ = doJSON(t, "POST", ts.URL+"/api/channels/acme/news/cue", `{"durationSec":30}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = doJSON(t, "GET", ts.URL+"/acme/news/scte35-video=2000000.m3u8", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ad0.ts")
	assert.Contains(t, body, "#EXT-X-DISCONTINUITY")

	resp, body = doJSON(t, "GET", ts.URL+"/api/channels/acme/news/break", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"podId":"slate"`)

	// Stop the break.
	resp, body = doJSON(t, "DELETE", ts.URL+"/api/channels/acme/news/cue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"stopped":true`)

	resp, _ = doJSON(t, "GET", ts.URL+"/api/channels/acme/news/break", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewerCueEndpoint(t *testing.T) {
	ts, origin := newAPITestServer(t)

	chBody := fmt.Sprintf(`{"originUrl":%q,"mode":"ssai","slatePodId":"slate","defaultAdDurationSec":30}`,
		origin.URL+"/")
	resp, _ := doJSON(t, "PUT", ts.URL+"/api/channels/acme/news", chBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Start a break through the viewer-facing cue endpoint.
	resp, body := doJSON(t, "POST", ts.URL+"/acme/news/cue", `{"duration_sec":30}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, body, `"durationSec":30`)

	resp, body = doJSON(t, "GET", ts.URL+"/acme/news/scte35-video=2000000.m3u8", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ad0.ts")

	// Rejects a start without a duration.
	resp, _ = doJSON(t, "POST", ts.URL+"/acme/news/cue", `{"pod_id":"slate"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The stop form ends the break.
	resp, body = doJSON(t, "POST", ts.URL+"/acme/news/cue", `{"stop":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"stopped":true`)

	resp, body = doJSON(t, "GET", ts.URL+"/acme/news/scte35-video=2000000.m3u8", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "ad0.ts")
}

func TestAPIUnknownChannel(t *testing.T) {
	ts, _ := newAPITestServer(t)

	resp, _ := doJSON(t, "GET", ts.URL+"/api/channels/acme/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, "POST", ts.URL+"/api/channels/acme/nope/cue", `{"durationSec":30}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, "GET", ts.URL+"/acme/nope/v.m3u8", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIChannelRequiresOrigin(t *testing.T) {
	ts, _ := newAPITestServer(t)
	resp, _ := doJSON(t, "PUT", ts.URL+"/api/channels/acme/news", `{"mode":"ssai"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts, _ := newAPITestServer(t)
	resp, body := doJSON(t, "GET", ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", body)
}
