package app

import (
	"net/http"
	"strings"
)

// detectMode picks the insertion mode for one request, in priority order:
// explicit query override, channel config, client feature inference, SSAI.
func detectMode(r *http.Request, ch *ChannelConfig) string {
	q := r.URL.Query()
	if m := q.Get("force"); m == ModeSSAI || m == ModeSGAI {
		return m
	}
	if m := q.Get("mode"); m == ModeSSAI || m == ModeSGAI {
		return m
	}
	if ch.Mode == ModeSSAI || ch.Mode == ModeSGAI {
		return ch.Mode
	}
	if isAppleNativeClient(r) {
		return ModeSGAI
	}
	return ModeSSAI
}

// isAppleNativeClient infers an AVPlayer-family client that understands HLS
// interstitials. Browser engines and hls.js players masquerading behind
// Safari UAs are excluded.
func isAppleNativeClient(r *http.Request) bool {
	// AVFoundation sends a playback session id; nothing else does.
	if r.Header.Get("X-Playback-Session-Id") != "" {
		return true
	}
	ua := r.UserAgent()
	if strings.Contains(ua, "AppleCoreMedia") {
		return true
	}
	if strings.Contains(ua, "hls.js") || strings.Contains(ua, "Chrome") ||
		strings.Contains(ua, "CriOS") || strings.Contains(ua, "wv") {
		return false
	}
	if strings.Contains(ua, "Safari") &&
		(strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") ||
			strings.Contains(ua, "Macintosh") || strings.Contains(ua, "AppleTV")) {
		return true
	}
	return false
}
