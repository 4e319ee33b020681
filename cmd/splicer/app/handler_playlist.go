package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openvideo-live/splicer/pkg/storage"
)

// playlistHandlerFunc serves viewer playlist requests:
// GET /{org}/{channel}/{variant...}.m3u8
func (s *Server) playlistHandlerFunc(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	slug := chi.URLParam(r, "channel")
	variantPath := chi.URLParam(r, "*")

	ch, err := s.channels.Get(r.Context(), org, slug)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("channel config load", "org", org, "channel", slug, "err", err)
		http.Error(w, "channel config unavailable", http.StatusInternalServerError)
		return
	}

	resp, err := s.coordinator.HandlePlaylist(r.Context(), r, ch, variantPath)
	if errors.Is(err, ErrOriginFetch) {
		slog.Warn("origin unavailable", "org", org, "channel", slug, "err", err)
		http.Error(w, "origin unavailable", http.StatusBadGateway)
		return
	}
	if err != nil {
		slog.Error("playlist handling", "org", org, "channel", slug, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if resp.ETag != "" && r.Header.Get("If-None-Match") == resp.ETag {
		w.Header().Set("ETag", resp.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentTypeHLS)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", resp.MaxAgeS))
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
	}
	_, _ = w.Write([]byte(resp.Body))
}
