package app

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openvideo-live/splicer/pkg/storage"
)

// segmentHandlerFunc proxies media segments from the origin untouched.
func (s *Server) segmentHandlerFunc(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	slug := chi.URLParam(r, "channel")
	segPath := chi.URLParam(r, "*")

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

	if err := s.origin.ProxySegment(r.Context(), w, ch.OriginURL, segPath, s.Cfg.SegmentMaxAgeS); err != nil {
		slog.Warn("segment proxy", "org", org, "channel", slug, "path", segPath, "err", err)
	}
}

// mediaHandlerFunc dispatches one viewer request by path type.
func (s *Server) mediaHandlerFunc(w http.ResponseWriter, r *http.Request) {
	if isPlaylistPath(r.URL.Path) {
		s.playlistHandlerFunc(w, r)
		return
	}
	s.segmentHandlerFunc(w, r)
}
