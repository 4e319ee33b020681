package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/openvideo-live/splicer/pkg/storage"
)

type channelInput struct {
	Org     string `path:"org" maxLength:"64" example:"acme" doc:"Organization slug"`
	Channel string `path:"channel" maxLength:"64" example:"news24" doc:"Channel slug"`
}

// ManualCueSetup is the operator request that starts an ad break now.
type ManualCueSetup struct {
	DurationSec float64 `json:"durationSec" minimum:"1" maximum:"600" example:"30" doc:"Break duration in seconds"`
	PodID       string  `json:"podId,omitempty" doc:"Pin a specific ad pod from the object store"`
	PodURL      string  `json:"podUrl,omitempty" doc:"Pin an ad rendition URL directly"`
	Mode        string  `json:"mode,omitempty" doc:"Override the channel's insertion mode for this break (ssai or sgai)"`
}

type cueCreateRequest struct {
	channelInput
	Body ManualCueSetup `json:"body"`
}

type cueCreateResponse struct {
	Body struct {
		ID          string  `json:"id" doc:"Handle for the created cue"`
		Org         string  `json:"org"`
		Channel     string  `json:"channel"`
		DurationSec float64 `json:"durationSec"`
	}
}

type cueDeleteResponse struct {
	Body struct {
		Stopped bool `json:"stopped" doc:"Whether an active break was stopped"`
	}
}

type breakStateResponse struct {
	Body AdBreakState
}

type channelConfigRequest struct {
	channelInput
	Body ChannelConfig `json:"body"`
}

type channelConfigResponse struct {
	Body ChannelConfig
}

func createCueHdlr(s *Server) func(ctx context.Context, in *cueCreateRequest) (*cueCreateResponse, error) {
	return func(ctx context.Context, in *cueCreateRequest) (*cueCreateResponse, error) {
		if _, err := s.channels.Get(ctx, in.Org, in.Channel); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, huma.Error404NotFound(fmt.Sprintf("channel %s/%s not found", in.Org, in.Channel))
			}
			return nil, err
		}
		cue := &ManualCue{
			DurationSec: in.Body.DurationSec,
			PodID:       in.Body.PodID,
			PodURL:      in.Body.PodURL,
			Mode:        in.Body.Mode,
			StartedAtMs: time.Now().UnixMilli(),
		}
		if err := s.breaks.SaveManualCue(ctx, in.Org, in.Channel, cue); err != nil {
			return nil, err
		}
		resp := &cueCreateResponse{}
		resp.Body.ID = newSessionID()
		resp.Body.Org = in.Org
		resp.Body.Channel = in.Channel
		resp.Body.DurationSec = cue.DurationSec
		return resp, nil
	}
}

func deleteCueHdlr(s *Server) func(ctx context.Context, in *channelInput) (*cueDeleteResponse, error) {
	return func(ctx context.Context, in *channelInput) (*cueDeleteResponse, error) {
		st, err := s.breaks.LoadBreak(ctx, in.Org, in.Channel, time.Now())
		if err != nil {
			return nil, err
		}
		if err := s.breaks.DeleteManualCue(ctx, in.Org, in.Channel); err != nil {
			return nil, err
		}
		if err := s.breaks.DeleteBreak(ctx, in.Org, in.Channel); err != nil {
			return nil, err
		}
		resp := &cueDeleteResponse{}
		resp.Body.Stopped = st != nil
		return resp, nil
	}
}

func getBreakHdlr(s *Server) func(ctx context.Context, in *channelInput) (*breakStateResponse, error) {
	return func(ctx context.Context, in *channelInput) (*breakStateResponse, error) {
		st, err := s.breaks.LoadBreak(ctx, in.Org, in.Channel, time.Now())
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("no active break for %s/%s", in.Org, in.Channel))
		}
		return &breakStateResponse{Body: *st}, nil
	}
}

func putChannelHdlr(s *Server) func(ctx context.Context, in *channelConfigRequest) (*channelConfigResponse, error) {
	return func(ctx context.Context, in *channelConfigRequest) (*channelConfigResponse, error) {
		cfg := in.Body
		cfg.Org = in.Org
		cfg.Slug = in.Channel
		if cfg.OriginURL == "" {
			return nil, huma.Error400BadRequest("originUrl is required")
		}
		if err := s.channels.Put(ctx, &cfg); err != nil {
			return nil, err
		}
		return &channelConfigResponse{Body: cfg}, nil
	}
}

func getChannelHdlr(s *Server) func(ctx context.Context, in *channelInput) (*channelConfigResponse, error) {
	return func(ctx context.Context, in *channelInput) (*channelConfigResponse, error) {
		cfg, err := s.channels.Get(ctx, in.Org, in.Channel)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, huma.Error404NotFound(fmt.Sprintf("channel %s/%s not found", in.Org, in.Channel))
			}
			return nil, err
		}
		return &channelConfigResponse{Body: *cfg}, nil
	}
}

type assetNotifyRequest struct {
	Body TranscodeJob `json:"body"`
}

type assetNotifyResponse struct {
	Body struct {
		Queued bool `json:"queued"`
	}
}

// notifyAssetHdlr turns an ad-upload notification into a transcode job on
// the queue.
func notifyAssetHdlr(s *Server) func(ctx context.Context, in *assetNotifyRequest) (*assetNotifyResponse, error) {
	return func(ctx context.Context, in *assetNotifyRequest) (*assetNotifyResponse, error) {
		if in.Body.AdID == "" || in.Body.SourceKey == "" {
			return nil, huma.Error400BadRequest("adId and sourceKey are required")
		}
		if err := EnqueueTranscodeJob(ctx, s.queue, in.Body); err != nil {
			return nil, err
		}
		resp := &assetNotifyResponse{}
		resp.Body.Queued = true
		return resp, nil
	}
}

// viewerCueSetup is the playback-surface cue form. Field names follow the
// viewer API's snake_case convention, unlike the operator API.
type viewerCueSetup struct {
	DurationSec float64 `json:"duration_sec"`
	PodID       string  `json:"pod_id"`
	PodURL      string  `json:"pod_url"`
	Stop        bool    `json:"stop"`
}

// cueHandlerFunc starts or stops a manual break on the media surface.
func (s *Server) cueHandlerFunc(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	slug := chi.URLParam(r, "channel")
	ctx := r.Context()

	if _, err := s.channels.Get(ctx, org, slug); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}
		http.Error(w, "channel lookup failed", http.StatusInternalServerError)
		return
	}

	var setup viewerCueSetup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		http.Error(w, "bad cue body", http.StatusBadRequest)
		return
	}

	if setup.Stop {
		stopped := false
		if st, err := s.breaks.LoadBreak(ctx, org, slug, time.Now()); err == nil && st != nil {
			stopped = true
		}
		if err := s.breaks.DeleteManualCue(ctx, org, slug); err != nil {
			http.Error(w, "cue delete failed", http.StatusInternalServerError)
			return
		}
		if err := s.breaks.DeleteBreak(ctx, org, slug); err != nil {
			http.Error(w, "break delete failed", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, map[string]bool{"stopped": stopped}, http.StatusOK)
		return
	}

	if setup.DurationSec <= 0 {
		http.Error(w, "duration_sec must be positive", http.StatusBadRequest)
		return
	}
	cue := &ManualCue{
		DurationSec: setup.DurationSec,
		PodID:       setup.PodID,
		PodURL:      setup.PodURL,
		StartedAtMs: time.Now().UnixMilli(),
	}
	if err := s.breaks.SaveManualCue(ctx, org, slug, cue); err != nil {
		http.Error(w, "cue save failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{
		"id":          newSessionID(),
		"durationSec": cue.DurationSec,
	}, http.StatusCreated)
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("Splicer control API", "1.0.0")
		config.Servers = []*huma.Server{
			{URL: "/api"},
		}
		config.Info.Description = `Operator API for channel configuration and manual ad break control.
		Viewer playback endpoints live outside this API under /{org}/{channel}/.`

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID:   "create-cue",
			Method:        http.MethodPost,
			Path:          "/channels/{org}/{channel}/cue",
			Summary:       "Start an ad break now",
			Description:   "Stores a manual cue that the channel coordinator folds in on the next viewer request.",
			Tags:          []string{"cues"},
			DefaultStatus: http.StatusCreated,
			Errors:        []int{404},
		}, createCueHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "delete-cue",
			Method:      http.MethodDelete,
			Path:        "/channels/{org}/{channel}/cue",
			Summary:     "Stop the active ad break",
			Description: "Removes the manual cue and any active break state for the channel.",
			Tags:        []string{"cues"},
		}, deleteCueHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "get-break",
			Method:      http.MethodGet,
			Path:        "/channels/{org}/{channel}/break",
			Summary:     "Inspect the active ad break",
			Tags:        []string{"cues"},
			Errors:      []int{404},
		}, getBreakHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "put-channel",
			Method:      http.MethodPut,
			Path:        "/channels/{org}/{channel}",
			Summary:     "Create or update a channel",
			Tags:        []string{"channels"},
			Errors:      []int{400},
		}, putChannelHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "get-channel",
			Method:      http.MethodGet,
			Path:        "/channels/{org}/{channel}",
			Summary:     "Get a channel's configuration",
			Tags:        []string{"channels"},
			Errors:      []int{404},
		}, getChannelHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID:   "notify-asset-upload",
			Method:        http.MethodPost,
			Path:          "/assets/notify",
			Summary:       "Enqueue transcoding for an uploaded ad source",
			Description:   "Publishes a transcode job for the renditions an uploaded source still needs.",
			Tags:          []string{"assets"},
			DefaultStatus: http.StatusAccepted,
			Errors:        []int{400},
		}, notifyAssetHdlr(s))
	}
}
