package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const originMaxBodyBytes = 8 << 20

// OriginClient fetches playlists and proxies segments from a channel's
// origin. Playlist fetch failures surface as ErrOriginFetch and become 502s;
// we never fabricate a playlist.
type OriginClient struct {
	Client *http.Client
}

func NewOriginClient(timeout time.Duration) *OriginClient {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &OriginClient{Client: &http.Client{Timeout: timeout}}
}

// resolveURL joins the origin base URL with a relative path.
func resolveURL(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("origin url: %w", err)
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("origin path: %w", err)
	}
	return base.ResolveReference(rel).String(), nil
}

// FetchPlaylist retrieves a manifest as text.
func (o *OriginClient) FetchPlaylist(ctx context.Context, baseURL, path string) (string, error) {
	full, err := resolveURL(baseURL, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOriginFetch, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOriginFetch, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOriginFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: status %d", ErrOriginFetch, full, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, originMaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOriginFetch, err)
	}
	return string(body), nil
}

// ProxySegment streams a segment from the origin to the viewer without
// decoding it.
func (o *OriginClient) ProxySegment(ctx context.Context, w http.ResponseWriter, baseURL, path string, maxAgeS int) error {
	full, err := resolveURL(baseURL, path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAgeS))
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}

// isPlaylistPath reports whether a viewer path names a manifest rather than
// a media segment.
func isPlaylistPath(p string) bool {
	return strings.HasSuffix(p, ".m3u8")
}
