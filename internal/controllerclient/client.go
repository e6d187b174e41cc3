// Package controllerclient is a thin outbound HTTP client for the
// Footron controller service. It mirrors footron_api/data/controller.py:
// cached GETs for the read-through proxy surface, uncached mutators for
// the handful of writes the auth/router core depends on.
package controllerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/BYU-PCCL/footron-api/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	endpointExperiences       = "/experiences"
	endpointCollections       = "/collections"
	endpointFolders           = "/folders"
	endpointCurrentExperience = "/current"
	endpointPlacardExperience = "/placard/experience"
	endpointPlacardURL        = "/placard/url"

	fieldLastUpdate = "last_update"

	defaultTimeout = 5 * time.Second

	// requestRateLimit caps outbound calls to the controller so that a
	// burst of lock transitions or a misbehaving caller can't turn
	// spec §7's "log and continue" on controller failure into a hot
	// retry loop.
	requestRateLimit   rate.Limit = 20
	requestBurstLimit  int        = 10
)

// JSON is a loosely-typed JSON object, matching the original's JsonDict alias.
type JSON = map[string]any

// Client talks to the controller's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	limiter *rate.Limiter

	mu                sync.Mutex
	experiences       JSON
	collections       JSON
	folders           JSON
	currentExperience JSON
	lastUpdate        any
}

// New builds a Client against baseURL (e.g. FT_CONTROLLER_URL).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log.With().Str("component", "controllerclient").Logger(),
		limiter: rate.NewLimiter(requestRateLimit, requestBurstLimit),
	}
}

func (c *Client) url(endpoint string) string {
	return c.baseURL + endpoint
}

func (c *Client) getJSON(ctx context.Context, endpoint string) (JSON, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(endpoint), nil)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req)
}

func (c *Client) putJSON(ctx context.Context, endpoint string, body JSON) (JSON, error) {
	return c.sendJSON(ctx, http.MethodPut, endpoint, body)
}

func (c *Client) patchJSON(ctx context.Context, endpoint string, body JSON) (JSON, error) {
	return c.sendJSON(ctx, http.MethodPatch, endpoint, body)
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint string, body JSON) (JSON, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("controllerclient: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req)
}

func (c *Client) doJSON(req *http.Request) (JSON, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("controllerclient: rate limit wait: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordControllerRequest(req.URL.Path, "error")
		return nil, fmt.Errorf("controllerclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordControllerRequest(req.URL.Path, "error")
		return nil, fmt.Errorf("controllerclient: read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		metrics.RecordControllerRequest(req.URL.Path, "error")
		return nil, fmt.Errorf("controllerclient: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if len(data) == 0 {
		metrics.RecordControllerRequest(req.URL.Path, "ok")
		return JSON{}, nil
	}

	var out JSON
	if err := json.Unmarshal(data, &out); err != nil {
		metrics.RecordControllerRequest(req.URL.Path, "error")
		return nil, fmt.Errorf("controllerclient: decode response: %w", err)
	}
	metrics.RecordControllerRequest(req.URL.Path, "ok")
	return out, nil
}

func experienceViewFields(id string) JSON {
	return JSON{
		"thumbnails": JSON{
			"wide":  fmt.Sprintf("/static/icons/wide/%s.jpg", id),
			"thumb": fmt.Sprintf("/static/icons/thumbs/%s.jpg", id),
		},
	}
}

func merge(dst JSON, src JSON) JSON {
	out := JSON{}
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Experiences returns the experience catalog, cached until Reset or a
// detected current-experience change.
func (c *Client) Experiences(ctx context.Context, useCache bool) (JSON, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.experiences != nil && useCache {
		return c.experiences, nil
	}

	raw, err := c.getJSON(ctx, endpointExperiences)
	if err != nil {
		return nil, err
	}

	out := JSON{}
	for id, v := range raw {
		exp, ok := v.(JSON)
		if !ok {
			continue
		}
		if unlisted, ok := exp["unlisted"].(bool); ok && unlisted {
			continue
		}
		out[id] = merge(exp, experienceViewFields(id))
	}
	c.experiences = out
	return out, nil
}

// Collections returns the collection catalog, cached until Reset.
func (c *Client) Collections(ctx context.Context, useCache bool) (JSON, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collections != nil && useCache {
		return c.collections, nil
	}

	raw, err := c.getJSON(ctx, endpointCollections)
	if err != nil {
		return nil, err
	}
	c.collections = raw
	return raw, nil
}

// Folders returns folders enriched with the featured experience's view
// fields and colors, cached until Reset.
func (c *Client) Folders(ctx context.Context, useCache bool) (JSON, error) {
	experiences, err := c.Experiences(ctx, useCache)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.folders != nil && useCache {
		return c.folders, nil
	}

	raw, err := c.getJSON(ctx, endpointFolders)
	if err != nil {
		return nil, err
	}

	out := JSON{}
	for id, v := range raw {
		folder, ok := v.(JSON)
		if !ok {
			continue
		}
		featured, _ := folder["featured"].(string)
		colors := JSON{}
		if exp, ok := experiences[featured].(JSON); ok {
			if c2, ok := exp["colors"].(JSON); ok {
				colors = c2
			}
		}
		merged := merge(folder, experienceViewFields(featured))
		merged["colors"] = colors
		out[id] = merged
	}
	c.folders = out
	return out, nil
}

// CurrentExperience returns the currently showing experience,
// invalidating the rest of the response cache whenever the
// controller's last_update field advances -- exactly the behavior of
// the original's ControllerApi.current_experience/_invalidate_cache.
func (c *Client) CurrentExperience(ctx context.Context, useCache bool) (JSON, error) {
	c.mu.Lock()
	stale := c.currentExperience == nil || !useCache
	if !stale {
		if _, ok := c.currentExperience[fieldLastUpdate]; !ok {
			stale = true
		}
	}
	c.mu.Unlock()

	if !stale {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.currentExperience, nil
	}

	raw, err := c.getJSON(ctx, endpointCurrentExperience)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return JSON{}, nil
	}

	id, _ := raw["id"].(string)
	current := merge(raw, experienceViewFields(id))

	c.mu.Lock()
	defer c.mu.Unlock()
	if lu, ok := current[fieldLastUpdate]; ok && lu != c.lastUpdate {
		c.lastUpdate = lu
		c.invalidateLocked()
	}
	c.currentExperience = current
	return current, nil
}

// SetCurrentExperience issues the PUT that switches the active experience.
func (c *Client) SetCurrentExperience(ctx context.Context, id string) (JSON, error) {
	return c.putJSON(ctx, endpointCurrentExperience, JSON{"id": id})
}

// PatchCurrentExperience forwards arbitrary fields (end_time, lock,
// last_interaction) to the controller unchanged, per spec §4.B.
func (c *Client) PatchCurrentExperience(ctx context.Context, fields JSON) error {
	_, err := c.patchJSON(ctx, endpointCurrentExperience, fields)
	if err != nil {
		c.log.Error().Err(err).Msg("patch current experience failed")
	}
	return err
}

// PlacardExperience reads the placard's experience view.
func (c *Client) PlacardExperience(ctx context.Context) (JSON, error) {
	return c.getJSON(ctx, endpointPlacardExperience)
}

// PatchPlacardExperience forwards updates to the placard's experience view.
func (c *Client) PatchPlacardExperience(ctx context.Context, updates JSON) error {
	_, err := c.patchJSON(ctx, endpointPlacardExperience, updates)
	return err
}

// GetPlacard fetches the placard's current state, used once per
// second by the AuthManager's watchdog to detect a cleared URL. No
// caching, per spec §4.B ("used once per second to detect and repair
// a cleared placard URL").
func (c *Client) GetPlacard(ctx context.Context) (JSON, error) {
	return c.getJSON(ctx, endpointPlacardURL)
}

// PatchPlacardURL pushes a new placard QR target, or the literal
// string "lock" when url is nil (no next_code to advertise).
func (c *Client) PatchPlacardURL(ctx context.Context, url *string) error {
	value := any("lock")
	if url != nil {
		value = *url
	}
	_, err := c.patchJSON(ctx, endpointPlacardURL, JSON{"url": value})
	if err != nil {
		c.log.Error().Err(err).Msg("patch placard url failed")
	}
	return err
}

// Reset clears the response cache, as the original's ControllerApi.reset() does.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Client) invalidateLocked() {
	c.experiences = nil
	c.collections = nil
	c.folders = nil
	c.currentExperience = nil
}
