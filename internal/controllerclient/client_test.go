package controllerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL), server
}

func TestExperiencesFiltersUnlistedAndCaches(t *testing.T) {
	calls := 0
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/experiences", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"a": map[string]any{"id": "a"},
			"b": map[string]any{"id": "b", "unlisted": true},
		})
	})

	out, err := client.Experiences(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, out, "a")
	assert.NotContains(t, out, "b")

	_, err = client.Experiences(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call should be served from cache")

	_, err = client.Experiences(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "useCache=false should bypass cache")
}

func TestCurrentExperienceInvalidatesCacheOnLastUpdateChange(t *testing.T) {
	lastUpdate := 1
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/current":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "demo", "last_update": lastUpdate})
		case "/experiences":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	_, err := client.CurrentExperience(context.Background(), true)
	require.NoError(t, err)

	// Prime the experiences cache so we can observe it getting cleared.
	_, err = client.Experiences(context.Background(), true)
	require.NoError(t, err)
	client.mu.Lock()
	primed := client.experiences != nil
	client.mu.Unlock()
	require.True(t, primed)

	// Bypass the cached record (as GET /api/current does) so the changed
	// last_update is actually fetched.
	lastUpdate = 2
	_, err = client.CurrentExperience(context.Background(), false)
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Nil(t, client.experiences, "last_update change should invalidate the whole response cache")
}

func TestPatchPlacardURLSendsLockSentinelWhenNil(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/placard/url", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})

	err := client.PatchPlacardURL(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "lock", gotBody["url"])

	url := "https://example.com/c/ABCD"
	err = client.PatchPlacardURL(context.Background(), &url)
	require.NoError(t, err)
	assert.Equal(t, url, gotBody["url"])
}

func TestDoJSONReturnsErrorOnNon2xx(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetPlacard(context.Background())
	assert.Error(t, err)
}
