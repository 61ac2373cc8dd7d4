package dummy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func get(t *testing.T, h http.Handler, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("API_KEY", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AllowsThenBlocks(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := Handler(ServerConfig{Rate: 1, Burst: 3, BlockFor: 10 * time.Second, KeyHeader: "API_KEY", now: clock.now})

	for i := 0; i < 3; i++ {
		rec := get(t, h, "/", "k1")
		require.Equal(t, http.StatusOK, rec.Code)
		remaining, err := strconv.Atoi(rec.Header().Get("X-Ratelimit-Remaining"))
		require.NoError(t, err)
		assert.Equal(t, 2-i, remaining)
		_, err = time.Parse(time.RFC3339, rec.Header().Get("X-Ratelimit-Reset"))
		assert.NoError(t, err)
	}

	rec := get(t, h, "/", "k1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
	until, err := time.Parse(time.RFC3339, body["block_until"])
	require.NoError(t, err)
	assert.True(t, clock.now().Add(10*time.Second).Equal(until), "block_until %s", until)

	// Tokens refill but the key stays blocked for the whole window.
	clock.advance(5 * time.Second)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/", "k1").Code)

	clock.advance(6 * time.Second)
	assert.Equal(t, http.StatusOK, get(t, h, "/", "k1").Code)
}

func TestHandler_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	h := Handler(ServerConfig{Rate: 1, Burst: 1, BlockFor: time.Minute, KeyHeader: "API_KEY", now: clock.now})

	assert.Equal(t, http.StatusOK, get(t, h, "/", "a").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/", "a").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/", "b").Code)

	// No API key falls back to the client address.
	assert.Equal(t, http.StatusOK, get(t, h, "/", "").Code)
}

func TestHandler_ErrorEndpoint(t *testing.T) {
	h := Handler(ServerConfig{Rate: 1000, Burst: 1000})

	seen := map[int]int{}
	for i := 0; i < 200; i++ {
		seen[get(t, h, "/error", "k").Code]++
	}
	assert.Greater(t, seen[http.StatusServiceUnavailable], 0)
	assert.Greater(t, seen[http.StatusOK], 0)
}

func TestKeyFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", keyFor(req, "API_KEY"))

	req.Header.Set("API_KEY", " secret ")
	assert.Equal(t, "secret", keyFor(req, "API_KEY"))
}
