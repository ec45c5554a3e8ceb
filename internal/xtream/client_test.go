package xtream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, opts Options, httpClient *http.Client) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(baseURL, "u", "p", opts, nil, httpClient)
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	c.jitter = func() time.Duration { return time.Second }
	return c, &slept
}

func TestGetVODStreams_envelopeUnwrap(t *testing.T) {
	payloads := map[string]string{
		"bare":    `[{"stream_id": 1, "name": "A", "category_id": "7"}]`,
		"wrapped": `{"available_channels": [{"stream_id": "1", "name": "A", "category_id": 7}]}`,
		"keyed":   `{"available_channels": {"1": {"stream_id": 1, "name": "A", "category_id": "7"}}}`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "get_vod_streams", r.URL.Query().Get("action"))
				assert.Equal(t, "u", r.URL.Query().Get("username"))
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(payload))
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv.URL, Options{}, nil)
			streams, err := c.GetVODStreams(context.Background())
			require.NoError(t, err)
			require.Len(t, streams, 1)
			assert.Equal(t, int64(1), streams[0].StreamID.Int64())
			assert.Equal(t, "A", streams[0].Name)
			assert.Equal(t, "7", streams[0].CategoryID.String())
		})
	}
}

func TestGet_retriesNonJSONBodies(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		if attempts < 3 {
			w.Write([]byte("not json at all"))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv.URL, Options{RetryEnabled: true, MaxAttempts: 3, BackoffSeconds: 5}, nil)
	_, err := c.GetVODCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// Each retry waits one more backoff step, plus the jitter.
	require.Len(t, *slept, 2)
	assert.Equal(t, 5*time.Second+time.Second, (*slept)[0])
	assert.Equal(t, 10*time.Second+time.Second, (*slept)[1])
}

func TestGet_jsonErrorPayloadNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_info": {"auth": 0}}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{RetryEnabled: true, MaxAttempts: 3, BackoffSeconds: 5}, nil)
	raw, err := c.get(context.Background(), "get_vod_streams", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, json.Valid(raw))
}

func TestGet_exhaustionReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{RetryEnabled: true, MaxAttempts: 2, BackoffSeconds: 1}, nil)
	_, err := c.GetSeries(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "get_series", apiErr.Action)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Preview, "upstream exploded")
}

func TestGet_retryDisabledSingleAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{RetryEnabled: false, MaxAttempts: 3}, nil)
	_, err := c.GetSeries(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// schemeSwapTransport routes https:// requests to a plain-HTTP test
// server, standing in for a panel that only answers on TLS.
type schemeSwapTransport struct {
	httpsTarget *url.URL
}

func (t *schemeSwapTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "https" {
		clone := req.Clone(req.Context())
		clone.URL.Scheme = "http"
		clone.URL.Host = t.httpsTarget.Host
		return http.DefaultTransport.RoundTrip(clone)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestGet_httpsEscalationOnCloudflareBlock(t *testing.T) {
	httpCalls := 0
	blocker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpCalls++
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html><title>Attention Required! | Cloudflare</title></html>"))
	}))
	defer blocker.Close()

	httpsCalls := 0
	real := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpsCalls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"categories": [{"category_id": "1", "category_name": "Movies"}]}`))
	}))
	defer real.Close()

	realURL, err := url.Parse(real.URL)
	require.NoError(t, err)
	httpClient := &http.Client{Transport: &schemeSwapTransport{httpsTarget: realURL}}

	c, _ := newTestClient(t, blocker.URL, Options{RetryEnabled: true, MaxAttempts: 3, BackoffSeconds: 1}, httpClient)
	cats, err := c.GetVODCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Movies", cats[0].CategoryName)
	assert.Equal(t, 1, httpCalls)
	assert.Equal(t, 1, httpsCalls)

	// Base URL is pinned to https for every later call.
	require.True(t, strings.HasPrefix(c.BaseURL(), "https://"))
	_, err = c.GetVODCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, httpCalls)
	assert.Equal(t, 2, httpsCalls)
}

func TestGet_httpsEscalationOnNonJSONBody(t *testing.T) {
	// A plain-HTTP base answering with something that is neither HTML
	// nor JSON still gets the https attempt.
	blocker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("panel is warming up"))
	}))
	defer blocker.Close()

	real := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"category_id": "1", "category_name": "Movies"}]`))
	}))
	defer real.Close()

	realURL, err := url.Parse(real.URL)
	require.NoError(t, err)
	httpClient := &http.Client{Transport: &schemeSwapTransport{httpsTarget: realURL}}

	c, _ := newTestClient(t, blocker.URL, Options{RetryEnabled: true, MaxAttempts: 3, BackoffSeconds: 1}, httpClient)
	cats, err := c.GetVODCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.True(t, strings.HasPrefix(c.BaseURL(), "https://"))
}

func TestFetch_sendsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept, gotLang, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotLang = r.Header.Get("Accept-Language")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{}, nil)
	_, err := c.GetVODCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "en-US,en;q=0.9", gotLang)
	assert.Equal(t, srv.URL+"/", gotReferer)
}

func TestThrottle_sleepsEveryMaxParallelCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv.URL, Options{ThrottleMs: 250, MaxParallel: 2}, nil)
	for i := 0; i < 4; i++ {
		_, err := c.GetVODCategories(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, *slept, 2)
	assert.Equal(t, 250*time.Millisecond, (*slept)[0])
}

func TestGetSeriesInfo_episodeShapes(t *testing.T) {
	mapPayload := `{"info": {"name": "Show"}, "episodes": {"1": [{"id": "10", "episode_num": 1, "season": "1", "title": "Pilot", "container_extension": "mkv"}]}}`
	listPayload := `{"info": {"name": "Show"}, "episodes": [[{"id": 10, "episode_num": "1", "season": 1, "title": "Pilot", "container_extension": "mkv", "info": []}]]}`

	for name, payload := range map[string]string{"map": mapPayload, "list": listPayload} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "get_series_info", r.URL.Query().Get("action"))
				assert.Equal(t, "42", r.URL.Query().Get("series_id"))
				w.Write([]byte(payload))
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv.URL, Options{}, nil)
			info, err := c.GetSeriesInfo(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, "Show", info.Info.Name)
			require.Len(t, info.Episodes["1"], 1)
			ep := info.Episodes["1"][0]
			assert.Equal(t, int64(10), ep.ID.Int64())
			assert.Equal(t, int64(1), ep.EpisodeNum.Int64())
			assert.Equal(t, "Pilot", ep.Title)
		})
	}
}

func TestPlayableURLs(t *testing.T) {
	c := NewClient("http://panel.example.com:8080/", "line", "secret", Options{}, nil, nil)
	assert.Equal(t, "http://panel.example.com:8080/movie/line/secret/55.mp4", c.MovieURL(55, "mp4"))
	assert.Equal(t, "http://panel.example.com:8080/series/line/secret/9.mkv", c.EpisodeURL(9, "mkv"))
}

func TestFlexStringList(t *testing.T) {
	var l FlexStringList
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &l))
	assert.Equal(t, FlexStringList{"a", "b"}, l)

	require.NoError(t, json.Unmarshal([]byte(`"solo"`), &l))
	assert.Equal(t, FlexStringList{"solo"}, l)

	require.NoError(t, json.Unmarshal([]byte(`null`), &l))
	assert.Nil(t, []string(l))
}
