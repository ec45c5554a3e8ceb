package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openxui/panelsync/internal/metrics"
)

const (
	defaultTimeout   = 90 * time.Second
	sniffWindow      = 512
	previewLen       = 200
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Options tunes retry and throttling behavior per tenant.
type Options struct {
	RetryEnabled   bool
	MaxAttempts    int
	BackoffSeconds int
	ThrottleMs     int
	MaxParallel    int
}

// APIError is returned when every attempt against the upstream panel
// failed. It keeps the last HTTP status and a short body preview so
// the failure is diagnosable from job logs.
type APIError struct {
	Action     string
	StatusCode int
	Preview    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xtream %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("xtream %s: status %d: %s", e.Action, e.StatusCode, e.Preview)
}

func (e *APIError) Unwrap() error { return e.Err }

// fetchError classifies one failed attempt.
type fetchError struct {
	blocked bool // Cloudflare interstitial or other non-JSON answer
	status  int
	preview string
	err     error
}

func (e *fetchError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("status %d: %s", e.status, e.preview)
}

// Client talks to an Xtream panel's player_api.php endpoint.
//
// Panels frequently sit behind Cloudflare on their plain-HTTP port and
// answer API calls with an HTML interstitial. When that happens the
// client retries the call on the https variant of the same host and,
// if that succeeds, pins https for the rest of the session.
type Client struct {
	username string
	password string
	http     *http.Client
	opts     Options
	log      *slog.Logger

	mu      sync.RWMutex
	baseURL string

	calls atomic.Int64

	// Injected in tests.
	sleep  func(time.Duration)
	jitter func() time.Duration
}

// NewClient builds a client for one panel line. baseURL must carry a
// scheme; a trailing slash is tolerated. httpClient may be nil.
func NewClient(baseURL, username, password string, opts Options, logger *slog.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		http:     httpClient,
		opts:     opts,
		log:      logger,
		sleep:    time.Sleep,
		jitter: func() time.Duration {
			return time.Duration((0.8 + rand.Float64()*0.7) * float64(time.Second))
		},
	}
}

// BaseURL returns the base currently in use. It changes when the
// client escalates from http to https.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) setBaseURL(base string) {
	c.mu.Lock()
	c.baseURL = base
	c.mu.Unlock()
}

// MovieURL returns the playable URL for a movie stream id.
func (c *Client) MovieURL(streamID int64, ext string) string {
	return fmt.Sprintf("%s/movie/%s/%s/%d.%s", c.BaseURL(), c.username, c.password, streamID, ext)
}

// EpisodeURL returns the playable URL for an episode id.
func (c *Client) EpisodeURL(episodeID int64, ext string) string {
	return fmt.Sprintf("%s/series/%s/%s/%d.%s", c.BaseURL(), c.username, c.password, episodeID, ext)
}

// GetVODCategories fetches the movie category list.
func (c *Client) GetVODCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := c.getList(ctx, "get_vod_categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSeriesCategories fetches the series category list.
func (c *Client) GetSeriesCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := c.getList(ctx, "get_series_categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetVODStreams fetches the full movie catalog.
func (c *Client) GetVODStreams(ctx context.Context) ([]VODStream, error) {
	var out []VODStream
	if err := c.getList(ctx, "get_vod_streams", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSeries fetches the full series catalog.
func (c *Client) GetSeries(ctx context.Context) ([]SeriesListing, error) {
	var out []SeriesListing
	if err := c.getList(ctx, "get_series", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSeriesInfo fetches episode details for one series.
func (c *Client) GetSeriesInfo(ctx context.Context, seriesID int64) (*SeriesInfo, error) {
	raw, err := c.get(ctx, "get_series_info", url.Values{"series_id": {strconv.FormatInt(seriesID, 10)}})
	if err != nil {
		return nil, err
	}
	var info SeriesInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("get_series_info %d: %w", seriesID, err)
	}
	return &info, nil
}

// GetVODInfo fetches extended metadata for one movie.
func (c *Client) GetVODInfo(ctx context.Context, streamID int64) (*VODInfo, error) {
	raw, err := c.get(ctx, "get_vod_info", url.Values{"vod_id": {strconv.FormatInt(streamID, 10)}})
	if err != nil {
		return nil, err
	}
	var info VODInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("get_vod_info %d: %w", streamID, err)
	}
	return &info, nil
}

// getList runs an action and decodes its list payload, unwrapping the
// envelope some panels put around it.
func (c *Client) getList(ctx context.Context, action string, params url.Values, dst any) error {
	raw, err := c.get(ctx, action, params)
	if err != nil {
		return err
	}
	list, err := unwrapList(raw)
	if err != nil {
		return &APIError{Action: action, Preview: preview(raw), Err: err}
	}
	return json.Unmarshal(list, dst)
}

// envelopeKeys are the wrapper keys panels use around list payloads.
var envelopeKeys = []string{"available_channels", "categories", "series", "episodes"}

func unwrapList(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return json.RawMessage("[]"), nil
	}
	if trimmed[0] == '[' {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}
	for _, key := range envelopeKeys {
		if inner, ok := obj[key]; ok {
			s := strings.TrimSpace(string(inner))
			if s != "" && s[0] == '[' {
				return inner, nil
			}
			// available_channels may itself be an object keyed by id.
			if s != "" && s[0] == '{' {
				var m map[string]json.RawMessage
				if err := json.Unmarshal(inner, &m); err != nil {
					return nil, fmt.Errorf("unwrap %s: %w", key, err)
				}
				items := make([]json.RawMessage, 0, len(m))
				for _, v := range m {
					items = append(items, v)
				}
				out, err := json.Marshal(items)
				if err != nil {
					return nil, err
				}
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("no list payload in response")
}

// get runs one player_api.php action with retries. Any syntactically
// valid JSON body is returned to the caller as-is, including error
// payloads the panel encodes as JSON; only network failures and
// non-JSON bodies are retried.
func (c *Client) get(ctx context.Context, action string, params url.Values) (json.RawMessage, error) {
	c.throttle()

	attempts := 1
	if c.opts.RetryEnabled {
		attempts = c.opts.MaxAttempts
	}

	var last *fetchError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.UpstreamRetries.WithLabelValues(action).Inc()
			c.sleep(c.backoff(attempt - 1))
		}

		start := time.Now()
		raw, ferr := c.fetch(ctx, c.actionURL(c.BaseURL(), action, params))
		metrics.UpstreamRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
		if ferr == nil {
			metrics.UpstreamRequests.WithLabelValues(action, "ok").Inc()
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = ferr

		// Blocked on plain HTTP: try the https variant of the same
		// host before burning another attempt. Success pins https.
		if ferr.blocked {
			if httpsBase, ok := httpsVariant(c.BaseURL()); ok {
				c.log.Warn("blocked response, escalating to https",
					"action", action, "status", ferr.status)
				raw, ferr2 := c.fetch(ctx, c.actionURL(httpsBase, action, params))
				if ferr2 == nil {
					c.setBaseURL(httpsBase)
					c.log.Info("https escalation succeeded, pinning base url", "base", httpsBase)
					metrics.UpstreamRequests.WithLabelValues(action, "ok").Inc()
					return raw, nil
				}
				// A transport failure on the https probe (no TLS on
				// the host) should not mask the original response.
				if ferr2.status != 0 {
					last = ferr2
				}
			}
		}
	}

	metrics.UpstreamRequests.WithLabelValues(action, "error").Inc()
	apiErr := &APIError{Action: action}
	if last != nil {
		apiErr.StatusCode = last.status
		apiErr.Preview = last.preview
		apiErr.Err = last.err
	}
	return nil, apiErr
}

func (c *Client) actionURL(base, action string, params url.Values) string {
	q := url.Values{}
	q.Set("username", c.username)
	q.Set("password", c.password)
	q.Set("action", action)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return base + "/player_api.php?" + q.Encode()
}

func (c *Client) fetch(ctx context.Context, fullURL string) (json.RawMessage, *fetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &fetchError{err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if u, perr := url.Parse(fullURL); perr == nil {
		req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fetchError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &fetchError{status: resp.StatusCode, err: err}
	}

	if blockedResponse(resp, body) {
		return nil, &fetchError{blocked: true, status: resp.StatusCode, preview: preview(body)}
	}
	// A body that is not JSON at all means something other than
	// player_api.php answered; treat it like a block so plain-HTTP
	// bases get the https escalation too.
	if !json.Valid(body) {
		return nil, &fetchError{blocked: true, status: resp.StatusCode, preview: preview(body)}
	}
	return body, nil
}

// blockedResponse detects Cloudflare and similar HTML interstitials:
// a 403, an HTML content type, or HTML markers in the body head.
func blockedResponse(resp *http.Response, body []byte) bool {
	if resp.StatusCode == http.StatusForbidden {
		return true
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return true
	}
	head := body
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	lower := strings.ToLower(string(head))
	return strings.Contains(lower, "<html") ||
		strings.Contains(lower, "attention required") ||
		strings.Contains(lower, "cloudflare")
}

// httpsVariant rewrites an http base URL to https on the same host.
// Already-https bases have no variant to escalate to.
func httpsVariant(base string) (string, bool) {
	if !strings.HasPrefix(base, "http://") {
		return "", false
	}
	return "https://" + strings.TrimPrefix(base, "http://"), true
}

// backoff grows linearly with the number of failed attempts, plus a
// small random jitter so parallel jobs don't hammer in lockstep.
func (c *Client) backoff(failed int) time.Duration {
	linear := time.Duration(c.opts.BackoffSeconds*failed) * time.Second
	if linear < 0 {
		linear = 0
	}
	return linear + c.jitter()
}

// throttle pauses every maxParallel-th call for throttleMs, keeping
// sustained request rates below what touchy panels rate-limit at.
func (c *Client) throttle() {
	if c.opts.ThrottleMs <= 0 || c.opts.MaxParallel <= 0 {
		return
	}
	n := c.calls.Add(1)
	if n%int64(c.opts.MaxParallel) == 0 {
		c.sleep(time.Duration(c.opts.ThrottleMs) * time.Millisecond)
	}
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > previewLen {
		s = s[:previewLen]
	}
	return s
}
