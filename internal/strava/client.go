// Package strava is the authenticated client for the upstream activity
// API and its auxiliary photo and comment listings. It owns the oauth2
// token lifecycle, classifies upstream failures into the retryable and
// non-retryable families, and shields the upstream behind a circuit
// breaker.
package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/tobyhaynes/strideline/internal/cache"
)

const (
	// DefaultBaseURL is the upstream API root.
	DefaultBaseURL = "https://www.strava.com/api/v3"

	// DefaultTimeout bounds every upstream call. A timed-out call is a
	// per-activity failure, never a batch failure.
	DefaultTimeout = 15 * time.Second
)

// Sentinel errors, the upstream failure taxonomy.
var (
	// ErrUnavailable covers network failures, timeouts and 5xx
	// responses. Retryable; the activity stays incomplete and is picked
	// up by a later batch.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrRejected covers auth and quota rejections (401/403/429). Not
	// retryable within the batch; the remaining batch is abandoned.
	ErrRejected = errors.New("upstream rejected request")

	// ErrNotFound covers 404/410 for a single resource; the activity is
	// skipped without aborting the batch.
	ErrNotFound = errors.New("upstream resource not found")
)

// Client calls the upstream API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker[[]byte]
	log        zerolog.Logger
}

// Config holds upstream credentials and tuning.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	BaseURL      string
	Timeout      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, bypassing the oauth2
// transport. Used by tests and by callers that manage auth themselves.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates an upstream client. When cfg carries a refresh token, the
// client maintains its own access token via the oauth2 refresh flow;
// expired tokens are renewed transparently before the next call.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		log:     zerolog.Nop(),
	}

	if cfg.RefreshToken != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.BaseURL + "/oauth/token",
			},
		}
		// Expiry in the past forces a refresh on first use.
		token := &oauth2.Token{
			RefreshToken: cfg.RefreshToken,
			Expiry:       time.Now().Add(-time.Minute),
		}
		c.httpClient = oauth2.NewClient(context.Background(), oc.TokenSource(context.Background(), token))
		c.httpClient.Timeout = cfg.Timeout
	} else {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	for _, opt := range opts {
		opt(c)
	}

	c.cb = newBreaker(c.log)
	return c
}

// newBreaker builds the upstream circuit breaker: open after a 60%
// failure rate over at least 10 calls, hold for a cooldown, then probe
// with a handful of half-open requests. Rejections and not-founds are
// responses, not outages, so they never trip the breaker.
func newBreaker(log zerolog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "strava-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}

// ListActivities fetches one page of the athlete's activity summaries,
// newest first. Entries with malformed summaries are dropped here so a
// partially formed activity never reaches the cache.
func (c *Client) ListActivities(ctx context.Context, page, perPage int) ([]cache.Summary, error) {
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	body, err := c.get(ctx, "/athlete/activities", q)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}

	var wire []summaryActivity
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing activity listing: %v", ErrUnavailable, err)
	}

	out := make([]cache.Summary, 0, len(wire))
	for _, w := range wire {
		s := w.toSummary()
		if !s.Valid() {
			c.log.Warn().Int64("activity_id", w.ID).Msg("dropping malformed listing entry")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// GetActivity fetches the full detail for one activity, including its
// description and route encoding.
func (c *Client) GetActivity(ctx context.Context, id int64) (*Detail, error) {
	body, err := c.get(ctx, "/activities/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching activity %d: %w", id, err)
	}

	var w detailActivity
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: parsing activity %d detail: %v", ErrUnavailable, id, err)
	}

	poly := w.Map.Polyline
	if poly == "" {
		poly = w.Map.SummaryPolyline
	}
	return &Detail{
		Summary:     w.toSummary(),
		Description: w.Description,
		Polyline:    poly,
		PhotoCount:  w.TotalPhotoCount,
	}, nil
}

// ListPhotos fetches the activity's photo references.
func (c *Client) ListPhotos(ctx context.Context, id int64) ([]Photo, error) {
	q := url.Values{"size": {"600"}}
	body, err := c.get(ctx, "/activities/"+strconv.FormatInt(id, 10)+"/photos", q)
	if err != nil {
		return nil, fmt.Errorf("listing photos for %d: %w", id, err)
	}

	var wire []photo
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing photos for %d: %v", ErrUnavailable, id, err)
	}

	out := make([]Photo, 0, len(wire))
	for _, p := range wire {
		u := ""
		for _, v := range p.URLs {
			u = v
			break
		}
		if u == "" {
			continue
		}
		out = append(out, Photo{URL: u, Primary: p.Default})
	}
	return out, nil
}

// ListComments fetches the activity's comments in upstream order.
func (c *Client) ListComments(ctx context.Context, id int64) ([]cache.Comment, error) {
	body, err := c.get(ctx, "/activities/"+strconv.FormatInt(id, 10)+"/comments", nil)
	if err != nil {
		return nil, fmt.Errorf("listing comments for %d: %w", id, err)
	}

	var wire []comment
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: parsing comments for %d: %v", ErrUnavailable, id, err)
	}

	out := make([]cache.Comment, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toComment())
	}
	return out, nil
}

// get performs one GET through the circuit breaker and classifies the
// outcome into the error taxonomy.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.doGet(ctx, reqURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return body, err
}

func (c *Client) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resp.Status)
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	default:
		// Remaining 4xx: a malformed request for this one resource.
		return nil, fmt.Errorf("%w: unexpected status %s", ErrNotFound, resp.Status)
	}
}
