package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"golang.org/x/time/rate"

	"github.com/neexbeast/culturalcompass/internal/discovery"
	"github.com/neexbeast/culturalcompass/internal/geo"
	"github.com/neexbeast/culturalcompass/internal/metrics"
)

const (
	httpTimeout      = 10 * time.Second
	defaultBaseURL   = "https://places.example-provider.com/v1/nearby"
	unknownPlaceName = "Unknown place"
	maxBodyBytes     = 4 << 20
)

// Options tunes the client.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client calls a Places Provider nearby-search endpoint that answers with a
// GeoJSON FeatureCollection of point features.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient constructs a Client for the production endpoint.
func NewClient(apiKey string, opts Options, log *slog.Logger) *Client {
	return NewClientWithURL(defaultBaseURL, apiKey, opts, log)
}

// NewClientWithURL constructs a Client pointing at a custom base URL (for tests and self-hosted providers).
func NewClientWithURL(baseURL, apiKey string, opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = httpTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		log:     log,
	}
}

// Nearby runs a nearby search. Records without an id or a valid point
// geometry are skipped individually.
func (c *Client) Nearby(ctx context.Context, req discovery.NearbyRequest) ([]discovery.Place, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for provider rate limit: %w", err)
		}
	}

	endpoint := c.buildURL(req)

	body, err := doGet(ctx, c.client, endpoint)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("nearby search at %s: %w", req.Center, err)
	}
	metrics.ProviderRequests.WithLabelValues("ok").Inc()

	places, skipped, err := decodeFeatures(body)
	if err != nil {
		return nil, fmt.Errorf("decoding nearby search at %s: %w", req.Center, err)
	}
	if skipped > 0 {
		metrics.MalformedCandidates.Add(float64(skipped))
		c.log.Warn("skipped malformed provider records", "count", skipped, "center", req.Center.String())
	}

	if req.MaxResults > 0 && len(places) > req.MaxResults {
		places = places[:req.MaxResults]
	}
	return places, nil
}

func (c *Client) buildURL(req discovery.NearbyRequest) string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(req.Center.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(req.Center.Lon, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(req.RadiusMeters))
	if len(req.Categories) > 0 {
		q.Set("types", strings.Join(req.Categories, ","))
	}
	if req.MaxResults > 0 {
		q.Set("limit", strconv.Itoa(req.MaxResults))
	}
	if req.RankBy != "" {
		q.Set("rank_by", req.RankBy)
	}
	q.Set("apikey", c.apiKey)
	return c.baseURL + "?" + q.Encode()
}

// doGet performs a GET request and returns the body of a 200 response.
func doGet(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

type featureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// decodeFeatures parses the collection envelope, then each feature on its own
// so one bad record does not sink the batch.
func decodeFeatures(body []byte) ([]discovery.Place, int, error) {
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, 0, fmt.Errorf("unexpected GeoJSON type %q", fc.Type)
	}

	places := make([]discovery.Place, 0, len(fc.Features))
	skipped := 0
	for _, raw := range fc.Features {
		p, err := decodeFeature(raw)
		if err != nil {
			skipped++
			continue
		}
		places = append(places, p)
	}
	return places, skipped, nil
}

func decodeFeature(raw json.RawMessage) (discovery.Place, error) {
	var f geojson.Feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return discovery.Place{}, fmt.Errorf("%w: %w", discovery.ErrMalformedCandidate, err)
	}

	props := f.Properties
	id := f.ID
	if id == "" {
		id = stringProp(props, "place_id")
	}
	if id == "" {
		return discovery.Place{}, fmt.Errorf("%w: missing id", discovery.ErrMalformedCandidate)
	}

	pt, ok := f.Geometry.(*geom.Point)
	if !ok || pt == nil || len(pt.FlatCoords()) < 2 {
		return discovery.Place{}, fmt.Errorf("%w: place %s has no point geometry", discovery.ErrMalformedCandidate, id)
	}
	loc, err := geo.NewCoordinate(pt.Y(), pt.X())
	if err != nil {
		return discovery.Place{}, fmt.Errorf("%w: place %s: %w", discovery.ErrMalformedCandidate, id, err)
	}

	name := stringProp(props, "name")
	if name == "" {
		name = unknownPlaceName
	}
	category := stringProp(props, "primary_type")
	label := stringProp(props, "primary_type_label")
	if label == "" {
		label = discovery.CategoryLabel(category)
	}

	return discovery.Place{
		ID:            id,
		Name:          name,
		Location:      loc,
		Category:      category,
		CategoryLabel: label,
		Rating:        floatProp(props, "rating"),
		RatingCount:   intProp(props, "rating_count"),
		PhotoRef:      stringProp(props, "photo_ref"),
	}, nil
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func floatProp(props map[string]interface{}, key string) *float64 {
	v, ok := props[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func intProp(props map[string]interface{}, key string) *int {
	v, ok := props[key].(float64)
	if !ok || v < 0 {
		return nil
	}
	n := int(v)
	return &n
}
