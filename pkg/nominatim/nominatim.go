// CLAUDE:SUMMARY OpenStreetMap Nominatim forward geocoder, throttled to one request per second and memoized on the raw query string.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/french-cities/pkg/cache"
	"github.com/hazyhaar/french-cities/pkg/httpx"
)

// DefaultURL is the public OSM instance.
const DefaultURL = "https://nominatim.openstreetmap.org"

// CountryCodes restricts searches to metropolitan France, the overseas
// departments and the overseas collectivities.
const CountryCodes = "fr,gp,mq,gf,re,yt,nc,pf,bl,mf,pm,wf,tf"

const policy = "Nominatim is used under the OSMF usage policy (https://operations.osmfoundation.org/policies/nominatim/): " +
	"at most one request per second, no bulk geocoding, results are cached locally."

// Place is the best match of a query.
type Place struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
}

// Client queries Nominatim. The httpx client is expected to carry the
// one request per second limit.
type Client struct {
	base   string
	client *httpx.Client
	bucket *cache.Bucket
	logger *slog.Logger
	notice sync.Once
}

// New returns a Client for base (DefaultURL when empty) caching into the
// nominatim namespace of store.
func New(base string, client *httpx.Client, store cache.Store, logger *slog.Logger) *Client {
	if base == "" {
		base = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: client,
		bucket: cache.NewBucket(store, cache.NSNominatim),
		logger: logger,
	}
}

type rawPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search geocodes q restricted to CountryCodes. It returns nil when nothing matched.
// Answers, empty ones included, are cached indefinitely.
func (c *Client) Search(ctx context.Context, q string) (*Place, error) {
	c.notice.Do(func() { c.logger.Warn(policy) })

	if raw, ok, err := c.bucket.Get(ctx, q); err != nil {
		c.logger.Warn("nominatim cache unreadable", "query", q, "error", err)
	} else if ok {
		var p *Place
		if err := json.Unmarshal(raw, &p); err == nil {
			return p, nil
		}
	}

	v := url.Values{"q": {q}, "format": {"jsonv2"}, "limit": {"1"}, "countrycodes": {CountryCodes}}
	endpoint := c.base + "/search?" + v.Encode()
	var results []rawPlace
	if err := c.client.GetJSON(ctx, endpoint, http.Header{"Accept": {"application/json"}}, &results); err != nil {
		return nil, fmt.Errorf("nominatim %q: %w", q, err)
	}

	var place *Place
	if len(results) > 0 {
		lat, err1 := strconv.ParseFloat(results[0].Lat, 64)
		lon, err2 := strconv.ParseFloat(results[0].Lon, 64)
		if err1 != nil || err2 != nil {
			return nil, &httpx.UpstreamError{Service: c.client.Service(), URL: endpoint,
				Err: fmt.Errorf("bad coordinates %q, %q", results[0].Lat, results[0].Lon)}
		}
		place = &Place{Lat: lat, Lon: lon, DisplayName: results[0].DisplayName}
	}

	raw, err := json.Marshal(place)
	if err != nil {
		return nil, err
	}
	if err := c.bucket.Set(ctx, q, raw); err != nil {
		return nil, err
	}
	return place, nil
}
