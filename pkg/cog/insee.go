package cog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/french-cities/pkg/httpx"
)

// DefaultINSEEURL is the base of the INSEE geographic metadata API.
const DefaultINSEEURL = "https://api.insee.fr/metadonnees/geo"

// INSEE is a Catalog backed by the INSEE metadata API.
type INSEE struct {
	base   string
	client *httpx.Client
	token  string
}

// NewINSEE returns a client for base. token is optional (sent as a bearer token).
func NewINSEE(base string, client *httpx.Client, token string) *INSEE {
	if base == "" {
		base = DefaultINSEEURL
	}
	return &INSEE{base: strings.TrimRight(base, "/"), client: client, token: token}
}

func (c *INSEE) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *INSEE) get(ctx context.Context, path string, q url.Values, v any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.client.GetJSON(ctx, u, c.header(), v)
}

func (c *INSEE) ListAreas(ctx context.Context, t AreaType, date string) ([]Area, error) {
	p, ok := listPaths[t]
	if !ok {
		return nil, fmt.Errorf("list areas: unsupported area type %q", t)
	}
	var areas []Area
	if err := c.get(ctx, "/"+p, url.Values{"date": {date}}, &areas); err != nil {
		return nil, fmt.Errorf("list %s at %s: %w", p, date, err)
	}
	return areas, nil
}

func (c *INSEE) Ascending(ctx context.Context, code string, t AreaType, date string, parentType AreaType) (string, error) {
	p, ok := itemPaths[t]
	if !ok {
		return "", fmt.Errorf("ascending: unsupported area type %q", t)
	}
	var areas []Area
	err := c.get(ctx, "/"+p+"/"+url.PathEscape(code)+"/ascendants",
		url.Values{"date": {date}, "type": {string(parentType)}}, &areas)
	if httpx.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ascendants of %s %s: %w", p, code, err)
	}
	for _, a := range areas {
		if a.Type == parentType || a.Type == "" {
			return a.Code, nil
		}
	}
	return "", nil
}

func (c *INSEE) Descending(ctx context.Context, code string, t AreaType, date string, childType AreaType) ([]Area, error) {
	p, ok := itemPaths[t]
	if !ok {
		return nil, fmt.Errorf("descending: unsupported area type %q", t)
	}
	var areas []Area
	err := c.get(ctx, "/"+p+"/"+url.PathEscape(code)+"/descendants",
		url.Values{"date": {date}, "type": {string(childType)}}, &areas)
	if httpx.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("descendants of %s %s: %w", p, code, err)
	}
	return areas, nil
}

func (c *INSEE) Project(ctx context.Context, code string, t AreaType, date, target string) (*Area, error) {
	p, ok := itemPaths[t]
	if !ok {
		return nil, fmt.Errorf("project: unsupported area type %q", t)
	}
	var areas []Area
	err := c.get(ctx, "/"+p+"/"+url.PathEscape(code)+"/projetes",
		url.Values{"date": {date}, "dateProjection": {target}}, &areas)
	if httpx.IsNotFound(err) || httpx.IsBadRequest(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("projection of %s %s from %s: %w", p, code, date, err)
	}
	if len(areas) == 0 {
		return nil, nil
	}
	return &areas[0], nil
}
