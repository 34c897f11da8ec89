// CLAUDE:SUMMARY Client for the national address base geocoder: bulk CSV search and single municipality query, with strict response schema checks.
package ban

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hazyhaar/french-cities/pkg/httpx"
)

// DefaultURL is the public BAN geocoding service.
const DefaultURL = "https://api-adresse.data.gouv.fr"

// TypeMunicipality restricts results to cities.
const TypeMunicipality = "municipality"

// ErrSchema reports an answer that does not have the expected columns or fields.
var ErrSchema = errors.New("unexpected response schema")

// Query is one free-text search. ID is echoed back to join results.
type Query struct {
	ID       string
	Q        string
	Postcode string
}

// Result is the best match for one query. CityCode is empty when nothing matched.
type Result struct {
	Score    float64
	City     string
	CityCode string
	Context  string
	Type     string
}

// Departement returns the department code leading the context ("59, Nord, Hauts-de-France" -> "59").
func (r Result) Departement() string {
	dep, _, _ := strings.Cut(r.Context, ",")
	return strings.TrimSpace(dep)
}

// Client talks to the BAN service.
type Client struct {
	base   string
	client *httpx.Client
}

// New returns a Client for base (DefaultURL when empty).
func New(base string, client *httpx.Client) *Client {
	if base == "" {
		base = DefaultURL
	}
	return &Client{base: strings.TrimRight(base, "/"), client: client}
}

var resultColumns = []string{"result_score", "result_city", "result_citycode", "result_context", "result_type"}

// SearchCSV geocodes queries in one bulk request and returns results by query ID.
// typ restricts the result type when non-empty. With usePostcode set, each
// query's Postcode filters the candidates.
func (c *Client) SearchCSV(ctx context.Context, queries []Query, typ string, usePostcode bool) (map[string]Result, error) {
	if len(queries) == 0 {
		return map[string]Result{}, nil
	}
	data, err := encodeQueries(queries)
	if err != nil {
		return nil, err
	}
	endpoint := c.base + "/search/csv/"

	body, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("data", "data.csv")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		fields := [][2]string{{"columns", "q"}, {"result_columns", "id"}}
		if usePostcode {
			fields = append(fields, [2]string{"postcode", "postcode"})
		}
		if typ != "" {
			fields = append(fields, [2]string{"type", typ})
		}
		for _, rc := range resultColumns {
			fields = append(fields, [2]string{"result_columns", rc})
		}
		for _, f := range fields {
			if err := mw.WriteField(f[0], f[1]); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	results, err := decodeResults(body)
	if err != nil {
		return nil, &httpx.UpstreamError{Service: c.client.Service(), URL: endpoint, Body: body, Err: err}
	}
	return results, nil
}

func encodeQueries(queries []Query) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "q", "postcode"}); err != nil {
		return nil, err
	}
	for _, q := range queries {
		if err := w.Write([]string{q.ID, q.Q, q.Postcode}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func decodeResults(body []byte) (map[string]Result, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrSchema, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, need := range []string{"id", "result_score", "result_citycode"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("%w: missing column %q in %v", ErrSchema, need, header)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	out := make(map[string]Result)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		res := Result{
			City:     get(rec, "result_city"),
			CityCode: get(rec, "result_citycode"),
			Context:  get(rec, "result_context"),
			Type:     get(rec, "result_type"),
		}
		if s := get(rec, "result_score"); s != "" {
			score, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: result_score %q", ErrSchema, s)
			}
			res.Score = score
		}
		out[get(rec, "id")] = res
	}
	return out, nil
}

type featureCollection struct {
	Features []struct {
		Properties struct {
			Score    *float64 `json:"score"`
			City     string   `json:"city"`
			CityCode string   `json:"citycode"`
			Context  string   `json:"context"`
			Type     string   `json:"type"`
		} `json:"properties"`
	} `json:"features"`
}

// Search runs one query against the single search endpoint (limit 1, no
// autocomplete) and returns nil when nothing matched.
func (c *Client) Search(ctx context.Context, q Query, typ string) (*Result, error) {
	v := url.Values{"q": {q.Q}, "limit": {"1"}, "autocomplete": {"0"}}
	if typ != "" {
		v.Set("type", typ)
	}
	if q.Postcode != "" {
		v.Set("postcode", q.Postcode)
	}
	endpoint := c.base + "/search/?" + v.Encode()

	body, err := c.client.Get(ctx, endpoint, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, err
	}
	var fc featureCollection
	if err := c.client.DecodeJSON(endpoint, body, &fc); err != nil {
		return nil, err
	}
	if fc.Features == nil {
		return nil, &httpx.UpstreamError{Service: c.client.Service(), URL: endpoint, Body: body, Err: fmt.Errorf("%w: no features member", ErrSchema)}
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}
	p := fc.Features[0].Properties
	if p.Score == nil {
		return nil, &httpx.UpstreamError{Service: c.client.Service(), URL: endpoint, Body: body, Err: fmt.Errorf("%w: feature without score", ErrSchema)}
	}
	return &Result{Score: *p.Score, City: p.City, CityCode: p.CityCode, Context: p.Context, Type: p.Type}, nil
}
