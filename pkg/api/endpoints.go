// CLAUDE:SUMMARY Shared request/response types and the kit.Endpoints (find city, departements, vintage, cache clear) used by both HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/hazyhaar/french-cities/pkg/cityfinder"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/kit"
	"github.com/hazyhaar/french-cities/pkg/table"
)

// MaxRows bounds the rows of one request.
const MaxRows = 10000

// ErrBadRequest marks request validation failures.
var ErrBadRequest = errors.New("bad request")

// Service is the subset of frenchcities.Service the transports dispatch to.
type Service interface {
	FindCity(ctx context.Context, t *table.Table, opts cityfinder.Options) (*table.Table, error)
	FindDepartements(ctx context.Context, t *table.Table, opts departement.Options) (*table.Table, error)
	SetVintage(ctx context.Context, t *table.Table, year int, field string) (*table.Table, error)
	ClearCache(ctx context.Context) error
}

// tableJSON is the wire form of a table. Columns may be omitted, in which
// case they are the sorted union of the row keys. Cells are strings or
// numbers; null or missing cells are null.
type tableJSON struct {
	Columns []string         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows"`
}

func (tj tableJSON) toTable() (*table.Table, error) {
	if len(tj.Rows) == 0 {
		return nil, fmt.Errorf("%w: rows array is empty", ErrBadRequest)
	}
	if len(tj.Rows) > MaxRows {
		return nil, fmt.Errorf("%w: too many rows (max %d, got %d)", ErrBadRequest, MaxRows, len(tj.Rows))
	}
	cols := slices.Clone(tj.Columns)
	if len(cols) == 0 {
		seen := map[string]bool{}
		for _, r := range tj.Rows {
			for k := range r {
				if !seen[k] {
					seen[k] = true
					cols = append(cols, k)
				}
			}
		}
		slices.Sort(cols)
	}
	t := table.New(cols...)
	for i, r := range tj.Rows {
		row := make(table.Row, len(r))
		for k, v := range r {
			cell, err := cellString(v)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d, column %q: %v", ErrBadRequest, i, k, err)
			}
			row.Set(k, cell)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// cellString renders a decoded JSON cell. Numbers keep their shortest form
// so 2.3522 stays "2.3522".
func cellString(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	}
	return "", fmt.Errorf("must be a string or a number, got %T", v)
}

func fromTable(t *table.Table) tableJSON {
	rows := make([]map[string]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make(map[string]any, len(r))
		for k, v := range r {
			row[k] = v
		}
		rows[i] = row
	}
	return tableJSON{Columns: t.Columns, Rows: rows}
}

type findCityReq struct {
	Table *table.Table
	Opts  cityfinder.Options
}

type departementsReq struct {
	Table *table.Table
	Opts  departement.Options
}

type vintageReq struct {
	Table *table.Table
	Year  int
	Field string
}

type clearCacheResponse struct {
	Status string `json:"status"`
}

func findCityEndpoint(svc Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*findCityReq)
		out, err := svc.FindCity(ctx, req.Table, req.Opts)
		if err != nil {
			return nil, err
		}
		return fromTable(out), nil
	}
}

func departementsEndpoint(svc Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*departementsReq)
		if req.Opts.Source == "" {
			return nil, fmt.Errorf("%w: source column is required", ErrBadRequest)
		}
		out, err := svc.FindDepartements(ctx, req.Table, req.Opts)
		if err != nil {
			return nil, err
		}
		return fromTable(out), nil
	}
}

func vintageEndpoint(svc Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*vintageReq)
		if req.Field == "" {
			return nil, fmt.Errorf("%w: field is required", ErrBadRequest)
		}
		if req.Year < 1943 {
			return nil, fmt.Errorf("%w: year %d predates the official geographic code", ErrBadRequest, req.Year)
		}
		out, err := svc.SetVintage(ctx, req.Table, req.Year, req.Field)
		if err != nil {
			return nil, err
		}
		return fromTable(out), nil
	}
}

func clearCacheEndpoint(svc Service) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		if err := svc.ClearCache(ctx); err != nil {
			return nil, err
		}
		return clearCacheResponse{Status: "cleared"}, nil
	}
}
