// CLAUDE:SUMMARY HTTP JSON routes over the shared endpoints, plus health, Prometheus metrics, request IDs and CORS.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hazyhaar/french-cities/pkg/cityfinder"
	"github.com/hazyhaar/french-cities/pkg/departement"
	"github.com/hazyhaar/french-cities/pkg/httpx"
	"github.com/hazyhaar/french-cities/pkg/kit"
	"github.com/hazyhaar/french-cities/pkg/metrics"
)

// maxBody bounds request bodies (8 MiB).
const maxBody = 8 << 20

// NewRouter returns an http.Handler with all API routes. mcp, when not nil,
// is mounted on /mcp.
func NewRouter(svc Service, logger *slog.Logger, mcp http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	h := &handler{
		findCity:     kit.Logging(logger, "find_city")(findCityEndpoint(svc)),
		departements: kit.Logging(logger, "departements")(departementsEndpoint(svc)),
		vintage:      kit.Logging(logger, "vintage")(vintageEndpoint(svc)),
		clearCache:   kit.Logging(logger, "clear_cache")(clearCacheEndpoint(svc)),
		logger:       logger,
	}

	mux.HandleFunc("POST /v1/find-city", h.handleFindCity)
	mux.HandleFunc("POST /v1/departements", h.handleDepartements)
	mux.HandleFunc("POST /v1/vintage", h.handleVintage)
	mux.HandleFunc("POST /v1/cache/clear", h.handleClearCache)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	if mcp != nil {
		mux.Handle("/mcp", mcp)
	}

	return requestID(cors(mux))
}

type handler struct {
	findCity     kit.Endpoint
	departements kit.Endpoint
	vintage      kit.Endpoint
	clearCache   kit.Endpoint
	logger       *slog.Logger
}

// --- find city ---

type httpFindCityRequest struct {
	tableJSON
	Year         string              `json:"year,omitempty"`
	Fields       *cityfinder.Columns `json:"fields,omitempty"`
	Output       string              `json:"output,omitempty"`
	EPSG         int                 `json:"epsg,omitempty"`
	UseNominatim bool                `json:"use_nominatim,omitempty"`
}

func (h *handler) handleFindCity(w http.ResponseWriter, r *http.Request) {
	var req httpFindCityRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := req.toTable()
	if err != nil {
		h.fail(w, err)
		return
	}
	opts := cityfinder.Options{Year: req.Year, Output: req.Output, EPSG: req.EPSG, UseNominatim: req.UseNominatim}
	if req.Fields != nil {
		opts.Columns = *req.Fields
	}
	h.dispatch(w, r, h.findCity, &findCityReq{Table: t, Opts: opts})
}

// --- departements ---

type httpDepartementsRequest struct {
	tableJSON
	Source              string `json:"source"`
	Alias               string `json:"alias,omitempty"`
	Kind                string `json:"kind,omitempty"`
	AuthorizeDuplicates bool   `json:"authorize_duplicates,omitempty"`
	ProjectVintage      bool   `json:"project_vintage,omitempty"`
}

func (h *handler) handleDepartements(w http.ResponseWriter, r *http.Request) {
	var req httpDepartementsRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := req.toTable()
	if err != nil {
		h.fail(w, err)
		return
	}
	kind := departement.Kind(req.Kind)
	if kind == "" {
		kind = departement.KindPostcode
	}
	h.dispatch(w, r, h.departements, &departementsReq{Table: t, Opts: departement.Options{
		Source:              req.Source,
		Alias:               req.Alias,
		Kind:                kind,
		AuthorizeDuplicates: req.AuthorizeDuplicates,
		ProjectVintage:      req.ProjectVintage,
	}})
}

// --- vintage ---

type httpVintageRequest struct {
	tableJSON
	Year  int    `json:"year"`
	Field string `json:"field"`
}

func (h *handler) handleVintage(w http.ResponseWriter, r *http.Request) {
	var req httpVintageRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := req.toTable()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.dispatch(w, r, h.vintage, &vintageReq{Table: t, Year: req.Year, Field: req.Field})
}

// --- cache ---

func (h *handler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.clearCache, nil)
}

// --- health ---

type healthResponse struct {
	Status string `json:"status"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// --- helpers ---

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	resp, err := ep(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeError(w, code, err.Error())
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var up *httpx.UpstreamError
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, cityfinder.ErrConfig),
		errors.Is(err, departement.ErrUnknownKind),
		errors.Is(err, departement.ErrMissingColumn):
		return http.StatusBadRequest
	case errors.As(err, &up):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestID tags each request with the caller's X-Request-ID or a fresh UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(kit.WithRequestID(r.Context(), id)))
	})
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
