// Package httpapi exposes the record-activity workflow over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	wsadapter "wellnesskit/adapters/websocket"
	"wellnesskit/analytics"
	"wellnesskit/core"
	"wellnesskit/engine"
	"wellnesskit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// KPIs, if set, is served at {prefix}/stats.
	KPIs *analytics.KPIs
}

type api struct {
	svc  *engine.Service
	kpis *analytics.KPIs
}

// NewMux builds an http.Handler exposing the REST API and WebSocket stream.
// Routes:
//   - GET  {prefix}/healthz
//   - PUT  {prefix}/activities/{id}
//   - GET  {prefix}/activities/{id}
//   - POST {prefix}/users/{id}/records
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/achievements?show=all|earned|locked
//   - GET  {prefix}/ranks?level=N
//   - GET  {prefix}/stats
//   - WS   {prefix}/ws
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, kpis: opts.KPIs}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.health)
	route(http.MethodPut, "/activities/{id}", a.putActivity)
	route(http.MethodGet, "/activities/{id}", a.getActivity)
	route(http.MethodPost, "/users/{id}/records", a.recordActivity)
	route(http.MethodGet, "/users/{id}", a.profile)
	route(http.MethodGet, "/users/{id}/achievements", a.achievements)
	route(http.MethodGet, "/ranks", a.rank)
	if a.kpis != nil {
		route(http.MethodGet, "/stats", a.stats)
	}
	if hub != nil {
		var wsOpts []wsadapter.Option
		if opts.AllowCORSOrigin != "" {
			wsOpts = append(wsOpts, wsadapter.WithAllowedOrigins(opts.AllowCORSOrigin))
		}
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub, wsOpts...))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

// health verifies storage answers a lightweight read.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok", "rules": a.svc.Engine().Registry().Len()},
	}
	if err := a.svc.Ping(r.Context()); err != nil {
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
		writeJSONStatus(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, status)
}

type activityBody struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	XPValue  int64  `json:"xp_value"`
	Archived bool   `json:"archived"`
}

func (a *api) putActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := activityID(w, r)
	if !ok {
		return
	}
	var body activityBody
	if !decode(w, r, &body) {
		return
	}
	act, err := a.svc.PutActivity(r.Context(), core.Activity{
		ID: id, Name: body.Name, Category: body.Category, XPValue: body.XPValue, Archived: body.Archived,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, act)
}

func (a *api) getActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := activityID(w, r)
	if !ok {
		return
	}
	act, err := a.svc.Activity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, act)
}

type recordBody struct {
	ActivityID  int64  `json:"activity_id"`
	Date        string `json:"date,omitempty"`
	Note        string `json:"note,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type recordResponse struct {
	Record   core.ActivityRecord `json:"record"`
	Profile  core.Profile        `json:"profile"`
	Rank     string              `json:"rank"`
	RankUp   bool                `json:"rank_up"`
	BonusXP  int64               `json:"bonus_xp"`
	Unlocked []core.UnlockResult `json:"unlocked"`
}

func (a *api) recordActivity(w http.ResponseWriter, r *http.Request) {
	var body recordBody
	if !decode(w, r, &body) {
		return
	}
	req := engine.RecordRequest{
		UserID:      core.UserID(r.PathValue("id")),
		DisplayName: body.DisplayName,
		ActivityID:  core.ActivityID(body.ActivityID),
		Note:        body.Note,
	}
	if body.Date != "" {
		d, err := core.ParseDate(body.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error(), nil)
			return
		}
		req.DateOccurred = d
	}
	res, err := a.svc.RecordActivity(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, recordResponse{
		Record:   res.Record,
		Profile:  res.Profile,
		Rank:     res.Rank,
		RankUp:   res.RankUp,
		BonusXP:  res.BonusXP,
		Unlocked: res.Unlocked,
	})
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Profile(r.Context(), core.UserID(r.PathValue("id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, view)
}

func (a *api) achievements(w http.ResponseWriter, r *http.Request) {
	show, err := engine.ParseShowFilter(r.URL.Query().Get("show"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	list, err := a.svc.Achievements(r.Context(), core.UserID(r.PathValue("id")), show)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"show": show, "achievements": list})
}

func (a *api) rank(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.ParseInt(r.URL.Query().Get("level"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_level", "level must be an integer", nil)
		return
	}
	writeJSON(w, map[string]any{"level": level, "rank": a.svc.Engine().Ranks().LevelToRank(level)})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	writeJSON(w, a.kpis.Summarize(time.Now(), limit))
}

func activityID(w http.ResponseWriter, r *http.Request) (core.ActivityID, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_activity", "activity id must be a positive integer", nil)
		return 0, false
	}
	return core.ActivityID(id), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return false
	}
	return true
}

// writeDomainError maps service errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrActivityNotFound), errors.Is(err, core.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrActivityArchived):
		writeError(w, http.StatusConflict, "archived", err.Error(), nil)
	case errors.Is(err, core.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "storage unavailable", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a simple token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm int, burst int) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm   float64
	burst float64
	mu    sync.Mutex
	b     map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		rpm:   float64(rpm),
		burst: float64(burst),
		b:     make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		b.last = now
		return false
	}
	b.tokens--
	b.last = now
	return true
}
