package gateway

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgeq/forgeq/core/admission"
	"github.com/forgeq/forgeq/core/controlplane/dispatch"
	"github.com/forgeq/forgeq/core/executor"
	"github.com/forgeq/forgeq/core/identity"
	"github.com/forgeq/forgeq/core/infra/bus"
	"github.com/forgeq/forgeq/core/infra/config"
	"github.com/forgeq/forgeq/core/infra/logging"
	infraMetrics "github.com/forgeq/forgeq/core/infra/metrics"
	"github.com/forgeq/forgeq/core/jobs"
	"github.com/forgeq/forgeq/core/notify"
)

const (
	maxSubmitPayloadBytes = 1 << 20 // 1 MiB limit for submit bodies
	maxDescriptionChars   = 5000
	maxRequirements       = 20
	listPageSize          = 20
	defaultAnonRateLimit  = 0.03
	defaultAnonBurst      = 2
	// #nosec G101 -- protocol label, not a credential.
	wsAPIKeyProtocol = "forgeq-api-key"
)

type server struct {
	store      *jobs.Store
	identities identity.Store
	quota      *admission.Quota
	anonLim    *admission.Limiter
	userLim    *admission.Limiter
	engine     *dispatch.Engine
	hub        *notify.Hub
	plans      map[identity.Plan]identity.PlanLimits
	metrics    infraMetrics.Metrics
	gwMetrics  infraMetrics.GatewayMetrics
	auth       AuthProvider
	started    time.Time

	anonRate  float64
	anonBurst int
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return isAllowedOrigin(r) },
	Subprotocols: []string{wsAPIKeyProtocol},
}

type submitJobRequest struct {
	Description  string   `json:"description"`
	Language     string   `json:"language"`
	Framework    string   `json:"framework"`
	Requirements []string `json:"requirements"`
}

func (r *submitJobRequest) applyDefaults() {
	if r.Language == "" {
		r.Language = "python"
	}
}

func (r *submitJobRequest) validate() error {
	if r == nil {
		return errors.New("request required")
	}
	if strings.TrimSpace(r.Description) == "" {
		return errors.New("description is required")
	}
	if len(r.Description) > maxDescriptionChars {
		return fmt.Errorf("description too long (>%d chars)", maxDescriptionChars)
	}
	if len(r.Requirements) > maxRequirements {
		return fmt.Errorf("too many requirements (>%d)", maxRequirements)
	}
	return nil
}

// Run starts the gateway with the store-backed auth provider.
func Run(cfg *config.Config) error {
	return RunWithAuth(cfg, nil)
}

// RunWithAuth starts the gateway with a custom auth provider. When nil, the
// identity-store provider is used.
func RunWithAuth(cfg *config.Config, provider AuthProvider) error {
	if cfg == nil {
		cfg = config.Load()
	}

	plans, err := identity.LoadPlans(cfg.PlansConfigPath)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}

	var identities identity.Store
	if cfg.RedisURL != "" {
		redisStore, err := identity.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis identity store: %w", err)
		}
		identities = redisStore
	} else {
		logging.Info("gateway", "no redis configured, using in-memory identity store")
		identities = identity.NewMemStore()
	}
	defer identities.Close()

	var natsBus *bus.NatsBus
	if cfg.NatsURL != "" {
		natsBus, err = bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsBus.Close()
	}

	var exec executor.Executor
	if cfg.ExecutorURL != "" {
		exec = executor.NewHTTP(cfg.ExecutorURL, cfg.ExecutorTimeout)
	} else {
		logging.Info("gateway", "no executor configured, jobs complete in demo mode")
	}

	if provider == nil {
		provider = NewIdentityAuth(identities)
	}

	m := infraMetrics.NewProm("forgeq")
	store := jobs.NewStore()
	s := &server{
		store:      store,
		identities: identities,
		quota:      admission.NewQuota(identities, plans),
		anonLim:    admission.NewLimiter(),
		userLim:    admission.NewLimiter(),
		engine:     dispatch.NewEngine(store, exec, m, natsBus, cfg.ExecutorTimeout),
		hub:        notify.NewHub(store, cfg.WatchInterval, m),
		plans:      plans,
		metrics:    m,
		gwMetrics:  infraMetrics.NewGatewayProm("forgeq_gateway"),
		auth:       provider,
		started:    time.Now(),
		anonRate:   anonRateFromEnv(),
		anonBurst:  anonBurstFromEnv(),
	}

	return startHTTPServer(s, cfg.HTTPAddr, cfg.MetricsAddr)
}

func anonRateFromEnv() float64 {
	if v := strings.TrimSpace(os.Getenv("ANON_RATE_LIMIT_RPS")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultAnonRateLimit
}

func anonBurstFromEnv() int {
	if v := strings.TrimSpace(os.Getenv("ANON_RATE_LIMIT_BURST")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultAnonBurst
}

func startHTTPServer(s *server, httpAddr, metricsAddr string) error {
	mux := s.routes()
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	go func() {
		srv := &http.Server{
			Addr:         metricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logging.Info("gateway", "metrics listening", "addr", metricsAddr+"/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("gateway", "metrics server error", "error", err)
		}
	}()

	handler := corsMiddleware(s.anonRateLimitMiddleware(mux))

	logging.Info("gateway", "http listening", "addr", httpAddr)
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Error("gateway", "http server error", "error", err)
		return err
	}
	return nil
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/v1/plans", s.instrumented("/api/v1/plans", s.handleListPlans))
	mux.HandleFunc("GET /api/v1/metrics", s.instrumented("/api/v1/metrics", s.handleMetrics))

	mux.HandleFunc("POST /api/v1/jobs", s.instrumented("/api/v1/jobs", s.handleSubmitJob))
	mux.HandleFunc("GET /api/v1/jobs", s.instrumented("/api/v1/jobs", s.handleListJobs))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.instrumented("/api/v1/jobs/{id}", s.handleGetJob))

	// WebSocket job watch. Job ids are unguessable UUIDs; holding one is
	// the capability to observe the job.
	mux.HandleFunc("GET /api/v1/jobs/{id}/watch", s.instrumented("/api/v1/jobs/{id}/watch", s.handleWatchJob))

	return mux
}

// --- Handlers ---

func (s *server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	ident, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req submitJobRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitPayloadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.applyDefaults()

	limits := s.quota.Limits(ident.Plan)
	used, err := s.quota.Reserve(r.Context(), ident)
	if err != nil {
		if errors.Is(err, admission.ErrQuotaExceeded) {
			s.metrics.IncQuotaDenied(string(ident.Plan))
			http.Error(w, fmt.Sprintf("monthly quota exceeded: %d/%d tasks used", used, limits.TasksPerMonth), http.StatusTooManyRequests)
			return
		}
		logging.Error("gateway", "quota reserve failed", "error", err)
		http.Error(w, "admission check failed", http.StatusInternalServerError)
		return
	}

	if !s.userLim.Allow(ident.APIKey, limits.RatePerSecond, limits.Burst) {
		// The reservation above must not survive a refused submission.
		if relErr := s.quota.Release(r.Context(), ident); relErr != nil {
			logging.Error("gateway", "quota release failed", "error", relErr)
		}
		s.metrics.IncRateLimited("user")
		http.Error(w, "rate limit exceeded, slow down", http.StatusTooManyRequests)
		return
	}

	job := s.store.Create(ident.APIKey, jobs.Task{
		Description:  req.Description,
		Language:     req.Language,
		Framework:    req.Framework,
		Requirements: req.Requirements,
	})
	s.metrics.IncJobsSubmitted(string(ident.Plan))
	logging.Info("gateway", "job admitted", "job_id", job.ID, "plan", string(ident.Plan))
	s.engine.Dispatch(job.ID, string(ident.Plan))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"poll_url": "/api/v1/jobs/" + job.ID,
	})
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ident, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	all := s.store.ListByOwner(ident.APIKey)
	page := all
	if len(page) > listPageSize {
		page = page[:listPageSize]
	}

	limits := s.quota.Limits(ident.Plan)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jobs":        page,
		"total":       len(all),
		"quota_used":  ident.TasksUsedThisMonth,
		"quota_limit": limits.TasksPerMonth,
	})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ident, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := s.store.Get(r.PathValue("id"), ident.APIKey)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrAccessDenied):
		http.Error(w, "access denied", http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

func (s *server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]identity.PlanLimits, len(s.plans))
	for plan, limits := range s.plans {
		out[string(plan)] = limits
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"plans": out})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	created, completed, active := s.store.Counts()
	identities, err := s.identities.Count(r.Context())
	if err != nil {
		logging.Error("gateway", "identity count failed", "error", err)
		identities = 0
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jobs_created":   created,
		"jobs_completed": completed,
		"jobs_active":    active,
		"identities":     identities,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// watchNotFound is the single frame sent when the watched job does not exist.
type watchNotFound struct {
	Error string `json:"error"`
	JobID string `json:"job_id"`
}

func (s *server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "ws watch connected", "job_id", jobID, "remote", r.RemoteAddr)

	sub := s.hub.Watch(jobID)
	defer sub.Close()

	// Reader pump: we never expect client frames, but reading is the only
	// way to notice the peer went away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for update := range sub.Updates() {
		var payload any = update.Job
		if update.NotFound {
			payload = watchNotFound{Error: "job_not_found", JobID: jobID}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			logging.Error("gateway", "ws marshal failed", "error", err)
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if !isAllowedOrigin(r) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// anonRateLimitMiddleware is the coarse per-client-IP gate in front of every
// API route. Authenticated submissions are additionally limited per key by
// the submit handler.
func (s *server) anonRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !s.anonLim.Allow(clientIP(r), s.anonRate, s.anonBurst) {
			s.metrics.IncRateLimited("anon")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin; treat as allowed.
		return true
	}

	allowed, allowAll := allowedOriginsFromEnv()
	if allowAll {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	if len(allowed) == 0 {
		host := strings.ToLower(u.Hostname())
		switch host {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		reqHost := strings.ToLower(requestHostname(r.Host))
		if reqHost != "" && host == reqHost {
			return true
		}
		return false
	}

	_, ok := allowed[origin]
	return ok
}

func allowedOriginsFromEnv() (map[string]struct{}, bool) {
	for _, key := range []string{
		"FORGEQ_ALLOWED_ORIGINS",
		"CORS_ALLOW_ORIGINS",
	} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		if raw == "*" {
			return nil, true
		}
		set := make(map[string]struct{})
		for _, part := range strings.Split(raw, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			set[p] = struct{}{}
		}
		return set, false
	}
	return nil, false
}

func requestHostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil && host != "" {
		return host
	}
	return hostport
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values (e.g. "fq_abc...").
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

func apiKeyFromWebSocket(r *http.Request) string {
	if r == nil {
		return ""
	}
	protocols := websocket.Subprotocols(r)
	for i, protocol := range protocols {
		if strings.EqualFold(protocol, wsAPIKeyProtocol) && i+1 < len(protocols) {
			return decodeWSAPIKey(protocols[i+1])
		}
		prefix := strings.ToLower(wsAPIKeyProtocol) + "."
		if strings.HasPrefix(strings.ToLower(protocol), prefix) {
			return decodeWSAPIKey(protocol[len(prefix):])
		}
	}
	return ""
}

func decodeWSAPIKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	return raw
}

// --- Instrumentation ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record request metrics.
func (s *server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.gwMetrics != nil {
			s.gwMetrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
		}
	}
}
