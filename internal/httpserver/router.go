package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"nexuswatch/internal/auth"
	"nexuswatch/internal/incidents"
)

// RouterConfig carries the collaborators mounted by NewRouter. Auth may be
// nil, in which case the operator routes are not registered.
type RouterConfig struct {
	Logger         zerolog.Logger
	Engine         *incidents.Engine
	Chat           http.Handler
	Auth           *auth.Service
	Metrics        HTTPMetrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health check
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Community watch
	report := &incidents.ReportHandler{Engine: cfg.Engine, Logger: logger}
	verify := &incidents.VerifyHandler{Engine: cfg.Engine, Logger: logger}
	list := &incidents.ListHandler{Engine: cfg.Engine, Logger: logger}
	detail := &incidents.DetailHandler{Engine: cfg.Engine, Logger: logger}

	for _, prefix := range []string{"/api/v1/watch", "/api/communityWatch"} {
		r.Handle(prefix+"/report", report).Methods(http.MethodPost)
		r.Handle(prefix+"/verify", verify).Methods(http.MethodPost)
		r.Handle(prefix+"/incidents", list).Methods(http.MethodGet)
		r.Handle(prefix+"/incidents/{id}", detail).Methods(http.MethodGet)
	}

	if cfg.Chat != nil {
		r.Handle("/ws/chat", cfg.Chat)
	}

	// Operators
	if cfg.Auth != nil {
		r.Handle("/api/v1/auth/login", &auth.LoginHandler{Service: cfg.Auth, Logger: logger}).Methods(http.MethodPost)

		admin := r.PathPrefix("/api/v1/admin").Subrouter()
		admin.Use(auth.JWTMiddleware(cfg.Auth))
		announce := &incidents.AnnounceHandler{Engine: cfg.Engine, Logger: logger}
		admin.Handle("/incidents/{id}/announce",
			auth.RequireRole(announce, auth.RoleAdmin, auth.RoleModerator)).Methods(http.MethodPost)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
			http.MethodHead},
	})
	return c.Handler(r)
}
