// Package api exposes the PharmaNear HTTP interface: pharmacy accounts and
// profiles, stock ledger maintenance, the public drug search and a few
// operational endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"pharmanear/m/domain"
	"pharmanear/m/internal/metrics"
	"pharmanear/m/internal/pharmacies"
	"pharmanear/m/internal/stock"
)

// PharmacyService is the pharmacy directory as seen by the handlers.
type PharmacyService interface {
	Register(ctx context.Context, reg pharmacies.Registration) (pharmacies.AuthResult, error)
	Authenticate(ctx context.Context, handle, password string) (pharmacies.AuthResult, error)
	GetProfile(ctx context.Context, session domain.Session, handle string) (domain.Pharmacy, error)
	GetPublicProfile(ctx context.Context, id string) (domain.PublicPharmacy, error)
	UpdateProfile(ctx context.Context, session domain.Session, handle string, changes pharmacies.ProfileChanges, newHandle string) (pharmacies.UpdateResult, error)
	VerifySession(ctx context.Context, session domain.Session) (domain.Pharmacy, error)
}

// StockService is the stock ledger as seen by the handlers.
type StockService interface {
	UpsertLine(ctx context.Context, pharmacyID, medicineName string, quantityDelta int64, unitPrice float64, strengthHint string) (domain.StockLedger, error)
	CorrectLine(ctx context.Context, pharmacyID, medicineName string, quantity int64, unitPrice float64) (domain.StockLedger, error)
	RemoveLine(ctx context.Context, pharmacyID, medicineName string) (domain.StockLedger, error)
	GetLedger(ctx context.Context, pharmacyID string) (domain.LedgerView, error)
}

// AvailabilityService answers drug searches.
type AvailabilityService interface {
	FindStockists(ctx context.Context, name string) (stock.StockistResult, error)
}

// SessionParser verifies bearer tokens.
type SessionParser interface {
	Parse(token string) (domain.Session, error)
}

// CatalogReloader starts background catalog reloads.
type CatalogReloader interface {
	Trigger(ctx context.Context) bool
}

// Pinger reports store reachability for /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	CORSOrigin     string
	AdminToken     string
	RateLimitRPS   float64
	RateLimitBurst int64
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	pharmacies   PharmacyService
	stock        StockService
	availability AvailabilityService
	sessions     SessionParser
	catalog      CatalogReloader
	store        Pinger
	limiter      *RateLimiter
	logger       zerolog.Logger
	opts         Options
}

// New constructs a Handler.
func New(pharmacySvc PharmacyService, stockSvc StockService, availability AvailabilityService, sessions SessionParser, catalog CatalogReloader, store Pinger, logger zerolog.Logger, opts Options) *Handler {
	return &Handler{
		pharmacies:   pharmacySvc,
		stock:        stockSvc,
		availability: availability,
		sessions:     sessions,
		catalog:      catalog,
		store:        store,
		limiter:      NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:       logger.With().Str("component", "api").Logger(),
		opts:         opts,
	}
}

// Limiter returns the per-client rate limiter so its sweeper can be run.
func (h *Handler) Limiter() *RateLimiter {
	return h.limiter
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.opts.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Admin-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(public chi.Router) {
			public.Use(h.limiter.Limit)
			public.Post("/pharmacy/signup", h.signup)
			public.Post("/pharmacy/login", h.login)
			public.Get("/pharmacy/details", h.getDetails)
			public.Get("/drugs", h.findDrug)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.authMiddleware)
			pr.Get("/pharmacy/profile", h.getProfile)
			pr.Put("/pharmacy/profile", h.updateProfile)

			pr.Route("/pharmacy/stock", func(r chi.Router) {
				r.Get("/", h.getStock)
				r.Post("/", h.addStock)
				r.Patch("/", h.correctStock)
				r.Delete("/", h.removeStock)
			})
		})

		if h.opts.AdminToken != "" && h.catalog != nil {
			r.Post("/admin/catalog/reload", h.reloadCatalog)
		}
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.PingContext(ctx); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid admin token")
		return
	}
	if !h.catalog.Trigger(r.Context()) {
		respondError(w, http.StatusConflict, "catalog reload already in progress")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message": "catalog reload started"})
}
