package http

import (
	"net/http"

	"stableramp/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, webhooks *webhook.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/rates/quote", handler.GetQuote)

	r.Route("/onramp/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOnramp)
		r.Get("/{orderId}", handler.GetOnramp)
		r.Post("/{orderId}/cancel", handler.CancelOnramp)
	})

	r.Route("/offramp/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOfframp)
		r.Get("/{orderId}", handler.GetOfframp)
		r.Post("/{orderId}/cancel", handler.CancelOfframp)
		r.Post("/{orderId}/dispatch", handler.DispatchOfframp)
	})

	r.Route("/authz", func(r chi.Router) {
		r.Post("/challenges", handler.IssueChallenge)
		r.Post("/challenges/{challengeId}/verify", handler.VerifyChallenge)
	})

	r.Method(http.MethodPost, "/webhooks/collector", webhooks)

	return &Server{Router: r}
}
