package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/banking-ledger/internal/handlers"
	appmw "github.com/sheikh-saqib/banking-ledger/internal/middleware"
)

func NewRoutes(h *handlers.Handler, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.CreateAccount)
		r.Get("/", h.ListAccounts)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/deposit", h.Deposit)
			r.Post("/withdraw", h.Withdraw)
		})
	})

	return r
}
