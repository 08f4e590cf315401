package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/raffle-session/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware моста сессий.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/session", func(r chi.Router) {
		r.Post("/connect", h.Connect)

		r.Group(func(r chi.Router) {
			r.Use(h.wallets.Middleware)

			r.Post("/disconnect", h.Disconnect)

			r.Get("/raffle", h.GetRaffle)
			r.Get("/state", h.GetState)

			r.Get("/payments", h.GetPaymentOptions)
			r.Post("/payments", h.SelectPayment)

			r.Post("/tickets", h.SetTickets)
			r.Post("/tickets/increment", h.IncrementTickets)
			r.Post("/tickets/decrement", h.DecrementTickets)
			r.Post("/tickets/max", h.MaxTickets)

			r.Post("/purchase", h.Purchase)
			r.Post("/claims", h.Claim)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
