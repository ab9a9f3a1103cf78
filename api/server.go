/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests from the desk frontend
  5. Auth:       Bearer token -> reception.Actor on the request context

ROUTE GROUPS:
  /api/financials/*   Room ledger
  /api/bookings/*     Payment and stay-date flows
  /api/transactions/* Mirror entries, void, correct
  /api/occupants/*    Activities and arrival status
  /api/loans/*        Loans and keycard deposits
  /api/keycards/*     Physical keycard assignments
  /api/sync/*         Offline journal
  /health             Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/reception-ledger/auth"
)

// RouterOptions configures the outer surface.
type RouterOptions struct {
	AllowedOrigins []string
	// Verifier resolves bearer tokens. Nil leaves every request anonymous.
	Verifier auth.Verifier
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		if opts.Verifier != nil {
			r.Use(auth.Middleware(opts.Verifier))
		}

		r.Route("/financials/{bookingRef}", func(r chi.Router) {
			r.Get("/", h.GetFinancials)
			r.Post("/", h.SaveFinancials)
		})

		r.Route("/bookings/{bookingRef}", func(r chi.Router) {
			r.Post("/payments", h.RecordRoomPayment)
			r.Post("/city-tax", h.RecordCityTax)
			r.Put("/occupants/{occupantId}/dates", h.UpdateDates)
		})

		r.Route("/transactions/{id}", func(r chi.Router) {
			r.Get("/", h.GetTransaction)
			r.Put("/", h.PutTransaction)
			r.Post("/void", h.VoidTransaction)
			r.Post("/corrections", h.CorrectTransaction)
		})

		r.Route("/occupants/{occupantId}", func(r chi.Router) {
			r.Get("/activities", h.ListActivities)
			r.Post("/activities", h.AddActivity)
			r.Delete("/activities/{code}/latest", h.RemoveLastActivity)
			r.Get("/status", h.GetStatus)
			r.Post("/status/toggle", h.ToggleStatus)
		})

		r.Route("/loans/{bookingRef}/{occupantId}", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/keycards", h.IssueKeycards)
			r.Put("/txns/{txnId}", h.SaveLoan)
			r.Put("/txns/{txnId}/deposit-type", h.UpdateDepositType)
			r.Post("/txns/{txnId}/convert-to-cash", h.ConvertToCash)
			r.Delete("/items/{item}", h.RemoveLoanItems)
			r.Delete("/items/{item}/latest", h.RemoveLoanItem)
		})

		r.Route("/keycards", func(r chi.Router) {
			r.Post("/guest", h.AssignGuestKeycard)
			r.Post("/master", h.AssignMasterKey)
			r.Get("/{assignmentId}", h.GetKeycard)
			r.Post("/{assignmentId}/return", h.ReturnKeycard)
			r.Post("/{assignmentId}/lost", h.MarkKeycardLost)
		})

		r.Get("/connectivity", h.GetConnectivity)
		r.Put("/connectivity", h.SetConnectivity)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/flush", h.Flush)
			r.Get("/rejected", h.ListRejected)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})

	return r
}
