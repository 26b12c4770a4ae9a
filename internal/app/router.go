package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/qwerty-development/makielli-internal-sub000/internal/clients"
	"github.com/qwerty-development/makielli-internal-sub000/internal/inventory"
	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
	"github.com/qwerty-development/makielli-internal-sub000/internal/orders"
	"github.com/qwerty-development/makielli-internal-sub000/internal/receipts"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	InventoryHandler *inventory.Handler
	OrdersHandler    *orders.Handler
	InvoicesHandler  *invoices.Handler
	ReceiptsHandler  *receipts.Handler
	ClientsHandler   *clients.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		params.InventoryHandler.MountRoutes(api)
		params.OrdersHandler.MountRoutes(api)
		params.InvoicesHandler.MountRoutes(api)
		params.ReceiptsHandler.MountRoutes(api)
		params.ClientsHandler.MountRoutes(api)
	})

	return r
}
