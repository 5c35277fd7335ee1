// Package httpapi is the operator console: a small HTTP surface for starting
// and settling lots and inspecting the roster, replacing the GUI the
// original coordinator was welded to.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhemu/auction-server/internal/catalog"
	"github.com/zhemu/auction-server/internal/coordinator"
)

func SetupRoutes(coord *coordinator.Coordinator, cat *catalog.Catalog) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auction/start", StartAuction(coord))
	r.Post("/auction/complete", CompleteTransaction(coord))
	r.Get("/auction", GetLot(coord))
	r.Get("/roster", GetRoster(coord))
	r.Get("/catalog", GetCatalog(cat))
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
