package api

import (
	"github.com/gorilla/mux"

	"github.com/vocalmail/vocalmail/internal/api/recovery"
	"github.com/vocalmail/vocalmail/internal/searchindex"
	"github.com/vocalmail/vocalmail/internal/store"
)

// NewRouter creates the admin HTTP router.
func NewRouter(st store.Store, idx searchindex.Index, engine Ingester) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware)

	healthHandler := NewHealthHandler()
	ingestHandler := NewIngestHandler(engine)
	statsHandler := NewStatsHandler(st, idx)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/ingest", ingestHandler.TriggerIngest).Methods("POST")
	router.HandleFunc("/api/stats", statsHandler.GetStats).Methods("GET")

	return router
}
