// Package api exposes the admin HTTP surface: health, ingest trigger,
// and mailbox stats.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/vocalmail/vocalmail/internal/api/respond"
	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/searchindex"
	"github.com/vocalmail/vocalmail/internal/store"
)

// Ingester triggers one sync cycle on demand.
type Ingester interface {
	RunIngest(ctx context.Context) (*model.IngestBatch, error)
}

// HealthHandler handles health check endpoints
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// serviceIsHealthy is injected by run.go with the aggregated checker.
var serviceIsHealthy = func() bool { return false }

func BindServiceHealth(f func() bool) { serviceIsHealthy = f }

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	if serviceIsHealthy() {
		status = "healthy"
	}
	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	respond.WriteJSON(w, http.StatusOK, response)
}

// IngestHandler handles on-demand mailbox syncs.
type IngestHandler struct {
	engine Ingester
}

func NewIngestHandler(engine Ingester) *IngestHandler { return &IngestHandler{engine: engine} }

// TriggerIngest handles POST /api/ingest
func (h *IngestHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	batch, err := h.engine.RunIngest(r.Context())
	if err != nil {
		respond.WriteServiceUnavailable(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"requested":  batch.RequestedCount,
		"fetched":    len(batch.FetchedIDs),
		"new":        batch.NewCount,
		"duplicates": batch.DuplicateCount,
		"backfilled": len(batch.BackfilledIDs),
		"failed":     batch.FailedIDs,
	})
}

// StatsHandler reports mailbox copy counts.
type StatsHandler struct {
	store store.Store
	index searchindex.Index
}

func NewStatsHandler(st store.Store, idx searchindex.Index) *StatsHandler {
	return &StatsHandler{store: st, index: idx}
}

// GetStats handles GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.Messages().Count(r.Context())
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	indexed, err := h.index.Count(r.Context())
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stored_messages":  stored,
		"indexed_messages": indexed,
	})
}
