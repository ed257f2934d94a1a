// Package telemetry wires the measurement store, HTTP surface, and optional
// live feed into the application.
package telemetry

import (
	"database/sql"
	"net/http"

	"senseboxd/internal/modules/telemetry/controller"
	"senseboxd/internal/modules/telemetry/repository"
	"senseboxd/internal/modules/telemetry/service"
	"senseboxd/internal/modules/telemetry/types"
	"senseboxd/internal/mqtt"
	"senseboxd/internal/opensensemap"
)

// NewIngestService builds the ingest pipeline over db.
func NewIngestService(db *sql.DB, driver string, api service.SenseMapAPI, boxID string) *service.Service {
	repo := repository.NewRepository(db, driver)
	return service.New(api, repo, boxID)
}

var _ service.SenseMapAPI = (*opensensemap.Client)(nil)

// RegisterFeature mounts the dashboard and JSON API on mux and, when a
// subscriber is provided, attaches the live measurement handler backed by
// the serving-phase connection.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, driver, boxID string, registry []types.Sensor, sub *mqtt.Subscriber) {
	repo := repository.NewRepository(db, driver)
	telemetryController := controller.NewTelemetryController(repo, boxID)
	telemetryController.RegisterRoutes(mux)

	if sub != nil {
		service.NewLiveFeed(repo, boxID, registry).Register(sub)
	}
}
