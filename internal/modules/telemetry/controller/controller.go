package controller

import (
	"net/http"

	"senseboxd/internal/modules/telemetry/repository"
)

type telemetryControllerImpl struct {
	repository repository.TelemetryRepository
	boxID      string
}

func NewTelemetryController(repo repository.TelemetryRepository, boxID string) *telemetryControllerImpl {
	return &telemetryControllerImpl{repository: repo, boxID: boxID}
}

func (c *telemetryControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", c.handleDashboard)
	mux.HandleFunc("GET /api/sensors", c.handleSensors)
	mux.HandleFunc("GET /api/sensors/{id}/measurements", c.handleMeasurements)
}
