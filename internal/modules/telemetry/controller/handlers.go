package controller

import (
	"bytes"
	"log/slog"
	"net/http"

	"senseboxd/internal/modules/telemetry/views"
	"senseboxd/internal/utils"
)

func (c *telemetryControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	rows, err := c.repository.GetMeasurementsByBox(c.boxID)
	if err != nil {
		slog.Error("dashboard: get measurements failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load measurements")
		return
	}

	data := views.DashboardData{
		BoxID:  c.boxID,
		Panels: views.BuildPanels(rows),
	}

	// Render into a buffer first so template failures become a clean 500
	// instead of a half-written page.
	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, &data); err != nil {
		slog.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("dashboard: write response failed", "error", err)
	}
}

func (c *telemetryControllerImpl) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := c.repository.GetSensors(c.boxID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, sensors)
}

func (c *telemetryControllerImpl) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing sensor id")
		return
	}

	from, to, limit, err := parseMeasurementsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	measurements, err := c.repository.GetSensorMeasurements(c.boxID, id, from, to, limit)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, measurements)
}
