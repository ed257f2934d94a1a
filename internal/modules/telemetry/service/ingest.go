// Package service implements the ingestion pipeline: fetch box metadata,
// derive an ordered sensor registry, fetch and normalize each sensor's
// measurement series, and bulk-insert with conflict skipping.
//
// Failures come in two tiers. Metadata fetch, an empty registry, and any
// database error are fatal and surface as a returned error; a failed fetch
// for one sensor or an unparseable data point only skips that sensor or
// point, is logged as a warning, and is recorded in the IngestReport.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"senseboxd/internal/opensensemap"

	"senseboxd/internal/modules/telemetry/repository"
	"senseboxd/internal/modules/telemetry/types"
)

// SenseMapAPI is the slice of the openSenseMap client the pipeline uses.
type SenseMapAPI interface {
	GetBox(ctx context.Context, boxID string) (*opensensemap.Box, error)
	GetSensorMeasurements(ctx context.Context, boxID, sensorID string) ([]opensensemap.DataPoint, error)
}

type Service struct {
	api   SenseMapAPI
	repo  repository.TelemetryRepository
	boxID string

	// registry is built once per Ingest run; immutable afterwards.
	registry []types.Sensor
}

func New(api SenseMapAPI, repo repository.TelemetryRepository, boxID string) *Service {
	return &Service{api: api, repo: repo, boxID: boxID}
}

// Registry returns the sensor registry built by the last Ingest run.
func (s *Service) Registry() []types.Sensor {
	return s.registry
}

// Ingest runs the one-shot batch load for the configured box. It returns an
// error only for fatal conditions; per-sensor failures are recorded in the
// report and logged. Batches commit per sensor, so a fatal error while
// processing sensor N leaves the rows of sensors before N in place.
func (s *Service) Ingest(ctx context.Context) (types.IngestReport, error) {
	report := types.IngestReport{BoxID: s.boxID}

	slog.Info("fetching box metadata", "box_id", s.boxID)
	box, err := s.api.GetBox(ctx, s.boxID)
	if err != nil {
		return report, fmt.Errorf("fetch box metadata: %w", err)
	}

	registry := BuildRegistry(box.Sensors)
	if len(registry) == 0 {
		return report, ErrNoSensors
	}
	s.registry = registry

	for _, sensor := range registry {
		outcome := types.SensorIngest{SensorID: sensor.ID, Type: sensor.Type}

		slog.Info("fetching sensor data", "sensor_id", sensor.ID, "type", sensor.Type)
		points, err := s.api.GetSensorMeasurements(ctx, s.boxID, sensor.ID)
		if err != nil {
			slog.Warn("failed to fetch sensor data, skipping sensor",
				"sensor_id", sensor.ID, "error", err)
			outcome.Skipped = true
			outcome.Error = err.Error()
			report.Sensors = append(report.Sensors, outcome)
			continue
		}

		batch, rejected := s.normalizeSeries(sensor, points)
		outcome.Attempted = len(batch)
		outcome.Rejected = rejected

		if len(batch) == 0 {
			slog.Info("no valid data points for sensor", "sensor_id", sensor.ID)
			report.Sensors = append(report.Sensors, outcome)
			continue
		}

		inserted, err := s.repo.InsertMeasurements(batch)
		if err != nil {
			// Database errors are fatal; batches committed for earlier
			// sensors stay durable.
			report.Sensors = append(report.Sensors, outcome)
			return report, fmt.Errorf("insert batch for sensor %s: %w", sensor.ID, err)
		}
		outcome.Inserted = inserted
		report.Sensors = append(report.Sensors, outcome)

		slog.Info("sensor batch stored",
			"sensor_id", sensor.ID,
			"attempted", outcome.Attempted,
			"inserted", inserted,
			"rejected", rejected,
		)
	}

	slog.Info("ingest complete", "box_id", s.boxID, "total_inserted", report.TotalInserted())
	return report, nil
}

// BuildRegistry turns box metadata sensors into the run's registry: entries
// without an id are dropped, missing type/unit default to empty strings, and
// the result is sorted by sensor id so processing order is stable across runs.
func BuildRegistry(sensors []opensensemap.BoxSensor) []types.Sensor {
	out := make([]types.Sensor, 0, len(sensors))
	for _, s := range sensors {
		if s.ID == "" {
			continue
		}
		out = append(out, types.Sensor{
			ID:   s.ID,
			Type: s.SensorType,
			Unit: s.Unit,
			Icon: s.Icon,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) normalizeSeries(sensor types.Sensor, points []opensensemap.DataPoint) ([]types.Measurement, int) {
	batch := make([]types.Measurement, 0, len(points))
	rejected := 0
	for _, p := range points {
		m, err := normalizePoint(s.boxID, sensor, p)
		if err != nil {
			rejected++
			slog.Warn("dropping data point",
				"sensor_id", sensor.ID,
				"created_at", p.CreatedAt,
				"error", err,
			)
			continue
		}
		batch = append(batch, m)
	}
	return batch, rejected
}

// normalizePoint validates one raw data point. Points without a timestamp or
// a value field are rejected, as are values that parse to neither a number
// nor a numeric string. A literal null value is preserved as a null
// measurement.
func normalizePoint(boxID string, sensor types.Sensor, p opensensemap.DataPoint) (types.Measurement, error) {
	if p.CreatedAt == "" {
		return types.Measurement{}, errMissingTimestamp
	}
	ts, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return types.Measurement{}, fmt.Errorf("parse createdAt %q: %w", p.CreatedAt, err)
	}

	value, err := parseValue(p.Value)
	if err != nil {
		return types.Measurement{}, err
	}

	return types.Measurement{
		Timestamp:  ts.UTC(),
		BoxID:      boxID,
		SensorID:   sensor.ID,
		Value:      value,
		Unit:       sensor.Unit,
		SensorType: sensor.Type,
		Icon:       sensor.Icon,
	}, nil
}

// parseValue interprets the raw JSON value. nil means the field was absent
// (rejected); "null" stays a null measurement; strings and numbers must
// parse as float64.
func parseValue(raw []byte) (*float64, error) {
	if raw == nil {
		return nil, errMissingValue
	}
	if string(raw) == "null" {
		return nil, nil
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("value %s is not numeric", raw)
	}
	return &v, nil
}
