package repository

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"senseboxd/internal/modules/telemetry/types"
)

//go:embed sql/get-measurements.sql
var getMeasurementsSQL string

//go:embed sql/get-sensor-measurements.sql
var getSensorMeasurementsSQL string

//go:embed sql/get-sensors.sql
var getSensorsSQL string

//go:embed sql/count-measurements.sql
var countMeasurementsSQL string

// insertChunkSize keeps multi-row inserts under sqlite's default variable
// limit (999 host parameters, 7 per row).
const insertChunkSize = 100

type TelemetryRepository interface {
	// InsertMeasurements writes a batch with conflict target
	// (timestamp, box_id, sensor_id) and conflict action "do nothing".
	// The whole batch commits in one transaction. Returns the number of
	// rows actually inserted, excluding conflict-skipped duplicates.
	InsertMeasurements(batch []types.Measurement) (int, error)
	// GetMeasurementsByBox returns all measurements for a box ordered by
	// (sensor_type, sensor_id, timestamp).
	GetMeasurementsByBox(boxID string) ([]types.Measurement, error)
	// GetSensorMeasurements returns at most limit measurements for one
	// sensor within [from, to], ordered by timestamp.
	GetSensorMeasurements(boxID, sensorID string, from, to time.Time, limit int) ([]types.Measurement, error)
	// GetSensors returns the distinct sensors that have stored data for a
	// box, ordered by (sensor_type, sensor_id).
	GetSensors(boxID string) ([]types.Sensor, error)
	CountByBox(boxID string) (int, error)
}

type repositoryImpl struct {
	db     *sql.DB
	driver string
}

// NewRepository wraps db. driver selects the placeholder style; supported
// values are "postgres" and "sqlite3".
func NewRepository(db *sql.DB, driver string) TelemetryRepository {
	return &repositoryImpl{db: db, driver: driver}
}

func (r *repositoryImpl) InsertMeasurements(batch []types.Measurement) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	inserted := 0
	for start := 0; start < len(batch); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		n, err := insertChunk(tx, r.driver, batch[start:end])
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback measurements insert", "error", rbErr)
			}
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func insertChunk(tx *sql.Tx, driver string, chunk []types.Measurement) (int, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO sensor_data (timestamp, box_id, sensor_id, measurement, unit, sensor_type, icon) VALUES ")

	args := make([]any, 0, len(chunk)*7)
	for i, m := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, m.Timestamp.UTC(), m.BoxID, m.SensorID, m.Value, m.Unit, m.SensorType, m.Icon)
	}
	b.WriteString(" ON CONFLICT (timestamp, box_id, sensor_id) DO NOTHING")

	res, err := tx.Exec(rebind(driver, b.String()), args...)
	if err != nil {
		return 0, fmt.Errorf("insert measurements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (r *repositoryImpl) GetMeasurementsByBox(boxID string) ([]types.Measurement, error) {
	rows, err := r.db.Query(rebind(r.driver, getMeasurementsSQL), boxID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close measurements rows", "error", err)
		}
	}()
	return scanMeasurements(rows)
}

func (r *repositoryImpl) GetSensorMeasurements(boxID, sensorID string, from, to time.Time, limit int) ([]types.Measurement, error) {
	rows, err := r.db.Query(rebind(r.driver, getSensorMeasurementsSQL),
		boxID, sensorID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close sensor measurements rows", "error", err)
		}
	}()
	return scanMeasurements(rows)
}

func (r *repositoryImpl) GetSensors(boxID string) ([]types.Sensor, error) {
	rows, err := r.db.Query(rebind(r.driver, getSensorsSQL), boxID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close sensors rows", "error", err)
		}
	}()
	var out []types.Sensor
	for rows.Next() {
		var s types.Sensor
		if err := rows.Scan(&s.ID, &s.Type, &s.Unit, &s.Icon); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) CountByBox(boxID string) (int, error) {
	var n int
	err := r.db.QueryRow(rebind(r.driver, countMeasurementsSQL), boxID).Scan(&n)
	return n, err
}

func scanMeasurements(rows *sql.Rows) ([]types.Measurement, error) {
	var out []types.Measurement
	for rows.Next() {
		var m types.Measurement
		if err := rows.Scan(&m.Timestamp, &m.BoxID, &m.SensorID, &m.Value, &m.Unit, &m.SensorType, &m.Icon); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders to $1..$N for postgres. The embedded SQL is
// written with ? so the sqlite tests run it verbatim.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
