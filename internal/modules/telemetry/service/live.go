package service

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"senseboxd/internal/modules/telemetry/repository"
	"senseboxd/internal/modules/telemetry/types"
	"senseboxd/internal/mqtt"
	"senseboxd/internal/opensensemap"
)

// liveMessage is one measurement pushed over the MQTT feed.
type liveMessage struct {
	SensorID  string          `json:"sensorId"`
	CreatedAt string          `json:"createdAt"`
	Value     json.RawMessage `json:"value"`
}

// LiveFeed upserts live measurements into the store. It is built from the
// sensor registry of a completed ingest run; messages for unknown sensors
// are rejected. Inserts go through the same conflict-skip path as the batch
// load, so replayed messages are no-ops.
type LiveFeed struct {
	repo     repository.TelemetryRepository
	boxID    string
	registry []types.Sensor
}

func NewLiveFeed(repo repository.TelemetryRepository, boxID string, registry []types.Sensor) *LiveFeed {
	return &LiveFeed{repo: repo, boxID: boxID, registry: registry}
}

// Register attaches the live measurement handler to the subscriber.
func (l *LiveFeed) Register(sink mqtt.MessageSink) {
	sink.SetMessageHandler(l.handle)
}

func (l *LiveFeed) handle(payload []byte) error {
	var msg liveMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parse live measurement: %w", err)
	}

	sensor, ok := l.lookupSensor(msg.SensorID)
	if !ok {
		return fmt.Errorf("unknown sensor %q", msg.SensorID)
	}

	m, err := normalizePoint(l.boxID, sensor, opensensemap.DataPoint{
		CreatedAt: msg.CreatedAt,
		Value:     msg.Value,
	})
	if err != nil {
		return err
	}

	inserted, err := l.repo.InsertMeasurements([]types.Measurement{m})
	if err != nil {
		return fmt.Errorf("store live measurement: %w", err)
	}
	slog.Debug("live measurement stored",
		"sensor_id", sensor.ID,
		"inserted", inserted,
	)
	return nil
}

func (l *LiveFeed) lookupSensor(id string) (types.Sensor, bool) {
	for _, sensor := range l.registry {
		if sensor.ID == id {
			return sensor, true
		}
	}
	return types.Sensor{}, false
}
