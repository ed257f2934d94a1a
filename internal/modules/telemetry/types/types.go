package types

import "time"

// Sensor is one measurement channel of a box, taken from the box metadata.
// Registry entries are immutable for the duration of a run.
type Sensor struct {
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Unit string  `json:"unit"`
	Icon *string `json:"icon"`
}

// Measurement is one timestamped reading from one sensor. Value is nil when
// the upstream reported a literal null for the point.
type Measurement struct {
	Timestamp  time.Time `json:"timestamp"`
	BoxID      string    `json:"boxId"`
	SensorID   string    `json:"sensorId"`
	Value      *float64  `json:"value"`
	Unit       string    `json:"unit"`
	SensorType string    `json:"sensorType"`
	Icon       *string   `json:"icon"`
}

// SensorIngest is the outcome of processing one sensor during an ingest run.
type SensorIngest struct {
	SensorID string `json:"sensorId"`
	Type     string `json:"type"`
	// Attempted is the number of normalized points handed to the store;
	// Inserted excludes rows skipped by the unique-key conflict.
	Attempted int `json:"attempted"`
	Inserted  int `json:"inserted"`
	// Rejected counts points dropped during normalization.
	Rejected int `json:"rejected"`
	// Skipped is set when the sensor's fetch or insert failed and the
	// whole sensor was passed over.
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// IngestReport summarizes one ingest run across all sensors of a box.
type IngestReport struct {
	BoxID   string         `json:"boxId"`
	Sensors []SensorIngest `json:"sensors"`
}

// TotalInserted sums inserted rows over all sensors.
func (r IngestReport) TotalInserted() int {
	var n int
	for _, s := range r.Sensors {
		n += s.Inserted
	}
	return n
}
