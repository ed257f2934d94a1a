package opensensemap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/boxes/abc123" {
			t.Errorf("path = %q, want /boxes/abc123", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q, want json", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"_id": "abc123",
			"name": "Balcony",
			"sensors": [
				{"_id": "s1", "sensorType": "HDC1080", "unit": "°C", "icon": "osem-thermometer"},
				{"_id": "s2", "unit": "hPa"}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	box, err := c.GetBox(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetBox: %v", err)
	}
	if box.ID != "abc123" || box.Name != "Balcony" {
		t.Errorf("box = %+v, want id abc123 name Balcony", box)
	}
	if len(box.Sensors) != 2 {
		t.Fatalf("sensors = %d, want 2", len(box.Sensors))
	}
	if box.Sensors[0].Icon == nil || *box.Sensors[0].Icon != "osem-thermometer" {
		t.Errorf("sensor 0 icon = %v, want osem-thermometer", box.Sensors[0].Icon)
	}
	// sensorType and icon absent on the second sensor
	if box.Sensors[1].SensorType != "" {
		t.Errorf("sensor 1 type = %q, want empty", box.Sensors[1].SensorType)
	}
	if box.Sensors[1].Icon != nil {
		t.Errorf("sensor 1 icon = %v, want nil", box.Sensors[1].Icon)
	}
}

func TestGetBox_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetBox(context.Background(), "missing")
	if err == nil {
		t.Fatal("GetBox = nil error, want StatusError")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", se.Code)
	}
}

func TestGetSensorMeasurements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/boxes/abc123/data/s1" {
			t.Errorf("path = %q, want /boxes/abc123/data/s1", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"createdAt": "2024-05-01T10:00:00.000Z", "value": "21.4"},
			{"createdAt": "2024-05-01T10:05:00.000Z", "value": null},
			{"value": "9.9"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	points, err := c.GetSensorMeasurements(context.Background(), "abc123", "s1")
	if err != nil {
		t.Fatalf("GetSensorMeasurements: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	if string(points[0].Value) != `"21.4"` {
		t.Errorf("point 0 value = %s, want quoted 21.4", points[0].Value)
	}
	if string(points[1].Value) != "null" {
		t.Errorf("point 1 value = %s, want literal null", points[1].Value)
	}
	// Missing value field stays nil, distinct from literal null.
	if points[2].CreatedAt != "" || points[2].Value == nil {
		t.Errorf("point 2 = %+v, want empty createdAt and non-nil value", points[2])
	}
}

func TestGetSensorMeasurements_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetSensorMeasurements(context.Background(), "abc123", "s1")
	if err == nil {
		t.Fatal("GetSensorMeasurements = nil error, want error")
	}
}
