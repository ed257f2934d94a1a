package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"senseboxd/internal/modules/telemetry/types"
)

// Panel is the view model for one sensor's line chart.
type Panel struct {
	SensorID string
	Title    string
	YLabel   string
	Chart    Chart
}

// Chart holds precomputed SVG geometry for a line chart.
type Chart struct {
	Width  int
	Height int
	// Points is the SVG polyline points attribute, "x,y x,y ...".
	Points string
	XTicks []Tick
	YTicks []Tick
	// Plot area bounds, for axis lines.
	Left, Right, Top, Bottom float64
}

type Tick struct {
	Pos   float64
	Label string
}

const (
	chartWidth   = 640
	chartHeight  = 240
	marginLeft   = 56
	marginRight  = 20
	marginTop    = 16
	marginBottom = 32
)

// BuildPanels groups measurements by sensor id, drops rows without a numeric
// value, and produces one chart panel per sensor that still has data. Rows
// must arrive ordered by (sensor_type, sensor_id, timestamp); encounter
// order of sensor ids is preserved.
func BuildPanels(rows []types.Measurement) []Panel {
	var order []string
	bySensor := make(map[string][]types.Measurement)
	for _, m := range rows {
		if m.Value == nil {
			continue
		}
		if _, seen := bySensor[m.SensorID]; !seen {
			order = append(order, m.SensorID)
		}
		bySensor[m.SensorID] = append(bySensor[m.SensorID], m)
	}

	panels := make([]Panel, 0, len(order))
	for _, id := range order {
		series := bySensor[id]
		first := series[0]
		yLabel := first.SensorType
		if first.Unit != "" {
			yLabel = fmt.Sprintf("%s (%s)", first.SensorType, first.Unit)
		}
		panels = append(panels, Panel{
			SensorID: id,
			Title:    fmt.Sprintf("Type: %s (ID: %s)", first.SensorType, id),
			YLabel:   yLabel,
			Chart:    buildChart(series),
		})
	}
	return panels
}

func buildChart(series []types.Measurement) Chart {
	c := Chart{
		Width:  chartWidth,
		Height: chartHeight,
		Left:   marginLeft,
		Right:  chartWidth - marginRight,
		Top:    marginTop,
		Bottom: chartHeight - marginBottom,
	}

	tMin, tMax := series[0].Timestamp, series[0].Timestamp
	vMin, vMax := *series[0].Value, *series[0].Value
	for _, m := range series[1:] {
		if m.Timestamp.Before(tMin) {
			tMin = m.Timestamp
		}
		if m.Timestamp.After(tMax) {
			tMax = m.Timestamp
		}
		if *m.Value < vMin {
			vMin = *m.Value
		}
		if *m.Value > vMax {
			vMax = *m.Value
		}
	}
	// Degenerate ranges (single point, constant series) get padded so the
	// projection stays finite.
	if tMax.Equal(tMin) {
		tMax = tMin.Add(time.Minute)
	}
	if vMax == vMin {
		vMin, vMax = vMin-1, vMax+1
	}

	tSpan := tMax.Sub(tMin).Seconds()
	vSpan := vMax - vMin
	x := func(t time.Time) float64 {
		return c.Left + (c.Right-c.Left)*t.Sub(tMin).Seconds()/tSpan
	}
	y := func(v float64) float64 {
		return c.Bottom - (c.Bottom-c.Top)*(v-vMin)/vSpan
	}

	var b strings.Builder
	for i, m := range series {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(coord(x(m.Timestamp)))
		b.WriteByte(',')
		b.WriteString(coord(y(*m.Value)))
	}
	c.Points = b.String()

	for _, frac := range []float64{0, 0.5, 1} {
		at := tMin.Add(time.Duration(frac * float64(tMax.Sub(tMin))))
		c.XTicks = append(c.XTicks, Tick{
			Pos:   x(at),
			Label: at.Format("01-02 15:04"),
		})
		v := vMin + frac*vSpan
		c.YTicks = append(c.YTicks, Tick{
			Pos:   y(v),
			Label: formatValue(v),
		})
	}
	return c
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
