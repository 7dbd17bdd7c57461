// Package airquality provides the station, sensor and measurement model and the
// pipeline that turns GIOŚ payloads into reports and chart series.
package airquality

import (
	"errors"
	"time"
)

// Pipeline errors.
var (
	ErrStationNotFound = errors.New("station not found")
	ErrNoSensors       = errors.New("no sensors for station")
	ErrNoStations      = errors.New("no stations available")
)

// Station represents an air quality monitoring station.
type Station struct {
	ID       int
	Name     string
	Province string
	Sensors  []Sensor
}

// Sensor represents a single measured parameter at a station.
type Sensor struct {
	ID        int
	ParamName string
	ParamCode string
}

// DisplayName returns the label used by station lists.
func (s Station) DisplayName() string {
	if s.Province == "" {
		return s.Name
	}
	return s.Name + " (" + s.Province + ")"
}

// AttachSensors appends sensors to the station, skipping IDs the station
// already owns. It returns the number of sensors dropped as duplicates.
func (s *Station) AttachSensors(sensors []Sensor) int {
	seen := make(map[int]struct{}, len(s.Sensors)+len(sensors))
	for _, existing := range s.Sensors {
		seen[existing.ID] = struct{}{}
	}

	dropped := 0
	for _, sensor := range sensors {
		if _, ok := seen[sensor.ID]; ok {
			dropped++
			continue
		}
		seen[sensor.ID] = struct{}{}
		s.Sensors = append(s.Sensors, sensor)
	}
	return dropped
}

// Clone returns a deep copy of the station, safe to hand to another goroutine.
func (s Station) Clone() Station {
	c := s
	if s.Sensors != nil {
		c.Sensors = make([]Sensor, len(s.Sensors))
		copy(c.Sensors, s.Sensors)
	}
	return c
}

// FindStation returns the station with the given ID.
func FindStation(stations []Station, id int) (Station, bool) {
	for _, s := range stations {
		if s.ID == id {
			return s, true
		}
	}
	return Station{}, false
}

// Reading is a single entry of a sensor data payload as delivered by the API.
// Value is nil when the upstream reported null.
type Reading struct {
	Code  string
	Date  string
	Value *float64
}

// Measurement is a reading that passed extraction.
type Measurement struct {
	Time  time.Time
	Date  string
	Value float64
	Code  string
}

// Point is a chart coordinate: hours before the window end and the measured value.
type Point struct {
	HoursAgo float64 `json:"x"`
	Value    float64 `json:"y"`
}

// AxisRange is a closed interval used for chart axis scaling.
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Series is the chart data for one sensor.
type Series struct {
	SensorID int     `json:"sensorId"`
	Label    string  `json:"label"`
	Color    string  `json:"color"`
	Points   []Point `json:"points"`
}

// Chart is everything a renderer needs to plot a station.
type Chart struct {
	StationID   int       `json:"stationId"`
	StationName string    `json:"stationName"`
	Window      Window    `json:"window"`
	Series      []Series  `json:"series"`
	XRange      AxisRange `json:"xRange"`
	YRange      AxisRange `json:"yRange"`
	// Failed lists sensors whose data could not be fetched or decoded.
	Failed []SensorFailure `json:"failed,omitempty"`
}

// SensorFailure records why a sensor contributed nothing.
type SensorFailure struct {
	SensorID int    `json:"sensorId"`
	Error    string `json:"error"`
}

// ReportKind selects the data source of a textual report.
type ReportKind string

const (
	ReportCurrent    ReportKind = "current"
	ReportHistorical ReportKind = "historical"
)

// ParseReportKind converts a user-supplied value to a ReportKind.
func ParseReportKind(s string) (ReportKind, bool) {
	switch ReportKind(s) {
	case "", ReportCurrent:
		return ReportCurrent, true
	case ReportHistorical:
		return ReportHistorical, true
	default:
		return "", false
	}
}

// Report is a per-sensor listing of measurements for a station.
type Report struct {
	Kind    ReportKind     `json:"kind"`
	Station Station        `json:"-"`
	Window  Window         `json:"window"`
	Entries []SensorReport `json:"sensors"`
}

// SensorReport is one section of a Report.
type SensorReport struct {
	Sensor       Sensor        `json:"-"`
	SensorID     int           `json:"sensorId"`
	ParamName    string        `json:"paramName"`
	Measurements []Measurement `json:"measurements"`
	// NoData is set when the API had nothing for the sensor (HTTP 400 or an empty list).
	NoData bool   `json:"noData,omitempty"`
	Error  string `json:"error,omitempty"`
}
