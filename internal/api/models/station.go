package models

import "github.com/gioswatch/gioswatch/internal/airquality"

// Station is a monitoring station as listed by the API.
type Station struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Province    string   `json:"province,omitempty"`
	DisplayName string   `json:"displayName"`
	Sensors     []Sensor `json:"sensors,omitempty"`
}

// Sensor is a measurement position of a station.
type Sensor struct {
	ID        int    `json:"id"`
	ParamName string `json:"paramName"`
	ParamCode string `json:"paramCode,omitempty"`
}

// StationList is the response of GET /v1/stations.
type StationList struct {
	Items  []Station `json:"items"`
	Total  int       `json:"total"`
	Filter string    `json:"filter,omitempty"`
}

// Measurement is one non-null reading inside a report window.
type Measurement struct {
	Time  Timestamp `json:"time"`
	Date  string    `json:"date"`
	Value float64   `json:"value"`
	Code  string    `json:"code,omitempty"`
}

// SensorReport lists the measurements of one sensor.
type SensorReport struct {
	Sensor       Sensor        `json:"sensor"`
	Measurements []Measurement `json:"measurements"`
	NoData       bool          `json:"noData,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Report is the response of GET /v1/stations/{stationId}/report.
type Report struct {
	Kind        airquality.ReportKind `json:"kind"`
	Station     Station               `json:"station"`
	WindowStart Timestamp             `json:"windowStart"`
	WindowEnd   Timestamp             `json:"windowEnd"`
	Sensors     []SensorReport        `json:"sensors"`
}

// NewStation converts a domain station.
func NewStation(s airquality.Station) Station {
	out := Station{
		ID:          s.ID,
		Name:        s.Name,
		Province:    s.Province,
		DisplayName: s.DisplayName(),
	}
	for _, sensor := range s.Sensors {
		out.Sensors = append(out.Sensors, NewSensor(sensor))
	}
	return out
}

// NewSensor converts a domain sensor.
func NewSensor(s airquality.Sensor) Sensor {
	return Sensor{ID: s.ID, ParamName: s.ParamName, ParamCode: s.ParamCode}
}

// NewStationList converts the stations matching filter.
func NewStationList(stations []airquality.Station, filter string) StationList {
	items := make([]Station, 0, len(stations))
	for _, s := range stations {
		items = append(items, NewStation(s))
	}
	return StationList{Items: items, Total: len(items), Filter: filter}
}

// NewReport converts a domain report.
func NewReport(r airquality.Report) Report {
	out := Report{
		Kind:        r.Kind,
		Station:     NewStation(r.Station),
		WindowStart: Timestamp(r.Window.Start),
		WindowEnd:   Timestamp(r.Window.End),
		Sensors:     make([]SensorReport, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		sr := SensorReport{
			Sensor:       NewSensor(e.Sensor),
			Measurements: make([]Measurement, 0, len(e.Measurements)),
			NoData:       e.NoData,
			Error:        e.Error,
		}
		for _, m := range e.Measurements {
			sr.Measurements = append(sr.Measurements, Measurement{Time: Timestamp(m.Time), Date: m.Date, Value: m.Value, Code: m.Code})
		}
		out.Sensors = append(out.Sensors, sr)
	}
	return out
}
