package airquality

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// The sensor index is the locally persisted list of stations with the sensors
// discovered for them. It is written by report and chart actions and read back
// so charts can be drawn without asking the API for the sensor list again.

type indexStation struct {
	StationID   *int          `json:"stationId" validate:"required"`
	StationName string        `json:"stationName"`
	Province    string        `json:"province,omitempty"`
	Sensors     []indexSensor `json:"sensors" validate:"dive"`
}

type indexSensor struct {
	SensorID  *int    `json:"sensorId" validate:"required"`
	ParamName *string `json:"paramName" validate:"required"`
	ParamCode string  `json:"paramCode,omitempty"`
}

var indexValidator = validator.New()

// EncodeIndex serializes stations and their sensors as the sensor index document.
func EncodeIndex(stations []Station) ([]byte, error) {
	doc := make([]indexStation, 0, len(stations))
	for _, s := range stations {
		id := s.ID
		entry := indexStation{
			StationID:   &id,
			StationName: s.Name,
			Province:    s.Province,
			Sensors:     make([]indexSensor, 0, len(s.Sensors)),
		}
		for _, sensor := range s.Sensors {
			sensorID := sensor.ID
			paramName := sensor.ParamName
			entry.Sensors = append(entry.Sensors, indexSensor{
				SensorID:  &sensorID,
				ParamName: &paramName,
				ParamCode: sensor.ParamCode,
			})
		}
		doc = append(doc, entry)
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode sensor index: %w", err)
	}
	return data, nil
}

// DecodeIndex parses a sensor index document. Entries that fail to decode or
// validate are logged and skipped so one damaged entry does not cost the rest
// of the index. Only a document that is not a JSON array is an error.
func DecodeIndex(data []byte, logger zerolog.Logger) ([]Station, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode sensor index: %w", err)
	}

	stations := make([]Station, 0, len(raw))
	for i, elem := range raw {
		var entry indexStation
		err := json.Unmarshal(elem, &entry)
		if err == nil {
			err = indexValidator.Struct(&entry)
		}
		if err != nil {
			logger.Warn().
				Str("path", fmt.Sprintf("[%d]", i)).
				Err(err).
				Msg("skipping malformed sensor index entry")
			continue
		}

		station := Station{
			ID:       *entry.StationID,
			Name:     entry.StationName,
			Province: entry.Province,
		}
		sensors := make([]Sensor, 0, len(entry.Sensors))
		for _, s := range entry.Sensors {
			sensors = append(sensors, Sensor{
				ID:        *s.SensorID,
				ParamName: *s.ParamName,
				ParamCode: s.ParamCode,
			})
		}
		station.AttachSensors(sensors)
		stations = append(stations, station)
	}
	return stations, nil
}

// MergeIndex replaces (or appends) the entry for updated, keeping the order of
// the existing index.
func MergeIndex(index []Station, updated Station) []Station {
	merged := make([]Station, 0, len(index)+1)
	replaced := false
	for _, s := range index {
		if s.ID == updated.ID {
			merged = append(merged, updated.Clone())
			replaced = true
			continue
		}
		merged = append(merged, s)
	}
	if !replaced {
		merged = append(merged, updated.Clone())
	}
	return merged
}
