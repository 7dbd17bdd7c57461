package gios

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/airquality"
)

// Envelope keys wrapping the lists in sensor and data payloads.
const (
	SensorsEnvelope      = "Lista stanowisk pomiarowych dla podanej stacji"
	CurrentDataEnvelope  = "Lista danych pomiarowych"
	ArchivalDataEnvelope = "Lista archiwalnych wyników pomiarów"
)

// API payload schemas. Pointer fields distinguish a missing key from a zero value.

type stationSchema struct {
	ID          *int        `json:"id" validate:"required"`
	StationName *string     `json:"stationName" validate:"required"`
	City        *citySchema `json:"city" validate:"required"`
}

type citySchema struct {
	Commune *communeSchema `json:"commune" validate:"required"`
}

type communeSchema struct {
	ProvinceName *string `json:"provinceName" validate:"required"`
}

type sensorSchema struct {
	ID        *int    `json:"Identyfikator stanowiska" validate:"required"`
	ParamName *string `json:"Wskaźnik" validate:"required"`
	ParamCode *string `json:"Wskaźnik - kod"`
}

type readingSchema struct {
	Code  *string  `json:"Kod stanowiska"`
	Date  *string  `json:"Data" validate:"required"`
	Value *float64 `json:"Wartość"`
}

var schemaValidator = newSchemaValidator()

// newSchemaValidator reports field paths using JSON key names.
func newSchemaValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decoded holds the elements that decoded cleanly and one DecodeError per skipped element.
type Decoded[T any] struct {
	Items    []T
	Failures []*DecodeError
}

// DecodeStations decodes a station list payload. Malformed elements are logged and skipped.
func DecodeStations(data []byte, logger zerolog.Logger) (Decoded[airquality.Station], error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return Decoded[airquality.Station]{}, &DecodeError{Reason: "station list is not a JSON array: " + err.Error()}
	}

	return decodeElements(elements, "", "station", logger, func(s *stationSchema) airquality.Station {
		return airquality.Station{
			ID:       *s.ID,
			Name:     *s.StationName,
			Province: *s.City.Commune.ProvinceName,
		}
	}), nil
}

// DecodeSensors decodes a sensor list payload. A payload without the sensors
// envelope fails with ErrMissingEnvelope; malformed sensors are logged and skipped.
func DecodeSensors(data []byte, logger zerolog.Logger) (Decoded[airquality.Sensor], error) {
	elements, err := envelope(data, SensorsEnvelope)
	if err != nil {
		return Decoded[airquality.Sensor]{}, err
	}

	return decodeElements(elements, SensorsEnvelope, "sensor", logger, func(s *sensorSchema) airquality.Sensor {
		sensor := airquality.Sensor{ID: *s.ID, ParamName: *s.ParamName}
		if s.ParamCode != nil {
			sensor.ParamCode = *s.ParamCode
		}
		return sensor
	}), nil
}

// DecodeReadings decodes a data payload whose list sits under envelopeKey
// (CurrentDataEnvelope or ArchivalDataEnvelope). Null values are kept as nil.
func DecodeReadings(data []byte, envelopeKey string, logger zerolog.Logger) (Decoded[airquality.Reading], error) {
	elements, err := envelope(data, envelopeKey)
	if err != nil {
		return Decoded[airquality.Reading]{}, err
	}

	return decodeElements(elements, envelopeKey, "reading", logger, func(r *readingSchema) airquality.Reading {
		reading := airquality.Reading{Date: *r.Date, Value: r.Value}
		if r.Code != nil {
			reading.Code = *r.Code
		}
		return reading
	}), nil
}

func envelope(data []byte, key string) ([]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Reason: "payload is not a JSON object: " + err.Error()}
	}

	raw, ok := doc[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingEnvelope, key)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &DecodeError{Path: key, Reason: "expected array"}
	}
	return elements, nil
}

func decodeElements[S any, T any](
	elements []json.RawMessage,
	prefix, what string,
	logger zerolog.Logger,
	convert func(*S) T,
) Decoded[T] {
	out := Decoded[T]{Items: make([]T, 0, len(elements))}
	for i, raw := range elements {
		var schema S
		if derr := decodeElement(raw, &schema, fmt.Sprintf("%s[%d]", prefix, i)); derr != nil {
			logger.Warn().
				Str("path", derr.Path).
				Str("reason", derr.Reason).
				Msgf("skipping malformed %s", what)
			out.Failures = append(out.Failures, derr)
			continue
		}
		out.Items = append(out.Items, convert(&schema))
	}
	return out
}

func decodeElement(raw json.RawMessage, dst any, path string) *DecodeError {
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			p := path
			if typeErr.Field != "" {
				p += "." + typeErr.Field
			}
			return &DecodeError{Path: p, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
		}
		return &DecodeError{Path: path, Reason: err.Error()}
	}

	if err := schemaValidator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			ns := fieldErrs[0].Namespace()
			if _, rest, ok := strings.Cut(ns, "."); ok {
				ns = rest
			}
			return &DecodeError{Path: path + "." + ns, Reason: fieldErrs[0].Tag()}
		}
		return &DecodeError{Path: path, Reason: err.Error()}
	}
	return nil
}
