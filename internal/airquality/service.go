package airquality

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/snapshot"
)

// Default window lengths in days.
const (
	DefaultChartDays      = 3
	DefaultCurrentDays    = 3
	DefaultHistoricalDays = 5
)

// Palette holds the series colors, assigned to sensors in order.
var Palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Provider defines the interface for the upstream air quality API.
type Provider interface {
	// FetchStations fetches the list of all stations.
	FetchStations(ctx context.Context) ([]Station, error)

	// FetchSensors fetches the sensors installed at a station.
	FetchSensors(ctx context.Context, stationID int) ([]Sensor, error)

	// FetchReadings fetches the current readings of a sensor.
	FetchReadings(ctx context.Context, sensorID int) ([]Reading, error)

	// FetchArchive fetches archival readings of a sensor covering days.
	FetchArchive(ctx context.Context, sensorID, days int) ([]Reading, error)

	// ParseStations decodes a saved station list payload.
	ParseStations(data []byte) ([]Station, error)
}

// statusCoder is implemented by provider errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Provider is the upstream API.
	Provider Provider

	// Store holds snapshots, including the sensor index.
	Store snapshot.Store

	// Logger for service operations.
	Logger zerolog.Logger

	// Location used to interpret measurement timestamps (default: time.Local).
	Location *time.Location

	// ChartDays is the chart window length (default: 3).
	ChartDays int

	// CurrentDays is the window of the current report (default: 3).
	CurrentDays int

	// HistoricalDays is the window of the historical report (default: 5).
	HistoricalDays int

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service turns provider payloads into station lists, reports and charts.
type Service struct {
	provider       Provider
	store          snapshot.Store
	logger         zerolog.Logger
	loc            *time.Location
	chartDays      int
	currentDays    int
	historicalDays int
	now            func() time.Time

	// indexMu serializes read-modify-write cycles of the sensor index.
	indexMu sync.Mutex
}

// NewService creates a new air quality service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		provider:       cfg.Provider,
		store:          cfg.Store,
		logger:         cfg.Logger,
		loc:            cfg.Location,
		chartDays:      cfg.ChartDays,
		currentDays:    cfg.CurrentDays,
		historicalDays: cfg.HistoricalDays,
		now:            cfg.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.chartDays <= 0 {
		s.chartDays = DefaultChartDays
	}
	if s.currentDays <= 0 {
		s.currentDays = DefaultCurrentDays
	}
	if s.historicalDays <= 0 {
		s.historicalDays = DefaultHistoricalDays
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// LoadStations fetches the station list from the API. The provider saves the
// raw payload as the stations snapshot.
func (s *Service) LoadStations(ctx context.Context) ([]Station, error) {
	stations, err := s.provider.FetchStations(ctx)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return nil, ErrNoStations
	}

	s.logger.Info().Int("stations", len(stations)).Msg("stations loaded")
	return stations, nil
}

// LoadStationsFromSnapshot decodes the saved station list and attaches the
// sensors known from the sensor index.
func (s *Service) LoadStationsFromSnapshot(ctx context.Context) ([]Station, error) {
	data, err := s.store.Load(ctx, snapshot.StationsPath)
	if err != nil {
		return nil, fmt.Errorf("load station snapshot: %w", err)
	}

	stations, err := s.provider.ParseStations(data)
	if err != nil {
		return nil, fmt.Errorf("parse station snapshot: %w", err)
	}
	if len(stations) == 0 {
		return nil, ErrNoStations
	}

	index, err := s.loadIndex(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sensor index unavailable, stations have no sensors")
		return stations, nil
	}
	for i := range stations {
		if indexed, ok := FindStation(index, stations[i].ID); ok {
			stations[i].AttachSensors(indexed.Sensors)
		}
	}

	s.logger.Info().Int("stations", len(stations)).Msg("stations loaded from snapshot")
	return stations, nil
}

// Sensors fetches the sensors of station from the API and returns a copy of
// the station with them attached. The sensor index is updated.
func (s *Service) Sensors(ctx context.Context, station Station) (Station, error) {
	sensors, err := s.provider.FetchSensors(ctx, station.ID)
	if err != nil {
		return station, err
	}
	if len(sensors) == 0 {
		return station, ErrNoSensors
	}

	updated := station.Clone()
	updated.Sensors = nil
	if dropped := updated.AttachSensors(sensors); dropped > 0 {
		s.logger.Warn().
			Int("station_id", station.ID).
			Int("dropped", dropped).
			Msg("duplicate sensor ids dropped")
	}

	if err := s.updateIndex(ctx, updated); err != nil {
		s.logger.Error().Err(err).Int("station_id", station.ID).Msg("cannot update sensor index")
	}
	return updated, nil
}

// Report lists the measurements of every sensor of station in the window of kind.
// A sensor that fails contributes an entry with Error or NoData set; the report
// itself fails only when the sensors cannot be determined.
func (s *Service) Report(ctx context.Context, station Station, kind ReportKind) (Report, error) {
	station, err := s.Sensors(ctx, station)
	if err != nil {
		return Report{}, err
	}

	days := s.currentDays
	if kind == ReportHistorical {
		days = s.historicalDays
	}
	window := LastDays(s.now().In(s.loc), days)

	report := Report{
		Kind:    kind,
		Station: station,
		Window:  window,
		Entries: make([]SensorReport, 0, len(station.Sensors)),
	}
	for _, sensor := range station.Sensors {
		entry := SensorReport{
			Sensor:    sensor,
			SensorID:  sensor.ID,
			ParamName: sensor.ParamName,
		}

		readings, err := s.readings(ctx, sensor.ID, kind, days)
		switch {
		case isNoData(err):
			entry.NoData = true
			entry.Error = "no data in API (HTTP 400)"
		case err != nil:
			entry.Error = err.Error()
		default:
			ex := Extract(readings, window, s.loc)
			entry.Measurements = ex.Measurements
			entry.NoData = len(ex.Measurements) == 0
		}

		if err != nil {
			s.logger.Warn().Err(err).
				Int("station_id", station.ID).
				Int("sensor_id", sensor.ID).
				Msg("sensor readings unavailable")
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}

func (s *Service) readings(ctx context.Context, sensorID int, kind ReportKind, days int) ([]Reading, error) {
	if kind == ReportHistorical {
		return s.provider.FetchArchive(ctx, sensorID, days)
	}
	return s.provider.FetchReadings(ctx, sensorID)
}

func isNoData(err error) bool {
	var sc statusCoder
	return errors.As(err, &sc) && sc.HTTPStatus() == http.StatusBadRequest
}

// Chart builds per-sensor series for station over the chart window. Sensors come
// from the sensor index when it lists the station, otherwise from the API.
func (s *Service) Chart(ctx context.Context, station Station) (Chart, error) {
	if indexed, ok := s.indexedStation(ctx, station.ID); ok && len(indexed.Sensors) > 0 {
		station.Sensors = indexed.Sensors
	} else {
		var err error
		station, err = s.Sensors(ctx, station)
		if err != nil {
			return Chart{}, err
		}
	}

	window := LastDays(s.now().In(s.loc), s.chartDays)
	chart := Chart{
		StationID:   station.ID,
		StationName: station.Name,
		Window:      window,
		Series:      make([]Series, 0, len(station.Sensors)),
		XRange:      AxisRange{Min: 0, Max: window.Hours()},
	}

	var values RangeTracker
	for i, sensor := range station.Sensors {
		readings, err := s.provider.FetchReadings(ctx, sensor.ID)
		if err != nil {
			s.logger.Warn().Err(err).
				Int("station_id", station.ID).
				Int("sensor_id", sensor.ID).
				Msg("skipping sensor in chart")
			chart.Failed = append(chart.Failed, SensorFailure{SensorID: sensor.ID, Error: err.Error()})
			continue
		}

		ex := Extract(readings, window, s.loc)
		points := ex.Points(window)
		if len(points) == 0 {
			// No layer or legend entry; the color stays bound to the sensor position.
			continue
		}
		values.Merge(ex.Range)
		chart.Series = append(chart.Series, Series{
			SensorID: sensor.ID,
			Label:    sensor.ParamName,
			Color:    Palette[i%len(Palette)],
			Points:   points,
		})
	}
	chart.YRange = values.AxisRange()

	s.logger.Debug().
		Int("station_id", station.ID).
		Int("series", len(chart.Series)).
		Int("points", values.Count()).
		Msg("chart built")
	return chart, nil
}

func (s *Service) loadIndex(ctx context.Context) ([]Station, error) {
	data, err := s.store.Load(ctx, snapshot.SensorIndexPath)
	if err != nil {
		return nil, err
	}
	return DecodeIndex(data, s.logger)
}

func (s *Service) indexedStation(ctx context.Context, stationID int) (Station, bool) {
	index, err := s.loadIndex(ctx)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("ignoring unreadable sensor index")
		}
		return Station{}, false
	}
	return FindStation(index, stationID)
}

func (s *Service) updateIndex(ctx context.Context, station Station) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	index, err := s.loadIndex(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		index = nil
	case err != nil:
		return fmt.Errorf("load sensor index: %w", err)
	}

	data, err := EncodeIndex(MergeIndex(index, station))
	if err != nil {
		return err
	}
	return s.store.Save(ctx, snapshot.SensorIndexPath, data)
}
