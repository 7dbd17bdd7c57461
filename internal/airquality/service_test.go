package airquality_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/airquality/gios"
	"github.com/gioswatch/gioswatch/internal/snapshot"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// mockProvider is a test provider that returns configurable data.
type mockProvider struct {
	mu sync.Mutex

	stations    []airquality.Station
	stationsErr error
	sensors     map[int][]airquality.Sensor
	sensorsErr  error
	readings    map[int][]airquality.Reading
	readingErrs map[int]error
	archive     map[int][]airquality.Reading

	sensorCalls  int
	archiveDays  int
	readingCalls int
}

func (m *mockProvider) FetchStations(context.Context) ([]airquality.Station, error) {
	return m.stations, m.stationsErr
}

func (m *mockProvider) FetchSensors(_ context.Context, stationID int) ([]airquality.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensorCalls++
	return m.sensors[stationID], m.sensorsErr
}

func (m *mockProvider) FetchReadings(_ context.Context, sensorID int) ([]airquality.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readingCalls++
	return m.readings[sensorID], m.readingErrs[sensorID]
}

func (m *mockProvider) FetchArchive(_ context.Context, sensorID, days int) ([]airquality.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveDays = days
	return m.archive[sensorID], m.readingErrs[sensorID]
}

func (m *mockProvider) ParseStations(data []byte) ([]airquality.Station, error) {
	decoded, err := gios.DecodeStations(data, zerolog.New(io.Discard))
	if err != nil {
		return nil, err
	}
	return decoded.Items, nil
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		stations: []airquality.Station{
			{ID: 114, Name: "Wrocław, ul. Bartnicza", Province: "DOLNOŚLĄSKIE"},
			{ID: 400, Name: "Kraków, Aleja Krasińskiego", Province: "MAŁOPOLSKIE"},
		},
		sensors: map[int][]airquality.Sensor{
			114: {
				{ID: 642, ParamName: "dwutlenek azotu", ParamCode: "NO2"},
				{ID: 644, ParamName: "pył zawieszony PM10", ParamCode: "PM10"},
			},
		},
		readings: map[int][]airquality.Reading{
			642: {
				{Date: "2024-05-10 12:00:00", Value: ptr(20)},
				{Date: "2024-05-10 11:00:00", Value: nil},
				{Date: "2024-05-09 12:00:00", Value: ptr(40)},
			},
			644: {
				{Date: "2024-05-10 06:00:00", Value: ptr(10)},
				{Date: "2024-04-01 06:00:00", Value: ptr(500)},
			},
		},
		readingErrs: map[int]error{},
		archive:     map[int][]airquality.Reading{},
	}
}

func newTestService(t *testing.T, provider airquality.Provider) (*airquality.Service, *snapshot.FileStore) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := snapshot.NewFileStore(snapshot.FileStoreConfig{Root: t.TempDir(), Logger: logger})
	svc := airquality.NewService(airquality.ServiceConfig{
		Provider: provider,
		Store:    store,
		Logger:   logger,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	return svc, store
}

func TestService_LoadStations(t *testing.T) {
	svc, _ := newTestService(t, newMockProvider())

	stations, err := svc.LoadStations(context.Background())
	require.NoError(t, err)
	assert.Len(t, stations, 2)
}

func TestService_LoadStations_Errors(t *testing.T) {
	timeout, _ := gios.FromSentinel("ERROR:timeout")
	provider := newMockProvider()
	provider.stationsErr = timeout
	svc, _ := newTestService(t, provider)

	_, err := svc.LoadStations(context.Background())
	assert.True(t, gios.IsKind(err, gios.KindTimeout))

	provider.stationsErr = nil
	provider.stations = nil
	_, err = svc.LoadStations(context.Background())
	assert.ErrorIs(t, err, airquality.ErrNoStations)
}

func TestService_LoadStationsFromSnapshot(t *testing.T) {
	provider := newMockProvider()
	svc, store := newTestService(t, provider)
	ctx := context.Background()

	_, err := svc.LoadStationsFromSnapshot(ctx)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	require.NoError(t, store.Save(ctx, snapshot.StationsPath, []byte(`[
		{"id": 114, "stationName": "Wrocław, ul. Bartnicza", "city": {"commune": {"provinceName": "DOLNOŚLĄSKIE"}}},
		{"id": 400, "stationName": "Kraków, Aleja Krasińskiego", "city": {"commune": {"provinceName": "MAŁOPOLSKIE"}}}
	]`)))

	// Populates the sensor index for station 114.
	_, err = svc.Sensors(ctx, airquality.Station{ID: 114, Name: "Wrocław, ul. Bartnicza"})
	require.NoError(t, err)

	stations, err := svc.LoadStationsFromSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Len(t, stations[0].Sensors, 2)
	assert.Empty(t, stations[1].Sensors)
}

func TestService_Sensors_UpdatesIndex(t *testing.T) {
	provider := newMockProvider()
	provider.sensors[400] = []airquality.Sensor{{ID: 2001, ParamName: "ozon", ParamCode: "O3"}}
	svc, store := newTestService(t, provider)
	ctx := context.Background()

	station, err := svc.Sensors(ctx, provider.stations[0])
	require.NoError(t, err)
	assert.Len(t, station.Sensors, 2)
	assert.Empty(t, provider.stations[0].Sensors)

	_, err = svc.Sensors(ctx, provider.stations[1])
	require.NoError(t, err)

	data, err := store.Load(ctx, snapshot.SensorIndexPath)
	require.NoError(t, err)
	index, err := airquality.DecodeIndex(data, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.Len(t, index, 2)
	assert.Equal(t, 114, index[0].ID)
	assert.Equal(t, 400, index[1].ID)
	assert.Equal(t, "ozon", index[1].Sensors[0].ParamName)
}

func TestService_Sensors_KeepsIndexWithDamagedEntry(t *testing.T) {
	provider := newMockProvider()
	svc, store := newTestService(t, provider)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, snapshot.SensorIndexPath, []byte(`[
		{"stationId": 1, "stationName": "A", "sensors": [{"sensorId": 10, "paramName": "benzen"}]},
		{"stationName": "missing id", "sensors": []},
		{"stationId": 2, "stationName": "B", "sensors": []}
	]`)))

	_, err := svc.Sensors(ctx, provider.stations[0])
	require.NoError(t, err)

	data, err := store.Load(ctx, snapshot.SensorIndexPath)
	require.NoError(t, err)
	index, err := airquality.DecodeIndex(data, zerolog.New(io.Discard))
	require.NoError(t, err)

	ids := make([]int, 0, len(index))
	for _, s := range index {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []int{1, 2, 114}, ids)
	assert.Equal(t, "benzen", index[0].Sensors[0].ParamName)
}

func TestService_Sensors_UnreadableIndexIsNotReplaced(t *testing.T) {
	provider := newMockProvider()
	svc, store := newTestService(t, provider)
	ctx := context.Background()

	damaged := []byte(`{"stationId": 1}`)
	require.NoError(t, store.Save(ctx, snapshot.SensorIndexPath, damaged))

	_, err := svc.Sensors(ctx, provider.stations[0])
	require.NoError(t, err)

	data, err := store.Load(ctx, snapshot.SensorIndexPath)
	require.NoError(t, err)
	assert.Equal(t, damaged, data)
}

func TestService_LoadStationsFromSnapshot_DamagedIndexEntry(t *testing.T) {
	svc, store := newTestService(t, newMockProvider())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, snapshot.StationsPath, []byte(`[
		{"id": 114, "stationName": "Wrocław, ul. Bartnicza", "city": {"commune": {"provinceName": "DOLNOŚLĄSKIE"}}}
	]`)))
	require.NoError(t, store.Save(ctx, snapshot.SensorIndexPath, []byte(`[
		{"stationId": 7, "sensors": [{"sensorId": 1}]},
		{"stationId": 114, "stationName": "Wrocław, ul. Bartnicza", "sensors": [{"sensorId": 642, "paramName": "dwutlenek azotu"}]}
	]`)))

	stations, err := svc.LoadStationsFromSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, []airquality.Sensor{{ID: 642, ParamName: "dwutlenek azotu"}}, stations[0].Sensors)
}

func TestService_Sensors_None(t *testing.T) {
	svc, _ := newTestService(t, newMockProvider())

	_, err := svc.Sensors(context.Background(), airquality.Station{ID: 999})
	assert.ErrorIs(t, err, airquality.ErrNoSensors)
}

func TestService_Sensors_MissingEnvelope(t *testing.T) {
	provider := newMockProvider()
	provider.sensorsErr = gios.ErrMissingEnvelope
	svc, _ := newTestService(t, provider)

	_, err := svc.Sensors(context.Background(), provider.stations[0])
	assert.ErrorIs(t, err, gios.ErrMissingEnvelope)
}

func TestService_Report_Current(t *testing.T) {
	provider := newMockProvider()
	provider.readingErrs[644] = &gios.FetchError{Kind: gios.KindStatus, Status: 400}
	svc, _ := newTestService(t, provider)

	report, err := svc.Report(context.Background(), provider.stations[0], airquality.ReportCurrent)
	require.NoError(t, err)

	assert.Equal(t, airquality.ReportCurrent, report.Kind)
	assert.InDelta(t, 72.0, report.Window.Hours(), 1e-9)
	require.Len(t, report.Entries, 2)

	no2 := report.Entries[0]
	assert.Equal(t, 642, no2.SensorID)
	assert.False(t, no2.NoData)
	require.Len(t, no2.Measurements, 2)
	assert.Equal(t, 20.0, no2.Measurements[0].Value)

	pm10 := report.Entries[1]
	assert.True(t, pm10.NoData)
	assert.Equal(t, "no data in API (HTTP 400)", pm10.Error)
	assert.Empty(t, pm10.Measurements)
}

func TestService_Report_OtherErrorsSurface(t *testing.T) {
	provider := newMockProvider()
	provider.readingErrs[642] = &gios.FetchError{Kind: gios.KindTimeout}
	svc, _ := newTestService(t, provider)

	report, err := svc.Report(context.Background(), provider.stations[0], airquality.ReportCurrent)
	require.NoError(t, err)
	assert.Equal(t, "timeout", report.Entries[0].Error)
	assert.False(t, report.Entries[0].NoData)
}

func TestService_Report_Historical(t *testing.T) {
	provider := newMockProvider()
	provider.archive[642] = []airquality.Reading{
		{Date: "2024-05-06 00:00:00", Value: ptr(7)},
		{Date: "2024-05-01 00:00:00", Value: ptr(8)},
	}
	svc, _ := newTestService(t, provider)

	report, err := svc.Report(context.Background(), provider.stations[0], airquality.ReportHistorical)
	require.NoError(t, err)

	assert.Equal(t, 5, provider.archiveDays)
	assert.InDelta(t, 120.0, report.Window.Hours(), 1e-9)
	require.Len(t, report.Entries[0].Measurements, 1)
	assert.Equal(t, 7.0, report.Entries[0].Measurements[0].Value)
	assert.True(t, report.Entries[1].NoData)
	assert.Empty(t, report.Entries[1].Error)
}

func TestService_Report_SensorsFail(t *testing.T) {
	provider := newMockProvider()
	provider.sensorsErr = errors.New("boom")
	svc, _ := newTestService(t, provider)

	_, err := svc.Report(context.Background(), provider.stations[0], airquality.ReportCurrent)
	assert.Error(t, err)
}

func TestService_Chart(t *testing.T) {
	provider := newMockProvider()
	svc, _ := newTestService(t, provider)

	chart, err := svc.Chart(context.Background(), provider.stations[0])
	require.NoError(t, err)

	assert.Equal(t, 114, chart.StationID)
	assert.Equal(t, airquality.AxisRange{Min: 0, Max: 72}, chart.XRange)
	require.Len(t, chart.Series, 2)

	no2 := chart.Series[0]
	assert.Equal(t, "dwutlenek azotu", no2.Label)
	assert.Equal(t, airquality.Palette[0], no2.Color)
	assert.Equal(t, []airquality.Point{{HoursAgo: 0, Value: 20}, {HoursAgo: 24, Value: 40}}, no2.Points)

	pm10 := chart.Series[1]
	assert.Equal(t, airquality.Palette[1], pm10.Color)
	assert.Equal(t, []airquality.Point{{HoursAgo: 6, Value: 10}}, pm10.Points)

	// Values 10..40 clamped to include 0, padded by 10% of 40.
	assert.InDelta(t, -4.0, chart.YRange.Min, 1e-9)
	assert.InDelta(t, 44.0, chart.YRange.Max, 1e-9)

	for _, s := range chart.Series {
		for _, p := range s.Points {
			assert.GreaterOrEqual(t, p.HoursAgo, chart.XRange.Min)
			assert.LessOrEqual(t, p.HoursAgo, chart.XRange.Max)
		}
	}
}

func TestService_Chart_UsesSensorIndex(t *testing.T) {
	provider := newMockProvider()
	svc, _ := newTestService(t, provider)
	ctx := context.Background()

	_, err := svc.Chart(ctx, provider.stations[0])
	require.NoError(t, err)
	assert.Equal(t, 1, provider.sensorCalls)

	_, err = svc.Chart(ctx, provider.stations[0])
	require.NoError(t, err)
	assert.Equal(t, 1, provider.sensorCalls)
}

func TestService_Chart_NoValues(t *testing.T) {
	provider := newMockProvider()
	provider.readings = map[int][]airquality.Reading{}
	provider.readingErrs[644] = &gios.FetchError{Kind: gios.KindConnect, Detail: "refused"}
	svc, _ := newTestService(t, provider)

	chart, err := svc.Chart(context.Background(), provider.stations[0])
	require.NoError(t, err)

	assert.Equal(t, airquality.DefaultValueRange, chart.YRange)
	assert.Empty(t, chart.Series)
	assert.Equal(t, []airquality.SensorFailure{{SensorID: 644, Error: "connect: refused"}}, chart.Failed)
}

func TestService_Chart_SkipsSensorsWithoutPoints(t *testing.T) {
	provider := newMockProvider()
	provider.readings[642] = []airquality.Reading{
		{Date: "2024-05-10 11:00:00", Value: nil},
		{Date: "2024-04-01 06:00:00", Value: ptr(300)},
	}
	svc, _ := newTestService(t, provider)

	chart, err := svc.Chart(context.Background(), provider.stations[0])
	require.NoError(t, err)

	require.Len(t, chart.Series, 1)
	assert.Equal(t, 644, chart.Series[0].SensorID)
	assert.Equal(t, airquality.Palette[1], chart.Series[0].Color)
	assert.Empty(t, chart.Failed)
}
