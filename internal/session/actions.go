package session

import (
	"context"
	"fmt"

	"github.com/gioswatch/gioswatch/internal/airquality"
)

// LoadStations fetches the station list from the API. On failure the current
// station list is kept and the status line carries the cause.
func (s *Session) LoadStations(ctx context.Context) (*Job, error) {
	return s.loadStations(ctx, "load_stations", "loading stations", "loading stations", s.pipeline.LoadStations)
}

// LoadSnapshot reads the station list saved by the last successful LoadStations.
func (s *Session) LoadSnapshot(ctx context.Context) (*Job, error) {
	return s.loadStations(ctx, "load_snapshot", "loading stations from snapshot", "loading snapshot", s.pipeline.LoadStationsFromSnapshot)
}

func (s *Session) loadStations(
	ctx context.Context,
	action, status, what string,
	load func(context.Context) ([]airquality.Station, error),
) (*Job, error) {
	return s.start(ctx, action, status, func(*state) (func(context.Context) func(*state) Event, error) {
		return func(ctx context.Context) func(*state) Event {
			stations, err := load(ctx)
			return func(st *state) Event {
				if err != nil {
					s.logger.Error().Err(err).Str("action", action).Msg("cannot load stations")
					return failed(what, err)
				}
				st.stations = stations
				return Event{
					Type:     EventStations,
					Status:   fmt.Sprintf("loaded %d stations", len(stations)),
					Stations: cloneStations(airquality.FilterStations(st.stations, st.filter)),
				}
			}
		}, nil
	})
}

// Sensors fetches the sensors of a loaded station.
func (s *Session) Sensors(ctx context.Context, stationID int) (*Job, error) {
	return s.start(ctx, "sensors", fmt.Sprintf("loading sensors of station %d", stationID), func(st *state) (func(context.Context) func(*state) Event, error) {
		station, err := findStation(st, stationID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) func(*state) Event {
			updated, err := s.pipeline.Sensors(ctx, station)
			return func(st *state) Event {
				if err != nil {
					return failed("loading sensors", err)
				}
				replaceStation(st, updated)
				return Event{
					Type:    EventSensors,
					Status:  fmt.Sprintf("station %s has %d sensors", updated.Name, len(updated.Sensors)),
					Station: &updated,
				}
			}
		}, nil
	})
}

// Report builds a textual report of a loaded station.
func (s *Session) Report(ctx context.Context, stationID int, kind airquality.ReportKind) (*Job, error) {
	return s.start(ctx, "report", fmt.Sprintf("building %s report for station %d", kind, stationID), func(st *state) (func(context.Context) func(*state) Event, error) {
		station, err := findStation(st, stationID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) func(*state) Event {
			report, err := s.pipeline.Report(ctx, station, kind)
			return func(st *state) Event {
				if err != nil {
					return failed("building report", err)
				}
				replaceStation(st, report.Station)
				return Event{
					Type:   EventReport,
					Status: fmt.Sprintf("%s report ready for %s", kind, station.Name),
					Report: &report,
				}
			}
		}, nil
	})
}

// Chart builds chart series for a loaded station.
func (s *Session) Chart(ctx context.Context, stationID int) (*Job, error) {
	return s.start(ctx, "chart", fmt.Sprintf("building chart for station %d", stationID), func(st *state) (func(context.Context) func(*state) Event, error) {
		station, err := findStation(st, stationID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) func(*state) Event {
			chart, err := s.pipeline.Chart(ctx, station)
			return func(*state) Event {
				if err != nil {
					return failed("building chart", err)
				}
				status := fmt.Sprintf("chart ready for %s", station.Name)
				if len(chart.Failed) > 0 {
					status = fmt.Sprintf("%s (%d sensors failed)", status, len(chart.Failed))
				}
				return Event{Type: EventChart, Status: status, Chart: &chart}
			}
		}, nil
	})
}

// SetFilter changes the station filter and publishes the matching stations.
func (s *Session) SetFilter(ctx context.Context, filter string) error {
	return s.submit(ctx, func(_ context.Context, st *state) {
		st.filter = filter
		visible := airquality.FilterStations(st.stations, filter)
		st.status = fmt.Sprintf("%d of %d stations match", len(visible), len(st.stations))
		s.publish(Event{Type: EventStations, Status: st.status, Stations: cloneStations(visible)})
	})
}

// State returns a copy of the current session state.
func (s *Session) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	err := s.submit(ctx, func(_ context.Context, st *state) {
		reply <- State{
			Stations: cloneStations(st.stations),
			Visible:  cloneStations(airquality.FilterStations(st.stations, st.filter)),
			Filter:   st.filter,
			Status:   st.status,
			Pending:  st.pending,
		}
	})
	if err != nil {
		return State{}, err
	}
	return <-reply, nil
}

func replaceStation(st *state, updated airquality.Station) {
	for i := range st.stations {
		if st.stations[i].ID == updated.ID {
			st.stations[i] = updated.Clone()
			return
		}
	}
}

func cloneStations(stations []airquality.Station) []airquality.Station {
	if stations == nil {
		return nil
	}
	out := make([]airquality.Station, len(stations))
	for i, s := range stations {
		out[i] = s.Clone()
	}
	return out
}
