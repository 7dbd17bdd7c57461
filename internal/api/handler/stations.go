package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/api/models"
	"github.com/gioswatch/gioswatch/internal/api/response"
	"github.com/gioswatch/gioswatch/internal/session"
)

// StationSession is the part of *session.Session the station endpoints drive.
type StationSession interface {
	LoadStations(ctx context.Context) (*session.Job, error)
	Sensors(ctx context.Context, stationID int) (*session.Job, error)
	Report(ctx context.Context, stationID int, kind airquality.ReportKind) (*session.Job, error)
	Chart(ctx context.Context, stationID int) (*session.Job, error)
	State(ctx context.Context) (session.State, error)
}

var _ StationSession = (*session.Session)(nil)

// StationsHandler serves the station list and per-station actions. Every
// action runs as a session job; the handler waits for the job to finish.
type StationsHandler struct {
	session StationSession
	logger  zerolog.Logger
}

// NewStationsHandler creates a new StationsHandler.
func NewStationsHandler(s StationSession, logger zerolog.Logger) *StationsHandler {
	return &StationsHandler{session: s, logger: logger}
}

// ListStations handles GET /v1/stations. The list is fetched from the API on
// first use or when refresh=true; q filters by name or province.
func (h *StationsHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	refresh, _ := strconv.ParseBool(query.Get("refresh")) //nolint:errcheck // anything but a true value means no refresh

	stations, err := h.stations(r.Context(), refresh)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	filter := query.Get("q")
	response.JSON(w, r, http.StatusOK, models.NewStationList(airquality.FilterStations(stations, filter), filter))
}

// GetSensors handles GET /v1/stations/{stationId}/sensors.
func (h *StationsHandler) GetSensors(w http.ResponseWriter, r *http.Request) {
	params, ok := h.params(w, r)
	if !ok {
		return
	}
	ev, err := h.run(r.Context(), func(ctx context.Context) (*session.Job, error) {
		return h.session.Sensors(ctx, params.StationID)
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewStation(*ev.Station))
}

// GetReport handles GET /v1/stations/{stationId}/report?kind=current|historical.
func (h *StationsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	params, ok := h.params(w, r)
	if !ok {
		return
	}
	kind := airquality.ReportCurrent
	if params.Kind != "" {
		kind = airquality.ReportKind(params.Kind)
	}

	ev, err := h.run(r.Context(), func(ctx context.Context) (*session.Job, error) {
		return h.session.Report(ctx, params.StationID, kind)
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewReport(*ev.Report))
}

// GetChart handles GET /v1/stations/{stationId}/chart.
func (h *StationsHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	params, ok := h.params(w, r)
	if !ok {
		return
	}
	ev, err := h.run(r.Context(), func(ctx context.Context) (*session.Job, error) {
		return h.session.Chart(ctx, params.StationID)
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, ev.Chart)
}

func (h *StationsHandler) params(w http.ResponseWriter, r *http.Request) (stationParams, bool) {
	params, errs := parseStationParams(r)
	if errs != nil {
		response.BadRequest(w, r, "invalid request parameters", errs)
		return stationParams{}, false
	}
	return params, true
}

// stations returns the session's station list, loading it when empty or
// when refresh is set.
func (h *StationsHandler) stations(ctx context.Context, refresh bool) ([]airquality.Station, error) {
	if !refresh {
		st, err := h.session.State(ctx)
		if err != nil {
			return nil, err
		}
		if len(st.Stations) > 0 {
			return st.Stations, nil
		}
	}

	job, err := h.session.LoadStations(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := job.Wait(ctx); err != nil {
		return nil, err
	}
	st, err := h.session.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Stations, nil
}

// run makes sure the station list is loaded, submits the action and waits
// for its final event.
func (h *StationsHandler) run(ctx context.Context, submit func(context.Context) (*session.Job, error)) (session.Event, error) {
	if _, err := h.stations(ctx, false); err != nil {
		return session.Event{}, err
	}
	job, err := submit(ctx)
	if err != nil {
		return session.Event{}, err
	}
	return job.Wait(ctx)
}
