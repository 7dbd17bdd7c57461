package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/airquality/gios"
	"github.com/gioswatch/gioswatch/internal/api/middleware"
	"github.com/gioswatch/gioswatch/internal/api/response"
	"github.com/gioswatch/gioswatch/internal/session"
)

// writeError maps a session or upstream error to a problem response.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var (
		fetchErr  *gios.FetchError
		decodeErr *gios.DecodeError
	)

	switch {
	case errors.Is(err, airquality.ErrStationNotFound):
		response.NotFound(w, r, err.Error())
		return
	case errors.Is(err, airquality.ErrNoSensors):
		response.NotFound(w, r, err.Error())
		return
	case errors.As(err, &fetchErr):
		writeFetchError(w, r, fetchErr)
	case errors.Is(err, gios.ErrMissingEnvelope), errors.As(err, &decodeErr):
		response.BadGateway(w, r, "decode", err.Error())
	case errors.Is(err, airquality.ErrNoStations):
		response.BadGateway(w, r, "empty", err.Error())
	case errors.Is(err, session.ErrClosed):
		response.ServiceUnavailable(w, r, "session is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.ServiceUnavailable(w, r, "request cancelled before the action finished")
	default:
		response.InternalError(w, r, "an unexpected error occurred")
	}

	logger.Warn().Err(err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
}

func writeFetchError(w http.ResponseWriter, r *http.Request, err *gios.FetchError) {
	switch err.Kind {
	case gios.KindTimeout:
		response.GatewayTimeout(w, r, "GIOŚ API did not answer in time")
	case gios.KindUnavailable:
		response.ServiceUnavailable(w, r, "GIOŚ API is failing, requests are paused")
	case gios.KindPersist:
		response.InternalError(w, r, "cannot save snapshot")
	default:
		response.BadGateway(w, r, string(err.Kind), err.Error())
	}
}
