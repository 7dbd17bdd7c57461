package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gioswatch/gioswatch/internal/api/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("param"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// stationParams are the path and query parameters of the station endpoints.
type stationParams struct {
	StationID int    `param:"stationId" validate:"gt=0"`
	Kind      string `param:"kind" validate:"omitempty,oneof=current historical"`
}

// parseStationParams reads stationId from the route and kind from the query.
// On failure it returns the field errors to report.
func parseStationParams(r *http.Request) (stationParams, []models.FieldError) {
	raw := chi.URLParam(r, "stationId")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return stationParams{}, []models.FieldError{{
			Field:   "stationId",
			Message: fmt.Sprintf("%q is not an integer", raw),
			Code:    "int",
		}}
	}

	params := stationParams{
		StationID: id,
		Kind:      strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))),
	}
	if err := validate.Struct(params); err != nil {
		return stationParams{}, fieldErrors(err)
	}
	return params, nil
}

func fieldErrors(err error) []models.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []models.FieldError{{Field: "", Message: err.Error()}}
	}
	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}
