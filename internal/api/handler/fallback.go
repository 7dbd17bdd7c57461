package handler

import (
	"net/http"

	"github.com/gioswatch/gioswatch/internal/api/middleware"
	"github.com/gioswatch/gioswatch/internal/api/models"
	"github.com/gioswatch/gioswatch/internal/api/response"
)

// NotFound answers unknown routes with a problem document.
func NotFound(w http.ResponseWriter, r *http.Request) {
	response.NotFound(w, r, "no such endpoint")
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response.Error(w, r, models.NewProblem(models.ProblemTypeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context())).
		WithDetail(r.Method+" is not supported on this endpoint"))
}
