// Package handler provides HTTP handlers for the gioswatch API.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gioswatch/gioswatch/internal/api/models"
	"github.com/gioswatch/gioswatch/internal/api/response"
	"github.com/gioswatch/gioswatch/internal/provider/resilience"
	"github.com/gioswatch/gioswatch/internal/session"
)

// StateReader reports the session state.
type StateReader interface {
	State(ctx context.Context) (session.State, error)
}

// OpsConfig holds the dependencies of the operational endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry reports upstream provider health. Optional.
	Registry *resilience.Registry

	// Session is probed for readiness and status. Optional.
	Session StateReader

	// Now defaults to time.Now.
	Now func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once the
// session loop answers.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	sub := h.sessionStatus(r.Context())
	health := models.Health{Status: sub.Status, Time: models.Timestamp(h.cfg.Now())}
	if sub.Status == models.HealthStatusFail {
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - session and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Time:       models.Timestamp(h.cfg.Now()),
		Subsystems: []models.SubsystemStatus{h.sessionStatus(r.Context())},
		Providers:  h.providerStatuses(),
	}

	status.Status = status.Subsystems[0].Status
	for _, p := range status.Providers {
		status.Status = worst(status.Status, p.Status)
	}

	code := http.StatusOK
	if status.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, status)
}

func (h *OpsHandler) sessionStatus(ctx context.Context) models.SubsystemStatus {
	sub := models.SubsystemStatus{Name: "session", Status: models.HealthStatusOK}
	if h.cfg.Session == nil {
		return sub
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st, err := h.cfg.Session.State(ctx)
	if err != nil {
		detail := err.Error()
		sub.Status, sub.Detail = models.HealthStatusFail, &detail
		return sub
	}
	detail := fmt.Sprintf("%s; %d stations loaded, %d actions pending", st.Status, len(st.Stations), st.Pending)
	sub.Detail = &detail
	return sub
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.cfg.Registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.cfg.Registry.Snapshot()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, ph := range all {
		ps := models.ProviderStatus{
			Provider:            ph.Name,
			Status:              providerHealthStatus(ph),
			CircuitState:        ph.State.String(),
			ConsecutiveFailures: ph.Counts.ConsecutiveFailures,
			LastSuccessAt:       models.TimestampPtr(ph.LastSuccessAt),
			LastFailureAt:       models.TimestampPtr(ph.LastFailureAt),
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func providerHealthStatus(ph resilience.Health) models.HealthStatus {
	switch ph.Status() {
	case resilience.StatusDown:
		return models.HealthStatusFail
	case resilience.StatusDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
