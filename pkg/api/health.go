package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/octantbim/octant/pkg/api/render"
	"github.com/octantbim/octant/pkg/blob"
	"github.com/octantbim/octant/pkg/store"
)

const (
	healthStatusHealthy   = "Healthy"
	healthStatusUnhealthy = "Unhealthy"
)

type healthCheckResult struct {
	Name     string            `json:"name"`
	Status   string            `json:"status"`
	Duration string            `json:"duration"`
	Error    string            `json:"error,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

type healthReport struct {
	Status        string              `json:"status"`
	TotalDuration string              `json:"totalDuration"`
	Checks        []healthCheckResult `json:"checks"`
}

// HealthRouter probes the database and the blob backend. Any failing check
// degrades the report to Unhealthy with a 503.
func HealthRouter(s store.Store, blobs blob.Store) http.Handler {
	routes := &healthRoutes{store: s, blobs: blobs}
	r := chi.NewRouter()
	r.Get("/", routes.getHealth)
	return r
}

type healthRoutes struct {
	store store.Store
	blobs blob.Store
}

func (h *healthRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	checks := []healthCheckResult{
		runCheck("database", nil, func() error { return h.store.HealthCheck(r.Context()) }),
		runCheck("storage", map[string]string{"provider": h.blobs.Provider()}, func() error {
			return h.blobs.HealthCheck(r.Context())
		}),
	}

	report := healthReport{
		Status:        healthStatusHealthy,
		TotalDuration: time.Since(started).String(),
		Checks:        checks,
	}
	status := http.StatusOK
	for _, c := range checks {
		if c.Status != healthStatusHealthy {
			report.Status = healthStatusUnhealthy
			status = http.StatusServiceUnavailable
			break
		}
	}
	render.JSON(w, status, report)
}

func runCheck(name string, data map[string]string, probe func() error) healthCheckResult {
	started := time.Now()
	result := healthCheckResult{Name: name, Status: healthStatusHealthy, Data: data}
	if err := probe(); err != nil {
		result.Status = healthStatusUnhealthy
		result.Error = err.Error()
	}
	result.Duration = time.Since(started).String()
	return result
}
