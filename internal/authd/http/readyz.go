package http

import (
	"net/http"
	"time"

	"github.com/openvitals/vitalgate/internal/authd/store"
	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/httpx"
)

// ReadyzHandler is the readiness probe. It verifies the database is
// reachable before declaring the service ready.
func ReadyzHandler(startTime time.Time, version string, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &api.HealthChecks{
			Database: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := api.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
