package obs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthResponse is the JSON body of the operational health endpoint.
type HealthResponse struct {
	Status       Status             `json:"status"`
	Timestamp    time.Time          `json:"timestamp"`
	Service      string             `json:"service"`
	Worker       string             `json:"worker,omitempty"`
	WorkerHealth []DependencyHealth `json:"workerHealth"`
	Connections  map[string]Status  `json:"connections"`
}

// StartHTTPServer exposes /metrics, /healthz (liveness), /readyz
// (readiness), and /health (the full dependency aggregate).
func StartHTTPServer(port int, service, workerRole string, monitor *Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if monitor.Liveness() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not alive"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := monitor.Readiness(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, results := monitor.Aggregate(r.Context())
		conns := make(map[string]Status, len(results))
		for _, d := range results {
			conns[d.Name] = d.Status
		}
		resp := HealthResponse{
			Status:       status,
			Timestamp:    time.Now().UTC(),
			Service:      service,
			Worker:       workerRole,
			WorkerHealth: results,
			Connections:  conns,
		}
		w.Header().Set("Content-Type", "application/json")
		if status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
