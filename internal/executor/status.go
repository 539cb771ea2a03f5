package executor

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubently/kubently/internal/telemetry"
)

// statusResponse is the executor's local health/capabilities payload
// (spec.md §6 "Report status (capabilities advertisement: mode, feature
// flags, version)").
type statusResponse struct {
	ClusterID string `json:"cluster_id"`
	Mode      string `json:"mode"`
	Version   string `json:"version"`
}

// Version is set at build time via -ldflags; defaults to "dev".
var Version = "dev"

// newStatusServer builds the executor's local status/metrics server,
// separate from the coordinator-facing API (spec.md §4.4 "health/status
// server").
func newStatusServer(addr string, rt *Runtime) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := rt.whitelist.Snapshot()
		resp := statusResponse{
			ClusterID: rt.cfg.ClusterID,
			Mode:      string(snap.Mode),
			Version:   Version,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	reg := telemetry.NewRegistry(telemetry.All()...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
