package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-spyglass/internal/logger"
	"github.com/23skdu/longbow-spyglass/internal/metrics"
)

// HealthStatus is the payload of the /health and /status endpoints.
type HealthStatus struct {
	Status        string        `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	Uptime        time.Duration `json:"uptime"`
	ForwardPasses int64         `json:"forward_passes"`
	System        SystemInfo    `json:"system"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// HealthMonitor serves health and Prometheus metrics endpoints for a
// running extraction process.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server
	log       *logger.Logger
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		log:       logger.Log.Component("monitoring"),
	}
}

// Start serves until the listener fails or Stop is called.
func (hm *HealthMonitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.HandleFunc("/status", hm.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	hm.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	hm.log.Info("health monitor starting", "addr", addr)
	return hm.server.ListenAndServe()
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.status())
}

func (hm *HealthMonitor) status() HealthStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HealthStatus{
		Status:        "healthy",
		Timestamp:     time.Now(),
		Uptime:        time.Since(hm.startTime),
		ForwardPasses: metrics.TotalForwardPasses(),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			MemoryUsedMB: int(m.Alloc / 1024 / 1024),
		},
	}
}
