package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Snapshot returns a JSON encodable view of local job state
type Snapshot func() any

// Server exposes /metrics, /healthz, /jobs and /alarms. CORS is open so
// browser dashboards can poll it.
type Server struct {
	srv *http.Server
}

// NewServer returns nil when addr is empty, which disables the server
func NewServer(addr string, jobs, alarms Snapshot) *Server {
	if addr == "" {
		return nil
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(jobs, alarms),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func Handler(jobs, alarms Snapshot) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/jobs", snapshotHandler("jobs", jobs))
	mux.Handle("/alarms", snapshotHandler("alarms", alarms))
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(mux)
}

func snapshotHandler(name string, snap Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body any = []any{}
		if snap != nil {
			body = snap()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Warnf("encode %s snapshot err: %s", name, err)
		}
	}
}

// Start serves until Stop; returns nil when disabled
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	log.Infof("status server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
