// Package metrics serves the node's Prometheus metrics and health checks
// over HTTP, analogous to a monitoring_port config entry (spec §6).
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/taraxa-go/taraxa-node/shared"
)

var log = logrus.WithField("prefix", "metrics")

// Service serves /metrics, /healthz, and /goroutinez on a single address.
type Service struct {
	server      *http.Server
	svcRegistry *shared.ServiceRegistry
	failStatus  error
}

// Handler is an additional path/handler pair to serve alongside /metrics.
type Handler struct {
	Path    string
	Handler func(http.ResponseWriter, *http.Request)
}

// New sets up a metrics service bound to addr (":8080" matches any IP).
func New(addr string, svcRegistry *shared.ServiceRegistry, additionalHandlers ...Handler) *Service {
	s := &Service{svcRegistry: svcRegistry}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	for _, h := range additionalHandlers {
		mux.HandleFunc(h.Path, h.Handler)
	}

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := s.svcRegistry.Statuses()
	hasError := false
	var buf bytes.Buffer
	for k, v := range statuses {
		status := "OK"
		if v != nil {
			hasError = true
			status = "ERROR " + v.Error()
		}
		if _, err := buf.WriteString(fmt.Sprintf("%s: %s\n", k, status)); err != nil {
			hasError = true
		}
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
		log.WithField("statuses", buf.String()).Warn("node is unhealthy")
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	if _, err := w.Write(debug.Stack()); err != nil {
		log.WithError(err).Error("failed to write goroutine stack")
	}
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		log.WithError(err).Error("failed to write pprof goroutines")
	}
}

// Start serves the metrics endpoints in the background.
func (s *Service) Start() {
	go func() {
		addrParts := strings.Split(s.server.Addr, ":")
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%s", addrParts[len(addrParts)-1]), time.Second)
		if err == nil {
			if err := conn.Close(); err != nil {
				log.WithError(err).Error("failed to close probe connection")
			}
			log.WithField("address", s.server.Addr).Warn("port already in use, cannot start metrics service")
			return
		}
		log.WithField("address", s.server.Addr).Debug("starting metrics service")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics service stopped")
			s.failStatus = err
		}
	}()
}

// Stop shuts the HTTP server down gracefully.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports the last listen/serve failure, if any.
func (s *Service) Status() error {
	return s.failStatus
}
